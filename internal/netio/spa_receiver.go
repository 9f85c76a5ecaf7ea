package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nullbind/spafwd/internal/spapacket"
	"github.com/nullbind/spafwd/internal/spapipe"
)

// SPAMaxDatagram bounds a single read; larger datagrams are simply
// truncated by net.UDPConn.ReadFromUDPAddrPort, which the length gate in
// C1 then rejects as malformed rather than accepted partially.
const SPAMaxDatagram = spapacket.MaxSPALen + 256

// ErrNoSPAListeners indicates Run was called without any bound sockets.
var ErrNoSPAListeners = errors.New("spa receiver run: no listeners provided")

// ErrPacketLimitReached is returned by Run once the configured packet
// limit has been hit, so the caller's errgroup treats it as a shutdown
// trigger rather than a silent stop (udp_server.c's packet_ctr_limit).
var ErrPacketLimitReached = errors.New("spa receiver: packet limit reached")

// MaintenanceFunc runs the daemon's periodic upkeep between receives
// (cmd/spafwd supplies one that marks stanzas past their expire time as
// expired). Grounded in original_source/server/
// udp_server.c's check_firewall_rules/cmd_cycle_close call between
// recvfrom attempts, gated by a ticker instead of a counted-packet
// threshold.
type MaintenanceFunc func(ctx context.Context)

// SPAReceiver reads raw SPA datagrams from one or more bound UDP sockets
// and hands each one to a spapipe.Orchestrator, one packet at a time per
// socket (§5: single-threaded per-packet pipeline). It does not itself
// understand the wire format; C1 through C7 are entirely the
// orchestrator's concern.
type SPAReceiver struct {
	orch        *spapipe.Orchestrator
	logger      *slog.Logger
	maintain    MaintenanceFunc
	interval    time.Duration
	testMode    bool
	packetLimit uint64
	count       atomic.Uint64
}

// NewSPAReceiver builds a receiver bound to one orchestrator. interval is
// the maintenance-sweep period; zero disables the ticker entirely (the
// caller's MaintenanceFunc is then never invoked). testMode mirrors
// opts->test: it also suppresses the maintenance sweep, not just
// per-packet dispatch, per incoming_spa.c's test short-circuit.
// packetLimit bounds the total number of packets processed before Run
// returns ErrPacketLimitReached; zero means unlimited.
func NewSPAReceiver(orch *spapipe.Orchestrator, interval time.Duration, maintain MaintenanceFunc, testMode bool, packetLimit uint64, logger *slog.Logger) *SPAReceiver {
	return &SPAReceiver{
		orch:        orch,
		logger:      logger.With(slog.String("component", "netio.spa_receiver")),
		maintain:    maintain,
		interval:    interval,
		testMode:    testMode,
		packetLimit: packetLimit,
	}
}

// Run binds and reads from every addr concurrently until ctx is
// cancelled, and — if configured — runs the maintenance sweep on its own
// ticker in parallel. It blocks until every goroutine returns.
func (r *SPAReceiver) Run(ctx context.Context, addrs ...netip.AddrPort) error {
	if len(addrs) == 0 {
		return ErrNoSPAListeners
	}

	conns := make([]*net.UDPConn, 0, len(addrs))
	for _, a := range addrs {
		conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(a))
		if err != nil {
			for _, c := range conns {
				_ = c.Close()
			}
			return fmt.Errorf("listen udp %s: %w", a, err)
		}
		conns = append(conns, conn)
	}
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		errOnce  sync.Once
		firstErr error
	)
	recordErr := func(err error) {
		if err == nil {
			return
		}
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	done := make(chan struct{}, len(conns)+1)

	for _, conn := range conns {
		go func(c *net.UDPConn) {
			recordErr(r.recvLoop(runCtx, c))
			done <- struct{}{}
		}(conn)
	}

	if r.interval > 0 && r.maintain != nil {
		go func() {
			r.maintenanceLoop(runCtx)
			done <- struct{}{}
		}()
	} else {
		done <- struct{}{}
	}

	for range len(conns) + 1 {
		<-done
	}

	return firstErr
}

// recvLoop reads datagrams from one socket until ctx is cancelled.
// Read errors are logged and the loop continues — a malformed or
// momentarily unreadable packet never stops the receiver (mirrors
// udp_server.c tolerating transient recvfrom errors and retrying).
func (r *SPAReceiver) recvLoop(ctx context.Context, conn *net.UDPConn) error {
	buf := make([]byte, SPAMaxDatagram)

	for {
		if ctx.Err() != nil {
			return nil
		}

		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, srcAddr, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			r.logger.WarnContext(ctx, "recv error", slog.String("error", err.Error()))
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		dstAddr := localAddrPort(conn)

		pkt := spapacket.Packet{
			Payload: payload,
			SrcAddr: srcAddr,
			DstAddr: dstAddr,
		}

		if err := r.orch.Process(ctx, pkt); err != nil {
			r.logger.DebugContext(ctx, "packet dropped",
				slog.String("src", srcAddr.String()),
				slog.String("error", err.Error()),
			)
		}

		if r.packetLimit > 0 && r.count.Add(1) >= r.packetLimit {
			r.logger.InfoContext(ctx, "packet limit reached, stopping receiver",
				slog.Uint64("limit", r.packetLimit))
			return ErrPacketLimitReached
		}
	}
}

// maintenanceLoop runs the configured MaintenanceFunc on a fixed ticker
// until ctx is cancelled.
func (r *SPAReceiver) maintenanceLoop(ctx context.Context) {
	if r.testMode {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.maintain(ctx)
		}
	}
}

func localAddrPort(conn *net.UDPConn) netip.AddrPort {
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.AddrPort{}
	}
	ap, _ := netip.AddrFromSlice(addr.IP)
	return netip.AddrPortFrom(ap.Unmap(), uint16(addr.Port))
}

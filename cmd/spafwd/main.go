// spafwd -- Single Packet Authorization firewall daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/nullbind/spafwd/internal/config"
	"github.com/nullbind/spafwd/internal/dispatcher"
	"github.com/nullbind/spafwd/internal/firewall"
	spametrics "github.com/nullbind/spafwd/internal/metrics"
	"github.com/nullbind/spafwd/internal/netio"
	"github.com/nullbind/spafwd/internal/policy"
	"github.com/nullbind/spafwd/internal/replaycache"
	"github.com/nullbind/spafwd/internal/server"
	"github.com/nullbind/spafwd/internal/spapacket"
	"github.com/nullbind/spafwd/internal/spapipe"
	appversion "github.com/nullbind/spafwd/internal/version"
	"github.com/nullbind/spafwd/internal/validator"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// flightRecorderMinAge is the minimum window age for the flight recorder.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

// spaFwServiceName is the fully-qualified gRPC service name reported by
// the health checker; it must track the package/service names declared
// in proto/spafw/v1/spafw.proto.
const spaFwServiceName = "spafw.v1.SpaFwService"

var errUnknownFirewallBackend = errors.New("unknown firewall backend")

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("spafwd starting",
		slog.String("version", appversion.Version),
		slog.String("grpc_addr", cfg.GRPC.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.String("firewall_backend", cfg.Firewall.Backend),
	)

	fr := startFlightRecorder(logger)

	reg := prometheus.NewRegistry()

	actuator, err := newActuator(cfg.Firewall, logger)
	if err != nil {
		logger.Error("failed to build firewall actuator", slog.String("error", err.Error()))
		return 1
	}

	replay, err := newReplayCache(cfg.SPA, logger)
	if err != nil {
		logger.Error("failed to build replay cache", slog.String("error", err.Error()))
		return 1
	}

	pset, services, err := policy.Load(cfg.Policy)
	if err != nil {
		logger.Error("failed to load access policy", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("access policy loaded", slog.Int("stanzas", len(pset.All())), slog.String("path", cfg.Policy))

	collector := spametrics.NewCollector(reg)

	dispatch := dispatcher.New(dispatcher.Config{
		SudoExe:       cfg.SPA.SudoExe,
		SystemDefault: cfg.SPA.SystemDefaultTimeout,
		DryRun:        cfg.SPA.TestMode,
	}, actuator, logger)
	dispatch.WithMetrics(collector)

	feed := spapipe.NewVerdictFeed()

	orch := spapipe.New(spapipe.Config{
		Packet: spapacket.Config{
			EnableSPAOverHTTP: cfg.SPA.EnableSPAOverHTTP,
			IdentityEnabled:   !cfg.SPA.DisableIdentityMode,
		},
		Validator: validator.Config{
			AllowLegacyAccess: cfg.SPA.AllowLegacyAccess,
			EnablePacketAging: cfg.SPA.EnablePacketAging,
			MaxPacketAge:      cfg.SPA.MaxPacketAge,
			IdentityMode:      !cfg.SPA.DisableIdentityMode,
			FirewallCaps:      actuator.Capabilities(),
		},
		TestMode: cfg.SPA.TestMode,
	}, replay, pset, services, dispatch, logger)
	orch.WithFeed(feed)
	orch.WithMetrics(collector)

	if err := runServers(cfg, pset, replay, feed, orch, reg, logger, *configPath, logLevel, fr); err != nil {
		logger.Error("spafwd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("spafwd stopped")
	return 0
}

// runServers starts the UDP ingestion receiver and the admin control-plane
// and metrics HTTP servers under a shared errgroup/signal-aware context,
// mirroring the daemon shape the teacher uses for its own BFD receiver
// and servers.
func runServers(
	cfg *config.Config,
	pset *policy.Set,
	replay *replaycache.Cache,
	feed *spapipe.VerdictFeed,
	orch *spapipe.Orchestrator,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	addrs, err := parseListenAddrs(cfg.SPA.ListenAddrs)
	if err != nil {
		return fmt.Errorf("parse spa.listen_addrs: %w", err)
	}

	recv := netio.NewSPAReceiver(orch, cfg.SPA.MaintenanceInterval, maintenanceSweep(pset, logger), cfg.SPA.TestMode, cfg.SPA.PacketLimit, logger)
	g.Go(func() error {
		err := recv.Run(gCtx, addrs...)
		if errors.Is(err, netio.ErrPacketLimitReached) {
			logger.Info("packet limit reached, initiating graceful shutdown")
			stop()
			return nil
		}
		return err
	})

	reload := server.PolicyReloader(func(_ context.Context) (int, error) {
		_, count, err := policy.LoadInto(cfg.Policy, pset)
		if err != nil {
			return 0, fmt.Errorf("reload policy from %s: %w", cfg.Policy, err)
		}
		return count, nil
	})

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	grpcSrv := newGRPCServer(cfg.GRPC, pset, replay, feed, reload, logger)

	startHTTPServers(gCtx, g, cfg, grpcSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, pset, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, fr, grpcSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// maintenanceSweep builds the periodic upkeep hook the receiver's ticker
// drives: marking stanzas whose AccessExpireTime has passed as expired.
// Firewall rule expiry is each actuator's own concern (§1 Non-goals);
// this sweep only retires policy entries, the one piece of state the
// core daemon is responsible for aging out on its own.
func maintenanceSweep(pset *policy.Set, logger *slog.Logger) netio.MaintenanceFunc {
	return func(ctx context.Context) {
		now := time.Now()
		for _, st := range pset.All() {
			if st.Expired() {
				continue
			}
			if !st.AccessExpireTime.IsZero() && now.After(st.AccessExpireTime) {
				st.MarkExpired()
				logger.InfoContext(ctx, "stanza expired by schedule", slog.String("stanza", st.Name))
			}
		}
	}
}

func parseListenAddrs(raw []string) ([]netip.AddrPort, error) {
	out := make([]netip.AddrPort, 0, len(raw))
	for _, a := range raw {
		ap, err := netip.ParseAddrPort(a)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", a, err)
		}
		out = append(out, ap)
	}
	return out, nil
}

// newActuator selects and constructs the firewall backend named by
// cfg.Backend. Exactly one of the backend-specific sub-configs is
// consulted.
func newActuator(cfg config.FirewallConfig, logger *slog.Logger) (firewall.Actuator, error) {
	switch cfg.Backend {
	case "iptables":
		return firewall.NewIptablesActuator(firewall.IptablesConfig{
			Exe:               cfg.Iptables.Exe,
			Chain:             cfg.Iptables.Chain,
			Interface:         cfg.Iptables.Interface,
			NATEnabled:        cfg.LocalNATEnabled,
			ForwardingEnabled: cfg.ForwardingEnabled,
		}, logger), nil
	case "ovsdb":
		return firewall.NewOVSDBActuator(context.Background(), firewall.OVSDBConfig{
			Endpoint:    cfg.OVSDB.Endpoint,
			LogicalPort: cfg.OVSDB.LogicalPort,
			Priority:    cfg.OVSDB.Priority,
		}, logger)
	case "flowspec":
		return firewall.NewFlowspecActuator(firewall.FlowspecConfig{
			Addr: cfg.Flowspec.GoBGPAddr,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownFirewallBackend, cfg.Backend)
	}
}

// newReplayCache builds the replay cache. With persistence disabled the
// Cache is built with enabled=false and never touches its Store, so a
// nil store is safe (Screen/Commit short-circuit before dereferencing
// it) — the daemon still runs the full validation chain, it simply
// never suppresses a repeat ciphertext.
func newReplayCache(cfg config.SPAConfig, logger *slog.Logger) (*replaycache.Cache, error) {
	if !cfg.EnableDigestPersistence {
		logger.Info("digest persistence disabled, replay screening is a no-op")
		return replaycache.New(nil, false), nil
	}

	store, err := replaycache.NewFileStore(cfg.DigestCacheDir)
	if err != nil {
		return nil, fmt.Errorf("open digest cache dir %s: %w", cfg.DigestCacheDir, err)
	}
	return replaycache.New(store, true), nil
}

// -------------------------------------------------------------------------
// HTTP / gRPC servers
// -------------------------------------------------------------------------

func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	grpcSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("admin control-plane server listening", slog.String("addr", cfg.GRPC.Addr))
		return listenAndServe(ctx, &lc, grpcSrv, cfg.GRPC.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	pset *policy.Set,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, pset, logger)
		return nil
	})
}

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newGRPCServer builds the admin control-plane HTTP server: the
// SpaFwService handler plus standard gRPC health checking, served over
// h2c so plaintext clients (e.g. spafwctl) can speak HTTP/2 without TLS.
func newGRPCServer(
	cfg config.GRPCConfig,
	pset *policy.Set,
	replay *replaycache.Cache,
	feed *spapipe.VerdictFeed,
	reload server.PolicyReloader,
	logger *slog.Logger,
) *http.Server {
	mux := http.NewServeMux()

	path, handler := server.New(pset, replay, feed, reload, logger,
		server.LoggingInterceptorOption(logger),
		server.RecoveryInterceptorOption(logger),
	)
	mux.Handle(path, handler)

	checker := grpchealth.NewStaticChecker(
		grpchealth.HealthV1ServiceName,
		spaFwServiceName,
	)
	mux.Handle(grpchealth.NewHandler(checker))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured interval, the same pattern as the teacher's BFD daemon.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level + policy reload
// -------------------------------------------------------------------------

func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	pset *policy.Set,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration and policy")
			reloadConfig(ctx, configPath, logLevel, pset, logger)
		}
	}
}

// reloadConfig loads a fresh configuration and policy file, applying the
// new log level and swapping the live policy Set in place. Errors are
// logged but never stop the daemon — the previous configuration and
// policy remain in effect.
func reloadConfig(
	ctx context.Context,
	configPath string,
	logLevel *slog.LevelVar,
	pset *policy.Set,
	logger *slog.Logger,
) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings", slog.String("error", err.Error()))
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)

	_, count, err := policy.LoadInto(newCfg.Policy, pset)
	if err != nil {
		logger.Error("failed to reload access policy, keeping current policy",
			slog.String("path", newCfg.Policy),
			slog.String("error", err.Error()),
		)
		return
	}

	logger.InfoContext(ctx, "access policy reloaded", slog.Int("stanzas", count), slog.String("path", newCfg.Policy))
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

// gracefulShutdown signals systemd, stops the flight recorder (without
// writing out its trace), then shuts down the HTTP servers. Unlike the BFD daemon there are no
// sessions to drain: an in-flight SPA datagram that loses its pipeline
// mid-flight is simply dropped, the same as any other malformed packet.
func gracefulShutdown(
	ctx context.Context,
	logger *slog.Logger,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight Recorder — Go 1.26 runtime/trace
// -------------------------------------------------------------------------

func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder", slog.String("error", err.Error()))
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// Config
// -------------------------------------------------------------------------

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

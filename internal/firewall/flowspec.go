package firewall

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"

	apipb "github.com/osrg/gobgp/v3/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/anypb"
)

// FlowspecActuator admits a flow by advertising a BGP Flowspec
// accept-traffic route via GoBGP, rather than installing a local iptables
// rule. Useful when the SPA server fronts a fleet of edge routers (e.g.
// an anycast deployment) and a single box's local rule would not be
// enough — the accepted flow is admitted network-wide by every router
// that honors the flowspec route.
//
// Grounded on internal/gobgp/client.go's GRPCClient dial pattern, adapted
// from disabling/enabling a BGP peer to advertising a flowspec NLRI. No
// route is ever withdrawn.
type FlowspecActuator struct {
	conn   *grpc.ClientConn
	api    apipb.GobgpApiClient
	logger *slog.Logger
	caps   Capabilities
}

// FlowspecConfig holds the GoBGP gRPC endpoint this actuator talks to.
type FlowspecConfig struct {
	Addr string
}

// NewFlowspecActuator dials the local GoBGP speaker's gRPC API.
func NewFlowspecActuator(cfg FlowspecConfig, logger *slog.Logger) (*FlowspecActuator, error) {
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial gobgp at %s: %w", cfg.Addr, err)
	}

	return &FlowspecActuator{
		conn:   conn,
		api:    apipb.NewGobgpApiClient(conn),
		logger: logger.With(slog.String("component", "firewall.flowspec")),
		caps:   Capabilities{Backend: "flowspec", SupportsNAT: false, NATEnabled: false},
	}, nil
}

// Admit advertises an accept-traffic flowspec route matching req's source
// address only; req.Scope is logged but not encoded in the NLRI, so the
// route does not restrict destination ports. req.Timeout is ignored and
// the route is not withdrawn when it elapses.
func (a *FlowspecActuator) Admit(ctx context.Context, req Request) error {
	nlri, err := flowspecNLRI(req.SrcAddr)
	if err != nil {
		return fmt.Errorf("build flowspec nlri: %w", err)
	}

	path := &apipb.Path{
		Family: &apipb.Family{Afi: apipb.Family_AFI_IP, Safi: apipb.Family_SAFI_FLOW_SPEC_UNICAST},
		Nlri:   nlri,
	}

	_, err = a.api.AddPath(ctx, &apipb.AddPathRequest{Path: path})
	if err != nil {
		return fmt.Errorf("gobgp AddPath for %s: %w", req.SrcAddr, err)
	}

	a.logger.InfoContext(ctx, "advertised flowspec accept route",
		slog.String("src", req.SrcAddr.String()),
		slog.String("scope", req.Scope),
	)

	return nil
}

// Capabilities reports this backend's firewall feature support. Flowspec
// advertises layer-3/4 accept routes; it has no concept of NAT rewriting.
func (a *FlowspecActuator) Capabilities() Capabilities { return a.caps }

// Close releases the underlying gRPC connection.
func (a *FlowspecActuator) Close() error { return a.conn.Close() }

func flowspecNLRI(src netip.Addr) (*anypb.Any, error) {
	flow := &apipb.FlowSpecNLRI{
		Rules: []*anypb.Any{},
	}
	dst, err := anypb.New(&apipb.FlowSpecIPPrefix{
		Type:      apipb.FlowSpecIPPrefix_SOURCE,
		PrefixLen: uint32(src.BitLen()),
		Prefix:    src.String(),
	})
	if err != nil {
		return nil, err
	}
	flow.Rules = append(flow.Rules, dst)

	return anypb.New(flow)
}

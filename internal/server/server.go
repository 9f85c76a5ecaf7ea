// Package server implements the ConnectRPC admin control plane for
// spafwd: inspecting the loaded access policy, the replay cache, and the
// live verdict stream, entirely separate from the UDP ingestion path.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/nullbind/spafwd/internal/policy"
	"github.com/nullbind/spafwd/internal/replaycache"
	"github.com/nullbind/spafwd/internal/spapipe"
	"github.com/nullbind/spafwd/internal/validator"
	spafwv1 "github.com/nullbind/spafwd/pkg/spafwpb/spafw/v1"
	"github.com/nullbind/spafwd/pkg/spafwpb/spafw/v1/spafwv1connect"
)

// Sentinel errors for the server package.
var (
	// ErrStanzaNotFound indicates GetStanza/ForceExpireStanza named a
	// stanza that isn't loaded.
	ErrStanzaNotFound = errors.New("stanza not found")
)

// PolicyReloader re-reads the policy file from disk and swaps the live
// Set in place; the pipeline's ServiceCatalog is left unchanged. Supplied
// by cmd/spafwd, which owns the file path.
type PolicyReloader func(ctx context.Context) (stanzaCount int, err error)

// SpaFwServer implements spafwv1connect.SpaFwServiceHandler. Each RPC is a
// thin adapter over the domain packages (policy.Set, replaycache.Cache,
// spapipe.VerdictFeed); it holds no pipeline state of its own.
type SpaFwServer struct {
	policy *policy.Set
	replay *replaycache.Cache
	feed   *spapipe.VerdictFeed
	reload PolicyReloader
	logger *slog.Logger
}

// verify interface compliance at compile time.
var _ spafwv1connect.SpaFwServiceHandler = (*SpaFwServer)(nil)

// New creates a new SpaFwServer and returns the HTTP handler and path.
func New(pset *policy.Set, replay *replaycache.Cache, feed *spapipe.VerdictFeed, reload PolicyReloader, logger *slog.Logger, opts ...connect.HandlerOption) (string, http.Handler) {
	srv := &SpaFwServer{
		policy: pset,
		replay: replay,
		feed:   feed,
		reload: reload,
		logger: logger.With(slog.String("component", "server")),
	}
	return spafwv1connect.NewSpaFwServiceHandler(srv, opts...)
}

// ListStanzas returns every access stanza currently loaded.
func (s *SpaFwServer) ListStanzas(ctx context.Context, _ *connect.Request[spafwv1.ListStanzasRequest]) (*connect.Response[spafwv1.ListStanzasResponse], error) {
	s.logger.InfoContext(ctx, "ListStanzas called")

	all := s.policy.All()
	out := make([]*spafwv1.StanzaInfo, 0, len(all))
	for _, st := range all {
		out = append(out, stanzaToProto(st))
	}

	return connect.NewResponse(&spafwv1.ListStanzasResponse{Stanzas: out}), nil
}

// GetStanza returns a single stanza by name.
func (s *SpaFwServer) GetStanza(ctx context.Context, req *connect.Request[spafwv1.GetStanzaRequest]) (*connect.Response[spafwv1.GetStanzaResponse], error) {
	name := req.Msg.GetName()
	s.logger.InfoContext(ctx, "GetStanza called", slog.String("name", name))

	st, ok := s.policy.ByName(name)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("stanza %q: %w", name, ErrStanzaNotFound))
	}

	return connect.NewResponse(&spafwv1.GetStanzaResponse{Stanza: stanzaToProto(st)}), nil
}

// ReloadPolicy re-reads the policy file and swaps it in atomically.
func (s *SpaFwServer) ReloadPolicy(ctx context.Context, _ *connect.Request[spafwv1.ReloadPolicyRequest]) (*connect.Response[spafwv1.ReloadPolicyResponse], error) {
	s.logger.InfoContext(ctx, "ReloadPolicy called")

	if s.reload == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("policy reload not configured"))
	}

	count, err := s.reload(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("reload policy: %w", err))
	}

	return connect.NewResponse(&spafwv1.ReloadPolicyResponse{StanzaCount: int32(count)}), nil
}

// InspectReplayCache reports the current digest count and, if a digest_hex
// was given, whether that specific ciphertext has already been seen.
func (s *SpaFwServer) InspectReplayCache(ctx context.Context, req *connect.Request[spafwv1.InspectReplayCacheRequest]) (*connect.Response[spafwv1.InspectReplayCacheResponse], error) {
	s.logger.InfoContext(ctx, "InspectReplayCache called")

	size, err := s.replay.Size()
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("replay cache size: %w", err))
	}

	resp := &spafwv1.InspectReplayCacheResponse{Size: int64(size)}

	if digestHex := req.Msg.GetDigestHex(); digestHex != "" {
		present, err := s.replay.ContainsHex(digestHex)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("inspect digest: %w", err))
		}
		resp.DigestPresent = present
	}

	return connect.NewResponse(resp), nil
}

// ForceExpireStanza marks a stanza expired immediately.
func (s *SpaFwServer) ForceExpireStanza(ctx context.Context, req *connect.Request[spafwv1.ForceExpireStanzaRequest]) (*connect.Response[spafwv1.ForceExpireStanzaResponse], error) {
	name := req.Msg.GetName()
	s.logger.InfoContext(ctx, "ForceExpireStanza called", slog.String("name", name))

	st, ok := s.policy.ByName(name)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("stanza %q: %w", name, ErrStanzaNotFound))
	}

	st.MarkExpired()

	return connect.NewResponse(&spafwv1.ForceExpireStanzaResponse{}), nil
}

// TailVerdicts streams recent pipeline verdicts as they are produced.
func (s *SpaFwServer) TailVerdicts(
	ctx context.Context,
	_ *connect.Request[spafwv1.TailVerdictsRequest],
	stream *connect.ServerStream[spafwv1.TailVerdictsResponse],
) error {
	s.logger.InfoContext(ctx, "TailVerdicts called")

	if s.feed == nil {
		return connect.NewError(connect.CodeUnimplemented, errors.New("verdict feed not configured"))
	}

	ch, cancel := s.feed.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("tail verdicts: %w", ctx.Err())
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.Send(verdictEventToProto(ev)); err != nil {
				return fmt.Errorf("send verdict event: %w", err)
			}
		}
	}
}

// -------------------------------------------------------------------------
// Internal helpers
// -------------------------------------------------------------------------

func stanzaToProto(st *policy.AccessStanza) *spafwv1.StanzaInfo {
	info := &spafwv1.StanzaInfo{
		Name:          st.Name,
		SourceList:    prefixesToStrings(st.SourceList),
		OpenPorts:     portsToStrings(st.OpenPorts),
		UseRijndael:   st.UseRijndael,
		UseGpg:        st.UseGPG,
		EnableCmdExec: st.Exec.EnableCmdExec,
		Expired:       st.Expired(),
	}

	if st.FWAccessTimeout > 0 {
		info.FwAccessTimeout = durationpb.New(st.FWAccessTimeout)
	}
	if !st.AccessExpireTime.IsZero() {
		info.ExpireTime = timestamppb.New(st.AccessExpireTime)
	}

	return info
}

func prefixesToStrings(prefixes []netip.Prefix) []string {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		out = append(out, p.String())
	}
	return out
}

func portsToStrings(ports []policy.PortProto) []string {
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		out = append(out, fmt.Sprintf("%s/%d", p.Proto, p.Port))
	}
	return out
}

func kindToProto(k validator.Kind) spafwv1.TailVerdictsResponse_Kind {
	switch k {
	case validator.KindAccept:
		return spafwv1.TailVerdictsResponse_KIND_ACCEPT
	case validator.KindStop:
		return spafwv1.TailVerdictsResponse_KIND_STOP
	case validator.KindKeep:
		return spafwv1.TailVerdictsResponse_KIND_KEEP
	default:
		return spafwv1.TailVerdictsResponse_KIND_UNSPECIFIED
	}
}

func verdictEventToProto(ev spapipe.VerdictEvent) *spafwv1.TailVerdictsResponse {
	resp := &spafwv1.TailVerdictsResponse{
		Kind:       kindToProto(ev.Kind),
		StanzaName: ev.StanzaName,
		Timestamp:  timestamppb.New(ev.Timestamp),
	}
	if ev.SourceAddr.IsValid() {
		resp.SourceAddr = ev.SourceAddr.String()
	}
	if ev.Reason != nil {
		resp.Reason = ev.Reason.Error()
	}
	return resp
}

package server_test

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/nullbind/spafwd/internal/policy"
	"github.com/nullbind/spafwd/internal/replaycache"
	"github.com/nullbind/spafwd/internal/server"
	"github.com/nullbind/spafwd/internal/spapipe"
	"github.com/nullbind/spafwd/internal/validator"
	spafwv1 "github.com/nullbind/spafwd/pkg/spafwpb/spafw/v1"
	"github.com/nullbind/spafwd/pkg/spafwpb/spafw/v1/spafwv1connect"
)

// -------------------------------------------------------------------------
// Test Helpers
// -------------------------------------------------------------------------

func testStanza(name string) *policy.AccessStanza {
	return &policy.AccessStanza{
		Name:            name,
		UseRijndael:     true,
		OpenPorts:       []policy.PortProto{{Proto: policy.ProtoTCP, Port: 22}},
		FWAccessTimeout: 30 * time.Second,
	}
}

type testServerDeps struct {
	pset      *policy.Set
	replay    *replaycache.Cache
	feed      *spapipe.VerdictFeed
	reloaded  int
	reloadErr error
}

// setupTestServer creates a real HTTP server backed by an in-memory policy
// set and replay cache, and returns a ConnectRPC client connected to it.
func setupTestServer(t *testing.T, deps *testServerDeps, opts ...connect.HandlerOption) spafwv1connect.SpaFwServiceClient {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	reload := server.PolicyReloader(func(_ context.Context) (int, error) {
		if deps.reloadErr != nil {
			return 0, deps.reloadErr
		}
		deps.reloaded++
		return len(deps.pset.All()), nil
	})

	path, handler := server.New(deps.pset, deps.replay, deps.feed, reload, logger, opts...)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return spafwv1connect.NewSpaFwServiceClient(srv.Client(), srv.URL)
}

func newTestDeps(t *testing.T, stanzas ...*policy.AccessStanza) *testServerDeps {
	t.Helper()

	store, err := replaycache.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	return &testServerDeps{
		pset:   policy.NewClassicSet(stanzas),
		replay: replaycache.New(store, true),
		feed:   spapipe.NewVerdictFeed(),
	}
}

// -------------------------------------------------------------------------
// TestListStanzas / TestGetStanza
// -------------------------------------------------------------------------

func TestListStanzas(t *testing.T) {
	t.Parallel()

	deps := newTestDeps(t, testStanza("web"), testStanza("ssh"))
	client := setupTestServer(t, deps)

	resp, err := client.ListStanzas(context.Background(), connect.NewRequest(&spafwv1.ListStanzasRequest{}))
	if err != nil {
		t.Fatalf("ListStanzas: %v", err)
	}

	if got := len(resp.Msg.GetStanzas()); got != 2 {
		t.Fatalf("got %d stanzas, want 2", got)
	}
}

func TestGetStanzaFound(t *testing.T) {
	t.Parallel()

	deps := newTestDeps(t, testStanza("web"))
	client := setupTestServer(t, deps)

	resp, err := client.GetStanza(context.Background(), connect.NewRequest(&spafwv1.GetStanzaRequest{Name: "web"}))
	if err != nil {
		t.Fatalf("GetStanza: %v", err)
	}

	st := resp.Msg.GetStanza()
	if st.GetName() != "web" {
		t.Errorf("Name = %q, want web", st.GetName())
	}
	if !st.GetUseRijndael() {
		t.Error("UseRijndael = false, want true")
	}
	if got := st.GetOpenPorts(); len(got) != 1 || got[0] != "tcp/22" {
		t.Errorf("OpenPorts = %v, want [tcp/22]", got)
	}
}

func TestGetStanzaNotFound(t *testing.T) {
	t.Parallel()

	deps := newTestDeps(t)
	client := setupTestServer(t, deps)

	_, err := client.GetStanza(context.Background(), connect.NewRequest(&spafwv1.GetStanzaRequest{Name: "ghost"}))
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != connect.CodeNotFound {
		t.Errorf("code = %s, want NotFound", connectErr.Code())
	}
}

// -------------------------------------------------------------------------
// TestReloadPolicy
// -------------------------------------------------------------------------

func TestReloadPolicy(t *testing.T) {
	t.Parallel()

	deps := newTestDeps(t, testStanza("web"), testStanza("ssh"), testStanza("db"))
	client := setupTestServer(t, deps)

	resp, err := client.ReloadPolicy(context.Background(), connect.NewRequest(&spafwv1.ReloadPolicyRequest{}))
	if err != nil {
		t.Fatalf("ReloadPolicy: %v", err)
	}
	if resp.Msg.GetStanzaCount() != 3 {
		t.Errorf("StanzaCount = %d, want 3", resp.Msg.GetStanzaCount())
	}
	if deps.reloaded != 1 {
		t.Errorf("reload callback invoked %d times, want 1", deps.reloaded)
	}
}

func TestReloadPolicyError(t *testing.T) {
	t.Parallel()

	deps := newTestDeps(t)
	deps.reloadErr = errors.New("policy file vanished")
	client := setupTestServer(t, deps)

	_, err := client.ReloadPolicy(context.Background(), connect.NewRequest(&spafwv1.ReloadPolicyRequest{}))
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != connect.CodeInternal {
		t.Errorf("code = %s, want Internal", connectErr.Code())
	}
}

// -------------------------------------------------------------------------
// TestInspectReplayCache
// -------------------------------------------------------------------------

func TestInspectReplayCacheSize(t *testing.T) {
	t.Parallel()

	deps := newTestDeps(t)
	digest := replaycache.Fingerprint([]byte("some-payload"))
	if err := deps.replay.Commit(digest); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	client := setupTestServer(t, deps)

	resp, err := client.InspectReplayCache(context.Background(), connect.NewRequest(&spafwv1.InspectReplayCacheRequest{}))
	if err != nil {
		t.Fatalf("InspectReplayCache: %v", err)
	}
	if resp.Msg.GetSize() != 1 {
		t.Errorf("Size = %d, want 1", resp.Msg.GetSize())
	}
}

func TestInspectReplayCacheDigestPresent(t *testing.T) {
	t.Parallel()

	deps := newTestDeps(t)
	digest := replaycache.Fingerprint([]byte("some-payload"))
	if err := deps.replay.Commit(digest); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	hexDigest := hex.EncodeToString(digest[:])

	client := setupTestServer(t, deps)

	resp, err := client.InspectReplayCache(context.Background(), connect.NewRequest(&spafwv1.InspectReplayCacheRequest{
		DigestHex: hexDigest,
	}))
	if err != nil {
		t.Fatalf("InspectReplayCache: %v", err)
	}
	if !resp.Msg.GetDigestPresent() {
		t.Error("DigestPresent = false, want true")
	}
}

func TestInspectReplayCacheMalformedDigest(t *testing.T) {
	t.Parallel()

	deps := newTestDeps(t)
	client := setupTestServer(t, deps)

	_, err := client.InspectReplayCache(context.Background(), connect.NewRequest(&spafwv1.InspectReplayCacheRequest{
		DigestHex: "not-hex",
	}))
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != connect.CodeInvalidArgument {
		t.Errorf("code = %s, want InvalidArgument", connectErr.Code())
	}
}

// -------------------------------------------------------------------------
// TestForceExpireStanza
// -------------------------------------------------------------------------

func TestForceExpireStanza(t *testing.T) {
	t.Parallel()

	stanza := testStanza("web")
	deps := newTestDeps(t, stanza)
	client := setupTestServer(t, deps)

	if stanza.Expired() {
		t.Fatal("stanza already expired before the call")
	}

	_, err := client.ForceExpireStanza(context.Background(), connect.NewRequest(&spafwv1.ForceExpireStanzaRequest{Name: "web"}))
	if err != nil {
		t.Fatalf("ForceExpireStanza: %v", err)
	}

	if !stanza.Expired() {
		t.Error("stanza not marked expired after the call")
	}
}

func TestForceExpireStanzaNotFound(t *testing.T) {
	t.Parallel()

	deps := newTestDeps(t)
	client := setupTestServer(t, deps)

	_, err := client.ForceExpireStanza(context.Background(), connect.NewRequest(&spafwv1.ForceExpireStanzaRequest{Name: "ghost"}))
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != connect.CodeNotFound {
		t.Errorf("code = %s, want NotFound", connectErr.Code())
	}
}

// -------------------------------------------------------------------------
// TestTailVerdicts
// -------------------------------------------------------------------------

func TestTailVerdicts(t *testing.T) {
	t.Parallel()

	deps := newTestDeps(t)
	client := setupTestServer(t, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := client.TailVerdicts(ctx, connect.NewRequest(&spafwv1.TailVerdictsRequest{}))
	if err != nil {
		t.Fatalf("TailVerdicts: %v", err)
	}
	defer stream.Close()

	// Give the server goroutine a moment to reach Subscribe before we
	// publish, to avoid a racy miss on the very first event.
	time.Sleep(50 * time.Millisecond)

	deps.feed.Publish(spapipe.VerdictEvent{
		Kind:       validator.KindAccept,
		StanzaName: "web",
		Timestamp:  time.Now(),
	})

	if !stream.Receive() {
		t.Fatalf("stream.Receive() failed: %v", stream.Err())
	}

	msg := stream.Msg()
	if msg.GetStanzaName() != "web" {
		t.Errorf("StanzaName = %q, want web", msg.GetStanzaName())
	}
	if msg.GetKind() != spafwv1.TailVerdictsResponse_KIND_ACCEPT {
		t.Errorf("Kind = %v, want KIND_ACCEPT", msg.GetKind())
	}
}

package server_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"

	"github.com/nullbind/spafwd/internal/server"
	spafwv1 "github.com/nullbind/spafwd/pkg/spafwpb/spafw/v1"
	"github.com/nullbind/spafwd/pkg/spafwpb/spafw/v1/spafwv1connect"
)

// panicHandler wraps the service interface and panics on GetStanza calls.
// Used to test the RecoveryInterceptor.
type panicHandler struct {
	spafwv1connect.UnimplementedSpaFwServiceHandler
}

func (panicHandler) GetStanza(
	_ context.Context,
	_ *connect.Request[spafwv1.GetStanzaRequest],
) (*connect.Response[spafwv1.GetStanzaResponse], error) {
	panic("intentional test panic")
}

// setupServerWithInterceptors creates a test server with the given ConnectRPC handler options.
func setupServerWithInterceptors(
	t *testing.T,
	opts ...connect.HandlerOption,
) spafwv1connect.SpaFwServiceClient {
	t.Helper()

	deps := newTestDeps(t, testStanza("web"))
	return setupTestServer(t, deps, opts...)
}

// setupPanicServer creates a test server that panics on GetStanza, using
// the given handler options (interceptors).
func setupPanicServer(
	t *testing.T,
	opts ...connect.HandlerOption,
) spafwv1connect.SpaFwServiceClient {
	t.Helper()

	path, handler := spafwv1connect.NewSpaFwServiceHandler(panicHandler{}, opts...)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return spafwv1connect.NewSpaFwServiceClient(srv.Client(), srv.URL)
}

// -------------------------------------------------------------------------
// TestLoggingInterceptor
// -------------------------------------------------------------------------

func TestLoggingInterceptorSuccess(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	client := setupServerWithInterceptors(t, server.LoggingInterceptorOption(logger))

	resp, err := client.ListStanzas(context.Background(), connect.NewRequest(&spafwv1.ListStanzasRequest{}))
	if err != nil {
		t.Fatalf("ListStanzas: %v", err)
	}
	if resp == nil {
		t.Fatal("response is nil")
	}
}

func TestLoggingInterceptorError(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	client := setupServerWithInterceptors(t, server.LoggingInterceptorOption(logger))

	_, err := client.GetStanza(context.Background(), connect.NewRequest(&spafwv1.GetStanzaRequest{
		Name: "ghost",
	}))
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
// TestRecoveryInterceptor
// -------------------------------------------------------------------------

func TestRecoveryInterceptorNoPanic(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	client := setupServerWithInterceptors(t, server.RecoveryInterceptorOption(logger))

	resp, err := client.ListStanzas(context.Background(), connect.NewRequest(&spafwv1.ListStanzasRequest{}))
	if err != nil {
		t.Fatalf("ListStanzas: %v", err)
	}
	if resp == nil {
		t.Fatal("response is nil")
	}
}

func TestRecoveryInterceptorPanic(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	client := setupPanicServer(t, server.RecoveryInterceptorOption(logger))

	_, err := client.GetStanza(context.Background(), connect.NewRequest(&spafwv1.GetStanzaRequest{
		Name: "web",
	}))
	if err == nil {
		t.Fatal("expected error after panic, got nil")
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
// TestBothInterceptors - logging + recovery together
// -------------------------------------------------------------------------

func TestBothInterceptors(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	client := setupServerWithInterceptors(t,
		server.LoggingInterceptorOption(logger),
		server.RecoveryInterceptorOption(logger),
	)

	resp, err := client.ListStanzas(context.Background(), connect.NewRequest(&spafwv1.ListStanzasRequest{}))
	if err != nil {
		t.Fatalf("ListStanzas: %v", err)
	}
	if resp == nil {
		t.Fatal("response is nil")
	}
}

// Package spafwv1connect provides the ConnectRPC client and handler for
// spafw.v1.SpaFwService, hand-maintained in the same shape
// protoc-gen-connect-go would emit from proto/spafw/v1/spafw.proto.
package spafwv1connect

import (
	"context"
	"errors"
	"net/http"
	"strings"

	connect "connectrpc.com/connect"

	spafwv1 "github.com/nullbind/spafwd/pkg/spafwpb/spafw/v1"
)

// SpaFwServiceName is the fully-qualified name of SpaFwService.
const SpaFwServiceName = "spafw.v1.SpaFwService"

// Procedure paths, one per RPC.
const (
	SpaFwServiceListStanzasProcedure         = "/spafw.v1.SpaFwService/ListStanzas"
	SpaFwServiceGetStanzaProcedure            = "/spafw.v1.SpaFwService/GetStanza"
	SpaFwServiceReloadPolicyProcedure         = "/spafw.v1.SpaFwService/ReloadPolicy"
	SpaFwServiceInspectReplayCacheProcedure   = "/spafw.v1.SpaFwService/InspectReplayCache"
	SpaFwServiceForceExpireStanzaProcedure    = "/spafw.v1.SpaFwService/ForceExpireStanza"
	SpaFwServiceTailVerdictsProcedure         = "/spafw.v1.SpaFwService/TailVerdicts"
)

// SpaFwServiceClient is a client for the spafw.v1.SpaFwService service.
type SpaFwServiceClient interface {
	ListStanzas(context.Context, *connect.Request[spafwv1.ListStanzasRequest]) (*connect.Response[spafwv1.ListStanzasResponse], error)
	GetStanza(context.Context, *connect.Request[spafwv1.GetStanzaRequest]) (*connect.Response[spafwv1.GetStanzaResponse], error)
	ReloadPolicy(context.Context, *connect.Request[spafwv1.ReloadPolicyRequest]) (*connect.Response[spafwv1.ReloadPolicyResponse], error)
	InspectReplayCache(context.Context, *connect.Request[spafwv1.InspectReplayCacheRequest]) (*connect.Response[spafwv1.InspectReplayCacheResponse], error)
	ForceExpireStanza(context.Context, *connect.Request[spafwv1.ForceExpireStanzaRequest]) (*connect.Response[spafwv1.ForceExpireStanzaResponse], error)
	TailVerdicts(context.Context, *connect.Request[spafwv1.TailVerdictsRequest]) (*connect.ServerStreamForClient[spafwv1.TailVerdictsResponse], error)
}

// NewSpaFwServiceClient constructs a client for spafw.v1.SpaFwService. The
// baseURL should include the scheme and host, e.g. "http://localhost:50052".
func NewSpaFwServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) SpaFwServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")

	return &spaFwServiceClient{
		listStanzas: connect.NewClient[spafwv1.ListStanzasRequest, spafwv1.ListStanzasResponse](
			httpClient, baseURL+SpaFwServiceListStanzasProcedure, opts...,
		),
		getStanza: connect.NewClient[spafwv1.GetStanzaRequest, spafwv1.GetStanzaResponse](
			httpClient, baseURL+SpaFwServiceGetStanzaProcedure, opts...,
		),
		reloadPolicy: connect.NewClient[spafwv1.ReloadPolicyRequest, spafwv1.ReloadPolicyResponse](
			httpClient, baseURL+SpaFwServiceReloadPolicyProcedure, opts...,
		),
		inspectReplayCache: connect.NewClient[spafwv1.InspectReplayCacheRequest, spafwv1.InspectReplayCacheResponse](
			httpClient, baseURL+SpaFwServiceInspectReplayCacheProcedure, opts...,
		),
		forceExpireStanza: connect.NewClient[spafwv1.ForceExpireStanzaRequest, spafwv1.ForceExpireStanzaResponse](
			httpClient, baseURL+SpaFwServiceForceExpireStanzaProcedure, opts...,
		),
		tailVerdicts: connect.NewClient[spafwv1.TailVerdictsRequest, spafwv1.TailVerdictsResponse](
			httpClient, baseURL+SpaFwServiceTailVerdictsProcedure, opts...,
		),
	}
}

type spaFwServiceClient struct {
	listStanzas        *connect.Client[spafwv1.ListStanzasRequest, spafwv1.ListStanzasResponse]
	getStanza          *connect.Client[spafwv1.GetStanzaRequest, spafwv1.GetStanzaResponse]
	reloadPolicy       *connect.Client[spafwv1.ReloadPolicyRequest, spafwv1.ReloadPolicyResponse]
	inspectReplayCache *connect.Client[spafwv1.InspectReplayCacheRequest, spafwv1.InspectReplayCacheResponse]
	forceExpireStanza  *connect.Client[spafwv1.ForceExpireStanzaRequest, spafwv1.ForceExpireStanzaResponse]
	tailVerdicts       *connect.Client[spafwv1.TailVerdictsRequest, spafwv1.TailVerdictsResponse]
}

func (c *spaFwServiceClient) ListStanzas(ctx context.Context, req *connect.Request[spafwv1.ListStanzasRequest]) (*connect.Response[spafwv1.ListStanzasResponse], error) {
	return c.listStanzas.CallUnary(ctx, req)
}

func (c *spaFwServiceClient) GetStanza(ctx context.Context, req *connect.Request[spafwv1.GetStanzaRequest]) (*connect.Response[spafwv1.GetStanzaResponse], error) {
	return c.getStanza.CallUnary(ctx, req)
}

func (c *spaFwServiceClient) ReloadPolicy(ctx context.Context, req *connect.Request[spafwv1.ReloadPolicyRequest]) (*connect.Response[spafwv1.ReloadPolicyResponse], error) {
	return c.reloadPolicy.CallUnary(ctx, req)
}

func (c *spaFwServiceClient) InspectReplayCache(ctx context.Context, req *connect.Request[spafwv1.InspectReplayCacheRequest]) (*connect.Response[spafwv1.InspectReplayCacheResponse], error) {
	return c.inspectReplayCache.CallUnary(ctx, req)
}

func (c *spaFwServiceClient) ForceExpireStanza(ctx context.Context, req *connect.Request[spafwv1.ForceExpireStanzaRequest]) (*connect.Response[spafwv1.ForceExpireStanzaResponse], error) {
	return c.forceExpireStanza.CallUnary(ctx, req)
}

func (c *spaFwServiceClient) TailVerdicts(ctx context.Context, req *connect.Request[spafwv1.TailVerdictsRequest]) (*connect.ServerStreamForClient[spafwv1.TailVerdictsResponse], error) {
	return c.tailVerdicts.CallServerStream(ctx, req)
}

// SpaFwServiceHandler is an implementation of the spafw.v1.SpaFwService
// service, implemented by internal/server.SpaFwServer.
type SpaFwServiceHandler interface {
	ListStanzas(context.Context, *connect.Request[spafwv1.ListStanzasRequest]) (*connect.Response[spafwv1.ListStanzasResponse], error)
	GetStanza(context.Context, *connect.Request[spafwv1.GetStanzaRequest]) (*connect.Response[spafwv1.GetStanzaResponse], error)
	ReloadPolicy(context.Context, *connect.Request[spafwv1.ReloadPolicyRequest]) (*connect.Response[spafwv1.ReloadPolicyResponse], error)
	InspectReplayCache(context.Context, *connect.Request[spafwv1.InspectReplayCacheRequest]) (*connect.Response[spafwv1.InspectReplayCacheResponse], error)
	ForceExpireStanza(context.Context, *connect.Request[spafwv1.ForceExpireStanzaRequest]) (*connect.Response[spafwv1.ForceExpireStanzaResponse], error)
	TailVerdicts(context.Context, *connect.Request[spafwv1.TailVerdictsRequest], *connect.ServerStream[spafwv1.TailVerdictsResponse]) error
}

// NewSpaFwServiceHandler builds an HTTP handler for SpaFwService, returning
// the mount path and the handler, mirroring the two-value shape
// protoc-gen-connect-go emits so callers can mux.Handle(path, handler).
func NewSpaFwServiceHandler(svc SpaFwServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()

	mux.Handle(SpaFwServiceListStanzasProcedure, connect.NewUnaryHandler(
		SpaFwServiceListStanzasProcedure, svc.ListStanzas, opts...,
	))
	mux.Handle(SpaFwServiceGetStanzaProcedure, connect.NewUnaryHandler(
		SpaFwServiceGetStanzaProcedure, svc.GetStanza, opts...,
	))
	mux.Handle(SpaFwServiceReloadPolicyProcedure, connect.NewUnaryHandler(
		SpaFwServiceReloadPolicyProcedure, svc.ReloadPolicy, opts...,
	))
	mux.Handle(SpaFwServiceInspectReplayCacheProcedure, connect.NewUnaryHandler(
		SpaFwServiceInspectReplayCacheProcedure, svc.InspectReplayCache, opts...,
	))
	mux.Handle(SpaFwServiceForceExpireStanzaProcedure, connect.NewUnaryHandler(
		SpaFwServiceForceExpireStanzaProcedure, svc.ForceExpireStanza, opts...,
	))
	mux.Handle(SpaFwServiceTailVerdictsProcedure, connect.NewServerStreamHandler(
		SpaFwServiceTailVerdictsProcedure, svc.TailVerdicts, opts...,
	))

	return "/spafw.v1.SpaFwService/", mux
}

// UnimplementedSpaFwServiceHandler returns connect.CodeUnimplemented from
// every method, for embedding in partial implementations.
type UnimplementedSpaFwServiceHandler struct{}

func (UnimplementedSpaFwServiceHandler) ListStanzas(context.Context, *connect.Request[spafwv1.ListStanzasRequest]) (*connect.Response[spafwv1.ListStanzasResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("spafw.v1.SpaFwService.ListStanzas is not implemented"))
}

func (UnimplementedSpaFwServiceHandler) GetStanza(context.Context, *connect.Request[spafwv1.GetStanzaRequest]) (*connect.Response[spafwv1.GetStanzaResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("spafw.v1.SpaFwService.GetStanza is not implemented"))
}

func (UnimplementedSpaFwServiceHandler) ReloadPolicy(context.Context, *connect.Request[spafwv1.ReloadPolicyRequest]) (*connect.Response[spafwv1.ReloadPolicyResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("spafw.v1.SpaFwService.ReloadPolicy is not implemented"))
}

func (UnimplementedSpaFwServiceHandler) InspectReplayCache(context.Context, *connect.Request[spafwv1.InspectReplayCacheRequest]) (*connect.Response[spafwv1.InspectReplayCacheResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("spafw.v1.SpaFwService.InspectReplayCache is not implemented"))
}

func (UnimplementedSpaFwServiceHandler) ForceExpireStanza(context.Context, *connect.Request[spafwv1.ForceExpireStanzaRequest]) (*connect.Response[spafwv1.ForceExpireStanzaResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("spafw.v1.SpaFwService.ForceExpireStanza is not implemented"))
}

func (UnimplementedSpaFwServiceHandler) TailVerdicts(context.Context, *connect.Request[spafwv1.TailVerdictsRequest], *connect.ServerStream[spafwv1.TailVerdictsResponse]) error {
	return connect.NewError(connect.CodeUnimplemented, errors.New("spafw.v1.SpaFwService.TailVerdicts is not implemented"))
}

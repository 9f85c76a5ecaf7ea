// Package spafwv1 holds the wire messages for the spafw.v1.SpaFwService
// admin control plane, hand-maintained alongside proto/spafw/v1/spafw.proto
// rather than generated, since this tree carries no buf/protoc toolchain
// invocation step.
package spafwv1

import (
	durationpb "google.golang.org/protobuf/types/known/durationpb"
	timestamppb "google.golang.org/protobuf/types/known/timestamppb"
)

// ListStanzasRequest takes no arguments.
type ListStanzasRequest struct{}

// ListStanzasResponse carries every loaded access stanza.
type ListStanzasResponse struct {
	Stanzas []*StanzaInfo
}

func (m *ListStanzasResponse) GetStanzas() []*StanzaInfo {
	if m == nil {
		return nil
	}
	return m.Stanzas
}

// GetStanzaRequest names the stanza to fetch.
type GetStanzaRequest struct {
	Name string
}

func (m *GetStanzaRequest) GetName() string {
	if m == nil {
		return ""
	}
	return m.Name
}

// GetStanzaResponse carries the resolved stanza, or is empty if not found
// (the RPC itself reports not-found via a CodeNotFound error instead).
type GetStanzaResponse struct {
	Stanza *StanzaInfo
}

func (m *GetStanzaResponse) GetStanza() *StanzaInfo {
	if m == nil {
		return nil
	}
	return m.Stanza
}

// StanzaInfo is the admin-facing view of one access.conf stanza: enough to
// audit what's loaded without exposing key material.
type StanzaInfo struct {
	Name            string
	SourceList      []string
	OpenPorts       []string
	UseRijndael     bool
	UseGpg          bool
	EnableCmdExec   bool
	FwAccessTimeout *durationpb.Duration
	ExpireTime      *timestamppb.Timestamp
	Expired         bool
}

func (m *StanzaInfo) GetName() string {
	if m == nil {
		return ""
	}
	return m.Name
}

func (m *StanzaInfo) GetSourceList() []string {
	if m == nil {
		return nil
	}
	return m.SourceList
}

func (m *StanzaInfo) GetOpenPorts() []string {
	if m == nil {
		return nil
	}
	return m.OpenPorts
}

func (m *StanzaInfo) GetUseRijndael() bool {
	if m == nil {
		return false
	}
	return m.UseRijndael
}

func (m *StanzaInfo) GetUseGpg() bool {
	if m == nil {
		return false
	}
	return m.UseGpg
}

func (m *StanzaInfo) GetEnableCmdExec() bool {
	if m == nil {
		return false
	}
	return m.EnableCmdExec
}

func (m *StanzaInfo) GetFwAccessTimeout() *durationpb.Duration {
	if m == nil {
		return nil
	}
	return m.FwAccessTimeout
}

func (m *StanzaInfo) GetExpireTime() *timestamppb.Timestamp {
	if m == nil {
		return nil
	}
	return m.ExpireTime
}

func (m *StanzaInfo) GetExpired() bool {
	if m == nil {
		return false
	}
	return m.Expired
}

// ReloadPolicyRequest takes no arguments.
type ReloadPolicyRequest struct{}

// ReloadPolicyResponse reports how many stanzas the reloaded file carried.
type ReloadPolicyResponse struct {
	StanzaCount int32
}

func (m *ReloadPolicyResponse) GetStanzaCount() int32 {
	if m == nil {
		return 0
	}
	return m.StanzaCount
}

// InspectReplayCacheRequest optionally names one digest to check.
type InspectReplayCacheRequest struct {
	DigestHex string
}

func (m *InspectReplayCacheRequest) GetDigestHex() string {
	if m == nil {
		return ""
	}
	return m.DigestHex
}

// InspectReplayCacheResponse reports the cache's aggregate size and, if a
// digest_hex was given, whether it's already present.
type InspectReplayCacheResponse struct {
	Size          int64
	DigestPresent bool
}

func (m *InspectReplayCacheResponse) GetSize() int64 {
	if m == nil {
		return 0
	}
	return m.Size
}

func (m *InspectReplayCacheResponse) GetDigestPresent() bool {
	if m == nil {
		return false
	}
	return m.DigestPresent
}

// ForceExpireStanzaRequest names the stanza to cut off immediately.
type ForceExpireStanzaRequest struct {
	Name string
}

func (m *ForceExpireStanzaRequest) GetName() string {
	if m == nil {
		return ""
	}
	return m.Name
}

// ForceExpireStanzaResponse carries no fields.
type ForceExpireStanzaResponse struct{}

// TailVerdictsRequest takes no arguments.
type TailVerdictsRequest struct{}

// TailVerdictsResponse_Kind mirrors the validator's Accept/Stop/Keep
// verdict outcome for wire transport.
type TailVerdictsResponse_Kind int32

const (
	TailVerdictsResponse_KIND_UNSPECIFIED TailVerdictsResponse_Kind = 0
	TailVerdictsResponse_KIND_ACCEPT      TailVerdictsResponse_Kind = 1
	TailVerdictsResponse_KIND_KEEP        TailVerdictsResponse_Kind = 2
	TailVerdictsResponse_KIND_STOP        TailVerdictsResponse_Kind = 3
)

func (k TailVerdictsResponse_Kind) String() string {
	switch k {
	case TailVerdictsResponse_KIND_ACCEPT:
		return "ACCEPT"
	case TailVerdictsResponse_KIND_KEEP:
		return "KEEP"
	case TailVerdictsResponse_KIND_STOP:
		return "STOP"
	default:
		return "UNSPECIFIED"
	}
}

// TailVerdictsResponse is one pipeline verdict event.
type TailVerdictsResponse struct {
	Kind       TailVerdictsResponse_Kind
	StanzaName string
	SourceAddr string
	Reason     string
	Timestamp  *timestamppb.Timestamp
}

func (m *TailVerdictsResponse) GetKind() TailVerdictsResponse_Kind {
	if m == nil {
		return TailVerdictsResponse_KIND_UNSPECIFIED
	}
	return m.Kind
}

func (m *TailVerdictsResponse) GetStanzaName() string {
	if m == nil {
		return ""
	}
	return m.StanzaName
}

func (m *TailVerdictsResponse) GetSourceAddr() string {
	if m == nil {
		return ""
	}
	return m.SourceAddr
}

func (m *TailVerdictsResponse) GetReason() string {
	if m == nil {
		return ""
	}
	return m.Reason
}

func (m *TailVerdictsResponse) GetTimestamp() *timestamppb.Timestamp {
	if m == nil {
		return nil
	}
	return m.Timestamp
}

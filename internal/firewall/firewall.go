// Package firewall defines the Request Dispatcher's actuator boundary:
// the collaborator §1 of the core spec keeps out of scope
// (`process_spa_request`) but a runnable daemon still needs a concrete
// implementation of.
package firewall

import (
	"context"
	"net/netip"
	"time"
)

// Capabilities describes what the active firewall backend supports, so
// C5's NAT-gating step can distinguish "unsupported" (no matching backend
// compiled in) from "not enabled" (backend present, flag off) — the same
// distinction incoming_spa.c's check_nat_access_types logs separately.
type Capabilities struct {
	// Backend names the active actuator ("iptables", "ovsdb", "flowspec"),
	// used only as a metrics/log label.
	Backend string
	// SupportsNAT/NATEnabled gate LOCAL_NAT_ACCESS-class messages
	// (ENABLE_{FIREWD,IPT}_LOCAL_NAT).
	SupportsNAT bool
	NATEnabled  bool
	// ForwardingEnabled gates NAT_ACCESS-class messages — forwarding a
	// flow to a different internal host rather than rewriting the local
	// port (ENABLE_{FIREWD,IPT}_FORWARDING), a distinct fwknop flag from
	// local NAT.
	ForwardingEnabled bool
}

// Request is everything an actuator needs to admit one flow.
type Request struct {
	Stanza  string // stanza name, for logging/audit only
	SrcAddr netip.Addr
	DstAddr netip.Addr
	Scope   string // "tcp/22" or similar, comma-joined if multiple
	Timeout time.Duration
}

// Actuator installs an admission rule. The core pipeline only ever calls
// Admit. The interface has no removal call, and neither the backends nor
// cmd/spafwd remove an installed rule once req.Timeout has elapsed.
type Actuator interface {
	Admit(ctx context.Context, req Request) error
	Capabilities() Capabilities
}


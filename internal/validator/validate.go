package validator

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/nullbind/spafwd/internal/firewall"
	"github.com/nullbind/spafwd/internal/policy"
)

// Embedded-source-IP string length bounds (§9 resolved question D.2): the
// range is the strict inclusive [minIPv4StrLen-1, maxIPv4StrLen], kept
// exactly as specified even though the lower bound reads as an off-by-one
// — do not "fix" it without re-checking client compatibility.
const (
	minIPv4StrLen = 7  // len("1.2.3.4")
	maxIPv4StrLen = 15 // len("255.255.255.255")
)

var (
	// ErrPolicyReject is the taxonomy root for every rule failure below.
	ErrPolicyReject = errors.New("policy reject")

	ErrMessageTypeDenied  = fmt.Errorf("%w: message type not permitted", ErrPolicyReject)
	ErrTimestampStale     = fmt.Errorf("%w: packet timestamp outside allowed age", ErrPolicyReject)
	ErrStanzaExpired      = fmt.Errorf("%w: access stanza has expired", ErrPolicyReject)
	ErrBodyMalformed      = fmt.Errorf("%w: message body missing embedded source", ErrPolicyReject)
	ErrEmbeddedSourceLen  = fmt.Errorf("%w: embedded source ip length out of range", ErrPolicyReject)
	ErrEmbeddedSourceAddr = fmt.Errorf("%w: embedded source ip does not parse", ErrPolicyReject)
	ErrZeroSourceDenied   = fmt.Errorf("%w: embedded source is 0.0.0.0 and require_source_address is set", ErrPolicyReject)
	ErrUsernameMismatch   = fmt.Errorf("%w: username does not match stanza requirement", ErrPolicyReject)
	ErrNATUnsupported       = fmt.Errorf("%w: active firewall backend does not support NAT", ErrPolicyReject)
	ErrNATNotEnabled        = fmt.Errorf("%w: local NAT forwarding not enabled for active firewall backend", ErrPolicyReject)
	ErrForwardingNotEnabled = fmt.Errorf("%w: forwarding not enabled for active firewall backend", ErrPolicyReject)
	ErrServiceDenied      = fmt.Errorf("%w: service access control denied", ErrPolicyReject)
	ErrPortDenied         = fmt.Errorf("%w: port/proto not within stanza scope", ErrPolicyReject)
)

// Config carries the subset of daemon configuration the validator needs.
type Config struct {
	AllowLegacyAccess bool
	EnablePacketAging bool
	MaxPacketAge      time.Duration
	IdentityMode      bool
	FirewallCaps      firewall.Capabilities
}

// Validate runs the §4.5 ordered validation chain against one stanza and
// one already-decrypted message, returning the discriminating Verdict.
//
// now is passed in rather than read from time.Now() so timestamp/expiry
// checks are deterministic under test.
func Validate(cfg Config, services *policy.ServiceCatalog, stanza *policy.AccessStanza, decoded DecodedMessage, pktSrcAddr netip.Addr, now time.Time) Verdict {
	// Step 2: message-type policy.
	if !messageTypeAllowed(decoded.MessageType, cfg.AllowLegacyAccess) {
		return Stop(ErrMessageTypeDenied)
	}

	// Step 3 (GPG signer check) is enforced inside spacrypto's GPG
	// context during decryption, where the signature-status output is
	// actually available; nothing left to check here.

	// Step 4: timestamp freshness.
	if cfg.EnablePacketAging {
		age := now.Sub(time.Unix(decoded.Timestamp, 0))
		if age < 0 {
			age = -age
		}
		if age > cfg.MaxPacketAge {
			return Keep(ErrTimestampStale)
		}
	}

	// Step 5: stanza expiration.
	if !stanza.AccessExpireTime.IsZero() && now.After(stanza.AccessExpireTime) {
		stanza.MarkExpired()
		return Keep(ErrStanzaExpired)
	}

	// Step 6: embedded-source parsing.
	srcIPStr, remainder, err := splitMessageBody(decoded.MessageBody)
	if err != nil {
		return Stop(err)
	}

	// Step 7: use-source policy.
	var effectiveIP netip.Addr
	if srcIPStr == "0.0.0.0" {
		if stanza.RequireSourceAddress {
			return Stop(ErrZeroSourceDenied)
		}
		effectiveIP = pktSrcAddr
	} else {
		parsed, err := netip.ParseAddr(srcIPStr)
		if err != nil {
			return Stop(fmt.Errorf("%w: %w", ErrEmbeddedSourceAddr, err))
		}
		effectiveIP = parsed
	}
	decoded.EffectiveSourceIP = effectiveIP

	// Step 8: username policy, classic mode only.
	if !cfg.IdentityMode && stanza.RequireUsername != "" && decoded.Username != stanza.RequireUsername {
		return Keep(ErrUsernameMismatch)
	}

	// Step 9: NAT type gating. Local NAT (rewrite to a local port) and
	// forwarding NAT (forward to a different internal host) are gated by
	// distinct backend flags, matching check_nat_access_types's separate
	// ENABLE_{FIREWD,IPT}_LOCAL_NAT vs ENABLE_{FIREWD,IPT}_FORWARDING checks.
	if isNATType(decoded.MessageType) {
		if !cfg.FirewallCaps.SupportsNAT {
			return Stop(ErrNATUnsupported)
		}
		if isLocalNATType(decoded.MessageType) {
			if !cfg.FirewallCaps.NATEnabled {
				return Stop(ErrNATNotEnabled)
			}
		} else if !cfg.FirewallCaps.ForwardingEnabled {
			return Stop(ErrForwardingNotEnabled)
		}
	}

	// Step 10: scope policy.
	if isServiceType(decoded.MessageType) {
		if !checkServiceAccess(stanza, services, remainder) {
			return Stop(ErrServiceDenied)
		}
	} else if decoded.MessageType != MessageCommand {
		if !checkPortAccess(stanza, remainder) {
			return Keep(ErrPortDenied)
		}
	}

	return Accept(stanza, decoded)
}

func messageTypeAllowed(mt MessageType, allowLegacy bool) bool {
	switch mt {
	case MessageServiceAccess, MessageClientTimeoutServiceAccess, MessageCommand:
		return true
	default:
		return allowLegacy
	}
}

// splitMessageBody implements §4.5 step 6: message_body must split into
// an embedded source-IP string (length in [minIPv4StrLen-1, maxIPv4StrLen])
// and a remainder, separated by the first comma.
func splitMessageBody(body string) (srcIPStr, remainder string, err error) {
	idx := strings.IndexByte(body, ',')
	if idx < 0 {
		return "", "", ErrBodyMalformed
	}

	srcIPStr = body[:idx]
	remainder = body[idx+1:]

	if len(srcIPStr) < minIPv4StrLen-1 || len(srcIPStr) > maxIPv4StrLen {
		return "", "", fmt.Errorf("%w: len=%d", ErrEmbeddedSourceLen, len(srcIPStr))
	}

	return srcIPStr, remainder, nil
}

// checkServiceAccess resolves every comma-separated service name in
// remainder against both the stanza's service allow-list and the shared
// service catalog (SPEC_FULL.md §C.1).
func checkServiceAccess(stanza *policy.AccessStanza, services *policy.ServiceCatalog, remainder string) bool {
	names := strings.Split(remainder, ",")
	if len(names) == 0 {
		return false
	}

	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if !containsString(stanza.Services, name) {
			return false
		}
		if _, ok := services.Resolve(name); !ok {
			return false
		}
	}

	return true
}

// checkPortAccess runs the port/proto ACL: every entry in remainder must
// be in open_ports (if any were configured) and must not be in
// restrict_ports.
func checkPortAccess(stanza *policy.AccessStanza, remainder string) bool {
	entries := strings.Split(remainder, ",")
	if len(entries) == 0 {
		return false
	}

	for _, raw := range entries {
		pp, err := policy.ParsePortProto(strings.TrimSpace(raw))
		if err != nil {
			return false
		}
		if containsPortProto(stanza.RestrictPorts, pp) {
			return false
		}
		if len(stanza.OpenPorts) > 0 && !containsPortProto(stanza.OpenPorts, pp) {
			return false
		}
	}

	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsPortProto(list []policy.PortProto, pp policy.PortProto) bool {
	for _, v := range list {
		if v == pp {
			return true
		}
	}
	return false
}

package validator

import (
	"net/netip"
	"testing"
	"time"

	"github.com/nullbind/spafwd/internal/firewall"
	"github.com/nullbind/spafwd/internal/policy"
)

func testStanza() *policy.AccessStanza {
	return &policy.AccessStanza{
		Name:       "web",
		SourceList: []netip.Prefix{netip.MustParsePrefix("1.2.0.0/16")},
		OpenPorts:  []policy.PortProto{{Proto: policy.ProtoTCP, Port: 22}},
	}
}

func testMessage() DecodedMessage {
	return DecodedMessage{
		Version:     "1.0",
		Timestamp:   1700000000,
		Username:    "bob",
		MessageType: MessageClientTimeoutAccess,
		MessageBody: "1.2.3.4,tcp/22",
	}
}

func TestValidateHappyPathAccepts(t *testing.T) {
	stanza := testStanza()
	cfg := Config{AllowLegacyAccess: true}
	now := time.Unix(1700000000, 0)

	v := Validate(cfg, policy.NewServiceCatalog(nil), stanza, testMessage(), netip.MustParseAddr("1.2.3.4"), now)
	if v.Kind != KindAccept {
		t.Fatalf("Kind = %v, want KindAccept (reason: %v)", v.Kind, v.Reason)
	}
}

func TestValidateLegacyTypeDeniedWithoutFlag(t *testing.T) {
	stanza := testStanza()
	cfg := Config{AllowLegacyAccess: false}
	msg := testMessage()
	msg.MessageType = MessageAccess // legacy type, not in the always-allowed set

	v := Validate(cfg, policy.NewServiceCatalog(nil), stanza, msg, netip.MustParseAddr("1.2.3.4"), time.Unix(1700000000, 0))
	if v.Kind != KindStop {
		t.Fatalf("Kind = %v, want KindStop", v.Kind)
	}
}

func TestValidateStalePacketKeptUnderAging(t *testing.T) {
	stanza := testStanza()
	cfg := Config{AllowLegacyAccess: true, EnablePacketAging: true, MaxPacketAge: 30 * time.Second}
	now := time.Unix(1700000000, 0).Add(time.Minute)

	v := Validate(cfg, policy.NewServiceCatalog(nil), stanza, testMessage(), netip.MustParseAddr("1.2.3.4"), now)
	if v.Kind != KindKeep {
		t.Fatalf("Kind = %v, want KindKeep", v.Kind)
	}
}

func TestValidateFreshPacketAcceptedUnderAging(t *testing.T) {
	stanza := testStanza()
	cfg := Config{AllowLegacyAccess: true, EnablePacketAging: true, MaxPacketAge: 30 * time.Second}
	now := time.Unix(1700000000, 0).Add(10 * time.Second)

	v := Validate(cfg, policy.NewServiceCatalog(nil), stanza, testMessage(), netip.MustParseAddr("1.2.3.4"), now)
	if v.Kind != KindAccept {
		t.Fatalf("Kind = %v, want KindAccept (reason: %v)", v.Kind, v.Reason)
	}
}

func TestValidateExpiredStanzaKeptAndMarked(t *testing.T) {
	stanza := testStanza()
	stanza.AccessExpireTime = time.Unix(1700000000, 0).Add(-time.Second)
	cfg := Config{AllowLegacyAccess: true}

	v := Validate(cfg, policy.NewServiceCatalog(nil), stanza, testMessage(), netip.MustParseAddr("1.2.3.4"), time.Unix(1700000000, 0))
	if v.Kind != KindKeep {
		t.Fatalf("Kind = %v, want KindKeep", v.Kind)
	}
	if !stanza.Expired() {
		t.Fatal("expected stanza to be marked expired")
	}
}

func TestValidateZeroSourceDeniedWhenRequired(t *testing.T) {
	stanza := testStanza()
	stanza.RequireSourceAddress = true
	cfg := Config{AllowLegacyAccess: true}
	msg := testMessage()
	msg.MessageBody = "0.0.0.0,tcp/22"

	v := Validate(cfg, policy.NewServiceCatalog(nil), stanza, msg, netip.MustParseAddr("1.2.3.4"), time.Unix(1700000000, 0))
	if v.Kind != KindStop {
		t.Fatalf("Kind = %v, want KindStop", v.Kind)
	}
}

func TestValidateZeroSourceFallsBackToPacketSourceWhenNotRequired(t *testing.T) {
	stanza := testStanza()
	cfg := Config{AllowLegacyAccess: true}
	msg := testMessage()
	msg.MessageBody = "0.0.0.0,tcp/22"

	v := Validate(cfg, policy.NewServiceCatalog(nil), stanza, msg, netip.MustParseAddr("1.2.3.4"), time.Unix(1700000000, 0))
	if v.Kind != KindAccept {
		t.Fatalf("Kind = %v, want KindAccept (reason: %v)", v.Kind, v.Reason)
	}
	if v.Decoded.EffectiveSourceIP != netip.MustParseAddr("1.2.3.4") {
		t.Fatalf("EffectiveSourceIP = %v, want packet source", v.Decoded.EffectiveSourceIP)
	}
}

func TestValidateUsernameMismatchKeptInClassicMode(t *testing.T) {
	stanza := testStanza()
	stanza.RequireUsername = "alice"
	cfg := Config{AllowLegacyAccess: true, IdentityMode: false}

	v := Validate(cfg, policy.NewServiceCatalog(nil), stanza, testMessage(), netip.MustParseAddr("1.2.3.4"), time.Unix(1700000000, 0))
	if v.Kind != KindKeep {
		t.Fatalf("Kind = %v, want KindKeep", v.Kind)
	}
}

func TestValidateUsernameIgnoredInIdentityMode(t *testing.T) {
	stanza := testStanza()
	stanza.RequireUsername = "alice"
	cfg := Config{AllowLegacyAccess: true, IdentityMode: true}

	v := Validate(cfg, policy.NewServiceCatalog(nil), stanza, testMessage(), netip.MustParseAddr("1.2.3.4"), time.Unix(1700000000, 0))
	if v.Kind != KindAccept {
		t.Fatalf("Kind = %v, want KindAccept (reason: %v)", v.Kind, v.Reason)
	}
}

func TestValidatePortNotInScopeKept(t *testing.T) {
	stanza := testStanza()
	cfg := Config{AllowLegacyAccess: true}
	msg := testMessage()
	msg.MessageBody = "1.2.3.4,tcp/9999"

	v := Validate(cfg, policy.NewServiceCatalog(nil), stanza, msg, netip.MustParseAddr("1.2.3.4"), time.Unix(1700000000, 0))
	if v.Kind != KindKeep {
		t.Fatalf("Kind = %v, want KindKeep", v.Kind)
	}
}

func TestValidateRestrictedPortDenied(t *testing.T) {
	stanza := testStanza()
	stanza.OpenPorts = nil
	stanza.RestrictPorts = []policy.PortProto{{Proto: policy.ProtoTCP, Port: 22}}
	cfg := Config{AllowLegacyAccess: true}

	v := Validate(cfg, policy.NewServiceCatalog(nil), stanza, testMessage(), netip.MustParseAddr("1.2.3.4"), time.Unix(1700000000, 0))
	if v.Kind != KindKeep {
		t.Fatalf("Kind = %v, want KindKeep", v.Kind)
	}
}

func TestValidateServiceAccessRequiresCatalogResolution(t *testing.T) {
	stanza := testStanza()
	stanza.Services = []string{"web"}
	cfg := Config{AllowLegacyAccess: true}
	msg := testMessage()
	msg.MessageType = MessageServiceAccess
	msg.MessageBody = "1.2.3.4,web"

	catalog := policy.NewServiceCatalog(map[string][]policy.PortProto{
		"web": {{Proto: policy.ProtoTCP, Port: 22}},
	})

	v := Validate(cfg, catalog, stanza, msg, netip.MustParseAddr("1.2.3.4"), time.Unix(1700000000, 0))
	if v.Kind != KindAccept {
		t.Fatalf("Kind = %v, want KindAccept (reason: %v)", v.Kind, v.Reason)
	}
}

func TestValidateServiceAccessDeniedWhenNotInStanzaACL(t *testing.T) {
	stanza := testStanza()
	stanza.Services = []string{"mail"}
	cfg := Config{AllowLegacyAccess: true}
	msg := testMessage()
	msg.MessageType = MessageServiceAccess
	msg.MessageBody = "1.2.3.4,web"

	catalog := policy.NewServiceCatalog(map[string][]policy.PortProto{
		"web": {{Proto: policy.ProtoTCP, Port: 22}},
	})

	v := Validate(cfg, catalog, stanza, msg, netip.MustParseAddr("1.2.3.4"), time.Unix(1700000000, 0))
	if v.Kind != KindStop {
		t.Fatalf("Kind = %v, want KindStop", v.Kind)
	}
}

func TestValidateCommandMessageSkipsPortScopeCheck(t *testing.T) {
	stanza := testStanza()
	stanza.OpenPorts = nil
	cfg := Config{AllowLegacyAccess: true}
	msg := testMessage()
	msg.MessageType = MessageCommand
	msg.MessageBody = "1.2.3.4,id"

	v := Validate(cfg, policy.NewServiceCatalog(nil), stanza, msg, netip.MustParseAddr("1.2.3.4"), time.Unix(1700000000, 0))
	if v.Kind != KindAccept {
		t.Fatalf("Kind = %v, want KindAccept (reason: %v)", v.Kind, v.Reason)
	}
}

func TestValidateMalformedBodyStopsSearch(t *testing.T) {
	stanza := testStanza()
	cfg := Config{AllowLegacyAccess: true}
	msg := testMessage()
	msg.MessageBody = "no-comma-here"

	v := Validate(cfg, policy.NewServiceCatalog(nil), stanza, msg, netip.MustParseAddr("1.2.3.4"), time.Unix(1700000000, 0))
	if v.Kind != KindStop {
		t.Fatalf("Kind = %v, want KindStop", v.Kind)
	}
}

func TestValidateEmbeddedSourceLengthOutOfRangeStops(t *testing.T) {
	stanza := testStanza()
	cfg := Config{AllowLegacyAccess: true}
	msg := testMessage()
	msg.MessageBody = "1,tcp/22" // length 1, below minIPv4StrLen-1

	v := Validate(cfg, policy.NewServiceCatalog(nil), stanza, msg, netip.MustParseAddr("1.2.3.4"), time.Unix(1700000000, 0))
	if v.Kind != KindStop {
		t.Fatalf("Kind = %v, want KindStop", v.Kind)
	}
}

func TestValidateNATTypeUnsupportedBackendStops(t *testing.T) {
	stanza := testStanza()
	cfg := Config{AllowLegacyAccess: true}
	msg := testMessage()
	msg.MessageType = MessageNATAccess

	v := Validate(cfg, policy.NewServiceCatalog(nil), stanza, msg, netip.MustParseAddr("1.2.3.4"), time.Unix(1700000000, 0))
	if v.Kind != KindStop {
		t.Fatalf("Kind = %v, want KindStop", v.Kind)
	}
}

func TestValidateForwardingNATDeniedWhenForwardingDisabled(t *testing.T) {
	stanza := testStanza()
	cfg := Config{AllowLegacyAccess: true, FirewallCaps: firewall.Capabilities{SupportsNAT: true}}
	msg := testMessage()
	msg.MessageType = MessageNATAccess

	v := Validate(cfg, policy.NewServiceCatalog(nil), stanza, msg, netip.MustParseAddr("1.2.3.4"), time.Unix(1700000000, 0))
	if v.Kind != KindStop {
		t.Fatalf("Kind = %v, want KindStop", v.Kind)
	}
}

func TestValidateLocalNATIgnoresForwardingFlag(t *testing.T) {
	stanza := testStanza()
	cfg := Config{AllowLegacyAccess: true, FirewallCaps: firewall.Capabilities{SupportsNAT: true, NATEnabled: true}}
	msg := testMessage()
	msg.MessageType = MessageLocalNATAccess

	v := Validate(cfg, policy.NewServiceCatalog(nil), stanza, msg, netip.MustParseAddr("1.2.3.4"), time.Unix(1700000000, 0))
	if v.Kind != KindAccept {
		t.Fatalf("Kind = %v, want KindAccept (reason: %v)", v.Kind, v.Reason)
	}
}

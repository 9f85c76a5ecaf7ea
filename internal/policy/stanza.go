// Package policy implements the access-policy index (C3): the set of
// configured AccessStanza records and the two lookup strategies — an
// ordered classic scan filtered by source address, and an identity-keyed
// hash lookup — selected once at load time by configuration.
package policy

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// EncryptionMode names the crypto path a stanza accepts.
type EncryptionMode int

const (
	EncryptionUnknown EncryptionMode = iota
	EncryptionRijndael
	EncryptionGPG
)

// Proto is an IP transport protocol named in an open/restrict port entry.
type Proto int

const (
	ProtoTCP Proto = iota
	ProtoUDP
)

func (p Proto) String() string {
	if p == ProtoUDP {
		return "udp"
	}
	return "tcp"
}

// PortProto is one "proto/port" scope entry, e.g. tcp/22.
type PortProto struct {
	Proto Proto
	Port  int
}

// ParsePortProto parses a "tcp/22" or "udp/53" string.
func ParsePortProto(s string) (PortProto, error) {
	proto, portStr, ok := strings.Cut(s, "/")
	if !ok {
		return PortProto{}, fmt.Errorf("port/proto entry %q: missing '/'", s)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return PortProto{}, fmt.Errorf("port/proto entry %q: invalid port: %w", s, err)
	}

	switch strings.ToLower(proto) {
	case "tcp":
		return PortProto{Proto: ProtoTCP, Port: port}, nil
	case "udp":
		return PortProto{Proto: ProtoUDP, Port: port}, nil
	default:
		return PortProto{}, fmt.Errorf("port/proto entry %q: unknown protocol %q", s, proto)
	}
}

// GPGConfig holds the GPG decryption parameters a stanza applies to its
// crypto context before attempting decryption (§4.4).
type GPGConfig struct {
	Exe             string
	HomeDir         string
	DecryptID       string
	DecryptPW       string
	AllowNoPW       bool
	RequireSig      bool
	IgnoreSigError  bool
	RemoteIDList    []string
	RemoteFprList   []string
}

// ExecPolicy governs command execution authorized by this stanza (C6).
type ExecPolicy struct {
	EnableCmdExec  bool
	EnableSudoExec bool
	User           string
	Group          string
	Uid            uint32
	Gid            uint32
	CmdCycleOpen   string
}

// AccessStanza is one long-lived access-policy entry: credentials, match
// predicates, authorization scope, execution policy, and timing. It is
// owned by the PolicySet that created it; per-packet code only ever holds
// a borrowed reference bounded by the packet's lifetime (Design Notes).
type AccessStanza struct {
	Name string

	SymKey   []byte
	HMACKey  []byte
	HMACType string

	UseRijndael bool
	UseGPG      bool
	GPG         GPGConfig

	SourceList      []netip.Prefix
	DestinationList []netip.Prefix

	RequireUsername      string
	RequireSourceAddress bool

	OpenPorts     []PortProto
	RestrictPorts []PortProto
	Services      []string

	Exec ExecPolicy

	FWAccessTimeout  time.Duration
	AccessExpireTime time.Time // zero value means "never expires"

	// expired is set monotonically false→true by the Validator. Readers
	// that miss a concurrent set only defer rejection by one packet,
	// which §5 calls out as acceptable — an atomic bool needs no lock.
	expired atomic.Bool
}

// Expired reports whether this stanza has been marked expired.
func (s *AccessStanza) Expired() bool { return s.expired.Load() }

// MarkExpired sets the expired flag. Idempotent.
func (s *AccessStanza) MarkExpired() { s.expired.Store(true) }

// SourceMatches reports whether ip falls within the stanza's source list.
// An empty source list matches nothing in classic mode (a stanza with no
// configured source can never be the coarse-filter match).
func (s *AccessStanza) SourceMatches(ip netip.Addr) bool {
	return prefixListContains(s.SourceList, ip)
}

// DestMatches reports whether ip falls within the stanza's destination
// list. An empty list matches any destination (no destination filtering
// configured).
func (s *AccessStanza) DestMatches(ip netip.Addr) bool {
	if len(s.DestinationList) == 0 {
		return true
	}
	return prefixListContains(s.DestinationList, ip)
}

func prefixListContains(list []netip.Prefix, ip netip.Addr) bool {
	for _, p := range list {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// DetectEncryptionMode inspects the decoded payload's leading bytes to
// determine whether it is Rijndael or GPG ciphertext (§4.4). Detection is
// a cheap, pre-decryption classification; a wrong guess simply fails to
// decrypt and the stanza search continues.
func DetectEncryptionMode(decoded []byte) EncryptionMode {
	switch {
	case len(decoded) >= 8 && string(decoded[:8]) == "Salted__":
		return EncryptionRijndael
	case len(decoded) >= 1 && decoded[0]&0x80 != 0:
		// OpenPGP packets always set the high bit of the first byte.
		return EncryptionGPG
	default:
		return EncryptionUnknown
	}
}

// Package validator implements the Message Validator (C5): parses the
// decrypted payload and enforces, in order, the message-type policy, GPG
// signer precedence (enforced during decryption, see spacrypto), timestamp
// freshness, stanza expiration, embedded-source parsing, username policy,
// NAT gating, and scope (service/port) policy.
package validator

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// MessageType enumerates the SPA message types a decrypted payload may carry.
type MessageType int

const (
	MessageAccess MessageType = iota
	MessageClientTimeoutAccess
	MessageCommand
	MessageServiceAccess
	MessageClientTimeoutServiceAccess
	MessageNATAccess
	MessageClientTimeoutNATAccess
	MessageLocalNATAccess
	MessageClientTimeoutLocalNATAccess
	messageTypeMax = MessageClientTimeoutLocalNATAccess
)

func (mt MessageType) String() string {
	switch mt {
	case MessageAccess:
		return "ACCESS"
	case MessageClientTimeoutAccess:
		return "CLIENT_TIMEOUT_ACCESS"
	case MessageCommand:
		return "COMMAND"
	case MessageServiceAccess:
		return "SERVICE_ACCESS"
	case MessageClientTimeoutServiceAccess:
		return "CLIENT_TIMEOUT_SERVICE_ACCESS"
	case MessageNATAccess:
		return "NAT_ACCESS"
	case MessageClientTimeoutNATAccess:
		return "CLIENT_TIMEOUT_NAT_ACCESS"
	case MessageLocalNATAccess:
		return "LOCAL_NAT_ACCESS"
	case MessageClientTimeoutLocalNATAccess:
		return "CLIENT_TIMEOUT_LOCAL_NAT_ACCESS"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(mt))
	}
}

// DecodedMessage is the parsed form of one successfully decrypted payload.
type DecodedMessage struct {
	Version           string
	Timestamp         int64
	Username          string
	MessageType       MessageType
	MessageBody       string // comma-separated: "src_ip,remainder"
	NATAccess         string
	ServerAuth        string
	ClientTimeout     int
	EffectiveSourceIP netip.Addr
}

// ErrMalformedMessage marks a decrypted payload that doesn't parse into
// the expected comma-separated field layout.
var ErrMalformedMessage = errors.New("malformed decoded message")

// ParseDecodedMessage splits a decrypted plaintext into its fields. The
// wire layout is "version,timestamp,username,message_type,nat_access,
// server_auth,client_timeout,message_body" — message_body is last and may
// itself contain commas (the embedded source IP and scope remainder), so
// splitting is bounded to 8 fields rather than unconditionally on ",".
func ParseDecodedMessage(plaintext []byte) (DecodedMessage, error) {
	parts := strings.SplitN(string(plaintext), ",", 8)
	if len(parts) != 8 {
		return DecodedMessage{}, fmt.Errorf("%w: expected 8 fields, got %d", ErrMalformedMessage, len(parts))
	}

	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return DecodedMessage{}, fmt.Errorf("%w: timestamp: %w", ErrMalformedMessage, err)
	}

	mtRaw, err := strconv.Atoi(parts[3])
	if err != nil || mtRaw < 0 || mtRaw > int(messageTypeMax) {
		return DecodedMessage{}, fmt.Errorf("%w: message_type %q out of range", ErrMalformedMessage, parts[3])
	}

	clientTimeout := 0
	if parts[6] != "" {
		clientTimeout, err = strconv.Atoi(parts[6])
		if err != nil {
			return DecodedMessage{}, fmt.Errorf("%w: client_timeout: %w", ErrMalformedMessage, err)
		}
	}

	return DecodedMessage{
		Version:       parts[0],
		Timestamp:     ts,
		Username:      parts[2],
		MessageType:   MessageType(mtRaw),
		NATAccess:     parts[4],
		ServerAuth:    parts[5],
		ClientTimeout: clientTimeout,
		MessageBody:   parts[7],
	}, nil
}

func isNATType(mt MessageType) bool {
	switch mt {
	case MessageNATAccess, MessageClientTimeoutNATAccess, MessageLocalNATAccess, MessageClientTimeoutLocalNATAccess:
		return true
	default:
		return false
	}
}

// isLocalNATType reports whether mt is the local-port variant of NAT
// access (rewrite to a local port) rather than the forwarding variant
// (forward to a different internal host) — the two are gated by distinct
// firewall capability flags.
func isLocalNATType(mt MessageType) bool {
	return mt == MessageLocalNATAccess || mt == MessageClientTimeoutLocalNATAccess
}

func isServiceType(mt MessageType) bool {
	return mt == MessageServiceAccess || mt == MessageClientTimeoutServiceAccess
}

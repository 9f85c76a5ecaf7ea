// Package spapacket implements cheap, pre-cryptographic normalization of an
// inbound SPA datagram: length gates, the replay-prefix blacklist, the
// optional HTTP-tunnel unwrap, base64 validation, and identity extraction.
package spapacket

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// Size and protocol constants (fwknop's MIN_SPA_SIZE / MAX_SPA_LINE_LEN family).
const (
	MinSPASize = 16
	MaxSPALen  = 1500

	// b64SDPIDStrLen is the number of base64 characters that encode the
	// 4-byte identity prefix (RawURLEncoding: ceil(4*8/6) = 6, no padding).
	b64SDPIDStrLen = 6

	httpTunnelPrefixLen = len("GET /")
	httpUserAgentMarker = "User-Agent: Fwknop"
)

// rijndaelB64Prefix and gpgB64Prefix are the base64 prefixes a legitimate
// ciphertext never carries on the wire: the crypto library only adds its
// framing prefix to the *decoded* output, so a packet carrying one of these
// in the clear is either malformed or a replay with a staples-on prefix.
var (
	rijndaelB64Prefix = []byte("U2FsdGVkX1") // base64("Salted__")
	gpgB64Prefix      = []byte("hQ")         // base64 of the OpenPGP packet tag leading byte
)

var (
	// ErrBadData marks structural malformation: length, blacklisted prefix, bad base64.
	ErrBadData = errors.New("bad data")
	// ErrNotSPAData marks syntactically legal input that isn't an SPA packet for us.
	ErrNotSPAData = errors.New("not spa data")

	ErrPayloadLength     = fmt.Errorf("%w: payload length out of range", ErrBadData)
	ErrBlacklistedPrefix = fmt.Errorf("%w: blacklisted wire prefix", ErrBadData)
	ErrTunnelMalformed   = fmt.Errorf("%w: malformed http tunnel wrapper", ErrBadData)
	ErrTunnelTooShort    = fmt.Errorf("%w: http tunnel payload below minimum size", ErrBadData)
	ErrNotBase64         = fmt.Errorf("%w: payload is not valid base64", ErrNotSPAData)
	ErrIdentityZero      = fmt.Errorf("%w: decoded identity is zero", ErrNotSPAData)
)

// Config carries the subset of daemon configuration the preprocessor consults.
type Config struct {
	EnableSPAOverHTTP bool
	IdentityEnabled   bool
}

// Packet is one received datagram, owned by the caller for the duration of
// one pipeline pass. The receiver loop is the sole producer of a Packet
// value; nothing shares or mutates it concurrently (Design Notes: owned
// value passed by move, replacing a shared mutable packet slot).
type Packet struct {
	Payload []byte
	SrcAddr netip.AddrPort
	DstAddr netip.AddrPort
}

// Identity is the optional client identifier carried in the packet's clear
// prefix when identity mode is enabled.
type Identity struct {
	Present bool
	Numeric uint32
	Text    string
}

// Normalized is the preprocessor's output: the raw wire payload (fed to
// the replay cache, which fingerprints ciphertext as received), its
// base64-decoded form (fed to the crypto dispatcher), and whatever
// identity was extracted.
type Normalized struct {
	Payload  []byte
	Decoded  []byte
	SrcAddr  netip.AddrPort
	DstAddr  netip.AddrPort
	Identity Identity
}

// tunnelReplacer undoes the URL-safe substitutions the HTTP-tunnel variant
// applies on top of the extended base64 alphabet.
var tunnelReplacer = strings.NewReplacer("-", "+", "_", "/")

// Preprocess runs the five-step validation chain from the packet
// preprocessor specification and returns either a Normalized payload or a
// wrapped ErrBadData/ErrNotSPAData.
func Preprocess(cfg Config, pkt Packet) (Normalized, error) {
	payload := pkt.Payload
	viaTunnel := false

	// Step 3 runs before the length gate when the HTTP-tunnel variant is
	// enabled, since the wire length of a wrapped packet includes HTTP
	// framing the length gate was never meant to see.
	if cfg.EnableSPAOverHTTP && looksLikeHTTPTunnel(payload) {
		unwrapped, err := unwrapHTTPTunnel(payload)
		if err != nil {
			return Normalized{}, err
		}
		payload = unwrapped
		viaTunnel = true
	}

	// Step 1: length gate.
	if len(payload) < MinSPASize || len(payload) > MaxSPALen {
		return Normalized{}, fmt.Errorf("%w: len=%d", ErrPayloadLength, len(payload))
	}

	// Step 2: prefix blacklist.
	if bytes.HasPrefix(payload, rijndaelB64Prefix) || bytes.HasPrefix(payload, gpgB64Prefix) {
		return Normalized{}, ErrBlacklistedPrefix
	}

	// Step 4: base64 check. The tunnel variant has already reversed its
	// URL-safe substitution back to the standard '+'/'/' alphabet
	// (unwrapHTTPTunnel), so it decodes with RawStdEncoding; a
	// non-tunneled packet arrives in the extended URL-safe alphabet and
	// decodes with RawURLEncoding directly.
	enc := base64.RawURLEncoding
	if viaTunnel {
		enc = base64.RawStdEncoding
	}

	decodedLen := enc.DecodedLen(len(payload))
	decoded := make([]byte, decodedLen)
	n, err := enc.Decode(decoded, payload)
	if err != nil {
		return Normalized{}, fmt.Errorf("%w: %w", ErrNotBase64, err)
	}
	decoded = decoded[:n]

	norm := Normalized{
		Payload: payload,
		Decoded: decoded,
		SrcAddr: pkt.SrcAddr,
		DstAddr: pkt.DstAddr,
	}

	// Step 5: identity extraction.
	if cfg.IdentityEnabled {
		ident, err := extractIdentity(decoded)
		if err != nil {
			return Normalized{}, err
		}
		norm.Identity = ident
	}

	return norm, nil
}

func looksLikeHTTPTunnel(payload []byte) bool {
	return bytes.HasPrefix(payload, []byte("GET /")) && bytes.Contains(payload, []byte(httpUserAgentMarker))
}

// unwrapHTTPTunnel strips the "GET /" prefix, truncates at the first
// whitespace, and reverses the URL-safe substitutions, per the HTTP-tunnel
// wire-format note: bytes 5..first-whitespace, '-'→'+', '_'→'/'.
func unwrapHTTPTunnel(payload []byte) ([]byte, error) {
	if len(payload) <= httpTunnelPrefixLen {
		return nil, ErrTunnelMalformed
	}

	rest := payload[httpTunnelPrefixLen:]
	end := bytes.IndexAny(rest, " \t\r\n")
	if end < 0 {
		return nil, ErrTunnelMalformed
	}
	rest = rest[:end]

	unwrapped := []byte(tunnelReplacer.Replace(string(rest)))
	if len(unwrapped) < MinSPASize {
		return nil, ErrTunnelTooShort
	}
	return unwrapped, nil
}

// extractIdentity reads the big-endian 32-bit client identity from the
// first 4 bytes of the decoded payload (SPEC_FULL.md §D.1: the wire format
// is explicit about byte order even though the original C source's
// behavior was ambiguous).
func extractIdentity(decoded []byte) (Identity, error) {
	if len(decoded) < 4 {
		return Identity{}, fmt.Errorf("%w: decoded payload shorter than identity prefix", ErrNotSPAData)
	}

	numeric := binary.BigEndian.Uint32(decoded[:4])
	if numeric == 0 {
		return Identity{}, ErrIdentityZero
	}

	return Identity{
		Present: true,
		Numeric: numeric,
		Text:    fmt.Sprintf("%d", numeric),
	}, nil
}

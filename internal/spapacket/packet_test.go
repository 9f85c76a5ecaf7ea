package spapacket

import (
	"encoding/base64"
	"errors"
	"net/netip"
	"testing"
)

func mustAddr(s string) netip.AddrPort {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		panic(err)
	}
	return ap
}

func encodePayload(t *testing.T, raw []byte) []byte {
	t.Helper()
	out := make([]byte, base64.RawURLEncoding.EncodedLen(len(raw)))
	base64.RawURLEncoding.Encode(out, raw)
	return out
}

func TestPreprocessLengthGate(t *testing.T) {
	pkt := Packet{
		Payload: []byte("short"),
		SrcAddr: mustAddr("1.2.3.4:9999"),
	}

	_, err := Preprocess(Config{}, pkt)
	if !errors.Is(err, ErrPayloadLength) {
		t.Fatalf("expected ErrPayloadLength, got %v", err)
	}
}

func TestPreprocessBlacklistedPrefix(t *testing.T) {
	pkt := Packet{
		Payload: []byte("U2FsdGVkX1" + strings16()),
		SrcAddr: mustAddr("1.2.3.4:9999"),
	}

	_, err := Preprocess(Config{}, pkt)
	if !errors.Is(err, ErrBlacklistedPrefix) {
		t.Fatalf("expected ErrBlacklistedPrefix, got %v", err)
	}
}

func strings16() string {
	return "abcdefghijklmnop"
}

func TestPreprocessIdentityExtraction(t *testing.T) {
	raw := make([]byte, 32)
	raw[0], raw[1], raw[2], raw[3] = 0x00, 0x00, 0x01, 0x2c // identity = 300
	payload := encodePayload(t, raw)

	pkt := Packet{
		Payload: payload,
		SrcAddr: mustAddr("1.2.3.4:9999"),
	}

	norm, err := Preprocess(Config{IdentityEnabled: true}, pkt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !norm.Identity.Present {
		t.Fatalf("expected identity present")
	}
	if norm.Identity.Numeric != 300 {
		t.Fatalf("expected identity 300, got %d", norm.Identity.Numeric)
	}
	if norm.Identity.Text != "300" {
		t.Fatalf("expected identity text %q, got %q", "300", norm.Identity.Text)
	}
}

func TestPreprocessIdentityZeroRejected(t *testing.T) {
	raw := make([]byte, 32)
	payload := encodePayload(t, raw)

	pkt := Packet{
		Payload: payload,
		SrcAddr: mustAddr("1.2.3.4:9999"),
	}

	_, err := Preprocess(Config{IdentityEnabled: true}, pkt)
	if !errors.Is(err, ErrIdentityZero) {
		t.Fatalf("expected ErrIdentityZero, got %v", err)
	}
}

func TestPreprocessHTTPTunnel(t *testing.T) {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	inner := encodePayload(t, raw)

	wrapped := append([]byte("GET /"), inner...)
	wrapped = append(wrapped, []byte(" HTTP/1.1\r\nUser-Agent: Fwknop/2.6\r\n\r\n")...)

	pkt := Packet{
		Payload: wrapped,
		SrcAddr: mustAddr("1.2.3.4:9999"),
	}

	norm, err := Preprocess(Config{EnableSPAOverHTTP: true}, pkt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(norm.Payload) != string(inner) {
		t.Fatalf("expected unwrapped payload %q, got %q", inner, norm.Payload)
	}
}

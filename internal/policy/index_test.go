package policy

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/nullbind/spafwd/internal/spapacket"
)

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	if err != nil {
		t.Fatalf("ParsePrefix(%q): %v", s, err)
	}
	return p
}

func TestClassicLookupOrdersCandidates(t *testing.T) {
	wrongA := &AccessStanza{Name: "wrongA", SourceList: []netip.Prefix{mustPrefix(t, "1.2.0.0/16")}}
	wrongB := &AccessStanza{Name: "wrongB", SourceList: []netip.Prefix{mustPrefix(t, "1.2.0.0/16")}}
	correct := &AccessStanza{Name: "correct", SourceList: []netip.Prefix{mustPrefix(t, "1.2.0.0/16")}}

	set := NewClassicSet([]*AccessStanza{wrongA, wrongB, correct})

	result, err := set.Lookup(netip.MustParseAddr("1.2.3.4"), spapacket.Identity{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(result.Candidates))
	}
	if result.Candidates[2] != correct {
		t.Fatalf("expected correct stanza last in candidate order")
	}
}

func TestClassicLookupNoSourceMatch(t *testing.T) {
	st := &AccessStanza{Name: "office", SourceList: []netip.Prefix{mustPrefix(t, "10.0.0.0/8")}}
	set := NewClassicSet([]*AccessStanza{st})

	_, err := set.Lookup(netip.MustParseAddr("1.2.3.4"), spapacket.Identity{})
	if !errors.Is(err, ErrNoSourceMatch) {
		t.Fatalf("expected ErrNoSourceMatch, got %v", err)
	}
}

func TestIdentityLookupMiss(t *testing.T) {
	set := NewIdentitySet(map[string]*AccessStanza{
		"300": {Name: "office"},
	})

	_, err := set.Lookup(netip.MustParseAddr("1.2.3.4"), spapacket.Identity{Present: true, Text: "999"})
	if !errors.Is(err, ErrIdentityMiss) {
		t.Fatalf("expected ErrIdentityMiss, got %v", err)
	}
}

func TestIdentityLookupHit(t *testing.T) {
	want := &AccessStanza{Name: "office"}
	set := NewIdentitySet(map[string]*AccessStanza{"300": want})

	result, err := set.Lookup(netip.MustParseAddr("1.2.3.4"), spapacket.Identity{Present: true, Text: "300"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Candidates) != 1 || result.Candidates[0] != want {
		t.Fatalf("expected single resolved stanza %v, got %v", want, result.Candidates)
	}
}

package policy

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/nullbind/spafwd/internal/spapacket"
)

// Mode selects which of the two lookup strategies a Set uses.
type Mode int

const (
	ModeClassic Mode = iota
	ModeIdentity
)

var (
	// ErrIdentityMiss is a hard reject: identity mode found no stanza for
	// the packet's identity and the packet is dropped before decryption
	// is ever attempted (§8 P5).
	ErrIdentityMiss = errors.New("identity not found in policy index")
	// ErrNoSourceMatch means classic mode found no stanza whose source
	// list contains the packet's source address; dropped silently.
	ErrNoSourceMatch = errors.New("no stanza matches source address")
	// ErrIdentityRequired is returned when the set is in identity mode
	// but the packet carried no identity (preprocessing should have
	// already rejected this; defensive only).
	ErrIdentityRequired = errors.New("policy index requires an identity but packet carried none")
)

// Result is the outcome of one lookup: in classic mode, zero or more
// coarsely-filtered candidate stanzas to try in order; in identity mode,
// exactly one resolved stanza.
type Result struct {
	Mode       Mode
	Candidates []*AccessStanza
}

// Set is the access-policy index: either an ordered list searched linearly
// (classic) or a map keyed by identity text, guarded by a mutex whose
// scope covers only the single lookup call — the stanza pointer it
// returns remains valid afterwards because the control plane guarantees
// stanzas are not freed while any worker references them (§5).
type Set struct {
	mode Mode

	mu         sync.RWMutex
	ordered    []*AccessStanza
	byIdentity map[string]*AccessStanza
}

// NewClassicSet builds a Set that performs an ordered linear scan.
func NewClassicSet(stanzas []*AccessStanza) *Set {
	return &Set{mode: ModeClassic, ordered: stanzas}
}

// NewIdentitySet builds a Set that performs an identity-keyed hash lookup.
func NewIdentitySet(byIdentity map[string]*AccessStanza) *Set {
	return &Set{mode: ModeIdentity, byIdentity: byIdentity}
}

// Mode reports which lookup strategy this Set uses.
func (s *Set) Mode() Mode { return s.mode }

// Lookup resolves the candidate stanza(s) for one packet. In classic mode
// it returns every stanza whose source list contains srcIP, in insertion
// order, as coarse candidates for C4/C5 to try in turn (stanza isolation,
// §8 P3: a wrong-keyed stanza earlier in the list never changes whether a
// correct one later succeeds). In identity mode it returns the single
// stanza keyed by identity.Text, or ErrIdentityMiss on a miss — a hard
// reject before any decryption is attempted.
func (s *Set) Lookup(srcIP netip.Addr, identity spapacket.Identity) (Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.mode {
	case ModeIdentity:
		if !identity.Present {
			return Result{}, ErrIdentityRequired
		}
		stanza, ok := s.byIdentity[identity.Text]
		if !ok {
			return Result{}, ErrIdentityMiss
		}
		return Result{Mode: ModeIdentity, Candidates: []*AccessStanza{stanza}}, nil

	default:
		var candidates []*AccessStanza
		for _, st := range s.ordered {
			if st.SourceMatches(srcIP) {
				candidates = append(candidates, st)
			}
		}
		if len(candidates) == 0 {
			return Result{}, fmt.Errorf("%w: src=%s", ErrNoSourceMatch, srcIP)
		}
		return Result{Mode: ModeClassic, Candidates: candidates}, nil
	}
}

// All returns every stanza currently loaded, in a stable order, for the
// admin control plane's ListStanzas RPC. The returned slice is a fresh
// copy safe to range over without holding the Set's lock.
func (s *Set) All() []*AccessStanza {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.mode == ModeIdentity {
		out := make([]*AccessStanza, 0, len(s.byIdentity))
		for _, st := range s.byIdentity {
			out = append(out, st)
		}
		return out
	}

	out := make([]*AccessStanza, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// ByName returns the stanza with the given name, if loaded.
func (s *Set) ByName(name string) (*AccessStanza, bool) {
	for _, st := range s.All() {
		if st.Name == name {
			return st, true
		}
	}
	return nil, false
}

// Reload atomically swaps this Set's contents (and, if it changed, lookup
// mode) for newly loaded policy — the same guarantee §5 relies on to keep
// in-flight stanza references valid across a reload boundary.
func (s *Set) Reload(mode Mode, ordered []*AccessStanza, byIdentity map[string]*AccessStanza) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.ordered = ordered
	s.byIdentity = byIdentity
}

package spapipe

import (
	"net/netip"
	"sync"
	"time"

	"github.com/nullbind/spafwd/internal/validator"
)

// feedChSize bounds each subscriber's buffer. Mirrors the BFD manager's
// fixed-size public notification channel: a slow consumer drops
// notifications rather than ever blocking the pipeline.
const feedChSize = 64

// VerdictEvent is one pipeline outcome, published for the admin control
// plane's TailVerdicts RPC. It never carries the decrypted message body —
// only enough to audit which stanza fired and why.
type VerdictEvent struct {
	Kind       validator.Kind
	StanzaName string
	SourceAddr netip.Addr
	Reason     error
	Timestamp  time.Time
}

// VerdictFeed fans a stream of VerdictEvents out to zero or more
// subscribers (typically RPC streaming handlers). Grounded on
// bfd.Manager's rawNotifyCh/publicNotifyCh fan-out: a full subscriber
// buffer causes that subscriber's event to be dropped silently (nothing
// is logged), never a block on the pipeline goroutine.
type VerdictFeed struct {
	mu   sync.Mutex
	subs map[chan VerdictEvent]struct{}
}

// NewVerdictFeed builds an empty feed.
func NewVerdictFeed() *VerdictFeed {
	return &VerdictFeed{subs: make(map[chan VerdictEvent]struct{})}
}

// Subscribe registers a new receiver channel. Call the returned cancel
// func to unsubscribe and release the channel.
func (f *VerdictFeed) Subscribe() (ch <-chan VerdictEvent, cancel func()) {
	c := make(chan VerdictEvent, feedChSize)

	f.mu.Lock()
	f.subs[c] = struct{}{}
	f.mu.Unlock()

	return c, func() {
		f.mu.Lock()
		delete(f.subs, c)
		f.mu.Unlock()
		close(c)
	}
}

// Publish broadcasts ev to every current subscriber, dropping it for any
// subscriber whose buffer is full rather than blocking the caller.
func (f *VerdictFeed) Publish(ev VerdictEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for c := range f.subs {
		select {
		case c <- ev:
		default:
		}
	}
}

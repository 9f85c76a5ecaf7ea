// Package replaycache implements the persistent, at-most-once admission
// check over received SPA ciphertexts: the digest of a packet is computed
// once and checked against (then later added to) a durable set, so the
// same packet can never be admitted twice.
package replaycache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Digest is the stable fingerprint of one received payload.
type Digest [sha256.Size]byte

// ErrDigestError marks a failure computing or persisting a digest.
var ErrDigestError = errors.New("digest error")

// ErrReplay is returned by Screen when the digest is already present.
var ErrReplay = errors.New("replayed packet rejected")

// Store is the durable set of admitted digests. Implementations must be
// safe for concurrent use; a typical implementation is a directory of
// zero-length files named by hex digest, or an embedded key-value store.
type Store interface {
	Contains(d Digest) (bool, error)
	Insert(d Digest) error
}

// Cache wraps a Store with the fingerprint/screen/commit contract. With
// persistence disabled it always reports a fresh digest and commits are
// no-ops — the pipeline still runs every other check, it simply never
// suppresses a repeat.
type Cache struct {
	store   Store
	enabled bool
}

// New builds a Cache. enabled mirrors ENABLE_DIGEST_PERSISTENCE.
func New(store Store, enabled bool) *Cache {
	return &Cache{store: store, enabled: enabled}
}

// Fingerprint computes the default digest over the raw base64 payload.
// The original computes this via a decryption-less crypto-library context;
// since §4.2 only requires a stable digest, SHA-256 over the wire bytes
// serves identically and needs no crypto-library round trip.
func Fingerprint(payload []byte) Digest {
	return sha256.Sum256(payload)
}

// Screen computes the digest and, if persistence is enabled, rejects with
// ErrReplay when it is already present. It never inserts: insertion is
// deferred to Commit, called only after decryption succeeds (§4.2 —
// inserting on mere receipt would let an attacker DoS a legitimate client
// by replaying the client's own ciphertext before the client does).
func (c *Cache) Screen(payload []byte) (Digest, error) {
	digest := Fingerprint(payload)

	if !c.enabled {
		return digest, nil
	}

	present, err := c.store.Contains(digest)
	if err != nil {
		return digest, fmt.Errorf("replay cache lookup: %w: %w", ErrDigestError, err)
	}
	if present {
		return digest, ErrReplay
	}

	return digest, nil
}

// Commit durably records digest. Idempotent: inserting an already-present
// digest is not an error.
func (c *Cache) Commit(digest Digest) error {
	if !c.enabled {
		return nil
	}
	if err := c.store.Insert(digest); err != nil {
		return fmt.Errorf("replay cache commit: %w: %w", ErrDigestError, err)
	}
	return nil
}

// Sizer is an optional capability a Store may implement to report how
// many digests it currently holds, consulted by the admin control plane's
// InspectReplayCache RPC.
type Sizer interface {
	Size() (int, error)
}

// Size reports the number of admitted digests, or -1 if the underlying
// Store does not implement Sizer.
func (c *Cache) Size() (int, error) {
	sizer, ok := c.store.(Sizer)
	if !ok {
		return -1, nil
	}
	return sizer.Size()
}

// ContainsHex reports whether the hex-encoded digest has already been
// admitted, for ad hoc operator inspection.
func (c *Cache) ContainsHex(hexDigest string) (bool, error) {
	raw, err := hex.DecodeString(hexDigest)
	if err != nil {
		return false, fmt.Errorf("decode digest %q: %w", hexDigest, err)
	}
	var d Digest
	if len(raw) != len(d) {
		return false, fmt.Errorf("digest %q: want %d bytes, got %d", hexDigest, len(d), len(raw))
	}
	copy(d[:], raw)
	return c.store.Contains(d)
}

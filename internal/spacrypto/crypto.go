// Package spacrypto implements the Crypto Dispatcher (C4): symmetric
// Rijndael decryption, GPG-subprocess decryption, and the HMAC
// verification gate each path goes through. CryptoContext generalizes
// bfd/auth.go's Authenticator interface (Sign/Verify over a keyed MAC)
// into a scoped, owning handle that also decrypts.
package spacrypto

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nullbind/spafwd/internal/policy"
)

var (
	// ErrNoMatchingKeyType means this stanza's configured crypto types
	// don't match the detected wire encryption — the stanza is skipped,
	// not tried (§4.4: "neither path was attempted").
	ErrNoMatchingKeyType = errors.New("no matching key type for detected encryption")
	// ErrDecryptFailure covers wrong key, tampered ciphertext, or HMAC
	// mismatch uniformly — §9's resolved open question: HMAC failure is
	// never a separate status, only ever this error.
	ErrDecryptFailure = errors.New("decrypt failure")
	// ErrFkoCtxError marks crypto context construction failing for a
	// reason the caller didn't cause (bad key material shape, exec
	// lookup failure for the GPG binary).
	ErrFkoCtxError = errors.New("crypto context initialization error")
)

// CryptoContext is the opaque decryption handle §6 names
// (CryptoContext::{new_with_data, decrypt, set_gpg_*, get_*, destroy}),
// modeled as a Go interface with a guaranteed Zero on every exit path
// rather than a manual destroy-with-zero-out-check obligation on the
// caller (Design Notes).
type CryptoContext interface {
	// Decrypt attempts decryption and, for the symmetric path, MAC
	// verification. A non-nil error is always ErrDecryptFailure or
	// wraps it.
	Decrypt(ciphertext []byte) ([]byte, error)
	// Zero destroys sensitive key material held by the context. A
	// returned error is a zero-out failure to be logged as a warning,
	// never a reason to abort the stanza loop (§4.7).
	Zero() error
}

// Attempt runs the §4.4 decision matrix for one stanza against one
// decoded (base64-decoded, still-encrypted) payload. It returns the
// plaintext on success. On failure it returns ErrNoMatchingKeyType (skip
// this stanza silently), a wrapped ErrFkoCtxError (the crypto context
// could not be built), or a wrapped ErrDecryptFailure (log and keep
// searching).
func Attempt(logger *slog.Logger, stanza *policy.AccessStanza, decoded []byte) ([]byte, error) {
	detected := policy.DetectEncryptionMode(decoded)

	if stanza.UseRijndael && (detected == policy.EncryptionRijndael || stanza.Exec.EnableCmdExec) {
		ctx, err := NewRijndaelContext(RijndaelParams{
			SymKey:   stanza.SymKey,
			HMACKey:  stanza.HMACKey,
			HMACType: stanza.HMACType,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFkoCtxError, err)
		}
		defer zeroWarn(logger, ctx, stanza.Name)

		plain, err := ctx.Decrypt(decoded)
		if err != nil {
			return nil, fmt.Errorf("rijndael: %w", err)
		}
		return plain, nil
	}

	if stanza.UseGPG && detected == policy.EncryptionGPG &&
		(stanza.GPG.DecryptPW != "" || stanza.GPG.AllowNoPW) {
		ctx, err := NewGPGContext(stanza.GPG)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFkoCtxError, err)
		}
		defer zeroWarn(logger, ctx, stanza.Name)

		plain, err := ctx.Decrypt(decoded)
		if err != nil {
			return nil, fmt.Errorf("gpg: %w", err)
		}
		return plain, nil
	}

	return nil, ErrNoMatchingKeyType
}

// zeroWarn releases a crypto context's sensitive buffers. A zero-out
// failure is logged as a warning and never aborts the stanza loop (§4.7).
func zeroWarn(logger *slog.Logger, ctx CryptoContext, stanzaName string) {
	if err := ctx.Zero(); err != nil && logger != nil {
		logger.Warn("crypto context zero-out failed",
			slog.String("stanza", stanzaName),
			slog.String("error", err.Error()),
		)
	}
}

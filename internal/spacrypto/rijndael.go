package spacrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"fmt"
	"hash"
)

// ErrCiphertextTooShort means the decoded payload is too short to hold an
// IV, at least one cipher block, and a MAC tag.
var ErrCiphertextTooShort = fmt.Errorf("%w: ciphertext too short", ErrDecryptFailure)

// RijndaelParams is the key material a stanza supplies for the symmetric
// path (§4.4's "(sym_key, hmac_key, hmac_type, encryption_mode, identity_numeric)" tuple).
type RijndaelParams struct {
	SymKey   []byte
	HMACKey  []byte
	HMACType string
}

type rijndaelContext struct {
	symKey  []byte
	hmacKey []byte
	hash    func() hash.Hash
}

// NewRijndaelContext builds a CryptoContext for the AES(-CBC) symmetric
// path — the Go stdlib's stand-in for the original Rijndael library, both
// being the same cipher under different names.
func NewRijndaelContext(p RijndaelParams) (CryptoContext, error) {
	if len(p.SymKey) == 0 {
		return nil, errors.New("rijndael: empty symmetric key")
	}

	hashFn, err := hmacHashFor(p.HMACType)
	if err != nil {
		return nil, err
	}

	return &rijndaelContext{
		symKey:  append([]byte(nil), p.SymKey...),
		hmacKey: append([]byte(nil), p.HMACKey...),
		hash:    hashFn,
	}, nil
}

func hmacHashFor(name string) (func() hash.Hash, error) {
	switch name {
	case "", "sha256":
		return sha256.New, nil
	case "sha1":
		return sha1.New, nil
	case "sha512":
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("rijndael: unsupported hmac type %q", name)
	}
}

// deriveKey stretches an arbitrary-length shared secret to a 32-byte AES-256
// key, the same role fwknop's key-derivation step plays ahead of the
// Rijndael cipher.
func deriveKey(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// Decrypt verifies the trailing HMAC over the ciphertext in constant time,
// then AES-CBC-decrypts the body. HMAC failure and cipher/padding failure
// both surface as the single ErrDecryptFailure (§9's resolved question).
func (c *rijndaelContext) Decrypt(payload []byte) ([]byte, error) {
	macSize := c.hash().Size()
	if len(payload) < macSize+aes.BlockSize {
		return nil, ErrCiphertextTooShort
	}

	body := payload[:len(payload)-macSize]
	tag := payload[len(payload)-macSize:]

	mac := hmac.New(c.hash, c.hmacKey)
	mac.Write(body)
	computed := mac.Sum(nil)

	if subtle.ConstantTimeCompare(computed, tag) != 1 {
		return nil, fmt.Errorf("%w: hmac mismatch", ErrDecryptFailure)
	}

	if len(body) < aes.BlockSize || len(body)%aes.BlockSize != 0 {
		return nil, ErrCiphertextTooShort
	}

	iv := body[:aes.BlockSize]
	ciphertext := body[aes.BlockSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block-aligned", ErrDecryptFailure)
	}

	key := deriveKey(c.symKey)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFkoCtxError, err)
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	return pkcs7Unpad(plain)
}

// Zero clears the key material held by this context.
func (c *rijndaelContext) Zero() error {
	for i := range c.symKey {
		c.symKey[i] = 0
	}
	for i := range c.hmacKey {
		c.hmacKey[i] = 0
	}
	return nil
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrDecryptFailure)
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, fmt.Errorf("%w: invalid padding", ErrDecryptFailure)
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("%w: invalid padding", ErrDecryptFailure)
		}
	}
	return data[:len(data)-padLen], nil
}

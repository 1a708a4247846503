// Package crypto wraps the AEAD, key-derivation, and constant-time
// comparison primitives used throughout the transfer protocol: AES-256-GCM
// with a 96-bit nonce and 128-bit tag, HKDF-SHA256 with explicit
// domain-separation labels, and constant-time equality for every
// fingerprint, tag, and proof comparison.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the size of an AES-256-GCM key in bytes.
	KeySize = 32

	// NonceSize is the size of the AES-GCM nonce in bytes (96 bits).
	NonceSize = 12

	// TagSize is the size of the AES-GCM authentication tag in bytes (128 bits).
	TagSize = 16

	// EncryptionOverhead is the total overhead added to a plaintext: the
	// nonce is prepended and the tag is appended by Seal.
	EncryptionOverhead = NonceSize + TagSize
)

// ErrCiphertextTooShort is returned when a ciphertext is shorter than the
// minimum possible size (nonce + tag).
var ErrCiphertextTooShort = errors.New("ciphertext shorter than nonce+tag")

// SessionKey is a handle around an AES-256-GCM key exposing
// derive/encrypt/decrypt/zero. The raw key bytes are extractable: Key
// returns a copy of them. Zero overwrites the bytes held by the handle,
// not copies already returned by Key.
type SessionKey struct {
	key [KeySize]byte
}

// NewSessionKey wraps a raw 32-byte key. Callers that generated the key
// themselves should zero their own copy once this call returns.
func NewSessionKey(key [KeySize]byte) *SessionKey {
	return &SessionKey{key: key}
}

// Seal encrypts plaintext with a freshly generated random nonce and
// additional authenticated data, producing `nonce || ciphertext || tag`.
func (s *SessionKey) Seal(plaintext, aad []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.SealWithNonce(nonce, plaintext, aad)
}

// SealWithNonce encrypts plaintext using the supplied nonce. Callers that
// derive nonces deterministically (e.g. from a per-chunk sequence number)
// MUST guarantee the nonce is never reused for this key.
func (s *SessionKey) SealWithNonce(nonce [NonceSize]byte, plaintext, aad []byte) ([]byte, error) {
	aead, err := s.gcm()
	if err != nil {
		return nil, err
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	copy(out, nonce[:])
	out = aead.Seal(out, nonce[:], plaintext, aad)
	return out, nil
}

// Open decrypts a `nonce || ciphertext || tag` blob produced by Seal.
func (s *SessionKey) Open(ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < EncryptionOverhead {
		return nil, ErrCiphertextTooShort
	}

	aead, err := s.gcm()
	if err != nil {
		return nil, err
	}

	nonce := ciphertext[:NonceSize]
	plaintext, err := aead.Open(nil, nonce, ciphertext[NonceSize:], aad)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

func (s *SessionKey) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("create aes cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return aead, nil
}

// Zero destroys the key material in place. Call this when the session
// ends (completion, cancellation, or TTL expiration).
func (s *SessionKey) Zero() {
	ZeroKey(&s.key)
}

// Key returns a copy of the raw key bytes. Only used by tests and by code
// paths that must hand the key to a lower layer (e.g. a deterministic
// per-chunk nonce builder) that cannot hold a *SessionKey directly.
func (s *SessionKey) Key() [KeySize]byte {
	return s.key
}

// ZeroBytes overwrites a byte slice with zeros.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroKey overwrites a fixed-size key array with zeros.
func ZeroKey(k *[KeySize]byte) {
	for i := range k {
		k[i] = 0
	}
}

package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Domain-separation info labels for every distinct HKDF use in the
// protocol. Each is versioned so the derivation can be changed without
// colliding with an older wire format.
const (
	InfoSessionKey    = "secure-send-session-key-v1"
	InfoSessionBind   = "secure-send-session-bind-v1"
	InfoPublicID      = "secure-send-public-id-v1"
	InfoHMACSignKey   = "secure-send-hmac-v1"
	InfoPasskeyECDH   = "secure-send-passkey-ecdh-v1"
	InfoManualEnvKey  = "secure-send-manual-envelope-v1"
	InfoPinTransferID = "secure-send-pin-transfer-id-v1"
)

// DeriveKey runs HKDF-SHA-256 over secret with the given salt and info
// label, writing outLen bytes of derived key material.
func DeriveKey(secret, salt []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, salt, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("hkdf derive (%s): %w", info, err)
	}
	return out, nil
}

// Derive32 is DeriveKey specialized to a 32-byte output, the size every
// session key and binding value in the protocol uses.
func Derive32(secret, salt []byte, info string) ([32]byte, error) {
	var out [32]byte
	raw, err := DeriveKey(secret, salt, info, 32)
	if err != nil {
		return out, err
	}
	copy(out[:], raw)
	return out, nil
}

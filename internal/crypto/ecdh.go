package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
)

// EphemeralKeypair holds a single-use P-256 ECDH keypair. Zero drops the
// reference to the private key once the shared secret has been computed;
// the scalar bytes themselves are not overwritten. The private key should
// never be persisted or logged.
type EphemeralKeypair struct {
	private *ecdh.PrivateKey
	Public  [65]byte // uncompressed P-256 point, the wire form used in the 'epk' tag
}

// GenerateEphemeralKeypair generates a fresh P-256 ECDH keypair for a
// single handshake. Callers must call Zero on the returned keypair once
// the shared secret has been derived.
func GenerateEphemeralKeypair() (*EphemeralKeypair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate p256 key: %w", err)
	}

	kp := &EphemeralKeypair{private: priv}
	copy(kp.Public[:], priv.PublicKey().Bytes())
	return kp, nil
}

// ComputeECDH performs P-256 ECDH with a peer's uncompressed public point,
// returning the raw shared secret (the X coordinate, per crypto/ecdh). The
// result must be fed through HKDF before use as a key; it is never used
// directly.
func (kp *EphemeralKeypair) ComputeECDH(peerPublic [65]byte) ([]byte, error) {
	peerKey, err := ecdh.P256().NewPublicKey(peerPublic[:])
	if err != nil {
		return nil, fmt.Errorf("parse peer ephemeral public key: %w", err)
	}

	secret, err := kp.private.ECDH(peerKey)
	if err != nil {
		return nil, fmt.Errorf("compute ecdh: %w", err)
	}
	return secret, nil
}

// Zero destroys the private key handle. crypto/ecdh.PrivateKey does not
// expose raw bytes, so this drops the only reference to it; the caller's
// copy of any derived shared secret must be zeroed separately with
// ZeroBytes.
func (kp *EphemeralKeypair) Zero() {
	kp.private = nil
}

// DeriveSessionKey derives the AES-256-GCM session key from a raw ECDH
// shared secret, the per-transfer salt, and the session-key domain label.
// The caller must zero sharedSecret after this call.
func DeriveSessionKey(sharedSecret, salt []byte) (*SessionKey, error) {
	key, err := Derive32(sharedSecret, salt, InfoSessionKey)
	if err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	sk := NewSessionKey(key)
	ZeroKey(&key)
	return sk, nil
}

// DeriveSessionBinding computes the session-binding tag used by
// self-transfer passkey mode: HKDF(identity_shared_secret, salt=peer_epk,
// label="secure-send-session-bind-v1"). The result is compared in
// constant time against the peer's 'esb' tag.
func DeriveSessionBinding(identitySharedSecret, peerEphemeralPublic []byte) ([32]byte, error) {
	return Derive32(identitySharedSecret, peerEphemeralPublic, InfoSessionBind)
}

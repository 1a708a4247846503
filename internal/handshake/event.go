package handshake

import (
	"github.com/andrewtheguy/securesend/internal/identity"
	"github.com/andrewtheguy/securesend/internal/pairing"
)

// Event is the parsed content of a handshake (kind 24243) or ready-ack
// (data-kind, seq=0) rendezvous event: the tag values relevant to
// verification, decoded from their wire encodings.
type Event struct {
	TransferID string

	// SenderFingerprint is the 'spk' tag (passkey modes only).
	SenderFingerprint identity.Fingerprint
	HasSenderFP       bool

	// ReceiverCommitment is the 'rpkc' tag: SHA-256(receiver_public_id)
	// truncated to 16 bytes.
	ReceiverCommitment [16]byte

	// Nonce is the 'n' tag: a 16-byte replay nonce.
	Nonce [16]byte

	// EphemeralPublic is the 'epk' tag: an uncompressed P-256 point.
	EphemeralPublic [65]byte

	// SessionBinding is the 'esb' tag (self-transfer passkey only).
	SessionBinding [32]byte
	HasBinding     bool

	// KeyConfirm is the 'kc' tag (self-transfer passkey only).
	KeyConfirm [32]byte
	HasKeyConfirm bool

	// Salt is the 's' tag: the per-transfer salt used as the HKDF salt
	// when deriving the session key.
	Salt [16]byte

	// PairingKey and HandshakeProof are present for cross-user mode only.
	PairingKey     *pairing.Record
	HandshakeProof [32]byte
	HasProof       bool
}

// ReceiverCommitmentFor computes the 'rpkc' value for a given public ID:
// SHA-256(public_id) truncated to 16 bytes. This is a different truncation
// length than identity.ComputeFingerprint (8 bytes), so it is computed
// directly rather than reusing that helper.
func ReceiverCommitmentFor(publicID identity.PartyID) [16]byte {
	return sha256Truncate16(publicID.Bytes())
}

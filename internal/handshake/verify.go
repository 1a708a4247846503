package handshake

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	xcrypto "github.com/andrewtheguy/securesend/internal/crypto"
	"github.com/andrewtheguy/securesend/internal/identity"
	"github.com/andrewtheguy/securesend/internal/xferr"
)

func sha256Truncate16(b []byte) [16]byte {
	sum := sha256.Sum256(b)
	var out [16]byte
	copy(out[:], sum[:16])
	return out
}

// VerifyContext carries everything the receiver-side verification duties
// need beyond the event itself.
type VerifyContext struct {
	// ExpectedSenderFingerprint is required for passkey modes (checks 1).
	ExpectedSenderFingerprint identity.Fingerprint

	// OwnPublicID is required for all modes (check 2) and cross-user (check 3).
	OwnPublicID identity.PartyID

	// OwnFingerprint is this party's own fingerprint, used as the last
	// element of the handshake-proof message (check 4).
	OwnFingerprint identity.Fingerprint

	// PeerVS is the verification secret belonging to the peer's slot in
	// the pairing record, read directly from the record's init_vs or
	// counter_vs field (cross-user only, check 4).
	PeerVS [32]byte

	// IdentitySharedSecret is the ECDH shared secret between the two
	// devices' identity keys (self-transfer passkey only, checks 5-6).
	IdentitySharedSecret []byte
}

// rejection wraps an underlying cause as a HandshakeRejected error, the
// taxonomy kind for every verification-duty failure.
func rejection(reason string) error {
	return xferr.New(xferr.HandshakeRejected, fmt.Errorf("%s", reason))
}

// VerifyFingerprint is duty 1: the 'spk' tag equals the expected sender
// fingerprint, compared in constant time. Applies to both passkey modes.
func VerifyFingerprint(ev *Event, expected identity.Fingerprint) error {
	if !ev.HasSenderFP {
		return rejection("missing sender fingerprint tag")
	}
	if !xcrypto.ConstantTimeEqual(ev.SenderFingerprint[:], expected[:]) {
		return rejection("sender fingerprint mismatch")
	}
	return nil
}

// VerifyReceiverCommitment is duty 2: SHA-256(own_public_id) truncated to
// 16 bytes equals the 'rpkc' tag. Applies to all modes.
func VerifyReceiverCommitment(ev *Event, ownPublicID identity.PartyID) error {
	want := ReceiverCommitmentFor(ownPublicID)
	if !xcrypto.ConstantTimeEqual(ev.ReceiverCommitment[:], want[:]) {
		return rejection("receiver commitment mismatch")
	}
	return nil
}

// VerifySenderPairingKey is duty 3 (cross-user only): the sender's
// pairing key must include ownPublicID as a party, and the *other*
// slot's fingerprint must equal the event's 'spk' tag.
func VerifySenderPairingKey(ev *Event, ownPublicID identity.PartyID) error {
	if ev.PairingKey == nil {
		return rejection("missing pairing key")
	}
	rec := ev.PairingKey

	var peerID identity.PartyID
	switch {
	case ownPublicID.Equal(rec.AID):
		peerID = rec.BID
	case ownPublicID.Equal(rec.BID):
		peerID = rec.AID
	default:
		return rejection("own public id is not a party to the pairing key")
	}

	peerFP := identity.ComputeFingerprint(peerID)
	if !ev.HasSenderFP || !xcrypto.ConstantTimeEqual(peerFP[:], ev.SenderFingerprint[:]) {
		return rejection("pairing key counterparty fingerprint does not match spk")
	}
	return nil
}

// VerifyHandshakeProof is duty 4 (cross-user only): recompute
// HMAC(peer_vs, peer_epk || nonce || own_fingerprint) and compare to the
// event's handshake proof.
func VerifyHandshakeProof(ev *Event, peerVS [32]byte, ownFingerprint identity.Fingerprint) error {
	if !ev.HasProof {
		return rejection("missing handshake proof")
	}
	mac := hmac.New(sha256.New, peerVS[:])
	mac.Write(ev.EphemeralPublic[:])
	mac.Write(ev.Nonce[:])
	mac.Write(ownFingerprint[:])
	expected := mac.Sum(nil)

	if !xcrypto.ConstantTimeEqual(expected, ev.HandshakeProof[:]) {
		return rejection("handshake proof verification failed")
	}
	return nil
}

// ComputeHandshakeProof computes the value a sender publishes as its
// handshake proof: HMAC(own_vs, own_epk || nonce || peer_fingerprint).
func ComputeHandshakeProof(ownVS [32]byte, ownEphemeralPublic [65]byte, nonce [16]byte, peerFingerprint identity.Fingerprint) [32]byte {
	mac := hmac.New(sha256.New, ownVS[:])
	mac.Write(ownEphemeralPublic[:])
	mac.Write(nonce[:])
	mac.Write(peerFingerprint[:])
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// VerifySessionBinding is duty 5 (self-transfer passkey only): recompute
// HKDF(identity_shared_secret, salt=peer_epk, label) and compare to 'esb'.
func VerifySessionBinding(ev *Event, identitySharedSecret []byte) error {
	if !ev.HasBinding {
		return rejection("missing session binding tag")
	}
	expected, err := xcrypto.DeriveSessionBinding(identitySharedSecret, ev.EphemeralPublic[:])
	if err != nil {
		return rejection(fmt.Sprintf("compute session binding: %v", err))
	}
	if !xcrypto.ConstantTimeEqual(expected[:], ev.SessionBinding[:]) {
		return rejection("session binding mismatch")
	}
	return nil
}

// ComputeKeyConfirmation derives the confirmation value both parties
// compute from the session key and per-transfer salt, hashed for
// transmission as the 'kc' tag.
func ComputeKeyConfirmation(sessionKey *xcrypto.SessionKey, salt []byte) [32]byte {
	key := sessionKey.Key()
	h := sha256.New()
	h.Write(key[:])
	h.Write(salt)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// VerifyKeyConfirmation is duty 6 (self-transfer passkey only): derive
// the confirmation value from the session key and salt, and compare to
// the event's 'kc' tag.
func VerifyKeyConfirmation(ev *Event, sessionKey *xcrypto.SessionKey, salt []byte) error {
	if !ev.HasKeyConfirm {
		return rejection("missing key confirmation tag")
	}
	expected := ComputeKeyConfirmation(sessionKey, salt)
	if !xcrypto.ConstantTimeEqual(expected[:], ev.KeyConfirm[:]) {
		return rejection("key confirmation mismatch")
	}
	return nil
}

// VerifyCounterparty runs every verification duty applicable to mode, in
// the order specified, aborting at the first failure.
func VerifyCounterparty(mode Mode, ev *Event, ctx VerifyContext, sessionKey *xcrypto.SessionKey, pinSalt []byte) error {
	if mode != ModePIN {
		if err := VerifyFingerprint(ev, ctx.ExpectedSenderFingerprint); err != nil {
			return err
		}
	}

	if err := VerifyReceiverCommitment(ev, ctx.OwnPublicID); err != nil {
		return err
	}

	if mode == ModeCrossUserPairingKey {
		if err := VerifySenderPairingKey(ev, ctx.OwnPublicID); err != nil {
			return err
		}
		if err := VerifyHandshakeProof(ev, ctx.PeerVS, ctx.OwnFingerprint); err != nil {
			return err
		}
	}

	if mode == ModeSelfTransferPasskey {
		if err := VerifySessionBinding(ev, ctx.IdentitySharedSecret); err != nil {
			return err
		}
		if sessionKey != nil {
			if err := VerifyKeyConfirmation(ev, sessionKey, pinSalt); err != nil {
				return err
			}
		}
	}

	return nil
}

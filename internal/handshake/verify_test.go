package handshake

import (
	"testing"
	"time"

	xcrypto "github.com/andrewtheguy/securesend/internal/crypto"
	"github.com/andrewtheguy/securesend/internal/identity"
	"github.com/andrewtheguy/securesend/internal/pairing"
)

// pairingRecordFor builds a countersigned record between a and b, with a
// as the initiator, for tests that only care about the resulting record's
// shape rather than the HMAC keys behind it.
func pairingRecordFor(t *testing.T, a, b identity.PartyID) *pairing.Record {
	t.Helper()
	var aPPK, bPPK [32]byte
	aPPK[0], bPPK[0] = 1, 2
	aHMAC := make([]byte, 32)
	bHMAC := make([]byte, 32)
	for i := range aHMAC {
		aHMAC[i] = byte(i)
		bHMAC[i] = byte(255 - i)
	}

	req, err := pairing.CreateRequest(aHMAC, a, aPPK, b, bPPK, time.Now().Unix(), "")
	if err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}
	rec, err := pairing.Countersign(req, bHMAC, b, bPPK)
	if err != nil {
		t.Fatalf("Countersign() error = %v", err)
	}
	return rec
}

func newPartyID(t *testing.T) identity.PartyID {
	t.Helper()
	id, err := identity.NewPartyID()
	if err != nil {
		t.Fatalf("NewPartyID() error = %v", err)
	}
	return id
}

func TestVerifyFingerprint(t *testing.T) {
	sender := newPartyID(t)
	fp := identity.ComputeFingerprint(sender)

	ev := &Event{SenderFingerprint: fp, HasSenderFP: true}
	if err := VerifyFingerprint(ev, fp); err != nil {
		t.Errorf("VerifyFingerprint() error = %v, want nil", err)
	}

	other := identity.ComputeFingerprint(newPartyID(t))
	if err := VerifyFingerprint(ev, other); err == nil {
		t.Error("expected mismatch error")
	}

	missing := &Event{}
	if err := VerifyFingerprint(missing, fp); err == nil {
		t.Error("expected error for missing sender fingerprint tag")
	}
}

func TestVerifyReceiverCommitment(t *testing.T) {
	receiver := newPartyID(t)
	ev := &Event{ReceiverCommitment: ReceiverCommitmentFor(receiver)}

	if err := VerifyReceiverCommitment(ev, receiver); err != nil {
		t.Errorf("VerifyReceiverCommitment() error = %v, want nil", err)
	}

	if err := VerifyReceiverCommitment(ev, newPartyID(t)); err == nil {
		t.Error("expected mismatch error for a different public id")
	}
}

func TestReceiverCommitmentFor_DifferentFromFingerprint(t *testing.T) {
	id := newPartyID(t)
	commitment := ReceiverCommitmentFor(id)
	fp := identity.ComputeFingerprint(id)

	if len(commitment) == len(fp) {
		t.Fatalf("commitment and fingerprint unexpectedly share a length: %d", len(commitment))
	}
	// Both are truncations of SHA-256(id); the fingerprint's 8 bytes must
	// be a prefix of the commitment's 16.
	for i := range fp {
		if commitment[i] != fp[i] {
			t.Errorf("commitment[%d] = %x, want %x (prefix of fingerprint)", i, commitment[i], fp[i])
		}
	}
}

func TestVerifySenderPairingKey(t *testing.T) {
	a := newPartyID(t)
	b := newPartyID(t)

	rec := pairingRecordFor(t, a, b)

	ev := &Event{
		PairingKey:        rec,
		SenderFingerprint: identity.ComputeFingerprint(a),
		HasSenderFP:       true,
	}

	// b verifying a's pairing key sees a's fingerprint as the expected spk.
	if err := VerifySenderPairingKey(ev, b); err != nil {
		t.Errorf("VerifySenderPairingKey() error = %v, want nil", err)
	}

	// An id not party to the record is rejected.
	if err := VerifySenderPairingKey(ev, newPartyID(t)); err == nil {
		t.Error("expected rejection for a non-party public id")
	}

	// A mismatched spk tag is rejected even for a valid party.
	badEv := &Event{PairingKey: rec, SenderFingerprint: identity.ComputeFingerprint(newPartyID(t)), HasSenderFP: true}
	if err := VerifySenderPairingKey(badEv, b); err == nil {
		t.Error("expected rejection for mismatched spk tag")
	}
}

func TestHandshakeProofRoundTrip(t *testing.T) {
	var vs [32]byte
	for i := range vs {
		vs[i] = byte(i)
	}
	var epk [65]byte
	epk[0] = 0x04
	nonce, err := randomNonce()
	if err != nil {
		t.Fatalf("randomNonce() error = %v", err)
	}
	peerFP := identity.ComputeFingerprint(newPartyID(t))

	proof := ComputeHandshakeProof(vs, epk, nonce, peerFP)

	ev := &Event{EphemeralPublic: epk, Nonce: nonce, HandshakeProof: proof, HasProof: true}
	if err := VerifyHandshakeProof(ev, vs, peerFP); err != nil {
		t.Errorf("VerifyHandshakeProof() error = %v, want nil", err)
	}

	var wrongVS [32]byte
	copy(wrongVS[:], vs[:])
	wrongVS[0] ^= 0xFF
	if err := VerifyHandshakeProof(ev, wrongVS, peerFP); err == nil {
		t.Error("expected failure with wrong vs")
	}
}

func TestSessionBindingRoundTrip(t *testing.T) {
	identitySecret := []byte("a shared identity secret, 32+ bytes long")
	var peerEpk [65]byte
	peerEpk[1] = 7

	binding, err := xcrypto.DeriveSessionBinding(identitySecret, peerEpk[:])
	if err != nil {
		t.Fatalf("DeriveSessionBinding() error = %v", err)
	}

	ev := &Event{EphemeralPublic: peerEpk, SessionBinding: binding, HasBinding: true}
	if err := VerifySessionBinding(ev, identitySecret); err != nil {
		t.Errorf("VerifySessionBinding() error = %v, want nil", err)
	}

	if err := VerifySessionBinding(ev, []byte("a different identity secret, also long")); err == nil {
		t.Error("expected failure with a different identity secret")
	}
}

func TestKeyConfirmationRoundTrip(t *testing.T) {
	var raw [32]byte
	raw[0] = 9
	sessionKey := xcrypto.NewSessionKey(raw)
	salt := []byte("per-transfer-salt")

	kc := ComputeKeyConfirmation(sessionKey, salt)
	ev := &Event{KeyConfirm: kc, HasKeyConfirm: true}

	if err := VerifyKeyConfirmation(ev, sessionKey, salt); err != nil {
		t.Errorf("VerifyKeyConfirmation() error = %v, want nil", err)
	}

	if err := VerifyKeyConfirmation(ev, sessionKey, []byte("different-salt")); err == nil {
		t.Error("expected failure with a different salt")
	}
}

func TestVerifyCounterparty_PINModeSkipsFingerprintCheck(t *testing.T) {
	receiver := newPartyID(t)
	ev := &Event{ReceiverCommitment: ReceiverCommitmentFor(receiver)}

	ctx := VerifyContext{OwnPublicID: receiver}
	if err := VerifyCounterparty(ModePIN, ev, ctx, nil, nil); err != nil {
		t.Errorf("VerifyCounterparty(ModePIN) error = %v, want nil", err)
	}
}

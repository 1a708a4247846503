package handshake

import (
	"testing"

	xcrypto "github.com/andrewtheguy/securesend/internal/crypto"
	"github.com/andrewtheguy/securesend/internal/protocol"
	"github.com/andrewtheguy/securesend/internal/rendezvous"
)

func TestBuildAndParseHandshakeTags_PINMode(t *testing.T) {
	receiver := newPartyID(t)
	nonce, err := randomNonce()
	if err != nil {
		t.Fatalf("randomNonce() error = %v", err)
	}
	var epk [65]byte
	epk[0] = 0x04
	var salt [16]byte
	salt[0] = 0x11

	ev := &Event{
		TransferID:         "0123456789abcdef",
		ReceiverCommitment: ReceiverCommitmentFor(receiver),
		Nonce:              nonce,
		EphemeralPublic:    epk,
		Salt:               salt,
	}

	tags := BuildHandshakeTags(ModePIN, ev)

	key, err := rendezvous.NewSigningKey()
	if err != nil {
		t.Fatalf("NewSigningKey() error = %v", err)
	}
	re, err := rendezvous.NewEvent(key, rendezvous.KindHandshake, 1_700_000_000, tags, "")
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}

	parsed, err := ParseEvent(re)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if parsed.TransferID != ev.TransferID {
		t.Errorf("TransferID = %q, want %q", parsed.TransferID, ev.TransferID)
	}
	if parsed.ReceiverCommitment != ev.ReceiverCommitment {
		t.Error("ReceiverCommitment mismatch after round-trip")
	}
	if parsed.Nonce != ev.Nonce {
		t.Error("Nonce mismatch after round-trip")
	}
	if parsed.EphemeralPublic != ev.EphemeralPublic {
		t.Error("EphemeralPublic mismatch after round-trip")
	}
	if parsed.Salt != ev.Salt {
		t.Error("Salt mismatch after round-trip")
	}
	if parsed.HasSenderFP {
		t.Error("PIN mode should not carry a sender fingerprint tag")
	}
}

func TestParseEvent_MissingRequiredTag(t *testing.T) {
	key, _ := rendezvous.NewSigningKey()
	re, err := rendezvous.NewEvent(key, rendezvous.KindHandshake, 1_700_000_000, nil, "")
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}
	if _, err := ParseEvent(re); err == nil {
		t.Error("expected error for event missing required tags")
	}
}

func TestDeriveSession_BothSidesAgree(t *testing.T) {
	senderKP, err := xcrypto.GenerateEphemeralKeypair()
	if err != nil {
		t.Fatalf("GenerateEphemeralKeypair() error = %v", err)
	}
	receiverKP, err := xcrypto.GenerateEphemeralKeypair()
	if err != nil {
		t.Fatalf("GenerateEphemeralKeypair() error = %v", err)
	}
	salt := []byte("shared-per-transfer-salt")

	senderKey, err := DeriveSession(senderKP, receiverKP.Public, salt)
	if err != nil {
		t.Fatalf("sender DeriveSession() error = %v", err)
	}
	receiverKey, err := DeriveSession(receiverKP, senderKP.Public, salt)
	if err != nil {
		t.Fatalf("receiver DeriveSession() error = %v", err)
	}

	if senderKey.Key() != receiverKey.Key() {
		t.Error("sender and receiver derived different session keys")
	}
}

func TestReadyAckRoundTrip(t *testing.T) {
	var raw [32]byte
	raw[0] = 3
	sessionKey := xcrypto.NewSessionKey(raw)
	transferID := "fedcba9876543210"

	content, err := BuildReadyAck(sessionKey, transferID)
	if err != nil {
		t.Fatalf("BuildReadyAck() error = %v", err)
	}
	if err := VerifyReadyAck(sessionKey, transferID, content); err != nil {
		t.Errorf("VerifyReadyAck() error = %v, want nil", err)
	}

	if err := VerifyReadyAck(sessionKey, "0000000000000000", content); err == nil {
		t.Error("expected failure for a different transfer id (AAD mismatch)")
	}
}

func TestReadyAckTags_CarriesEphemeralKey(t *testing.T) {
	var epk [65]byte
	epk[0] = 0x04
	epk[1] = 9

	tags := ReadyAckTags("abc", epk)

	key, _ := rendezvous.NewSigningKey()
	re, err := rendezvous.NewEvent(key, rendezvous.KindData, 1_700_000_000, tags, "")
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}

	got, err := ParseReadyAckEphemeralKey(re)
	if err != nil {
		t.Fatalf("ParseReadyAckEphemeralKey() error = %v", err)
	}
	if got != epk {
		t.Error("parsed ephemeral key does not match the one encoded")
	}

	if seq, ok := re.Tag(protocol.TagSeq); !ok || seq != "0" {
		t.Errorf("seq tag = %q, %v, want \"0\", true", seq, ok)
	}
}

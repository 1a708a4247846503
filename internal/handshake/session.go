package handshake

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	xcrypto "github.com/andrewtheguy/securesend/internal/crypto"
	"github.com/andrewtheguy/securesend/internal/pairing"
	"github.com/andrewtheguy/securesend/internal/protocol"
	"github.com/andrewtheguy/securesend/internal/rendezvous"
)

// readyAckPlaintext is the fixed payload sealed into the ready-ack event's
// content, binding it to the transfer id as AEAD associated data so a
// ready-ack from one transfer can't be replayed against another.
const readyAckPlaintext = "ready"

// ParseEvent decodes a rendezvous.Event's tags and content into a
// handshake Event. It performs no verification; callers run
// VerifyCounterparty afterward.
func ParseEvent(re *rendezvous.Event) (*Event, error) {
	ev := &Event{}

	transferID, ok := re.Tag(protocol.TagTransferID)
	if !ok {
		return nil, fmt.Errorf("handshake event missing %q tag", protocol.TagTransferID)
	}
	ev.TransferID = transferID

	if spk, ok := re.Tag(protocol.TagSenderFP); ok {
		b, err := hex.DecodeString(spk)
		if err != nil || len(b) != len(ev.SenderFingerprint) {
			return nil, fmt.Errorf("bad %q tag", protocol.TagSenderFP)
		}
		copy(ev.SenderFingerprint[:], b)
		ev.HasSenderFP = true
	}

	rpkc, ok := re.Tag(protocol.TagReceiverPKC)
	if !ok {
		return nil, fmt.Errorf("handshake event missing %q tag", protocol.TagReceiverPKC)
	}
	if err := decodeFixedHex(rpkc, ev.ReceiverCommitment[:]); err != nil {
		return nil, fmt.Errorf("bad %q tag: %w", protocol.TagReceiverPKC, err)
	}

	nonce, ok := re.Tag(protocol.TagNonce)
	if !ok {
		return nil, fmt.Errorf("handshake event missing %q tag", protocol.TagNonce)
	}
	if err := decodeFixedB64(nonce, ev.Nonce[:]); err != nil {
		return nil, fmt.Errorf("bad %q tag: %w", protocol.TagNonce, err)
	}

	epk, ok := re.Tag(protocol.TagEphemeralKey)
	if !ok {
		return nil, fmt.Errorf("handshake event missing %q tag", protocol.TagEphemeralKey)
	}
	if err := decodeFixedB64(epk, ev.EphemeralPublic[:]); err != nil {
		return nil, fmt.Errorf("bad %q tag: %w", protocol.TagEphemeralKey, err)
	}

	if esb, ok := re.Tag(protocol.TagSessionBind); ok {
		if err := decodeFixedB64(esb, ev.SessionBinding[:]); err != nil {
			return nil, fmt.Errorf("bad %q tag: %w", protocol.TagSessionBind, err)
		}
		ev.HasBinding = true
	}

	if kc, ok := re.Tag(protocol.TagKeyConfirm); ok {
		if err := decodeFixedB64(kc, ev.KeyConfirm[:]); err != nil {
			return nil, fmt.Errorf("bad %q tag: %w", protocol.TagKeyConfirm, err)
		}
		ev.HasKeyConfirm = true
	}

	if s, ok := re.Tag(protocol.TagSalt); ok {
		if err := decodeFixedB64(s, ev.Salt[:]); err != nil {
			return nil, fmt.Errorf("bad %q tag: %w", protocol.TagSalt, err)
		}
	}

	if re.Content != "" {
		var rec pairing.Record
		if err := json.Unmarshal([]byte(re.Content), &rec); err != nil {
			return nil, fmt.Errorf("decode pairing key content: %w", err)
		}
		ev.PairingKey = &rec

		if proof, ok := re.Tag("proof"); ok {
			if err := decodeFixedB64(proof, ev.HandshakeProof[:]); err != nil {
				return nil, fmt.Errorf("bad proof tag: %w", err)
			}
			ev.HasProof = true
		}
	}

	return ev, nil
}

func decodeFixedHex(s string, out []byte) error {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(out) {
		return fmt.Errorf("expected %d raw bytes, got %d", len(out), len(b))
	}
	copy(out, b)
	return nil
}

func decodeFixedB64(s string, out []byte) error {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(b) != len(out) {
		return fmt.Errorf("expected %d raw bytes, got %d", len(out), len(b))
	}
	copy(out, b)
	return nil
}

// BuildHandshakeTags renders an outgoing Event's fields as rendezvous tag
// pairs, omitting any field not applicable to mode.
func BuildHandshakeTags(mode Mode, ev *Event) [][]string {
	pairs := [][2]string{
		{protocol.TagTransferID, ev.TransferID},
		{protocol.TagReceiverPKC, hex.EncodeToString(ev.ReceiverCommitment[:])},
		{protocol.TagNonce, base64.StdEncoding.EncodeToString(ev.Nonce[:])},
		{protocol.TagEphemeralKey, base64.StdEncoding.EncodeToString(ev.EphemeralPublic[:])},
	}

	if mode != ModePIN && ev.HasSenderFP {
		pairs = append(pairs, [2]string{protocol.TagSenderFP, ev.SenderFingerprint.Hex16()})
	}

	if mode == ModePIN {
		pairs = append(pairs, [2]string{protocol.TagSalt, base64.StdEncoding.EncodeToString(ev.Salt[:])})
	}

	if mode == ModeSelfTransferPasskey {
		if ev.HasBinding {
			pairs = append(pairs, [2]string{protocol.TagSessionBind, base64.StdEncoding.EncodeToString(ev.SessionBinding[:])})
		}
		if ev.HasKeyConfirm {
			pairs = append(pairs, [2]string{protocol.TagKeyConfirm, base64.StdEncoding.EncodeToString(ev.KeyConfirm[:])})
		}
	}

	if mode == ModeCrossUserPairingKey && ev.HasProof {
		pairs = append(pairs, [2]string{"proof", base64.StdEncoding.EncodeToString(ev.HandshakeProof[:])})
	}

	return rendezvous.BuildTags(pairs...)
}

// DeriveSession computes the AES-256-GCM session key from this side's
// ephemeral keypair and the peer's ephemeral public point, salted by the
// per-transfer PIN/PRF salt. The caller's copy of the keypair's shared
// secret is zeroed before return.
func DeriveSession(kp *xcrypto.EphemeralKeypair, peerEphemeralPublic [65]byte, salt []byte) (*xcrypto.SessionKey, error) {
	shared, err := kp.ComputeECDH(peerEphemeralPublic)
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}
	defer xcrypto.ZeroBytes(shared)

	sessionKey, err := xcrypto.DeriveSessionKey(shared, salt)
	if err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return sessionKey, nil
}

// BuildReadyAck seals the fixed ready marker under the session key, AAD'd
// to the transfer id, and returns the base64 content for a data-kind
// event with seq=0.
func BuildReadyAck(sessionKey *xcrypto.SessionKey, transferID string) (string, error) {
	ciphertext, err := sessionKey.Seal([]byte(readyAckPlaintext), []byte(transferID))
	if err != nil {
		return "", fmt.Errorf("seal ready-ack: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// VerifyReadyAck opens a ready-ack event's content and checks it decodes
// to the expected fixed plaintext.
func VerifyReadyAck(sessionKey *xcrypto.SessionKey, transferID, content string) error {
	ciphertext, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return fmt.Errorf("decode ready-ack content: %w", err)
	}
	plaintext, err := sessionKey.Open(ciphertext, []byte(transferID))
	if err != nil {
		return fmt.Errorf("open ready-ack: %w", err)
	}
	if string(plaintext) != readyAckPlaintext {
		return fmt.Errorf("unexpected ready-ack plaintext")
	}
	return nil
}

// ReadyAckTags renders the rendezvous tags for a ready-ack event. The
// receiver's own ephemeral public key rides along as a plain tag: it is
// public key material, not a secret, and the sender needs it to compute
// the matching ECDH shared secret.
func ReadyAckTags(transferID string, receiverEphemeralPublic [65]byte) [][]string {
	return rendezvous.BuildTags(
		[2]string{protocol.TagTransferID, transferID},
		[2]string{protocol.TagSeq, strconv.Itoa(protocol.SeqReady)},
		[2]string{protocol.TagEphemeralKey, base64.StdEncoding.EncodeToString(receiverEphemeralPublic[:])},
	)
}

// ParseReadyAckEphemeralKey extracts the receiver's ephemeral public key
// from a ready-ack event's tags.
func ParseReadyAckEphemeralKey(re *rendezvous.Event) ([65]byte, error) {
	var out [65]byte
	epk, ok := re.Tag(protocol.TagEphemeralKey)
	if !ok {
		return out, fmt.Errorf("ready-ack missing %q tag", protocol.TagEphemeralKey)
	}
	if err := decodeFixedB64(epk, out[:]); err != nil {
		return out, fmt.Errorf("bad %q tag: %w", protocol.TagEphemeralKey, err)
	}
	return out, nil
}

package manual

import (
	"testing"

	"github.com/andrewtheguy/securesend/internal/credential"
	"github.com/andrewtheguy/securesend/internal/protocol"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	pin := "23456789ABC"
	cs, err := credential.Checksum(pin)
	if err != nil {
		t.Fatalf("Checksum() error = %v", err)
	}
	pin += string(cs)

	salt, err := credential.NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error = %v", err)
	}

	payload := protocol.SignalPayload{
		Type:       "offer",
		SDP:        "v=0 test sdp",
		Candidates: []string{"candidate:1 udp ..."},
		FileName:   "photo.jpg",
		FileSize:   4096,
	}

	envelope, err := Encode(pin, salt, payload)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(envelope[:len(Magic)]) != Magic {
		t.Errorf("envelope does not start with magic %q", Magic)
	}

	got, err := Decode(pin, envelope)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Type != payload.Type || got.SDP != payload.SDP || got.FileName != payload.FileName {
		t.Errorf("Decode() = %+v, want %+v", got, payload)
	}
}

func TestDecode_WrongPin(t *testing.T) {
	pin := "23456789ABC"
	cs, _ := credential.Checksum(pin)
	pin += string(cs)
	salt, _ := credential.NewSalt()

	envelope, err := Encode(pin, salt, protocol.SignalPayload{Type: "answer", SDP: "x", Candidates: nil})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	wrongPin := "BCDEFGHJKLM"
	cs2, _ := credential.Checksum(wrongPin)
	wrongPin += string(cs2)

	if _, err := Decode(wrongPin, envelope); err == nil {
		t.Error("expected Decode() to fail with the wrong pin")
	}
}

func TestDecode_BadMagic(t *testing.T) {
	if _, err := Decode("irrelevant", []byte("XXXXtoolshort")); err != ErrBadMagic {
		t.Errorf("Decode() error = %v, want ErrBadMagic", err)
	}
}

func TestDecode_TooShort(t *testing.T) {
	if _, err := Decode("irrelevant", []byte("SS")); err != ErrTooShort {
		t.Errorf("Decode() error = %v, want ErrTooShort", err)
	}
}

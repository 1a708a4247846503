package protocol

import (
	"bytes"
	"testing"

	"github.com/andrewtheguy/securesend/internal/crypto"
)

func TestChunkFrame_EncodeDecodeRoundTrip(t *testing.T) {
	var key [crypto.KeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	sk := crypto.NewSessionKey(key)

	plaintext := []byte("chunk payload bytes")
	ciphertext, err := sk.Seal(plaintext, nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	frame := ChunkFrame{Seq: 42, Ciphertext: ciphertext}
	encoded := frame.Encode()

	decoded, err := DecodeChunkFrame(encoded)
	if err != nil {
		t.Fatalf("DecodeChunkFrame() error = %v", err)
	}
	if decoded.Seq != 42 {
		t.Errorf("decoded.Seq = %d, want 42", decoded.Seq)
	}
	if !bytes.Equal(decoded.Ciphertext, ciphertext) {
		t.Error("decoded.Ciphertext does not match original")
	}

	got, err := sk.Open(decoded.Ciphertext, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Open() = %q, want %q", got, plaintext)
	}
}

func TestDecodeChunkFrame_TooShort(t *testing.T) {
	if _, err := DecodeChunkFrame(make([]byte, 4)); err == nil {
		t.Error("expected error for too-short frame")
	}
}

func TestCloudBlob_EncodeDecodeRoundTrip(t *testing.T) {
	blob := CloudBlob{Ciphertext: make([]byte, crypto.EncryptionOverhead+10)}
	encoded := blob.Encode()

	decoded, err := DecodeCloudBlob(encoded)
	if err != nil {
		t.Fatalf("DecodeCloudBlob() error = %v", err)
	}
	if !bytes.Equal(decoded.Ciphertext, blob.Ciphertext) {
		t.Error("decoded ciphertext does not match original")
	}
}

func TestDecodeCloudBlob_TooShort(t *testing.T) {
	if _, err := DecodeCloudBlob(make([]byte, 2)); err == nil {
		t.Error("expected error for too-short blob")
	}
}

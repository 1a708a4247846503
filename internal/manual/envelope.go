// Package manual implements the out-of-band signaling envelope used when
// a transfer has no rendezvous substrate to publish through: the same
// SDP/candidate JSON payload as relay signaling, gzip-compressed and
// wrapped with the PIN-derived AEAD key behind a 4-byte magic prefix.
package manual

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/andrewtheguy/securesend/internal/credential"
	"github.com/andrewtheguy/securesend/internal/protocol"
)

// Magic is the 4-byte prefix identifying a manual signaling envelope.
const Magic = "SS01"

var (
	// ErrBadMagic is returned when an envelope does not start with Magic.
	ErrBadMagic = errors.New("manual: bad magic prefix")

	// ErrTooShort is returned when an envelope is shorter than the
	// minimum possible size (magic + salt).
	ErrTooShort = errors.New("manual: envelope shorter than magic+salt")
)

// Encode builds a manual signaling envelope: Magic || salt(16) ||
// AEAD(gzip(json(payload))), keyed by the PIN-derived key for the given salt.
func Encode(pin string, salt [credential.SaltSize]byte, payload protocol.SignalPayload) ([]byte, error) {
	body, err := protocol.EncodeSignal(payload)
	if err != nil {
		return nil, err
	}

	compressed, err := gzipCompress(body)
	if err != nil {
		return nil, fmt.Errorf("compress signal payload: %w", err)
	}

	bundle, err := credential.DeriveFromPin(pin, salt)
	if err != nil {
		return nil, fmt.Errorf("derive pin key: %w", err)
	}

	ciphertext, err := bundle.Key.Seal(compressed, []byte(Magic))
	if err != nil {
		return nil, fmt.Errorf("encrypt signal payload: %w", err)
	}

	out := make([]byte, 0, len(Magic)+len(salt)+len(ciphertext))
	out = append(out, []byte(Magic)...)
	out = append(out, salt[:]...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decode parses and decrypts a manual signaling envelope produced by Encode.
func Decode(pin string, envelope []byte) (protocol.SignalPayload, error) {
	var zero protocol.SignalPayload

	if len(envelope) >= len(Magic) && !bytes.Equal(envelope[:len(Magic)], []byte(Magic)) {
		return zero, ErrBadMagic
	}
	if len(envelope) < len(Magic)+credential.SaltSize {
		return zero, ErrTooShort
	}

	var salt [credential.SaltSize]byte
	copy(salt[:], envelope[len(Magic):len(Magic)+credential.SaltSize])
	ciphertext := envelope[len(Magic)+credential.SaltSize:]

	bundle, err := credential.DeriveFromPin(pin, salt)
	if err != nil {
		return zero, fmt.Errorf("derive pin key: %w", err)
	}

	compressed, err := bundle.Key.Open(ciphertext, []byte(Magic))
	if err != nil {
		return zero, fmt.Errorf("decrypt signal payload: %w", err)
	}

	body, err := gzipDecompress(compressed)
	if err != nil {
		return zero, fmt.Errorf("decompress signal payload: %w", err)
	}

	return protocol.DecodeSignal(body)
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

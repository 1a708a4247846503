// Package credential derives the key-material bundle used to start a
// handshake from either a human-typed PIN or a passkey PRF assertion.
// PIN handling covers validation, checksum, the one-way
// filter hint, and the spoken-word encoding; key derivation is delegated
// to internal/crypto.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Alphabet is the PIN alphabet: every alphanumeric character with the
// visually confusable ones removed (0, 1, I, O, i, l, o), 55 characters
// in total. See the Open Question in DESIGN.md on the alphabet size.
const Alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz"

// PinLength is the fixed length of a PIN string.
const PinLength = 12

// HintSize is the length in hex characters of a PIN hint (first 4 bytes
// of SHA-256(pin), rendered lowercase).
const HintSize = 8

var (
	// ErrPinLength is returned when a PIN is not exactly PinLength characters.
	ErrPinLength = errors.New("pin: wrong length")

	// ErrPinAlphabet is returned when a PIN contains a character outside Alphabet.
	ErrPinAlphabet = errors.New("pin: character outside alphabet")

	// ErrPinChecksum is returned when a PIN's checksum character does not match.
	ErrPinChecksum = errors.New("pin: checksum mismatch")
)

// SignalingMethod indicates how a PIN's first character says the two
// parties will exchange signaling data.
type SignalingMethod int

const (
	// SignalingRelay means the handshake travels over the rendezvous substrate.
	SignalingRelay SignalingMethod = iota
	// SignalingManual means the handshake is exchanged out-of-band (QR/copy-paste).
	SignalingManual
)

func charIndex(c byte) (int, bool) {
	i := strings.IndexByte(Alphabet, c)
	if i < 0 {
		return 0, false
	}
	return i, true
}

// ValidatePin checks length, alphabet membership, and the weighted
// modular checksum: sum_i(index(pin[i]) * (i+1)) mod len(alphabet) must
// equal the index of the last character.
func ValidatePin(pin string) error {
	if len(pin) != PinLength {
		return fmt.Errorf("%w: got %d chars, want %d", ErrPinLength, len(pin), PinLength)
	}

	sum := 0
	for i := 0; i < PinLength-1; i++ {
		idx, ok := charIndex(pin[i])
		if !ok {
			return fmt.Errorf("%w: %q at position %d", ErrPinAlphabet, pin[i], i)
		}
		sum += idx * (i + 1)
	}

	lastIdx, ok := charIndex(pin[PinLength-1])
	if !ok {
		return fmt.Errorf("%w: %q at position %d", ErrPinAlphabet, pin[PinLength-1], PinLength-1)
	}

	if sum%len(Alphabet) != lastIdx {
		return ErrPinChecksum
	}
	return nil
}

// Checksum computes the checksum character for the first PinLength-1
// characters of a PIN body.
func Checksum(body string) (byte, error) {
	if len(body) != PinLength-1 {
		return 0, fmt.Errorf("%w: body must be %d chars", ErrPinLength, PinLength-1)
	}
	sum := 0
	for i := 0; i < len(body); i++ {
		idx, ok := charIndex(body[i])
		if !ok {
			return 0, fmt.Errorf("%w: %q at position %d", ErrPinAlphabet, body[i], i)
		}
		sum += idx * (i + 1)
	}
	return Alphabet[sum%len(Alphabet)], nil
}

// SignalingMethodOf returns the signaling method encoded by a PIN's
// first character: uppercase letters mean relay, the digit '2' means manual.
func SignalingMethodOf(pin string) (SignalingMethod, error) {
	if len(pin) == 0 {
		return 0, ErrPinLength
	}
	switch c := pin[0]; {
	case c == '2':
		return SignalingManual, nil
	case c >= 'A' && c <= 'Z':
		return SignalingRelay, nil
	default:
		return 0, fmt.Errorf("pin: first character %q does not encode a known signaling method", c)
	}
}

// Hint computes the one-way filter hint for a PIN: the first 4 bytes of
// SHA-256(pin), as 8 lowercase hex characters.
func Hint(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:4])
}

// VerifyHint reports whether candidate matches the hint of pin, using a
// constant-time comparison.
func VerifyHint(pin, candidate string) bool {
	want := Hint(pin)
	return subtle.ConstantTimeCompare([]byte(want), []byte(candidate)) == 1
}

// GeneratePin mints a fresh random PIN for relay signaling: a random
// uppercase first character (selecting SignalingRelay), PinLength-2
// further random alphabet characters, and a trailing checksum character.
func GeneratePin() (string, error) {
	var upper []byte
	for i := 0; i < len(Alphabet); i++ {
		if Alphabet[i] >= 'A' && Alphabet[i] <= 'Z' {
			upper = append(upper, Alphabet[i])
		}
	}

	var b strings.Builder
	b.Grow(PinLength)

	first, err := randomChar(upper)
	if err != nil {
		return "", err
	}
	b.WriteByte(first)

	for i := 0; i < PinLength-2; i++ {
		c, err := randomChar([]byte(Alphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(c)
	}

	checksum, err := Checksum(b.String())
	if err != nil {
		return "", err
	}
	b.WriteByte(checksum)

	return b.String(), nil
}

func randomChar(alphabet []byte) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, fmt.Errorf("pin: generate random index: %w", err)
	}
	return alphabet[n.Int64()], nil
}

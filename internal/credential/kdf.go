package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	xcrypto "github.com/andrewtheguy/securesend/internal/crypto"
)

// Iterations is the PBKDF2 iteration count for PIN-derived keys.
const Iterations = 600_000

// SaltSize is the size in bytes of the sender-generated PIN salt.
const SaltSize = 16

// Bundle is the key-material bundle produced by the credential layer:
// the session-establishment key and the one-way hint used for rendezvous
// filtering. The passkey-mode public identity is not part of the bundle;
// DeriveFromPasskey returns it as a separate value.
type Bundle struct {
	Key  *xcrypto.SessionKey
	Hint string
}

// NewSalt generates a fresh random PIN salt, carried in the handshake tag.
func NewSalt() ([SaltSize]byte, error) {
	var salt [SaltSize]byte
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return salt, fmt.Errorf("generate pin salt: %w", err)
	}
	return salt, nil
}

// DeriveFromPin validates pin, then derives the PIN-based key bundle:
// key = PBKDF2-HMAC-SHA-256(pin, salt, iter=Iterations, out=32B), and
// hint = first 4 bytes of SHA-256(pin) as lowercase hex. The plaintext
// PIN bytes are zeroed before returning, on every exit path.
func DeriveFromPin(pin string, salt [SaltSize]byte) (*Bundle, error) {
	pinBytes := []byte(pin)
	defer xcrypto.ZeroBytes(pinBytes)

	if err := ValidatePin(pin); err != nil {
		return nil, fmt.Errorf("validate pin: %w", err)
	}

	raw := pbkdf2.Key(pinBytes, salt[:], Iterations, xcrypto.KeySize, sha256.New)
	defer xcrypto.ZeroBytes(raw)

	var key [xcrypto.KeySize]byte
	copy(key[:], raw)
	sessionKey := xcrypto.NewSessionKey(key)
	xcrypto.ZeroKey(&key)

	return &Bundle{
		Key:  sessionKey,
		Hint: Hint(pin),
	}, nil
}

// PRFProvider is the external collaborator contract for a passkey's PRF
// extension, evaluated outside this process by the platform authenticator.
// Implementations evaluate the platform authenticator's
// PRF with the given domain-separation salt and return the 32-byte
// output. Platforms without PRF support return ErrPRFUnavailable.
type PRFProvider interface {
	EvaluatePRF(salt []byte) ([32]byte, error)
}

// ErrPRFUnavailable is returned by a PRFProvider when the platform does
// not support the PRF extension.
var ErrPRFUnavailable = fmt.Errorf("credential: passkey PRF extension unavailable")

// DeriveFromPasskey evaluates the PRF extension with the domain-separation
// input used for identity derivation, then derives the public identifier
// and HMAC signing key deterministically from the resulting master key.
func DeriveFromPasskey(provider PRFProvider) (masterKey [32]byte, publicID [32]byte, hmacSignKey [32]byte, err error) {
	masterKey, err = provider.EvaluatePRF([]byte(xcrypto.InfoPasskeyECDH))
	if err != nil {
		return masterKey, publicID, hmacSignKey, fmt.Errorf("evaluate passkey prf: %w", err)
	}

	publicID, err = xcrypto.Derive32(masterKey[:], nil, xcrypto.InfoPublicID)
	if err != nil {
		return masterKey, publicID, hmacSignKey, fmt.Errorf("derive public id: %w", err)
	}

	hmacSignKey, err = xcrypto.Derive32(masterKey[:], nil, xcrypto.InfoHMACSignKey)
	if err != nil {
		return masterKey, publicID, hmacSignKey, fmt.Errorf("derive hmac sign key: %w", err)
	}

	return masterKey, publicID, hmacSignKey, nil
}

// PublicIDFingerprint renders the first 8 bytes of SHA-256(publicID) as
// uppercase hex, the fingerprint form displayed for passkey identities.
func PublicIDFingerprint(publicID [32]byte) string {
	sum := sha256.Sum256(publicID[:])
	return fmt.Sprintf("%X", sum[:8])
}

// DeriveTransferID derives the 16-hex-character transfer id both sides
// agree on from the PIN alone, the same way DeriveReceiverID derives the
// receiver commitment: PIN mode has no rendezvous beyond the PIN text
// itself, so the id both sides filter rendezvous events on has to come
// from the PIN rather than from a value one side generates and the other
// has no way to learn.
func DeriveTransferID(pin string) (string, error) {
	pinBytes := []byte(pin)
	defer xcrypto.ZeroBytes(pinBytes)

	if err := ValidatePin(pin); err != nil {
		return "", fmt.Errorf("validate pin: %w", err)
	}

	raw, err := xcrypto.DeriveKey(pinBytes, nil, xcrypto.InfoPinTransferID, 8)
	if err != nil {
		return "", fmt.Errorf("derive pin transfer id: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// DeriveReceiverID derives the receiver-side public identifier both
// parties agree on from the PIN alone, independent of the per-transfer
// random salt. PIN mode has no prior identity exchange, so the sender
// needs a way to compute the same receiver commitment the receiver will
// query for before any event has been published; deriving it from the
// PIN text itself (which both sides already hold) closes that loop.
func DeriveReceiverID(pin string) ([32]byte, error) {
	pinBytes := []byte(pin)
	defer xcrypto.ZeroBytes(pinBytes)

	if err := ValidatePin(pin); err != nil {
		return [32]byte{}, fmt.Errorf("validate pin: %w", err)
	}

	id, err := xcrypto.Derive32(pinBytes, nil, xcrypto.InfoPublicID)
	if err != nil {
		return [32]byte{}, fmt.Errorf("derive pin receiver id: %w", err)
	}
	return id, nil
}

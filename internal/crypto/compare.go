package crypto

import "crypto/subtle"

// ConstantTimeEqual reports whether a and b are equal using a constant-time
// comparison. Every comparison of a fingerprint, nonce, hash, tag, or
// verification value in the protocol must go through this function rather
// than bytes.Equal or ==, so that a mismatch position can never be
// inferred from comparison timing.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

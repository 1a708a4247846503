package xferr

import (
	"errors"
	"testing"
)

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("checksum mismatch")
	err := New(CredentialInvalid, cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is() did not find the wrapped cause")
	}
	if err.Error() == "" {
		t.Error("Error() returned empty string")
	}
}

func TestIs_MatchesKind(t *testing.T) {
	err := New(Expired, nil)
	if !Is(err, Expired) {
		t.Error("Is() failed to match the error's own kind")
	}
	if Is(err, Cancelled) {
		t.Error("Is() matched the wrong kind")
	}
}

func TestIs_NonXferrError(t *testing.T) {
	if Is(errors.New("plain error"), Expired) {
		t.Error("Is() matched a non-xferr error")
	}
}

func TestKind_String(t *testing.T) {
	kinds := []Kind{
		CredentialInvalid, PairingKeyInvalid, HandshakeRejected, Expired,
		Cancelled, TransportError, ProtocolError, SubstrateUnavailable,
	}
	seen := make(map[string]bool)
	for _, k := range kinds {
		s := k.String()
		if s == "" || s == "Unknown" {
			t.Errorf("Kind(%d).String() = %q, want a specific name", k, s)
		}
		if seen[s] {
			t.Errorf("duplicate Kind.String() value %q", s)
		}
		seen[s] = true
	}
}

package crypto

import "testing"

func TestECDH_SharedSecretAgreement(t *testing.T) {
	alice, err := GenerateEphemeralKeypair()
	if err != nil {
		t.Fatalf("GenerateEphemeralKeypair() error = %v", err)
	}
	bob, err := GenerateEphemeralKeypair()
	if err != nil {
		t.Fatalf("GenerateEphemeralKeypair() error = %v", err)
	}

	aliceSecret, err := alice.ComputeECDH(bob.Public)
	if err != nil {
		t.Fatalf("alice.ComputeECDH() error = %v", err)
	}
	bobSecret, err := bob.ComputeECDH(alice.Public)
	if err != nil {
		t.Fatalf("bob.ComputeECDH() error = %v", err)
	}

	if !ConstantTimeEqual(aliceSecret, bobSecret) {
		t.Error("ECDH shared secrets do not agree")
	}
}

func TestECDH_InvalidPeerPublicKey(t *testing.T) {
	alice, err := GenerateEphemeralKeypair()
	if err != nil {
		t.Fatalf("GenerateEphemeralKeypair() error = %v", err)
	}
	var garbage [65]byte
	if _, err := alice.ComputeECDH(garbage); err == nil {
		t.Error("expected error for invalid peer public key")
	}
}

func TestDeriveSessionKey_Deterministic(t *testing.T) {
	secret := []byte("shared-secret-material-32-bytes")
	salt := []byte("per-transfer-salt")

	k1, err := DeriveSessionKey(secret, salt)
	if err != nil {
		t.Fatalf("DeriveSessionKey() error = %v", err)
	}
	k2, err := DeriveSessionKey(secret, salt)
	if err != nil {
		t.Fatalf("DeriveSessionKey() error = %v", err)
	}
	if k1.Key() != k2.Key() {
		t.Error("DeriveSessionKey() is not deterministic")
	}
}

func TestDeriveSessionKey_DifferentSaltDifferentKey(t *testing.T) {
	secret := []byte("shared-secret-material-32-bytes")

	k1, err := DeriveSessionKey(secret, []byte("salt-a"))
	if err != nil {
		t.Fatalf("DeriveSessionKey() error = %v", err)
	}
	k2, err := DeriveSessionKey(secret, []byte("salt-b"))
	if err != nil {
		t.Fatalf("DeriveSessionKey() error = %v", err)
	}
	if k1.Key() == k2.Key() {
		t.Error("different salts produced the same session key")
	}
}

func TestDeriveSessionBinding_Deterministic(t *testing.T) {
	secret := []byte("identity-shared-secret-bytes")
	peerEPK := []byte("peer-ephemeral-public-key-bytes")

	b1, err := DeriveSessionBinding(secret, peerEPK)
	if err != nil {
		t.Fatalf("DeriveSessionBinding() error = %v", err)
	}
	b2, err := DeriveSessionBinding(secret, peerEPK)
	if err != nil {
		t.Fatalf("DeriveSessionBinding() error = %v", err)
	}
	if b1 != b2 {
		t.Error("DeriveSessionBinding() is not deterministic")
	}
}

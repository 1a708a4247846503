package identity

import "testing"

func TestNewPartyID(t *testing.T) {
	id1, err := NewPartyID()
	if err != nil {
		t.Fatalf("NewPartyID() error = %v", err)
	}
	if id1.IsZero() {
		t.Error("NewPartyID() returned zero ID")
	}

	id2, err := NewPartyID()
	if err != nil {
		t.Fatalf("NewPartyID() error = %v", err)
	}
	if id1.Equal(id2) {
		t.Error("NewPartyID() returned duplicate IDs")
	}
}

func TestPartyID_StringRoundTrip(t *testing.T) {
	id, err := NewPartyID()
	if err != nil {
		t.Fatalf("NewPartyID() error = %v", err)
	}

	parsed, err := ParsePartyID(id.String())
	if err != nil {
		t.Fatalf("ParsePartyID() error = %v", err)
	}
	if !parsed.Equal(id) {
		t.Errorf("ParsePartyID round trip = %v, want %v", parsed, id)
	}
}

func TestPartyID_Less(t *testing.T) {
	a := PartyID{}
	b := PartyID{}
	a[0] = 0x01
	b[0] = 0x02

	if !a.Less(b) {
		t.Error("expected a < b")
	}
	if b.Less(a) {
		t.Error("expected b not < a")
	}
	if a.Less(a) {
		t.Error("expected a not < a")
	}
}

func TestFromBytes_InvalidLength(t *testing.T) {
	_, err := FromBytes(make([]byte, 10))
	if err == nil {
		t.Error("expected error for invalid length")
	}
}

func TestComputeFingerprint(t *testing.T) {
	id, err := NewPartyID()
	if err != nil {
		t.Fatalf("NewPartyID() error = %v", err)
	}

	fp := ComputeFingerprint(id)
	s := fp.String()

	// 16 hex chars grouped in fours with 3 separators = 19 chars
	if len(s) != 19 {
		t.Errorf("Fingerprint.String() length = %d, want 19", len(s))
	}

	// Deterministic
	fp2 := ComputeFingerprint(id)
	if fp != fp2 {
		t.Error("ComputeFingerprint is not deterministic")
	}
}

func TestFingerprint_ParseRoundTrip(t *testing.T) {
	id, _ := NewPartyID()
	fp := ComputeFingerprint(id)

	parsed, err := ParseFingerprint(fp.String())
	if err != nil {
		t.Fatalf("ParseFingerprint() error = %v", err)
	}
	if parsed != fp {
		t.Errorf("ParseFingerprint round trip = %v, want %v", parsed, fp)
	}

	parsed2, err := ParseFingerprint(fp.Hex16())
	if err != nil {
		t.Fatalf("ParseFingerprint(Hex16) error = %v", err)
	}
	if parsed2 != fp {
		t.Errorf("ParseFingerprint(Hex16) round trip = %v, want %v", parsed2, fp)
	}
}

func TestParseFingerprint_InvalidLength(t *testing.T) {
	_, err := ParseFingerprint("abcd")
	if err == nil {
		t.Error("expected error for short fingerprint")
	}
}

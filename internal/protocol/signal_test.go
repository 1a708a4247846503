package protocol

import "testing"

func TestSignalPayload_EncodeDecodeRoundTrip(t *testing.T) {
	p := SignalPayload{
		Type:       "offer",
		SDP:        "v=0...",
		Candidates: []string{"candidate:1 udp ..."},
		FileName:   "report.pdf",
		FileSize:   12345,
	}

	data, err := EncodeSignal(p)
	if err != nil {
		t.Fatalf("EncodeSignal() error = %v", err)
	}

	got, err := DecodeSignal(data)
	if err != nil {
		t.Fatalf("DecodeSignal() error = %v", err)
	}
	if got.Type != p.Type || got.SDP != p.SDP || got.FileName != p.FileName {
		t.Errorf("DecodeSignal() = %+v, want %+v", got, p)
	}
}

func TestDecodeSignal_UnknownType(t *testing.T) {
	if _, err := DecodeSignal([]byte(`{"type":"bogus","sdp":"x","candidates":[]}`)); err == nil {
		t.Error("expected error for unknown signal type")
	}
}

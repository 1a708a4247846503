package protocol

import (
	"encoding/json"
	"fmt"
)

// SignalPayload is the NAT-traversal signaling payload exchanged either
// as a rendezvous data-kind event's encrypted content, or (manual mode)
// as the gzip+AEAD envelope in internal/manual. Both carriers wrap the
// same JSON shape.
type SignalPayload struct {
	Type        string   `json:"type"` // "offer" | "answer"
	SDP         string   `json:"sdp"`
	Candidates  []string `json:"candidates"`
	ContentType string   `json:"contentType,omitempty"`
	FileName    string   `json:"fileName,omitempty"`
	FileSize    int64    `json:"fileSize,omitempty"`
	MimeType    string   `json:"mimeType,omitempty"`
	TotalBytes  int64    `json:"totalBytes,omitempty"`
}

// EncodeSignal marshals a signaling payload to JSON.
func EncodeSignal(p SignalPayload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal signal payload: %w", err)
	}
	return data, nil
}

// DecodeSignal unmarshals a signaling payload from JSON.
func DecodeSignal(data []byte) (SignalPayload, error) {
	var p SignalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("unmarshal signal payload: %w", err)
	}
	if p.Type != "offer" && p.Type != "answer" {
		return p, fmt.Errorf("%w: unknown signal type %q", ErrUnknownControl, p.Type)
	}
	return p, nil
}

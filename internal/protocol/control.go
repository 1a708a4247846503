package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Control frames on the direct data channel are plain UTF-8 strings,
// distinguished from chunk frames by the direct transport's framing (a
// leading kind byte on each frame of the ICE byte stream).
const (
	donePrefix  = "DONE:"
	doneAckText = "DONE_ACK"
)

// EncodeDone renders the sender's termination control frame.
func EncodeDone(totalChunks int) string {
	return donePrefix + strconv.Itoa(totalChunks)
}

// DecodeDone parses a "DONE:<n>" control frame, returning total_chunks.
func DecodeDone(s string) (int, bool) {
	rest, ok := strings.CutPrefix(s, donePrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// DoneAck is the receiver's acknowledgment control frame.
const DoneAck = doneAckText

// IsDoneAck reports whether s is the literal DONE_ACK control frame.
func IsDoneAck(s string) bool {
	return s == doneAckText
}

// ErrUnknownControl is returned by ParseControl for a string that is
// neither DONE:<n> nor DONE_ACK.
var ErrUnknownControl = fmt.Errorf("protocol: unrecognized control frame")

// Control is a parsed control frame.
type Control struct {
	Done      bool
	DoneAck   bool
	NumChunks int
}

// ParseControl classifies a text frame as DONE:<n> or DONE_ACK.
func ParseControl(s string) (Control, error) {
	if n, ok := DecodeDone(s); ok {
		return Control{Done: true, NumChunks: n}, nil
	}
	if IsDoneAck(s) {
		return Control{DoneAck: true}, nil
	}
	return Control{}, ErrUnknownControl
}

// Package protocol implements the on-wire envelopes for chunk transfer
// and control signaling: the direct-path chunk frame, the cloud-fallback
// blob format, and the DONE/DONE_ACK control strings.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/andrewtheguy/securesend/internal/crypto"
)

// SeqSize is the size in bytes of a chunk's big-endian sequence number.
const SeqSize = 4

var (
	// ErrFrameTooShort is returned when a chunk frame is shorter than the
	// minimum possible size (seq + nonce + tag).
	ErrFrameTooShort = errors.New("protocol: chunk frame shorter than seq+nonce+tag")
)

// ChunkFrame is the direct-transport wire form: u32_be(seq) || nonce(12)
// || ciphertext+tag.
type ChunkFrame struct {
	Seq        uint32
	Ciphertext []byte // nonce || ciphertext || tag, as produced by crypto.SessionKey.Seal
}

// Encode renders the frame as bytes ready to write to the data channel.
func (f ChunkFrame) Encode() []byte {
	out := make([]byte, SeqSize+len(f.Ciphertext))
	binary.BigEndian.PutUint32(out[:SeqSize], f.Seq)
	copy(out[SeqSize:], f.Ciphertext)
	return out
}

// DecodeChunkFrame parses a direct-transport chunk frame from bytes.
func DecodeChunkFrame(data []byte) (ChunkFrame, error) {
	if len(data) < SeqSize+crypto.EncryptionOverhead {
		return ChunkFrame{}, fmt.Errorf("%w: got %d bytes", ErrFrameTooShort, len(data))
	}
	return ChunkFrame{
		Seq:        binary.BigEndian.Uint32(data[:SeqSize]),
		Ciphertext: data[SeqSize:],
	}, nil
}

// CloudBlob is the cloud-fallback blob wire form: nonce(12) ||
// ciphertext+tag, with no seq prefix (the sequence travels in the
// chunk_notify event's "i" tag instead).
type CloudBlob struct {
	Ciphertext []byte
}

// Encode returns the raw bytes to upload to the blob store.
func (b CloudBlob) Encode() []byte {
	return b.Ciphertext
}

// DecodeCloudBlob parses a downloaded blob.
func DecodeCloudBlob(data []byte) (CloudBlob, error) {
	if len(data) < crypto.EncryptionOverhead {
		return CloudBlob{}, fmt.Errorf("%w: got %d bytes", ErrFrameTooShort, len(data))
	}
	return CloudBlob{Ciphertext: data}, nil
}

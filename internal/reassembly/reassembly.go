// Package reassembly implements the receiver's growing write-at-offset
// buffer: chunks may arrive out of order on the direct channel, or
// strictly in order on the cloud path, but either way the receiver
// reconstructs the original byte stream by writing each chunk at its
// absolute offset rather than appending in arrival order.
package reassembly

import (
	"fmt"
	"sync"
)

// Buffer accumulates chunks written at arbitrary offsets and reports when
// every expected byte has arrived. It is not shared across transfers.
type Buffer struct {
	mu        sync.Mutex
	data      []byte
	written   map[int]struct{} // chunk index -> received
	chunkSize int
	total     int64 // expected total chunk count, valid once totalSeen is set
	totalSeen bool
}

// New creates an empty reassembly buffer for chunks of chunkSize bytes
// (the final chunk may be shorter).
func New(chunkSize int) *Buffer {
	return &Buffer{
		written:   make(map[int]struct{}),
		chunkSize: chunkSize,
	}
}

// WriteAt writes one chunk's plaintext at its logical offset
// `index * chunkSize`, growing the backing buffer as needed. Writing the
// same index twice with identical content is idempotent; writing it
// twice with different content replaces the earlier bytes.
func (b *Buffer) WriteAt(index int, plaintext []byte) error {
	if index < 0 {
		return fmt.Errorf("reassembly: negative chunk index %d", index)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	offset := index * b.chunkSize
	end := offset + len(plaintext)
	if end > len(b.data) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[offset:end], plaintext)
	b.written[index] = struct{}{}
	return nil
}

// SetTotalChunks records the total chunk count once the sender has
// announced it (the cloud receiver calls it with the total carried by
// each chunk_notify event).
func (b *Buffer) SetTotalChunks(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total = int64(n)
	b.totalSeen = true
}

// ReceivedCount returns how many distinct chunk indices have been
// written so far.
func (b *Buffer) ReceivedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.written)
}

// Complete reports whether every chunk up to the recorded total has
// arrived. It is always false until SetTotalChunks has been called.
func (b *Buffer) Complete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.totalSeen {
		return false
	}
	return int64(len(b.written)) == b.total
}

// Bytes returns the reconstructed plaintext. Callers must only call this
// after Complete reports true; calling it earlier returns whatever has
// been written so far, which may contain zero-filled gaps.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

package cloud

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/andrewtheguy/securesend/internal/config"
	xcrypto "github.com/andrewtheguy/securesend/internal/crypto"
	"github.com/andrewtheguy/securesend/internal/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReadAllChunks_SplitsOnBoundary(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 10)
	chunks, err := readAllChunks(bytes.NewReader(data), 4)
	if err != nil {
		t.Fatalf("readAllChunks() error = %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[0]) != 4 || len(chunks[1]) != 4 || len(chunks[2]) != 2 {
		t.Errorf("chunk sizes = %d, %d, %d, want 4, 4, 2", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestReadAllChunks_EmptyInput(t *testing.T) {
	chunks, err := readAllChunks(bytes.NewReader(nil), 4)
	if err != nil {
		t.Fatalf("readAllChunks() error = %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d chunks, want 0", len(chunks))
	}
}

func TestRetryWithBackoff_SucceedsAfterFailures(t *testing.T) {
	cfg := config.CloudConfig{RetryAttempts: 3, RetryMinDelay: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}
	attempts := 0
	result, err := retryWithBackoff(context.Background(), cfg, discardLogger(), "test-op", func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("transient failure")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("retryWithBackoff() error = %v", err)
	}
	if result != 42 {
		t.Errorf("result = %d, want 42", result)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRetryWithBackoff_ExhaustsAttempts(t *testing.T) {
	cfg := config.CloudConfig{RetryAttempts: 2, RetryMinDelay: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}
	attempts := 0
	_, err := retryWithBackoff(context.Background(), cfg, discardLogger(), "test-op", func() (int, error) {
		attempts++
		return 0, errors.New("permanent failure")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRetryWithBackoff_RespectsContextCancellation(t *testing.T) {
	cfg := config.CloudConfig{RetryAttempts: 5, RetryMinDelay: time.Hour, RetryMaxDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := retryWithBackoff(ctx, cfg, discardLogger(), "test-op", func() (int, error) {
		return 0, errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected error when context is already cancelled")
	}
}

// memoryBlobStore is an in-process BlobStore fake keyed by sequential ids.
type memoryBlobStore struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	nextID int
}

func newMemoryBlobStore() *memoryBlobStore {
	return &memoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *memoryBlobStore) Put(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := string(rune('a' + s.nextID))
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[id] = cp
	return id, nil
}

func (s *memoryBlobStore) Get(_ context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[url]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return data, nil
}

// pipeSignaling wires a Notifier and Acker together in-process so Send and
// Receive can run concurrently against the same pair of channels.
type pipeSignaling struct {
	notifyCh chan ChunkNotify
	ackCh    chan int
	doneCh   chan struct{}
}

func newPipeSignaling() *pipeSignaling {
	return &pipeSignaling{
		notifyCh: make(chan ChunkNotify, 8),
		ackCh:    make(chan int, 8),
		doneCh:   make(chan struct{}, 1),
	}
}

func (p *pipeSignaling) PublishChunkNotify(_ context.Context, index, total int, url string) error {
	p.notifyCh <- ChunkNotify{Index: index, Total: total, URL: url}
	return nil
}

func (p *pipeSignaling) AwaitChunkAck(ctx context.Context, index int) error {
	select {
	case got := <-p.ackCh:
		if got != index {
			return errors.New("ack index mismatch")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeSignaling) AwaitChunkNotify(ctx context.Context) (ChunkNotify, bool, error) {
	select {
	case n := <-p.notifyCh:
		return n, false, nil
	case <-p.doneCh:
		return ChunkNotify{}, true, nil
	case <-ctx.Done():
		return ChunkNotify{}, false, ctx.Err()
	}
}

func (p *pipeSignaling) PublishAck(_ context.Context, index int) error {
	p.ackCh <- index
	return nil
}

func (p *pipeSignaling) PublishCompletion(_ context.Context) error {
	p.doneCh <- struct{}{}
	return nil
}

func TestSendReceive_RoundTrip(t *testing.T) {
	var keyBytes [xcrypto.KeySize]byte
	copy(keyBytes[:], bytes.Repeat([]byte{0x42}, xcrypto.KeySize))
	sessionKey := xcrypto.NewSessionKey(keyBytes)
	defer sessionKey.Zero()

	plaintext := bytes.Repeat([]byte("securesend-cloud-fallback-"), 100)
	store := newMemoryBlobStore()
	pipe := newPipeSignaling()
	cfg := config.CloudConfig{
		ChunkSize:     64,
		RetryAttempts: 2,
		RetryMinDelay: time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
	}

	var wg sync.WaitGroup
	var recvErr error
	var received []byte
	wg.Add(1)
	go func() {
		defer wg.Done()
		received, recvErr = Receive(context.Background(), cfg, store, pipe, sessionKey, discardLogger())
	}()

	if err := Send(context.Background(), cfg, store, pipe, sessionKey, bytes.NewReader(plaintext), discardLogger()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	wg.Wait()
	if recvErr != nil {
		t.Fatalf("Receive() error = %v", recvErr)
	}
	if !bytes.Equal(received, plaintext) {
		t.Errorf("received %d bytes, want %d bytes matching original", len(received), len(plaintext))
	}
}

func TestWriteReadBlobFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeBlobRequest(&buf, blobMethodPut, []byte("payload")); err != nil {
		t.Fatalf("writeBlobRequest() error = %v", err)
	}
	// Strip the method byte the way the server side would before reading
	// the length-prefixed body.
	buf.Next(1)
	body, err := readBlobFrame(&buf)
	if err != nil {
		t.Fatalf("readBlobFrame() error = %v", err)
	}
	if string(body) != "payload" {
		t.Errorf("body = %q, want %q", body, "payload")
	}
}

func TestDecodeCloudBlob_RoundTripsThroughBlobStore(t *testing.T) {
	var keyBytes [xcrypto.KeySize]byte
	copy(keyBytes[:], bytes.Repeat([]byte{0x7}, xcrypto.KeySize))
	sessionKey := xcrypto.NewSessionKey(keyBytes)
	defer sessionKey.Zero()

	ciphertext, err := sessionKey.Seal([]byte("one chunk"), nil)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	blob := protocol.CloudBlob{Ciphertext: ciphertext}.Encode()

	decoded, err := protocol.DecodeCloudBlob(blob)
	if err != nil {
		t.Fatalf("DecodeCloudBlob() error = %v", err)
	}
	plaintext, err := sessionKey.Open(decoded.Ciphertext, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if string(plaintext) != "one chunk" {
		t.Errorf("plaintext = %q, want %q", plaintext, "one chunk")
	}
}

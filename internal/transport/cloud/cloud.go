// Package cloud implements the blob-store fallback transport: the
// sender encrypts one chunk-sized plaintext window at a time, uploads it
// to an opaque blob store, and waits for the receiver's acknowledgment
// before uploading the next (an in-flight window of 1).
package cloud

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/andrewtheguy/securesend/internal/config"
	xcrypto "github.com/andrewtheguy/securesend/internal/crypto"
	"github.com/andrewtheguy/securesend/internal/protocol"
	"github.com/andrewtheguy/securesend/internal/reassembly"
	"github.com/andrewtheguy/securesend/internal/xferr"
)

// BlobStore is the opaque short-lived blob service contract: PUT
// returns an opaque URL, GET returns the stored bytes. The concrete
// wire API is an external collaborator; this interface is all the
// engine depends on.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (url string, err error)
	Get(ctx context.Context, url string) ([]byte, error)
}

// QUICBlobStore is a BlobStore backed by a single long-lived QUIC
// connection to the blob service: one bidirectional stream per PUT/GET,
// the same stream-per-request idiom the teacher's QUIC peer transport
// uses, repurposed here for blob upload/download instead of mesh
// framing. The blob service's on-wire contract (method byte, then a
// length-prefixed body, then a length-prefixed response) is this
// module's own, since the concrete blob-store API is an external
// collaborator the spec does not pin to a specific protocol.
type QUICBlobStore struct {
	conn quic.Connection
}

const (
	blobMethodPut byte = 0
	blobMethodGet byte = 1
)

// DialQUICBlobStore opens the QUIC connection to the blob service at
// addr. insecureSkipVerify is for development against a self-signed blob
// service only.
func DialQUICBlobStore(ctx context.Context, addr string, insecureSkipVerify bool) (*QUICBlobStore, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: insecureSkipVerify,
		NextProtos:         []string{"securesend-blob-v1"},
		MinVersion:         tls.VersionTLS13,
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, &quic.Config{
		MaxIdleTimeout: 60 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("dial blob service %s: %w", addr, err)
	}
	return &QUICBlobStore{conn: conn}, nil
}

// Close closes the underlying QUIC connection.
func (s *QUICBlobStore) Close() error {
	return s.conn.CloseWithError(0, "blob store client closed")
}

// Put uploads data over a fresh stream and returns the opaque URL (here,
// an opaque blob id) the store assigned it.
func (s *QUICBlobStore) Put(ctx context.Context, data []byte) (string, error) {
	stream, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return "", fmt.Errorf("open blob stream: %w", err)
	}
	defer stream.Close()

	if err := writeBlobRequest(stream, blobMethodPut, data); err != nil {
		return "", fmt.Errorf("write put request: %w", err)
	}
	if err := stream.Close(); err != nil {
		return "", fmt.Errorf("close write side: %w", err)
	}
	resp, err := readBlobFrame(stream)
	if err != nil {
		return "", fmt.Errorf("read put response: %w", err)
	}
	return string(resp), nil
}

// Get downloads the blob named by url (the opaque id returned by Put)
// over a fresh stream.
func (s *QUICBlobStore) Get(ctx context.Context, url string) ([]byte, error) {
	stream, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open blob stream: %w", err)
	}
	defer stream.Close()

	if err := writeBlobRequest(stream, blobMethodGet, []byte(url)); err != nil {
		return nil, fmt.Errorf("write get request: %w", err)
	}
	if err := stream.Close(); err != nil {
		return nil, fmt.Errorf("close write side: %w", err)
	}
	return readBlobFrame(stream)
}

func writeBlobRequest(w io.Writer, method byte, body []byte) error {
	header := make([]byte, 1+4)
	header[0] = method
	binary.BigEndian.PutUint32(header[1:], uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return err
}

func readBlobFrame(r io.Reader) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf)
	body := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
	}
	return body, nil
}

// Notifier is the sender-side signaling contract: publish one
// chunk_notify event per uploaded chunk and await the receiver's ack for
// it before continuing, matching the "in-flight window = 1" default.
type Notifier interface {
	PublishChunkNotify(ctx context.Context, index, total int, url string) error
	AwaitChunkAck(ctx context.Context, index int) error
}

// Acker is the receiver-side signaling contract: await the next
// chunk_notify (or the seq=-1 completion marker), and publish per-chunk
// acks plus the final completion event.
type Acker interface {
	AwaitChunkNotify(ctx context.Context) (notify ChunkNotify, done bool, err error)
	PublishAck(ctx context.Context, index int) error
	PublishCompletion(ctx context.Context) error
}

// ChunkNotify is one chunk_notify event's payload.
type ChunkNotify struct {
	Index int
	Total int
	URL   string
}

// Send uploads plaintext from r in cfg.ChunkSize windows, one at a time,
// retrying each upload with bounded exponential backoff before giving up.
func Send(ctx context.Context, cfg config.CloudConfig, store BlobStore, notifier Notifier, sessionKey *xcrypto.SessionKey, r io.Reader, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cloud", "role", "sender")

	chunks, err := readAllChunks(r, cfg.ChunkSize)
	if err != nil {
		return xferr.New(xferr.TransportError, err)
	}
	total := len(chunks)

	for i, plaintext := range chunks {
		ciphertext, err := sessionKey.Seal(plaintext, nil)
		if err != nil {
			return xferr.New(xferr.TransportError, fmt.Errorf("encrypt chunk %d: %w", i, err))
		}
		blob := protocol.CloudBlob{Ciphertext: ciphertext}.Encode()

		url, err := retryWithBackoff(ctx, cfg, logger, fmt.Sprintf("upload chunk %d", i), func() (string, error) {
			return store.Put(ctx, blob)
		})
		if err != nil {
			return xferr.New(xferr.TransportError, err)
		}

		if err := notifier.PublishChunkNotify(ctx, i, total, url); err != nil {
			return xferr.New(xferr.TransportError, fmt.Errorf("publish chunk_notify %d: %w", i, err))
		}
		if err := notifier.AwaitChunkAck(ctx, i); err != nil {
			return xferr.New(xferr.TransportError, fmt.Errorf("await ack for chunk %d: %w", i, err))
		}
		logger.Debug("chunk acknowledged", "index", i, "total", total)
	}

	return nil
}

// Receive awaits chunk_notify events, downloads and decrypts each blob,
// writes it into the reassembly buffer, and acks it. Once every chunk
// counted by the notifications' total has arrived it publishes its own
// completion event and returns the reconstructed plaintext. Send publishes
// no completion marker; if the acker reports one, Receive returns only
// when the buffer is already complete.
func Receive(ctx context.Context, cfg config.CloudConfig, store BlobStore, acker Acker, sessionKey *xcrypto.SessionKey, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cloud", "role", "receiver")

	buffer := reassembly.New(cfg.ChunkSize)

	for {
		notify, done, err := acker.AwaitChunkNotify(ctx)
		if err != nil {
			return nil, xferr.New(xferr.TransportError, fmt.Errorf("await chunk_notify: %w", err))
		}
		if done {
			if !buffer.Complete() {
				return nil, xferr.New(xferr.ProtocolError, fmt.Errorf(
					"incomplete transfer: received %d chunks before completion marker", buffer.ReceivedCount()))
			}
			return buffer.Bytes(), nil
		}

		blobBytes, err := retryWithBackoff(ctx, cfg, logger, fmt.Sprintf("download chunk %d", notify.Index), func() ([]byte, error) {
			return store.Get(ctx, notify.URL)
		})
		if err != nil {
			return nil, xferr.New(xferr.TransportError, err)
		}

		blob, err := protocol.DecodeCloudBlob(blobBytes)
		if err != nil {
			return nil, xferr.New(xferr.ProtocolError, err)
		}
		plaintext, err := sessionKey.Open(blob.Ciphertext, nil)
		if err != nil {
			return nil, xferr.New(xferr.ProtocolError, fmt.Errorf("decrypt chunk %d: %w", notify.Index, err))
		}
		if err := buffer.WriteAt(notify.Index, plaintext); err != nil {
			return nil, xferr.New(xferr.ProtocolError, err)
		}
		buffer.SetTotalChunks(notify.Total)

		if err := acker.PublishAck(ctx, notify.Index); err != nil {
			return nil, xferr.New(xferr.TransportError, fmt.Errorf("publish ack for chunk %d: %w", notify.Index, err))
		}
		logger.Debug("chunk received", "index", notify.Index, "total", notify.Total)

		if buffer.Complete() {
			if err := acker.PublishCompletion(ctx); err != nil {
				return nil, xferr.New(xferr.TransportError, fmt.Errorf("publish completion: %w", err))
			}
			return buffer.Bytes(), nil
		}
	}
}

func readAllChunks(r io.Reader, chunkSize int) ([][]byte, error) {
	var chunks [][]byte
	buf := make([]byte, chunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			chunks = append(chunks, chunk)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read plaintext: %w", err)
		}
	}
	return chunks, nil
}

// retryWithBackoff retries op up to cfg.RetryAttempts times with bounded
// exponential backoff between attempts, jittered to avoid synchronized
// retries.
func retryWithBackoff[T any](ctx context.Context, cfg config.CloudConfig, logger *slog.Logger, label string, op func() (T, error)) (T, error) {
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := cfg.RetryMinDelay
	if delay <= 0 {
		delay = time.Second
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			jittered := delay + time.Duration(rand.Int63n(int64(delay)+1))
			select {
			case <-time.After(jittered):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
			if delay < cfg.RetryMaxDelay {
				delay *= 2
				if delay > cfg.RetryMaxDelay {
					delay = cfg.RetryMaxDelay
				}
			}
		}

		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err
		logger.Warn("retrying after failure", "op", label, "attempt", attempt+1, "error", err)
	}
	return zero, fmt.Errorf("%s failed after %d attempts: %w", label, attempts, lastErr)
}

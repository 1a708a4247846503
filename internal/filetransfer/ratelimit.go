package filetransfer

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// defaultBurstSize is used when a caller passes burstSize <= 0: one
// default-sized direct-transport chunk frame's worth of tokens.
const defaultBurstSize = 16 * 1024

// RateLimitedReader wraps an io.Reader with rate limiting using a token
// bucket algorithm, sized to the transfer's configured chunk frame so a
// full chunk can be read without stalling mid-frame.
type RateLimitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

// NewRateLimitedReader creates a rate-limited reader that limits throughput
// to bytesPerSecond. If bytesPerSecond is 0 or negative, the reader is
// returned without rate limiting. burstSize sets the token bucket's burst
// capacity; callers pass the transport's configured chunk size so the
// limiter never fragments a single chunk write, falling back to
// defaultBurstSize when burstSize <= 0.
func NewRateLimitedReader(ctx context.Context, r io.Reader, bytesPerSecond int64, burstSize int) io.Reader {
	if bytesPerSecond <= 0 {
		return r
	}
	if burstSize <= 0 {
		burstSize = defaultBurstSize
	}

	limiter := rate.NewLimiter(rate.Limit(bytesPerSecond), burstSize)

	return &RateLimitedReader{
		r:       r,
		limiter: limiter,
		ctx:     ctx,
	}
}

// Read implements io.Reader with rate limiting.
// It waits for tokens from the rate limiter before returning data.
func (r *RateLimitedReader) Read(p []byte) (int, error) {
	select {
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	default:
	}

	n, err := r.r.Read(p)
	if n <= 0 {
		return n, err
	}

	if waitErr := r.limiter.WaitN(r.ctx, n); waitErr != nil {
		return n, waitErr
	}

	return n, err
}

// RateLimitedWriter wraps an io.Writer with rate limiting using a token
// bucket algorithm, sized to the transfer's configured chunk frame.
type RateLimitedWriter struct {
	w         io.Writer
	limiter   *rate.Limiter
	ctx       context.Context
	burstSize int
}

// NewRateLimitedWriter creates a rate-limited writer that limits throughput
// to bytesPerSecond. If bytesPerSecond is 0 or negative, the writer is
// returned without rate limiting. burstSize behaves as in
// NewRateLimitedReader: pass the transport's configured chunk size,
// falling back to defaultBurstSize when burstSize <= 0. Writes larger than
// burstSize are broken into burstSize-sized pieces before being handed to
// the underlying writer.
func NewRateLimitedWriter(ctx context.Context, w io.Writer, bytesPerSecond int64, burstSize int) io.Writer {
	if bytesPerSecond <= 0 {
		return w
	}
	if burstSize <= 0 {
		burstSize = defaultBurstSize
	}

	limiter := rate.NewLimiter(rate.Limit(bytesPerSecond), burstSize)

	return &RateLimitedWriter{
		w:         w,
		limiter:   limiter,
		ctx:       ctx,
		burstSize: burstSize,
	}
}

// Write implements io.Writer with rate limiting.
// It waits for tokens from the rate limiter before writing data.
// Large writes are broken into chunks not exceeding the burst size.
func (w *RateLimitedWriter) Write(p []byte) (int, error) {
	select {
	case <-w.ctx.Done():
		return 0, w.ctx.Err()
	default:
	}

	totalWritten := 0

	for len(p) > 0 {
		chunkSize := len(p)
		if chunkSize > w.burstSize {
			chunkSize = w.burstSize
		}

		if err := w.limiter.WaitN(w.ctx, chunkSize); err != nil {
			return totalWritten, err
		}

		n, err := w.w.Write(p[:chunkSize])
		totalWritten += n
		if err != nil {
			return totalWritten, err
		}
		if n < chunkSize {
			return totalWritten, io.ErrShortWrite
		}

		p = p[chunkSize:]
	}

	return totalWritten, nil
}

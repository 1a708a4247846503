// Package probe checks rendezvous relay connectivity before a transfer
// starts, so a caller with an unreachable relay gets a clear error
// instead of discovering it mid-handshake.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"nhooyr.io/websocket"
)

// Result is the outcome of probing one relay endpoint.
type Result struct {
	Endpoint string
	Success  bool
	RTT      time.Duration
	Error    error
	Detail   string
}

// ProbeRelay dials endpoint and immediately closes the connection,
// treating a successful WebSocket handshake as proof the relay is
// reachable. It does not publish or query any event.
func ProbeRelay(ctx context.Context, endpoint string, timeout time.Duration) *Result {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := &Result{Endpoint: endpoint}

	start := time.Now()
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		result.Error = err
		result.Detail = classifyError(err)
		return result
	}
	defer conn.Close(websocket.StatusNormalClosure, "probe complete")

	result.Success = true
	result.RTT = time.Since(start)
	return result
}

// ProbeAny probes every endpoint in order and returns the first success,
// or the last failure if none succeed.
func ProbeAny(ctx context.Context, endpoints []string, timeout time.Duration) *Result {
	var last *Result
	for _, ep := range endpoints {
		r := ProbeRelay(ctx, ep, timeout)
		if r.Success {
			return r
		}
		last = r
	}
	if last == nil {
		last = &Result{Error: errors.New("no relay endpoints configured")}
		last.Detail = "no relay endpoints configured"
	}
	return last
}

// classifyError returns a human-readable description for common dial
// failures, the same triage the rest of the engine's error surface uses.
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return "could not resolve relay hostname"
		}
		return "DNS error: " + dnsErr.Error()
	}

	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(errStr, "timeout") {
		return "relay connection timed out"
	}
	if strings.Contains(errStr, "connection refused") {
		return "relay refused the connection"
	}
	if strings.Contains(errStr, "certificate") || strings.Contains(errStr, "tls") || strings.Contains(errStr, "x509") {
		return fmt.Sprintf("relay TLS handshake failed: %s", errStr)
	}
	return errStr
}

package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestProbeRelay_Unreachable(t *testing.T) {
	r := ProbeRelay(context.Background(), "ws://127.0.0.1:1/relay", 500*time.Millisecond)
	if r.Success {
		t.Fatal("expected probe failure against an unreachable port")
	}
	if r.Error == nil {
		t.Error("expected a non-nil Error")
	}
}

func TestProbeRelay_NonWebSocketServerFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	endpoint := "ws://" + strings.TrimPrefix(srv.URL, "http://")
	r := ProbeRelay(context.Background(), endpoint, 2*time.Second)
	if r.Success {
		t.Fatal("expected probe failure against a non-websocket HTTP server")
	}
}

func TestProbeAny_NoEndpointsConfigured(t *testing.T) {
	r := ProbeAny(context.Background(), nil, time.Second)
	if r.Success {
		t.Fatal("expected failure with no endpoints")
	}
	if r.Detail == "" {
		t.Error("expected a non-empty Detail message")
	}
}

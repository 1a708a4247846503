package orchestrator

import (
	"bytes"
	"context"
	"testing"
	"time"

	xcrypto "github.com/andrewtheguy/securesend/internal/crypto"
	"github.com/andrewtheguy/securesend/internal/rendezvous"
)

func testSessionKey(fill byte) *xcrypto.SessionKey {
	var k [xcrypto.KeySize]byte
	for i := range k {
		k[i] = fill
	}
	return xcrypto.NewSessionKey(k)
}

func TestRendezvousSignaling_OfferAnswerRoundTrip(t *testing.T) {
	client := newMemoryClient()
	sessionKey := testSessionKey(0x11)
	signingKeyA, err := rendezvous.NewSigningKey()
	if err != nil {
		t.Fatalf("NewSigningKey() error = %v", err)
	}
	signingKeyB, err := rendezvous.NewSigningKey()
	if err != nil {
		t.Fatalf("NewSigningKey() error = %v", err)
	}

	offerer := newRendezvousSignaling(client, sessionKey, "xfer-1", signingKeyA, "offer", "answer", 5*time.Millisecond)
	answerer := newRendezvousSignaling(client, sessionKey, "xfer-1", signingKeyB, "answer", "offer", 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := offerer.Send(ctx, []byte("offer-payload")); err != nil {
		t.Fatalf("offerer.Send() error = %v", err)
	}

	got, err := answerer.Receive(ctx)
	if err != nil {
		t.Fatalf("answerer.Receive() error = %v", err)
	}
	if !bytes.Equal(got, []byte("offer-payload")) {
		t.Errorf("got %q, want %q", got, "offer-payload")
	}

	if err := answerer.Send(ctx, []byte("answer-payload")); err != nil {
		t.Fatalf("answerer.Send() error = %v", err)
	}
	got, err = offerer.Receive(ctx)
	if err != nil {
		t.Fatalf("offerer.Receive() error = %v", err)
	}
	if !bytes.Equal(got, []byte("answer-payload")) {
		t.Errorf("got %q, want %q", got, "answer-payload")
	}
}

func TestRendezvousSignaling_Receive_TimesOutWithNoMatchingEvent(t *testing.T) {
	client := newMemoryClient()
	sessionKey := testSessionKey(0x22)
	signingKey, _ := rendezvous.NewSigningKey()
	sig := newRendezvousSignaling(client, sessionKey, "xfer-2", signingKey, "offer", "answer", 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := sig.Receive(ctx); err == nil {
		t.Fatal("expected Receive() to time out with no matching event published")
	}
}

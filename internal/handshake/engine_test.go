package handshake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/andrewtheguy/securesend/internal/identity"
	"github.com/andrewtheguy/securesend/internal/rendezvous"
)

// memoryClient is a minimal in-process rendezvous.Client double: Publish
// appends to a shared slice, Query filters it. Subscribe is unused by the
// engine (it only polls via Query) so it is left unimplemented.
type memoryClient struct {
	mu     sync.Mutex
	events []*rendezvous.Event
}

func (m *memoryClient) Publish(_ context.Context, event *rendezvous.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memoryClient) Query(_ context.Context, filter rendezvous.Filter) ([]*rendezvous.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*rendezvous.Event
	for _, e := range m.events {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryClient) Subscribe(context.Context, rendezvous.Filter, func(*rendezvous.Event)) (rendezvous.Unsubscribe, error) {
	return func() {}, nil
}

func (m *memoryClient) Close() error { return nil }

func TestEngine_PINModeHandshakeEndToEnd(t *testing.T) {
	broker := &memoryClient{}

	receiverID, err := identity.NewPartyID()
	if err != nil {
		t.Fatalf("NewPartyID() error = %v", err)
	}

	senderSigningKey, err := rendezvous.NewSigningKey()
	if err != nil {
		t.Fatalf("NewSigningKey() error = %v", err)
	}
	receiverSigningKey, err := rendezvous.NewSigningKey()
	if err != nil {
		t.Fatalf("NewSigningKey() error = %v", err)
	}

	var salt [16]byte
	salt[0] = 0x42

	senderEngine := New(broker, nil)
	receiverEngine := New(broker, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var senderResult *SenderResult
	var receiverResult *ReceiverResult
	var senderErr, receiverErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		receiverResult, receiverErr = receiverEngine.RunReceiver(ctx, ReceiverParams{
			TransferID:  "aabbccddeeff0011",
			Mode:        ModePIN,
			OwnPublicID: receiverID,
			SigningKey:  receiverSigningKey,
		})
	}()
	go func() {
		defer wg.Done()
		senderResult, senderErr = senderEngine.RunSender(ctx, SenderParams{
			TransferID:     "aabbccddeeff0011",
			Mode:           ModePIN,
			ReceiverPublic: receiverID,
			Salt:           salt,
			SigningKey:     senderSigningKey,
		})
	}()
	wg.Wait()

	if senderErr != nil {
		t.Fatalf("RunSender() error = %v", senderErr)
	}
	if receiverErr != nil {
		t.Fatalf("RunReceiver() error = %v", receiverErr)
	}

	if senderResult.SessionKey.Key() != receiverResult.SessionKey.Key() {
		t.Error("sender and receiver derived different session keys")
	}
	if senderEngine.State() != StateStreaming {
		t.Errorf("sender state = %v, want StateStreaming", senderEngine.State())
	}
	if receiverEngine.State() != StateStreaming {
		t.Errorf("receiver state = %v, want StateStreaming", receiverEngine.State())
	}
}

func TestEngine_Cancel(t *testing.T) {
	broker := &memoryClient{}
	e := New(broker, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	receiverID, err := identity.NewPartyID()
	if err != nil {
		t.Fatalf("NewPartyID() error = %v", err)
	}

	_, err = e.RunReceiver(ctx, ReceiverParams{
		TransferID:  "0000000000000000",
		Mode:        ModePIN,
		OwnPublicID: receiverID,
	})
	if err == nil {
		t.Fatal("expected error when context is already cancelled")
	}
	if e.State() != StateCancelled {
		t.Errorf("state = %v, want StateCancelled", e.State())
	}
}

func TestEngine_DoubleStartRejected(t *testing.T) {
	broker := &memoryClient{}
	e := New(broker, nil)
	e.state.store(StateStreaming)

	receiverID, _ := identity.NewPartyID()
	_, err := e.RunReceiver(context.Background(), ReceiverParams{OwnPublicID: receiverID})
	if err == nil {
		t.Error("expected error starting an already-started engine")
	}
}

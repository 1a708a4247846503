// Package orchestrator drives one transfer end to end: a relay
// connectivity probe, the PFS handshake, a direct connection attempt
// bounded by a timeout, and a fallback to the cloud blob-store transport
// if direct connectivity does not establish in time. It wires the
// rendezvous substrate to both the handshake engine and the two
// transport implementations.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/andrewtheguy/securesend/internal/config"
	xcrypto "github.com/andrewtheguy/securesend/internal/crypto"
	"github.com/andrewtheguy/securesend/internal/handshake"
	"github.com/andrewtheguy/securesend/internal/identity"
	"github.com/andrewtheguy/securesend/internal/logging"
	"github.com/andrewtheguy/securesend/internal/metrics"
	"github.com/andrewtheguy/securesend/internal/pairing"
	"github.com/andrewtheguy/securesend/internal/probe"
	"github.com/andrewtheguy/securesend/internal/rendezvous"
	"github.com/andrewtheguy/securesend/internal/transport/cloud"
	"github.com/andrewtheguy/securesend/internal/transport/direct"
	"github.com/andrewtheguy/securesend/internal/xferr"
)

// Engine drives a single transfer (one Send or Receive call; build a
// fresh Engine per transfer).
type Engine struct {
	cfg     *config.Config
	client  rendezvous.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
	state   stateHolder
}

// New builds an Engine bound to a rendezvous substrate client and
// metrics registry.
func New(cfg *config.Config, client rendezvous.Client, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Default()
	}
	return &Engine{cfg: cfg, client: client, metrics: m, logger: logger.With(logging.KeyComponent, "orchestrator")}
}

// State returns the engine's current top-level state.
func (e *Engine) State() State {
	return e.state.load()
}

// Cancel moves the engine to StateCancelled unless it has already
// reached a terminal state.
func (e *Engine) Cancel() {
	for {
		cur := e.state.load()
		if cur == StateCompleted || cur == StateFailed || cur == StateCancelled {
			return
		}
		if e.state.transition(cur, StateCancelled) {
			e.metrics.RecordTransferCancelled()
			return
		}
	}
}

// SendParams configures one run of Send.
type SendParams struct {
	TransferID     string
	Mode           handshake.Mode
	ReceiverPublic identity.PartyID
	OwnFingerprint identity.Fingerprint
	Salt           [16]byte
	PairingRecord  *pairing.Record
	OwnVS          [32]byte
	Reader         io.Reader
	Size           int64

	// States, if non-nil, receives every state transition. The caller
	// must drain it; full buffers drop events rather than block.
	States chan<- StateEvent
}

// Send runs the sender side of a transfer: probe, handshake, then
// direct-with-cloud-fallback streaming.
func (e *Engine) Send(ctx context.Context, p SendParams) error {
	start := time.Now()
	e.metrics.RecordTransferStart()

	if p.Size > e.cfg.Orchestrator.MaxFileSize {
		return e.fail(p.States, xferr.New(xferr.ProtocolError, fmt.Errorf(
			"file size %d exceeds configured maximum %d", p.Size, e.cfg.Orchestrator.MaxFileSize)))
	}

	if err := e.probeRelay(ctx, p.States); err != nil {
		return e.fail(p.States, err)
	}

	signingKey, err := rendezvous.NewSigningKey()
	if err != nil {
		return e.fail(p.States, xferr.New(xferr.TransportError, err))
	}

	emit(p.States, StateHandshaking, nil)
	handshakeStart := time.Now()
	e.metrics.RecordHandshakeStart(p.Mode.String(), "sender")

	hs := handshake.New(e.client, e.logger)
	result, err := hs.RunSender(ctx, handshake.SenderParams{
		TransferID:     p.TransferID,
		Mode:           p.Mode,
		ReceiverPublic: p.ReceiverPublic,
		OwnFingerprint: p.OwnFingerprint,
		Salt:           p.Salt,
		PairingRecord:  p.PairingRecord,
		OwnVS:          p.OwnVS,
		SigningKey:     signingKey,
	})
	if err != nil {
		e.metrics.RecordHandshakeError(xferr.Unknown.String())
		return e.fail(p.States, err)
	}
	e.metrics.RecordHandshakeComplete(p.Mode.String(), time.Since(handshakeStart).Seconds())
	sessionKey := result.SessionKey
	defer sessionKey.Zero()

	if err := e.streamSend(ctx, p.States, p.TransferID, signingKey, sessionKey, p.Reader); err != nil {
		return err
	}

	emit(p.States, StateCompleted, nil)
	e.state.store(StateCompleted)
	e.metrics.RecordTransferComplete(time.Since(start).Seconds())
	return nil
}

// ReceiveParams configures one run of Receive.
type ReceiveParams struct {
	TransferID           string
	Mode                 handshake.Mode
	OwnPublicID          identity.PartyID
	OwnFingerprint       identity.Fingerprint
	ExpectedSender       identity.Fingerprint
	PeerVS               [32]byte
	IdentitySharedSecret []byte

	States chan<- StateEvent
}

// ReceiveResult carries the reconstructed plaintext and the verified
// sender fingerprint (zero for PIN mode).
type ReceiveResult struct {
	Data              []byte
	SenderFingerprint identity.Fingerprint
}

// Receive runs the receiver side of a transfer.
func (e *Engine) Receive(ctx context.Context, p ReceiveParams) (*ReceiveResult, error) {
	start := time.Now()
	e.metrics.RecordTransferStart()

	if err := e.probeRelay(ctx, p.States); err != nil {
		return nil, e.fail(p.States, err)
	}

	signingKey, err := rendezvous.NewSigningKey()
	if err != nil {
		return nil, e.fail(p.States, xferr.New(xferr.TransportError, err))
	}

	emit(p.States, StateHandshaking, nil)
	handshakeStart := time.Now()
	e.metrics.RecordHandshakeStart(p.Mode.String(), "receiver")

	hs := handshake.New(e.client, e.logger)
	result, err := hs.RunReceiver(ctx, handshake.ReceiverParams{
		TransferID:           p.TransferID,
		Mode:                 p.Mode,
		OwnPublicID:          p.OwnPublicID,
		OwnFingerprint:       p.OwnFingerprint,
		ExpectedSender:       p.ExpectedSender,
		PeerVS:               p.PeerVS,
		IdentitySharedSecret: p.IdentitySharedSecret,
		SigningKey:           signingKey,
	})
	if err != nil {
		e.metrics.RecordHandshakeError(xferr.Unknown.String())
		return nil, e.fail(p.States, err)
	}
	e.metrics.RecordHandshakeComplete(p.Mode.String(), time.Since(handshakeStart).Seconds())
	sessionKey := result.SessionKey
	defer sessionKey.Zero()

	data, err := e.streamReceive(ctx, p.States, p.TransferID, signingKey, sessionKey)
	if err != nil {
		return nil, err
	}

	emit(p.States, StateCompleted, nil)
	e.state.store(StateCompleted)
	e.metrics.RecordTransferComplete(time.Since(start).Seconds())
	return &ReceiveResult{Data: data, SenderFingerprint: result.SenderFingerprint}, nil
}

func (e *Engine) probeRelay(ctx context.Context, observer chan<- StateEvent) error {
	emit(observer, StateProbingRelay, nil)
	if len(e.cfg.Rendezvous.Endpoints) == 0 {
		return nil
	}
	result := probe.ProbeAny(ctx, e.cfg.Rendezvous.Endpoints, e.cfg.Rendezvous.ProbeTimeout)
	if !result.Success {
		return xferr.New(xferr.SubstrateUnavailable, fmt.Errorf("no relay endpoint reachable: %s", result.Detail))
	}
	return nil
}

// streamSend attempts the direct transport within the configured
// timeout, falling back to the cloud transport if it does not establish
// in time. Once a path is selected there is no mid-stream fallback: a
// failure after the direct connection is established, or after the
// cloud upload begins, is terminal.
func (e *Engine) streamSend(ctx context.Context, observer chan<- StateEvent, transferID, signingKey string, sessionKey *xcrypto.SessionKey, r io.Reader) error {
	emit(observer, StateConnectingDirect, nil)

	directCtx, cancel := context.WithTimeout(ctx, e.cfg.Orchestrator.DirectAttemptTimeout)
	defer cancel()

	signaling := newRendezvousSignaling(e.client, sessionKey, transferID, signingKey, "offer", "answer", e.cfg.Handshake.PollInterval)
	conn, err := direct.Dial(directCtx, e.cfg.Direct, signaling, sessionKey, e.logger)
	if err == nil {
		e.metrics.RecordTransportSelected("direct")
		emit(observer, StateStreamingDirect, nil)
		defer conn.Close()
		if err := conn.Send(ctx, r); err != nil {
			e.metrics.RecordTransportError("direct", "stream")
			return e.fail(observer, err)
		}
		return nil
	}

	e.logger.Warn("direct connection attempt failed, falling back to cloud transport", logging.KeyError, err)
	e.metrics.RecordTransportFallback()
	emit(observer, StateFallingBackToCloud, nil)

	store, err := cloud.DialQUICBlobStore(ctx, e.cfg.Cloud.Endpoint, false)
	if err != nil {
		return e.fail(observer, xferr.New(xferr.TransportError, fmt.Errorf("dial blob store: %w", err)))
	}
	defer store.Close()

	e.metrics.RecordTransportSelected("cloud")
	emit(observer, StateStreamingCloud, nil)

	notifier := newRendezvousNotifier(e.client, transferID, signingKey, e.cfg.Handshake.PollInterval)
	if err := cloud.Send(ctx, e.cfg.Cloud, store, notifier, sessionKey, r, e.logger); err != nil {
		e.metrics.RecordTransportError("cloud", "stream")
		return e.fail(observer, err)
	}
	return nil
}

// streamReceive mirrors streamSend from the receiving side: it awaits
// the offer within the direct-attempt window, falling back to waiting
// for cloud chunk_notify events if no offer arrives in time.
func (e *Engine) streamReceive(ctx context.Context, observer chan<- StateEvent, transferID, signingKey string, sessionKey *xcrypto.SessionKey) ([]byte, error) {
	emit(observer, StateConnectingDirect, nil)

	directCtx, cancel := context.WithTimeout(ctx, e.cfg.Orchestrator.DirectAttemptTimeout)
	defer cancel()

	signaling := newRendezvousSignaling(e.client, sessionKey, transferID, signingKey, "answer", "offer", e.cfg.Handshake.PollInterval)
	conn, err := direct.Accept(directCtx, e.cfg.Direct, signaling, sessionKey, e.logger)
	if err == nil {
		e.metrics.RecordTransportSelected("direct")
		emit(observer, StateStreamingDirect, nil)
		defer conn.Close()
		data, err := conn.Receive(ctx)
		if err != nil {
			e.metrics.RecordTransportError("direct", "stream")
			return nil, e.fail(observer, err)
		}
		return data, nil
	}

	e.logger.Warn("no direct offer arrived, falling back to cloud transport", logging.KeyError, err)
	e.metrics.RecordTransportFallback()
	emit(observer, StateFallingBackToCloud, nil)

	store, err := cloud.DialQUICBlobStore(ctx, e.cfg.Cloud.Endpoint, false)
	if err != nil {
		return nil, e.fail(observer, xferr.New(xferr.TransportError, fmt.Errorf("dial blob store: %w", err)))
	}
	defer store.Close()

	e.metrics.RecordTransportSelected("cloud")
	emit(observer, StateStreamingCloud, nil)

	acker := newRendezvousAcker(e.client, transferID, signingKey, e.cfg.Handshake.PollInterval)
	data, err := cloud.Receive(ctx, e.cfg.Cloud, store, acker, sessionKey, e.logger)
	if err != nil {
		e.metrics.RecordTransportError("cloud", "stream")
		return nil, e.fail(observer, err)
	}
	return data, nil
}

func (e *Engine) fail(observer chan<- StateEvent, err error) error {
	e.state.store(StateFailed)
	emit(observer, StateFailed, err)
	if xferr.Is(err, xferr.Cancelled) {
		e.metrics.RecordTransferCancelled()
	} else {
		e.metrics.RecordTransferFailed(kindOf(err))
	}
	return err
}

func kindOf(err error) string {
	var xe *xferr.Error
	if errors.As(err, &xe) {
		return xe.Kind.String()
	}
	return xferr.Unknown.String()
}

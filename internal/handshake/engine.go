package handshake

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	xcrypto "github.com/andrewtheguy/securesend/internal/crypto"
	"github.com/andrewtheguy/securesend/internal/identity"
	"github.com/andrewtheguy/securesend/internal/logging"
	"github.com/andrewtheguy/securesend/internal/pairing"
	"github.com/andrewtheguy/securesend/internal/protocol"
	"github.com/andrewtheguy/securesend/internal/rendezvous"
	"github.com/andrewtheguy/securesend/internal/xferr"
)

// readyAckPollInterval is how often either side re-queries the substrate
// while waiting for the counterparty's handshake event (receiver) or
// ready-ack (sender). The engine always polls with Query; it does not
// subscribe.
const readyAckPollInterval = 500 * time.Millisecond

// HandshakeTTL bounds how long each side waits for the counterparty's
// handshake event or ready-ack before abandoning the attempt. Whether an
// individual event has expired is decided by rendezvous.Event.IsExpired.
const HandshakeTTL = 2 * time.Minute

// Engine drives one side of a PFS handshake to completion:
// build and publish (or await and verify) the handshake event, derive
// the session key, and exchange the ready-ack. It carries no transport
// logic; StateStreaming is the handoff point to the direct or cloud
// transport layer, which receives the derived SessionKey.
type Engine struct {
	client rendezvous.Client
	logger *slog.Logger
	state  stateHolder
}

// New builds an Engine bound to a rendezvous substrate client.
func New(client rendezvous.Client, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{client: client, logger: logger.With(logging.KeyComponent, "handshake")}
}

// State returns the engine's current state.
func (e *Engine) State() State {
	return e.state.load()
}

// Cancel moves the engine to StateCancelled from whatever state it is
// currently in, unless it has already reached a terminal state.
func (e *Engine) Cancel() {
	for {
		cur := e.state.load()
		if cur == StateCompleted || cur == StateError || cur == StateCancelled {
			return
		}
		if e.state.transition(cur, StateCancelled) {
			return
		}
	}
}

// SenderParams configures one run of RunSender.
type SenderParams struct {
	TransferID     string
	Mode           Mode
	ReceiverPublic identity.PartyID
	OwnFingerprint identity.Fingerprint // zero for PIN mode
	Salt           [16]byte             // PIN/PRF salt (PIN mode)
	PairingRecord  *pairing.Record      // cross-user mode
	OwnVS          [32]byte             // this side's verification secret, cross-user mode
	SigningKey     string               // hex, from rendezvous.NewSigningKey
}

// SenderResult is returned once the sender side of a handshake completes.
type SenderResult struct {
	SessionKey *xcrypto.SessionKey
}

// RunSender publishes a handshake event, waits for the receiver's
// ready-ack, and returns the derived session key.
func (e *Engine) RunSender(ctx context.Context, p SenderParams) (*SenderResult, error) {
	if !e.state.transition(StateIdle, StatePrepare) {
		return nil, fmt.Errorf("handshake: engine already started")
	}

	kp, err := xcrypto.GenerateEphemeralKeypair()
	if err != nil {
		return nil, e.fail(fmt.Errorf("generate ephemeral keypair: %w", err))
	}
	defer kp.Zero()

	nonce, err := randomNonce()
	if err != nil {
		return nil, e.fail(err)
	}

	ev := &Event{
		TransferID:         p.TransferID,
		SenderFingerprint:  p.OwnFingerprint,
		HasSenderFP:        p.Mode != ModePIN,
		ReceiverCommitment: ReceiverCommitmentFor(p.ReceiverPublic),
		Nonce:              nonce,
		EphemeralPublic:    kp.Public,
		Salt:               p.Salt,
	}

	if p.Mode == ModeCrossUserPairingKey {
		if p.PairingRecord == nil {
			return nil, e.fail(fmt.Errorf("cross-user mode requires a pairing record"))
		}
		receiverFP := identity.ComputeFingerprint(p.ReceiverPublic)
		proof := ComputeHandshakeProof(p.OwnVS, kp.Public, nonce, receiverFP)
		ev.HandshakeProof = proof
		ev.HasProof = true
	}

	e.logger.Info("publishing handshake event", logging.KeyTransferID, p.TransferID, logging.KeyMode, p.Mode.String())

	if !e.state.transition(StatePrepare, StatePublishHandshake) {
		return nil, e.fail(fmt.Errorf("unexpected state transitioning to publish"))
	}

	if err := e.publishHandshake(ctx, p, ev); err != nil {
		return nil, e.fail(err)
	}

	if !e.state.transition(StatePublishHandshake, StateAwaitReadyAck) {
		return nil, e.fail(fmt.Errorf("unexpected state awaiting ready-ack"))
	}

	return e.awaitReadyAck(ctx, p, kp, ev)
}

func (e *Engine) publishHandshake(ctx context.Context, p SenderParams, ev *Event) error {
	keyBytes, err := hex.DecodeString(p.SigningKey)
	if err != nil {
		return fmt.Errorf("decode signing key: %w", err)
	}

	tags := BuildHandshakeTags(p.Mode, ev)
	content := ""
	if p.Mode == ModeCrossUserPairingKey {
		b, err := marshalRecord(p.PairingRecord)
		if err != nil {
			return err
		}
		content = string(b)
	}

	re, err := rendezvous.NewEvent(p.SigningKey, rendezvous.KindHandshake, nowUnix(), tags, content)
	if err != nil {
		return fmt.Errorf("build handshake event: %w", err)
	}
	re.SignWith(keyBytes)

	return e.client.Publish(ctx, re)
}

func (e *Engine) awaitReadyAck(ctx context.Context, p SenderParams, kp *xcrypto.EphemeralKeypair, ev *Event) (*SenderResult, error) {
	filter := rendezvous.Filter{
		Kinds: []int{rendezvous.KindData},
		Tags:  map[string][]string{protocol.TagTransferID: {p.TransferID}},
	}

	deadline := time.Now().Add(HandshakeTTL)
	for {
		select {
		case <-ctx.Done():
			return nil, e.cancelled(ctx.Err())
		default:
		}
		if time.Now().After(deadline) {
			return nil, e.fail(xferr.New(xferr.Expired, fmt.Errorf("timed out awaiting ready-ack")))
		}

		events, err := e.client.Query(ctx, filter)
		if err != nil {
			e.logger.Warn("ready-ack query failed, retrying", logging.KeyError, err)
		}
		for _, re := range events {
			seq, ok := re.Tag(protocol.TagSeq)
			if !ok || seq != "0" {
				continue
			}
			receiverEpk, err := ParseReadyAckEphemeralKey(re)
			if err != nil {
				continue
			}
			sessionKey, err := DeriveSession(kp, receiverEpk, ev.Salt[:])
			if err != nil {
				continue
			}
			if err := VerifyReadyAck(sessionKey, p.TransferID, re.Content); err != nil {
				continue
			}
			if !e.state.transition(StateAwaitReadyAck, StateStreaming) {
				return nil, e.fail(fmt.Errorf("unexpected state receiving ready-ack"))
			}
			return &SenderResult{SessionKey: sessionKey}, nil
		}

		select {
		case <-ctx.Done():
			return nil, e.cancelled(ctx.Err())
		case <-time.After(readyAckPollInterval):
		}
	}
}

// ReceiverParams configures one run of RunReceiver.
type ReceiverParams struct {
	TransferID           string
	Mode                 Mode
	OwnPublicID          identity.PartyID
	OwnFingerprint       identity.Fingerprint
	ExpectedSender       identity.Fingerprint // passkey modes
	PeerVS               [32]byte             // cross-user mode
	IdentitySharedSecret []byte               // self-transfer mode
	SigningKey           string               // hex, for publishing the ready-ack
}

// ReceiverResult is returned once the receiver side of a handshake
// completes, along with the sender's decoded fingerprint (zero for PIN
// mode, where there is no stable sender identity).
type ReceiverResult struct {
	SessionKey        *xcrypto.SessionKey
	SenderFingerprint identity.Fingerprint
}

// RunReceiver waits for the sender's handshake event, verifies it,
// derives the session key, and publishes a ready-ack.
func (e *Engine) RunReceiver(ctx context.Context, p ReceiverParams) (*ReceiverResult, error) {
	if !e.state.transition(StateIdle, StateAwaitHandshake) {
		return nil, fmt.Errorf("handshake: engine already started")
	}

	ev, err := e.awaitHandshakeEvent(ctx, p)
	if err != nil {
		return nil, err
	}

	if !e.state.transition(StateAwaitHandshake, StateVerifyCounterparty) {
		return nil, e.fail(fmt.Errorf("unexpected state verifying counterparty"))
	}

	vctx := VerifyContext{
		ExpectedSenderFingerprint: p.ExpectedSender,
		OwnPublicID:               p.OwnPublicID,
		OwnFingerprint:            p.OwnFingerprint,
		PeerVS:                    p.PeerVS,
		IdentitySharedSecret:      p.IdentitySharedSecret,
	}
	if err := VerifyCounterparty(p.Mode, ev, vctx, nil, ev.Salt[:]); err != nil {
		return nil, e.fail(err)
	}

	if !e.state.transition(StateVerifyCounterparty, StateDeriveSession) {
		return nil, e.fail(fmt.Errorf("unexpected state deriving session"))
	}

	kp, err := xcrypto.GenerateEphemeralKeypair()
	if err != nil {
		return nil, e.fail(fmt.Errorf("generate ephemeral keypair: %w", err))
	}
	defer kp.Zero()

	sessionKey, err := DeriveSession(kp, ev.EphemeralPublic, ev.Salt[:])
	if err != nil {
		return nil, e.fail(fmt.Errorf("derive session key: %w", err))
	}

	if p.Mode == ModeSelfTransferPasskey {
		if err := VerifyKeyConfirmation(ev, sessionKey, ev.Salt[:]); err != nil {
			return nil, e.fail(err)
		}
	}

	if !e.state.transition(StateDeriveSession, StateSendReadyAck) {
		return nil, e.fail(fmt.Errorf("unexpected state sending ready-ack"))
	}

	if err := e.publishReadyAck(ctx, p, kp, sessionKey); err != nil {
		return nil, e.fail(err)
	}

	if !e.state.transition(StateSendReadyAck, StateStreaming) {
		return nil, e.fail(fmt.Errorf("unexpected state entering streaming"))
	}

	return &ReceiverResult{SessionKey: sessionKey, SenderFingerprint: ev.SenderFingerprint}, nil
}

func (e *Engine) awaitHandshakeEvent(ctx context.Context, p ReceiverParams) (*Event, error) {
	commitment := ReceiverCommitmentFor(p.OwnPublicID)
	filter := rendezvous.Filter{
		Kinds: []int{rendezvous.KindHandshake},
		Tags: map[string][]string{
			protocol.TagTransferID:  {p.TransferID},
			protocol.TagReceiverPKC: {hex.EncodeToString(commitment[:])},
		},
	}

	deadline := time.Now().Add(HandshakeTTL)
	for {
		select {
		case <-ctx.Done():
			return nil, e.cancelled(ctx.Err())
		default:
		}
		if time.Now().After(deadline) {
			return nil, e.fail(xferr.New(xferr.Expired, fmt.Errorf("timed out awaiting handshake event")))
		}

		events, err := e.client.Query(ctx, filter)
		if err != nil {
			e.logger.Warn("handshake query failed, retrying", logging.KeyError, err)
		}
		for _, re := range events {
			if re.IsExpired(time.Now()) {
				continue
			}
			ev, err := ParseEvent(re)
			if err != nil {
				e.logger.Warn("discarding malformed handshake event", logging.KeyError, err)
				continue
			}
			return ev, nil
		}

		select {
		case <-ctx.Done():
			return nil, e.cancelled(ctx.Err())
		case <-time.After(readyAckPollInterval):
		}
	}
}

func (e *Engine) publishReadyAck(ctx context.Context, p ReceiverParams, kp *xcrypto.EphemeralKeypair, sessionKey *xcrypto.SessionKey) error {
	keyBytes, err := hex.DecodeString(p.SigningKey)
	if err != nil {
		return fmt.Errorf("decode signing key: %w", err)
	}

	content, err := BuildReadyAck(sessionKey, p.TransferID)
	if err != nil {
		return err
	}

	tags := ReadyAckTags(p.TransferID, kp.Public)
	re, err := rendezvous.NewEvent(p.SigningKey, rendezvous.KindData, nowUnix(), tags, content)
	if err != nil {
		return fmt.Errorf("build ready-ack event: %w", err)
	}
	re.SignWith(keyBytes)

	return e.client.Publish(ctx, re)
}

func (e *Engine) fail(err error) error {
	cur := e.state.load()
	if cur != StateCancelled {
		e.state.transition(cur, StateError)
	}
	return err
}

func (e *Engine) cancelled(err error) error {
	e.state.store(StateCancelled)
	return xferr.New(xferr.Cancelled, err)
}

func randomNonce() ([16]byte, error) {
	var n [16]byte
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return n, fmt.Errorf("generate nonce: %w", err)
	}
	return n, nil
}

func nowUnix() int64 {
	return time.Now().Unix()
}

func marshalRecord(rec *pairing.Record) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal pairing record: %w", err)
	}
	return b, nil
}

package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	xcrypto "github.com/andrewtheguy/securesend/internal/crypto"
	"github.com/andrewtheguy/securesend/internal/protocol"
	"github.com/andrewtheguy/securesend/internal/rendezvous"
)

// rendezvousSignaling implements direct.Signaling over the rendezvous
// substrate: each payload is session-AEAD sealed and published as a
// kind=KindData event tagged with the transfer id and a direction ("offer"
// or "answer"), so each side's query only ever matches the other side's
// messages.
type rendezvousSignaling struct {
	client       rendezvous.Client
	sessionKey   *xcrypto.SessionKey
	transferID   string
	signingKey   string // hex, this side's per-transfer HMAC key
	sendDir      string
	recvDir      string
	pollInterval time.Duration
}

func newRendezvousSignaling(client rendezvous.Client, sessionKey *xcrypto.SessionKey, transferID, signingKey, sendDir, recvDir string, pollInterval time.Duration) *rendezvousSignaling {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &rendezvousSignaling{
		client:       client,
		sessionKey:   sessionKey,
		transferID:   transferID,
		signingKey:   signingKey,
		sendDir:      sendDir,
		recvDir:      recvDir,
		pollInterval: pollInterval,
	}
}

func (s *rendezvousSignaling) Send(ctx context.Context, payload []byte) error {
	keyBytes, err := hex.DecodeString(s.signingKey)
	if err != nil {
		return fmt.Errorf("decode signing key: %w", err)
	}

	aad := []byte(s.transferID + s.sendDir)
	ciphertext, err := s.sessionKey.Seal(payload, aad)
	if err != nil {
		return fmt.Errorf("seal signal payload: %w", err)
	}

	tags := rendezvous.BuildTags(
		[2]string{protocol.TagTransferID, s.transferID},
		[2]string{protocol.TagType, protocol.TypeSignal},
		[2]string{protocol.TagDirection, s.sendDir},
	)
	re, err := rendezvous.NewEvent(s.signingKey, rendezvous.KindData, time.Now().Unix(), tags, base64.StdEncoding.EncodeToString(ciphertext))
	if err != nil {
		return fmt.Errorf("build signal event: %w", err)
	}
	re.SignWith(keyBytes)

	return s.client.Publish(ctx, re)
}

func (s *rendezvousSignaling) Receive(ctx context.Context) ([]byte, error) {
	filter := rendezvous.Filter{
		Kinds: []int{rendezvous.KindData},
		Tags: map[string][]string{
			protocol.TagTransferID: {s.transferID},
			protocol.TagType:       {protocol.TypeSignal},
			protocol.TagDirection:  {s.recvDir},
		},
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		events, err := s.client.Query(ctx, filter)
		if err == nil {
			for _, re := range events {
				ciphertext, err := base64.StdEncoding.DecodeString(re.Content)
				if err != nil {
					continue
				}
				aad := []byte(s.transferID + s.recvDir)
				plaintext, err := s.sessionKey.Open(ciphertext, aad)
				if err != nil {
					continue
				}
				return plaintext, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

package orchestrator

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/andrewtheguy/securesend/internal/protocol"
	"github.com/andrewtheguy/securesend/internal/rendezvous"
	"github.com/andrewtheguy/securesend/internal/transport/cloud"
)

// rendezvousNotifier implements cloud.Notifier: one chunk_notify event
// per uploaded chunk, and a poll for the matching ack.
type rendezvousNotifier struct {
	client       rendezvous.Client
	transferID   string
	signingKey   string
	pollInterval time.Duration
}

func newRendezvousNotifier(client rendezvous.Client, transferID, signingKey string, pollInterval time.Duration) *rendezvousNotifier {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &rendezvousNotifier{client: client, transferID: transferID, signingKey: signingKey, pollInterval: pollInterval}
}

func (n *rendezvousNotifier) PublishChunkNotify(ctx context.Context, index, total int, url string) error {
	keyBytes, err := hex.DecodeString(n.signingKey)
	if err != nil {
		return fmt.Errorf("decode signing key: %w", err)
	}
	tags := rendezvous.BuildTags(
		[2]string{protocol.TagTransferID, n.transferID},
		[2]string{protocol.TagType, protocol.TypeChunkNotify},
		[2]string{protocol.TagChunkIndex, strconv.Itoa(index)},
		[2]string{protocol.TagChunkTotal, strconv.Itoa(total)},
		[2]string{protocol.TagBlobURL, url},
	)
	re, err := rendezvous.NewEvent(n.signingKey, rendezvous.KindData, time.Now().Unix(), tags, "")
	if err != nil {
		return fmt.Errorf("build chunk_notify event: %w", err)
	}
	re.SignWith(keyBytes)
	return n.client.Publish(ctx, re)
}

func (n *rendezvousNotifier) AwaitChunkAck(ctx context.Context, index int) error {
	filter := rendezvous.Filter{
		Kinds: []int{rendezvous.KindData},
		Tags: map[string][]string{
			protocol.TagTransferID: {n.transferID},
			protocol.TagType:       {protocol.TypeAck},
			protocol.TagChunkIndex: {strconv.Itoa(index)},
		},
	}
	return pollUntilFound(ctx, n.client, filter, n.pollInterval)
}

// rendezvousAcker implements cloud.Acker: wait for the next chunk_notify
// (or the completion marker, chunk index -1), and publish per-chunk and
// completion acks.
type rendezvousAcker struct {
	client       rendezvous.Client
	transferID   string
	signingKey   string
	pollInterval time.Duration
	seen         map[int]struct{}
}

func newRendezvousAcker(client rendezvous.Client, transferID, signingKey string, pollInterval time.Duration) *rendezvousAcker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &rendezvousAcker{
		client:       client,
		transferID:   transferID,
		signingKey:   signingKey,
		pollInterval: pollInterval,
		seen:         make(map[int]struct{}),
	}
}

func (a *rendezvousAcker) AwaitChunkNotify(ctx context.Context) (cloud.ChunkNotify, bool, error) {
	filter := rendezvous.Filter{
		Kinds: []int{rendezvous.KindData},
		Tags: map[string][]string{
			protocol.TagTransferID: {a.transferID},
			protocol.TagType:       {protocol.TypeChunkNotify},
		},
	}

	for {
		select {
		case <-ctx.Done():
			return cloud.ChunkNotify{}, false, ctx.Err()
		default:
		}

		events, err := a.client.Query(ctx, filter)
		if err == nil {
			for _, re := range events {
				idxStr, ok := re.Tag(protocol.TagChunkIndex)
				if !ok {
					continue
				}
				idx, err := strconv.Atoi(idxStr)
				if err != nil {
					continue
				}
				if idx == protocol.SeqCompletion {
					return cloud.ChunkNotify{}, true, nil
				}
				if _, ok := a.seen[idx]; ok {
					continue
				}
				totalStr, _ := re.Tag(protocol.TagChunkTotal)
				total, _ := strconv.Atoi(totalStr)
				url, ok := re.Tag(protocol.TagBlobURL)
				if !ok {
					continue
				}
				a.seen[idx] = struct{}{}
				return cloud.ChunkNotify{Index: idx, Total: total, URL: url}, false, nil
			}
		}

		select {
		case <-ctx.Done():
			return cloud.ChunkNotify{}, false, ctx.Err()
		case <-time.After(a.pollInterval):
		}
	}
}

func (a *rendezvousAcker) PublishAck(ctx context.Context, index int) error {
	return a.publishAck(ctx, index)
}

func (a *rendezvousAcker) PublishCompletion(ctx context.Context) error {
	return a.publishAck(ctx, protocol.SeqCompletion)
}

func (a *rendezvousAcker) publishAck(ctx context.Context, index int) error {
	keyBytes, err := hex.DecodeString(a.signingKey)
	if err != nil {
		return fmt.Errorf("decode signing key: %w", err)
	}
	tags := rendezvous.BuildTags(
		[2]string{protocol.TagTransferID, a.transferID},
		[2]string{protocol.TagType, protocol.TypeAck},
		[2]string{protocol.TagChunkIndex, strconv.Itoa(index)},
	)
	re, err := rendezvous.NewEvent(a.signingKey, rendezvous.KindData, time.Now().Unix(), tags, "")
	if err != nil {
		return fmt.Errorf("build ack event: %w", err)
	}
	re.SignWith(keyBytes)
	return a.client.Publish(ctx, re)
}

func pollUntilFound(ctx context.Context, client rendezvous.Client, filter rendezvous.Filter, pollInterval time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		events, err := client.Query(ctx, filter)
		if err == nil && len(events) > 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

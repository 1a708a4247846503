package rendezvous

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"nhooyr.io/websocket"

	"github.com/andrewtheguy/securesend/internal/xferr"
)

// Client is the rendezvous substrate contract: publish is
// fire-and-forget across an ordered endpoint list, query is a one-shot
// fetch, subscribe streams matching events to a callback, and close
// releases everything.
type Client interface {
	Publish(ctx context.Context, event *Event) error
	Query(ctx context.Context, filter Filter) ([]*Event, error)
	Subscribe(ctx context.Context, filter Filter, callback func(*Event)) (Unsubscribe, error)
	Close() error
}

// Unsubscribe cancels a subscription started by Subscribe.
type Unsubscribe func()

// relayMessage is the wire envelope for every frame exchanged with a
// relay endpoint: ["EVENT", event], ["REQ", subID, filter],
// ["CLOSE", subID], ["EOSE", subID].
type relayMessage []json.RawMessage

// WSClient is a Client implementation that dials one or more relay
// endpoints over nhooyr.io/websocket, the library the rendezvous
// substrate transport is grounded on.
type WSClient struct {
	endpoints []string
	logger    *slog.Logger
	dialFn    func(ctx context.Context, url string) (*websocket.Conn, error)

	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// NewWSClient builds a client over the given ordered list of relay
// endpoints. The first endpoint to accept a publish wins; query and
// subscribe try endpoints in order until one dials successfully.
func NewWSClient(endpoints []string, logger *slog.Logger) *WSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{
		endpoints: endpoints,
		logger:    logger.With("component", "rendezvous"),
		dialFn: func(ctx context.Context, url string) (*websocket.Conn, error) {
			conn, _, err := websocket.Dial(ctx, url, nil)
			return conn, err
		},
		subs: make(map[string]*subscription),
	}
}

// Publish tries every endpoint in order and succeeds as soon as one
// accepts the event.
func (c *WSClient) Publish(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	frame, err := json.Marshal(relayMessage{json.RawMessage(`"EVENT"`), payload})
	if err != nil {
		return fmt.Errorf("marshal publish frame: %w", err)
	}

	var lastErr error
	for _, endpoint := range c.endpoints {
		if err := c.publishOne(ctx, endpoint, frame); err != nil {
			lastErr = err
			c.logger.Warn("publish endpoint rejected event", "endpoint", endpoint, "error", err)
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no endpoints configured")
	}
	return xferr.New(xferr.SubstrateUnavailable, lastErr)
}

func (c *WSClient) publishOne(ctx context.Context, endpoint string, frame []byte) error {
	conn, err := c.dialFn(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "publish complete")

	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("write to %s: %w", endpoint, err)
	}
	return nil
}

// Query performs a one-shot fetch of past events matching filter,
// stopping at the first endpoint that answers.
func (c *WSClient) Query(ctx context.Context, filter Filter) ([]*Event, error) {
	subID, err := randomSubID()
	if err != nil {
		return nil, err
	}
	req, err := buildReqFrame(subID, filter)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, endpoint := range c.endpoints {
		events, err := c.queryOne(ctx, endpoint, subID, req, filter)
		if err != nil {
			lastErr = err
			c.logger.Warn("query endpoint failed", "endpoint", endpoint, "error", err)
			continue
		}
		return events, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no endpoints configured")
	}
	return nil, xferr.New(xferr.SubstrateUnavailable, lastErr)
}

func (c *WSClient) queryOne(ctx context.Context, endpoint, subID string, req []byte, filter Filter) ([]*Event, error) {
	conn, err := c.dialFn(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "query complete")

	if err := conn.Write(ctx, websocket.MessageText, req); err != nil {
		return nil, fmt.Errorf("write query to %s: %w", endpoint, err)
	}

	var events []*Event
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("read from %s: %w", endpoint, err)
		}

		label, rest, ok := decodeRelayMessage(data)
		if !ok {
			continue
		}
		switch label {
		case "EVENT":
			ev, ok := parseEventFrame(rest)
			if ok && filter.Matches(ev) {
				events = append(events, ev)
			}
		case "EOSE":
			return events, nil
		}
	}
	return events, nil
}

// Subscribe opens a long-lived connection and invokes callback for every
// subsequent matching event until the returned Unsubscribe is called or
// the context is cancelled.
func (c *WSClient) Subscribe(ctx context.Context, filter Filter, callback func(*Event)) (Unsubscribe, error) {
	subID, err := randomSubID()
	if err != nil {
		return nil, err
	}
	req, err := buildReqFrame(subID, filter)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, endpoint := range c.endpoints {
		conn, err := c.dialFn(ctx, endpoint)
		if err != nil {
			lastErr = err
			c.logger.Warn("subscribe endpoint failed to dial", "endpoint", endpoint, "error", err)
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, req); err != nil {
			conn.Close(websocket.StatusInternalError, "write failed")
			lastErr = err
			continue
		}

		subCtx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.subs[subID] = &subscription{conn: conn, cancel: cancel}
		c.mu.Unlock()

		go c.readLoop(subCtx, conn, endpoint, subID, filter, callback)

		return func() {
			c.mu.Lock()
			sub, ok := c.subs[subID]
			delete(c.subs, subID)
			c.mu.Unlock()
			if ok {
				sub.cancel()
				sub.conn.Close(websocket.StatusNormalClosure, "unsubscribed")
			}
		}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no endpoints configured")
	}
	return nil, xferr.New(xferr.SubstrateUnavailable, lastErr)
}

func (c *WSClient) readLoop(ctx context.Context, conn *websocket.Conn, endpoint, subID string, filter Filter, callback func(*Event)) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("subscription read failed", "endpoint", endpoint, "sub_id", subID, "error", err)
			return
		}

		label, rest, ok := decodeRelayMessage(data)
		if !ok || label != "EVENT" {
			continue
		}
		ev, ok := parseEventFrame(rest)
		if !ok || !filter.Matches(ev) {
			continue
		}
		callback(ev)
	}
}

// Close releases every active subscription.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, sub := range c.subs {
		sub.cancel()
		sub.conn.Close(websocket.StatusNormalClosure, "client closed")
		delete(c.subs, id)
	}
	return nil
}

func buildReqFrame(subID string, filter Filter) ([]byte, error) {
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}
	tagFilters := filter.marshalTags()
	if len(tagFilters) > 0 {
		merged := map[string]json.RawMessage{}
		if err := json.Unmarshal(filterJSON, (*map[string]json.RawMessage)(&merged)); err != nil {
			return nil, fmt.Errorf("merge tag filters: %w", err)
		}
		for k, v := range tagFilters {
			vj, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("marshal tag filter %s: %w", k, err)
			}
			merged[k] = vj
		}
		filterJSON, err = json.Marshal(merged)
		if err != nil {
			return nil, fmt.Errorf("remarshal merged filter: %w", err)
		}
	}

	subIDJSON, err := json.Marshal(subID)
	if err != nil {
		return nil, fmt.Errorf("marshal sub id: %w", err)
	}
	msg := relayMessage{json.RawMessage(`"REQ"`), subIDJSON, filterJSON}
	return json.Marshal(msg)
}

func decodeRelayMessage(data []byte) (label string, rest []json.RawMessage, ok bool) {
	var msg relayMessage
	if err := json.Unmarshal(data, &msg); err != nil || len(msg) < 1 {
		return "", nil, false
	}
	if err := json.Unmarshal(msg[0], &label); err != nil {
		return "", nil, false
	}
	return label, msg[1:], true
}

func parseEventFrame(rest []json.RawMessage) (*Event, bool) {
	for _, field := range rest {
		var ev Event
		if err := json.Unmarshal(field, &ev); err == nil && ev.ID != "" {
			return &ev, true
		}
	}
	return nil, false
}

func randomSubID() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate subscription id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// Package rendezvous implements the publish/subscribe substrate client:
// a thin event-bus protocol carrying opaque encrypted content, filtered
// by tags, with TTL enforcement. Events are not de-duplicated by event id:
// a query or subscription delivers whatever the relay returns.
package rendezvous

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Event kinds.
const (
	KindHandshake = 24243
	KindData      = 24242
)

// DefaultTTL is the lifetime of a rendezvous event from its CreatedAt.
const DefaultTTL = time.Hour

// Event is the publish/subscribe envelope: a random per-transfer signing
// key (Pubkey), a kind, a creation time, string-array tags, and opaque
// (already-encrypted) content.
type Event struct {
	ID        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	Kind      int        `json:"kind"`
	CreatedAt int64      `json:"created_at"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// computeID derives the event id deterministically from its content, the
// same way a real id would bind to the payload so tampering is detectable
// by any party that recomputes it.
func computeID(pubkey string, kind int, createdAt int64, tags [][]string, content string) (string, error) {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(pubkey))
	h.Write([]byte(strconv.Itoa(kind)))
	h.Write([]byte(strconv.FormatInt(createdAt, 10)))
	h.Write(tagsJSON)
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// NewEvent builds and IDs (but does not sign) an event. The caller signs
// it with SignWith, which leaves ID unchanged.
func NewEvent(pubkey string, kind int, createdAt int64, tags [][]string, content string) (*Event, error) {
	id, err := computeID(pubkey, kind, createdAt, tags, content)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        id,
		Pubkey:    pubkey,
		Kind:      kind,
		CreatedAt: createdAt,
		Tags:      tags,
		Content:   content,
	}, nil
}

// NewSigningKey generates a fresh random per-transfer signing key, hex
// encoded for use both as Event.Pubkey and as SignWith's key argument.
// Since each transfer mints its own key, the substrate authenticates
// "this event came from whoever published the handshake", not a
// standing identity.
func NewSigningKey() (string, error) {
	var key [32]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", fmt.Errorf("generate signing key: %w", err)
	}
	return hex.EncodeToString(key[:]), nil
}

// SignWith computes Sig as HMAC-SHA256(key, id) and stores it on the
// event in place. key must be the hex-decoded form of the key that produced
// Pubkey via NewSigningKey.
func (e *Event) SignWith(key []byte) {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(e.ID))
	e.Sig = hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes Sig from key and compares it to the
// event's recorded signature.
func (e *Event) VerifySignature(key []byte) bool {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(e.ID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(e.Sig))
}

// Tag returns the first value of the named tag, e.g. Tag("t") for the
// transfer id. Ok is false if the tag is absent.
func (e *Event) Tag(name string) (string, bool) {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1], true
		}
	}
	return "", false
}

// TagValues returns every tag of the given name (a tag may repeat).
func (e *Event) TagValues(name string) []string {
	var out []string
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			out = append(out, t[1])
		}
	}
	return out
}

// Expiration returns the event's expiration tag as a time, if present.
func (e *Event) Expiration() (time.Time, bool) {
	v, ok := e.Tag("expiration")
	if !ok {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}

// IsExpired reports whether the event is past its expiration tag (if any)
// or older than DefaultTTL from CreatedAt.
func (e *Event) IsExpired(now time.Time) bool {
	if exp, ok := e.Expiration(); ok {
		return now.After(exp)
	}
	return now.Sub(time.Unix(e.CreatedAt, 0)) > DefaultTTL
}

// BuildTags is a small helper for constructing the [][]string tag list
// from ordered key/value pairs.
func BuildTags(pairs ...[2]string) [][]string {
	tags := make([][]string, 0, len(pairs))
	for _, p := range pairs {
		tags = append(tags, []string{p[0], p[1]})
	}
	return tags
}

// Package cache provides the two-tier cache used by the fetch controllers.
// A sharded in-process tier is always present; a durable tier (file, Redis,
// bbolt, SQLite, PostgreSQL or MongoDB) is optional and allowed to fail.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pagecache/internal/core"
)

// ErrNotFound is returned by Durable implementations when a key is missing or expired.
var ErrNotFound = errors.New("cache: not found")

// ErrInvalidTTL is returned when an entry is built with a ttl below one millisecond.
var ErrInvalidTTL = errors.New("cache: ttl must be at least 1ms")

// Kind tags the payload shape carried by an Entry
type Kind string

const (
	// KindSingle entries hold one flat value
	KindSingle Kind = "single"
	// KindPaged entries hold an ordered sequence of pages
	KindPaged Kind = "paged"
)

// Entry is the envelope stored in both tiers.
// Timestamps are Unix milliseconds so they survive JSON round trips exactly.
type Entry struct {
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"created_at"`
	ExpiresAt int64           `json:"expires_at"`
}

// Expired reports whether now is past the entry's expiry
func (e *Entry) Expired(now time.Time) bool {
	return now.UnixMilli() > e.ExpiresAt
}

// Stale reports whether the entry is still valid but older than threshold.
func (e *Entry) Stale(now time.Time, threshold time.Duration) bool {
	if e.Expired(now) {
		return false
	}
	return now.UnixMilli()-e.CreatedAt > threshold.Milliseconds()
}

// TTL returns the time left until expiry, or 0 if already expired.
func (e *Entry) TTL(now time.Time) time.Duration {
	left := time.Duration(e.ExpiresAt-now.UnixMilli()) * time.Millisecond
	if left < 0 {
		return 0
	}
	return left
}

// Clone returns a deep copy of e
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Payload = append(json.RawMessage(nil), e.Payload...)
	return &c
}

func (e *Entry) validate() error {
	switch e.Kind {
	case KindSingle, KindPaged:
	default:
		return fmt.Errorf("unknown entry kind %q", e.Kind)
	}
	if e.ExpiresAt <= e.CreatedAt {
		return fmt.Errorf("entry expires_at %d not after created_at %d", e.ExpiresAt, e.CreatedAt)
	}
	return nil
}

func newEntry(kind Kind, payload any, now time.Time, ttl time.Duration) (*Entry, error) {
	if ttl < time.Millisecond {
		return nil, ErrInvalidTTL
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	created := now.UnixMilli()
	return &Entry{
		Kind:      kind,
		Payload:   raw,
		CreatedAt: created,
		ExpiresAt: created + ttl.Milliseconds(),
	}, nil
}

// NewSingleEntry wraps a flat value.
func NewSingleEntry[T any](value T, now time.Time, ttl time.Duration) (*Entry, error) {
	return newEntry(KindSingle, value, now, ttl)
}

// NewPagedEntry wraps a page sequence. Pages are stored in page-number order.
func NewPagedEntry[T any](pages []core.Page[T], now time.Time, ttl time.Duration) (*Entry, error) {
	ordered := append([]core.Page[T](nil), pages...)
	core.SortPages(ordered)
	return newEntry(KindPaged, ordered, now, ttl)
}

// DecodeSingle extracts the flat value of a KindSingle entry.
func DecodeSingle[T any](e *Entry) (T, error) {
	var out T
	if e == nil {
		return out, fmt.Errorf("nil entry")
	}
	if e.Kind != KindSingle {
		return out, fmt.Errorf("entry kind is %q, want %q", e.Kind, KindSingle)
	}
	if err := json.Unmarshal(e.Payload, &out); err != nil {
		return out, fmt.Errorf("decode single payload: %w", err)
	}
	return out, nil
}

// DecodePaged extracts the pages of a KindPaged entry, ordered by page number.
func DecodePaged[T any](e *Entry) ([]core.Page[T], error) {
	if e == nil {
		return nil, fmt.Errorf("nil entry")
	}
	if e.Kind != KindPaged {
		return nil, fmt.Errorf("entry kind is %q, want %q", e.Kind, KindPaged)
	}
	var pages []core.Page[T]
	if err := json.Unmarshal(e.Payload, &pages); err != nil {
		return nil, fmt.Errorf("decode paged payload: %w", err)
	}
	core.SortPages(pages)
	return pages, nil
}

func marshalEntry(e *Entry) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}
	return b, nil
}

func unmarshalEntry(raw []byte) (*Entry, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty entry payload")
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Durable is the persistent tier. Keys arrive already namespaced.
// Implementations must be safe for concurrent use.
type Durable interface {
	// Get returns the stored value, or ErrNotFound if missing or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value; the backend may drop it after ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix and nothing else.
	DeletePrefix(ctx context.Context, prefix string) error

	// Close releases any resources held by the backend.
	Close() error
}

package domain

import (
	"context"
	"time"
)

// PriceCache holds the last computed clearing price per auction for cheap
// read paths. It is advisory only; the engine recomputes from the record on
// every mutation.
type PriceCache interface {
	SetPrice(ctx context.Context, auctionID string, price, supply uint64, ttl time.Duration) error
	// GetPrice returns ErrNotFound on a cache miss.
	GetPrice(ctx context.Context, auctionID string) (price, supply uint64, err error)
	Invalidate(ctx context.Context, auctionID string) error
}

// RateLimiter enforces a sliding-window request budget per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides per-key mutual exclusion across processes. Acquire
// returns ErrLockHeld when another holder owns the key; the returned unlock
// function is safe to call more than once.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// StreamMessage is one durable entry read back from the event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventStream is the durable, ordered side of the event sink, used by the
// archiver and by consumers that cannot afford to miss events.
type EventStream interface {
	Read(ctx context.Context, lastID string, count int) ([]StreamMessage, error)
	Trim(ctx context.Context, upToID string) error
}

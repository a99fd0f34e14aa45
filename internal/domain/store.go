package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuctionStore persists auction records.
type AuctionStore interface {
	Create(ctx context.Context, a Auction) error
	// GetByID reads the auction without any locking. Use inside a TxRunner
	// transaction only for read paths.
	GetByID(ctx context.Context, id string) (Auction, error)
	// GetForUpdate reads the auction and, when running inside a TxRunner
	// transaction, holds an exclusive row lock until commit. Every mutating
	// engine operation goes through this.
	GetForUpdate(ctx context.Context, id string) (Auction, error)
	Update(ctx context.Context, a Auction) error
	List(ctx context.Context, opts ListOpts) ([]Auction, error)
	Count(ctx context.Context) (int64, error)
}

// BidStore persists per-(auction, bidder) bid records.
type BidStore interface {
	// Get returns ErrNotFound when the bidder has never bid on the auction.
	Get(ctx context.Context, auctionID, bidder string) (Bid, error)
	GetForUpdate(ctx context.Context, auctionID, bidder string) (Bid, error)
	// Upsert inserts the record or replaces amount/units on conflict of the
	// (auction, bidder) key.
	Upsert(ctx context.Context, b Bid) error
	ListByAuction(ctx context.Context, auctionID string, opts ListOpts) ([]Bid, error)
	ListByBidder(ctx context.Context, bidder string, opts ListOpts) ([]Bid, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Stores bundles the record stores bound to one transaction.
type Stores struct {
	Auctions AuctionStore
	Bids     BidStore
	Audit    AuditStore
}

// TxRunner executes fn inside a single atomic transaction. Either every write
// made through the Stores handed to fn commits, or fn's error is returned and
// nothing is visible. Two transactions that GetForUpdate the same auction are
// serialized against each other.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

package postgres

import (
	"context"
	"fmt"

	"github.com/superpull/auctiond/internal/domain"
)

// WithinTx implements domain.TxRunner. It opens one transaction, hands fn a
// set of stores bound to it, and commits only when fn returns nil. Auction
// rows read via GetForUpdate stay exclusively locked until the transaction
// ends, which serializes concurrent operations against the same auction.
func (c *Client) WithinTx(ctx context.Context, fn func(ctx context.Context, s domain.Stores) error) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	stores := domain.Stores{
		Auctions: &AuctionStore{q: tx},
		Bids:     &BidStore{q: tx},
		Audit:    &AuditStore{q: tx},
	}

	if err := fn(ctx, stores); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.TxRunner = (*Client)(nil)

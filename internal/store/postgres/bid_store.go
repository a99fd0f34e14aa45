package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/superpull/auctiond/internal/domain"
)

// BidStore implements domain.BidStore using PostgreSQL. Rows are keyed by
// (auction_id, bidder) and never deleted; a refund zeroes the amount but the
// row keeps the bidder's history.
type BidStore struct {
	q querier
}

// NewBidStore creates a BidStore backed by the given connection pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{q: pool}
}

const bidSelectCols = `auction_id, bidder, amount, units_won, created_at, updated_at`

// Get reads one bid record, returning domain.ErrNotFound when the bidder has
// never bid on the auction.
func (s *BidStore) Get(ctx context.Context, auctionID, bidder string) (domain.Bid, error) {
	query := `SELECT ` + bidSelectCols + ` FROM bids WHERE auction_id = $1 AND bidder = $2`
	return s.scanOne(ctx, query, auctionID, bidder)
}

// GetForUpdate reads one bid record holding an exclusive row lock until the
// enclosing transaction commits.
func (s *BidStore) GetForUpdate(ctx context.Context, auctionID, bidder string) (domain.Bid, error) {
	query := `SELECT ` + bidSelectCols + ` FROM bids WHERE auction_id = $1 AND bidder = $2 FOR UPDATE`
	return s.scanOne(ctx, query, auctionID, bidder)
}

// Upsert inserts the record or replaces amount/units on key conflict.
func (s *BidStore) Upsert(ctx context.Context, b domain.Bid) error {
	const query = `
		INSERT INTO bids (auction_id, bidder, amount, units_won, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (auction_id, bidder) DO UPDATE SET
			amount = EXCLUDED.amount,
			units_won = EXCLUDED.units_won,
			updated_at = EXCLUDED.updated_at`

	_, err := s.q.Exec(ctx, query,
		b.AuctionID, b.Bidder, b.Amount, b.UnitsWon, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert bid %s/%s: %w", b.AuctionID, b.Bidder, err)
	}
	return nil
}

// ListByAuction returns the bid records of one auction ordered by bidder.
func (s *BidStore) ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	query := `SELECT ` + bidSelectCols + `
		FROM bids
		WHERE auction_id = $1
		ORDER BY bidder
		LIMIT $2 OFFSET $3`

	rows, err := s.q.Query(ctx, query, auctionID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids for %s: %w", auctionID, err)
	}
	defer rows.Close()

	return collectBids(rows)
}

// ListByBidder returns one bidder's records across all auctions.
func (s *BidStore) ListByBidder(ctx context.Context, bidder string, opts domain.ListOpts) ([]domain.Bid, error) {
	query := `SELECT ` + bidSelectCols + `
		FROM bids
		WHERE bidder = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.q.Query(ctx, query, bidder, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids by %s: %w", bidder, err)
	}
	defer rows.Close()

	return collectBids(rows)
}

func (s *BidStore) scanOne(ctx context.Context, query string, args ...any) (domain.Bid, error) {
	var b domain.Bid
	err := s.q.QueryRow(ctx, query, args...).Scan(
		&b.AuctionID, &b.Bidder, &b.Amount, &b.UnitsWon, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bid{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Bid{}, fmt.Errorf("postgres: scan bid: %w", err)
	}
	return b, nil
}

func collectBids(rows pgx.Rows) ([]domain.Bid, error) {
	var out []domain.Bid
	for rows.Next() {
		var b domain.Bid
		if err := rows.Scan(
			&b.AuctionID, &b.Bidder, &b.Amount, &b.UnitsWon, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.BidStore = (*BidStore)(nil)

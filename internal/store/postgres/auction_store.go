package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/superpull/auctiond/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL. Amount and
// supply columns are BIGINT; the ledger caps amounts well below 2^63, and the
// engine overflow-checks every arithmetic step before anything reaches here.
type AuctionStore struct {
	q querier
}

// NewAuctionStore creates an AuctionStore backed by the given connection pool
// (for read paths outside a transaction).
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{q: pool}
}

const auctionSelectCols = `id, authority, collateral_asset, collection, source_set,
	base_price, price_increment, current_supply, max_supply, minimum_items,
	total_value_locked, deadline, is_graduated, created_at, updated_at`

// Create inserts a new auction. A primary-key conflict maps to
// domain.ErrAlreadyExists: the ID is derived from (authority, collection),
// so a duplicate create attempt collides here instead of overwriting.
func (s *AuctionStore) Create(ctx context.Context, a domain.Auction) error {
	const query = `
		INSERT INTO auctions (
			id, authority, collateral_asset, collection, source_set,
			base_price, price_increment, current_supply, max_supply, minimum_items,
			total_value_locked, deadline, is_graduated, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15
		)`

	_, err := s.q.Exec(ctx, query,
		a.ID, a.Authority, a.CollateralAsset, a.Collection, a.SourceSet,
		a.BasePrice, a.PriceIncrement, a.CurrentSupply, a.MaxSupply, a.MinimumItems,
		a.TotalValueLocked, a.Deadline, a.IsGraduated, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create auction %s: %w", a.ID, err)
	}
	return nil
}

// GetByID reads one auction without locking.
func (s *AuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + ` FROM auctions WHERE id = $1`
	return s.scanOne(ctx, query, id)
}

// GetForUpdate reads one auction holding an exclusive row lock until the
// enclosing transaction commits. Outside a transaction the lock is released
// immediately, so only call this through the TxRunner.
func (s *AuctionStore) GetForUpdate(ctx context.Context, id string) (domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + ` FROM auctions WHERE id = $1 FOR UPDATE`
	return s.scanOne(ctx, query, id)
}

// Update writes back the full mutable state of an auction.
func (s *AuctionStore) Update(ctx context.Context, a domain.Auction) error {
	const query = `
		UPDATE auctions SET
			current_supply = $2,
			total_value_locked = $3,
			is_graduated = $4,
			updated_at = $5
		WHERE id = $1`

	tag, err := s.q.Exec(ctx, query,
		a.ID, a.CurrentSupply, a.TotalValueLocked, a.IsGraduated, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update auction %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns auctions ordered by creation time, newest first.
func (s *AuctionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + `
		FROM auctions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := s.q.Query(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list auctions: %w", err)
	}
	defer rows.Close()

	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Count returns the total number of auctions.
func (s *AuctionStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM auctions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count auctions: %w", err)
	}
	return n, nil
}

func (s *AuctionStore) scanOne(ctx context.Context, query string, args ...any) (domain.Auction, error) {
	a, err := scanAuction(s.q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, err
}

func scanAuction(scanner interface{ Scan(dest ...any) error }) (domain.Auction, error) {
	var a domain.Auction
	err := scanner.Scan(
		&a.ID, &a.Authority, &a.CollateralAsset, &a.Collection, &a.SourceSet,
		&a.BasePrice, &a.PriceIncrement, &a.CurrentSupply, &a.MaxSupply, &a.MinimumItems,
		&a.TotalValueLocked, &a.Deadline, &a.IsGraduated, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, err
		}
		return domain.Auction{}, fmt.Errorf("postgres: scan auction: %w", err)
	}
	return a, nil
}

// Compile-time interface check.
var _ domain.AuctionStore = (*AuctionStore)(nil)

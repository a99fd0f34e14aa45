// Package engine implements the auction lifecycle state machine: creation,
// bid admission against the bonding curve, graduation, refunds, and
// withdrawal. All durable state lives in the auction and bid stores; the
// engine enforces the invariants and drives the custody and issuance
// collaborators.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/superpull/auctiond/internal/crypto"
	"github.com/superpull/auctiond/internal/domain"
)

const (
	// auctionLockTTL bounds how long a crashed process can stall one auction.
	auctionLockTTL = 10 * time.Second

	// bidRateLimit / bidRateWindow cap bid attempts per bidder. The limit is
	// generous; it only has to stop bots hammering the exact-price race.
	bidRateLimit  = 20
	bidRateWindow = time.Second

	// priceCacheTTL is how long a computed clearing price may be served from
	// cache before readers fall back to the record.
	priceCacheTTL = 5 * time.Second
)

// CreateParams carries the inputs for Engine.Create.
type CreateParams struct {
	Authority       string
	CollateralAsset string
	Collection      string
	SourceSet       string
	BasePrice       uint64
	PriceIncrement  uint64
	MaxSupply       uint64
	MinimumItems    uint64
	Deadline        int64 // unix seconds
}

// Engine orchestrates the four state-changing auction operations plus the
// read-only price query. Operations against one auction are serialized: a
// per-auction distributed lock keeps contention off the database, and the
// transaction itself takes a row lock, so two concurrent bids can never both
// observe the same pre-transition supply.
type Engine struct {
	tx         domain.TxRunner
	custody    domain.Custody
	issuance   domain.Issuance
	sink       domain.EventSink
	locks      domain.LockManager
	limiter    domain.RateLimiter
	prices     domain.PriceCache
	masterSeed []byte
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an Engine with all required dependencies. locks, limiter, and
// prices may be nil; the engine then relies on row locking alone and skips
// rate limiting and price caching.
func New(
	tx domain.TxRunner,
	custody domain.Custody,
	issuance domain.Issuance,
	sink domain.EventSink,
	masterSeed []byte,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		tx:         tx,
		custody:    custody,
		issuance:   issuance,
		sink:       sink,
		masterSeed: masterSeed,
		logger:     logger.With(slog.String("component", "engine")),
		now:        time.Now,
	}
}

// WithLockManager attaches a per-auction distributed lock.
func (e *Engine) WithLockManager(locks domain.LockManager) *Engine {
	e.locks = locks
	return e
}

// WithRateLimiter attaches a per-bidder rate limiter for PlaceBid.
func (e *Engine) WithRateLimiter(limiter domain.RateLimiter) *Engine {
	e.limiter = limiter
	return e
}

// WithPriceCache attaches a clearing-price cache.
func (e *Engine) WithPriceCache(prices domain.PriceCache) *Engine {
	e.prices = prices
	return e
}

// WithClock overrides the engine's notion of now (deterministic testing).
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// delegation derives the auction's own signing capability. It never leaves
// the engine except as the signer argument of a custody/issuance call.
func (e *Engine) delegation(a domain.Auction) (*crypto.Delegation, error) {
	d, err := crypto.Derive(e.masterSeed, a.Authority, a.Collection)
	if err != nil {
		return nil, fmt.Errorf("engine: derive delegation for %s: %w", a.ID, err)
	}
	return d, nil
}

// lockAuction takes the cross-process lock for the auction when a lock
// manager is configured. The returned unlock is always safe to call.
func (e *Engine) lockAuction(ctx context.Context, auctionID string) (func(), error) {
	if e.locks == nil {
		return func() {}, nil
	}
	unlock, err := e.locks.Acquire(ctx, "auction:"+auctionID, auctionLockTTL)
	if err != nil {
		return nil, fmt.Errorf("engine: lock auction %s: %w", auctionID, err)
	}
	return unlock, nil
}

// emit sends an event to the sink. Events are emitted after the transaction
// committed, so a sink failure cannot undo state; it is logged and the call
// still succeeds.
func (e *Engine) emit(ctx context.Context, t domain.EventType, auctionID string, payload any) {
	ev, err := domain.NewEvent(t, auctionID, payload)
	if err != nil {
		e.logger.ErrorContext(ctx, "engine: build event failed",
			slog.String("type", string(t)),
			slog.String("auction", auctionID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := e.sink.Emit(ctx, ev); err != nil {
		e.logger.ErrorContext(ctx, "engine: emit event failed",
			slog.String("type", string(t)),
			slog.String("auction", auctionID),
			slog.String("error", err.Error()),
		)
	}
}

// Create validates the parameters, verifies the backing source set, and
// allocates a fresh auction keyed deterministically by (authority,
// collection). Creating the same pair twice fails with
// domain.ErrAlreadyExists instead of overwriting.
func (e *Engine) Create(ctx context.Context, p CreateParams) (domain.Auction, error) {
	now := e.now().UTC()

	a := domain.Auction{
		ID:              domain.AuctionID(p.Authority, p.Collection),
		Authority:       p.Authority,
		CollateralAsset: p.CollateralAsset,
		Collection:      p.Collection,
		SourceSet:       p.SourceSet,
		BasePrice:       p.BasePrice,
		PriceIncrement:  p.PriceIncrement,
		MaxSupply:       p.MaxSupply,
		MinimumItems:    p.MinimumItems,
		Deadline:        p.Deadline,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := a.ValidateParams(now); err != nil {
		return domain.Auction{}, err
	}

	// The backing set must be able to cover the supply cap.
	size, err := e.issuance.SourceSetSize(ctx, p.SourceSet)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("engine: verify source set %s: %w", p.SourceSet, err)
	}
	if size < p.MaxSupply {
		return domain.Auction{}, fmt.Errorf("engine: source set %s holds %d items, need %d: %w",
			p.SourceSet, size, p.MaxSupply, domain.ErrIssuanceExhausted)
	}

	err = e.tx.WithinTx(ctx, func(ctx context.Context, s domain.Stores) error {
		if err := s.Auctions.Create(ctx, a); err != nil {
			return err
		}
		return s.Audit.Log(ctx, "auction_created", map[string]any{
			"auction":   a.ID,
			"authority": a.Authority,
		})
	})
	if err != nil {
		return domain.Auction{}, err
	}

	e.emit(ctx, domain.EventAuctionCreated, a.ID, domain.AuctionCreatedPayload{
		Auction:        a.ID,
		Authority:      a.Authority,
		Collection:     a.Collection,
		SourceSet:      a.SourceSet,
		BasePrice:      a.BasePrice,
		PriceIncrement: a.PriceIncrement,
		MaxSupply:      a.MaxSupply,
		MinimumItems:   a.MinimumItems,
		Deadline:       a.Deadline,
	})

	e.logger.InfoContext(ctx, "auction created",
		slog.String("auction", a.ID),
		slog.String("authority", a.Authority),
		slog.Uint64("max_supply", a.MaxSupply),
	)

	return a, nil
}

// bidOutcome collects what PlaceBid needs to report after commit.
type bidOutcome struct {
	auction   domain.Auction
	itemID    string
	graduated bool // flipped by this bid
}

// PlaceBid admits one bid at the exact current clearing price, escrows the
// payment, attributes one unit to the bidder, flips the graduation latch when
// the threshold is reached, and requests issuance of one collectible.
//
// The operation is all-or-nothing. Sub-step ordering inside the transaction:
// custody debit, state update, issuance. If issuance fails after the debit
// succeeded, the engine sends a compensating reverse transfer and aborts, so
// no durable state survives a failed external call.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidder string, amount uint64) (domain.Auction, error) {
	if amount == 0 {
		return domain.Auction{}, domain.ErrInvalidBidAmount
	}
	if bidder == "" {
		return domain.Auction{}, domain.ErrInvalidBidder
	}

	if e.limiter != nil {
		allowed, err := e.limiter.Allow(ctx, "bids:"+bidder, bidRateLimit, bidRateWindow)
		if err != nil {
			return domain.Auction{}, fmt.Errorf("engine: rate limiter: %w", err)
		}
		if !allowed {
			return domain.Auction{}, domain.ErrRateLimited
		}
	}

	unlock, err := e.lockAuction(ctx, auctionID)
	if err != nil {
		return domain.Auction{}, err
	}
	defer unlock()

	now := e.now().UTC()

	var out bidOutcome
	err = e.tx.WithinTx(ctx, func(ctx context.Context, s domain.Stores) error {
		a, err := s.Auctions.GetForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}

		// Graduation lifts the deadline: once the threshold is met, bids are
		// accepted until max supply regardless of time.
		thresholdMet := a.IsGraduated || a.CurrentSupply >= a.MinimumItems
		if !thresholdMet && now.Unix() > a.Deadline {
			return domain.ErrAuctionExpired
		}
		if a.CurrentSupply >= a.MaxSupply {
			return domain.ErrMaxSupplyReached
		}

		price, err := a.Price()
		if err != nil {
			return err
		}
		// Strict equality: overpayment is rejected the same as underpayment.
		if amount != price {
			return domain.ErrInsufficientBidAmount
		}

		d, err := e.delegation(a)
		if err != nil {
			return err
		}

		// Escrow the payment first; everything after this point must either
		// commit or be compensated.
		if err := e.custody.Transfer(ctx, a.CollateralAsset, bidder, a.CustodyAccount(), amount, d); err != nil {
			return fmt.Errorf("engine: escrow bid: %w", err)
		}

		abort := func(cause error) error {
			if cerr := e.custody.Transfer(ctx, a.CollateralAsset, a.CustodyAccount(), bidder, amount, d); cerr != nil {
				// Funds are stranded in escrow until an operator intervenes.
				e.logger.ErrorContext(ctx, "engine: compensating refund failed",
					slog.String("auction", a.ID),
					slog.String("bidder", bidder),
					slog.Uint64("amount", amount),
					slog.String("error", cerr.Error()),
				)
				return errors.Join(cause, cerr)
			}
			return cause
		}

		a.CurrentSupply, err = domain.CheckedAdd(a.CurrentSupply, 1)
		if err != nil {
			return abort(err)
		}
		a.TotalValueLocked, err = domain.CheckedAdd(a.TotalValueLocked, amount)
		if err != nil {
			return abort(err)
		}

		bid, err := s.Bids.GetForUpdate(ctx, a.ID, bidder)
		if errors.Is(err, domain.ErrNotFound) {
			bid = domain.Bid{AuctionID: a.ID, Bidder: bidder, CreatedAt: now}
		} else if err != nil {
			return abort(err)
		}
		bid.Amount, err = domain.CheckedAdd(bid.Amount, amount)
		if err != nil {
			return abort(err)
		}
		bid.UnitsWon, err = domain.CheckedAdd(bid.UnitsWon, 1)
		if err != nil {
			return abort(err)
		}
		bid.UpdatedAt = now

		if !a.IsGraduated && a.CurrentSupply >= a.MinimumItems {
			a.IsGraduated = true
			out.graduated = true
		}
		a.UpdatedAt = now

		if err := s.Auctions.Update(ctx, a); err != nil {
			return abort(err)
		}
		if err := s.Bids.Upsert(ctx, bid); err != nil {
			return abort(err)
		}

		// Mint one collectible to the bidder, authorized by the auction's own
		// delegation rather than anything the caller presented.
		itemID, err := e.issuance.IssueOne(ctx, a.SourceSet, a.Collection, bidder, d)
		if err != nil {
			return abort(fmt.Errorf("engine: issue item: %w", err))
		}
		out.itemID = itemID

		if err := s.Audit.Log(ctx, "bid_placed", map[string]any{
			"auction": a.ID,
			"bidder":  bidder,
			"amount":  amount,
			"supply":  a.CurrentSupply,
			"item_id": itemID,
		}); err != nil {
			return abort(err)
		}

		out.auction = a
		return nil
	})
	if err != nil {
		return domain.Auction{}, err
	}

	a := out.auction

	if out.graduated {
		e.emit(ctx, domain.EventAuctionGraduated, a.ID, domain.AuctionGraduatedPayload{
			Auction:          a.ID,
			TotalItems:       a.CurrentSupply,
			TotalValueLocked: a.TotalValueLocked,
		})
		e.logger.InfoContext(ctx, "auction graduated",
			slog.String("auction", a.ID),
			slog.Uint64("total_items", a.CurrentSupply),
			slog.Uint64("total_value_locked", a.TotalValueLocked),
		)
	}

	e.emit(ctx, domain.EventBidPlaced, a.ID, domain.BidPlacedPayload{
		Auction:   a.ID,
		Bidder:    bidder,
		Amount:    amount,
		NewSupply: a.CurrentSupply,
		ItemID:    out.itemID,
	})

	e.refreshPriceCache(ctx, a)

	return a, nil
}

// Refund returns a bidder's full contribution once the auction expired
// without graduating. Graduation forecloses refunds permanently, for every
// bidder, regardless of when they bid. Issued items are not clawed back.
func (e *Engine) Refund(ctx context.Context, auctionID, bidder string) (uint64, error) {
	if bidder == "" {
		return 0, domain.ErrInvalidBidder
	}

	unlock, err := e.lockAuction(ctx, auctionID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	now := e.now().UTC()

	var refunded uint64
	err = e.tx.WithinTx(ctx, func(ctx context.Context, s domain.Stores) error {
		a, err := s.Auctions.GetForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}

		if a.Status(now) != domain.AuctionStatusExpired {
			return domain.ErrInvalidRefundAttempt
		}

		bid, err := s.Bids.GetForUpdate(ctx, a.ID, bidder)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNoFundsToRefund
		} else if err != nil {
			return err
		}
		if bid.Amount == 0 {
			return domain.ErrNoFundsToRefund
		}

		// An underflow here means escrow bookkeeping is corrupt; surface it
		// rather than clamping.
		newTVL, err := domain.CheckedSub(a.TotalValueLocked, bid.Amount)
		if err != nil {
			return err
		}

		d, err := e.delegation(a)
		if err != nil {
			return err
		}
		if err := e.custody.Transfer(ctx, a.CollateralAsset, a.CustodyAccount(), bidder, bid.Amount, d); err != nil {
			return fmt.Errorf("engine: refund transfer: %w", err)
		}

		refunded = bid.Amount
		a.TotalValueLocked = newTVL
		a.UpdatedAt = now
		bid.Amount = 0
		bid.UpdatedAt = now

		if err := s.Auctions.Update(ctx, a); err != nil {
			return err
		}
		if err := s.Bids.Upsert(ctx, bid); err != nil {
			return err
		}
		return s.Audit.Log(ctx, "bid_refunded", map[string]any{
			"auction": a.ID,
			"bidder":  bidder,
			"amount":  refunded,
		})
	})
	if err != nil {
		return 0, err
	}

	e.emit(ctx, domain.EventBidRefunded, auctionID, domain.BidRefundedPayload{
		Auction: auctionID,
		Bidder:  bidder,
		Amount:  refunded,
	})

	e.logger.InfoContext(ctx, "bid refunded",
		slog.String("auction", auctionID),
		slog.String("bidder", bidder),
		slog.Uint64("amount", refunded),
	)

	return refunded, nil
}

// Withdraw drains the escrowed proceeds to the auction authority. Only the
// authority may call it, only after graduation, and only while there is a
// balance; a second call fails with domain.ErrNoFundsToWithdraw.
func (e *Engine) Withdraw(ctx context.Context, auctionID, caller string) (uint64, error) {
	unlock, err := e.lockAuction(ctx, auctionID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	now := e.now().UTC()

	var withdrawn uint64
	err = e.tx.WithinTx(ctx, func(ctx context.Context, s domain.Stores) error {
		a, err := s.Auctions.GetForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}

		if caller != a.Authority {
			return domain.ErrUnauthorizedWithdraw
		}
		if !a.IsGraduated {
			return domain.ErrNotGraduated
		}
		if a.TotalValueLocked == 0 {
			return domain.ErrNoFundsToWithdraw
		}

		d, err := e.delegation(a)
		if err != nil {
			return err
		}
		if err := e.custody.Transfer(ctx, a.CollateralAsset, a.CustodyAccount(), a.Authority, a.TotalValueLocked, d); err != nil {
			return fmt.Errorf("engine: withdraw transfer: %w", err)
		}

		withdrawn = a.TotalValueLocked
		a.TotalValueLocked = 0
		a.UpdatedAt = now

		if err := s.Auctions.Update(ctx, a); err != nil {
			return err
		}
		return s.Audit.Log(ctx, "funds_withdrawn", map[string]any{
			"auction":   a.ID,
			"authority": a.Authority,
			"amount":    withdrawn,
		})
	})
	if err != nil {
		return 0, err
	}

	e.emit(ctx, domain.EventFundsWithdrawn, auctionID, domain.FundsWithdrawnPayload{
		Auction:   auctionID,
		Authority: caller,
		Amount:    withdrawn,
	})

	e.logger.InfoContext(ctx, "funds withdrawn",
		slog.String("auction", auctionID),
		slog.Uint64("amount", withdrawn),
	)

	return withdrawn, nil
}

// GetCurrentPrice projects the clearing price for the next unit. It mutates
// nothing, refreshes the price cache, and emits a PriceQueried event for
// observability.
func (e *Engine) GetCurrentPrice(ctx context.Context, auctionID string) (uint64, error) {
	var (
		price uint64
		a     domain.Auction
	)
	err := e.tx.WithinTx(ctx, func(ctx context.Context, s domain.Stores) error {
		var err error
		a, err = s.Auctions.GetByID(ctx, auctionID)
		if err != nil {
			return err
		}
		price, err = a.Price()
		return err
	})
	if err != nil {
		return 0, err
	}

	e.refreshPriceCache(ctx, a)

	e.emit(ctx, domain.EventPriceQueried, a.ID, domain.PriceQueriedPayload{
		Auction: a.ID,
		Price:   price,
		Supply:  a.CurrentSupply,
	})

	return price, nil
}

// GetAuction reads one auction without locking.
func (e *Engine) GetAuction(ctx context.Context, auctionID string) (domain.Auction, error) {
	var a domain.Auction
	err := e.tx.WithinTx(ctx, func(ctx context.Context, s domain.Stores) error {
		var err error
		a, err = s.Auctions.GetByID(ctx, auctionID)
		return err
	})
	return a, err
}

// ListAuctions pages through auctions, newest first.
func (e *Engine) ListAuctions(ctx context.Context, opts domain.ListOpts) ([]domain.Auction, int64, error) {
	var (
		auctions []domain.Auction
		total    int64
	)
	err := e.tx.WithinTx(ctx, func(ctx context.Context, s domain.Stores) error {
		var err error
		if auctions, err = s.Auctions.List(ctx, opts); err != nil {
			return err
		}
		total, err = s.Auctions.Count(ctx)
		return err
	})
	return auctions, total, err
}

// ListBids pages through the bid records of one auction.
func (e *Engine) ListBids(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	var bids []domain.Bid
	err := e.tx.WithinTx(ctx, func(ctx context.Context, s domain.Stores) error {
		var err error
		bids, err = s.Bids.ListByAuction(ctx, auctionID, opts)
		return err
	})
	return bids, err
}

// ListBidderBids pages through one bidder's records across all auctions.
func (e *Engine) ListBidderBids(ctx context.Context, bidder string, opts domain.ListOpts) ([]domain.Bid, error) {
	var bids []domain.Bid
	err := e.tx.WithinTx(ctx, func(ctx context.Context, s domain.Stores) error {
		var err error
		bids, err = s.Bids.ListByBidder(ctx, bidder, opts)
		return err
	})
	return bids, err
}

// ListAudit pages through the audit log, newest first.
func (e *Engine) ListAudit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var entries []domain.AuditEntry
	err := e.tx.WithinTx(ctx, func(ctx context.Context, s domain.Stores) error {
		var err error
		entries, err = s.Audit.List(ctx, opts)
		return err
	})
	return entries, err
}

// GetBid reads one bidder's record for one auction.
func (e *Engine) GetBid(ctx context.Context, auctionID, bidder string) (domain.Bid, error) {
	var b domain.Bid
	err := e.tx.WithinTx(ctx, func(ctx context.Context, s domain.Stores) error {
		var err error
		b, err = s.Bids.Get(ctx, auctionID, bidder)
		return err
	})
	return b, err
}

// refreshPriceCache recomputes and stores the clearing price. Best-effort.
func (e *Engine) refreshPriceCache(ctx context.Context, a domain.Auction) {
	if e.prices == nil {
		return
	}
	price, err := a.Price()
	if err != nil {
		return
	}
	if err := e.prices.SetPrice(ctx, a.ID, price, a.CurrentSupply, priceCacheTTL); err != nil {
		e.logger.WarnContext(ctx, "engine: price cache update failed",
			slog.String("auction", a.ID),
			slog.String("error", err.Error()),
		)
	}
}

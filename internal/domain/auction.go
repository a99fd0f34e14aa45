package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuctionStatus is the derived lifecycle state of an auction. It is computed
// from two orthogonal facts (deadline passed, graduation threshold met) and
// never stored; storing it would allow the two to drift apart.
type AuctionStatus string

const (
	// AuctionStatusOpen: below the graduation threshold and before the
	// deadline. Bids and nothing else.
	AuctionStatusOpen AuctionStatus = "open"

	// AuctionStatusGraduated: the threshold was met. Bids remain possible up
	// to max supply even past the deadline, withdrawal is enabled, refunds
	// are permanently foreclosed.
	AuctionStatusGraduated AuctionStatus = "graduated"

	// AuctionStatusExpired: the deadline passed without graduation. Refunds
	// are enabled, no further bids are accepted.
	AuctionStatusExpired AuctionStatus = "expired"
)

// auctionNamespace is the UUIDv5 namespace for deterministic auction IDs.
var auctionNamespace = uuid.MustParse("8f3c1a6e-2d94-4b7a-9c05-51e0aa2f7b43")

// AuctionID derives the stable identifier for the auction created by the
// given authority for the given collection. Creating twice with the same pair
// therefore collides on the primary key instead of silently allocating a
// second auction.
func AuctionID(authority, collection string) string {
	return uuid.NewSHA1(auctionNamespace, []byte(authority+"\x00"+collection)).String()
}

// Auction is the durable state of one bonding-curve auction. It is mutated
// exclusively by the engine; everything else only observes it.
type Auction struct {
	ID               string    `json:"id"`
	Authority        string    `json:"authority"`
	CollateralAsset  string    `json:"collateral_asset"`
	Collection       string    `json:"collection"`
	SourceSet        string    `json:"source_set"`
	BasePrice        uint64    `json:"base_price"`
	PriceIncrement   uint64    `json:"price_increment"`
	CurrentSupply    uint64    `json:"current_supply"`
	MaxSupply        uint64    `json:"max_supply"`
	MinimumItems     uint64    `json:"minimum_items"`
	TotalValueLocked uint64    `json:"total_value_locked"`
	Deadline         int64     `json:"deadline"` // unix seconds
	IsGraduated      bool      `json:"is_graduated"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Status derives the lifecycle state at the given instant. Graduation wins
// over expiry: the two are mutually exclusive because the graduation latch is
// one-way and refund eligibility checks it first.
func (a Auction) Status(now time.Time) AuctionStatus {
	if a.IsGraduated {
		return AuctionStatusGraduated
	}
	if now.Unix() > a.Deadline {
		return AuctionStatusExpired
	}
	return AuctionStatusOpen
}

// Price returns the clearing price for the next unit at the auction's current
// supply.
func (a Auction) Price() (uint64, error) {
	return CurrentPrice(a.BasePrice, a.PriceIncrement, a.CurrentSupply)
}

// CustodyAccount is the ledger account that escrows this auction's collateral.
// It is addressed by the auction ID so the account exists implicitly; the
// ledger creates it on first credit.
func (a Auction) CustodyAccount() string {
	return "auction:" + a.ID
}

// ValidateParams checks the creation parameters against the invariants that
// must hold for the auction's whole life. It returns the first violated rule.
func (a Auction) ValidateParams(now time.Time) error {
	switch {
	case strings.TrimSpace(a.Authority) == "":
		return ErrInvalidAccount
	case strings.TrimSpace(a.CollateralAsset) == "" ||
		strings.TrimSpace(a.Collection) == "" ||
		strings.TrimSpace(a.SourceSet) == "":
		return ErrInvalidAccount
	case a.BasePrice == 0:
		return ErrInvalidBasePrice
	case a.PriceIncrement == 0:
		return ErrInvalidPriceIncrement
	case a.MaxSupply == 0:
		return ErrInvalidMaxSupply
	case a.MinimumItems == 0 || a.MinimumItems > a.MaxSupply:
		return ErrInvalidMinimumItems
	case a.Deadline <= now.Unix():
		return ErrDeadlineInPast
	}
	return nil
}

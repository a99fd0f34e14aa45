package domain

import "time"

// Bid is the cumulative contribution of one bidder to one auction, created
// lazily on the first successful bid. Amount only grows through bids and only
// drops to exactly zero through a refund; the row survives a refund so the
// audit trail keeps the bidder's history.
type Bid struct {
	AuctionID string    `json:"auction_id"`
	Bidder    string    `json:"bidder"`
	Amount    uint64    `json:"amount"`    // active (non-refunded) contribution
	UnitsWon  uint64    `json:"units_won"` // units attributed to this bidder
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

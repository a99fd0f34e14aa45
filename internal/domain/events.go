package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the auction state transitions observable from outside.
type EventType string

const (
	EventAuctionCreated   EventType = "auction_created"
	EventPriceQueried     EventType = "price_queried"
	EventBidPlaced        EventType = "bid_placed"
	EventAuctionGraduated EventType = "auction_graduated"
	EventBidRefunded      EventType = "bid_refunded"
	EventFundsWithdrawn   EventType = "funds_withdrawn"
)

// Event is one entry in the append-only notification stream. Events describe
// transitions that already committed; they are never authoritative state.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	AuctionID string          `json:"auction_id"`
	Payload   json.RawMessage `json:"payload"`
	EmittedAt time.Time       `json:"emitted_at"`
}

// AuctionCreatedPayload carries the full parameter set of a new auction.
type AuctionCreatedPayload struct {
	Auction        string `json:"auction"`
	Authority      string `json:"authority"`
	Collection     string `json:"collection"`
	SourceSet      string `json:"source_set"`
	BasePrice      uint64 `json:"base_price"`
	PriceIncrement uint64 `json:"price_increment"`
	MaxSupply      uint64 `json:"max_supply"`
	MinimumItems   uint64 `json:"minimum_items"`
	Deadline       int64  `json:"deadline"`
}

// PriceQueriedPayload reports a read-only price projection.
type PriceQueriedPayload struct {
	Auction string `json:"auction"`
	Price   uint64 `json:"price"`
	Supply  uint64 `json:"supply"`
}

// BidPlacedPayload reports a successful bid.
type BidPlacedPayload struct {
	Auction   string `json:"auction"`
	Bidder    string `json:"bidder"`
	Amount    uint64 `json:"amount"`
	NewSupply uint64 `json:"new_supply"`
	ItemID    string `json:"item_id,omitempty"`
}

// AuctionGraduatedPayload reports the one-way graduation transition.
type AuctionGraduatedPayload struct {
	Auction          string `json:"auction"`
	TotalItems       uint64 `json:"total_items"`
	TotalValueLocked uint64 `json:"total_value_locked"`
}

// BidRefundedPayload reports a full refund of one bidder's contribution.
type BidRefundedPayload struct {
	Auction string `json:"auction"`
	Bidder  string `json:"bidder"`
	Amount  uint64 `json:"amount"`
}

// FundsWithdrawnPayload reports the authority draining the escrow.
type FundsWithdrawnPayload struct {
	Auction   string `json:"auction"`
	Authority string `json:"authority"`
	Amount    uint64 `json:"amount"`
}

// NewEvent builds an Event with a fresh ID and the payload marshaled as JSON.
func NewEvent(t EventType, auctionID string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("domain: marshal %s payload: %w", t, err)
	}
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		AuctionID: auctionID,
		Payload:   data,
		EmittedAt: time.Now().UTC(),
	}, nil
}

// EventSink accepts events in the order the corresponding mutations happened.
// The engine guarantees at least one Emit per successful state-changing call.
type EventSink interface {
	Emit(ctx context.Context, ev Event) error
}

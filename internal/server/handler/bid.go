package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/superpull/auctiond/internal/domain"
)

// BidService defines the methods the bid handler requires from the engine.
type BidService interface {
	PlaceBid(ctx context.Context, auctionID, bidder string, amount uint64) (domain.Auction, error)
	Refund(ctx context.Context, auctionID, bidder string) (uint64, error)
	ListBids(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error)
	ListBidderBids(ctx context.Context, bidder string, opts domain.ListOpts) ([]domain.Bid, error)
	GetBid(ctx context.Context, auctionID, bidder string) (domain.Bid, error)
}

// BidHandler serves bid-related HTTP endpoints.
type BidHandler struct {
	bids   BidService
	logger *slog.Logger
}

// NewBidHandler creates a BidHandler with the given service and logger.
func NewBidHandler(bids BidService, logger *slog.Logger) *BidHandler {
	return &BidHandler{
		bids:   bids,
		logger: logHandler(logger, "bid"),
	}
}

type placeBidRequest struct {
	Bidder string `json:"bidder"`
	Amount uint64 `json:"amount"`
}

// PlaceBid places a bid at the current clearing price.
// POST /api/auctions/{id}/bids
func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Bidder == "" {
		writeError(w, http.StatusBadRequest, "bidder is required")
		return
	}

	auction, err := h.bids.PlaceBid(r.Context(), id, req.Bidder, req.Amount)
	if err != nil {
		h.respondError(w, r, "place bid", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"auction_id":     auction.ID,
		"current_supply": auction.CurrentSupply,
		"is_graduated":   auction.IsGraduated,
	})
}

type refundRequest struct {
	Bidder string `json:"bidder"`
}

// Refund returns a bidder's full contribution from an expired auction.
// POST /api/auctions/{id}/refunds
func (h *BidHandler) Refund(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Bidder == "" {
		writeError(w, http.StatusBadRequest, "bidder is required")
		return
	}

	amount, err := h.bids.Refund(r.Context(), id, req.Bidder)
	if err != nil {
		h.respondError(w, r, "refund", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auction_id": id,
		"bidder":     req.Bidder,
		"amount":     amount,
	})
}

type listBidsResponse struct {
	Bids []domain.Bid `json:"bids"`
}

// ListBids returns the bid records of one auction.
// GET /api/auctions/{id}/bids?limit=50&offset=0
func (h *BidHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	bids, err := h.bids.ListBids(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.respondError(w, r, "list bids", err)
		return
	}
	if bids == nil {
		bids = []domain.Bid{}
	}
	writeJSON(w, http.StatusOK, listBidsResponse{Bids: bids})
}

// ListBidderBids returns one bidder's records across all auctions.
// GET /api/bidders/{bidder}/bids?limit=50&offset=0
func (h *BidHandler) ListBidderBids(w http.ResponseWriter, r *http.Request) {
	bidder := pathParam(r, "bidder")
	if bidder == "" {
		writeError(w, http.StatusBadRequest, "missing bidder")
		return
	}

	bids, err := h.bids.ListBidderBids(r.Context(), bidder, parseListOpts(r))
	if err != nil {
		h.respondError(w, r, "list bidder bids", err)
		return
	}
	if bids == nil {
		bids = []domain.Bid{}
	}
	writeJSON(w, http.StatusOK, listBidsResponse{Bids: bids})
}

// GetBid returns one bidder's record on an auction.
// GET /api/auctions/{id}/bids/{bidder}
func (h *BidHandler) GetBid(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	bidder := pathParam(r, "bidder")
	if id == "" || bidder == "" {
		writeError(w, http.StatusBadRequest, "missing auction id or bidder")
		return
	}

	bid, err := h.bids.GetBid(r.Context(), id, bidder)
	if err != nil {
		h.respondError(w, r, "get bid", err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

func (h *BidHandler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, status, "failed to "+op)
		return
	}
	writeError(w, status, err.Error())
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/superpull/auctiond/internal/domain"
	"github.com/superpull/auctiond/internal/engine"
)

// AuctionService defines the methods the auction handler requires from the
// engine.
type AuctionService interface {
	Create(ctx context.Context, p engine.CreateParams) (domain.Auction, error)
	GetAuction(ctx context.Context, auctionID string) (domain.Auction, error)
	ListAuctions(ctx context.Context, opts domain.ListOpts) ([]domain.Auction, int64, error)
	GetCurrentPrice(ctx context.Context, auctionID string) (uint64, error)
	Withdraw(ctx context.Context, auctionID, caller string) (uint64, error)
}

// AuctionHandler serves auction-related HTTP endpoints.
type AuctionHandler struct {
	auctions AuctionService
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler with the given service and logger.
func NewAuctionHandler(auctions AuctionService, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions: auctions,
		logger:   logHandler(logger, "auction"),
	}
}

type createAuctionRequest struct {
	Authority       string `json:"authority"`
	CollateralAsset string `json:"collateral_asset"`
	Collection      string `json:"collection"`
	SourceSet       string `json:"source_set"`
	BasePrice       uint64 `json:"base_price"`
	PriceIncrement  uint64 `json:"price_increment"`
	MaxSupply       uint64 `json:"max_supply"`
	MinimumItems    uint64 `json:"minimum_items"`
	Deadline        int64  `json:"deadline"`
}

// CreateAuction initializes a new auction from the JSON body.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Authority == "" || req.Collection == "" {
		writeError(w, http.StatusBadRequest, "authority and collection are required")
		return
	}

	auction, err := h.auctions.Create(r.Context(), engine.CreateParams{
		Authority:       req.Authority,
		CollateralAsset: req.CollateralAsset,
		Collection:      req.Collection,
		SourceSet:       req.SourceSet,
		BasePrice:       req.BasePrice,
		PriceIncrement:  req.PriceIncrement,
		MaxSupply:       req.MaxSupply,
		MinimumItems:    req.MinimumItems,
		Deadline:        req.Deadline,
	})
	if err != nil {
		h.respondError(w, r, "create auction", err)
		return
	}

	writeJSON(w, http.StatusCreated, auction)
}

type listAuctionsResponse struct {
	Auctions []domain.Auction `json:"auctions"`
	Total    int64            `json:"total"`
}

// ListAuctions returns a page of auctions, newest first.
// GET /api/auctions?limit=50&offset=0
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, total, err := h.auctions.ListAuctions(r.Context(), parseListOpts(r))
	if err != nil {
		h.respondError(w, r, "list auctions", err)
		return
	}
	if auctions == nil {
		auctions = []domain.Auction{}
	}
	writeJSON(w, http.StatusOK, listAuctionsResponse{Auctions: auctions, Total: total})
}

// GetAuction returns one auction with its current clearing price and derived
// status.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	auction, err := h.auctions.GetAuction(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "get auction", err)
		return
	}

	price, err := auction.Price()
	if err != nil {
		h.respondError(w, r, "get auction", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auction":       auction,
		"current_price": price,
	})
}

// GetPrice returns the current clearing price for the next item.
// GET /api/auctions/{id}/price
func (h *AuctionHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	price, err := h.auctions.GetCurrentPrice(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "get price", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auction_id": id,
		"price":      price,
	})
}

type withdrawRequest struct {
	Authority string `json:"authority"`
}

// Withdraw drains the escrow of a graduated auction to its authority.
// POST /api/auctions/{id}/withdraw
func (h *AuctionHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing auction id")
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Authority == "" {
		writeError(w, http.StatusBadRequest, "authority is required")
		return
	}

	amount, err := h.auctions.Withdraw(r.Context(), id, req.Authority)
	if err != nil {
		h.respondError(w, r, "withdraw", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auction_id": id,
		"amount":     amount,
	})
}

// respondError maps domain errors to HTTP status codes, logging only the
// unexpected ones.
func (h *AuctionHandler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
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

// statusForError translates the engine's sentinel errors into HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrLockHeld):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUnauthorizedWithdraw):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidBasePrice),
		errors.Is(err, domain.ErrInvalidPriceIncrement),
		errors.Is(err, domain.ErrInvalidMaxSupply),
		errors.Is(err, domain.ErrInvalidMinimumItems),
		errors.Is(err, domain.ErrDeadlineInPast),
		errors.Is(err, domain.ErrInvalidBidAmount),
		errors.Is(err, domain.ErrInvalidBidder):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuctionExpired),
		errors.Is(err, domain.ErrMaxSupplyReached),
		errors.Is(err, domain.ErrInsufficientBidAmount),
		errors.Is(err, domain.ErrNotGraduated),
		errors.Is(err, domain.ErrNoFundsToWithdraw),
		errors.Is(err, domain.ErrNoFundsToRefund),
		errors.Is(err, domain.ErrInvalidRefundAttempt),
		errors.Is(err, domain.ErrIssuanceExhausted):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInvalidAccount):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

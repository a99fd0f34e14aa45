package domain

import "errors"

// Record-level errors shared by all stores.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
)

// Validation errors rejected before any state is touched.
var (
	ErrInvalidBasePrice      = errors.New("base price must be positive")
	ErrInvalidPriceIncrement = errors.New("price increment must be positive")
	ErrInvalidMaxSupply      = errors.New("max supply must be positive")
	ErrInvalidMinimumItems   = errors.New("minimum items must be positive and not exceed max supply")
	ErrDeadlineInPast        = errors.New("deadline must be in the future")
	ErrInvalidBidAmount      = errors.New("bid amount must be positive")
	ErrInvalidBidder         = errors.New("bidder identity must not be empty")
)

// State-precondition errors rejected after reading current state, before any
// mutation.
var (
	ErrAuctionExpired        = errors.New("auction deadline has passed")
	ErrMaxSupplyReached      = errors.New("maximum supply reached")
	ErrInsufficientBidAmount = errors.New("bid amount does not match current price")
	ErrNotGraduated          = errors.New("auction must be graduated to withdraw")
	ErrNoFundsToWithdraw     = errors.New("no funds to withdraw")
	ErrNoFundsToRefund       = errors.New("no funds to refund")
	ErrInvalidRefundAttempt  = errors.New("refunds require an expired, non-graduated auction")
)

// ErrMathOverflow is returned when an arithmetic step would exceed the uint64
// range. It always aborts the whole call; amounts are never wrapped or
// truncated.
var ErrMathOverflow = errors.New("math overflow")

// ErrUnauthorizedWithdraw is returned when a caller other than the auction
// authority attempts a withdrawal.
var ErrUnauthorizedWithdraw = errors.New("only the auction authority can withdraw funds")

// External-collaborator errors surfaced by the custody and issuance clients.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAccount    = errors.New("invalid account")
	ErrIssuanceExhausted = errors.New("issuance source exhausted")
)

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superpull/auctiond/internal/domain"
)

// ---------------------------------------------------------------------------
// In-memory fakes. The tx runner clones state before running the closure and
// only swaps the clone in on success, so a mid-operation failure leaves no
// partial effect — the same contract the postgres runner provides.
// ---------------------------------------------------------------------------

type memState struct {
	auctions map[string]domain.Auction
	bids     map[string]domain.Bid
	audit    []domain.AuditEntry
}

func newMemState() *memState {
	return &memState{
		auctions: map[string]domain.Auction{},
		bids:     map[string]domain.Bid{},
	}
}

func (st *memState) clone() *memState {
	c := newMemState()
	for k, v := range st.auctions {
		c.auctions[k] = v
	}
	for k, v := range st.bids {
		c.bids[k] = v
	}
	c.audit = append(c.audit, st.audit...)
	return c
}

func bidKey(auctionID, bidder string) string { return auctionID + "|" + bidder }

type memAuctionStore struct{ st *memState }

func (s memAuctionStore) Create(_ context.Context, a domain.Auction) error {
	if _, ok := s.st.auctions[a.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.st.auctions[a.ID] = a
	return nil
}

func (s memAuctionStore) GetByID(_ context.Context, id string) (domain.Auction, error) {
	a, ok := s.st.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (s memAuctionStore) GetForUpdate(ctx context.Context, id string) (domain.Auction, error) {
	return s.GetByID(ctx, id)
}

func (s memAuctionStore) Update(_ context.Context, a domain.Auction) error {
	if _, ok := s.st.auctions[a.ID]; !ok {
		return domain.ErrNotFound
	}
	s.st.auctions[a.ID] = a
	return nil
}

func (s memAuctionStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Auction, error) {
	out := make([]domain.Auction, 0, len(s.st.auctions))
	for _, a := range s.st.auctions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s memAuctionStore) Count(_ context.Context) (int64, error) {
	return int64(len(s.st.auctions)), nil
}

type memBidStore struct{ st *memState }

func (s memBidStore) Get(_ context.Context, auctionID, bidder string) (domain.Bid, error) {
	b, ok := s.st.bids[bidKey(auctionID, bidder)]
	if !ok {
		return domain.Bid{}, domain.ErrNotFound
	}
	return b, nil
}

func (s memBidStore) GetForUpdate(ctx context.Context, auctionID, bidder string) (domain.Bid, error) {
	return s.Get(ctx, auctionID, bidder)
}

func (s memBidStore) Upsert(_ context.Context, b domain.Bid) error {
	s.st.bids[bidKey(b.AuctionID, b.Bidder)] = b
	return nil
}

func (s memBidStore) ListByAuction(_ context.Context, auctionID string, _ domain.ListOpts) ([]domain.Bid, error) {
	var out []domain.Bid
	for _, b := range s.st.bids {
		if b.AuctionID == auctionID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bidder < out[j].Bidder })
	return out, nil
}

func (s memBidStore) ListByBidder(_ context.Context, bidder string, _ domain.ListOpts) ([]domain.Bid, error) {
	var out []domain.Bid
	for _, b := range s.st.bids {
		if b.Bidder == bidder {
			out = append(out, b)
		}
	}
	return out, nil
}

type memAuditStore struct{ st *memState }

func (s memAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.st.audit = append(s.st.audit, domain.AuditEntry{
		ID:        int64(len(s.st.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
	return nil
}

func (s memAuditStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.st.audit, nil
}

type memTxRunner struct{ st *memState }

func (r *memTxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context, s domain.Stores) error) error {
	working := r.st.clone()
	stores := domain.Stores{
		Auctions: memAuctionStore{st: working},
		Bids:     memBidStore{st: working},
		Audit:    memAuditStore{st: working},
	}
	if err := fn(ctx, stores); err != nil {
		return err
	}
	*r.st = *working
	return nil
}

// transfer records one custody movement.
type transfer struct {
	asset    string
	from, to string
	amount   uint64
}

type fakeCustody struct {
	transfers []transfer
	failNext  error
}

func (c *fakeCustody) Transfer(_ context.Context, asset, from, to string, amount uint64, signer domain.RequestSigner) error {
	if signer == nil {
		return errors.New("custody call without delegation")
	}
	if c.failNext != nil {
		err := c.failNext
		c.failNext = nil
		return err
	}
	c.transfers = append(c.transfers, transfer{asset: asset, from: from, to: to, amount: amount})
	return nil
}

type fakeIssuance struct {
	issued   []string // owners, in order
	failNext error
	setSize  uint64
}

func (i *fakeIssuance) IssueOne(_ context.Context, sourceSet, collection, owner string, signer domain.RequestSigner) (string, error) {
	if signer == nil {
		return "", errors.New("issuance call without delegation")
	}
	if i.failNext != nil {
		err := i.failNext
		i.failNext = nil
		return "", err
	}
	i.issued = append(i.issued, owner)
	return fmt.Sprintf("item-%d", len(i.issued)), nil
}

func (i *fakeIssuance) SourceSetSize(_ context.Context, _ string) (uint64, error) {
	return i.setSize, nil
}

type fakeSink struct{ events []domain.Event }

func (s *fakeSink) Emit(_ context.Context, ev domain.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSink) types() []domain.EventType {
	out := make([]domain.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	engine   *Engine
	state    *memState
	custody  *fakeCustody
	issuance *fakeIssuance
	sink     *fakeSink
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		state:    newMemState(),
		custody:  &fakeCustody{},
		issuance: &fakeIssuance{setSize: 1000},
		sink:     &fakeSink{},
		now:      time.Unix(1_700_000_000, 0),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.engine = New(
		&memTxRunner{st: h.state},
		h.custody,
		h.issuance,
		h.sink,
		bytes.Repeat([]byte{0x07}, 32),
		logger,
	).WithClock(func() time.Time { return h.now })

	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

var baseParams = CreateParams{
	Authority:       "authority-1",
	CollateralAsset: "usdc",
	Collection:      "collection-1",
	SourceSet:       "set-1",
	BasePrice:       100_000,
	PriceIncrement:  10_000,
	MaxSupply:       100,
	MinimumItems:    5,
}

func (h *harness) create(t *testing.T) domain.Auction {
	t.Helper()
	p := baseParams
	p.Deadline = h.now.Add(time.Hour).Unix()
	a, err := h.engine.Create(context.Background(), p)
	require.NoError(t, err)
	return a
}

// bidAtPrice places a bid at the exact current clearing price.
func (h *harness) bidAtPrice(t *testing.T, auctionID, bidder string) domain.Auction {
	t.Helper()
	a, err := h.engine.GetAuction(context.Background(), auctionID)
	require.NoError(t, err)
	price, err := a.Price()
	require.NoError(t, err)
	a, err = h.engine.PlaceBid(context.Background(), auctionID, bidder, price)
	require.NoError(t, err)
	return a
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreateAllocatesAuction(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)

	assert.Equal(t, domain.AuctionID("authority-1", "collection-1"), a.ID)
	assert.Equal(t, uint64(0), a.CurrentSupply)
	assert.Equal(t, uint64(0), a.TotalValueLocked)
	assert.False(t, a.IsGraduated)
	assert.Equal(t, []domain.EventType{domain.EventAuctionCreated}, h.sink.types())
}

func TestCreateDuplicateKeyFails(t *testing.T) {
	h := newHarness(t)
	h.create(t)

	p := baseParams
	p.Deadline = h.now.Add(time.Hour).Unix()
	_, err := h.engine.Create(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name    string
		mutate  func(*CreateParams)
		wantErr error
	}{
		{"zero base price", func(p *CreateParams) { p.BasePrice = 0 }, domain.ErrInvalidBasePrice},
		{"zero increment", func(p *CreateParams) { p.PriceIncrement = 0 }, domain.ErrInvalidPriceIncrement},
		{"zero max supply", func(p *CreateParams) { p.MaxSupply = 0 }, domain.ErrInvalidMaxSupply},
		{"minimum above max", func(p *CreateParams) { p.MinimumItems = 101 }, domain.ErrInvalidMinimumItems},
		{"past deadline", func(p *CreateParams) { p.Deadline = h.now.Add(-time.Second).Unix() }, domain.ErrDeadlineInPast},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := baseParams
			p.Deadline = h.now.Add(time.Hour).Unix()
			tt.mutate(&p)
			_, err := h.engine.Create(context.Background(), p)
			assert.ErrorIs(t, err, tt.wantErr)

			// No partial state.
			assert.Empty(t, h.state.auctions)
		})
	}
}

func TestCreateRejectsUndersizedSourceSet(t *testing.T) {
	h := newHarness(t)
	h.issuance.setSize = 99 // max supply is 100

	p := baseParams
	p.Deadline = h.now.Add(time.Hour).Unix()
	_, err := h.engine.Create(context.Background(), p)
	assert.ErrorIs(t, err, domain.ErrIssuanceExhausted)
}

// ---------------------------------------------------------------------------
// PlaceBid
// ---------------------------------------------------------------------------

func TestBidSequenceToGraduation(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)
	ctx := context.Background()

	// Exact prices 100000..140000 graduate the auction on the 5th bid.
	prices := []uint64{100_000, 110_000, 120_000, 130_000, 140_000}
	for i, price := range prices {
		bidder := fmt.Sprintf("bidder-%d", i)
		updated, err := h.engine.PlaceBid(ctx, a.ID, bidder, price)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), updated.CurrentSupply)
	}

	final := h.state.auctions[a.ID]
	assert.True(t, final.IsGraduated)
	assert.Equal(t, uint64(5), final.CurrentSupply)
	assert.Equal(t, uint64(100_000+110_000+120_000+130_000+140_000), final.TotalValueLocked)

	// Graduation event fired exactly once, before the 5th BidPlaced.
	types := h.sink.types()
	var gradIdx, lastBidIdx int
	gradCount := 0
	for i, ty := range types {
		if ty == domain.EventAuctionGraduated {
			gradIdx = i
			gradCount++
		}
		if ty == domain.EventBidPlaced {
			lastBidIdx = i
		}
	}
	assert.Equal(t, 1, gradCount)
	assert.Less(t, gradIdx, lastBidIdx)

	var grad domain.AuctionGraduatedPayload
	for _, ev := range h.sink.events {
		if ev.Type == domain.EventAuctionGraduated {
			require.NoError(t, json.Unmarshal(ev.Payload, &grad))
		}
	}
	assert.Equal(t, uint64(5), grad.TotalItems)

	// One item issued per successful bid.
	assert.Len(t, h.issuance.issued, 5)
}

func TestBidExactPriceRequired(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)
	ctx := context.Background()

	for _, amount := range []uint64{99_999, 100_001} {
		_, err := h.engine.PlaceBid(ctx, a.ID, "bidder-1", amount)
		assert.ErrorIs(t, err, domain.ErrInsufficientBidAmount, "amount %d", amount)
	}

	// No escrow movement, no supply change, no events beyond creation.
	assert.Empty(t, h.custody.transfers)
	assert.Equal(t, uint64(0), h.state.auctions[a.ID].CurrentSupply)
	assert.Equal(t, []domain.EventType{domain.EventAuctionCreated}, h.sink.types())
}

func TestBidValidationOrder(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)
	ctx := context.Background()

	_, err := h.engine.PlaceBid(ctx, a.ID, "bidder-1", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidBidAmount)

	_, err = h.engine.PlaceBid(ctx, a.ID, "", 100_000)
	assert.ErrorIs(t, err, domain.ErrInvalidBidder)
}

func TestBidAfterDeadlineRejectedBeforeGraduation(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)

	h.advance(2 * time.Hour)
	_, err := h.engine.PlaceBid(context.Background(), a.ID, "bidder-1", 100_000)
	assert.ErrorIs(t, err, domain.ErrAuctionExpired)
}

func TestBidAfterDeadlineAllowedOnceGraduated(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)

	for i := 0; i < 5; i++ {
		h.bidAtPrice(t, a.ID, fmt.Sprintf("bidder-%d", i))
	}
	require.True(t, h.state.auctions[a.ID].IsGraduated)

	// Past the deadline, the sixth bid at 150000 still succeeds.
	h.advance(2 * time.Hour)
	updated, err := h.engine.PlaceBid(context.Background(), a.ID, "bidder-5", 150_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), updated.CurrentSupply)
}

func TestBidMaxSupplyReached(t *testing.T) {
	h := newHarness(t)
	p := baseParams
	p.MaxSupply = 2
	p.MinimumItems = 1
	p.Deadline = h.now.Add(time.Hour).Unix()
	a, err := h.engine.Create(context.Background(), p)
	require.NoError(t, err)

	h.bidAtPrice(t, a.ID, "bidder-0")
	h.bidAtPrice(t, a.ID, "bidder-1")

	_, err = h.engine.PlaceBid(context.Background(), a.ID, "bidder-2", 120_000)
	assert.ErrorIs(t, err, domain.ErrMaxSupplyReached)
}

func TestBidCustodyFailureLeavesNoState(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)

	h.custody.failNext = domain.ErrInsufficientFunds
	_, err := h.engine.PlaceBid(context.Background(), a.ID, "bidder-1", 100_000)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.Equal(t, uint64(0), h.state.auctions[a.ID].CurrentSupply)
	assert.Equal(t, uint64(0), h.state.auctions[a.ID].TotalValueLocked)
	assert.Empty(t, h.state.bids)
}

func TestBidIssuanceFailureCompensatesEscrow(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)

	h.issuance.failNext = domain.ErrIssuanceExhausted
	_, err := h.engine.PlaceBid(context.Background(), a.ID, "bidder-1", 100_000)
	assert.ErrorIs(t, err, domain.ErrIssuanceExhausted)

	// The escrow debit was reversed and no state survived.
	require.Len(t, h.custody.transfers, 2)
	debit, credit := h.custody.transfers[0], h.custody.transfers[1]
	assert.Equal(t, "bidder-1", debit.from)
	assert.Equal(t, a.CustodyAccount(), debit.to)
	assert.Equal(t, a.CustodyAccount(), credit.from)
	assert.Equal(t, "bidder-1", credit.to)
	assert.Equal(t, debit.amount, credit.amount)

	assert.Equal(t, uint64(0), h.state.auctions[a.ID].CurrentSupply)
	assert.Empty(t, h.state.bids)
}

func TestBidAccumulatesPerBidder(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)

	h.bidAtPrice(t, a.ID, "bidder-1")
	h.bidAtPrice(t, a.ID, "bidder-1")

	bid := h.state.bids[bidKey(a.ID, "bidder-1")]
	assert.Equal(t, uint64(100_000+110_000), bid.Amount)
	assert.Equal(t, uint64(2), bid.UnitsWon)
}

func TestEscrowInvariant(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)

	var sum uint64
	for i := 0; i < 7; i++ {
		updated := h.bidAtPrice(t, a.ID, fmt.Sprintf("bidder-%d", i%3))
		sum += 100_000 + 10_000*uint64(i)
		assert.Equal(t, sum, updated.TotalValueLocked)
		assert.Equal(t, uint64(i+1), updated.CurrentSupply)
	}
}

// ---------------------------------------------------------------------------
// Refund
// ---------------------------------------------------------------------------

func TestRefundAfterExpiry(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)
	ctx := context.Background()

	h.bidAtPrice(t, a.ID, "bidder-1")
	h.advance(2 * time.Hour)

	amount, err := h.engine.Refund(ctx, a.ID, "bidder-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000), amount)

	assert.Equal(t, uint64(0), h.state.bids[bidKey(a.ID, "bidder-1")].Amount)
	assert.Equal(t, uint64(0), h.state.auctions[a.ID].TotalValueLocked)
	// Supply is deliberately not reversed; the issued item is not clawed back.
	assert.Equal(t, uint64(1), h.state.auctions[a.ID].CurrentSupply)

	// A second refund finds nothing.
	_, err = h.engine.Refund(ctx, a.ID, "bidder-1")
	assert.ErrorIs(t, err, domain.ErrNoFundsToRefund)
}

func TestRefundRejectedBeforeDeadline(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)

	h.bidAtPrice(t, a.ID, "bidder-1")

	_, err := h.engine.Refund(context.Background(), a.ID, "bidder-1")
	assert.ErrorIs(t, err, domain.ErrInvalidRefundAttempt)
}

func TestGraduationForeclosesRefund(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)

	// bidder-0 bids before graduation; graduation still forecloses their refund.
	for i := 0; i < 5; i++ {
		h.bidAtPrice(t, a.ID, fmt.Sprintf("bidder-%d", i))
	}
	h.advance(2 * time.Hour)

	_, err := h.engine.Refund(context.Background(), a.ID, "bidder-0")
	assert.ErrorIs(t, err, domain.ErrInvalidRefundAttempt)
}

func TestRefundUnknownBidder(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)
	h.advance(2 * time.Hour)

	_, err := h.engine.Refund(context.Background(), a.ID, "stranger")
	assert.ErrorIs(t, err, domain.ErrNoFundsToRefund)
}

// ---------------------------------------------------------------------------
// Withdraw
// ---------------------------------------------------------------------------

func TestWithdrawLifecycle(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)
	ctx := context.Background()

	var sum uint64
	for i := 0; i < 5; i++ {
		h.bidAtPrice(t, a.ID, fmt.Sprintf("bidder-%d", i))
		sum += 100_000 + 10_000*uint64(i)
	}

	// Wrong caller first.
	_, err := h.engine.Withdraw(ctx, a.ID, "impostor")
	assert.ErrorIs(t, err, domain.ErrUnauthorizedWithdraw)

	amount, err := h.engine.Withdraw(ctx, a.ID, "authority-1")
	require.NoError(t, err)
	assert.Equal(t, sum, amount)
	assert.Equal(t, uint64(0), h.state.auctions[a.ID].TotalValueLocked)

	last := h.custody.transfers[len(h.custody.transfers)-1]
	assert.Equal(t, a.CustodyAccount(), last.from)
	assert.Equal(t, "authority-1", last.to)
	assert.Equal(t, sum, last.amount)

	// Second withdrawal has nothing left.
	_, err = h.engine.Withdraw(ctx, a.ID, "authority-1")
	assert.ErrorIs(t, err, domain.ErrNoFundsToWithdraw)
}

func TestWithdrawRequiresGraduation(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)

	h.bidAtPrice(t, a.ID, "bidder-1")

	_, err := h.engine.Withdraw(context.Background(), a.ID, "authority-1")
	assert.ErrorIs(t, err, domain.ErrNotGraduated)
}

// ---------------------------------------------------------------------------
// Graduation latch and price query
// ---------------------------------------------------------------------------

func TestGraduationLatchIsOneWay(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		h.bidAtPrice(t, a.ID, fmt.Sprintf("bidder-%d", i))
	}
	require.True(t, h.state.auctions[a.ID].IsGraduated)

	// Withdraw everything and keep bidding; the latch never resets.
	_, err := h.engine.Withdraw(ctx, a.ID, "authority-1")
	require.NoError(t, err)
	h.bidAtPrice(t, a.ID, "bidder-9")

	assert.True(t, h.state.auctions[a.ID].IsGraduated)
}

func TestGetCurrentPrice(t *testing.T) {
	h := newHarness(t)
	a := h.create(t)
	ctx := context.Background()

	price, err := h.engine.GetCurrentPrice(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000), price)

	h.bidAtPrice(t, a.ID, "bidder-1")

	price, err = h.engine.GetCurrentPrice(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(110_000), price)

	// The query mutates nothing but does emit PriceQueried.
	assert.Equal(t, uint64(1), h.state.auctions[a.ID].CurrentSupply)
	types := h.sink.types()
	assert.Equal(t, domain.EventPriceQueried, types[len(types)-1])
}

func TestGetCurrentPriceUnknownAuction(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.GetCurrentPrice(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

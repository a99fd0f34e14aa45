package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAuction(now time.Time) Auction {
	return Auction{
		Authority:       "authority-1",
		CollateralAsset: "usdc",
		Collection:      "collection-1",
		SourceSet:       "set-1",
		BasePrice:       100_000,
		PriceIncrement:  10_000,
		MaxSupply:       100,
		MinimumItems:    5,
		Deadline:        now.Add(time.Hour).Unix(),
	}
}

func TestAuctionIDDeterministic(t *testing.T) {
	a := AuctionID("auth", "coll")
	b := AuctionID("auth", "coll")
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, AuctionID("auth", "coll2"))
	assert.NotEqual(t, a, AuctionID("auth2", "coll"))

	// The separator keeps ("ab","c") and ("a","bc") from colliding.
	assert.NotEqual(t, AuctionID("ab", "c"), AuctionID("a", "bc"))
}

func TestAuctionStatus(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name      string
		graduated bool
		deadline  int64
		want      AuctionStatus
	}{
		{"open before deadline", false, now.Unix() + 100, AuctionStatusOpen},
		{"open at deadline", false, now.Unix(), AuctionStatusOpen},
		{"expired after deadline", false, now.Unix() - 1, AuctionStatusExpired},
		{"graduated before deadline", true, now.Unix() + 100, AuctionStatusGraduated},
		// Graduation wins: an auction that graduated never becomes expired.
		{"graduated after deadline", true, now.Unix() - 100, AuctionStatusGraduated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Auction{IsGraduated: tt.graduated, Deadline: tt.deadline}
			assert.Equal(t, tt.want, a.Status(now))
		})
	}
}

func TestValidateParams(t *testing.T) {
	now := time.Now()

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, validAuction(now).ValidateParams(now))
	})

	tests := []struct {
		name    string
		mutate  func(*Auction)
		wantErr error
	}{
		{"empty authority", func(a *Auction) { a.Authority = " " }, ErrInvalidAccount},
		{"empty collection", func(a *Auction) { a.Collection = "" }, ErrInvalidAccount},
		{"empty source set", func(a *Auction) { a.SourceSet = "" }, ErrInvalidAccount},
		{"zero base price", func(a *Auction) { a.BasePrice = 0 }, ErrInvalidBasePrice},
		{"zero increment", func(a *Auction) { a.PriceIncrement = 0 }, ErrInvalidPriceIncrement},
		{"zero max supply", func(a *Auction) { a.MaxSupply = 0 }, ErrInvalidMaxSupply},
		{"zero minimum items", func(a *Auction) { a.MinimumItems = 0 }, ErrInvalidMinimumItems},
		{"minimum above max", func(a *Auction) { a.MinimumItems = a.MaxSupply + 1 }, ErrInvalidMinimumItems},
		{"deadline now", func(a *Auction) { a.Deadline = now.Unix() }, ErrDeadlineInPast},
		{"deadline past", func(a *Auction) { a.Deadline = now.Add(-time.Minute).Unix() }, ErrDeadlineInPast},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAuction(now)
			tt.mutate(&a)
			assert.ErrorIs(t, a.ValidateParams(now), tt.wantErr)
		})
	}
}

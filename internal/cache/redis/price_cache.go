package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/superpull/auctiond/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each auction's
// clearing price is stored at "price:{auctionID}" with fields "price" and
// "supply", expiring after the engine-supplied TTL.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(auctionID string) string {
	return "price:" + auctionID
}

// SetPrice stores the clearing price and the supply it was computed at.
func (pc *PriceCache) SetPrice(ctx context.Context, auctionID string, price, supply uint64, ttl time.Duration) error {
	key := priceKey(auctionID)

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"price":  strconv.FormatUint(price, 10),
		"supply": strconv.FormatUint(supply, 10),
	})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", auctionID, err)
	}
	return nil
}

// GetPrice retrieves the cached price and supply. It returns
// domain.ErrNotFound on a miss or an expired key.
func (pc *PriceCache) GetPrice(ctx context.Context, auctionID string) (uint64, uint64, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(auctionID)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get price %s: %w", auctionID, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}

	price, err := strconv.ParseUint(vals["price"], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("redis: parse cached price %s: %w", auctionID, err)
	}
	supply, err := strconv.ParseUint(vals["supply"], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("redis: parse cached supply %s: %w", auctionID, err)
	}
	return price, supply, nil
}

// Invalidate drops the cached price for an auction.
func (pc *PriceCache) Invalidate(ctx context.Context, auctionID string) error {
	if err := pc.rdb.Del(ctx, priceKey(auctionID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate price %s: %w", auctionID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// PriceCache is a redis-backed cache of spot prices keyed by asset and quote
// currency. It shaves refetches off the quote-serving path; the sampling
// cycle always reads the feed directly.
//
// Key schema:
//
//	spot:{asset}:{quote} - decimal price as a string
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// Options configure the redis connection and entry lifetime.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// New constructs a PriceCache from options.
func New(opts Options) *PriceCache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PriceCache{
		rdb: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		ttl: ttl,
	}
}

// Close releases the redis client.
func (c *PriceCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func spotKey(asset, quote string) string {
	return "spot:" + asset + ":" + quote
}

// Get returns a cached price. The second return is false on a miss.
func (c *PriceCache) Get(ctx context.Context, asset, quote string) (decimal.Decimal, bool, error) {
	raw, err := c.rdb.Get(ctx, spotKey(asset, quote)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Decimal{}, false, nil
		}
		return decimal.Decimal{}, false, fmt.Errorf("cache: get %s/%s: %w", asset, quote, err)
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("cache: parse %s/%s: %w", asset, quote, err)
	}
	return price, true, nil
}

// Set stores a price with the configured TTL.
func (c *PriceCache) Set(ctx context.Context, asset, quote string, price decimal.Decimal) error {
	if err := c.rdb.Set(ctx, spotKey(asset, quote), price.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s/%s: %w", asset, quote, err)
	}
	return nil
}

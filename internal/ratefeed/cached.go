package ratefeed

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricewatcher/internal/cache"
)

// Cached decorates a SpotPriceFetcher with a redis price cache. Cache faults
// degrade to a direct fetch and never surface to the caller.
type Cached struct {
	next   SpotPriceFetcher
	cache  *cache.PriceCache
	logger zerolog.Logger
}

// NewCached wraps next with the given cache.
func NewCached(next SpotPriceFetcher, priceCache *cache.PriceCache, logger zerolog.Logger) *Cached {
	return &Cached{
		next:   next,
		cache:  priceCache,
		logger: logger.With().Str("component", "cached_fetcher").Logger(),
	}
}

// FetchPrice serves from cache when possible, otherwise fetches and
// backfills the cache best effort.
func (c *Cached) FetchPrice(ctx context.Context, asset, quote string) (decimal.Decimal, error) {
	if price, ok, err := c.cache.Get(ctx, asset, quote); err != nil {
		c.logger.Warn().Err(err).Str("asset", asset).Msg("cache read failed")
	} else if ok {
		return price, nil
	}

	price, err := c.next.FetchPrice(ctx, asset, quote)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if err := c.cache.Set(ctx, asset, quote, price); err != nil {
		c.logger.Warn().Err(err).Str("asset", asset).Msg("cache write failed")
	}
	return price, nil
}

var _ SpotPriceFetcher = (*Cached)(nil)

package ratefeed

import (
	"context"

	"github.com/shopspring/decimal"
)

// SpotPriceFetcher retrieves the current spot price of an asset expressed in
// a quote currency ("usd", "btc", ...). Implementations return an error for
// any network, parse, or coverage fault; callers decide whether a failed
// fetch degrades or propagates.
type SpotPriceFetcher interface {
	FetchPrice(ctx context.Context, asset, quote string) (decimal.Decimal, error)
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pricewatcher/internal/storage"
)

// SwapFee itemises the swap commission in both legs.
type SwapFee struct {
	ETH decimal.Decimal `json:"eth"`
	USD decimal.Decimal `json:"usd"`
}

// SwapQuote is the result of an ETH to BTC conversion estimate.
type SwapQuote struct {
	BTCAmount decimal.Decimal `json:"btcAmount"`
	Fee       SwapFee         `json:"fee"`
}

// HourlyPrices returns the last 24 hours of samples grouped by chain, each
// series ascending by timestamp. An empty chain covers every chain with
// history in the window.
func (s *Service) HourlyPrices(ctx context.Context, chain string) (map[string][]storage.PriceSample, error) {
	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)

	samples, err := s.prices.ListSamplesBetween(ctx, from, now, strings.ToLower(chain))
	if err != nil {
		return nil, fmt.Errorf("list hourly prices: %w", err)
	}

	grouped := make(map[string][]storage.PriceSample)
	for _, sample := range samples {
		grouped[sample.Chain] = append(grouped[sample.Chain], sample)
	}
	return grouped, nil
}

// QuoteEthToBtc estimates the BTC received for ethAmount after the
// configured commission. The fee is taken in ETH and also reported in USD.
func (s *Service) QuoteEthToBtc(ctx context.Context, ethAmount decimal.Decimal) (SwapQuote, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	ethToBtc, err := s.quotes.FetchPrice(opCtx, "ethereum", "btc")
	if err != nil {
		return SwapQuote{}, fmt.Errorf("fetch eth/btc rate: %w", err)
	}
	ethToUsd, err := s.quotes.FetchPrice(opCtx, "ethereum", "usd")
	if err != nil {
		return SwapQuote{}, fmt.Errorf("fetch eth/usd rate: %w", err)
	}

	feeEth := ethAmount.Mul(s.swapFeePct).Div(hundred)
	effective := ethAmount.Sub(feeEth)

	return SwapQuote{
		BTCAmount: effective.Mul(ethToBtc),
		Fee: SwapFee{
			ETH: feeEth,
			USD: feeEth.Mul(ethToUsd),
		},
	}, nil
}

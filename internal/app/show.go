package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"pricewatcher/internal/storage"
)

// Show prints recent price samples.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	samples, err := store.ListRecentSamples(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if opts.Chain != "" {
		samples = filterByChain(samples, strings.ToLower(opts.Chain))
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tChain\tPrice (USD)")

	for _, sample := range samples {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\n",
			sample.Timestamp.UTC().Format(time.RFC3339),
			sample.Chain,
			sample.Price.StringFixed(2),
		)
	}

	writer.Flush()
	return nil
}

func filterByChain(samples []storage.PriceSample, chain string) []storage.PriceSample {
	filtered := samples[:0]
	for _, sample := range samples {
		if sample.Chain == chain {
			filtered = append(filtered, sample)
		}
	}
	return filtered
}

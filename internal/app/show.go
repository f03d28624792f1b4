package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"taowatcher/internal/storage"
)

// Show prints recent samples from the archive when configured, falling
// back to the local history document.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	samples, err := a.loadRecentSamples(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tCost (RAO)\tCost (TAO)\tCost (USD)\tSubnets")

	for _, sample := range samples {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%d\n",
			sample.Timestamp,
			sample.PriceRao,
			sample.PriceTAO.StringFixed(6),
			sample.PriceUSD.StringFixed(4),
			sample.SubnetCount,
		)
	}

	return writer.Flush()
}

func (a *App) loadRecentSamples(ctx context.Context, limit int) ([]storage.PriceSample, error) {
	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return nil, err
	}
	if archive != nil {
		defer closeArchive()
		return archive.ListRecentSamples(ctx, limit)
	}

	files := storage.NewFiles(a.Config.Data.Dir, a.Logger)
	doc := files.LoadHistory()
	if len(doc.PriceHistory) > limit {
		doc.PriceHistory = doc.PriceHistory[len(doc.PriceHistory)-limit:]
	}
	return doc.PriceHistory, nil
}

package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"taowatcher/internal/storage"
)

// Export renders registration cost history as CSV and/or PNG. The
// Postgres archive is preferred when configured; otherwise the local
// JSON documents supply the window they cover.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-time.Duration(a.Config.Monitor.RetentionHours) * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := a.loadExportSamples(ctx, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) loadExportSamples(ctx context.Context, from, to time.Time) ([]storage.PriceSample, error) {
	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return nil, err
	}
	if archive != nil {
		defer closeArchive()
		return archive.ListSamplesBetween(ctx, from, to)
	}

	files := storage.NewFiles(a.Config.Data.Dir, a.Logger)
	doc := files.LoadHistory()
	fromTS := storage.FormatTimestamp(from)
	toTS := storage.FormatTimestamp(to)

	rollingStart := ""
	if len(doc.PriceHistory) > 0 {
		rollingStart = doc.PriceHistory[0].Timestamp
	}

	var samples []storage.PriceSample
	for _, rec := range files.LoadCache() {
		if rec.Timestamp < fromTS || rec.Timestamp > toTS {
			continue
		}
		if rollingStart != "" && rec.Timestamp >= rollingStart {
			continue
		}
		samples = append(samples, storage.PriceSample{
			Timestamp: rec.Timestamp,
			PriceRao:  rec.PriceRao,
			PriceTAO:  rec.PriceTAO,
		})
	}
	for _, sample := range doc.PriceHistory {
		if sample.Timestamp < fromTS || sample.Timestamp > toTS {
			continue
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func downsampleSamples(samples []storage.PriceSample, max int) []storage.PriceSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}

	result := make([]storage.PriceSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, samples []storage.PriceSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "price_rao", "price_tao", "price_usd", "subnet_count"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		record := []string{
			sample.Timestamp,
			strconv.FormatInt(sample.PriceRao, 10),
			sample.PriceTAO.String(),
			sample.PriceUSD.String(),
			strconv.Itoa(sample.SubnetCount),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

func writeSamplesPNG(path string, samples []storage.PriceSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, 0, len(samples))
	costTAO := make([]float64, 0, len(samples))
	costUSD := make([]float64, 0, len(samples))

	for _, sample := range samples {
		ts, err := storage.ParseTimestamp(sample.Timestamp)
		if err != nil {
			continue
		}
		x = append(x, ts)
		costTAO = append(costTAO, sample.PriceTAO.InexactFloat64())
		costUSD = append(costUSD, sample.PriceUSD.InexactFloat64())
	}
	if len(x) == 0 {
		return errors.New("no renderable samples")
	}

	costFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Registration Cost (TAO)",
			ValueFormatter: costFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Registration Cost (USD)",
			ValueFormatter: costFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Cost (TAO)",
				XValues: x,
				YValues: costTAO,
			},
			chart.TimeSeries{
				Name:    "Cost (USD)",
				XValues: x,
				YValues: costUSD,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

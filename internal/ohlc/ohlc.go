// Package ohlc folds chronological price records into fixed-width
// candles for charting.
package ohlc

import (
	"sort"

	"github.com/shopspring/decimal"

	"taowatcher/internal/storage"
)

// Record is one aggregation input: a canonical timestamp and a price.
type Record struct {
	Timestamp string
	Price     decimal.Decimal
}

// Candle is one OHLC bucket. Time is the bucket start in unix seconds.
type Candle struct {
	Time  int64           `json:"time"`
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

// granularities maps chart tags to bucket widths in seconds.
var granularities = map[string]int64{
	"5m": 300,
	"1h": 3600,
	"4h": 14400,
	"1d": 86400,
	"1w": 604800,
}

// GranularitySeconds resolves a chart tag to a bucket width. Unknown
// tags fall back to one day.
func GranularitySeconds(tag string) int64 {
	if g, ok := granularities[tag]; ok {
		return g
	}
	return 86400
}

// Aggregate groups records into candles of width granularitySeconds.
//
// Records must be in chronological order; the last record seen in a
// bucket becomes its close. Every candle after the first opens at the
// previous candle's close so adjacent candles connect even when a
// bucket has a single sample, and the carried open participates in the
// bucket's high/low. Candles are returned sorted ascending by bucket
// start regardless of input order. Records with an unparsable
// timestamp or a non-positive price are skipped. Prices are rounded
// to 6 decimal places.
func Aggregate(records []Record, granularitySeconds int64) []Candle {
	if granularitySeconds <= 0 {
		return nil
	}

	type bucket struct {
		start int64
		first decimal.Decimal
		high  decimal.Decimal
		low   decimal.Decimal
		close decimal.Decimal
	}

	var buckets []bucket
	index := make(map[int64]int)

	for _, r := range records {
		if !r.Price.IsPositive() {
			continue
		}
		ts, err := storage.ParseTimestamp(r.Timestamp)
		if err != nil {
			continue
		}
		unix := ts.Unix()
		start := unix - unix%granularitySeconds

		if i, ok := index[start]; ok {
			b := &buckets[i]
			if r.Price.GreaterThan(b.high) {
				b.high = r.Price
			}
			if r.Price.LessThan(b.low) {
				b.low = r.Price
			}
			b.close = r.Price
		} else {
			index[start] = len(buckets)
			buckets = append(buckets, bucket{
				start: start,
				first: r.Price,
				high:  r.Price,
				low:   r.Price,
				close: r.Price,
			})
		}
	}
	if len(buckets) == 0 {
		return nil
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].start < buckets[j].start })

	candles := make([]Candle, 0, len(buckets))
	var prevClose decimal.Decimal
	for i, b := range buckets {
		open := prevClose
		if i == 0 {
			open = b.first
		}
		high, low := b.high, b.low
		if open.GreaterThan(high) {
			high = open
		}
		if open.LessThan(low) {
			low = open
		}
		candles = append(candles, Candle{
			Time:  b.start,
			Open:  open.Round(6),
			High:  high.Round(6),
			Low:   low.Round(6),
			Close: b.close.Round(6),
		})
		prevClose = b.close
	}
	return candles
}

package ohlc

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"taowatcher/internal/storage"
)

func rec(t time.Time, price string) Record {
	return Record{
		Timestamp: storage.FormatTimestamp(t),
		Price:     decimal.RequireFromString(price),
	}
}

func TestAggregateCarriesForwardOpen(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	records := []Record{
		rec(t0, "10"),
		rec(t0.Add(1*time.Second), "12"),
		rec(t0.Add(61*time.Second), "8"),
	}

	candles := Aggregate(records, 60)
	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2", len(candles))
	}

	first := candles[0]
	if !first.Open.Equal(decimal.NewFromInt(10)) ||
		!first.High.Equal(decimal.NewFromInt(12)) ||
		!first.Low.Equal(decimal.NewFromInt(10)) ||
		!first.Close.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("first candle = %+v, want O=10 H=12 L=10 C=12", first)
	}

	second := candles[1]
	if !second.Open.Equal(decimal.NewFromInt(12)) ||
		!second.High.Equal(decimal.NewFromInt(12)) ||
		!second.Low.Equal(decimal.NewFromInt(8)) ||
		!second.Close.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("second candle = %+v, want O=12 H=12 L=8 C=8", second)
	}
	if second.Time != first.Time+60 {
		t.Fatalf("bucket times %d, %d are not adjacent", first.Time, second.Time)
	}
}

func TestAggregateCarriedOpenExtendsRange(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	records := []Record{
		rec(t0, "20"),
		rec(t0.Add(time.Minute), "5"),
	}

	// Second bucket holds a single sample below the carried open; the
	// open must stretch the candle's high.
	candles := Aggregate(records, 60)
	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2", len(candles))
	}
	second := candles[1]
	if !second.Open.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("second open = %s, want 20", second.Open)
	}
	if !second.High.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("second high = %s, want 20", second.High)
	}
	if !second.Low.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("second low = %s, want 5", second.Low)
	}
}

func TestAggregateSortsBucketsAscending(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	records := []Record{
		rec(t0.Add(61*time.Second), "8"),
		rec(t0, "10"),
	}

	candles := Aggregate(records, 60)
	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2", len(candles))
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].Time <= candles[i-1].Time {
			t.Fatalf("candle times %d, %d are not ascending", candles[i-1].Time, candles[i].Time)
		}
	}
	if !candles[0].Open.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("earliest open = %s, want 10", candles[0].Open)
	}
	// The later bucket inherits the earlier close even though it was
	// encountered first.
	if !candles[1].Open.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("second open = %s, want carried 10", candles[1].Open)
	}
}

func TestAggregateSkipsInvalidRecords(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	records := []Record{
		{Timestamp: "not-a-timestamp", Price: decimal.NewFromInt(99)},
		rec(t0, "0"),
		rec(t0, "-3"),
		rec(t0, "7"),
	}

	candles := Aggregate(records, 60)
	if len(candles) != 1 {
		t.Fatalf("got %d candles, want 1", len(candles))
	}
	c := candles[0]
	if !c.Open.Equal(decimal.NewFromInt(7)) || !c.Close.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("candle = %+v, want all fields 7", c)
	}
}

func TestAggregateEmptyInput(t *testing.T) {
	if got := Aggregate(nil, 60); got != nil {
		t.Fatalf("Aggregate(nil) = %v, want nil", got)
	}
	if got := Aggregate([]Record{}, 0); got != nil {
		t.Fatalf("zero granularity should produce nil, got %v", got)
	}
}

func TestAggregateRoundsToSixPlaces(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := Aggregate([]Record{rec(t0, "0.123456789")}, 60)
	if len(candles) != 1 {
		t.Fatalf("got %d candles, want 1", len(candles))
	}
	want := decimal.RequireFromString("0.123457")
	if !candles[0].Close.Equal(want) {
		t.Fatalf("close = %s, want %s", candles[0].Close, want)
	}
}

func TestGranularitySeconds(t *testing.T) {
	cases := map[string]int64{
		"5m":      300,
		"1h":      3600,
		"4h":      14400,
		"1d":      86400,
		"1w":      604800,
		"unknown": 86400,
	}
	for tag, want := range cases {
		if got := GranularitySeconds(tag); got != want {
			t.Errorf("GranularitySeconds(%q) = %d, want %d", tag, got, want)
		}
	}
}

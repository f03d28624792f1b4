package fetcher

import (
	"context"

	"github.com/shopspring/decimal"

	"taowatcher/internal/storage"
)

// StatsSnapshot is the latest chain-wide registration figure.
type StatsSnapshot struct {
	PriceRao    int64
	SubnetCount int
}

// StatsFetcher retrieves the current registration cost and subnet count.
type StatsFetcher interface {
	FetchStats(ctx context.Context) (StatsSnapshot, error)
}

// SubnetsFetcher retrieves the current subnet listing.
type SubnetsFetcher interface {
	FetchSubnets(ctx context.Context) ([]storage.Subnet, error)
}

// RateFetcher retrieves the current TAO/USD rate.
type RateFetcher interface {
	FetchUSDRate(ctx context.Context) (decimal.Decimal, error)
}

// HistoryFetcher retrieves the provider's long-range registration cost
// series, sorted ascending by timestamp.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context) ([]storage.CacheRecord, error)
}

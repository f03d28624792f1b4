package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotConfigured indicates the archive pool was not initialised.
var ErrNotConfigured = errors.New("storage: archive not configured")

// The archive keeps every observed sample beyond the 7-day rolling
// window. It is optional; the JSON documents remain the authoritative
// runtime state.
const (
	archiveSchemaSQL = `CREATE TABLE IF NOT EXISTS price_samples (
        sample_ts     TIMESTAMPTZ PRIMARY KEY,
        price_rao     BIGINT      NOT NULL,
        price_tao     NUMERIC     NOT NULL,
        price_usd     NUMERIC     NOT NULL,
        subnet_count  INTEGER     NOT NULL,
        created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS subnet_events (
        id         BIGSERIAL PRIMARY KEY,
        event_ts   TIMESTAMPTZ NOT NULL,
        subnet_id  INTEGER     NOT NULL,
        event      TEXT        NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	upsertSampleSQL = `INSERT INTO price_samples (
        sample_ts, price_rao, price_tao, price_usd, subnet_count
    ) VALUES ($1,$2,$3,$4,$5)
    ON CONFLICT (sample_ts) DO UPDATE
    SET price_rao    = EXCLUDED.price_rao,
        price_tao    = EXCLUDED.price_tao,
        price_usd    = EXCLUDED.price_usd,
        subnet_count = EXCLUDED.subnet_count;`

	insertSubnetEventSQL = `INSERT INTO subnet_events (event_ts, subnet_id, event)
    VALUES ($1,$2,$3);`

	listSamplesBetweenSQL = `SELECT
        sample_ts, price_rao, price_tao, price_usd, subnet_count
    FROM price_samples
    WHERE sample_ts >= $1
      AND sample_ts < $2
    ORDER BY sample_ts;`

	listRecentSamplesSQL = `SELECT
        sample_ts, price_rao, price_tao, price_usd, subnet_count
    FROM price_samples
    ORDER BY sample_ts DESC
    LIMIT $1;`
)

// ArchiveConfig encapsulates PostgreSQL connectivity.
type ArchiveConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SampleArchive defines the long-term sample sink.
type SampleArchive interface {
	UpsertSample(ctx context.Context, sample PriceSample) error
	InsertSubnetEvent(ctx context.Context, event SubnetEvent) error
	ListSamplesBetween(ctx context.Context, from, to time.Time) ([]PriceSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]PriceSample, error)
}

// Archive is the pgx-backed SampleArchive.
type Archive struct {
	pool *pgxpool.Pool
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg ArchiveConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// NewArchive wires a pgx pool into an Archive and ensures the schema.
func NewArchive(ctx context.Context, pool *pgxpool.Pool) (*Archive, error) {
	a := &Archive{pool: pool}
	if _, err := pool.Exec(ctx, archiveSchemaSQL); err != nil {
		return nil, fmt.Errorf("ensure archive schema: %w", err)
	}
	return a, nil
}

// Close releases the underlying pool resources.
func (a *Archive) Close() {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.Close()
}

func (a *Archive) getPool() (*pgxpool.Pool, error) {
	if a == nil || a.pool == nil {
		return nil, ErrNotConfigured
	}
	return a.pool, nil
}

// UpsertSample persists or updates a price sample.
func (a *Archive) UpsertSample(ctx context.Context, sample PriceSample) error {
	pool, err := a.getPool()
	if err != nil {
		return err
	}

	ts, err := ParseTimestamp(sample.Timestamp)
	if err != nil {
		return fmt.Errorf("parse sample timestamp: %w", err)
	}

	_, execErr := pool.Exec(ctx, upsertSampleSQL,
		ts,
		sample.PriceRao,
		sample.PriceTAO.String(),
		sample.PriceUSD.String(),
		sample.SubnetCount,
	)
	if execErr != nil {
		return fmt.Errorf("upsert price sample: %w", execErr)
	}
	return nil
}

// InsertSubnetEvent persists a subnet detection event.
func (a *Archive) InsertSubnetEvent(ctx context.Context, event SubnetEvent) error {
	pool, err := a.getPool()
	if err != nil {
		return err
	}

	ts, err := ParseTimestamp(event.Timestamp)
	if err != nil {
		return fmt.Errorf("parse event timestamp: %w", err)
	}

	if _, execErr := pool.Exec(ctx, insertSubnetEventSQL, ts, event.SubnetID, event.Event); execErr != nil {
		return fmt.Errorf("insert subnet event: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists archived samples within a time window.
func (a *Archive) ListSamplesBetween(ctx context.Context, from, to time.Time) ([]PriceSample, error) {
	pool, err := a.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, 0)
}

// ListRecentSamples lists the most recent archived samples, newest first.
func (a *Archive) ListRecentSamples(ctx context.Context, limit int) ([]PriceSample, error) {
	pool, err := a.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, limit)
}

func collectSamples(rows pgx.Rows, sizeHint int) ([]PriceSample, error) {
	samples := make([]PriceSample, 0, sizeHint)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func scanPriceSample(rows pgx.Rows) (PriceSample, error) {
	var (
		ts          time.Time
		priceRao    int64
		priceTAOStr string
		priceUSDStr string
		subnetCount int
	)

	if err := rows.Scan(&ts, &priceRao, &priceTAOStr, &priceUSDStr, &subnetCount); err != nil {
		return PriceSample{}, err
	}

	priceTAO, err := decimal.NewFromString(priceTAOStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse price_tao: %w", err)
	}
	priceUSD, err := decimal.NewFromString(priceUSDStr)
	if err != nil {
		return PriceSample{}, fmt.Errorf("parse price_usd: %w", err)
	}

	return PriceSample{
		Timestamp:   FormatTimestamp(ts),
		PriceRao:    priceRao,
		PriceTAO:    priceTAO,
		PriceUSD:    priceUSD,
		SubnetCount: subnetCount,
	}, nil
}

package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const simplePricePath = "/api/v3/simple/price?ids=bittensor&vs_currencies=usd"

// CoingeckoOptions parameterise the TAO/USD rate fetcher.
type CoingeckoOptions struct {
	BaseURL string
	Timeout time.Duration
}

// Coingecko fetches the TAO/USD spot rate.
type Coingecko struct {
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCoingecko constructs a rate fetcher.
func NewCoingecko(opts CoingeckoOptions, logger zerolog.Logger) *Coingecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com"
	}

	return &Coingecko{
		logger:  logger.With().Str("component", "coingecko_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchUSDRate retrieves the current bittensor/usd price.
func (c *Coingecko) FetchUSDRate(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+simplePricePath, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("coingecko api error (%d)", resp.StatusCode)
	}

	var payload map[string]map[string]json.Number
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode coingecko payload: %w", err)
	}

	raw, ok := payload["bittensor"]["usd"]
	if !ok {
		return decimal.Decimal{}, errors.New("coingecko payload missing bittensor usd price")
	}

	rate, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse usd rate: %w", err)
	}

	c.logger.Debug().Str("usd_rate", rate.String()).Msg("usd rate fetched")
	return rate, nil
}

var _ RateFetcher = (*Coingecko)(nil)

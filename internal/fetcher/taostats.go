package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"taowatcher/internal/storage"
)

const (
	statsPath   = "/api/stats/latest/v1"
	subnetsPath = "/api/subnet/latest/v1"
	historyPath = "/api/stats/history/v1"
)

// TaostatsOptions parameterise the Taostats client.
type TaostatsOptions struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	HistoryTimeout   time.Duration
	HistoryPageLimit int
}

// Taostats provides access to the Taostats REST API. It implements
// StatsFetcher, SubnetsFetcher and HistoryFetcher.
type Taostats struct {
	opts    TaostatsOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string

	keyMux sync.RWMutex
	apiKey string
}

// NewTaostats constructs a Taostats client.
func NewTaostats(opts TaostatsOptions, logger zerolog.Logger) *Taostats {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.taostats.io"
	}

	return &Taostats{
		opts:    opts,
		logger:  logger.With().Str("component", "taostats_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  opts.APIKey,
	}
}

// SetAPIKey updates the Authorization key used on subsequent requests.
// Called when the runtime settings document changes.
func (t *Taostats) SetAPIKey(key string) {
	t.keyMux.Lock()
	t.apiKey = key
	t.keyMux.Unlock()
}

func (t *Taostats) currentAPIKey() string {
	t.keyMux.RLock()
	defer t.keyMux.RUnlock()
	return t.apiKey
}

// FetchStats retrieves the latest registration cost and subnet count.
// Any unexpected payload shape is reported as a fetch failure.
func (t *Taostats) FetchStats(ctx context.Context) (StatsSnapshot, error) {
	payload, err := t.getJSON(ctx, t.baseURL+statsPath)
	if err != nil {
		return StatsSnapshot{}, err
	}

	record := unwrapRecord(payload)
	if record == nil {
		return StatsSnapshot{}, errors.New("stats payload has no data record")
	}

	priceRao, ok := asInt64(record["subnet_registration_cost"])
	if !ok {
		return StatsSnapshot{}, errors.New("stats payload missing subnet_registration_cost")
	}
	subnetCount, _ := asInt64(record["subnets"])

	return StatsSnapshot{PriceRao: priceRao, SubnetCount: int(subnetCount)}, nil
}

// FetchSubnets retrieves the current subnet listing.
func (t *Taostats) FetchSubnets(ctx context.Context) ([]storage.Subnet, error) {
	payload, err := t.getJSON(ctx, t.baseURL+subnetsPath)
	if err != nil {
		return nil, err
	}

	items := unwrapList(payload)
	if items == nil {
		return nil, errors.New("subnets payload has no data list")
	}

	subnets := make([]storage.Subnet, 0, len(items))
	for _, item := range items {
		record, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, ok := subnetID(record)
		if !ok {
			continue
		}
		cost, _ := asInt64(record["registration_cost"])
		subnets = append(subnets, storage.Subnet{
			NetUID:                id,
			Name:                  asString(record["name"]),
			RegistrationCostRao:   cost,
			RegistrationTimestamp: storage.NormalizeTimestamp(asString(record["registration_timestamp"])),
		})
	}
	return subnets, nil
}

// FetchHistory pages through the full registration cost history.
// A page failure after the first stops paging and returns the records
// accumulated so far; records are returned ascending by timestamp.
func (t *Taostats) FetchHistory(ctx context.Context) ([]storage.CacheRecord, error) {
	pageLimit := t.opts.HistoryPageLimit
	if pageLimit <= 0 {
		pageLimit = 200
	}

	var all []storage.CacheRecord
	page := 1

	for {
		records, totalPages, err := t.fetchHistoryPage(ctx, page, pageLimit)
		if err != nil {
			if len(all) == 0 {
				return nil, fmt.Errorf("history page %d: %w", page, err)
			}
			t.logger.Warn().Err(err).Int("page", page).Msg("history paging stopped early")
			break
		}

		all = append(all, records...)
		t.logger.Info().
			Int("page", page).
			Int("total_pages", totalPages).
			Int("records", len(all)).
			Msg("history page loaded")

		if page >= totalPages {
			break
		}
		page++
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })
	return all, nil
}

func (t *Taostats) fetchHistoryPage(ctx context.Context, page, limit int) ([]storage.CacheRecord, int, error) {
	if t.opts.HistoryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.HistoryTimeout)
		defer cancel()
	}

	url := fmt.Sprintf("%s%s?limit=%d&page=%d", t.baseURL, historyPath, limit, page)
	payload, err := t.getJSON(ctx, url)
	if err != nil {
		return nil, 0, err
	}

	root, ok := payload.(map[string]any)
	if !ok {
		return nil, 0, errors.New("history payload is not an object")
	}

	totalPages := 1
	if pagination, ok := root["pagination"].(map[string]any); ok {
		if n, ok := asInt64(pagination["total_pages"]); ok && n > 0 {
			totalPages = int(n)
		}
	}

	items, _ := root["data"].([]any)
	records := make([]storage.CacheRecord, 0, len(items))
	for _, item := range items {
		record, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ts := asString(record["timestamp"])
		costRao, costOK := asInt64(record["subnet_registration_cost"])
		if ts == "" || !costOK || costRao <= 0 {
			continue
		}
		records = append(records, storage.CacheRecord{
			Timestamp: storage.NormalizeTimestamp(ts),
			PriceRao:  costRao,
			PriceTAO:  decimal.New(costRao, 0).Div(decimal.New(storage.RaoPerTAO, 0)).Round(6),
		})
	}

	return records, totalPages, nil
}

// getJSON performs an authenticated GET and decodes the body with
// json.Number preserved for the flexible extractors below.
func (t *Taostats) getJSON(ctx context.Context, url string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if key := t.currentAPIKey(); key != "" {
		req.Header.Set("Authorization", key)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, body)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("taostats api error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("taostats api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("taostats api error (%d): %s", status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("taostats api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("taostats api error (%d)", status)
}

// unwrapRecord handles the provider's varying envelope shapes:
// {"data":[{...}]}, {"data":{...}}, or a bare object.
func unwrapRecord(payload any) map[string]any {
	root, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	inner, exists := root["data"]
	if !exists {
		return root
	}
	switch v := inner.(type) {
	case []any:
		if len(v) == 0 {
			return nil
		}
		record, _ := v[0].(map[string]any)
		return record
	case map[string]any:
		return v
	}
	return root
}

// unwrapList handles {"data":[...]} or a bare list.
func unwrapList(payload any) []any {
	switch v := payload.(type) {
	case map[string]any:
		items, _ := v["data"].([]any)
		return items
	case []any:
		return v
	}
	return nil
}

func subnetID(record map[string]any) (int, bool) {
	for _, key := range []string{"netuid", "subnet_id", "id"} {
		if id, ok := asInt64(record[key]); ok {
			return int(id), true
		}
	}
	return 0, false
}

// asInt64 coerces the provider's mixed numeric encodings (number,
// numeric string) into an int64.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if n == "" {
			return 0, false
		}
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

var (
	_ StatsFetcher   = (*Taostats)(nil)
	_ SubnetsFetcher = (*Taostats)(nil)
	_ HistoryFetcher = (*Taostats)(nil)
)

package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"taowatcher/internal/alerting"
	"taowatcher/internal/fetcher"
	"taowatcher/internal/history"
	"taowatcher/internal/metrics"
	"taowatcher/internal/storage"
	"taowatcher/internal/tracker"
)

type fakeStats struct {
	snapshot fetcher.StatsSnapshot
	err      error
	calls    int
}

func (f *fakeStats) FetchStats(context.Context) (fetcher.StatsSnapshot, error) {
	f.calls++
	return f.snapshot, f.err
}

type fakeSubnets struct {
	subnets []storage.Subnet
	err     error
}

func (f *fakeSubnets) FetchSubnets(context.Context) ([]storage.Subnet, error) {
	return f.subnets, f.err
}

type fakeRate struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (f *fakeRate) FetchUSDRate(context.Context) (decimal.Decimal, error) {
	f.calls++
	return f.rate, f.err
}

type fakeLongTerm struct {
	records []storage.CacheRecord
	err     error
	calls   int
}

func (f *fakeLongTerm) FetchHistory(context.Context) ([]storage.CacheRecord, error) {
	f.calls++
	return f.records, f.err
}

type memFiles struct {
	history  storage.HistoryDocument
	cache    []storage.CacheRecord
	settings *storage.Settings
}

func (m *memFiles) LoadHistory() storage.HistoryDocument          { return m.history }
func (m *memFiles) SaveHistory(doc storage.HistoryDocument) error { m.history = doc; return nil }
func (m *memFiles) LoadCache() []storage.CacheRecord              { return m.cache }
func (m *memFiles) SaveCache(r []storage.CacheRecord) error       { m.cache = r; return nil }
func (m *memFiles) SaveSettings(s *storage.Settings) error        { m.settings = s.Clone(); return nil }

type captureHub struct {
	frames []string
}

func (c *captureHub) Broadcast(msg []byte) { c.frames = append(c.frames, string(msg)) }

func (c *captureHub) countType(eventType string) int {
	n := 0
	for _, f := range c.frames {
		if strings.Contains(f, `"type":"`+eventType+`"`) {
			n++
		}
	}
	return n
}

type fixture struct {
	svc      *Service
	stats    *fakeStats
	subnets  *fakeSubnets
	rate     *fakeRate
	longTerm *fakeLongTerm
	files    *memFiles
	hub      *captureHub
	notes    []alerting.Notification
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		stats:    &fakeStats{snapshot: fetcher.StatsSnapshot{PriceRao: 2_500_000_000, SubnetCount: 3}},
		subnets:  &fakeSubnets{subnets: []storage.Subnet{{NetUID: 1}, {NetUID: 2}, {NetUID: 3}}},
		rate:     &fakeRate{rate: decimal.NewFromInt(400)},
		longTerm: &fakeLongTerm{records: []storage.CacheRecord{{Timestamp: "2024-01-01T00:00:00Z", PriceRao: 100}}},
		files:    &memFiles{},
		hub:      &captureHub{},
		clock:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	store := history.NewStore(f.files, zerolog.Nop())
	notifier := alerting.NotifierFunc(func(_ context.Context, note alerting.Notification) error {
		f.notes = append(f.notes, note)
		return nil
	})

	f.svc = New(Options{
		Stats:                f.stats,
		Subnets:              f.subnets,
		Rate:                 f.rate,
		LongTerm:             f.longTerm,
		History:              store,
		Files:                f.files,
		Hub:                  f.hub,
		Notifier:             notifier,
		Metrics:              metrics.New(prometheus.NewRegistry()),
		Settings:             storage.DefaultSettings(),
		USDRefreshInterval:   5 * time.Minute,
		CacheRefreshInterval: 6 * time.Hour,
		RetentionHours:       168,
	}, tracker.New(), zerolog.Nop())
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) tick(t *testing.T) {
	t.Helper()
	if err := f.svc.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
}

func TestTickRecordsSample(t *testing.T) {
	f := newFixture(t)
	f.tick(t)

	sample, ok := f.svc.Current()
	if !ok {
		t.Fatal("no sample recorded after tick")
	}
	if sample.PriceRao != 2_500_000_000 {
		t.Fatalf("price_rao = %d", sample.PriceRao)
	}
	if want := decimal.RequireFromString("2.5"); !sample.PriceTAO.Equal(want) {
		t.Fatalf("price_tao = %s, want %s", sample.PriceTAO, want)
	}
	// 2.5 TAO at 400 USD/TAO.
	if want := decimal.NewFromInt(1000); !sample.PriceUSD.Equal(want) {
		t.Fatalf("price_usd = %s, want %s", sample.PriceUSD, want)
	}
	if sample.SubnetCount != 3 {
		t.Fatalf("subnet_count = %d, want 3", sample.SubnetCount)
	}
	if got := f.hub.countType("price_update"); got != 1 {
		t.Fatalf("price_update broadcasts = %d, want 1", got)
	}
	if len(f.files.history.PriceHistory) != 1 {
		t.Fatalf("persisted %d samples, want 1", len(f.files.history.PriceHistory))
	}
}

func TestUSDRateCadence(t *testing.T) {
	f := newFixture(t)
	f.tick(t)
	if f.rate.calls != 1 {
		t.Fatalf("rate calls after first tick = %d, want 1", f.rate.calls)
	}

	// One minute later: interval (5m) not yet elapsed.
	f.clock = f.clock.Add(time.Minute)
	f.tick(t)
	if f.rate.calls != 1 {
		t.Fatalf("rate refetched inside its interval: %d calls", f.rate.calls)
	}

	f.clock = f.clock.Add(5 * time.Minute)
	f.tick(t)
	if f.rate.calls != 2 {
		t.Fatalf("rate calls after interval elapsed = %d, want 2", f.rate.calls)
	}
}

func TestUSDRateFailureKeepsStaleValue(t *testing.T) {
	f := newFixture(t)
	f.tick(t)
	if !f.svc.USDRate().Equal(decimal.NewFromInt(400)) {
		t.Fatalf("rate = %s", f.svc.USDRate())
	}

	f.rate.err = errors.New("upstream down")
	f.clock = f.clock.Add(10 * time.Minute)
	f.tick(t)

	if !f.svc.USDRate().Equal(decimal.NewFromInt(400)) {
		t.Fatalf("stale rate lost: %s", f.svc.USDRate())
	}
	// Failure must not advance the cadence clock: next tick retries.
	f.rate.err = nil
	f.rate.rate = decimal.NewFromInt(500)
	f.tick(t)
	if !f.svc.USDRate().Equal(decimal.NewFromInt(500)) {
		t.Fatalf("retry after failure did not happen: %s", f.svc.USDRate())
	}
}

func TestStatsFailureDoesNotBlockSubnets(t *testing.T) {
	f := newFixture(t)
	f.tick(t) // primes the tracker

	f.stats.err = errors.New("boom")
	f.subnets.subnets = append(f.subnets.subnets, storage.Subnet{NetUID: 9})
	f.tick(t)

	if _, ok := f.svc.Current(); !ok {
		t.Fatal("previous sample should survive a stats failure")
	}
	if got := f.hub.countType("new_subnet"); got != 1 {
		t.Fatalf("new_subnet broadcasts = %d, want 1", got)
	}
}

func TestNewSubnetPipeline(t *testing.T) {
	f := newFixture(t)
	f.tick(t)

	// First observation primes silently.
	if got := f.hub.countType("new_subnet"); got != 0 {
		t.Fatalf("priming tick broadcast %d new_subnet frames", got)
	}

	f.subnets.subnets = append(f.subnets.subnets, storage.Subnet{NetUID: 42})
	f.tick(t)

	if got := f.hub.countType("new_subnet"); got != 1 {
		t.Fatalf("new_subnet broadcasts = %d, want 1", got)
	}
	_, events := f.svc.History(24)
	if len(events) != 1 || events[0].SubnetID != 42 {
		t.Fatalf("events = %+v", events)
	}
	found := false
	for _, note := range f.notes {
		if strings.Contains(note.Message, "42") {
			found = true
		}
	}
	if !found {
		t.Fatal("no notification mentioned the new subnet")
	}
}

func TestCacheRefreshRequiresNonEmptyResult(t *testing.T) {
	f := newFixture(t)
	f.tick(t)
	if len(f.svc.opts.History.Cache()) != 1 {
		t.Fatalf("cache = %d records, want 1", len(f.svc.opts.History.Cache()))
	}

	// An empty fetch must not clobber the cache, and must retry.
	f.longTerm.records = nil
	f.clock = f.clock.Add(7 * time.Hour)
	f.tick(t)
	if len(f.svc.opts.History.Cache()) != 1 {
		t.Fatal("empty refresh replaced the cache")
	}
	f.longTerm.records = []storage.CacheRecord{
		{Timestamp: "2024-01-01T00:00:00Z", PriceRao: 100},
		{Timestamp: "2024-01-02T00:00:00Z", PriceRao: 200},
	}
	f.tick(t)
	if len(f.svc.opts.History.Cache()) != 2 {
		t.Fatalf("cache = %d records, want 2 after recovery", len(f.svc.opts.History.Cache()))
	}
}

func TestThresholdFirePersistsSettings(t *testing.T) {
	f := newFixture(t)
	settings := storage.DefaultSettings()
	settings.AlertThresholds = []*storage.AlertThreshold{
		{PriceTAO: decimal.NewFromInt(3), Type: storage.ThresholdBelow},
	}
	if err := f.svc.UpdateSettings(settings); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	f.files.settings = nil

	f.tick(t) // price 2.5 TAO, below 3: fires

	if len(f.notes) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notes))
	}
	if f.files.settings == nil {
		t.Fatal("triggered state was not persisted")
	}
	if !f.files.settings.AlertThresholds[0].Triggered {
		t.Fatal("persisted threshold is not latched")
	}
}

func TestNotifierMayReadServiceState(t *testing.T) {
	f := newFixture(t)
	settings := storage.DefaultSettings()
	settings.AlertThresholds = []*storage.AlertThreshold{
		{PriceTAO: decimal.NewFromInt(3), Type: storage.ThresholdBelow},
	}
	if err := f.svc.UpdateSettings(settings); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	// A slow channel (Telegram, osascript) may query the service while
	// delivering; the settings lock must not be held across that call.
	done := make(chan int, 1)
	f.svc.engine = alerting.NewEngine(alerting.NotifierFunc(func(context.Context, alerting.Notification) error {
		done <- len(f.svc.Settings().AlertThresholds)
		return nil
	}), zerolog.Nop())

	go func() { _ = f.svc.Tick(context.Background()) }()

	select {
	case n := <-done:
		if n != 1 {
			t.Fatalf("notifier read %d thresholds, want 1", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notifier blocked reading service state")
	}
}

func TestNotificationsDisabledMutesChannels(t *testing.T) {
	f := newFixture(t)
	settings := storage.DefaultSettings()
	settings.NotificationEnabled = false
	settings.AlertThresholds = []*storage.AlertThreshold{
		{PriceTAO: decimal.NewFromInt(3), Type: storage.ThresholdBelow},
	}
	if err := f.svc.UpdateSettings(settings); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	f.subnets.subnets = append(f.subnets.subnets, storage.Subnet{NetUID: 7})
	f.tick(t)

	if len(f.notes) != 0 {
		t.Fatalf("muted monitor sent %d notifications", len(f.notes))
	}
	// State still advances: the threshold latches silently.
	if !f.svc.Settings().AlertThresholds[0].Triggered {
		t.Fatal("threshold did not latch while muted")
	}
}

func TestSubnetRegistrationsPricing(t *testing.T) {
	f := newFixture(t)
	f.subnets.subnets = []storage.Subnet{
		{NetUID: 1, RegistrationCostRao: 2_500_000_000, RegistrationTimestamp: "2025-01-01T00:00:00Z"},
		{NetUID: 2, RegistrationCostRao: 0},
		{NetUID: 3, RegistrationCostRao: 1_000_000_000, RegistrationTimestamp: "2025-03-01T00:00:00Z"},
	}
	f.tick(t)

	regs := f.svc.SubnetRegistrations()
	if len(regs) != 2 {
		t.Fatalf("registrations = %d, want 2 (zero-cost skipped)", len(regs))
	}
	if regs[0].NetUID != 3 {
		t.Fatalf("first registration = netuid %d, want newest (3)", regs[0].NetUID)
	}
	if want := decimal.NewFromInt(1000); !regs[1].CostUSD.Equal(want) {
		t.Fatalf("cost_usd = %s, want %s", regs[1].CostUSD, want)
	}
}

func TestUpdateSettingsPropagatesAPIKey(t *testing.T) {
	f := newFixture(t)
	var gotKey string
	f.svc.opts.OnAPIKeyChange = func(k string) { gotKey = k }

	settings := storage.DefaultSettings()
	settings.APIKey = "fresh-key"
	if err := f.svc.UpdateSettings(settings); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if gotKey != "fresh-key" {
		t.Fatalf("OnAPIKeyChange got %q", gotKey)
	}
	if f.files.settings == nil || f.files.settings.APIKey != "fresh-key" {
		t.Fatal("settings not persisted")
	}
}

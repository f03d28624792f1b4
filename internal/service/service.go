// Package service orchestrates the refresh loop: fetching upstream
// data on its cadences, recording samples, evaluating alerts, and
// pushing events to subscribers.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"taowatcher/internal/alerting"
	"taowatcher/internal/fetcher"
	"taowatcher/internal/history"
	"taowatcher/internal/metrics"
	"taowatcher/internal/storage"
)

// Broadcaster pushes event frames to connected subscribers.
type Broadcaster interface {
	Broadcast(message []byte)
}

// SettingsPersister flushes the settings document.
type SettingsPersister interface {
	SaveSettings(settings *storage.Settings) error
}

// Options wire the service's collaborators.
type Options struct {
	Stats    fetcher.StatsFetcher
	Subnets  fetcher.SubnetsFetcher
	Rate     fetcher.RateFetcher
	LongTerm fetcher.HistoryFetcher

	History  *history.Store
	Files    SettingsPersister
	Archive  storage.SampleArchive
	Hub      Broadcaster
	Notifier alerting.Notifier
	Metrics  *metrics.Metrics

	Settings *storage.Settings

	USDRefreshInterval   time.Duration
	CacheRefreshInterval time.Duration
	RetentionHours       int

	// OnAPIKeyChange is invoked when a settings update carries a new
	// upstream API key.
	OnAPIKeyChange func(apiKey string)
}

// Service owns monitor state and the per-tick refresh pipeline.
//
// The three refresh cadences are independent: the registration cost and
// subnet list refresh every tick, the fiat rate and the long-range
// cache refresh when their intervals have elapsed since the last
// success. A failing source goes stale on its own; the others keep
// refreshing.
type Service struct {
	opts    Options
	engine  *alerting.Engine
	tracker subnetTracker
	logger  zerolog.Logger

	now func() time.Time

	// notifyOn mirrors settings.NotificationEnabled so the gated
	// notifier can consult it without touching the settings lock.
	notifyOn atomic.Bool

	mu        sync.RWMutex
	settings  *storage.Settings
	current   *storage.PriceSample
	usdRate   decimal.Decimal
	subnets   []storage.Subnet
	lastUSD   time.Time
	lastCache time.Time
}

type subnetTracker interface {
	Diff(current []int) []int
}

// New constructs the service. The notifier is gated on the
// notification_enabled setting; disabling notifications mutes every
// channel without tearing the channels down.
func New(opts Options, tracker subnetTracker, logger zerolog.Logger) *Service {
	s := &Service{
		opts:     opts,
		tracker:  tracker,
		logger:   logger.With().Str("component", "service").Logger(),
		now:      time.Now,
		settings: opts.Settings,
	}
	if s.settings == nil {
		s.settings = storage.DefaultSettings()
	}
	s.notifyOn.Store(s.settings.NotificationEnabled)

	gated := alerting.NotifierFunc(func(ctx context.Context, note alerting.Notification) error {
		if !s.notificationsEnabled() {
			return nil
		}
		return opts.Notifier.Notify(ctx, note)
	})
	s.engine = alerting.NewEngine(gated, logger)
	return s
}

// Tick runs one refresh cycle. Individual source failures are logged
// and counted, never returned; the scheduler should not treat a flaky
// upstream as fatal.
func (s *Service) Tick(ctx context.Context) error {
	s.maybeRefreshUSD(ctx)
	s.maybeRefreshCache(ctx)

	var (
		wg         sync.WaitGroup
		stats      fetcher.StatsSnapshot
		statsErr   error
		subnets    []storage.Subnet
		subnetsErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		stats, statsErr = s.opts.Stats.FetchStats(ctx)
	}()
	go func() {
		defer wg.Done()
		subnets, subnetsErr = s.opts.Subnets.FetchSubnets(ctx)
	}()
	wg.Wait()

	if statsErr != nil {
		s.logger.Error().Err(statsErr).Msg("failed to fetch network stats")
		s.opts.Metrics.FetchErrors.WithLabelValues("taostats").Inc()
	} else {
		s.recordSample(ctx, stats)
	}

	if subnetsErr != nil {
		s.logger.Error().Err(subnetsErr).Msg("failed to fetch subnet list")
		s.opts.Metrics.FetchErrors.WithLabelValues("subnets").Inc()
	} else {
		s.processSubnets(ctx, subnets)
	}

	s.opts.History.Trim(s.opts.RetentionHours)
	if err := s.opts.History.Persist(); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist history")
	}

	s.opts.Metrics.TicksTotal.Inc()
	return nil
}

// maybeRefreshUSD refreshes the TAO/USD rate when its interval has
// elapsed since the last successful refresh. Failures leave the stale
// rate in place and retry next tick.
func (s *Service) maybeRefreshUSD(ctx context.Context) {
	s.mu.RLock()
	due := s.lastUSD.IsZero() || s.now().Sub(s.lastUSD) >= s.opts.USDRefreshInterval
	s.mu.RUnlock()
	if !due {
		return
	}

	rate, err := s.opts.Rate.FetchUSDRate(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to refresh TAO/USD rate, keeping stale value")
		s.opts.Metrics.FetchErrors.WithLabelValues("coingecko").Inc()
		return
	}

	s.mu.Lock()
	s.usdRate = rate
	s.lastUSD = s.now()
	s.mu.Unlock()
	s.logger.Info().Str("rate", rate.String()).Msg("TAO/USD rate refreshed")
}

// maybeRefreshCache refreshes the long-range cache on its own cadence.
// The cache is replaced only on a successful, non-empty fetch.
func (s *Service) maybeRefreshCache(ctx context.Context) {
	s.mu.RLock()
	due := s.lastCache.IsZero() || s.now().Sub(s.lastCache) >= s.opts.CacheRefreshInterval
	s.mu.RUnlock()
	if !due {
		return
	}

	records, err := s.opts.LongTerm.FetchHistory(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to refresh long-range cache, keeping previous")
		s.opts.Metrics.FetchErrors.WithLabelValues("history").Inc()
		return
	}
	if len(records) == 0 {
		s.logger.Warn().Msg("long-range history returned no records, keeping previous cache")
		return
	}

	if err := s.opts.History.ReplaceCache(records); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist long-range cache")
	}
	s.mu.Lock()
	s.lastCache = s.now()
	s.mu.Unlock()
	s.logger.Info().Int("records", len(records)).Msg("long-range cache refreshed")
}

func (s *Service) recordSample(ctx context.Context, stats fetcher.StatsSnapshot) {
	priceTAO := decimal.New(stats.PriceRao, 0).
		Div(decimal.New(storage.RaoPerTAO, 0)).
		Round(6)

	s.mu.RLock()
	rate := s.usdRate
	s.mu.RUnlock()

	var priceUSD decimal.Decimal
	if rate.IsPositive() {
		priceUSD = priceTAO.Mul(rate).Round(4)
	}

	sample := storage.PriceSample{
		Timestamp:   storage.FormatTimestamp(s.now().UTC()),
		PriceRao:    stats.PriceRao,
		PriceTAO:    priceTAO,
		PriceUSD:    priceUSD,
		SubnetCount: stats.SubnetCount,
	}

	s.opts.History.Append(sample)
	s.opts.Metrics.SamplesTotal.Inc()

	s.mu.Lock()
	s.current = &sample
	s.mu.Unlock()

	if s.opts.Archive != nil {
		if err := s.opts.Archive.UpsertSample(ctx, sample); err != nil {
			s.logger.Error().Err(err).Msg("failed to archive sample")
		}
	}

	s.evaluateThresholds(ctx, priceTAO)
	s.broadcast("price_update", sample)

	s.logger.Info().
		Int64("price_rao", sample.PriceRao).
		Str("price_tao", sample.PriceTAO.String()).
		Int("subnet_count", sample.SubnetCount).
		Msg("sample recorded")
}

func (s *Service) evaluateThresholds(ctx context.Context, priceTAO decimal.Decimal) {
	// Evaluate mutates Triggered under the lock; notifier I/O happens
	// after release so a slow channel cannot stall readers.
	s.mu.Lock()
	transitions := s.engine.Evaluate(priceTAO, s.settings.AlertThresholds)
	settings := s.settings.Clone()
	s.mu.Unlock()

	if len(transitions) == 0 {
		return
	}
	s.engine.Announce(ctx, priceTAO, transitions)
	for _, tr := range transitions {
		if tr.Fired {
			s.opts.Metrics.AlertsFired.Inc()
		}
	}
	if err := s.opts.Files.SaveSettings(settings); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist threshold state")
	}
}

func (s *Service) processSubnets(ctx context.Context, subnets []storage.Subnet) {
	s.mu.Lock()
	s.subnets = subnets
	s.mu.Unlock()

	ids := make([]int, 0, len(subnets))
	for _, sn := range subnets {
		ids = append(ids, sn.NetUID)
	}

	for _, id := range s.tracker.Diff(ids) {
		event := storage.SubnetEvent{
			Timestamp: storage.FormatTimestamp(s.now().UTC()),
			SubnetID:  id,
			Event:     storage.EventNewSubnet,
		}
		s.opts.History.AppendEvent(event)
		s.broadcast("new_subnet", event)

		if s.opts.Archive != nil {
			if err := s.opts.Archive.InsertSubnetEvent(ctx, event); err != nil {
				s.logger.Error().Err(err).Int("netuid", id).Msg("failed to archive subnet event")
			}
		}

		note := alerting.Notification{
			Title:   "New Bittensor Subnet",
			Message: fmt.Sprintf("Subnet %d registered on the network", id),
		}
		if err := s.notifyGated(ctx, note); err != nil {
			s.logger.Error().Err(err).Int("netuid", id).Msg("failed to announce new subnet")
		}
		s.logger.Info().Int("netuid", id).Msg("new subnet detected")
	}
}

func (s *Service) notifyGated(ctx context.Context, note alerting.Notification) error {
	if !s.notificationsEnabled() {
		return nil
	}
	return s.opts.Notifier.Notify(ctx, note)
}

func (s *Service) notificationsEnabled() bool {
	return s.notifyOn.Load()
}

// broadcast marshals an event frame and fans it out.
func (s *Service) broadcast(eventType string, data any) {
	frame, err := json.Marshal(map[string]any{
		"type": eventType,
		"data": data,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("type", eventType).Msg("failed to marshal broadcast frame")
		return
	}
	s.opts.Hub.Broadcast(frame)
	s.opts.Metrics.EventsBroadcast.WithLabelValues(eventType).Inc()
}

package service

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"taowatcher/internal/ohlc"
	"taowatcher/internal/storage"
)

// Registration is one subnet's registration cost, priced in TAO and
// USD.
type Registration struct {
	NetUID                int             `json:"netuid"`
	Name                  string          `json:"name,omitempty"`
	CostTAO               decimal.Decimal `json:"cost_tao"`
	CostUSD               decimal.Decimal `json:"cost_usd"`
	RegistrationTimestamp string          `json:"registration_timestamp,omitempty"`
}

// Current returns the latest recorded sample, if any.
func (s *Service) Current() (storage.PriceSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return storage.PriceSample{}, false
	}
	return *s.current, true
}

// CurrentPayload builds the snapshot frame delivered to a subscriber
// on connect. Returns nil when no sample has been recorded yet.
func (s *Service) CurrentPayload() []byte {
	sample, ok := s.Current()
	if !ok {
		return nil
	}
	frame, err := json.Marshal(map[string]any{
		"type": "price_update",
		"data": sample,
	})
	if err != nil {
		return nil
	}
	return frame
}

// USDRate returns the last successfully fetched TAO/USD rate.
func (s *Service) USDRate() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usdRate
}

// History returns rolling samples and subnet events from the past
// hours.
func (s *Service) History(hours int) ([]storage.PriceSample, []storage.SubnetEvent) {
	cutoff := storage.FormatTimestamp(s.now().UTC().Add(-time.Duration(hours) * time.Hour))
	return s.opts.History.SamplesSince(cutoff), s.opts.History.EventsSince(cutoff)
}

// Candles aggregates price records into OHLC candles covering the past
// days. Long-range cache records fill the window before the rolling
// history begins; rolling samples cover the recent end.
func (s *Service) Candles(granularity string, days int) []ohlc.Candle {
	cutoff := storage.FormatTimestamp(s.now().UTC().AddDate(0, 0, -days))

	samples := s.opts.History.SamplesSince(cutoff)
	rollingStart := ""
	if len(samples) > 0 {
		rollingStart = samples[0].Timestamp
	}

	var records []ohlc.Record
	for _, rec := range s.opts.History.Cache() {
		if rec.Timestamp < cutoff {
			continue
		}
		if rollingStart != "" && rec.Timestamp >= rollingStart {
			continue
		}
		records = append(records, ohlc.Record{Timestamp: rec.Timestamp, Price: rec.PriceTAO})
	}
	for _, sample := range samples {
		records = append(records, ohlc.Record{Timestamp: sample.Timestamp, Price: sample.PriceTAO})
	}

	return ohlc.Aggregate(records, ohlc.GranularitySeconds(granularity))
}

// Subnets returns the most recently fetched subnet list.
func (s *Service) Subnets() []storage.Subnet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]storage.Subnet(nil), s.subnets...)
}

// SubnetRegistrations prices each subnet's registration cost and
// returns the list sorted newest registration first. Subnets with a
// non-positive cost are skipped.
func (s *Service) SubnetRegistrations() []Registration {
	s.mu.RLock()
	subnets := append([]storage.Subnet(nil), s.subnets...)
	rate := s.usdRate
	s.mu.RUnlock()

	out := make([]Registration, 0, len(subnets))
	for _, sn := range subnets {
		if sn.RegistrationCostRao <= 0 {
			continue
		}
		costTAO := decimal.New(sn.RegistrationCostRao, 0).
			Div(decimal.New(storage.RaoPerTAO, 0)).
			Round(6)
		var costUSD decimal.Decimal
		if rate.IsPositive() {
			costUSD = costTAO.Mul(rate).Round(2)
		}
		out = append(out, Registration{
			NetUID:                sn.NetUID,
			Name:                  sn.Name,
			CostTAO:               costTAO,
			CostUSD:               costUSD,
			RegistrationTimestamp: sn.RegistrationTimestamp,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RegistrationTimestamp > out[j].RegistrationTimestamp
	})
	return out
}

// Settings returns a copy of the current settings document.
func (s *Service) Settings() *storage.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Clone()
}

// UpdateSettings replaces the settings document wholesale, persists
// it, and propagates a changed API key to the upstream client.
func (s *Service) UpdateSettings(settings *storage.Settings) error {
	if settings.PollIntervalSeconds <= 0 {
		settings.PollIntervalSeconds = storage.DefaultSettings().PollIntervalSeconds
	}

	s.mu.Lock()
	previousKey := s.settings.APIKey
	s.settings = settings.Clone()
	s.mu.Unlock()
	s.notifyOn.Store(settings.NotificationEnabled)

	if err := s.opts.Files.SaveSettings(settings); err != nil {
		return err
	}
	if settings.APIKey != previousKey && s.opts.OnAPIKeyChange != nil {
		s.opts.OnAPIKeyChange(settings.APIKey)
	}
	s.logger.Info().
		Int("thresholds", len(settings.AlertThresholds)).
		Int("poll_interval_s", settings.PollIntervalSeconds).
		Msg("settings updated")
	return nil
}

// PollInterval reports the current tick period for the scheduler.
func (s *Service) PollInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.settings.PollIntervalSeconds) * time.Second
}

// Package history owns the rolling short-range record log and the
// long-range provider cache. The rolling history is dense (one sample
// per poll tick, bounded by a retention window); the cache is a coarse
// multi-year series replaced wholesale on each refresh.
package history

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"taowatcher/internal/storage"
)

// Persister is the document backend the store flushes to.
type Persister interface {
	LoadHistory() storage.HistoryDocument
	SaveHistory(doc storage.HistoryDocument) error
	LoadCache() []storage.CacheRecord
	SaveCache(records []storage.CacheRecord) error
}

// Store holds the rolling history and the long-range cache.
//
// The rolling document is guarded by a mutex because the read API
// serves it concurrently with orchestrator ticks. The cache is an
// atomic pointer: refreshes swap the whole slice, so readers never
// observe a partially-written cache.
type Store struct {
	logger zerolog.Logger
	files  Persister

	mu  sync.RWMutex
	doc storage.HistoryDocument

	cache atomic.Pointer[[]storage.CacheRecord]
}

// NewStore constructs an empty store backed by files.
func NewStore(files Persister, logger zerolog.Logger) *Store {
	s := &Store{
		logger: logger.With().Str("component", "history").Logger(),
		files:  files,
	}
	empty := []storage.CacheRecord{}
	s.cache.Store(&empty)
	return s
}

// Load restores both documents from disk. Missing or corrupt files
// leave the corresponding value empty; startup never fails here.
func (s *Store) Load() {
	doc := s.files.LoadHistory()
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()

	if records := s.files.LoadCache(); records != nil {
		s.cache.Store(&records)
	}
}

// Append adds a price sample to the rolling history.
func (s *Store) Append(sample storage.PriceSample) {
	s.mu.Lock()
	s.doc.PriceHistory = append(s.doc.PriceHistory, sample)
	s.mu.Unlock()
}

// AppendEvent adds a subnet event to the rolling history.
func (s *Store) AppendEvent(event storage.SubnetEvent) {
	s.mu.Lock()
	s.doc.NewSubnetEvents = append(s.doc.NewSubnetEvents, event)
	s.mu.Unlock()
}

// Trim drops entries strictly older than now − retentionHours and
// returns how many were removed. Comparison is lexicographic on the
// canonical timestamp form; an entry exactly at the cutoff is retained.
func (s *Store) Trim(retentionHours int) (samples, events int) {
	cutoff := storage.FormatTimestamp(time.Now().UTC().Add(-time.Duration(retentionHours) * time.Hour))

	s.mu.Lock()
	defer s.mu.Unlock()

	keptSamples := s.doc.PriceHistory[:0]
	for _, r := range s.doc.PriceHistory {
		if r.Timestamp >= cutoff {
			keptSamples = append(keptSamples, r)
		}
	}
	samples = len(s.doc.PriceHistory) - len(keptSamples)
	s.doc.PriceHistory = keptSamples

	keptEvents := s.doc.NewSubnetEvents[:0]
	for _, e := range s.doc.NewSubnetEvents {
		if e.Timestamp >= cutoff {
			keptEvents = append(keptEvents, e)
		}
	}
	events = len(s.doc.NewSubnetEvents) - len(keptEvents)
	s.doc.NewSubnetEvents = keptEvents

	if samples > 0 || events > 0 {
		s.logger.Info().
			Int("samples", samples).
			Int("events", events).
			Int("retention_hours", retentionHours).
			Msg("trimmed expired history entries")
	}
	return samples, events
}

// Persist flushes the rolling history document to disk.
func (s *Store) Persist() error {
	s.mu.RLock()
	doc := storage.HistoryDocument{
		PriceHistory:    append([]storage.PriceSample(nil), s.doc.PriceHistory...),
		NewSubnetEvents: append([]storage.SubnetEvent(nil), s.doc.NewSubnetEvents...),
	}
	s.mu.RUnlock()
	return s.files.SaveHistory(doc)
}

// SamplesSince returns samples with timestamp >= cutoff, in insertion
// order.
func (s *Store) SamplesSince(cutoff string) []storage.PriceSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.PriceSample, 0, len(s.doc.PriceHistory))
	for _, r := range s.doc.PriceHistory {
		if r.Timestamp >= cutoff {
			out = append(out, r)
		}
	}
	return out
}

// EventsSince returns subnet events with timestamp >= cutoff.
func (s *Store) EventsSince(cutoff string) []storage.SubnetEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.SubnetEvent, 0, len(s.doc.NewSubnetEvents))
	for _, e := range s.doc.NewSubnetEvents {
		if e.Timestamp >= cutoff {
			out = append(out, e)
		}
	}
	return out
}

// SampleCount returns the current rolling history size.
func (s *Store) SampleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.doc.PriceHistory)
}

// Cache returns the current long-range cache snapshot. The returned
// slice is never mutated; callers may iterate without copying.
func (s *Store) Cache() []storage.CacheRecord {
	return *s.cache.Load()
}

// ReplaceCache swaps in a freshly fetched long-range cache and persists
// it. The swap is atomic from the reader's perspective.
func (s *Store) ReplaceCache(records []storage.CacheRecord) error {
	s.cache.Store(&records)
	return s.files.SaveCache(records)
}

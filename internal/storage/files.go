package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

const (
	settingsFileName = "settings.json"
	historyFileName  = "history.json"
	cacheFileName    = "historical_cache.json"
)

// Files persists the three runtime documents (settings, rolling history,
// long-range cache) as independent JSON files under a data directory.
// Every save is a whole-document replace through a temp file + rename,
// so readers of the file never observe a partial write. Every load
// tolerates a missing or corrupt file by falling back to an empty value.
type Files struct {
	dir    string
	logger zerolog.Logger
}

// NewFiles constructs a document store rooted at dir.
func NewFiles(dir string, logger zerolog.Logger) *Files {
	return &Files{dir: dir, logger: logger.With().Str("component", "storage").Logger()}
}

// Dir returns the data directory.
func (f *Files) Dir() string { return f.dir }

// LoadSettings reads the settings document, returning defaults if the
// file is absent or unreadable.
func (f *Files) LoadSettings() *Settings {
	settings := DefaultSettings()
	if ok := f.readDocument(settingsFileName, settings); !ok {
		return DefaultSettings()
	}
	if settings.PollIntervalSeconds <= 0 {
		settings.PollIntervalSeconds = DefaultSettings().PollIntervalSeconds
	}
	if settings.AlertThresholds == nil {
		settings.AlertThresholds = []*AlertThreshold{}
	}
	return settings
}

// SaveSettings replaces the settings document.
func (f *Files) SaveSettings(settings *Settings) error {
	return f.writeDocument(settingsFileName, settings, true)
}

// LoadHistory reads the rolling history document, returning an empty
// document if the file is absent or unreadable.
func (f *Files) LoadHistory() HistoryDocument {
	var doc HistoryDocument
	if ok := f.readDocument(historyFileName, &doc); !ok {
		return HistoryDocument{}
	}
	f.logger.Info().
		Int("samples", len(doc.PriceHistory)).
		Int("events", len(doc.NewSubnetEvents)).
		Msg("rolling history loaded")
	return doc
}

// SaveHistory replaces the rolling history document.
func (f *Files) SaveHistory(doc HistoryDocument) error {
	return f.writeDocument(historyFileName, doc, true)
}

// LoadCache reads the long-range cache, returning nil if the file is
// absent or unreadable.
func (f *Files) LoadCache() []CacheRecord {
	var records []CacheRecord
	if ok := f.readDocument(cacheFileName, &records); !ok {
		return nil
	}
	f.logger.Info().Int("records", len(records)).Msg("long-range cache loaded")
	return records
}

// SaveCache replaces the long-range cache document.
func (f *Files) SaveCache(records []CacheRecord) error {
	return f.writeDocument(cacheFileName, records, false)
}

// readDocument decodes a JSON file into v. Returns false when the file
// is missing or corrupt; corruption is logged, never fatal.
func (f *Files) readDocument(name string, v any) bool {
	path := filepath.Join(f.dir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn().Err(err).Str("file", name).Msg("read document failed, using empty value")
		}
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		f.logger.Warn().Err(err).Str("file", name).Msg("corrupt document, using empty value")
		return false
	}
	return true
}

// writeDocument atomically replaces a JSON file. Settings and history
// are indented for hand inspection; the cache is compact.
func (f *Files) writeDocument(name string, v any, indent bool) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	var (
		raw []byte
		err error
	)
	if indent {
		raw, err = json.MarshalIndent(v, "", "  ")
	} else {
		raw, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	raw = append(raw, '\n')

	tmp, err := os.CreateTemp(f.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", name, err)
	}

	if err := os.Rename(tmpPath, filepath.Join(f.dir, name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// RaoPerTAO is the conversion factor between the chain's smallest unit
// (rao) and whole TAO.
const RaoPerTAO = 1_000_000_000

// TimestampLayout is the canonical timestamp format for every
// locally-generated and persisted timestamp: RFC3339 in UTC, second
// precision, "Z" suffix. Retention and window filtering compare these
// strings lexicographically, which is only valid while every stored
// timestamp uses this exact shape.
const TimestampLayout = "2006-01-02T15:04:05Z"

// FormatTimestamp renders t in the canonical persisted form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a stored or provider timestamp. It accepts the
// canonical form as well as provider variants (fractional seconds,
// "+00:00" offsets).
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// NormalizeTimestamp rewrites a provider timestamp into the canonical
// form. Returns the input unchanged if it cannot be parsed.
func NormalizeTimestamp(s string) string {
	t, err := ParseTimestamp(s)
	if err != nil {
		return s
	}
	return FormatTimestamp(t)
}

// PriceSample is one observed registration cost. Immutable once created;
// the rolling history is append-only.
type PriceSample struct {
	Timestamp   string          `json:"timestamp"`
	PriceRao    int64           `json:"price_rao"`
	PriceTAO    decimal.Decimal `json:"price_tao"`
	PriceUSD    decimal.Decimal `json:"price_usd"`
	SubnetCount int             `json:"subnet_count"`
}

// SubnetEvent records the detection of a newly listed subnet.
type SubnetEvent struct {
	Timestamp string `json:"timestamp"`
	SubnetID  int    `json:"subnet_id"`
	Event     string `json:"event"`
}

// EventNewSubnet is the only event kind currently emitted.
const EventNewSubnet = "new_subnet_detected"

// HistoryDocument is the persisted shape of the rolling history file.
type HistoryDocument struct {
	PriceHistory    []PriceSample `json:"price_history"`
	NewSubnetEvents []SubnetEvent `json:"new_subnet_events"`
}

// CacheRecord is one coarse provider-supplied historical observation.
// The long-range cache is an ascending-by-timestamp list of these,
// replaced wholesale on each refresh.
type CacheRecord struct {
	Timestamp string          `json:"timestamp"`
	PriceRao  int64           `json:"price_rao"`
	PriceTAO  decimal.Decimal `json:"price_tao"`
}

// AlertThreshold is a user-configured price boundary. Triggered is the
// only mutable field; it carries hysteresis state across restarts.
type AlertThreshold struct {
	PriceTAO  decimal.Decimal `json:"price_tao"`
	Type      string          `json:"type"` // "below" | "above"
	Triggered bool            `json:"triggered"`
	Label     string          `json:"label"`
}

const (
	ThresholdBelow = "below"
	ThresholdAbove = "above"
)

// Settings is the runtime-mutable configuration document. Distinct from
// the bootstrap config: this one is owned by the service, editable over
// the API, and persisted so hysteresis state survives restarts.
type Settings struct {
	APIKey              string            `json:"api_key"`
	AlertThresholds     []*AlertThreshold `json:"alert_thresholds"`
	PollIntervalSeconds int               `json:"poll_interval_seconds"`
	NotificationEnabled bool              `json:"notification_enabled"`
}

// DefaultSettings returns the settings used when no document exists.
func DefaultSettings() *Settings {
	return &Settings{
		AlertThresholds:     []*AlertThreshold{},
		PollIntervalSeconds: 30,
		NotificationEnabled: true,
	}
}

// Clone returns a deep copy so API handlers can hand settings out
// without exposing the live threshold pointers.
func (s *Settings) Clone() *Settings {
	cp := *s
	cp.AlertThresholds = make([]*AlertThreshold, len(s.AlertThresholds))
	for i, th := range s.AlertThresholds {
		c := *th
		cp.AlertThresholds[i] = &c
	}
	return &cp
}

// Subnet is one entry from the provider's subnet listing.
type Subnet struct {
	NetUID                int    `json:"netuid"`
	Name                  string `json:"name,omitempty"`
	RegistrationCostRao   int64  `json:"registration_cost"`
	RegistrationTimestamp string `json:"registration_timestamp,omitempty"`
}

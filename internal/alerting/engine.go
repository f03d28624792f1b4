package alerting

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"taowatcher/internal/storage"
)

// Transition records one threshold changing state during an Evaluate
// pass. Fired is true when the threshold armed and fired, false when a
// previously fired threshold reset.
type Transition struct {
	Threshold *storage.AlertThreshold
	Fired     bool
}

// Engine evaluates alert thresholds against the latest price.
//
// Alerts are edge-triggered with hysteresis: a threshold fires once
// when the price crosses it, then stays latched until the price moves
// back across, at which point it silently re-arms. A price sitting on
// the wrong side of a fired threshold for hours produces exactly one
// notification.
type Engine struct {
	notifier Notifier
	logger   zerolog.Logger
}

func NewEngine(notifier Notifier, logger zerolog.Logger) *Engine {
	return &Engine{
		notifier: notifier,
		logger:   logger.With().Str("component", "alert_engine").Logger(),
	}
}

// Evaluate runs every threshold against price, mutating Triggered in
// place. The returned transitions tell the caller whether the settings
// document changed and needs persisting. Evaluate performs no I/O, so
// callers may hold locks across it; notifications are sent by a
// separate Announce pass.
func (e *Engine) Evaluate(price decimal.Decimal, thresholds []*storage.AlertThreshold) []Transition {
	var transitions []Transition
	for _, th := range thresholds {
		crossed := false
		switch th.Type {
		case storage.ThresholdBelow:
			crossed = price.LessThanOrEqual(th.PriceTAO)
		case storage.ThresholdAbove:
			crossed = price.GreaterThanOrEqual(th.PriceTAO)
		default:
			e.logger.Warn().Str("type", th.Type).Msg("未知的阈值类型, 已跳过")
			continue
		}

		switch {
		case crossed && !th.Triggered:
			th.Triggered = true
			transitions = append(transitions, Transition{Threshold: th, Fired: true})
		case !crossed && th.Triggered:
			th.Triggered = false
			transitions = append(transitions, Transition{Threshold: th, Fired: false})
			e.logger.Info().
				Str("threshold", th.PriceTAO.String()).
				Str("type", th.Type).
				Msg("threshold re-armed")
		}
	}
	return transitions
}

// Announce sends one notification per fired transition. Notification
// failures are logged, not returned; a dead channel must not stall the
// evaluation loop, and the threshold stays latched either way.
func (e *Engine) Announce(ctx context.Context, price decimal.Decimal, transitions []Transition) {
	for _, tr := range transitions {
		if tr.Fired {
			e.notify(ctx, price, tr.Threshold)
		}
	}
}

func (e *Engine) notify(ctx context.Context, price decimal.Decimal, th *storage.AlertThreshold) {
	direction := "below"
	if th.Type == storage.ThresholdAbove {
		direction = "above"
	}
	title := "TAO Registration Cost Alert"
	if th.Label != "" {
		title = fmt.Sprintf("%s (%s)", title, th.Label)
	}
	message := fmt.Sprintf("Registration cost %s TAO crossed %s threshold %s TAO",
		price.Round(6), direction, th.PriceTAO)

	if err := e.notifier.Notify(ctx, Notification{Title: title, Message: message}); err != nil {
		e.logger.Error().Err(err).
			Str("threshold", th.PriceTAO.String()).
			Msg("发送告警失败")
		return
	}
	e.logger.Info().
		Str("price", price.String()).
		Str("threshold", th.PriceTAO.String()).
		Str("type", th.Type).
		Msg("threshold fired")
}

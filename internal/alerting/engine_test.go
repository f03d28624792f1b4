package alerting

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"taowatcher/internal/storage"
)

type captureNotifier struct {
	notes []Notification
}

func (c *captureNotifier) Notify(_ context.Context, note Notification) error {
	c.notes = append(c.notes, note)
	return nil
}

func TestEvaluateHysteresisCycle(t *testing.T) {
	capture := &captureNotifier{}
	engine := NewEngine(capture, zerolog.Nop())
	th := &storage.AlertThreshold{
		PriceTAO: decimal.NewFromInt(5),
		Type:     storage.ThresholdBelow,
	}
	thresholds := []*storage.AlertThreshold{th}

	type step struct {
		price     int64
		changed   bool
		triggered bool
	}
	steps := []step{
		{6, false, false}, // above threshold, armed
		{5, true, true},   // crosses: fires
		{4, false, true},  // still below: latched, silent
		{6, true, false},  // back above: re-arms silently
		{4, true, true},   // crosses again: fires again
	}

	for i, s := range steps {
		transitions := engine.Evaluate(decimal.NewFromInt(s.price), thresholds)
		engine.Announce(context.Background(), decimal.NewFromInt(s.price), transitions)
		if (len(transitions) > 0) != s.changed {
			t.Fatalf("step %d (price=%d): changed=%v, want %v", i, s.price, len(transitions) > 0, s.changed)
		}
		if th.Triggered != s.triggered {
			t.Fatalf("step %d (price=%d): triggered=%v, want %v", i, s.price, th.Triggered, s.triggered)
		}
	}

	if len(capture.notes) != 2 {
		t.Fatalf("应发送 2 条告警, 实际 %d", len(capture.notes))
	}
}

func TestEvaluateAboveThreshold(t *testing.T) {
	capture := &captureNotifier{}
	engine := NewEngine(capture, zerolog.Nop())
	th := &storage.AlertThreshold{
		PriceTAO: decimal.NewFromInt(100),
		Type:     storage.ThresholdAbove,
	}

	transitions := engine.Evaluate(decimal.NewFromInt(99), []*storage.AlertThreshold{th})
	engine.Announce(context.Background(), decimal.NewFromInt(99), transitions)
	if th.Triggered {
		t.Fatal("price below an above-threshold must not fire")
	}

	transitions = engine.Evaluate(decimal.NewFromInt(100), []*storage.AlertThreshold{th})
	engine.Announce(context.Background(), decimal.NewFromInt(100), transitions)
	if !th.Triggered {
		t.Fatal("price at an above-threshold must fire")
	}
	if len(capture.notes) != 1 {
		t.Fatalf("应发送 1 条告警, 实际 %d", len(capture.notes))
	}
}

func TestEvaluateSkipsUnknownType(t *testing.T) {
	engine := NewEngine(&captureNotifier{}, zerolog.Nop())
	th := &storage.AlertThreshold{
		PriceTAO: decimal.NewFromInt(5),
		Type:     "sideways",
	}

	transitions := engine.Evaluate(decimal.NewFromInt(1), []*storage.AlertThreshold{th})
	if len(transitions) != 0 || th.Triggered {
		t.Fatalf("unknown type must be ignored: transitions=%d triggered=%v", len(transitions), th.Triggered)
	}
}

func TestEvaluateNotifierFailureDoesNotRevertState(t *testing.T) {
	engine := NewEngine(NotifierFunc(func(context.Context, Notification) error {
		return context.DeadlineExceeded
	}), zerolog.Nop())
	th := &storage.AlertThreshold{
		PriceTAO: decimal.NewFromInt(5),
		Type:     storage.ThresholdBelow,
	}

	transitions := engine.Evaluate(decimal.NewFromInt(3), []*storage.AlertThreshold{th})
	if len(transitions) != 1 || !th.Triggered {
		t.Fatal("threshold must latch before announcement")
	}
	engine.Announce(context.Background(), decimal.NewFromInt(3), transitions)
	if !th.Triggered {
		t.Fatal("threshold must stay latched when the notifier fails")
	}
}

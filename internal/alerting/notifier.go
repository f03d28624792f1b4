package alerting

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Notification 封装告警上下文。
type Notification struct {
	Title   string
	Message string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// NotifierFunc 让普通函数充当 Notifier。
type NotifierFunc func(ctx context.Context, notification Notification) error

func (f NotifierFunc) Notify(ctx context.Context, notification Notification) error {
	return f(ctx, notification)
}

// LogNotifier writes notifications to the structured log. It is the
// fallback channel when no external notifier is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().Str("title", note.Title).Msg(note.Message)
	return nil
}

// MultiNotifier fans a notification out to every configured channel and
// joins the failures, so one broken channel never silences the rest.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (n *MultiNotifier) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, notifier := range n.notifiers {
		if err := notifier.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Notifier = (NotifierFunc)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*MultiNotifier)(nil)
)

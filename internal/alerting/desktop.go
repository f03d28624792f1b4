package alerting

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

// DesktopNotifier shows a native desktop notification. Only macOS is
// supported; on other platforms Notify is a logged no-op so the
// channel can stay enabled in shared configs.
type DesktopNotifier struct {
	logger zerolog.Logger
}

func NewDesktopNotifier(logger zerolog.Logger) *DesktopNotifier {
	return &DesktopNotifier{logger: logger.With().Str("component", "alert_desktop").Logger()}
}

func (n *DesktopNotifier) Notify(ctx context.Context, note Notification) error {
	if runtime.GOOS != "darwin" {
		n.logger.Debug().Str("os", runtime.GOOS).Msg("desktop notifications unsupported, skipping")
		return nil
	}

	script := fmt.Sprintf("display notification %q with title %q", note.Message, note.Title)
	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

var _ Notifier = (*DesktopNotifier)(nil)

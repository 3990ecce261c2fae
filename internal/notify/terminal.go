package notify

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"papertrader/internal/models"
)

// TerminalNotifier prints colored alerts.
type TerminalNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTerminalNotifier writes to out.
func NewTerminalNotifier(out io.Writer) *TerminalNotifier {
	return &TerminalNotifier{out: out}
}

// Name returns the name of the notifier.
func (t *TerminalNotifier) Name() string { return "terminal" }

// Send implements Channel.
func (t *TerminalNotifier) Send(_ context.Context, entry models.ActivityEntry) error {
	var c *color.Color
	var tag string
	switch entry.Level {
	case models.LevelError:
		c, tag = color.New(color.FgRed, color.Bold), "ERROR"
	case models.LevelWarning:
		c, tag = color.New(color.FgYellow, color.Bold), "WARN"
	case models.LevelSuccess:
		c, tag = color.New(color.FgGreen), "OK"
	default:
		c, tag = color.New(color.FgCyan), "INFO"
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.out, "%s %s %s\n",
		entry.Timestamp.Format("15:04:05"),
		c.Sprintf("[%s]", tag),
		entry.Message,
	)
	return err
}

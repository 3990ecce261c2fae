// Package notify delivers warning and error activity outside the process.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"papertrader/internal/models"
	"papertrader/internal/worker"
)

// Channel is one delivery target.
type Channel interface {
	Name() string
	Send(ctx context.Context, entry models.ActivityEntry) error
}

var levelRank = map[models.LogLevel]int{
	models.LevelInfo:    0,
	models.LevelSuccess: 1,
	models.LevelWarning: 2,
	models.LevelError:   3,
}

// MultiNotifier fans entries at or above a minimum level out to every
// channel. Delivery happens on a single background worker so a slow
// webhook never stalls the caller; entries are dropped when the queue is
// full.
type MultiNotifier struct {
	channels []Channel
	minLevel models.LogLevel
	timeout  time.Duration
	pool     *worker.Pool
	logger   zerolog.Logger
}

// NewMultiNotifier creates a notifier. An empty minLevel means warning.
func NewMultiNotifier(minLevel models.LogLevel, timeout time.Duration, logger zerolog.Logger, channels ...Channel) *MultiNotifier {
	if minLevel == "" {
		minLevel = models.LevelWarning
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pool := worker.NewPool(1, 64)
	pool.Start()
	return &MultiNotifier{
		channels: channels,
		minLevel: minLevel,
		timeout:  timeout,
		pool:     pool,
		logger:   logger.With().Str("component", "notify").Logger(),
	}
}

// Len returns the number of channels.
func (mn *MultiNotifier) Len() int { return len(mn.channels) }

func (mn *MultiNotifier) shouldSend(level models.LogLevel) bool {
	return levelRank[level] >= levelRank[mn.minLevel]
}

// Notify queues entry for delivery. It only fails when the queue is full.
func (mn *MultiNotifier) Notify(_ context.Context, entry models.ActivityEntry) error {
	if len(mn.channels) == 0 || !mn.shouldSend(entry.Level) {
		return nil
	}
	if !mn.pool.Submit(func() { mn.deliver(entry) }) {
		return fmt.Errorf("notification queue full, dropped %q", entry.Message)
	}
	return nil
}

func (mn *MultiNotifier) deliver(entry models.ActivityEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), mn.timeout)
	defer cancel()

	if err := mn.Send(ctx, entry); err != nil {
		mn.logger.Warn().Err(err).Msg("Notification delivery failed")
	}
}

// Send delivers entry to every channel synchronously.
func (mn *MultiNotifier) Send(ctx context.Context, entry models.ActivityEntry) error {
	var errs []string
	for _, ch := range mn.channels {
		if err := ch.Send(ctx, entry); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Close waits for queued deliveries.
func (mn *MultiNotifier) Close() {
	mn.pool.Stop()
}

// WebhookNotifier POSTs entries as JSON.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

type webhookPayload struct {
	Type      string `json:"type"`
	Level     string `json:"level"`
	AgentID   string `json:"agentId,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NewWebhookNotifier creates a webhook channel.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("User-Agent", "PaperTrader/1.0")
	return &WebhookNotifier{client: client, url: url}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string { return "webhook" }

// Send implements Channel.
func (w *WebhookNotifier) Send(ctx context.Context, entry models.ActivityEntry) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(webhookPayload{
			Type:      "activity",
			Level:     string(entry.Level),
			AgentID:   entry.AgentID,
			Message:   entry.Message,
			Timestamp: entry.Timestamp.UTC().Format(time.RFC3339),
		}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}

// Package notify posts stage completions to a webhook.
// It uses github.com/hashicorp/go-retryablehttp for delivery with backoff.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rescale/ventsim/internal/constants"
	"github.com/rescale/ventsim/internal/events"
	"github.com/rescale/ventsim/internal/logging"
	"github.com/rescale/ventsim/internal/version"
)

// Config holds webhook configuration.
type Config struct {
	// WebhookURL receives a JSON POST per finished stage run.
	WebhookURL string

	// Timeout bounds each delivery attempt.
	Timeout time.Duration

	// RetryMax, RetryWaitMin and RetryWaitMax tune redelivery on 5xx
	// responses and connection errors. Zero values use the defaults.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// DefaultConfig returns the default webhook configuration for url.
func DefaultConfig(url string) Config {
	return Config{
		WebhookURL:   url,
		Timeout:      constants.WebhookTimeout,
		RetryMax:     constants.MaxRetries,
		RetryWaitMin: constants.RetryInitialDelay,
		RetryWaitMax: constants.RetryMaxDelay,
	}
}

// Payload is the JSON body posted for a finished stage run.
type Payload struct {
	Case            string    `json:"case,omitempty"`
	Stage           string    `json:"stage"`
	RunID           string    `json:"runId"`
	Status          string    `json:"status"`
	Progress        int       `json:"progress"`
	DurationSeconds float64   `json:"durationSeconds"`
	Error           string    `json:"error,omitempty"`
	FinishedAt      time.Time `json:"finishedAt"`
}

// retryLogger routes retryablehttp's leveled logging into zerolog.
type retryLogger struct {
	logger *logging.Logger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// Notifier delivers completion webhooks.
type Notifier struct {
	url      string
	caseName string
	client   *retryablehttp.Client
	logger   *logging.Logger

	mu      sync.RWMutex
	enabled bool
}

// NewNotifier creates a notifier for cfg. caseName is included in every payload.
func NewNotifier(cfg Config, caseName string, logger *logging.Logger) (*Notifier, error) {
	u, err := url.Parse(cfg.WebhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", cfg.WebhookURL)
	}
	defaults := DefaultConfig(cfg.WebhookURL)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = defaults.RetryMax
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = defaults.RetryWaitMin
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = defaults.RetryWaitMax
	}

	logger = logging.OrNop(logger).Component("notify")

	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = cfg.Timeout
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = cfg.RetryWaitMin
	client.RetryWaitMax = cfg.RetryWaitMax
	client.Logger = retryLogger{logger: logger}

	return &Notifier{
		url:      cfg.WebhookURL,
		caseName: caseName,
		client:   client,
		logger:   logger,
		enabled:  true,
	}, nil
}

// SetEnabled enables or disables delivery.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// IsEnabled returns whether delivery is enabled.
func (n *Notifier) IsEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled
}

// NewPayload builds the webhook body for a completion event.
func (n *Notifier) NewPayload(e *events.CompleteEvent) Payload {
	status := "succeeded"
	if !e.Succeeded {
		status = "failed"
	}
	return Payload{
		Case:            n.caseName,
		Stage:           e.Stage,
		RunID:           e.RunID,
		Status:          status,
		Progress:        e.Progress,
		DurationSeconds: e.Duration.Seconds(),
		Error:           truncate(e.Error, 500),
		FinishedAt:      e.Timestamp(),
	}
}

// StageComplete posts the payload for e. A disabled notifier does nothing.
func (n *Notifier) StageComplete(ctx context.Context, e *events.CompleteEvent) error {
	if !n.IsEnabled() {
		return nil
	}

	body, err := json.Marshal(n.NewPayload(e))
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ventsim/"+version.Version)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	n.logger.Debug().Str("stage", e.Stage).Str("run_id", e.RunID).Msg("Webhook delivered")
	return nil
}

// Run delivers a webhook for every completion published on bus until ctx is
// done or the bus is closed. Delivery failures are logged, not returned.
func (n *Notifier) Run(ctx context.Context, bus *events.EventBus) {
	ch := bus.Subscribe(events.EventComplete)
	defer bus.Unsubscribe(events.EventComplete, ch)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			complete, ok := evt.(*events.CompleteEvent)
			if !ok {
				continue
			}
			if err := n.StageComplete(ctx, complete); err != nil {
				n.logger.Warn().Err(err).Str("stage", complete.Stage).Msg("Failed to send completion webhook")
			}
		}
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

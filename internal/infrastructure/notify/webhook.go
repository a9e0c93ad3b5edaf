package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/notification"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/pkg/circuitbreaker"
	"github.com/alem-hub/streak-engine/pkg/logger"
	"github.com/alem-hub/streak-engine/pkg/retry"
)

// WebhookConfig configures a WebhookNotifier.
type WebhookConfig struct {
	// URL receives a JSON POST per notification.
	URL string

	// Timeout bounds one HTTP attempt.
	Timeout time.Duration

	// MaxAttempts per notification, including the first one.
	MaxAttempts int

	// BreakerThreshold is the number of consecutive failed deliveries
	// that opens the circuit.
	BreakerThreshold int

	// BreakerCoolDown is how long the circuit stays open.
	BreakerCoolDown time.Duration

	Logger *logger.Logger
}

// DefaultWebhookConfig returns defaults for url.
func DefaultWebhookConfig(url string) WebhookConfig {
	return WebhookConfig{
		URL:              url,
		Timeout:          5 * time.Second,
		MaxAttempts:      3,
		BreakerThreshold: 5,
		BreakerCoolDown:  30 * time.Second,
	}
}

// WebhookNotifier posts notifications to an HTTP endpoint.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	retrier    *retry.Retrier
	breaker    *circuitbreaker.Breaker
	logger     *logger.Logger
}

var _ notification.Notifier = (*WebhookNotifier)(nil)

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	def := DefaultWebhookConfig(cfg.URL)
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = def.BreakerThreshold
	}
	if cfg.BreakerCoolDown <= 0 {
		cfg.BreakerCoolDown = def.BreakerCoolDown
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("webhook_notifier"))

	return &WebhookNotifier{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retrier:    retry.WebhookRetrier(cfg.MaxAttempts),
		breaker: circuitbreaker.WebhookBreaker(cfg.BreakerThreshold, cfg.BreakerCoolDown, func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
		logger: log,
	}
}

// webhookPayload is the JSON body posted to the endpoint.
type webhookPayload struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	UserID    string            `json:"user_id"`
	Priority  string            `json:"priority"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Notify posts n. Server errors and timeouts are retried; client errors are not.
// An open circuit fails fast.
func (w *WebhookNotifier) Notify(ctx context.Context, n *notification.Notification) error {
	body, err := json.Marshal(webhookPayload{
		ID:        n.ID,
		Type:      string(n.Type),
		UserID:    n.UserID.String(),
		Priority:  n.Priority.String(),
		Title:     n.Title,
		Message:   n.Message,
		Metadata:  n.Metadata,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	err = w.breaker.Execute(ctx, func(ctx context.Context) error {
		return w.retrier.Do(ctx, func(ctx context.Context) error {
			return w.post(ctx, body)
		})
	})
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrNotificationFailed, err)
	}
	return nil
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return retry.Retryable(&StatusError{Code: resp.StatusCode})
	default:
		return &StatusError{Code: resp.StatusCode}
	}
}

// StatusError is a non-2xx webhook response.
type StatusError struct {
	Code int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.Code)
}

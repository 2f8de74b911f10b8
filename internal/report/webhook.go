package report

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"

	"github.com/dashcache/dashcache/internal/circuit"
	"github.com/dashcache/dashcache/pkg/errors"
	"github.com/dashcache/dashcache/pkg/retry"
	"github.com/dashcache/dashcache/pkg/utils"
)

var validate = validator.New()

// WebhookConfig configures report delivery over HTTP
type WebhookConfig struct {
	URL     string            `yaml:"url" validate:"required,url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
	Retry   retry.Config      `yaml:"retry"`

	// Breaker pauses deliveries after repeated failed notifications. Client
	// errors other than 429 do not count against it.
	Breaker circuit.Config `yaml:"breaker"`

	Logger *utils.StructuredLogger `yaml:"-"`
}

// WebhookNotifier POSTs each report as JSON. Network failures, 429 and 5xx
// responses are retried with backoff; other 4xx responses are not. Once
// enough notifications fail outright, deliveries are skipped until the
// breaker's cooldown passes.
type WebhookNotifier struct {
	url     string
	client  *resty.Client
	retryer *retry.Retryer
	breaker *circuit.Breaker
	logger  *utils.StructuredLogger
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(config WebhookConfig) (*WebhookNotifier, error) {
	if err := validate.Struct(config); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigValidation, "invalid webhook config").
			WithComponent("report-webhook")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	logger = logger.WithComponent("report-webhook")

	client := resty.New().
		SetTimeout(config.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "dashcache-reporter")
	for k, v := range config.Headers {
		client.SetHeader(k, v)
	}

	n := &WebhookNotifier{
		url:    config.URL,
		client: client,
		logger: logger,
	}
	n.retryer = retry.New(config.Retry).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		logger.Warn("report delivery failed, retrying", map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
	})

	breaker := config.Breaker
	breaker.IsSuccessful = func(err error) bool {
		return err == nil || !n.retryer.Retryable(err)
	}
	breaker.OnStateChange = func(name string, from, to circuit.State) {
		fields := map[string]interface{}{"url": n.url, "from": from.String(), "to": to.String()}
		if to == circuit.StateOpen {
			logger.Error("report deliveries paused", fields)
			return
		}
		logger.Info("report delivery breaker changed", fields)
	}
	n.breaker = circuit.New("webhook", breaker)
	return n, nil
}

// Name implements Notifier.
func (n *WebhookNotifier) Name() string {
	return "webhook"
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, r *Report) error {
	return n.breaker.Execute(ctx, func(ctx context.Context) error {
		return n.retryer.Do(ctx, func(ctx context.Context) error {
			return n.post(ctx, r)
		})
	})
}

// BreakerState returns the state of the delivery breaker.
func (n *WebhookNotifier) BreakerState() circuit.State {
	return n.breaker.State()
}

// Stats returns delivery counters.
func (n *WebhookNotifier) Stats() retry.Stats {
	return n.retryer.Stats()
}

func (n *WebhookNotifier) post(ctx context.Context, r *Report) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(r).
		Post(n.url)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDeliveryFailed, "report webhook unreachable").
			WithComponent("report-webhook").
			WithContext("url", n.url)
	}
	if !resp.IsError() {
		n.logger.Debug("report delivered", map[string]interface{}{
			"report":  r.ID,
			"status":  resp.StatusCode(),
			"elapsed": resp.Time().String(),
		})
		return nil
	}

	de := errors.NewError(errors.ErrCodeDeliveryFailed,
		fmt.Sprintf("report webhook returned %s", resp.Status())).
		WithComponent("report-webhook").
		WithContext("url", n.url).
		WithDetail("status_code", resp.StatusCode())
	de.Retryable = retryableStatus(resp.StatusCode())
	return de
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

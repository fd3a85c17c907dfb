// File: internal/relay/webhook.go
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/smartdevs17/solana-mint-listener/internal/models"
	"github.com/smartdevs17/solana-mint-listener/pkg/utils"
)

const maxRetryDelay = 30 * time.Second

// WebhookConfig configures the webhook sink
type WebhookConfig struct {
	URL           string            `json:"url"`
	Headers       map[string]string `json:"headers"`
	Timeout       time.Duration     `json:"timeout"`
	RetryAttempts int               `json:"retry_attempts"`
	RetryDelay    time.Duration     `json:"retry_delay"`
}

// WebhookPayload defines the webhook payload structure
type WebhookPayload struct {
	Timestamp time.Time                `json:"timestamp"`
	Source    string                   `json:"source"`
	Type      string                   `json:"type"`
	Data      models.EnrichedMintEvent `json:"data"`
	Version   string                   `json:"version"`
}

// WebhookSink POSTs every event to a URL, retrying with exponential backoff
type WebhookSink struct {
	config *WebhookConfig
	client *fasthttp.Client
	logger *logrus.Entry
}

// NewWebhookSink creates a webhook sink
func NewWebhookSink(config *WebhookConfig) (*WebhookSink, error) {
	if config.URL == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Webhook URL is required")
	}
	if _, err := url.ParseRequestURI(config.URL); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid webhook URL", err.Error())
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	if config.Headers == nil {
		config.Headers = make(map[string]string)
	}

	return &WebhookSink{
		config: config,
		client: &fasthttp.Client{
			Name:                "solana-mint-listener/1.0",
			MaxConnsPerHost:     16,
			MaxIdleConnDuration: 30 * time.Second,
		},
		logger: utils.ComponentLogger("webhook_sink").WithField("url", config.URL),
	}, nil
}

func (ws *WebhookSink) Name() string { return "webhook" }

// Deliver sends evt, retrying failed attempts until RetryAttempts is exhausted
func (ws *WebhookSink) Deliver(ctx context.Context, evt models.EnrichedMintEvent) error {
	body, err := json.Marshal(&WebhookPayload{
		Timestamp: time.Now(),
		Source:    "solana-mint-listener",
		Type:      "mint_created",
		Data:      evt,
		Version:   "1.0",
	})
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal webhook payload", err.Error())
	}

	var lastErr error
	for attempt := 1; attempt <= ws.config.RetryAttempts; attempt++ {
		if attempt > 1 {
			delay := ws.retryDelay(attempt)
			ws.logger.WithFields(logrus.Fields{
				"attempt":      attempt,
				"max_attempts": ws.config.RetryAttempts,
				"delay":        delay,
			}).Warn("Webhook attempt failed, retrying")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if lastErr = ws.send(ctx, body); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (ws *WebhookSink) send(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseResponse(resp)
		fasthttp.ReleaseRequest(req)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(ws.config.URL)
	req.Header.SetContentType("application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range ws.config.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	if requestID, err := utils.GenerateID(); err == nil {
		req.Header.Set("X-Request-ID", requestID)
	}
	req.SetBody(body)

	deadline := time.Now().Add(ws.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ws.client.DoDeadline(req, resp, deadline); err != nil {
		return utils.NewAppError(utils.ErrCodeExternal, "Failed to send webhook", err.Error())
	}

	if status := resp.StatusCode(); status < 200 || status > 299 {
		snippet := resp.Body()
		if len(snippet) > 1024 {
			snippet = snippet[:1024]
		}
		return utils.NewAppError(utils.ErrCodeExternal,
			"Webhook returned non-success status",
			fmt.Sprintf("status: %d, body: %s", status, snippet))
	}
	return nil
}

// retryDelay doubles RetryDelay for every attempt after the second, capped at 30s
func (ws *WebhookSink) retryDelay(attempt int) time.Duration {
	delay := ws.config.RetryDelay << uint(attempt-2)
	if delay < 0 || delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func (ws *WebhookSink) Close() error {
	ws.client.CloseIdleConnections()
	return nil
}

// Package llm provides the client for the external generative model API
// shared by all three agent tiers.
package llm

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"vendora/internal/common/config"
	"vendora/internal/common/metrics"
	"vendora/internal/reliability"
)

// Request is a single generation call.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Client calls the model API with bounded retries, exponential backoff and
// a circuit breaker shared across callers.
type Client struct {
	cfg        config.ModelConfig
	provider   Provider
	httpClient *http.Client
	breaker    *reliability.Breaker
	logger     Logger
}

func New(cfg config.ModelConfig, logger Logger) (*Client, error) {
	provider, err := providerFor(cfg.Provider)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:      cfg,
		provider: provider,
		httpClient: &http.Client{
			Timeout: config.GetDuration(cfg.TimeoutMs),
		},
		breaker: reliability.NewBreaker(
			"model:"+provider.Name(),
			cfg.BreakerThreshold,
			config.GetDuration(cfg.BreakerCooldownMs),
		),
		logger: logger,
	}, nil
}

// Generate returns the model's text for the request, retrying transient
// failures up to the configured attempt budget.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", &TransientError{Err: err}
		}

		if err := c.breaker.Allow(); err != nil {
			metrics.ModelCalls.WithLabelValues("breaker_open").Inc()
			return "", &TransientError{Err: err}
		}

		text, err := c.call(ctx, req)
		if err == nil {
			c.breaker.RecordSuccess()
			metrics.ModelCalls.WithLabelValues("success").Inc()
			return text, nil
		}

		c.breaker.RecordFailure()
		lastErr = err

		if IsFatal(err) {
			metrics.ModelCalls.WithLabelValues("fatal").Inc()
			return "", err
		}
		metrics.ModelCalls.WithLabelValues("transient").Inc()

		if attempt < c.cfg.MaxRetries {
			backoff := c.backoffFor(attempt)
			c.logger.Warn("Model call failed, backing off", map[string]interface{}{
				"provider": c.provider.Name(),
				"attempt":  attempt,
				"backoff":  backoff.String(),
				"error":    err.Error(),
			})
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", &TransientError{Err: ctx.Err()}
			}
		}
	}

	return "", lastErr
}

// GenerateStructured calls Generate and decodes a JSON object from the
// response text.
func (c *Client) GenerateStructured(ctx context.Context, req Request, out interface{}) error {
	text, err := c.Generate(ctx, req)
	if err != nil {
		return err
	}
	return DecodeStructured(text, out)
}

func (c *Client) call(ctx context.Context, req Request) (string, error) {
	httpReq, err := c.provider.NewRequest(ctx, c.cfg, req)
	if err != nil {
		return "", &FatalError{Err: err}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", &TransientError{Err: ctx.Err()}
		}
		return "", &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes))
	if err != nil {
		return "", &TransientError{Err: err}
	}

	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return "", err
	}

	text, err := c.provider.ParseResponse(body)
	if err != nil {
		return "", &FatalError{Err: err}
	}
	return text, nil
}

// classifyStatus maps HTTP status codes to the retry taxonomy: 429 and 5xx
// are transient, remaining non-2xx codes are fatal.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return &TransientError{Err: fmt.Errorf("model API returned %d: %s", status, truncate(body, 200))}
	default:
		return &FatalError{Err: fmt.Errorf("model API returned %d: %s", status, truncate(body, 200))}
	}
}

func (c *Client) backoffFor(attempt int) time.Duration {
	base := float64(config.GetDuration(c.cfg.BackoffBaseMs))
	backoff := base
	for i := 1; i < attempt; i++ {
		backoff *= c.cfg.BackoffMultiplier
	}
	if max := float64(config.GetDuration(c.cfg.MaxBackoffMs)); backoff > max {
		backoff = max
	}
	// ±25% jitter keeps concurrent retries from stampeding.
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(backoff * jitter)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Package llm provides the model completion client.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/luowen-ai/wechat-relay/internal/model"
	"github.com/luowen-ai/wechat-relay/pkg/logger"
	"github.com/luowen-ai/wechat-relay/pkg/metrics"
)

// ModelAppScoped selects the application-scoped payload shape carrying
// an application id instead of sampling parameters.
const ModelAppScoped = "bailian-app"

const (
	// longInputThreshold is the input length above which the per-call
	// timeout grows.
	longInputThreshold = 200
	// extraTimeoutStep is added per 100 characters beyond the threshold.
	extraTimeoutStep = 5 * time.Second
	// maxExtraTimeout caps the dynamic timeout growth.
	maxExtraTimeout = 30 * time.Second
)

// Completer produces one assistant reply for a conversation history.
type Completer interface {
	Complete(ctx context.Context, messages []model.ChatMessage) (string, error)
}

// Config holds model API client settings.
type Config struct {
	APIBase    string
	APIKey     string
	Model      string
	AppID      string
	Timeout    time.Duration
	MaxRetries int
	ProxyURL   string
}

// Client calls the completion endpoint with dynamic per-call timeouts
// and bounded linear-backoff retries.
type Client struct {
	cfg   Config
	oai   *openai.Client
	httpc *http.Client
	log   *logger.Logger

	// backoffUnit is the linear backoff multiplier; tests shrink it.
	backoffUnit time.Duration
}

// New creates a model API client.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	httpc := &http.Client{Transport: transport}

	ocfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		ocfg.BaseURL = cfg.APIBase
	}
	ocfg.HTTPClient = httpc

	return &Client{
		cfg:         cfg,
		oai:         openai.NewClientWithConfig(ocfg),
		httpc:       httpc,
		log:         log,
		backoffUnit: 2 * time.Second,
	}, nil
}

func (c *Client) mode() string {
	if c.cfg.Model == ModelAppScoped {
		return "app"
	}
	return "chat"
}

// timeoutFor computes the per-call timeout from the latest user message:
// longer prompts are presumed to produce longer generations.
func (c *Client) timeoutFor(messages []model.ChatMessage) time.Duration {
	var input string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleUser {
			input = messages[i].Content
			break
		}
	}

	length := len([]rune(input))
	if length <= longInputThreshold {
		return c.cfg.Timeout
	}

	extra := time.Duration((length-longInputThreshold)/100) * extraTimeoutStep
	if extra > maxExtraTimeout {
		extra = maxExtraTimeout
	}
	return c.cfg.Timeout + extra
}

// Complete sends the history to the completion endpoint. Non-2xx
// statuses, timeouts and transport errors are retried up to MaxRetries
// additional attempts with linear backoff; the final failure carries the
// last error.
func (c *Client) Complete(ctx context.Context, messages []model.ChatMessage) (string, error) {
	timeout := c.timeoutFor(messages)
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.ModelRetriesTotal.Inc()
			wait := time.Duration(attempt) * c.backoffUnit
			c.log.Info("retrying model call",
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		text, err := c.call(callCtx, messages)
		cancel()

		if err == nil {
			metrics.RecordModelCall(c.mode(), "success", time.Since(start).Seconds())
			return strings.TrimSpace(text), nil
		}

		lastErr = err
		c.log.Warn("model call failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	metrics.RecordModelCall(c.mode(), "error", time.Since(start).Seconds())
	return "", fmt.Errorf("completion failed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

func (c *Client) call(ctx context.Context, messages []model.ChatMessage) (string, error) {
	if c.cfg.Model == ModelAppScoped {
		return c.callAppScoped(ctx, messages)
	}
	return c.callChat(ctx, messages)
}

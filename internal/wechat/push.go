package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/luowen-ai/wechat-relay/pkg/logger"
	"github.com/luowen-ai/wechat-relay/pkg/metrics"
)

// Provider error codes on the push endpoint.
const (
	codeReplyExpired   = 45015 // reply window expired, terminal
	codeContentTooLong = 45002 // message too long, one corrective retry
)

// ErrDeliveryWindowExpired marks a push rejected because the platform's
// reply window closed. Never retried.
var ErrDeliveryWindowExpired = errors.New("reply window expired")

// fallbackReply is delivered when a reply came back empty rather than
// sending nothing.
const fallbackReply = "抱歉，AI处理您的问题时遇到了困难，请换个方式提问或稍后再试。"

const (
	pushRequestTimeout = 10 * time.Second
	pushMaxRetries     = 3
	// truncateRetryLength is the in-place truncation applied once after a
	// content-too-long rejection.
	truncateRetryLength = 1000
)

// PushError is a non-zero errcode returned by the push endpoint.
type PushError struct {
	Code int
	Msg  string
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push errcode %d: %s", e.Code, e.Msg)
}

// Client delivers replies through the platform's push-message endpoint,
// segmenting oversized content and retrying transient failures.
type Client struct {
	tokens  *TokenCache
	apiBase string
	httpc   *http.Client
	log     *logger.Logger

	// interUnitDelay spaces out segmented sends to avoid rate limiting;
	// backoffUnit is the linear retry multiplier. Tests shrink both.
	interUnitDelay time.Duration
	backoffUnit    time.Duration
}

// NewClient creates a push client on top of the credential cache.
func NewClient(tokens *TokenCache, apiBase string, httpc *http.Client, log *logger.Logger) *Client {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Client{
		tokens:         tokens,
		apiBase:        apiBase,
		httpc:          httpc,
		log:            log,
		interUnitDelay: time.Second,
		backoffUnit:    2 * time.Second,
	}
}

// Send delivers content to userID. Empty content is replaced with a
// fixed fallback; content over the soft ceiling is segmented and each
// unit sent independently with a short delay in between. The result is
// the logical AND of per-unit results, reported as the first error.
func (c *Client) Send(ctx context.Context, userID, content string) error {
	if userID == "" {
		return errors.New("empty user id")
	}
	if isBlank(content) {
		c.log.Warn("empty reply content, using fallback", zap.String("user", userID))
		content = fallbackReply
	}

	if len([]rune(content)) <= segmentLimit {
		metrics.PushSegments.Observe(1)
		return c.sendUnit(ctx, userID, content)
	}

	parts := Split(content)
	metrics.PushSegments.Observe(float64(len(parts)))
	c.log.Info("segmenting long reply",
		zap.Int("chars", len([]rune(content))),
		zap.Int("units", len(parts)),
	)

	var firstErr error
	for i, part := range parts {
		if err := c.sendUnit(ctx, userID, part); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			c.log.Warn("delivery unit failed",
				zap.Int("unit", i+1),
				zap.Int("total", len(parts)),
				zap.Error(err),
			)
		}
		if i < len(parts)-1 {
			select {
			case <-time.After(c.interUnitDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return firstErr
}

// sendUnit pushes one delivery unit with bounded retries. A reply-window
// rejection is terminal; a content-too-long rejection triggers exactly
// one in-place truncation before re-sending.
func (c *Client) sendUnit(ctx context.Context, userID, content string) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		metrics.PushSendsTotal.WithLabelValues("unavailable").Inc()
		c.log.Warn("no access token, skipping send", zap.Error(err))
		return err
	}

	// Last-resort safety net on top of the proactive segmentation.
	if runes := []rune(content); len(runes) > maxMessageLength {
		c.log.Warn("unit exceeds hard limit, truncating",
			zap.Int("chars", len(runes)),
		)
		content = string(runes[:maxMessageLength-3]) + "..."
	}

	attempt := 0
	truncated := false
	var lastErr error
	for {
		err := c.post(ctx, token, userID, content)
		if err == nil {
			metrics.PushSendsTotal.WithLabelValues("success").Inc()
			return nil
		}

		var perr *PushError
		if errors.As(err, &perr) {
			if perr.Code == codeReplyExpired {
				metrics.PushSendsTotal.WithLabelValues("expired").Inc()
				return fmt.Errorf("%w: %s", ErrDeliveryWindowExpired, perr.Msg)
			}
			if perr.Code == codeContentTooLong && !truncated {
				truncated = true
				if runes := []rune(content); len(runes) > truncateRetryLength {
					content = string(runes[:truncateRetryLength]) + "...(内容已截断)"
				}
				c.log.Warn("content rejected as too long, retrying truncated")
				continue
			}
		}

		lastErr = err
		attempt++
		if attempt > pushMaxRetries {
			break
		}

		wait := time.Duration(attempt) * c.backoffUnit
		c.log.Info("retrying push send",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	metrics.PushSendsTotal.WithLabelValues("error").Inc()
	return fmt.Errorf("push send failed after %d attempts: %w", pushMaxRetries+1, lastErr)
}

type pushRequest struct {
	ToUser  string   `json:"touser"`
	MsgType string   `json:"msgtype"`
	Text    pushText `json:"text"`
}

type pushText struct {
	Content string `json:"content"`
}

func (c *Client) post(ctx context.Context, token, userID, content string) error {
	ctx, cancel := context.WithTimeout(ctx, pushRequestTimeout)
	defer cancel()

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(pushRequest{
		ToUser:  userID,
		MsgType: "text",
		Text:    pushText{Content: content},
	}); err != nil {
		return fmt.Errorf("marshal push request: %w", err)
	}

	endpoint := c.apiBase + "/cgi-bin/message/custom/send?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push endpoint returned HTTP %d", resp.StatusCode)
	}

	var parsed struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("decode push response: %w", err)
	}
	if parsed.ErrCode != 0 {
		return &PushError{Code: parsed.ErrCode, Msg: parsed.ErrMsg}
	}
	return nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

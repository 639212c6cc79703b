// Package wechat provides the outbound platform client: credential
// caching, reply segmentation and the push-message endpoint.
package wechat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luowen-ai/wechat-relay/pkg/logger"
	"github.com/luowen-ai/wechat-relay/pkg/metrics"
)

// ErrCredentialUnavailable is returned when no app id/secret is
// configured. Callers treat it as "delivery unavailable", not fatal.
var ErrCredentialUnavailable = errors.New("wechat credentials not configured")

const (
	// tokenRefreshMargin is subtracted from the provider-declared token
	// lifetime.
	tokenRefreshMargin = 300 * time.Second
	// tokenExpirySlack forces a refresh when less than this remains.
	tokenExpirySlack = 60 * time.Second
	// defaultTokenLifetime applies when the provider omits expires_in.
	defaultTokenLifetime = 7200

	tokenRequestTimeout = 10 * time.Second
)

// TokenCache holds the platform bearer token and refreshes it on demand.
// Only one refresh is in flight at a time; concurrent callers block on
// the same lock.
type TokenCache struct {
	appID     string
	appSecret string
	apiBase   string
	httpc     *http.Client
	log       *logger.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenCache creates a credential cache. An empty app id or secret
// disables it.
func NewTokenCache(appID, appSecret, apiBase string, httpc *http.Client, log *logger.Logger) *TokenCache {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	t := &TokenCache{
		appID:     appID,
		appSecret: appSecret,
		apiBase:   apiBase,
		httpc:     httpc,
		log:       log,
	}
	if !t.Enabled() {
		log.Warn("wechat push interface not configured, outbound delivery disabled")
	}
	return t
}

// Enabled reports whether credentials are configured.
func (t *TokenCache) Enabled() bool {
	return t.appID != "" && t.appSecret != ""
}

// AccessToken returns a valid bearer token, refreshing it when absent or
// within 60 seconds of expiry.
func (t *TokenCache) AccessToken(ctx context.Context) (string, error) {
	if !t.Enabled() {
		return "", ErrCredentialUnavailable
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Before(t.expiresAt.Add(-tokenExpirySlack)) {
		return t.token, nil
	}

	token, expiresIn, err := t.refresh(ctx)
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()

	t.token = token
	t.expiresAt = time.Now().Add(time.Duration(expiresIn)*time.Second - tokenRefreshMargin)
	t.log.Info("access token refreshed", zap.Int64("expires_in", expiresIn))
	return t.token, nil
}

func (t *TokenCache) refresh(ctx context.Context) (string, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, tokenRequestTimeout)
	defer cancel()

	endpoint := fmt.Sprintf(
		"%s/cgi-bin/token?grant_type=client_credential&appid=%s&secret=%s",
		t.apiBase, url.QueryEscape(t.appID), url.QueryEscape(t.appSecret),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", 0, err
	}

	resp, err := t.httpc.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token endpoint returned HTTP %d", resp.StatusCode)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		ErrCode     int    `json:"errcode"`
		ErrMsg      string `json:"errmsg"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", 0, fmt.Errorf("token endpoint error: %s", parsed.ErrMsg)
	}

	expiresIn := parsed.ExpiresIn
	if expiresIn == 0 {
		expiresIn = defaultTokenLifetime
	}
	return parsed.AccessToken, expiresIn, nil
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/luowen-ai/wechat-relay/internal/model"
	"github.com/luowen-ai/wechat-relay/pkg/logger"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg, testLogger())
	require.NoError(t, err)
	c.backoffUnit = time.Millisecond
	return c
}

func completionBody(content string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"role":"assistant","content":%q}}]}`, content)
}

func userMessages(content string) []model.ChatMessage {
	return []model.ChatMessage{
		{Role: model.RoleSystem, Content: "persona"},
		{Role: model.RoleUser, Content: content},
	}
}

func TestTimeoutForShortInput(t *testing.T) {
	c := newTestClient(t, Config{Timeout: 60 * time.Second, Model: "deepseek-r1"})

	assert.Equal(t, 60*time.Second, c.timeoutFor(userMessages(strings.Repeat("a", 200))))
}

func TestTimeoutForGrowsWithInput(t *testing.T) {
	c := newTestClient(t, Config{Timeout: 60 * time.Second, Model: "deepseek-r1"})

	// 5 extra seconds per 100 characters beyond 200.
	assert.Equal(t, 65*time.Second, c.timeoutFor(userMessages(strings.Repeat("a", 300))))
	assert.Equal(t, 70*time.Second, c.timeoutFor(userMessages(strings.Repeat("a", 420))))
}

func TestTimeoutForCapped(t *testing.T) {
	c := newTestClient(t, Config{Timeout: 60 * time.Second, Model: "deepseek-r1"})

	assert.Equal(t, 90*time.Second, c.timeoutFor(userMessages(strings.Repeat("a", 5000))))
}

func TestCompleteGenericSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		fmt.Fprint(w, completionBody("  你好，有什么可以帮你？  "))
	}))
	defer ts.Close()

	c := newTestClient(t, Config{
		APIBase:    ts.URL,
		APIKey:     "test-key",
		Model:      "deepseek-r1",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	})

	text, err := c.Complete(context.Background(), userMessages("你好"))
	require.NoError(t, err)
	assert.Equal(t, "你好，有什么可以帮你？", text, "surrounding whitespace is trimmed")
}

func TestCompleteRetriesThenSucceeds(t *testing.T) {
	var calls int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, completionBody("answer"))
	}))
	defer ts.Close()

	c := newTestClient(t, Config{
		APIBase:    ts.URL,
		APIKey:     "k",
		Model:      "deepseek-r1",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	})

	text, err := c.Complete(context.Background(), userMessages("hi"))
	require.NoError(t, err)
	assert.Equal(t, "answer", text)
	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
}

func TestCompleteTimeoutRetried(t *testing.T) {
	var calls int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) <= 1 {
			time.Sleep(500 * time.Millisecond)
		}
		fmt.Fprint(w, completionBody("late answer"))
	}))
	defer ts.Close()

	c := newTestClient(t, Config{
		APIBase:    ts.URL,
		APIKey:     "k",
		Model:      "deepseek-r1",
		Timeout:    100 * time.Millisecond,
		MaxRetries: 2,
	})

	text, err := c.Complete(context.Background(), userMessages("hi"))
	require.NoError(t, err)
	assert.Equal(t, "late answer", text)
	assert.GreaterOrEqual(t, atomic.LoadInt64(&calls), int64(2))
}

func TestCompleteExhaustsRetries(t *testing.T) {
	var calls int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := newTestClient(t, Config{
		APIBase:    ts.URL,
		APIKey:     "k",
		Model:      "deepseek-r1",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	})

	_, err := c.Complete(context.Background(), userMessages("hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
}

func TestCompleteAppScopedPayload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, ModelAppScoped, req["model"])

		params, ok := req["parameters"].(map[string]any)
		require.True(t, ok, "app-scoped payload must carry parameters")
		assert.Equal(t, "app-123", params["app_id"])
		assert.Equal(t, false, params["stream"])
		_, hasTemperature := req["temperature"]
		assert.False(t, hasTemperature)

		fmt.Fprint(w, completionBody("scoped answer"))
	}))
	defer ts.Close()

	c := newTestClient(t, Config{
		APIBase:    ts.URL,
		APIKey:     "k",
		Model:      ModelAppScoped,
		AppID:      "app-123",
		Timeout:    5 * time.Second,
		MaxRetries: 0,
	})

	text, err := c.Complete(context.Background(), userMessages("hi"))
	require.NoError(t, err)
	assert.Equal(t, "scoped answer", text)
}

func TestCompleteNoChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer ts.Close()

	c := newTestClient(t, Config{
		APIBase:    ts.URL,
		APIKey:     "k",
		Model:      ModelAppScoped,
		AppID:      "app-123",
		Timeout:    5 * time.Second,
		MaxRetries: 0,
	})

	_, err := c.Complete(context.Background(), userMessages("hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

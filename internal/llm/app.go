package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/luowen-ai/wechat-relay/internal/model"
)

// appRequest is the application-scoped payload shape. Instead of
// sampling parameters it carries the application id the provider uses to
// resolve the deployed app.
type appRequest struct {
	Model      string              `json:"model"`
	Messages   []model.ChatMessage `json:"messages"`
	Parameters appParameters       `json:"parameters"`
}

type appParameters struct {
	AppID  string `json:"app_id"`
	Stream bool   `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// callAppScoped sends the application-scoped payload.
func (c *Client) callAppScoped(ctx context.Context, messages []model.ChatMessage) (string, error) {
	body, err := json.Marshal(appRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Parameters: appParameters{
			AppID:  c.cfg.AppID,
			Stream: false,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimSuffix(c.cfg.APIBase, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion endpoint returned HTTP %d: %s", resp.StatusCode, truncateBody(data))
	}

	var parsed completionResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

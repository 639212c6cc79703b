package llm

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"

	"github.com/luowen-ai/wechat-relay/internal/model"
)

// Sampling parameters for the generic chat-completions shape.
const (
	chatTemperature float32 = 0.7
	chatMaxTokens           = 2000
	chatTopP        float32 = 0.95
)

// callChat sends the generic chat-completions payload.
func (c *Client) callChat(ctx context.Context, messages []model.ChatMessage) (string, error) {
	converted := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		converted[i] = openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	resp, err := c.oai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    converted,
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
		TopP:        chatTopP,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

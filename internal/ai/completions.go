package ai

import (
	"context"
	"fmt"
	"net/http"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletion runs a plain, non-grounded completion over the given
// messages and returns the assistant text.
func (c *Client) ChatCompletion(ctx context.Context, model string, messages []ChatMessage) (string, error) {
	body := map[string]interface{}{
		"model":    model,
		"messages": messages,
		"stream":   false,
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/chat/completions", body, false, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty llm choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

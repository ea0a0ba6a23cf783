package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/errors"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/ratelimit"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/resilience"
)

const openAIEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAIClient is the reasoning provider used for extraction, fact
// checking and dedup arbitration. Responses are forced into JSON mode.
type OpenAIClient struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
	limiter    ratelimit.Limiter
	executor   *resilience.Executor
}

// NewOpenAIClient builds a JSON-mode chat client for the given model.
func NewOpenAIClient(apiKey, model string, timeout time.Duration,
	limiter ratelimit.Limiter, executor *resilience.Executor) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     apiKey,
		model:      model,
		endpoint:   openAIEndpoint,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		executor:   executor,
	}
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *OpenAIClient) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	body, err := json.Marshal(openAIRequest{
		Model:          c.model,
		Messages:       chatMessages(systemPrompt, userPrompt),
		Temperature:    0.1,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	var content string
	err = c.executor.Do(ctx, ratelimit.ServiceOpenAI, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx, ratelimit.ServiceOpenAI); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("openai: create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errors.Classify(0, err)
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return errors.Classify(0, err)
		}
		if resp.StatusCode != http.StatusOK {
			return errors.Classify(resp.StatusCode, fmt.Errorf("openai: status %d: %s", resp.StatusCode, truncate(raw, 200)))
		}

		var parsed openAIResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return fmt.Errorf("openai: decode response: %w", err)
		}
		if parsed.Error != nil {
			return errors.NewServerError(resp.StatusCode, fmt.Sprintf("openai: %s: %s", parsed.Error.Type, parsed.Error.Message))
		}
		if len(parsed.Choices) == 0 {
			return errors.NewServerError(resp.StatusCode, "openai: empty choices in response")
		}
		content = parsed.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

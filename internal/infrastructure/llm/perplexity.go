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

const perplexityEndpoint = "https://api.perplexity.ai/chat/completions"

// PerplexityClient is the search-grounded provider used for discovery
// queries, dedup arbitration fallback and validation backfill.
type PerplexityClient struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
	limiter    ratelimit.Limiter
	executor   *resilience.Executor
}

// NewPerplexityClient builds a search-grounded chat client.
func NewPerplexityClient(apiKey, model string, timeout time.Duration,
	limiter ratelimit.Limiter, executor *resilience.Executor) *PerplexityClient {
	return &PerplexityClient{
		apiKey:     apiKey,
		model:      model,
		endpoint:   perplexityEndpoint,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		executor:   executor,
	}
}

type perplexityRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type perplexityResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

func (c *PerplexityClient) Search(ctx context.Context, systemPrompt, userPrompt string) (*GroundedAnswer, error) {
	body, err := json.Marshal(perplexityRequest{
		Model:       c.model,
		Messages:    chatMessages(systemPrompt, userPrompt),
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("perplexity: marshal request: %w", err)
	}

	var answer *GroundedAnswer
	err = c.executor.Do(ctx, ratelimit.ServicePerplexity, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx, ratelimit.ServicePerplexity); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("perplexity: create request: %w", err)
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
			return errors.Classify(resp.StatusCode, fmt.Errorf("perplexity: status %d: %s", resp.StatusCode, truncate(raw, 200)))
		}

		var parsed perplexityResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return fmt.Errorf("perplexity: decode response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return errors.NewServerError(resp.StatusCode, "perplexity: empty choices in response")
		}
		answer = &GroundedAnswer{
			Content:   parsed.Choices[0].Message.Content,
			Citations: parsed.Citations,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return answer, nil
}

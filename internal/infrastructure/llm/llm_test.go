package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/errors"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/ratelimit"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/resilience"
)

func testDeps() (ratelimit.Limiter, *resilience.Executor) {
	limiter := ratelimit.NewMemoryLimiter(zap.NewNop())
	limiter.SetLimit(ratelimit.ServiceOpenAI, 10000, 10000)
	limiter.SetLimit(ratelimit.ServicePerplexity, 10000, 10000)
	executor := resilience.NewExecutor(resilience.RetryConfig{
		MaxRetries:        3,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}, resilience.NewBreakerRegistry(5, 5*time.Minute), nil)
	return limiter, executor
}

func TestOpenAIClient_CompleteJSON(t *testing.T) {
	var gotAuth string
	var gotReq openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"title":"Optus breach"}`}},
			},
		})
	}))
	defer srv.Close()

	limiter, executor := testDeps()
	client := NewOpenAIClient("sk-test", "gpt-4o", 5*time.Second, limiter, executor)
	client.endpoint = srv.URL

	out, err := client.CompleteJSON(context.Background(), "You extract incidents.", "Extract from this article.")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Optus breach"}`, out)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o", gotReq.Model)
	require.NotNil(t, gotReq.ResponseFormat)
	assert.Equal(t, "json_object", gotReq.ResponseFormat.Type)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
}

func TestOpenAIClient_AuthErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	limiter, executor := testDeps()
	client := NewOpenAIClient("bad-key", "gpt-4o", 5*time.Second, limiter, executor)
	client.endpoint = srv.URL

	_, err := client.CompleteJSON(context.Background(), "", "prompt")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuth))
	assert.Equal(t, 1, calls, "auth failures must not be retried")
}

func TestOpenAIClient_ServerErrorRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{}`}},
			},
		})
	}))
	defer srv.Close()

	limiter, executor := testDeps()
	client := NewOpenAIClient("sk-test", "gpt-4o", 5*time.Second, limiter, executor)
	client.endpoint = srv.URL

	out, err := client.CompleteJSON(context.Background(), "", "prompt")
	require.NoError(t, err)
	assert.Equal(t, `{}`, out)
	assert.Equal(t, 3, calls)
}

func TestPerplexityClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "The Medibank breach affected 9.7 million customers."}},
			},
			"citations": []string{"https://example.com/medibank"},
		})
	}))
	defer srv.Close()

	limiter, executor := testDeps()
	client := NewPerplexityClient("pplx-test", "sonar-pro", 5*time.Second, limiter, executor)
	client.endpoint = srv.URL

	answer, err := client.Search(context.Background(), "You verify incidents.", "Verify the Medibank breach.")
	require.NoError(t, err)
	assert.Contains(t, answer.Content, "9.7 million")
	require.Len(t, answer.Citations, 1)
}

func TestPerplexityClient_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	limiter, executor := testDeps()
	client := NewPerplexityClient("pplx-test", "sonar-pro", 5*time.Second, limiter, executor)
	client.endpoint = srv.URL

	_, err := client.Search(context.Background(), "", "query")
	require.Error(t, err)
}

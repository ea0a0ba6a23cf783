// Package search wraps the Google Custom Search JSON API for targeted
// cyber incident discovery.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/auscyberwatch/incident-pipeline/internal/domain/errors"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/ratelimit"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/resilience"
)

const cseEndpoint = "https://www.googleapis.com/customsearch/v1"

// Result is one web search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// WebSearch issues programmable-search queries scoped by date restriction.
type WebSearch interface {
	Search(ctx context.Context, query string, start time.Time, maxResults int) ([]Result, error)
}

// CSEClient is the Google Custom Search implementation of WebSearch.
type CSEClient struct {
	apiKey     string
	cx         string
	endpoint   string
	httpClient *http.Client
	limiter    ratelimit.Limiter
	executor   *resilience.Executor
}

// NewCSEClient builds a Custom Search client for the given engine ID.
func NewCSEClient(apiKey, cx string, timeout time.Duration,
	limiter ratelimit.Limiter, executor *resilience.Executor) *CSEClient {
	return &CSEClient{
		apiKey:     apiKey,
		cx:         cx,
		endpoint:   cseEndpoint,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		executor:   executor,
	}
}

type cseResponse struct {
	Items []Result `json:"items"`
}

// Search runs the query with a dateRestrict window anchored on start.
// The API caps each page at 10 results; maxResults beyond one page is
// fetched with the start offset.
func (c *CSEClient) Search(ctx context.Context, query string, start time.Time, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = 10
	}

	days := int(time.Since(start).Hours()/24) + 1
	if days < 1 {
		days = 1
	}

	var results []Result
	for offset := 1; len(results) < maxResults; offset += 10 {
		page, err := c.searchPage(ctx, query, days, offset)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		results = append(results, page...)
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

func (c *CSEClient) searchPage(ctx context.Context, query string, days, offset int) ([]Result, error) {
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("cx", c.cx)
	params.Set("q", query)
	params.Set("dateRestrict", "d"+strconv.Itoa(days))
	params.Set("start", strconv.Itoa(offset))

	var items []Result
	err := c.executor.Do(ctx, ratelimit.ServiceWebSearch, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx, ratelimit.ServiceWebSearch); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return fmt.Errorf("websearch: create request: %w", err)
		}

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
			return errors.Classify(resp.StatusCode, fmt.Errorf("websearch: status %d", resp.StatusCode))
		}

		var parsed cseResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return fmt.Errorf("websearch: decode response: %w", err)
		}
		items = parsed.Items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

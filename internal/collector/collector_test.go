package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/content"
	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/llm"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/newsevents"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/search"
)

func testRange(t *testing.T) incident.DateRange {
	t.Helper()
	r, err := incident.NewDateRange(
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC))
	require.NoError(t, err)
	return r
}

type fakeNewsStore struct {
	hits []newsevents.RawHit
	got  newsevents.Query
}

func (s *fakeNewsStore) NewsEventsQuery(_ context.Context, q newsevents.Query) ([]newsevents.RawHit, error) {
	s.got = q
	return s.hits, nil
}

func (s *fakeNewsStore) Close() error { return nil }

func TestNewsEventsCollector_Collect(t *testing.T) {
	store := &fakeNewsStore{hits: []newsevents.RawHit{
		{
			EventID:        1001,
			EventDate:      20240312,
			Actor1Name:     "OPTUS",
			EventCode:      "1723",
			GoldsteinScale: -7.0,
			NumSources:     5,
			SourceURL:      "https://example.com/news/optus-data-breach-millions-exposed",
		},
		{
			EventID:    1002,
			EventDate:  20240315,
			Actor1Name: "SYDNEY COUNCIL",
			EventCode:  "010",
			NumSources: 3,
			SourceURL:  "https://example.com/news/council-fireworks-celebration-attack-senses",
		},
	}}

	c := NewNewsEventsCollector(store, NewProgressiveFilter(), 100, zap.NewNop())
	require.True(t, c.ValidateConfig())

	events, err := c.Collect(context.Background(), testRange(t))
	require.NoError(t, err)
	require.Len(t, events, 1, "fireworks noise must be filtered out")

	ev := events[0]
	assert.Equal(t, incident.SourceNewsEvents, ev.SourceType)
	assert.Equal(t, "1001", ev.SourceEventID)
	assert.Equal(t, "data breach", ev.SourceMetadata["incident_type"])
	assert.Equal(t, "5", ev.SourceMetadata["num_sources"])
	require.NotNil(t, ev.EventDate)
	assert.Equal(t, 12, ev.EventDate.Day())

	assert.EqualValues(t, 2, store.got.MinSources, "multi-source corroboration is required")
	assert.NotEmpty(t, store.got.Exclusions)
}

func TestIncidentTypeFor(t *testing.T) {
	assert.Equal(t, "ransomware", incidentTypeFor("1722"))
	assert.Equal(t, "cyber attack", incidentTypeFor("1799"), "unlisted code falls back to its root")
	assert.Equal(t, "cyber incident", incidentTypeFor("040"))
}

func TestURLSlugTitle(t *testing.T) {
	assert.Equal(t, "Optus data breach millions exposed",
		urlSlugTitle("https://example.com/news/optus-data-breach-millions-exposed.html"))
	assert.Equal(t, "", urlSlugTitle("https://example.com/"), "bare hosts yield no title")
}

type fakeGroundedLLM struct {
	answer *llm.GroundedAnswer
	err    error
}

func (f *fakeGroundedLLM) Search(context.Context, string, string) (*llm.GroundedAnswer, error) {
	return f.answer, f.err
}

func TestLLMSearchCollector_Collect(t *testing.T) {
	client := &fakeGroundedLLM{answer: &llm.GroundedAnswer{
		Content: "```json\n" + `{
			"events": [
				{
					"title": "Ransomware attack on Gold Coast logistics firm",
					"description": "A ransomware group encrypted the firm's dispatch systems and leaked employee records.",
					"event_date": "2024-03-10",
					"source_url": "https://example.com/article",
					"victim_organization": "Gold Coast Logistics",
					"incident_type": "ransomware"
				},
				{
					"title": "Council launches fireworks celebration",
					"description": "An annual fireworks festival for the community.",
					"event_date": null,
					"source_url": null,
					"victim_organization": null,
					"incident_type": "other"
				}
			]
		}` + "\n```",
	}}

	c := NewLLMSearchCollector(client, NewProgressiveFilter(), 25, zap.NewNop())
	events, err := c.Collect(context.Background(), testRange(t))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, incident.SourceLLMSearch, ev.SourceType)
	assert.Equal(t, "Gold Coast Logistics", ev.SourceMetadata["victim_organization"])
	require.NotNil(t, ev.SourceURL)
	require.NotNil(t, ev.EventDate)
	assert.Equal(t, time.March, ev.EventDate.Month())
}

func TestLLMSearchCollector_MalformedResponse(t *testing.T) {
	client := &fakeGroundedLLM{answer: &llm.GroundedAnswer{Content: "I could not find any incidents."}}
	c := NewLLMSearchCollector(client, NewProgressiveFilter(), 25, zap.NewNop())

	_, err := c.Collect(context.Background(), testRange(t))
	assert.Error(t, err)
}

type fakeWebSearch struct {
	results map[string][]search.Result
	errs    map[string]error
}

func (f *fakeWebSearch) Search(_ context.Context, query string, _ time.Time, _ int) ([]search.Result, error) {
	if err, ok := f.errs[query]; ok {
		return nil, err
	}
	return f.results[query], nil
}

func TestWebSearchCollector_Collect(t *testing.T) {
	auHit := search.Result{
		Title:   "Insurer reveals data breach affecting policyholders",
		Link:    "https://www.itnews.com.au/news/insurer-breach",
		Snippet: "The Sydney-based insurer said attackers accessed customer records.",
	}
	foreignHit := search.Result{
		Title:   "US retailer discloses data breach",
		Link:    "https://example.com/us-retailer",
		Snippet: "A large American retail chain reported a breach.",
	}
	f := &fakeWebSearch{
		results: map[string][]search.Result{
			webSearchQueries[0]: {auHit, foreignHit},
			webSearchQueries[1]: {auHit}, // duplicate across queries
		},
		errs: map[string]error{
			webSearchQueries[2]: fmt.Errorf("quota exceeded"),
		},
	}

	c := NewWebSearchCollector(f, NewProgressiveFilter(), 10, zap.NewNop())
	events, err := c.Collect(context.Background(), testRange(t))
	require.NoError(t, err, "a failing query must not abort the sweep")
	require.Len(t, events, 1, "foreign hits filtered, duplicates suppressed")
	assert.Equal(t, incident.SourceWebSearch, events[0].SourceType)
}

func TestIsAustralianHit(t *testing.T) {
	assert.True(t, isAustralianHit(search.Result{Link: "https://www.abc.net.au/news/x"}))
	assert.True(t, isAustralianHit(search.Result{
		Link:    "https://example.com/x",
		Snippet: "The Melbourne company said...",
	}))
	assert.False(t, isAustralianHit(search.Result{
		Link:    "https://example.com/x",
		Snippet: "The Ohio company said...",
	}))
}

func regulatorTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/news", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><ul class="news-list">
			<li><a href="/go/notif-1">Notifiable data breach: health provider</a></li>
			<li><a href="/articles/old-news">Annual report released</a></li>
		</ul></body></html>`)
	})
	// Redirect wrapper: one hop to the real article.
	mux.HandleFunc("/go/notif-1", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/articles/notif-1", http.StatusFound)
	})
	mux.HandleFunc("/articles/notif-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><article>
			<h1>Notifiable data breach affecting health provider</h1>
			<time datetime="2024-01-20T00:00:00Z">20 January 2024</time>
			<p>The provider notified the regulator of a data breach affecting patient records held in a compromised system.</p>
		</article></body></html>`)
	})
	mux.HandleFunc("/articles/old-news", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><article>
			<h1>Annual report released</h1>
			<time datetime="2023-06-01T00:00:00Z">1 June 2023</time>
			<p>The regulator published its annual report on privacy complaints handling.</p>
		</article></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRegulatorScrapeCollector_Collect(t *testing.T) {
	srv := regulatorTestServer(t)
	fetcher := content.NewHTTPFetcher(5*time.Second, 1000)

	c := NewRegulatorScrapeCollector(srv.URL+"/news", fetcher, NewProgressiveFilter(), 50, zap.NewNop())
	require.True(t, c.ValidateConfig())

	// Requested window starts in March; the January article is caught by
	// the two-month lookback.
	events, err := c.Collect(context.Background(), testRange(t))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, incident.SourceRegulatorScrape, ev.SourceType)
	assert.Contains(t, ev.Title, "data breach")
	require.NotNil(t, ev.SourceURL)
	assert.Contains(t, *ev.SourceURL, "/articles/notif-1", "redirect wrapper must be resolved")
	require.NotNil(t, ev.EventDate)
	assert.Equal(t, time.January, ev.EventDate.Month())
}

func curatedTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<h2>Webber Insurance — March 2024</h2>
			<ul>
				<li>Acme Logistics ransomware attack <a href="/articles/acme">article</a></li>
				<li>Charity gala fireworks night</li>
			</ul>
			<h2>Webber Insurance — December 2023</h2>
			<ul>
				<li>Old Corp data breach <a href="/articles/old">article</a></li>
			</ul>
		</body></html>`)
	})
	mux.HandleFunc("/articles/acme", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><article>
			<p>Acme Logistics confirmed a ransomware attack that encrypted its dispatch platform across three states.</p>
		</article></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCuratedListScrapeCollector_Collect(t *testing.T) {
	srv := curatedTestServer(t)
	fetcher := content.NewHTTPFetcher(5*time.Second, 1000)

	c := NewCuratedListScrapeCollector(srv.URL+"/list", fetcher, nil, NewProgressiveFilter(), 50, zap.NewNop())
	events, err := c.Collect(context.Background(), testRange(t))
	require.NoError(t, err)
	require.Len(t, events, 1, "out-of-window sections and noise entries are skipped")

	ev := events[0]
	assert.Equal(t, incident.SourceCuratedList, ev.SourceType)
	assert.Contains(t, ev.Title, "Acme Logistics")
	assert.Contains(t, ev.Description, "dispatch platform")
	require.NotNil(t, ev.EventDate)
	assert.Equal(t, time.March, ev.EventDate.Month())
	assert.Equal(t, "2024-03", ev.SourceMetadata["section_month"])
}

func TestParseMonthHeader(t *testing.T) {
	got := parseMonthHeader("Webber Insurance — January 2024")
	require.NotNil(t, got)
	assert.Equal(t, time.January, got.Month())
	assert.Equal(t, 2024, got.Year())

	assert.Nil(t, parseMonthHeader("Latest breaches"))
}

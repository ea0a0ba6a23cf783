package collector

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/content"
	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/ratelimit"
)

// Late-disclosed incidents appear on the regulator's feed well after the
// fact, so the sweep looks back beyond the requested window.
const regulatorLookbackMonths = 2

var regulatorDateFormats = []string{
	"2 January 2006",
	"02 January 2006",
	"January 2, 2006",
	"2006-01-02",
	time.RFC3339,
}

// RegulatorScrapeCollector walks the privacy regulator's news listing and
// scrapes each notification article.
type RegulatorScrapeCollector struct {
	listURL string
	fetcher content.Fetcher
	filter  *ProgressiveFilter
	maxArticles int
	logger  *zap.Logger
}

// NewRegulatorScrapeCollector wires the regulator feed scrape.
func NewRegulatorScrapeCollector(listURL string, fetcher content.Fetcher, filter *ProgressiveFilter, maxArticles int, logger *zap.Logger) *RegulatorScrapeCollector {
	return &RegulatorScrapeCollector{
		listURL: listURL,
		fetcher: fetcher,
		filter:  filter,
		maxArticles: maxArticles,
		logger:  logger,
	}
}

func (c *RegulatorScrapeCollector) SourceInfo() Descriptor {
	return Descriptor{
		Name:         "regulator-scrape",
		SourceType:   incident.SourceRegulatorScrape,
		RateLimitKey: ratelimit.ServiceScraper,
		Priority:     true,
	}
}

func (c *RegulatorScrapeCollector) ValidateConfig() bool {
	return c.listURL != "" && c.fetcher != nil
}

func (c *RegulatorScrapeCollector) Collect(ctx context.Context, dateRange incident.DateRange) ([]*incident.RawEvent, error) {
	window := dateRange.WidenStart(regulatorLookbackMonths)

	page, err := c.fetcher.Fetch(ctx, c.listURL)
	if err != nil {
		return nil, fmt.Errorf("regulator collect: fetching listing: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("regulator collect: parsing listing: %w", err)
	}

	links := c.articleLinks(doc, page.FinalURL)
	var events []*incident.RawEvent
	for _, link := range links {
		if len(events) >= c.maxArticles {
			break
		}
		ev := c.scrapeArticle(ctx, link, window)
		if ev != nil {
			events = append(events, ev)
		}
	}

	c.logger.Info("regulator sweep complete",
		zap.Int("links", len(links)),
		zap.Int("kept", len(events)))
	return events, nil
}

// articleLinks extracts candidate article URLs from the listing page,
// resolving relative paths against the listing host.
func (c *RegulatorScrapeCollector) articleLinks(doc *goquery.Document, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("article a, .listing a, .news-list a, li a, h2 a, h3 a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref).String()
		title := strings.TrimSpace(a.Text())
		if seen[resolved] || title == "" {
			return
		}
		seen[resolved] = true
		links = append(links, resolved)
	})
	return links
}

func (c *RegulatorScrapeCollector) scrapeArticle(ctx context.Context, link string, window incident.DateRange) *incident.RawEvent {
	page, err := c.fetcher.Fetch(ctx, link)
	if err != nil {
		c.logger.Debug("regulator article fetch failed", zap.String("url", link), zap.Error(err))
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil
	}

	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").Text())
	}
	if title == "" {
		return nil
	}

	published := parsePublicationDate(doc)
	if published != nil && !window.Contains(*published) {
		return nil
	}

	var paragraphs []string
	doc.Find("article p, main p, .content p").EachWithBreak(func(i int, p *goquery.Selection) bool {
		t := strings.TrimSpace(p.Text())
		if t != "" {
			paragraphs = append(paragraphs, t)
		}
		return i < 5
	})
	description := strings.Join(paragraphs, " ")

	if !c.filter.DiscoveryPass(title, description) {
		return nil
	}

	ev, err := incident.NewRawEvent(incident.SourceRegulatorScrape, title, description)
	if err != nil {
		return nil
	}
	// Listing hrefs can be redirect wrappers; FinalURL is the real article.
	ev.WithURL(page.FinalURL)
	if published != nil {
		ev.WithEventDate(*published)
	}
	ev.SourceMetadata["listing_url"] = c.listURL
	return ev
}

// parsePublicationDate tries <time datetime>, then meta tags, then the
// visible date line formats the regulator uses.
func parsePublicationDate(doc *goquery.Document) *time.Time {
	if dt, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		if t := parseAnyDate(dt); t != nil {
			return t
		}
	}
	if dt, ok := doc.Find(`meta[property="article:published_time"]`).Attr("content"); ok {
		if t := parseAnyDate(dt); t != nil {
			return t
		}
	}
	candidates := []string{
		strings.TrimSpace(doc.Find("time").First().Text()),
		strings.TrimSpace(doc.Find(".date, .published, .publication-date").First().Text()),
	}
	for _, candidate := range candidates {
		if t := parseAnyDate(candidate); t != nil {
			return t
		}
	}
	return nil
}

func parseAnyDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range regulatorDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

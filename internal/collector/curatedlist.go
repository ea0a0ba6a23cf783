package collector

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/content"
	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/llm"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/ratelimit"
)

var monthHeaderPattern = regexp.MustCompile(
	`(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{4})`)

const curatedSummaryPrompt = `Search for the cyber security incident described as %q affecting an Australian organisation.
Summarise in 2-3 sentences what happened, who was affected and when it was reported.
If you cannot find the incident, respond with exactly: NOT FOUND`

// CuratedListScrapeCollector walks an industry-maintained breach list
// whose entries sit under month-year section headers.
type CuratedListScrapeCollector struct {
	listURL  string
	fetcher  content.Fetcher
	fallback llm.SearchGroundedLLM
	filter   *ProgressiveFilter
	maxEntries int
	logger   *zap.Logger
}

// NewCuratedListScrapeCollector wires the curated list scrape. fallback
// may be nil; entries with dead links then keep their list-item text.
func NewCuratedListScrapeCollector(listURL string, fetcher content.Fetcher, fallback llm.SearchGroundedLLM,
	filter *ProgressiveFilter, maxEntries int, logger *zap.Logger) *CuratedListScrapeCollector {
	return &CuratedListScrapeCollector{
		listURL:  listURL,
		fetcher:  fetcher,
		fallback: fallback,
		filter:   filter,
		maxEntries: maxEntries,
		logger:   logger,
	}
}

func (c *CuratedListScrapeCollector) SourceInfo() Descriptor {
	return Descriptor{
		Name:         "curated-list",
		SourceType:   incident.SourceCuratedList,
		RateLimitKey: ratelimit.ServiceScraper,
		Priority:     true,
	}
}

func (c *CuratedListScrapeCollector) ValidateConfig() bool {
	return c.listURL != "" && c.fetcher != nil
}

func (c *CuratedListScrapeCollector) Collect(ctx context.Context, dateRange incident.DateRange) ([]*incident.RawEvent, error) {
	page, err := c.fetcher.Fetch(ctx, c.listURL)
	if err != nil {
		return nil, fmt.Errorf("curated-list collect: fetching list: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("curated-list collect: parsing list: %w", err)
	}

	var events []*incident.RawEvent
	doc.Find("h2, h3").Each(func(_ int, header *goquery.Selection) {
		sectionDate := parseMonthHeader(header.Text())
		if sectionDate == nil || !dateRange.Contains(*sectionDate) {
			return
		}

		header.NextUntil("h2, h3").Find("li").Each(func(_ int, item *goquery.Selection) {
			if len(events) >= c.maxEntries {
				return
			}
			if ev := c.entryEvent(ctx, item, *sectionDate); ev != nil {
				events = append(events, ev)
			}
		})
	})

	c.logger.Info("curated-list sweep complete", zap.Int("kept", len(events)))
	return events, nil
}

// parseMonthHeader reads "<Vendor> — January 2024" style section titles.
func parseMonthHeader(text string) *time.Time {
	m := monthHeaderPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	year, err := strconv.Atoi(m[2])
	if err != nil {
		return nil
	}
	month, err := time.Parse("January", m[1])
	if err != nil {
		return nil
	}
	t := time.Date(year, month.Month(), 1, 0, 0, 0, 0, time.UTC)
	return &t
}

func (c *CuratedListScrapeCollector) entryEvent(ctx context.Context, item *goquery.Selection, sectionDate time.Time) *incident.RawEvent {
	title := strings.TrimSpace(item.Text())
	if title == "" {
		return nil
	}
	// List items read like "Acme Corp data breach (article)" with the
	// headline doubling as the title.
	if len(title) > 200 {
		title = title[:200]
	}

	link, _ := item.Find("a").First().Attr("href")
	description := c.describeEntry(ctx, title, link)

	if !c.filter.DiscoveryPass(title, description) {
		return nil
	}

	ev, err := incident.NewRawEvent(incident.SourceCuratedList, title, description)
	if err != nil {
		return nil
	}
	if link != "" {
		ev.WithURL(link)
	}
	ev.WithEventDate(sectionDate)
	ev.SourceMetadata["list_url"] = c.listURL
	ev.SourceMetadata["section_month"] = sectionDate.Format("2006-01")
	return ev
}

// describeEntry prefers the linked article's opening text; when the link
// is dead it falls back to a search-grounded summary.
func (c *CuratedListScrapeCollector) describeEntry(ctx context.Context, title, link string) string {
	if link != "" {
		if page, err := c.fetcher.Fetch(ctx, link); err == nil {
			if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body)); err == nil {
				var paragraphs []string
				doc.Find("article p, main p, p").EachWithBreak(func(i int, p *goquery.Selection) bool {
					t := strings.TrimSpace(p.Text())
					if len(t) > 40 {
						paragraphs = append(paragraphs, t)
					}
					return len(paragraphs) < 3
				})
				if len(paragraphs) > 0 {
					return strings.Join(paragraphs, " ")
				}
			}
		}
	}

	if c.fallback != nil {
		answer, err := c.fallback.Search(ctx, "", fmt.Sprintf(curatedSummaryPrompt, title))
		if err == nil && !strings.Contains(answer.Content, "NOT FOUND") {
			return strings.TrimSpace(answer.Content)
		}
	}
	return title
}

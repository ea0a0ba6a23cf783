package content

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	acceptWordCount   = 200
	salvageWordCount  = 100
	summaryCharLimit  = 300
)

// Result is the content acquisition stage output.
type Result struct {
	FullText          string     `json:"full_text"`
	CleanSummary      string     `json:"clean_summary"`
	PublicationDate   *time.Time `json:"publication_date,omitempty"`
	SourceDomain      string     `json:"source_domain"`
	SourceReliability float64    `json:"source_reliability"`
	ContentLength     int        `json:"content_length"`
	ExtractionMethod  string     `json:"extraction_method"`
	ExtractionSuccess bool       `json:"extraction_success"`
	Error             string     `json:"error,omitempty"`
}

// Acquirer runs the extractor cascade over one URL.
type Acquirer struct {
	fetcher  Fetcher
	renderer Renderer
	logger   *zap.Logger
}

// NewAcquirer wires the cascade. renderer may be nil when the headless
// fallback is unavailable on the host.
func NewAcquirer(fetcher Fetcher, renderer Renderer, logger *zap.Logger) *Acquirer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Acquirer{fetcher: fetcher, renderer: renderer, logger: logger}
}

type namedExtractor struct {
	name string
	run  func(page *FetchedPage) (*extractorResult, error)
}

// Acquire fetches the URL and tries extractors in order until one yields
// enough words. A last-resort salvage threshold keeps short regulator
// notices usable.
func (a *Acquirer) Acquire(ctx context.Context, pageURL string) *Result {
	result := &Result{
		SourceDomain:      domainOf(pageURL),
		SourceReliability: CredibilityFor(domainOf(pageURL)),
	}

	page, err := a.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	// Redirect targets can cross domains; score the one actually served.
	result.SourceDomain = domainOf(page.FinalURL)
	result.SourceReliability = CredibilityFor(result.SourceDomain)

	var cascade []namedExtractor
	if page.IsPDF() {
		cascade = []namedExtractor{{"pdf", extractPDF}}
	} else {
		cascade = []namedExtractor{
			{"readability", extractReadability},
			{"main_content", extractMainContent},
			{"dom_fallback", extractDOMFallback},
		}
	}

	var lastText *extractorResult
	var lastMethod string
	var lastErr error
	for _, ex := range cascade {
		extracted, err := ex.run(page)
		if err != nil {
			lastErr = err
			a.logger.Debug("extractor failed",
				zap.String("method", ex.name),
				zap.String("url", pageURL),
				zap.Error(err))
			continue
		}
		lastText, lastMethod = extracted, ex.name
		if wordCount(extracted.Text) >= acceptWordCount {
			return a.accept(result, extracted, ex.name)
		}
	}

	// Headless render for JavaScript-dependent pages.
	if a.renderer != nil && !page.IsPDF() {
		if rendered := a.tryRender(ctx, pageURL, result); rendered != nil {
			if wordCount(rendered.Text) >= acceptWordCount {
				return a.accept(result, rendered, "headless_browser")
			}
			lastText, lastMethod = rendered, "headless_browser"
		}
	}

	if lastText != nil && wordCount(lastText.Text) >= salvageWordCount {
		return a.accept(result, lastText, lastMethod)
	}

	if lastErr != nil {
		result.Error = lastErr.Error()
	} else {
		result.Error = fmt.Sprintf("content: no extractor reached %d words for %s", salvageWordCount, pageURL)
	}
	return result
}

func (a *Acquirer) tryRender(ctx context.Context, pageURL string, result *Result) *extractorResult {
	html, err := a.renderer.Render(ctx, pageURL)
	if err != nil {
		a.logger.Debug("headless render failed", zap.String("url", pageURL), zap.Error(err))
		return nil
	}
	rendered, err := extractReadability(&FetchedPage{
		Body:     []byte(html),
		FinalURL: pageURL,
	})
	if err != nil {
		return nil
	}
	return rendered
}

func (a *Acquirer) accept(result *Result, extracted *extractorResult, method string) *Result {
	result.FullText = extracted.Text
	result.CleanSummary = summarize(extracted)
	result.PublicationDate = extracted.PublishedDate
	result.ContentLength = len(extracted.Text)
	result.ExtractionMethod = method
	result.ExtractionSuccess = true
	return result
}

func summarize(extracted *extractorResult) string {
	if extracted.Summary != "" {
		return extracted.Summary
	}
	text := extracted.Text
	if len(text) <= summaryCharLimit {
		return text
	}
	cut := text[:summaryCharLimit]
	if i := strings.LastIndexAny(cut, ".!?"); i > summaryCharLimit/2 {
		return cut[:i+1]
	}
	return cut + "..."
}

func domainOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(u.Host, "www."))
}

package content

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
)

// extractorResult is one cascade attempt's output.
type extractorResult struct {
	Text          string
	Summary       string
	PublishedDate *time.Time
}

// extractReadability runs the news-article parser. It also recovers the
// outlet's published time and excerpt when the markup exposes them.
func extractReadability(page *FetchedPage) (*extractorResult, error) {
	parsedURL, err := url.Parse(page.FinalURL)
	if err != nil {
		return nil, fmt.Errorf("content: parsing article URL: %w", err)
	}
	article, err := readability.FromReader(bytes.NewReader(page.Body), parsedURL)
	if err != nil {
		return nil, fmt.Errorf("content: readability parse: %w", err)
	}
	return &extractorResult{
		Text:          normalizeWhitespace(article.TextContent),
		Summary:       strings.TrimSpace(article.Excerpt),
		PublishedDate: article.PublishedTime,
	}, nil
}

// extractMainContent scores each container element by paragraph text
// density and returns the densest block. Handles outlets whose markup
// defeats the news-article parser.
func extractMainContent(page *FetchedPage) (*extractorResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("content: parsing document: %w", err)
	}
	doc.Find("script, style, nav, header, footer, aside, form").Remove()

	var bestText string
	var bestScore int
	doc.Find("div, section, article, main").Each(func(_ int, sel *goquery.Selection) {
		var buf strings.Builder
		sel.ChildrenFiltered("p").Each(func(_ int, p *goquery.Selection) {
			t := strings.TrimSpace(p.Text())
			if len(t) > 40 {
				buf.WriteString(t)
				buf.WriteString("\n\n")
			}
		})
		if buf.Len() > bestScore {
			bestScore = buf.Len()
			bestText = buf.String()
		}
	})
	if bestText == "" {
		return nil, fmt.Errorf("content: no dense text block found")
	}
	return &extractorResult{Text: normalizeWhitespace(bestText)}, nil
}

// domFallbackSelectors are tried in order; the first match wins.
var domFallbackSelectors = []string{
	"article", ".article-content", ".post-content", "main", "#content",
}

// extractDOMFallback concatenates paragraph text within the first known
// article container.
func extractDOMFallback(page *FetchedPage) (*extractorResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("content: parsing document: %w", err)
	}

	for _, selector := range domFallbackSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		var buf strings.Builder
		sel.Find("p").Each(func(_ int, p *goquery.Selection) {
			t := strings.TrimSpace(p.Text())
			if t != "" {
				buf.WriteString(t)
				buf.WriteString("\n\n")
			}
		})
		if buf.Len() > 0 {
			return &extractorResult{Text: normalizeWhitespace(buf.String())}, nil
		}
	}
	return nil, fmt.Errorf("content: no article container matched")
}

// extractPDF pulls plain text from PDF bodies (regulator notices mostly).
func extractPDF(page *FetchedPage) (*extractorResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(page.Body), int64(len(page.Body)))
	if err != nil {
		return nil, fmt.Errorf("content: opening pdf: %w", err)
	}

	var buf strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("content: pdf produced no text")
	}
	return &extractorResult{Text: normalizeWhitespace(buf.String())}, nil
}

// Renderer produces HTML for pages that require JavaScript execution.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

// ChromeRenderer drives a headless browser for JavaScript-only outlets.
type ChromeRenderer struct {
	timeout time.Duration
}

// NewChromeRenderer builds the headless fallback with a per-page timeout.
func NewChromeRenderer(timeout time.Duration) *ChromeRenderer {
	return &ChromeRenderer{timeout: timeout}
}

func (r *ChromeRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.UserAgent(desktopUserAgent),
		)...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, r.timeout)
	defer cancelRun()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(2*time.Second),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("content: headless render of %s: %w", pageURL, err)
	}
	return html, nil
}

func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

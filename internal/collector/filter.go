package collector

import "strings"

// Noise topics that co-trigger on cyber vocabulary ("attack", "hack")
// without being incidents.
var exclusionTerms = []string{
	"fireworks", "celebration", "festival", "sports", "football", "cricket",
	"rugby", "olympic", "election", "referendum", "concert", "recipe",
	"weather", "bushfire", "flood", "lifehack", "hackathon", "growth hack",
	"movie", "film review", "box office", "horoscope",
}

// Heuristic markers of commentary rather than incident reporting.
var advisoryTerms = []string{
	"how to protect", "top 10 tips", "best practices for", "buyer's guide",
	"product review", "webinar", "whitepaper",
}

// ProgressiveFilter is the two-stage noise gate: a cheap keyword pass at
// discovery time, and a stricter pass over scraped full text before the
// pipeline spends LLM calls on it.
type ProgressiveFilter struct{}

// NewProgressiveFilter builds the shared filter.
func NewProgressiveFilter() *ProgressiveFilter {
	return &ProgressiveFilter{}
}

// DiscoveryPass gates titles and snippets at collection time. It only
// rejects obvious noise; ambiguous items flow through to the scrape stage.
func (f *ProgressiveFilter) DiscoveryPass(title, description string) bool {
	text := strings.ToLower(title + " " + description)
	if containsAny(text, exclusionTerms) {
		return false
	}
	return containsAny(text, CyberKeywords)
}

// PostScrapePass gates scraped article text before enrichment. The full
// text must still read as cyber incident coverage, not advisory content.
func (f *ProgressiveFilter) PostScrapePass(title, fullText string) bool {
	text := strings.ToLower(title + " " + fullText)
	if containsAny(text, exclusionTerms) && countMatches(text, CyberKeywords) < 2 {
		return false
	}
	if containsAny(strings.ToLower(title), advisoryTerms) {
		return false
	}
	return containsAny(text, CyberKeywords)
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

func countMatches(text string, terms []string) int {
	var n int
	for _, term := range terms {
		if strings.Contains(text, term) {
			n++
		}
	}
	return n
}

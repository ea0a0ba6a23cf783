// Package dedup collapses enriched events describing the same real-world
// incident into one canonical record. Grouping is entity-anchored: two
// events are never merged unless their primary organisations match, no
// matter how similar the prose is.
package dedup

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
)

// titleEntityPatterns extract the organisation a headline is about. First
// match wins, so the more specific verb forms come before the generic ones.
var titleEntityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(.+?)\s+(?:suffers?|suffered)\s+`),
	regexp.MustCompile(`(?i)^(.+?)\s+(?:confirms?|confirmed)\s+`),
	regexp.MustCompile(`(?i)^(.+?)\s+(?:discloses?|disclosed)\s+`),
	regexp.MustCompile(`(?i)^(.+?)\s+(?:reports?|reported)\s+`),
	regexp.MustCompile(`(?i)^(.+?)\s+(?:admits?|admitted)\s+`),
	regexp.MustCompile(`(?i)^(.+?)\s+(?:reveals?|revealed)\s+`),
	regexp.MustCompile(`(?i)^(.+?)\s+(?:hit|struck)\s+by\s+`),
	regexp.MustCompile(`(?i)^(.+?)\s+(?:targeted|breached|hacked|compromised)\b`),
	regexp.MustCompile(`(?i)^(.+?)\s+(?:falls?|fell)\s+victim\s+`),
	regexp.MustCompile(`(?i)^(.+?)\s+data\s+breach\b`),
	regexp.MustCompile(`(?i)^(.+?)\s+cyber\s*-?\s*attack\b`),
	regexp.MustCompile(`(?i)^(.+?)\s+ransomware\b`),
	regexp.MustCompile(`(?i)(?:ransomware|cyber)\s+attack\s+on\s+(.+?)(?:\s*[:,-]|$)`),
	regexp.MustCompile(`(?i)(?:data\s+breach|breach|hack)\s+(?:at|of)\s+(.+?)(?:\s*[:,-]|$)`),
	regexp.MustCompile(`(?i)^the\s+(.+?)\s+(?:hack|breach|leak|incident)\b`),
}

var corporateSuffixes = map[string]bool{
	"group": true, "ltd": true, "limited": true, "corp": true,
	"inc": true, "pty": true, "llc": true, "holdings": true,
}

var acronymStopwords = map[string]bool{
	"and": true, "of": true, "the": true, "for": true, "&": true,
}

// entityAliases maps well-known short forms to the long form they stand
// for. Compiled in; the table is small and changes rarely.
var entityAliases = map[string]string{
	"boa":     "bank of america",
	"cba":     "commonwealth bank",
	"commbank": "commonwealth bank",
	// Expansions are in normalised form (corporate suffixes dropped).
	"anz":     "australia and new zealand banking",
	"nab":     "national australia bank",
	"dfat":    "department of foreign affairs and trade",
	"uwa":     "university of western australia",
	"rmit":    "royal melbourne institute of technology",
}

const entityMatchThreshold = 0.70

var nonWordPattern = regexp.MustCompile(`[^a-z0-9\s]+`)

// extractPrimaryEntity pulls the organisation a title is about, or ""
// when no pattern applies.
func extractPrimaryEntity(title string) string {
	for _, pattern := range titleEntityPatterns {
		if m := pattern.FindStringSubmatch(title); m != nil {
			entity := strings.TrimSpace(m[1])
			if entity != "" && !isNoiseEntity(entity) {
				return entity
			}
		}
	}
	return ""
}

// isNoiseEntity rejects captures that are sentence fragments, not names.
func isNoiseEntity(entity string) bool {
	lower := strings.ToLower(entity)
	for _, noise := range []string{"multiple", "several", "australian companies", "businesses", "organisations", "organizations"} {
		if strings.HasPrefix(lower, noise) {
			return true
		}
	}
	return len(strings.Fields(entity)) > 8
}

// normalizeEntity lowercases, strips punctuation and drops corporate
// suffixes so "Acme Pty Ltd" and "Acme" compare equal.
func normalizeEntity(name string) string {
	lower := nonWordPattern.ReplaceAllString(strings.ToLower(name), " ")
	var kept []string
	for _, word := range strings.Fields(lower) {
		if corporateSuffixes[word] {
			continue
		}
		kept = append(kept, word)
	}
	return strings.Join(kept, " ")
}

// entitySimilarity scores two organisation names in [0,1] as the best of
// sequence ratio, containment, acronym expansion and the alias table.
func entitySimilarity(a, b string) float64 {
	na, nb := normalizeEntity(a), normalizeEntity(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1.0
	}

	best := sequenceRatio(na, nb)

	// One name contained in the other is near-certain: "Optus" inside
	// "Optus Communications".
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		if best < 0.95 {
			best = 0.95
		}
	}

	if acronymMatch(na, nb) && best < 0.95 {
		best = 0.95
	}

	if aliasMatch(na, nb) {
		best = 1.0
	}
	return best
}

// sequenceRatio is a normalised Levenshtein similarity.
func sequenceRatio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}

// acronymMatch expands the longer name's initials and checks the shorter
// name against them: "anz" vs "australia and new zealand banking group".
func acronymMatch(a, b string) bool {
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	shortWords := strings.Fields(short)
	if len(shortWords) == 0 || len(shortWords[0]) < 2 || len(shortWords[0]) > 6 {
		return false
	}
	acronym := shortWords[0]

	var initials strings.Builder
	for _, word := range strings.Fields(long) {
		if acronymStopwords[word] {
			continue
		}
		initials.WriteByte(word[0])
	}
	expanded := initials.String()
	if len(expanded) < 2 {
		return false
	}
	return strings.HasPrefix(expanded, acronym) || strings.HasPrefix(acronym, expanded)
}

// aliasMatch resolves both names through the alias table.
func aliasMatch(a, b string) bool {
	return aliasCovers(a, b) || aliasCovers(b, a)
}

func aliasCovers(short, long string) bool {
	for alias, expansion := range entityAliases {
		if containsWord(short, alias) && strings.Contains(long, expansion) {
			return true
		}
	}
	return false
}

func containsWord(haystack, word string) bool {
	for _, w := range strings.Fields(haystack) {
		if w == word {
			return true
		}
	}
	return false
}

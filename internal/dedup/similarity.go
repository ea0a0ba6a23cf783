package dedup

import (
	"math"
	"regexp"
	"strings"
	"time"
)

// Decision thresholds for the weighted content score.
const (
	strongIndicatorThreshold = 0.60
	standardThreshold        = 0.70
	arbiterBandLow           = 0.50
	arbiterBandHigh          = 0.85
)

// keyTermPatterns is the fixed cyber-incident vocabulary the Jaccard
// similarity runs over. Each pattern is one "term".
var keyTermPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bransomware\b`),
	regexp.MustCompile(`(?i)\bdata\s+breach\b`),
	regexp.MustCompile(`(?i)\bphishing\b`),
	regexp.MustCompile(`(?i)\bddos\b|\bdenial.of.service\b`),
	regexp.MustCompile(`(?i)\bcontact\s+cent(?:re|er)\b|\bcall\s+cent(?:re|er)\b`),
	regexp.MustCompile(`(?i)\bthird.part(?:y|ies)\b|\bvendor\b|\bsupplier\b`),
	regexp.MustCompile(`(?i)\bextortion\b|\bransom\s+demand\b`),
	regexp.MustCompile(`(?i)\bdark\s*web\b`),
	regexp.MustCompile(`(?i)\bcredential(?:s)?\b|\bpassword(?:s)?\b`),
	regexp.MustCompile(`(?i)\bmedicare\b|\bpassport\b|\bdriver'?s?\s+licen[cs]e\b`),
	regexp.MustCompile(`(?i)\bcredit\s+card\b|\bpayment\s+(?:card|details)\b`),
	regexp.MustCompile(`(?i)\bpersonal\s+(?:information|data|details)\b`),
	regexp.MustCompile(`(?i)\blockbit\b|\brevil\b|\balphv\b|\bblackcat\b|\bmedusa\b|\bcl0p\b|\bclop\b|\bakira\b`),
	regexp.MustCompile(`(?i)\bcustomer\s+(?:records|data|accounts)\b`),
	regexp.MustCompile(`(?i)\bunauthorised\s+access\b|\bunauthorized\s+access\b`),
	regexp.MustCompile(`(?i)\bexfiltrat\w+\b|\bstolen\s+data\b|\bdata\s+theft\b`),
}

// cyberVocabulary backs the description-similarity boost.
var cyberVocabulary = []string{
	"breach", "ransomware", "phishing", "malware", "hacker", "hackers",
	"attack", "attackers", "stolen", "leaked", "exposed", "compromised",
	"encrypted", "extortion", "ransom", "credentials", "passwords",
	"records", "customers", "accounts", "notified", "investigation",
	"regulator", "oaic", "forensic", "vulnerability", "exploit",
	"incident", "disclosure", "dark",
}

// genericSummaryPatterns flag aggregate-report titles that describe a
// class of incidents rather than one.
var genericSummaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmultiple\b`),
	regexp.MustCompile(`(?i)\boaic\b.*\bnotifiable\b|\bnotifiable\s+data\s+breach(?:es)?\s+report\b`),
	regexp.MustCompile(`(?i)\bcovid.themed\b`),
	regexp.MustCompile(`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{4}\b.*\b(?:roundup|round-up|summary|wrap|review)\b`),
	regexp.MustCompile(`(?i)\b(?:weekly|monthly|quarterly)\b.*\b(?:breaches|incidents|attacks)\b`),
	regexp.MustCompile(`(?i)\brise\s+in\b|\bsurge\s+in\b|\bwave\s+of\b`),
}

// dataTypeTerms anchor the strong-indicator and different-incident rules.
var dataTypeTerms = []string{
	"names", "addresses", "email", "phone", "dates of birth", "passport",
	"medicare", "licence", "license", "tax file", "credit card", "bank account",
	"health records", "medical",
}

var systemPhrases = []string{
	"contact centre", "contact center", "call centre", "call center",
	"third-party platform", "third party platform", "file transfer",
	"customer portal", "booking system", "hr system", "payroll",
}

var detectionPhrases = []string{
	"unusual activity", "suspicious activity", "detected", "discovered",
	"identified unauthorised", "identified unauthorized", "alerted by",
}

var preciseDatePattern = regexp.MustCompile(`(?i)\b\d{1,2}\s+(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{4}\b|\b\d{4}-\d{2}-\d{2}\b`)

// matchedTerms returns which keyTermPatterns fire on the text.
func matchedTerms(text string) map[int]bool {
	matches := make(map[int]bool)
	for i, pattern := range keyTermPatterns {
		if pattern.MatchString(text) {
			matches[i] = true
		}
	}
	return matches
}

// keyTermsSimilarity is the Jaccard index over matched vocabulary patterns.
func keyTermsSimilarity(a, b string) float64 {
	ma, mb := matchedTerms(a), matchedTerms(b)
	if len(ma) == 0 && len(mb) == 0 {
		return 0
	}
	intersection := 0
	for term := range ma {
		if mb[term] {
			intersection++
		}
	}
	union := len(ma) + len(mb) - intersection
	return float64(intersection) / float64(union)
}

// titleSimilarity is the best of sequence ratio, truncation similarity
// and prefix similarity, so "Optus breach" still matches a long headline
// that starts the same way.
func titleSimilarity(a, b string) float64 {
	la, lb := strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if la == "" || lb == "" {
		return 0
	}
	best := sequenceRatio(la, lb)

	if trunc := truncationSimilarity(la, lb); trunc > best {
		best = trunc
	}

	minLen := len(la)
	if len(lb) < minLen {
		minLen = len(lb)
	}
	if minLen >= 20 {
		if prefix := sequenceRatio(la[:minLen], lb[:minLen]); prefix > best {
			best = prefix
		}
	}
	return best
}

// truncationSimilarity scores 0.9 when one title's token set is contained
// in the other's, which catches feed-shortened headlines.
func truncationSimilarity(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	small, large := ta, tb
	if len(small) > len(large) {
		small, large = large, small
	}
	for token := range small {
		if !large[token] {
			return 0
		}
	}
	return 0.9
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(nonWordPattern.ReplaceAllString(strings.ToLower(s), " ")) {
		if len(tok) > 2 {
			set[tok] = true
		}
	}
	return set
}

// descriptionSimilarity compares prose with a domain-vocabulary boost:
// two accounts of the same incident share jargon even when worded apart.
func descriptionSimilarity(a, b string) float64 {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la == "" || lb == "" {
		return 0
	}

	const window = 400
	ca, cb := la, lb
	if len(ca) > window {
		ca = ca[:window]
	}
	if len(cb) > window {
		cb = cb[:window]
	}
	score := sequenceRatio(ca, cb)

	shared := 0
	for _, term := range cyberVocabulary {
		if strings.Contains(la, term) && strings.Contains(lb, term) {
			shared++
		}
	}
	if shared > 4 {
		score += math.Min(0.3, float64(shared-4)*0.1)
	}
	return math.Min(1.0, score)
}

// dateFactor discounts the score as event dates drift apart.
func dateFactor(a, b *time.Time, identicalTitles bool) float64 {
	factor := 0.8 // missing date on either side
	if a != nil && b != nil {
		days := math.Abs(a.Sub(*b).Hours() / 24)
		switch {
		case days == 0:
			factor = 1.0
		case days <= 7:
			factor = 0.98
		case days <= 30:
			factor = 0.90
		case days <= 90:
			factor = 0.80
		case days <= 180:
			factor = 0.70
		case days <= 365:
			factor = 0.60
		default:
			factor = math.Max(0.4, 1.0-days/1000)
		}
	}
	if identicalTitles && factor < 0.95 {
		factor = 0.95
	}
	return factor
}

// strongIndicators counts hard anchors shared by both accounts; each of
// the five rules contributes 0.2.
func strongIndicators(a, b *candidate) float64 {
	da, db := strings.ToLower(a.text()), strings.ToLower(b.text())
	score := 0.0

	if sharedPhrase(da, db, systemPhrases) {
		score += 0.2
	}
	if samePreciseDate(da, db) {
		score += 0.2
	}
	if sharedDataTypes(da, db) >= 2 {
		score += 0.2
	}
	if sharedPhrase(da, db, detectionPhrases) {
		score += 0.2
	}
	if sameThreatActor(a, b) {
		score += 0.2
	}
	return score
}

func sharedPhrase(a, b string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(a, phrase) && strings.Contains(b, phrase) {
			return true
		}
	}
	return false
}

func samePreciseDate(a, b string) bool {
	for _, da := range preciseDatePattern.FindAllString(a, -1) {
		for _, db := range preciseDatePattern.FindAllString(b, -1) {
			if strings.EqualFold(da, db) {
				return true
			}
		}
	}
	return false
}

func sharedDataTypes(a, b string) int {
	count := 0
	for _, term := range dataTypeTerms {
		if strings.Contains(a, term) && strings.Contains(b, term) {
			count++
		}
	}
	return count
}

func sameThreatActor(a, b *candidate) bool {
	an, bn := a.ev.AttackingEntityName, b.ev.AttackingEntityName
	if an != nil && bn != nil && !strings.EqualFold(*an, "unknown") {
		return strings.EqualFold(strings.TrimSpace(*an), strings.TrimSpace(*bn))
	}
	return false
}

// isGenericSummaryPair reports whether both titles look like aggregate
// reports covering the same ground.
func isGenericSummaryPair(titleA, titleB string) bool {
	if !matchesAnyPattern(titleA, genericSummaryPatterns) ||
		!matchesAnyPattern(titleB, genericSummaryPatterns) {
		return false
	}
	shared := 0
	tb := tokenSet(titleB)
	for token := range tokenSet(titleA) {
		if tb[token] {
			shared++
		}
	}
	return shared >= 3
}

func matchesAnyPattern(s string, patterns []*regexp.Regexp) bool {
	for _, pattern := range patterns {
		if pattern.MatchString(s) {
			return true
		}
	}
	return false
}

// isDifferentIncident separates two attacks on the same organisation:
// the affected counts are an order of magnitude apart and the structured
// attack methods (or, failing those, description anchors) disagree.
func isDifferentIncident(a, b *candidate) bool {
	ra, rb := a.ev.RecordsAffected, b.ev.RecordsAffected
	if ra == nil || rb == nil || *ra == 0 || *rb == 0 {
		return false
	}
	ratio := float64(*ra) / float64(*rb)
	if ratio < 1 {
		ratio = 1 / ratio
	}
	if ratio <= 10 {
		return false
	}

	// Structured attack-method fields are authoritative when present.
	ma, mb := a.ev.AttackMethod, b.ev.AttackMethod
	if ma != nil && mb != nil {
		return !strings.EqualFold(strings.TrimSpace(*ma), strings.TrimSpace(*mb))
	}

	// Fallback: distinct attack vocabulary in the descriptions.
	da, db := strings.ToLower(a.text()), strings.ToLower(b.text())
	anchorsA, anchorsB := attackAnchors(da), attackAnchors(db)
	if len(anchorsA) == 0 || len(anchorsB) == 0 {
		return false
	}
	for anchor := range anchorsA {
		if anchorsB[anchor] {
			return false
		}
	}
	return true
}

var attackAnchorTerms = []string{
	"ransomware", "phishing", "ddos", "credential stuffing",
	"sql injection", "insider", "supply chain", "zero-day", "brute force",
}

func attackAnchors(text string) map[string]bool {
	anchors := make(map[string]bool)
	for _, term := range attackAnchorTerms {
		if strings.Contains(text, term) {
			anchors[term] = true
		}
	}
	return anchors
}

// pairScore is the weighted content score plus the components the arbiter
// prompt and the audit trail want to see.
type pairScore struct {
	TitleSim       float64
	DescSim        float64
	KeyTermsSim    float64
	DateFactor     float64
	TypeFactor     float64
	StrongSignals  float64
	EntitySim      float64
	Combined       float64
	Threshold      float64
}

// scorePair computes the weighted similarity for one candidate pair. The
// strong-indicator branch trusts hard anchors over prose similarity.
func scorePair(a, b *candidate) pairScore {
	identicalTitles := strings.EqualFold(strings.TrimSpace(a.ev.Title), strings.TrimSpace(b.ev.Title))

	s := pairScore{
		TitleSim:      titleSimilarity(a.ev.Title, b.ev.Title),
		DescSim:       descriptionSimilarity(a.text(), b.text()),
		KeyTermsSim:   keyTermsSimilarity(a.text(), b.text()),
		DateFactor:    dateFactor(a.ev.EventDate, b.ev.EventDate, identicalTitles),
		StrongSignals: strongIndicators(a, b),
	}
	s.TypeFactor = 0.7
	if a.ev.EventType != "" && strings.EqualFold(a.ev.EventType, b.ev.EventType) {
		s.TypeFactor = 1.0
	}

	if s.StrongSignals >= 0.8 {
		s.Combined = (0.2*s.TitleSim + 0.1*math.Max(s.DescSim, 0.3) +
			0.5*s.KeyTermsSim + 0.2*s.StrongSignals) * s.DateFactor
		s.Threshold = strongIndicatorThreshold
	} else {
		s.Combined = (0.3*s.TitleSim + 0.2*s.DescSim +
			0.4*s.KeyTermsSim + 0.1*s.TypeFactor) * s.DateFactor
		s.Threshold = standardThreshold
	}
	return s
}

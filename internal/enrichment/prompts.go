package enrichment

import (
	"fmt"
	"strings"
	"time"
)

// industries is the fixed NIST-aligned category enumeration the model
// must choose from.
var industries = []string{
	"Agriculture", "Chemical", "Commercial Facilities", "Communications",
	"Critical Manufacturing", "Dams", "Defense Industrial Base",
	"Education", "Emergency Services", "Energy", "Financial Services",
	"Food and Beverage", "Government Facilities", "Healthcare",
	"Information Technology", "Nuclear", "Professional Services",
	"Retail", "Transportation Systems", "Water and Wastewater",
}

const extractionSystemPrompt = `You are a meticulous cyber security incident analyst.
You extract structured facts from news articles about cyber incidents affecting Australian organisations.
You only state what the article supports. You never guess names, dates or numbers.
You respond ONLY with a single JSON object matching the requested schema.`

const extractionUserPromptTemplate = `Analyse this article and extract the cyber security incident it reports.

ARTICLE METADATA
Title: %s
URL: %s
Publication date: %s
Source reliability: %.2f

ARTICLE TEXT (first %d characters)
%s

Return a JSON object with EXACTLY these keys:

{
  "victim": {
    "name": "organisation name or null",
    "industry": "one of the INDUSTRY CATEGORIES below, or null",
    "is_australian": true/false/null,
    "confidence": 0.0-1.0
  },
  "attacker": {
    "name": "threat actor name or null",
    "type": "ransomware group | nation state | hacktivist | insider | unknown | null",
    "confidence": 0.0-1.0
  },
  "incident": {
    "type": "data breach | ransomware | malware | phishing | ddos | credential theft | supply chain | other",
    "severity": "critical | high | medium | low | unknown",
    "incident_date": "YYYY-MM-DD or null",
    "discovery_date": "YYYY-MM-DD or null",
    "disclosure_date": "YYYY-MM-DD or null",
    "records_affected": integer or null,
    "attack_method": "short description or null",
    "summary": "2-3 sentence factual summary"
  },
  "australian_relevance": {
    "is_australian_event": true/false,
    "score": 0.0-1.0,
    "reasoning": "one sentence"
  },
  "specificity": {
    "is_specific_incident": true/false,
    "reasoning": "one sentence"
  },
  "multi_victim": {
    "is_multi_victim": true/false,
    "victim_names": ["names if several distinct victims"]
  },
  "overall_confidence": 0.0-1.0,
  "extraction_notes": "anything ambiguous"
}

VICTIM RULES. Do NOT return as the victim:
(a) organisations mentioned only for context or comparison;
(b) organisations that are merely CLIENTS of a breached vendor (the vendor is the victim);
(c) generic descriptors such as "an Australian healthcare provider" or "a major bank";
(d) people quoted as security experts or commentators.

TITLE PRIORITISATION. If the article is an aggregate or roundup post naming
several organisations, the victim is the organisation named in the TITLE.
Organisations named only in the body of a roundup are not the victim.

INDUSTRY CATEGORIES (choose exactly one or null):
%s

RECORDS AFFECTED. The integer must count PEOPLE or ACCOUNTS affected, never
transactions, dollars or bytes. Parse units: "6 million customers" is 6000000,
not 6. If the count is below 50 or above 1000000000, or the article gives no
people/account count, use null.

SPECIFICITY. is_specific_incident is true only if a reader of the article can
answer all three: (i) WHICH organisation was hit, (ii) WHAT kind of attack it
was, (iii) approximately WHEN it happened.`

func buildExtractionPrompt(title, url string, pubDate *time.Time, reliability float64, articleText string, charCap int) string {
	if charCap <= 0 {
		charCap = 8000
	}
	if len(articleText) > charCap {
		articleText = articleText[:charCap]
	}
	published := "unknown"
	if pubDate != nil {
		published = pubDate.Format("2006-01-02")
	}
	return fmt.Sprintf(extractionUserPromptTemplate,
		title, url, published, reliability, charCap, articleText,
		strings.Join(industries, ", "))
}

const factCheckSystemPrompt = `You verify claims about cyber security incidents using live web search.
You answer ONLY with a JSON object: {"verified": true/false, "confidence": 0.0-1.0, "details": "one or two sentences", "sources": ["url", ...]}.
verified is true only when independent published sources support the claim.`

func orgExistencePrompt(victim string) string {
	return fmt.Sprintf(`Is %q a real, specific organisation (not a generic description)? `+
		`Confirm it exists and operates, and note its country if you can.`, victim)
}

func incidentOccurrencePrompt(victim, date string) string {
	return fmt.Sprintf(`Did %q suffer a cyber security incident on or around %s? `+
		`Look for independent reporting of the incident.`, victim, date)
}

func attackerAttributionPrompt(attacker, victim string) string {
	return fmt.Sprintf(`Has the threat actor %q been credibly linked to an attack on %q? `+
		`Only count attributions from security researchers, officials or the victim itself.`, attacker, victim)
}

func recordCountPrompt(victim string, records int64) string {
	return fmt.Sprintf(`Did the cyber incident at %q affect approximately %d people or accounts? `+
		`Report the number you find in published sources.`, victim, records)
}

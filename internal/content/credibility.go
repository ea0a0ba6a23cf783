package content

import "strings"

// Domain credibility table used for source_reliability scoring.
// Government and major national outlets score highest, specialised cyber
// press next, general press lower, unknown domains get the floor.
var domainCredibility = map[string]float64{
	// Government and regulators
	"oaic.gov.au":          0.98,
	"cyber.gov.au":         0.98,
	"asd.gov.au":           0.97,
	"accc.gov.au":          0.95,
	"asic.gov.au":          0.95,
	"aph.gov.au":           0.95,

	// Major national outlets
	"abc.net.au":           0.93,
	"smh.com.au":           0.90,
	"theage.com.au":        0.90,
	"afr.com":              0.92,
	"theaustralian.com.au": 0.90,
	"theguardian.com":      0.90,
	"reuters.com":          0.93,
	"apnews.com":           0.92,
	"bbc.com":              0.90,

	// Specialised cyber press
	"bleepingcomputer.com": 0.92,
	"krebsonsecurity.com":  0.95,
	"therecord.media":      0.90,
	"cyberdaily.au":        0.88,
	"itnews.com.au":        0.88,
	"securityweek.com":     0.87,
	"darkreading.com":      0.86,
	"thehackernews.com":    0.85,
	"infosecurity-magazine.com": 0.85,

	// General press
	"news.com.au":          0.80,
	"9news.com.au":         0.78,
	"7news.com.au":         0.78,
	"skynews.com.au":       0.72,
	"dailymail.co.uk":      0.60,
	"nypost.com":           0.60,

	// Curated industry lists
	"webberinsurance.com.au": 0.85,
}

const unknownDomainCredibility = 0.6

// CredibilityFor scores a source domain, matching registered parents so
// subdomains inherit their outlet's score.
func CredibilityFor(domain string) float64 {
	domain = strings.ToLower(strings.TrimPrefix(domain, "www."))
	if score, ok := domainCredibility[domain]; ok {
		return score
	}
	// Walk up the label chain: media.abc.net.au matches abc.net.au.
	parts := strings.Split(domain, ".")
	for i := 1; i < len(parts)-1; i++ {
		if score, ok := domainCredibility[strings.Join(parts[i:], ".")]; ok {
			return score
		}
	}
	return unknownDomainCredibility
}

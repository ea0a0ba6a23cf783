package enrichment

import "strings"

// Process-wide organisation lists for the records-affected plausibility
// rule. Changing them requires redeploy.
var majorInternationalOrgs = []string{
	"facebook", "meta", "google", "microsoft", "apple", "amazon", "yahoo",
	"linkedin", "twitter", "adobe", "ebay", "uber", "marriott", "equifax",
	"sony", "dropbox", "canva", "zoom", "ticketmaster", "at&t", "t-mobile",
}

var majorAustralianOrgs = []string{
	"optus", "telstra", "medibank", "commonwealth bank", "westpac", "anz",
	"nab", "woolworths", "coles", "qantas", "latitude", "service nsw",
	"australia post", "afterpay", "canva", "harvey norman", "bunnings",
}

var governmentMarkers = []string{
	"government", "department", "ministry", "agency", "council", "electoral",
	".gov", "medicare", "centrelink", "ato", "taxation office",
}

// ValidateRecordsAffected applies the shared plausibility rule. It
// returns nil when the value cannot represent a credible people/account
// count for the organisation named in the title.
func ValidateRecordsAffected(v *int64, title string) *int64 {
	if v == nil {
		return nil
	}
	n := *v
	// Counts this small almost always mean the extractor missed a unit.
	if n < 50 {
		return nil
	}
	if n > 1_000_000_000 {
		return nil
	}

	lower := strings.ToLower(title)
	isInternational := matchesAny(lower, majorInternationalOrgs)
	isMajorAustralian := matchesAny(lower, majorAustralianOrgs)
	isGovernment := matchesAny(lower, governmentMarkers)

	if n > 20_000_000 && !isInternational && !isMajorAustralian && !isGovernment {
		return nil
	}
	if n > 30_000_000 && isMajorAustralian && !isInternational {
		return nil
	}
	return &n
}

func matchesAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

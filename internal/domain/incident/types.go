package incident

// SourceType identifies which collector produced a raw event.
type SourceType string

const (
	SourceNewsEvents     SourceType = "news_events"
	SourceLLMSearch      SourceType = "llm_search"
	SourceWebSearch      SourceType = "web_search"
	SourceRegulatorScrape SourceType = "regulator_scrape"
	SourceCuratedList    SourceType = "curated_list"
	SourceResearchQuery  SourceType = "research_query"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceNewsEvents, SourceLLMSearch, SourceWebSearch,
		SourceRegulatorScrape, SourceCuratedList, SourceResearchQuery:
		return true
	}
	return false
}

// Severity grades an incident's impact.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityUnknown  Severity = "unknown"
)

// ParseSeverity normalises free-form severity strings from LLM output.
func ParseSeverity(s string) Severity {
	switch Severity(normalizeLower(s)) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityMedium:
		return SeverityMedium
	case SeverityLow:
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

// EventStatus tracks an enriched or deduplicated record's lifecycle.
type EventStatus string

const (
	StatusActive     EventStatus = "active"
	StatusSuperseded EventStatus = "superseded"
	StatusRejected   EventStatus = "rejected"
)

// EntityType classifies a named entity.
type EntityType string

const (
	EntityGovernment   EntityType = "government"
	EntityBusiness     EntityType = "business"
	EntityNotForProfit EntityType = "not-for-profit"
	EntityIndividual   EntityType = "individual"
	EntityThreatActor  EntityType = "threat-actor"
	EntityOther        EntityType = "other"
)

// RelationshipType links an entity to an enriched event.
type RelationshipType string

const (
	RelationVictim    RelationshipType = "victim"
	RelationAttacker  RelationshipType = "attacker"
	RelationAffected  RelationshipType = "affected"
	RelationMentioned RelationshipType = "mentioned"
)

// ContributionType ranks a contributor inside a deduplication group.
type ContributionType string

const (
	ContributionPrimary    ContributionType = "primary"
	ContributionSupporting ContributionType = "supporting"
	ContributionDuplicate  ContributionType = "duplicate"
)

// Decision is the enrichment pipeline's final verdict for one raw event.
type Decision string

const (
	DecisionAutoAccept        Decision = "AUTO_ACCEPT"
	DecisionAcceptWithWarning Decision = "ACCEPT_WITH_WARNING"
	DecisionReject            Decision = "REJECT"
)

func normalizeLower(s string) string {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c == ' ' || c == '\t' {
			continue
		}
		b = append(b, c)
	}
	return string(b)
}

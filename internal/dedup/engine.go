package dedup

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/content"
	"github.com/auscyberwatch/incident-pipeline/internal/domain/incident"
	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/repository"
)

// deduplicationMethod versions the grouping algorithm so old canonical
// rows can be told apart from rebuilt ones.
const deduplicationMethod = "entity-anchored-v2"

const sourceSnippetLimit = 200

// candidate is one enriched event prepared for grouping: its source row,
// its linked entities and the resolved primary organisation.
type candidate struct {
	ev       *repository.EnrichedWithSource
	entities []*incident.Entity
	primary  string
}

// text is the prose the similarity heuristics inspect.
func (c *candidate) text() string {
	if c.ev.Summary != "" && c.ev.Description != "" {
		return c.ev.Description + " " + c.ev.Summary
	}
	if c.ev.Summary != "" {
		return c.ev.Summary
	}
	return c.ev.Description
}

// Matcher decides whether two candidates describe the same incident.
type Matcher struct {
	arbiter *Arbiter
	logger  *zap.Logger
}

// NewMatcher wires the pairwise similarity judge. arbiter may be nil.
func NewMatcher(arbiter *Arbiter, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{arbiter: arbiter, logger: logger}
}

// IsSimilar runs the entity gate, the heuristic detectors, the weighted
// content score and, for borderline scores, the arbiter.
func (m *Matcher) IsSimilar(ctx context.Context, a, b *candidate) bool {
	identicalTitles := strings.EqualFold(strings.TrimSpace(a.ev.Title), strings.TrimSpace(b.ev.Title))

	// Entity gate: no shared organisation, no merge.
	entitySim := 1.0
	if !identicalTitles {
		if a.primary == "" || b.primary == "" {
			return false
		}
		entitySim = entitySimilarity(a.primary, b.primary)
		if entitySim < entityMatchThreshold {
			return false
		}
	}

	// Two aggregate reports covering the same ground are one record.
	if isGenericSummaryPair(a.ev.Title, b.ev.Title) {
		return true
	}

	// Same organisation, clearly different attacks.
	if isDifferentIncident(a, b) {
		return false
	}

	score := scorePair(a, b)
	score.EntitySim = entitySim

	if score.Combined >= arbiterBandLow && score.Combined < arbiterBandHigh && m.arbiter.Available() {
		verdict, err := m.arbiter.Judge(ctx, a, b)
		if err != nil {
			m.logger.Warn("arbiter unavailable for borderline pair",
				zap.String("a", a.ev.Title), zap.String("b", b.ev.Title), zap.Error(err))
		} else if verdict.Confidence >= arbiterAcceptConfidence {
			return verdict.SameIncident
		}
	}
	return score.Combined >= score.Threshold
}

// Stats summarises one deduplication run.
type Stats struct {
	CandidateEvents int `json:"candidate_events"`
	Groups          int `json:"groups"`
	MergedGroups    int `json:"merged_groups"`
	Contributors    int `json:"contributors"`
}

// Engine rebuilds the canonical tier from the active enriched events.
type Engine struct {
	enriched repository.EnrichedEventRepository
	dedup    repository.DedupRepository
	entities repository.EntityRepository
	matcher  *Matcher
	logger   *zap.Logger
}

// NewEngine wires the deduplication run.
func NewEngine(enriched repository.EnrichedEventRepository, dedup repository.DedupRepository,
	entities repository.EntityRepository, matcher *Matcher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{enriched: enriched, dedup: dedup, entities: entities, matcher: matcher, logger: logger}
}

// Run purges the current canonical rows and regroups every active
// enriched event. Input ordering is stable (created_at ascending) so the
// same population always yields the same groups.
func (e *Engine) Run(ctx context.Context) (*Stats, error) {
	if err := e.dedup.PurgeActive(ctx); err != nil {
		return nil, fmt.Errorf("dedup: purging previous run: %w", err)
	}

	rows, err := e.enriched.ListActiveWithSource(ctx)
	if err != nil {
		return nil, fmt.Errorf("dedup: listing enriched events: %w", err)
	}

	candidates := make([]*candidate, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, e.prepare(ctx, row))
	}

	stats := &Stats{CandidateEvents: len(candidates)}
	for _, group := range e.formGroups(ctx, candidates) {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		ev, mappings, sources := e.merge(group)
		if err := e.dedup.CreateGroup(ctx, ev, mappings, sources); err != nil {
			return stats, fmt.Errorf("dedup: persisting group %q: %w", ev.Title, err)
		}
		stats.Groups++
		stats.Contributors += len(group)
		if len(group) > 1 {
			stats.MergedGroups++
		}
		e.logger.Info("canonical event written",
			zap.String("dedup_id", ev.ID.String()),
			zap.String("title", ev.Title),
			zap.Int("contributors", len(group)))
	}
	return stats, nil
}

// prepare resolves the candidate's primary organisation: the linked
// victim entity when one exists, else the title.
func (e *Engine) prepare(ctx context.Context, row *repository.EnrichedWithSource) *candidate {
	c := &candidate{ev: row}

	linked, err := e.entities.ListForEnriched(ctx, row.ID)
	if err != nil {
		e.logger.Warn("loading entities for enriched event failed",
			zap.String("enriched_id", row.ID.String()), zap.Error(err))
	} else {
		c.entities = linked
	}

	for _, entity := range c.entities {
		if entity.Type != incident.EntityThreatActor {
			c.primary = entity.Name
			break
		}
	}
	if c.primary == "" {
		c.primary = extractPrimaryEntity(row.Title)
	}
	return c
}

// formGroups is the linear sweep: each ungrouped event seeds a group and
// absorbs every later event similar to it.
func (e *Engine) formGroups(ctx context.Context, candidates []*candidate) [][]*candidate {
	grouped := make([]bool, len(candidates))
	var groups [][]*candidate

	for i, seed := range candidates {
		if grouped[i] {
			continue
		}
		grouped[i] = true
		group := []*candidate{seed}
		for j := i + 1; j < len(candidates); j++ {
			if grouped[j] {
				continue
			}
			if e.matcher.IsSimilar(ctx, seed, candidates[j]) {
				grouped[j] = true
				group = append(group, candidates[j])
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// merge builds the canonical record for one group.
func (e *Engine) merge(group []*candidate) (*incident.DeduplicatedEvent, []incident.DedupMapping, []incident.DedupSource) {
	master := group[0]
	for _, member := range group[1:] {
		if member.ev.ConfidenceScore > master.ev.ConfidenceScore {
			master = member
		}
	}

	now := time.Now().UTC()
	ev := &incident.DeduplicatedEvent{
		ID:                         uuid.New(),
		MasterEnrichedID:           master.ev.ID,
		Title:                      longestTitle(group),
		Description:                longestDescription(group),
		Summary:                    master.ev.Summary,
		EventType:                  master.ev.EventType,
		Severity:                   master.ev.Severity,
		EventDate:                  bestEventDate(group, master),
		RecordsAffected:            master.ev.RecordsAffected,
		IsAustralianEvent:          master.ev.IsAustralianEvent,
		IsSpecificEvent:            master.ev.IsSpecificEvent,
		AustralianRelevanceScore:   master.ev.AustralianRelevanceScore,
		AttackingEntityName:        firstAttacker(group, master),
		AttackMethod:               master.ev.AttackMethod,
		SimilarityScore:            meanTitleSimilarity(group),
		DeduplicationMethod:        deduplicationMethod,
		Status:                     incident.StatusActive,
		ContributingEnrichedEvents: len(group),
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}

	victim := firstVictim(group, master)
	if victim != nil {
		name := victim.Name
		ev.VictimOrganizationName = &name
		ev.VictimOrganizationIndustry = victim.Industry
	}
	if ev.RecordsAffected == nil {
		for _, member := range group {
			if member.ev.RecordsAffected != nil {
				ev.RecordsAffected = member.ev.RecordsAffected
				break
			}
		}
	}

	sources := consolidateSources(ev.ID, group)
	ev.TotalDataSources = len(sources)
	ev.ContributingRawEvents = countDistinctRaw(group)
	ev.ConfidenceScore = canonicalConfidence(master.ev.ConfidenceScore, len(sources))

	mappings := buildMappings(ev.ID, master, group)
	return ev, mappings, sources
}

// canonicalConfidence rewards corroboration: each extra source adds 0.1
// up to three.
func canonicalConfidence(masterConfidence float64, sourceCount int) float64 {
	bonus := 0.1 * float64(min(sourceCount, 3))
	if c := masterConfidence + bonus; c < 1.0 {
		return c
	}
	return 1.0
}

func longestTitle(group []*candidate) string {
	best := ""
	for _, member := range group {
		if len(member.ev.Title) > len(best) {
			best = member.ev.Title
		}
	}
	return best
}

func longestDescription(group []*candidate) string {
	best := ""
	for _, member := range group {
		if len(member.ev.Description) > len(best) {
			best = member.ev.Description
		}
	}
	return best
}

// bestEventDate prefers the earliest date that is not a first-of-month
// placeholder, then the earliest placeholder, then the master's date.
func bestEventDate(group []*candidate, master *candidate) *time.Time {
	var earliest, earliestPlaceholder *time.Time
	for _, member := range group {
		d := member.ev.EventDate
		if d == nil {
			continue
		}
		if d.Day() == 1 {
			if earliestPlaceholder == nil || d.Before(*earliestPlaceholder) {
				earliestPlaceholder = d
			}
			continue
		}
		if earliest == nil || d.Before(*earliest) {
			earliest = d
		}
	}
	if earliest != nil {
		return earliest
	}
	if earliestPlaceholder != nil {
		return earliestPlaceholder
	}
	return master.ev.EventDate
}

// firstVictim walks the group master-first and returns the first linked
// non-threat-actor entity; the first seen wins its type attributes.
func firstVictim(group []*candidate, master *candidate) *incident.Entity {
	ordered := append([]*candidate{master}, withoutMember(group, master)...)
	seen := make(map[string]bool)
	for _, member := range ordered {
		for _, entity := range member.entities {
			key := strings.ToLower(entity.Name)
			if seen[key] {
				continue
			}
			seen[key] = true
			if entity.Type != incident.EntityThreatActor {
				return entity
			}
		}
	}
	return nil
}

func firstAttacker(group []*candidate, master *candidate) *string {
	if master.ev.AttackingEntityName != nil {
		return master.ev.AttackingEntityName
	}
	for _, member := range group {
		if member.ev.AttackingEntityName != nil {
			return member.ev.AttackingEntityName
		}
	}
	return nil
}

// consolidateSources unions the contributors' source URLs.
func consolidateSources(dedupID uuid.UUID, group []*candidate) []incident.DedupSource {
	seen := make(map[string]bool)
	var sources []incident.DedupSource
	for _, member := range group {
		if member.ev.SourceURL == nil || *member.ev.SourceURL == "" {
			continue
		}
		sourceURL := *member.ev.SourceURL
		if seen[sourceURL] {
			continue
		}
		seen[sourceURL] = true
		sources = append(sources, incident.DedupSource{
			DedupID:          dedupID,
			SourceURL:        sourceURL,
			SourceType:       member.ev.SourceType,
			CredibilityScore: content.CredibilityFor(hostOf(sourceURL)),
			ContentSnippet:   snippet(member.ev.Summary, member.ev.Description),
			DiscoveredAt:     member.ev.SourceDiscovered,
		})
	}
	return sources
}

// buildMappings ranks contributors by similarity to the master: primary,
// up to two supporting, the rest duplicates.
func buildMappings(dedupID uuid.UUID, master *candidate, group []*candidate) []incident.DedupMapping {
	others := withoutMember(group, master)
	sort.SliceStable(others, func(i, j int) bool {
		return titleSimilarity(others[i].ev.Title, master.ev.Title) >
			titleSimilarity(others[j].ev.Title, master.ev.Title)
	})

	mappings := []incident.DedupMapping{{
		RawID:              master.ev.RawID,
		EnrichedID:         master.ev.ID,
		DedupID:            dedupID,
		ContributionType:   incident.ContributionPrimary,
		SimilarityToMaster: 1.0,
		Weight:             1.0,
	}}
	for i, member := range others {
		contribution := incident.ContributionDuplicate
		if i < 2 {
			contribution = incident.ContributionSupporting
		}
		sim := titleSimilarity(member.ev.Title, master.ev.Title)
		mappings = append(mappings, incident.DedupMapping{
			RawID:              member.ev.RawID,
			EnrichedID:         member.ev.ID,
			DedupID:            dedupID,
			ContributionType:   contribution,
			SimilarityToMaster: sim,
			Weight:             sim,
		})
	}
	return mappings
}

// meanTitleSimilarity is the intra-cluster average over all pairs; a
// singleton group scores 1.0.
func meanTitleSimilarity(group []*candidate) float64 {
	if len(group) < 2 {
		return 1.0
	}
	var sum float64
	var pairs int
	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			sum += titleSimilarity(group[i].ev.Title, group[j].ev.Title)
			pairs++
		}
	}
	return sum / float64(pairs)
}

func countDistinctRaw(group []*candidate) int {
	seen := make(map[uuid.UUID]bool)
	for _, member := range group {
		seen[member.ev.RawID] = true
	}
	return len(seen)
}

func withoutMember(group []*candidate, exclude *candidate) []*candidate {
	var rest []*candidate
	for _, member := range group {
		if member != exclude {
			rest = append(rest, member)
		}
	}
	return rest
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(u.Host, "www."))
}

func snippet(summary, description string) string {
	text := summary
	if text == "" {
		text = description
	}
	if len(text) > sourceSnippetLimit {
		return text[:sourceSnippetLimit]
	}
	return text
}

package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/auscyberwatch/incident-pipeline/internal/infrastructure/llm"
)

// arbiterAcceptConfidence is the minimum verdict confidence the matcher
// will act on; below it the weighted score decides.
const arbiterAcceptConfidence = 0.7

const arbiterSystemPrompt = `You judge whether two news reports describe the SAME cyber security incident.
Respond ONLY with JSON: {"same_incident": true/false, "confidence": 0.0-1.0, "reasoning": "one or two sentences"}.`

const searchArbiterTemplate = `Do these two reports describe the same cyber security incident?

REPORT A
Title: %s
Organisation: %s
Event date: %s
Details: %s

REPORT B
Title: %s
Organisation: %s
Event date: %s
Details: %s

Use web search to check whether the organisation suffered one incident or several in this period.`

const llmArbiterTemplate = `Do these two reports describe the same cyber security incident?

REPORT A
Title: %s
Organisation: %s
Event date: %s
Details: %s

REPORT B
Title: %s
Organisation: %s
Event date: %s
Details: %s

Be conservative: answer same_incident=true ONLY if the reports agree on at
least TWO independent anchors from this list:
- the same threat actor or the same tactics;
- the same affected system or site;
- the same data types at a similar scale;
- the same regulator reference or incident identifier.
One shared anchor, or mere similarity of wording, is NOT enough.`

// Verdict is the arbiter's same-incident judgment.
type Verdict struct {
	SameIncident bool    `json:"same_incident"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

// Arbiter resolves borderline similarity scores. The search-grounded
// client is preferred; the reasoning client is the conservative fallback.
// Either may be nil.
type Arbiter struct {
	search    llm.SearchGroundedLLM
	reasoning llm.ReasoningLLM
	logger    *zap.Logger
}

// NewArbiter wires the borderline-pair judge.
func NewArbiter(search llm.SearchGroundedLLM, reasoning llm.ReasoningLLM, logger *zap.Logger) *Arbiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Arbiter{search: search, reasoning: reasoning, logger: logger}
}

// Available reports whether any arbiter backend is configured.
func (a *Arbiter) Available() bool {
	return a != nil && (a.search != nil || a.reasoning != nil)
}

// Judge asks for a same-incident verdict on one candidate pair.
func (a *Arbiter) Judge(ctx context.Context, x, y *candidate) (*Verdict, error) {
	if a.search != nil {
		verdict, err := a.judgeSearch(ctx, x, y)
		if err == nil {
			return verdict, nil
		}
		a.logger.Warn("search arbiter failed, falling back", zap.Error(err))
	}
	if a.reasoning != nil {
		return a.judgeReasoning(ctx, x, y)
	}
	return nil, fmt.Errorf("dedup: no arbiter backend available")
}

func (a *Arbiter) judgeSearch(ctx context.Context, x, y *candidate) (*Verdict, error) {
	answer, err := a.search.Search(ctx, arbiterSystemPrompt, arbiterPrompt(searchArbiterTemplate, x, y))
	if err != nil {
		return nil, err
	}
	return parseVerdict(answer.Content)
}

func (a *Arbiter) judgeReasoning(ctx context.Context, x, y *candidate) (*Verdict, error) {
	response, err := a.reasoning.CompleteJSON(ctx, arbiterSystemPrompt, arbiterPrompt(llmArbiterTemplate, x, y))
	if err != nil {
		return nil, err
	}
	return parseVerdict(response)
}

func arbiterPrompt(template string, x, y *candidate) string {
	return fmt.Sprintf(template,
		x.ev.Title, x.primary, formatEventDate(x.ev.EventDate), truncateText(x.text(), 600),
		y.ev.Title, y.primary, formatEventDate(y.ev.EventDate), truncateText(y.text(), 600))
}

func parseVerdict(content string) (*Verdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("dedup: arbiter returned no JSON object")
	}
	var verdict Verdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &verdict); err != nil {
		return nil, fmt.Errorf("dedup: parsing arbiter verdict: %w", err)
	}
	return &verdict, nil
}

func formatEventDate(d *time.Time) string {
	if d == nil {
		return "unknown"
	}
	return d.Format("2006-01-02")
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

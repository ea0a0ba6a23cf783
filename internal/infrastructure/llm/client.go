// Package llm provides thin chat-completion clients for the reasoning and
// search-grounded providers used by enrichment, dedup arbitration and
// Perplexity backfill.
package llm

import "context"

// ReasoningLLM runs a structured-output completion and returns the raw
// JSON string emitted by the model.
type ReasoningLLM interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// SearchGroundedLLM answers with live web grounding and returns the raw
// response text plus any citation URLs the provider supplies.
type SearchGroundedLLM interface {
	Search(ctx context.Context, systemPrompt, userPrompt string) (*GroundedAnswer, error)
}

// GroundedAnswer is a search-grounded completion with its citations.
type GroundedAnswer struct {
	Content   string   `json:"content"`
	Citations []string `json:"citations,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func chatMessages(systemPrompt, userPrompt string) []chatMessage {
	msgs := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: userPrompt})
	return msgs
}

package pipeline

import (
	"context"
	"strings"

	"github.com/korahq/kora/internal/llmjson"
	"github.com/korahq/kora/internal/prompt"
)

// DefaultTitle is used whenever title generation cannot produce one.
const DefaultTitle = "Untitled"

// maxFollowUps bounds the follow-up suggestions returned to the client.
const maxFollowUps = 3

// Fallback explains why no answer could be produced and what to try next.
type Fallback struct {
	Reasoning  string
	Suggestion string
}

// GenerateFallback produces a structured explanation when retrieval yielded
// no usable context for the query.
func (p *Pipeline) GenerateFallback(ctx context.Context, req Request) (Fallback, error) {
	system := "The workspace search found nothing usable for the user's query. Explain briefly why that might be and suggest how to rephrase or where to look. Respond with a JSON object {\"reasoning\": string, \"suggestion\": string}."
	text, _, err := p.converseSystem(ctx, req, system, true)
	if err != nil {
		return Fallback{}, err
	}
	m := llmjson.ParseWithKey(text, "reasoning")
	return Fallback{
		Reasoning:  llmjson.String(m, "reasoning"),
		Suggestion: llmjson.String(m, "suggestion"),
	}, nil
}

// GenerateTitleUsingQuery names a new conversation after its first query.
// Failures of any kind fall back to [DefaultTitle]; this operation is never
// fatal to the chat flow.
func (p *Pipeline) GenerateTitleUsingQuery(ctx context.Context, req Request) string {
	text, _, err := p.converse(ctx, req, prompt.TitleGeneration, true)
	if err != nil {
		return DefaultTitle
	}
	title := strings.TrimSpace(llmjson.String(llmjson.ParseWithKey(text, "title"), "title"))
	if title == "" {
		return DefaultTitle
	}
	return title
}

// GenerateFollowUpQuestions suggests what the user might ask next. Invalid
// entries are filtered out, never cause the whole list to be rejected.
func (p *Pipeline) GenerateFollowUpQuestions(ctx context.Context, req Request) ([]string, error) {
	text, _, err := p.converse(ctx, req, prompt.FollowUp, true)
	if err != nil {
		return nil, err
	}
	raw := llmjson.StringSlice(llmjson.ParseWithKey(text, "followUps"), "followUps")

	var out []string
	for _, q := range raw {
		q = strings.TrimSpace(q)
		if q == "" || !strings.HasSuffix(q, "?") {
			continue
		}
		out = append(out, q)
		if len(out) == maxFollowUps {
			break
		}
	}
	return out, nil
}

// TemporalDirection classifies whether a query asks about the past, the
// future, or neither.
type TemporalDirection string

const (
	DirectionPast     TemporalDirection = "past"
	DirectionUpcoming TemporalDirection = "upcoming"
	DirectionNone     TemporalDirection = "none"
)

// ClassifyTemporalDirection determines the time-direction of a query so
// retrieval can bias toward calendar or history sources.
func (p *Pipeline) ClassifyTemporalDirection(ctx context.Context, req Request) (TemporalDirection, error) {
	text, _, err := p.converse(ctx, req, prompt.TemporalDirectionJSON, true)
	if err != nil {
		return DirectionNone, err
	}
	switch llmjson.String(llmjson.ParseWithKey(text, "direction"), "direction") {
	case "past":
		return DirectionPast, nil
	case "upcoming":
		return DirectionUpcoming, nil
	}
	return DirectionNone, nil
}

// GeneratePromptFromRequirements expands free-form agent requirements into
// a reusable persona prompt body.
func (p *Pipeline) GeneratePromptFromRequirements(ctx context.Context, req Request) (string, error) {
	system := "Write a reusable system prompt for an assistant persona from the user's requirements. Address the assistant in second person, state scope and tone, and keep it under 200 words. Respond with a JSON object {\"prompt\": string}."
	text, _, err := p.converseSystem(ctx, req, system, true)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(llmjson.String(llmjson.ParseWithKey(text, "prompt"), "prompt")), nil
}

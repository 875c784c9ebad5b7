package pipeline

import (
	"context"
	"strconv"
	"strings"

	"github.com/korahq/kora/internal/llmjson"
	"github.com/korahq/kora/internal/prompt"
	"github.com/korahq/kora/pkg/ai"
)

// RAGAnswer is the decoded result of a JSON RAG call.
type RAGAnswer struct {
	Answer    string
	Citations []int
	Reasoning string
	Cost      *ai.Cost
}

// Answered reports whether the model produced a usable answer. A null or
// empty answer means the context was insufficient.
func (a RAGAnswer) Answered() bool {
	return strings.TrimSpace(a.Answer) != ""
}

// selectRAGPrompt picks the prompt variant shared by the three RAG entry
// points. A pinned file scope takes precedence over the reasoning flag: a
// knowledge-base bundle selects the kb variant, any other pinned bundle the
// files variant. Otherwise reasoning selects the reasoning variant and the
// plain JSON variant is the default; the synchronous text entry point drops
// to the non-JSON baseline.
func selectRAGPrompt(req Request, jsonMode bool) prompt.Variant {
	if req.SpecificFiles {
		if req.Bundle.Kind == BundleKB {
			return prompt.KBItemsJSON
		}
		return prompt.FilesContextJSON
	}
	if !jsonMode {
		return prompt.Baseline
	}
	if req.Reasoning {
		return prompt.BaselineReasoningJSON
	}
	return prompt.BaselineJSON
}

// AnswerOrSearch is the single-call streaming entry point for a question
// over already-retrieved context.
func (p *Pipeline) AnswerOrSearch(ctx context.Context, req Request) (<-chan ai.ConverseResponse, error) {
	variant := selectRAGPrompt(req, false)
	if req.WebSearch {
		variant = prompt.WebSearch
	}
	return p.converseStream(ctx, req, variant, false)
}

// BaselineRAG answers synchronously in plain text. Inline think tags are
// split into the reasoning field.
func (p *Pipeline) BaselineRAG(ctx context.Context, req Request) (RAGAnswer, error) {
	text, cost, err := p.converse(ctx, req, selectRAGPrompt(req, false), false)
	if err != nil {
		return RAGAnswer{}, err
	}
	reasoning, answer := SplitReasoningText(text)
	return RAGAnswer{Answer: answer, Reasoning: reasoning, Cost: cost}, nil
}

// BaselineRAGJSON answers synchronously with machine-readable citations.
func (p *Pipeline) BaselineRAGJSON(ctx context.Context, req Request) (RAGAnswer, error) {
	text, cost, err := p.converse(ctx, req, selectRAGPrompt(req, true), true)
	if err != nil {
		return RAGAnswer{}, err
	}
	reasoning, body := SplitReasoningText(text)
	m := llmjson.Parse(body)
	return RAGAnswer{
		Answer:    llmjson.String(m, "answer"),
		Citations: intSlice(m, "citations"),
		Reasoning: reasoning,
		Cost:      cost,
	}, nil
}

// BaselineRAGJSONStream streams the JSON RAG answer progressively: the raw
// model stream is re-parsed on every delta and only the growth of the
// answer field is forwarded as text, so consumers render prose while the
// model is still inside the JSON envelope. Citations surface as citation
// events resolved against the bundle.
func (p *Pipeline) BaselineRAGJSONStream(ctx context.Context, req Request) (<-chan ai.ConverseResponse, error) {
	raw, err := p.converseStream(ctx, req, selectRAGPrompt(req, true), true)
	if err != nil {
		return nil, err
	}

	out := make(chan ai.ConverseResponse, 32)
	go func() {
		defer close(out)

		var acc strings.Builder
		emitted := 0
		cited := make(map[int]bool)

		for ev := range raw {
			if ev.Text == "" {
				out <- ev
				continue
			}
			acc.WriteString(ev.Text)
			m := llmjson.Parse(acc.String())

			// The answer field only ever grows, so the suffix is the delta.
			if ans := llmjson.String(m, "answer"); len(ans) > emitted {
				out <- ai.ConverseResponse{Text: ans[emitted:]}
				emitted = len(ans)
			}
			for _, idx := range intSlice(m, "citations") {
				if cited[idx] {
					continue
				}
				cited[idx] = true
				out <- ai.ConverseResponse{Citation: req.Bundle.citation(idx)}
			}
		}
	}()
	return out, nil
}

// citation resolves a citation index against the bundle's fragments.
func (b Bundle) citation(idx int) *ai.Citation {
	for _, f := range b.Fragments {
		if f.Index == idx {
			return &ai.Citation{Index: idx, URL: f.Source, Title: f.Title}
		}
	}
	return &ai.Citation{Index: idx}
}

// RewriteQuery fans the user query into rewrite candidates. Blank
// candidates are dropped and the rest trimmed.
func (p *Pipeline) RewriteQuery(ctx context.Context, req Request) ([]string, error) {
	text, _, err := p.converse(ctx, req, prompt.QueryRewriteJSON, true)
	if err != nil {
		return nil, err
	}
	m := llmjson.ParseWithKey(text, "queryRewrite")
	var out []string
	for _, q := range llmjson.StringSlice(m, "queryRewrite") {
		out = append(out, strings.TrimSpace(q))
	}
	return out, nil
}

// ContextAnalysis is the outcome of an initial-retrieval sufficiency check.
type ContextAnalysis struct {
	CanAnswer    bool
	Answer       RAGAnswer
	QueryRewrite []string
}

// AnalyzeInitialResultsOrRewrite attempts an answer over the first
// retrieval round; when the model declares the context insufficient it runs
// the rewrite prompt and returns candidates for a second round.
func (p *Pipeline) AnalyzeInitialResultsOrRewrite(ctx context.Context, req Request) (ContextAnalysis, error) {
	ans, err := p.BaselineRAGJSON(ctx, req)
	if err != nil {
		return ContextAnalysis{}, err
	}
	if ans.Answered() {
		return ContextAnalysis{CanAnswer: true, Answer: ans}, nil
	}
	rewrites, err := p.RewriteQuery(ctx, req)
	if err != nil {
		return ContextAnalysis{}, err
	}
	return ContextAnalysis{QueryRewrite: rewrites}, nil
}

// AnalyzeInitialResultsOrRewriteV2 folds the sufficiency check and the
// rewrite into a single model call: the answer contract is extended so an
// insufficient context comes back as a null answer plus rewrite candidates.
func (p *Pipeline) AnalyzeInitialResultsOrRewriteV2(ctx context.Context, req Request) (ContextAnalysis, error) {
	system := prompt.Assemble(selectRAGPrompt(req, true), req.promptInputs()) +
		"\nIf the context is insufficient, respond instead with {\"answer\": null, \"queryRewrite\": [string]} proposing search queries that would retrieve better context.\n"

	text, cost, err := p.converseSystem(ctx, req, system, true)
	if err != nil {
		return ContextAnalysis{}, err
	}
	reasoning, body := SplitReasoningText(text)
	m := llmjson.Parse(body)

	answer := llmjson.String(m, "answer")
	if strings.TrimSpace(answer) == "" {
		return ContextAnalysis{QueryRewrite: llmjson.StringSlice(m, "queryRewrite")}, nil
	}
	return ContextAnalysis{
		CanAnswer: true,
		Answer: RAGAnswer{
			Answer:    answer,
			Citations: intSlice(m, "citations"),
			Reasoning: reasoning,
			Cost:      cost,
		},
	}, nil
}

// intSlice reads a list of integers from a parsed object, accepting the
// numeric and string encodings models alternate between.
func intSlice(m map[string]any, key string) []int {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	var out []int
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, int(n))
		case string:
			if i, err := strconv.Atoi(strings.Trim(strings.TrimSpace(n), "[]")); err == nil {
				out = append(out, i)
			}
		}
	}
	return out
}

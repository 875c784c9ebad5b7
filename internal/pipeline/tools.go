package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/korahq/kora/internal/llmjson"
	"github.com/korahq/kora/internal/prompt"
	"github.com/korahq/kora/pkg/ai"
)

// ToolDescriptor is one entry of the catalog offered to the model during
// tool selection.
type ToolDescriptor struct {
	Name        string
	Description string
	Schema      string
}

// PastAction records a tool call already taken in this agentic loop.
type PastAction struct {
	Tool      string
	Arguments map[string]any
	Summary   string
}

// ToolSelection is the model's pick for the next step. An empty Tool name
// means the gathered context suffices and the loop should stop.
type ToolSelection struct {
	Tool         string
	Arguments    map[string]any
	QueryRewrite string
	Reasoning    string
}

// GenerateToolSelectionOutput asks the model to pick the next tool given
// the catalog and the actions already taken.
func (p *Pipeline) GenerateToolSelectionOutput(ctx context.Context, req Request, tools []ToolDescriptor, past []PastAction) (ToolSelection, error) {
	in := req.promptInputs()
	in.ToolCatalog = renderCatalog(tools)
	in.PastActions = renderPast(past)

	text, _, err := p.converseSystem(ctx, req, prompt.Assemble(prompt.ToolSelection, in), true)
	if err != nil {
		return ToolSelection{}, err
	}

	m := llmjson.ParseWithKey(text, "tool")
	sel := ToolSelection{
		Tool:         strings.TrimSpace(llmjson.String(m, "tool")),
		QueryRewrite: strings.TrimSpace(llmjson.String(m, "queryRewrite")),
		Reasoning:    llmjson.String(m, "reasoning"),
	}
	if args, ok := m["arguments"].(map[string]any); ok {
		sel.Arguments = args
	}
	if sel.Tool == "none" {
		sel.Tool = ""
	}
	return sel, nil
}

// GenerateAnswerBasedOnToolOutput streams the final answer over the output
// of the last tool call.
func (p *Pipeline) GenerateAnswerBasedOnToolOutput(ctx context.Context, req Request, toolOutput string) (<-chan ai.ConverseResponse, error) {
	req.Bundle = Bundle{
		Kind:      BundleGeneric,
		Fragments: []Fragment{{Index: 1, Title: "tool output", Text: toolOutput}},
	}
	req.SpecificFiles = false
	return p.BaselineRAGJSONStream(ctx, req)
}

// GenerateSynthesisBasedOnToolOutput collapses the fragments gathered over
// several tool calls into one answer.
func (p *Pipeline) GenerateSynthesisBasedOnToolOutput(ctx context.Context, req Request, fragments []string) (RAGAnswer, error) {
	var frs []Fragment
	for i, f := range fragments {
		if strings.TrimSpace(f) == "" {
			continue
		}
		frs = append(frs, Fragment{Index: i + 1, Text: f})
	}
	req.Bundle = Bundle{Kind: BundleGeneric, Fragments: frs}

	text, cost, err := p.converse(ctx, req, prompt.Synthesis, true)
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

// renderCatalog serializes the tool catalog for the prompt. Disabled tools
// are expected to be filtered out by the caller.
func renderCatalog(tools []ToolDescriptor) string {
	var b strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s", t.Name, t.Description)
		if t.Schema != "" {
			fmt.Fprintf(&b, "\n  arguments schema: %s", t.Schema)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func renderPast(past []PastAction) string {
	var b strings.Builder
	for _, a := range past {
		fmt.Fprintf(&b, "- %s(%s)", a.Tool, renderArgs(a.Arguments))
		if a.Summary != "" {
			fmt.Fprintf(&b, " -> %s", a.Summary)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func renderArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, 0, len(args))
	for k, v := range args {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	// Deterministic order keeps prompts and logs stable.
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

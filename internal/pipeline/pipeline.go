// Package pipeline orchestrates the agentic query flow: prompt selection,
// driver calls, progressive decoding of structured model output, and the
// small helper generations (titles, follow-ups, rewrites) around a chat
// session.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/korahq/kora/internal/prompt"
	"github.com/korahq/kora/internal/registry"
	"github.com/korahq/kora/pkg/ai"
)

// DriverResolver resolves a model identifier to a driver. Implemented by
// *registry.Registry; tests substitute fakes.
type DriverResolver interface {
	DriverForModel(ctx context.Context, modelID string) (ai.Driver, registry.ModelDescriptor, error)
}

// BundleKind tags what a retrieval bundle contains. The kind steers prompt
// selection.
type BundleKind string

const (
	BundleGeneric BundleKind = "generic"
	BundleFiles   BundleKind = "files"
	BundleKB      BundleKind = "kb"
	BundleEmail   BundleKind = "email"
	BundleMeeting BundleKind = "meeting"
)

// Fragment is one retrieved passage. Index is the citation token the model
// refers back to.
type Fragment struct {
	Index  int
	Title  string
	Source string
	Text   string
}

// Bundle is the retrieval result handed to the pipeline.
type Bundle struct {
	Kind      BundleKind
	Fragments []Fragment
}

// Render serializes the bundle in the "Index N" form the prompt layer
// rewrites into citation tokens.
func (b Bundle) Render() string {
	var sb strings.Builder
	for _, f := range b.Fragments {
		fmt.Fprintf(&sb, "Index %d", f.Index)
		if f.Title != "" {
			fmt.Fprintf(&sb, " (%s)", f.Title)
		}
		sb.WriteString(":\n")
		sb.WriteString(strings.TrimSpace(f.Text))
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// Empty reports whether the bundle holds no usable context.
func (b Bundle) Empty() bool {
	for _, f := range b.Fragments {
		if strings.TrimSpace(f.Text) != "" {
			return false
		}
	}
	return true
}

// Request carries one pipeline invocation. ModelID selects the driver;
// everything else shapes the prompt.
type Request struct {
	Query           string
	ModelID         string
	UserContext     string
	Date            string
	AgentPromptBlob string
	Bundle          Bundle

	// SpecificFiles is set when the caller pinned the retrieval scope to
	// named documents rather than a workspace-wide search.
	SpecificFiles bool

	Reasoning bool
	WebSearch bool

	// Messages are prior turns prepended before the current query.
	Messages []ai.Message
}

// Pipeline wires the driver registry, prompt library, and parser together.
type Pipeline struct {
	resolver DriverResolver
	log      *slog.Logger
}

// New builds a Pipeline. log may be nil.
func New(resolver DriverResolver, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{resolver: resolver, log: log}
}

// promptInputs maps a request onto the prompt layer's inputs.
func (req Request) promptInputs() prompt.Inputs {
	return prompt.Inputs{
		UserContext:      req.UserContext,
		RetrievedContext: req.Bundle.Render(),
		Date:             req.Date,
		Agent:            prompt.ParseAgentPrompt(req.AgentPromptBlob),
	}
}

// params builds the driver parameters for a request.
func (req Request) params(system string, jsonMode bool) ai.ModelParams {
	return ai.ModelParams{
		ModelID:      req.ModelID,
		SystemPrompt: system,
		JSONMode:     jsonMode,
		Reasoning:    req.Reasoning,
		WebSearch:    req.WebSearch,
		AgentPrompt:  req.AgentPromptBlob,
		Messages:     req.Messages,
	}.WithDefaults()
}

// converse runs a synchronous generation with the given prompt variant.
func (p *Pipeline) converse(ctx context.Context, req Request, variant prompt.Variant, jsonMode bool) (string, *ai.Cost, error) {
	return p.converseSystem(ctx, req, prompt.Assemble(variant, req.promptInputs()), jsonMode)
}

// converseSystem runs a synchronous generation with an explicit system
// prompt, for operations that extend a variant's output contract.
func (p *Pipeline) converseSystem(ctx context.Context, req Request, system string, jsonMode bool) (string, *ai.Cost, error) {
	drv, desc, err := p.resolver.DriverForModel(ctx, req.ModelID)
	if err != nil {
		return "", nil, err
	}
	params := req.params(system, jsonMode)
	params.ModelID = desc.WireName

	text, cost, err := drv.Converse(ctx, []ai.Message{{Role: ai.RoleUser, Content: req.Query}}, params)
	if err != nil {
		p.log.ErrorContext(ctx, "model call failed",
			slog.String("model", req.ModelID),
			slog.String("kind", string(ai.Classify(err))))
		return "", nil, err
	}
	return text, cost, nil
}

// converseStream runs a streaming generation with the given prompt variant.
// The returned channel follows the driver contract: the pipeline closes it
// and always emits a single terminal event.
func (p *Pipeline) converseStream(ctx context.Context, req Request, variant prompt.Variant, jsonMode bool) (<-chan ai.ConverseResponse, error) {
	drv, desc, err := p.resolver.DriverForModel(ctx, req.ModelID)
	if err != nil {
		return nil, err
	}
	system := prompt.Assemble(variant, req.promptInputs())
	params := req.params(system, jsonMode)
	params.ModelID = desc.WireName
	params.Stream = true

	ch, err := drv.ConverseStream(ctx, []ai.Message{{Role: ai.RoleUser, Content: req.Query}}, params)
	if err != nil {
		return nil, err
	}
	return splitReasoning(ch), nil
}

// Package prompt builds the system prompts used by the query pipeline.
// Every builder is a pure function from inputs to a prompt string; the
// pipeline selects a variant, the driver sends it verbatim.
package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Variant names a prompt shape. Each variant has an agent flavor that is
// applied automatically when the inputs carry a non-empty agent persona.
type Variant string

const (
	Baseline              Variant = "baseline"
	BaselineJSON          Variant = "baseline-json"
	BaselineReasoningJSON Variant = "baseline-reasoning-json"
	FilesContextJSON      Variant = "files-context-json"
	KBItemsJSON           Variant = "kb-items-json"
	EmailJSON             Variant = "email-json"
	MeetingJSON           Variant = "meeting-json"
	TemporalDirectionJSON Variant = "temporal-direction-json"
	QueryRewriteJSON      Variant = "query-rewrite-json"
	ToolSelection         Variant = "tool-selection"
	Synthesis             Variant = "synthesis"
	WebSearch             Variant = "web-search"
	DeepResearch          Variant = "deep-research"
	FollowUp              Variant = "follow-up"
	TitleGeneration       Variant = "title-generation"
)

// Inputs carries everything a prompt builder may use. Unused fields are
// ignored by variants that do not need them.
type Inputs struct {
	// UserContext describes the asking user and their workspace.
	UserContext string

	// RetrievedContext is the concatenated retrieval bundle. Index markers
	// in it are rewritten to citation tokens before insertion.
	RetrievedContext string

	// Date is the current date rendered for the model.
	Date string

	// Agent is the parsed persona blob; empty personas select the
	// non-agent flavor.
	Agent AgentPrompt

	// ToolCatalog and PastActions feed the tool-selection variant.
	ToolCatalog string
	PastActions string
}

var indexMarker = regexp.MustCompile(`\bIndex (\d+)\b`)

// IndexToCitation rewrites "Index N" markers in retrieved context to the
// stable citation token "[N]".
func IndexToCitation(text string) string {
	return indexMarker.ReplaceAllString(text, "[$1]")
}

// Assemble builds the system prompt for variant v.
func Assemble(v Variant, in Inputs) string {
	var b strings.Builder
	writePersona(&b, in.Agent)

	switch v {
	case Baseline:
		writeBaseline(&b, in, false, false)
	case BaselineJSON:
		writeBaseline(&b, in, true, false)
	case BaselineReasoningJSON:
		writeBaseline(&b, in, true, true)
	case FilesContextJSON:
		writeFilesContext(&b, in)
	case KBItemsJSON:
		writeKBItems(&b, in)
	case EmailJSON:
		writeEmail(&b, in)
	case MeetingJSON:
		writeMeeting(&b, in)
	case TemporalDirectionJSON:
		writeTemporalDirection(&b, in)
	case QueryRewriteJSON:
		writeQueryRewrite(&b, in)
	case ToolSelection:
		writeToolSelection(&b, in)
	case Synthesis:
		writeSynthesis(&b, in)
	case WebSearch:
		writeWebSearch(&b, in, false)
	case DeepResearch:
		writeWebSearch(&b, in, true)
	case FollowUp:
		writeFollowUp(&b, in)
	case TitleGeneration:
		writeTitle(&b, in)
	default:
		writeBaseline(&b, in, false, false)
	}
	return b.String()
}

// writePersona prepends the agent persona block when one is set.
func writePersona(b *strings.Builder, a AgentPrompt) {
	if a.IsEmpty() {
		return
	}
	if a.Name != "" {
		fmt.Fprintf(b, "You are %s.", a.Name)
		if a.Description != "" {
			fmt.Fprintf(b, " %s", a.Description)
		}
		b.WriteString("\n")
	}
	if a.Prompt != "" {
		b.WriteString(a.Prompt)
		b.WriteString("\n")
	}
	if len(a.Sources) > 0 {
		fmt.Fprintf(b, "Restrict yourself to these sources: %s.\n", strings.Join(a.Sources, ", "))
	}
	b.WriteString("\n")
}

func writeHeader(b *strings.Builder, in Inputs) {
	b.WriteString("You are an assistant for an enterprise workspace. Answer strictly from the provided context; if the context does not contain the answer, say so.\n")
	if in.Date != "" {
		fmt.Fprintf(b, "The current date is %s.\n", in.Date)
	}
	if in.UserContext != "" {
		fmt.Fprintf(b, "\nAbout the user:\n%s\n", in.UserContext)
	}
}

func writeContext(b *strings.Builder, in Inputs) {
	if in.RetrievedContext == "" {
		return
	}
	fmt.Fprintf(b, "\nContext:\n%s\n", IndexToCitation(in.RetrievedContext))
}

const jsonContract = "\nRespond with a JSON object of the form {\"answer\": string, \"citations\": [int]}. Every factual statement in the answer must cite the [N] token of the context fragment it came from. If the context is insufficient, respond with {\"answer\": null}.\n"

func writeBaseline(b *strings.Builder, in Inputs, jsonMode, reasoning bool) {
	writeHeader(b, in)
	writeContext(b, in)
	if !jsonMode {
		b.WriteString("\nCite sources inline using the [N] tokens from the context. Answer in plain prose.\n")
		return
	}
	if reasoning {
		b.WriteString("\nThink through the question step by step before answering. Keep the reasoning out of the final JSON.\n")
	}
	b.WriteString(jsonContract)
}

func writeFilesContext(b *strings.Builder, in Inputs) {
	writeHeader(b, in)
	b.WriteString("\nThe context below consists of whole documents. Treat each document as one citable unit; cite the document token, not line numbers.\n")
	writeContext(b, in)
	b.WriteString(jsonContract)
}

func writeKBItems(b *strings.Builder, in Inputs) {
	writeHeader(b, in)
	b.WriteString("\nThe context below consists of knowledge-base rows. Each row is independently citable; do not merge facts across rows without citing every row used.\n")
	writeContext(b, in)
	b.WriteString(jsonContract)
}

func writeEmail(b *strings.Builder, in Inputs) {
	writeHeader(b, in)
	b.WriteString("\nThe context below consists of email messages. Cite the email a fact came from, attribute statements to their sender, and never quote message bodies verbatim beyond a sentence.\n")
	writeContext(b, in)
	b.WriteString(jsonContract)
}

func writeMeeting(b *strings.Builder, in Inputs) {
	writeHeader(b, in)
	b.WriteString("\nThe context below consists of meeting records. Attribute decisions and action items to named attendees and cite the meeting each came from.\n")
	writeContext(b, in)
	b.WriteString(jsonContract)
}

func writeTemporalDirection(b *strings.Builder, in Inputs) {
	writeHeader(b, in)
	b.WriteString("\nClassify the time-direction of the user's query relative to the current date. Respond with a JSON object {\"direction\": \"past\" | \"upcoming\" | \"none\"}. Questions about schedules, deadlines, or future meetings are \"upcoming\"; questions about what happened are \"past\"; everything else is \"none\".\n")
}

func writeQueryRewrite(b *strings.Builder, in Inputs) {
	writeHeader(b, in)
	writeContext(b, in)
	b.WriteString("\nRewrite the user's query into search queries that would retrieve better context. Preserve names, dates, and identifiers exactly. Respond with a JSON object {\"queryRewrite\": [string]}.\n")
}

func writeToolSelection(b *strings.Builder, in Inputs) {
	writeHeader(b, in)
	if in.ToolCatalog != "" {
		fmt.Fprintf(b, "\nAvailable tools:\n%s\n", in.ToolCatalog)
	}
	if in.PastActions != "" {
		fmt.Fprintf(b, "\nActions already taken:\n%s\n", in.PastActions)
	}
	b.WriteString("\nPick the single tool that best advances the user's request, or none if the gathered context already suffices. Respond with a JSON object {\"tool\": string, \"arguments\": object, \"queryRewrite\": string, \"reasoning\": string}. Use an empty tool name to stop.\n")
}

func writeSynthesis(b *strings.Builder, in Inputs) {
	writeHeader(b, in)
	b.WriteString("\nThe context below contains fragments gathered across several tool calls. Synthesize them into one coherent answer; resolve contradictions by preferring the most recent fragment and say when fragments disagree.\n")
	writeContext(b, in)
	b.WriteString(jsonContract)
}

func writeWebSearch(b *strings.Builder, in Inputs, deep bool) {
	writeHeader(b, in)
	writeContext(b, in)
	if deep {
		b.WriteString("\nResearch the question thoroughly using web search. Consult multiple sources, prefer primary ones, and cite each source by URL.\n")
		return
	}
	b.WriteString("\nUse web search to answer. Cite each fact with the URL of the page it came from.\n")
}

func writeFollowUp(b *strings.Builder, in Inputs) {
	writeHeader(b, in)
	writeContext(b, in)
	b.WriteString("\nSuggest up to three short follow-up questions the user might ask next, answerable from the same kind of context. Respond with a JSON object {\"followUps\": [string]}.\n")
}

func writeTitle(b *strings.Builder, in Inputs) {
	writeHeader(b, in)
	b.WriteString("\nGenerate a short title (at most six words) for a conversation that starts with the user's query. Respond with a JSON object {\"title\": string}.\n")
}

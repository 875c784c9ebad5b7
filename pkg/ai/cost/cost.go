// Package cost turns token usage into USD estimates and, when a backend does
// not report usage at all, estimates token counts deterministically with a
// shipped byte-pair encoding table.
package cost

import (
	"slices"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/korahq/kora/pkg/ai"
)

// pricing holds per-million-token USD rates.
type pricing struct {
	inputPerM  float64
	outputPerM float64
}

type rateEntry struct {
	prefix string
	rates  pricing
}

// rateTable maps wire-model-name prefixes to their published rates. The
// table is scanned longest prefix first so "gpt-4o-mini" never resolves to
// the "gpt-4o" entry. Unknown models fall back to defaultRates; the
// estimate is advisory, not billing.
var rateTable = byPrefixLength([]rateEntry{
	{"gpt-4o-mini", pricing{0.15, 0.60}},
	{"gpt-4o", pricing{2.50, 10.00}},
	{"gpt-4.1", pricing{2.00, 8.00}},
	{"o3", pricing{2.00, 8.00}},
	{"anthropic.claude-3-5-haiku", pricing{0.80, 4.00}},
	{"anthropic.claude-sonnet-4", pricing{3.00, 15.00}},
	{"anthropic.claude-opus-4", pricing{15.00, 75.00}},
	{"claude-sonnet-4", pricing{3.00, 15.00}},
	{"claude-opus-4", pricing{15.00, 75.00}},
	{"gemini-2.5-flash", pricing{0.30, 2.50}},
	{"gemini-2.5-pro", pricing{1.25, 10.00}},
})

var defaultRates = pricing{1.00, 3.00}

// byPrefixLength orders entries so the most specific prefix is tried first.
func byPrefixLength(entries []rateEntry) []rateEntry {
	slices.SortStableFunc(entries, func(a, b rateEntry) int {
		return len(b.prefix) - len(a.prefix)
	})
	return entries
}

func ratesFor(modelID string) pricing {
	lower := strings.ToLower(modelID)
	for _, e := range rateTable {
		if strings.HasPrefix(lower, e.prefix) {
			return e.rates
		}
	}
	return defaultRates
}

// FromUsage converts backend-reported token counts into a Cost snapshot.
func FromUsage(modelID string, inputTokens, outputTokens int) *ai.Cost {
	p := ratesFor(modelID)
	return &ai.Cost{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		USD:          float64(inputTokens)*p.inputPerM/1e6 + float64(outputTokens)*p.outputPerM/1e6,
	}
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// encoder lazily loads the cl100k_base byte-pair table. Loading the table is
// expensive, so all callers share one instance; Tiktoken is safe for
// concurrent Encode calls.
func encoder() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return
		}
		enc = e
	})
	return enc
}

// CountTokens returns the deterministic token count of text. The count is a
// cl100k approximation for non-OpenAI backends — close enough for cost
// snapshots and never undercounting by much (4-chars-per-token fallback when
// the BPE table cannot load).
func CountTokens(text string) int {
	if e := encoder(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// Estimate builds a Cost snapshot from raw text when the backend reported no
// usage: the prompt side is the concatenated system prompt and messages, the
// output side is the generated text.
func Estimate(modelID string, promptText, outputText string) *ai.Cost {
	return FromUsage(modelID, CountTokens(promptText), CountTokens(outputText))
}

// PromptText flattens params and messages into the text whose token count
// approximates the prompt side of a call.
func PromptText(messages []ai.Message, params ai.ModelParams) string {
	var sb strings.Builder
	sb.WriteString(params.SystemPrompt)
	for _, m := range params.Messages {
		sb.WriteByte('\n')
		sb.WriteString(m.Content)
	}
	for _, m := range messages {
		sb.WriteByte('\n')
		sb.WriteString(m.Content)
	}
	return sb.String()
}

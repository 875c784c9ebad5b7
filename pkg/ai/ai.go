// Package ai defines the Driver contract for Large Language Model backends.
//
// A Driver wraps a remote model API (AWS Bedrock, OpenAI, a local Ollama
// instance, Google AI, Vertex AI, …) and exposes a uniform converse interface
// so the answering pipeline never couples to a specific SDK. Implementations
// must be safe for concurrent use by multiple requests sharing one
// process-wide client.
//
// Streaming follows the channel convention: the implementation owns the
// channel, closes it when the stream ends, and always emits exactly one
// terminal event (Done == true) — including on failure and cancellation,
// where the terminal event carries a typed error instead of the iteration
// being aborted silently.
package ai

import "context"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single turn in a conversation. Drivers never mutate their
// input message slice.
type Message struct {
	Role    Role
	Content string
}

// Default sampling parameters applied by [ModelParams.WithDefaults].
const (
	DefaultMaxNewTokens = 5120
	DefaultTopP         = 0.9
	DefaultTemperature  = 0.6
)

// ModelParams carries per-call generation options. The zero value is not
// usable directly; callers should set ModelID and pass the struct through
// [ModelParams.WithDefaults] (drivers do this on entry).
type ModelParams struct {
	// ModelID is the wire model name understood by the backend. Required.
	ModelID string

	// MaxNewTokens caps generation length. Zero means DefaultMaxNewTokens.
	MaxNewTokens int

	// TopP is the nucleus sampling threshold. Zero means DefaultTopP.
	TopP float64

	// Temperature is the softmax temperature. Zero means DefaultTemperature.
	Temperature float64

	// SystemPrompt is injected as the system role, ahead of all messages.
	SystemPrompt string

	// JSONMode requests machine-readable output. Drivers use the backend's
	// native JSON/structured-output mode when one exists and otherwise rely
	// on the prompt contract alone.
	JSONMode bool

	// Stream selects streaming in mixed-mode callers. Drivers themselves
	// ignore it — the method called determines the mode.
	Stream bool

	// Reasoning opts in to the separate reasoning delta channel on backends
	// that support it. Backends without a reasoning channel ignore it.
	Reasoning bool

	// WebSearch opts in to backend-integrated web search where available.
	WebSearch bool

	// AgentPrompt is the opaque agent persona blob attached to the chat
	// session. Drivers pass it through untouched; prompt assembly interprets
	// it.
	AgentPrompt string

	// Messages are prior turns prepended before the caller-supplied
	// messages.
	Messages []Message
}

// WithDefaults returns a copy of p with unset sampling fields replaced by
// the package defaults. The receiver is not modified.
func (p ModelParams) WithDefaults() ModelParams {
	if p.MaxNewTokens <= 0 {
		p.MaxNewTokens = DefaultMaxNewTokens
	}
	if p.TopP == 0 {
		p.TopP = DefaultTopP
	}
	if p.Temperature == 0 {
		p.Temperature = DefaultTemperature
	}
	return p
}

// Citation points a span of the answer at a source document or URL.
type Citation struct {
	Index int    `json:"index"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// Cost is a token-usage snapshot for one call. Emitted at most once per
// stream, always before the terminal event.
type Cost struct {
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	USD          float64 `json:"usd"`
}

// StreamError is the typed failure carried by a terminal stream event.
type StreamError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ConverseResponse is one element of a converse stream. Exactly one of the
// payload fields is meaningful per event; consumers must treat absent fields
// as "not emitted yet". Text deltas are causally ordered and concatenate to
// the full answer.
//
// Serialized as line-delimited JSON on the wire, e.g.:
//
//	{"text":"partial…"}
//	{"cost":{"inputTokens":10,"outputTokens":42,"usd":0.0007}}
//	{"done":true}
type ConverseResponse struct {
	Text      string       `json:"text,omitempty"`
	Reasoning string       `json:"reasoning,omitempty"`
	Citation  *Citation    `json:"citation,omitempty"`
	Cost      *Cost        `json:"cost,omitempty"`
	Done      bool         `json:"done,omitempty"`
	Err       *StreamError `json:"error,omitempty"`
}

// Driver is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly: a cancelled ConverseStream stops reading from the
// backend within one chunk and closes its channel after the terminal event.
type Driver interface {
	// Converse sends the conversation and waits for the full response text
	// and a cost snapshot. The returned cost may be estimated when the
	// backend does not report token usage.
	Converse(ctx context.Context, messages []Message, params ModelParams) (string, *Cost, error)

	// ConverseStream sends the conversation and returns a channel of
	// incremental events. The channel is closed by the implementation after
	// the single terminal event. A non-nil error is returned only for
	// failures that prevent the stream from starting; failures after that
	// surface as a terminal event with a StreamError.
	//
	// Callers must drain the channel to avoid goroutine leaks.
	ConverseStream(ctx context.Context, messages []Message, params ModelParams) (<-chan ConverseResponse, error)
}

// Terminal builds the terminal event for err. A nil err yields a clean
// {done:true}; otherwise the event carries the classified error kind.
func Terminal(err error) ConverseResponse {
	if err == nil {
		return ConverseResponse{Done: true}
	}
	return ConverseResponse{Done: true, Err: &StreamError{Kind: Classify(err), Message: err.Error()}}
}

// Collect drains a converse stream, concatenating text deltas and capturing
// the cost snapshot. It returns the terminal error, if any, as a Go error.
// Used by drivers whose non-streaming call is a wrapper over streaming.
func Collect(ch <-chan ConverseResponse) (text string, cost *Cost, err error) {
	var sb []byte
	for ev := range ch {
		if ev.Text != "" {
			sb = append(sb, ev.Text...)
		}
		if ev.Cost != nil {
			cost = ev.Cost
		}
		if ev.Done && ev.Err != nil {
			err = ev.Err.AsError()
		}
	}
	return string(sb), cost, err
}

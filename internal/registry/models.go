package registry

// Backend tags the LLM provider family a model is served by.
type Backend string

const (
	BackendAwsBedrock Backend = "aws-bedrock"
	BackendOpenAI     Backend = "openai"
	BackendOllama     Backend = "ollama"
	BackendTogether   Backend = "together"
	BackendFireworks  Backend = "fireworks"
	BackendGoogleAI   Backend = "google-ai"
	BackendVertexAI   Backend = "vertex-ai"
)

// backendPriority is the deterministic selection order. At most one backend
// is active per process: the first one with usable configuration wins.
var backendPriority = []Backend{
	BackendAwsBedrock,
	BackendOpenAI,
	BackendOllama,
	BackendTogether,
	BackendFireworks,
	BackendGoogleAI,
	BackendVertexAI,
}

// ModelDescriptor is an immutable record mapping a logical model identifier
// to its backend, wire name, and capability flags.
type ModelDescriptor struct {
	// ModelID is the stable logical identifier used by API callers.
	ModelID string

	// Backend serves this model.
	Backend Backend

	// WireName is the identifier sent to the backend. For the Vertex
	// backend it also selects the sub-backend: names containing "gemini"
	// route to the Google sub-backend, everything else to Anthropic.
	WireName string

	// Label is the human-facing name shown in model pickers.
	Label string

	// Description is a one-line summary for the picker.
	Description string

	// Capability flags.
	Reasoning    bool
	WebSearch    bool
	DeepResearch bool
}

// staticModels lists the descriptors for backends with a fixed catalog.
// Dynamic backends (Ollama, Together, Fireworks, Google AI, Vertex) surface
// the configured model name directly instead.
var staticModels = []ModelDescriptor{
	{
		ModelID:     "gpt-4o",
		Backend:     BackendOpenAI,
		WireName:    "gpt-4o",
		Label:       "GPT-4o",
		Description: "Balanced flagship model for everyday questions.",
		WebSearch:   true,
	},
	{
		ModelID:     "gpt-4o-mini",
		Backend:     BackendOpenAI,
		WireName:    "gpt-4o-mini",
		Label:       "GPT-4o Mini",
		Description: "Fast and inexpensive; good for rewrites and titles.",
	},
	{
		ModelID:      "o3",
		Backend:      BackendOpenAI,
		WireName:     "o3",
		Label:        "o3",
		Description:  "Deliberate reasoning model for hard questions.",
		Reasoning:    true,
		WebSearch:    true,
		DeepResearch: true,
	},
	{
		ModelID:     "claude-sonnet-4",
		Backend:     BackendAwsBedrock,
		WireName:    "anthropic.claude-sonnet-4-20250514-v1:0",
		Label:       "Claude Sonnet 4",
		Description: "Strong general model with a reasoning channel.",
		Reasoning:   true,
	},
	{
		ModelID:     "claude-3-5-haiku",
		Backend:     BackendAwsBedrock,
		WireName:    "anthropic.claude-3-5-haiku-20241022-v1:0",
		Label:       "Claude 3.5 Haiku",
		Description: "Low-latency model for classification and rewrites.",
	},
	{
		ModelID:      "claude-opus-4",
		Backend:      BackendAwsBedrock,
		WireName:     "anthropic.claude-opus-4-20250514-v1:0",
		Label:        "Claude Opus 4",
		Description:  "Highest-quality answers; slowest and priciest.",
		Reasoning:    true,
		DeepResearch: true,
	},
}

// staticModelsFor returns the static descriptors served by backend.
func staticModelsFor(backend Backend) []ModelDescriptor {
	var out []ModelDescriptor
	for _, d := range staticModels {
		if d.Backend == backend {
			out = append(out, d)
		}
	}
	return out
}

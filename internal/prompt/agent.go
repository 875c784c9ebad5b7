package prompt

import (
	"encoding/json"
	"strings"

	"github.com/korahq/kora/internal/llmjson"
)

// AgentPrompt is the parsed form of the opaque persona blob attached to a
// request. All fields may be empty.
type AgentPrompt struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Prompt          string   `json:"prompt"`
	AppIntegrations []string `json:"appIntegrations"`
	Sources         []string `json:"sources"`
}

// IsEmpty reports whether the persona carries neither a prompt body nor
// source restrictions. Empty personas select the non-agent prompt flavor.
func (a AgentPrompt) IsEmpty() bool {
	return a.Prompt == "" && len(a.Sources) == 0
}

// ParseAgentPrompt decodes a persona blob. Three shapes are accepted: the
// structured {name, description, prompt, appIntegrations} form, the reduced
// {prompt, sources} form, and a bare non-empty string used as a literal
// prompt body. Anything else parses to the empty persona; this function
// never fails.
func ParseAgentPrompt(blob string) AgentPrompt {
	s := strings.TrimSpace(blob)
	if s == "" {
		return AgentPrompt{}
	}

	if strings.HasPrefix(s, "{") {
		var a AgentPrompt
		if err := json.Unmarshal([]byte(s), &a); err == nil {
			return a
		}
		// Malformed JSON from a model; salvage what we can.
		m := llmjson.ParseWithKey(s, "prompt")
		return AgentPrompt{
			Name:            llmjson.String(m, "name"),
			Description:     llmjson.String(m, "description"),
			Prompt:          llmjson.String(m, "prompt"),
			AppIntegrations: llmjson.StringSlice(m, "appIntegrations"),
			Sources:         llmjson.StringSlice(m, "sources"),
		}
	}

	// A JSON-encoded string is unwrapped; any other text is the prompt
	// body itself.
	if strings.HasPrefix(s, `"`) {
		var literal string
		if err := json.Unmarshal([]byte(s), &literal); err == nil {
			return AgentPrompt{Prompt: strings.TrimSpace(literal)}
		}
	}
	return AgentPrompt{Prompt: s}
}

// Package gemini provides an ai.Driver for Gemini models through the
// official genai SDK. The same driver serves two registry backends: Google
// AI (API key) and the Google sub-backend of Vertex AI (project + region).
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/korahq/kora/pkg/ai"
	"github.com/korahq/kora/pkg/ai/cost"
)

// Driver implements ai.Driver for Gemini models.
type Driver struct {
	client *genai.Client
}

var _ ai.Driver = (*Driver)(nil)

// New builds a Driver against the Google AI API.
func New(ctx context.Context, apiKey string) (*Driver, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Driver{client: client}, nil
}

// NewVertex builds a Driver against Vertex AI using application-default
// credentials for projectID in region.
func NewVertex(ctx context.Context, projectID, region string) (*Driver, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("gemini: vertex requires project id and region")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: region,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create vertex client: %w", err)
	}
	return &Driver{client: client}, nil
}

// Converse implements ai.Driver.
func (d *Driver) Converse(ctx context.Context, messages []ai.Message, params ai.ModelParams) (string, *ai.Cost, error) {
	params = params.WithDefaults()
	contents, cfg, err := buildRequest(messages, params)
	if err != nil {
		return "", nil, err
	}

	resp, err := d.client.Models.GenerateContent(ctx, params.ModelID, contents, cfg)
	if err != nil {
		return "", nil, translateErr(err)
	}

	text := responseText(resp)
	var c *ai.Cost
	if resp.UsageMetadata != nil {
		c = cost.FromUsage(params.ModelID, int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount))
	} else {
		c = cost.Estimate(params.ModelID, cost.PromptText(messages, params), text)
	}
	return text, c, nil
}

// ConverseStream implements ai.Driver.
func (d *Driver) ConverseStream(ctx context.Context, messages []ai.Message, params ai.ModelParams) (<-chan ai.ConverseResponse, error) {
	params = params.WithDefaults()
	contents, cfg, err := buildRequest(messages, params)
	if err != nil {
		return nil, err
	}

	ch := make(chan ai.ConverseResponse, 32)
	go func() {
		defer close(ch)

		var generated []byte
		var usage *genai.GenerateContentResponseUsageMetadata

		for resp, err := range d.client.Models.GenerateContentStream(ctx, params.ModelID, contents, cfg) {
			if err != nil {
				ch <- ai.Terminal(translateErr(err))
				return
			}
			if ctx.Err() != nil {
				ch <- ai.Terminal(ctx.Err())
				return
			}
			if resp.UsageMetadata != nil {
				usage = resp.UsageMetadata
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Text == "" {
					continue
				}
				ev := ai.ConverseResponse{Text: part.Text}
				if part.Thought {
					ev = ai.ConverseResponse{Reasoning: part.Text}
				} else {
					generated = append(generated, part.Text...)
				}
				select {
				case ch <- ev:
				case <-ctx.Done():
					ch <- ai.Terminal(ctx.Err())
					return
				}
			}
		}

		if usage != nil {
			ch <- ai.ConverseResponse{Cost: cost.FromUsage(params.ModelID, int(usage.PromptTokenCount), int(usage.CandidatesTokenCount))}
		} else {
			ch <- ai.ConverseResponse{Cost: cost.Estimate(params.ModelID, cost.PromptText(messages, params), string(generated))}
		}
		ch <- ai.Terminal(nil)
	}()

	return ch, nil
}

// buildRequest converts the uniform request into genai contents and config.
func buildRequest(messages []ai.Message, params ai.ModelParams) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	if params.ModelID == "" {
		return nil, nil, fmt.Errorf("%w: empty model id", ai.ErrInvalidModel)
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(params.MaxNewTokens),
		Temperature:     genai.Ptr(float32(params.Temperature)),
		TopP:            genai.Ptr(float32(params.TopP)),
	}

	system := params.SystemPrompt
	var contents []*genai.Content
	for _, m := range append(append([]ai.Message{}, params.Messages...), messages...) {
		switch m.Role {
		case ai.RoleSystem:
			// Gemini carries system text in a dedicated instruction slot.
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case ai.RoleUser:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		case ai.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			return nil, nil, fmt.Errorf("gemini: unknown message role %q", m.Role)
		}
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	if params.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}
	if params.Reasoning {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	if params.WebSearch {
		cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}

	return contents, cfg, nil
}

// responseText concatenates the non-thought text parts of a response.
func responseText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// translateErr maps genai errors onto the ai error taxonomy.
func translateErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == 429 {
		return fmt.Errorf("%w: %v", ai.ErrRateLimited, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ai.ErrTransport, err)
}

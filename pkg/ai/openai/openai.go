// Package openai provides an ai.Driver backed by the OpenAI chat completions
// API. Because Together, Fireworks and Ollama expose the same wire surface,
// the registry also instantiates this driver with their base URLs.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/korahq/kora/pkg/ai"
	"github.com/korahq/kora/pkg/ai/cost"
)

// defaultTimeout bounds a single completion request. Long generations on
// slow backends stay under four minutes in practice.
const defaultTimeout = 4 * time.Minute

// Driver implements ai.Driver using the OpenAI API surface.
type Driver struct {
	client oai.Client
}

// Compile-time check.
var _ ai.Driver = (*Driver)(nil)

// config holds optional constructor configuration.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Driver.
type Option func(*config)

// WithBaseURL points the driver at an OpenAI-compatible endpoint
// (Together, Fireworks, or an Ollama /v1 address).
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout overrides the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Driver. apiKey must be non-empty; local backends without
// authentication (Ollama) pass a placeholder.
func New(apiKey string, opts ...Option) (*Driver, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{timeout: defaultTimeout}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Driver{client: oai.NewClient(reqOpts...)}, nil
}

// Converse implements ai.Driver.
func (d *Driver) Converse(ctx context.Context, messages []ai.Message, params ai.ModelParams) (string, *ai.Cost, error) {
	params = params.WithDefaults()
	body, err := buildParams(messages, params)
	if err != nil {
		return "", nil, err
	}

	resp, err := d.client.Chat.Completions.New(ctx, body)
	if err != nil {
		return "", nil, translateErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, fmt.Errorf("%w: empty choices in response", ai.ErrTransport)
	}

	text := resp.Choices[0].Message.Content
	var c *ai.Cost
	if resp.Usage.TotalTokens > 0 {
		c = cost.FromUsage(params.ModelID, int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens))
	} else {
		c = cost.Estimate(params.ModelID, cost.PromptText(messages, params), text)
	}
	return text, c, nil
}

// ConverseStream implements ai.Driver.
func (d *Driver) ConverseStream(ctx context.Context, messages []ai.Message, params ai.ModelParams) (<-chan ai.ConverseResponse, error) {
	params = params.WithDefaults()
	body, err := buildParams(messages, params)
	if err != nil {
		return nil, err
	}
	body.StreamOptions = oai.ChatCompletionStreamOptionsParam{
		IncludeUsage: param.NewOpt(true),
	}

	stream := d.client.Chat.Completions.NewStreaming(ctx, body)
	if err := stream.Err(); err != nil {
		return nil, translateErr(err)
	}

	ch := make(chan ai.ConverseResponse, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		var generated []byte
		costSent := false

		for stream.Next() {
			chunk := stream.Current()

			// The usage-bearing chunk has no choices.
			if chunk.Usage.TotalTokens > 0 && !costSent {
				c := cost.FromUsage(params.ModelID, int(chunk.Usage.PromptTokens), int(chunk.Usage.CompletionTokens))
				if !emit(ctx, ch, ai.ConverseResponse{Cost: c}) {
					return
				}
				costSent = true
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			generated = append(generated, delta...)
			if !emit(ctx, ch, ai.ConverseResponse{Text: delta}) {
				return
			}
		}

		if err := stream.Err(); err != nil {
			ch <- ai.Terminal(translateErr(err))
			return
		}
		if err := ctx.Err(); err != nil {
			ch <- ai.Terminal(err)
			return
		}
		if !costSent {
			c := cost.Estimate(params.ModelID, cost.PromptText(messages, params), string(generated))
			ch <- ai.ConverseResponse{Cost: c}
		}
		ch <- ai.Terminal(nil)
	}()

	return ch, nil
}

// emit sends ev unless ctx is done, in which case it writes the terminal
// cancellation event and reports false so the pump stops upstream reads.
func emit(ctx context.Context, ch chan<- ai.ConverseResponse, ev ai.ConverseResponse) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		ch <- ai.Terminal(ctx.Err())
		return false
	}
}

// buildParams converts the uniform request into OpenAI SDK params.
func buildParams(messages []ai.Message, params ai.ModelParams) (oai.ChatCompletionNewParams, error) {
	if params.ModelID == "" {
		return oai.ChatCompletionNewParams{}, fmt.Errorf("%w: empty model id", ai.ErrInvalidModel)
	}

	var msgs []oai.ChatCompletionMessageParamUnion
	if params.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(params.SystemPrompt))
	}
	for _, m := range append(append([]ai.Message{}, params.Messages...), messages...) {
		switch m.Role {
		case ai.RoleSystem:
			msgs = append(msgs, oai.SystemMessage(m.Content))
		case ai.RoleUser:
			msgs = append(msgs, oai.UserMessage(m.Content))
		case ai.RoleAssistant:
			msgs = append(msgs, oai.AssistantMessage(m.Content))
		default:
			return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: unknown message role %q", m.Role)
		}
	}

	body := oai.ChatCompletionNewParams{
		Model:               shared.ChatModel(params.ModelID),
		Messages:            msgs,
		MaxCompletionTokens: param.NewOpt(int64(params.MaxNewTokens)),
		Temperature:         param.NewOpt(params.Temperature),
		TopP:                param.NewOpt(params.TopP),
	}
	if params.JSONMode {
		body.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return body, nil
}

// translateErr maps SDK errors onto the ai error taxonomy.
func translateErr(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", ai.ErrRateLimited, err)
		}
		return fmt.Errorf("%w: %v", ai.ErrTransport, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ai.ErrTransport, err)
}

// Package anthropicvtx provides an ai.Driver for Claude models served
// through Vertex AI. It is the Anthropic sub-backend of the Vertex backend;
// Gemini wire names on Vertex route to the gemini package instead.
package anthropicvtx

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/vertex"

	"github.com/korahq/kora/pkg/ai"
	"github.com/korahq/kora/pkg/ai/cost"
)

// reasoningBudgetTokens is the thinking budget used when the reasoning
// channel is requested. Anthropic requires at least 1024.
const reasoningBudgetTokens = 8192

// Driver implements ai.Driver for Claude-on-Vertex.
type Driver struct {
	client sdk.Client
}

var _ ai.Driver = (*Driver)(nil)

// New builds a Driver authenticated with Google application-default
// credentials for projectID in region.
func New(ctx context.Context, projectID, region string) (*Driver, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("anthropicvtx: project id and region are required")
	}
	return &Driver{client: sdk.NewClient(vertex.WithGoogleAuth(ctx, region, projectID))}, nil
}

// Converse implements ai.Driver.
func (d *Driver) Converse(ctx context.Context, messages []ai.Message, params ai.ModelParams) (string, *ai.Cost, error) {
	params = params.WithDefaults()
	body, err := buildParams(messages, params)
	if err != nil {
		return "", nil, err
	}

	msg, err := d.client.Messages.New(ctx, body)
	if err != nil {
		return "", nil, translateErr(err)
	}

	var text []byte
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = append(text, block.Text...)
		}
	}
	c := cost.FromUsage(params.ModelID, int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens))
	return string(text), c, nil
}

// ConverseStream implements ai.Driver.
func (d *Driver) ConverseStream(ctx context.Context, messages []ai.Message, params ai.ModelParams) (<-chan ai.ConverseResponse, error) {
	params = params.WithDefaults()
	body, err := buildParams(messages, params)
	if err != nil {
		return nil, err
	}

	stream := d.client.Messages.NewStreaming(ctx, body)
	if err := stream.Err(); err != nil {
		return nil, translateErr(err)
	}

	ch := make(chan ai.ConverseResponse, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		var inputTokens, outputTokens int64

		for stream.Next() {
			if ctx.Err() != nil {
				ch <- ai.Terminal(ctx.Err())
				return
			}
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case sdk.MessageStartEvent:
				inputTokens = ev.Message.Usage.InputTokens
			case sdk.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case sdk.TextDelta:
					if delta.Text == "" {
						continue
					}
					if !emit(ctx, ch, ai.ConverseResponse{Text: delta.Text}) {
						return
					}
				case sdk.ThinkingDelta:
					if delta.Thinking == "" {
						continue
					}
					if !emit(ctx, ch, ai.ConverseResponse{Reasoning: delta.Thinking}) {
						return
					}
				}
			case sdk.MessageDeltaEvent:
				outputTokens = ev.Usage.OutputTokens
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
		ch <- ai.ConverseResponse{Cost: cost.FromUsage(params.ModelID, int(inputTokens), int(outputTokens))}
		ch <- ai.Terminal(nil)
	}()

	return ch, nil
}

func emit(ctx context.Context, ch chan<- ai.ConverseResponse, ev ai.ConverseResponse) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		ch <- ai.Terminal(ctx.Err())
		return false
	}
}

// buildParams converts the uniform request into Anthropic message params.
// Claude has no native JSON mode; JSONMode rides on the prompt contract.
func buildParams(messages []ai.Message, params ai.ModelParams) (sdk.MessageNewParams, error) {
	if params.ModelID == "" {
		return sdk.MessageNewParams{}, fmt.Errorf("%w: empty model id", ai.ErrInvalidModel)
	}

	var system []sdk.TextBlockParam
	if params.SystemPrompt != "" {
		system = append(system, sdk.TextBlockParam{Text: params.SystemPrompt})
	}

	var msgs []sdk.MessageParam
	for _, m := range append(append([]ai.Message{}, params.Messages...), messages...) {
		switch m.Role {
		case ai.RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case ai.RoleUser:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case ai.RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			return sdk.MessageNewParams{}, fmt.Errorf("anthropicvtx: unknown message role %q", m.Role)
		}
	}

	body := sdk.MessageNewParams{
		Model:     sdk.Model(params.ModelID),
		MaxTokens: int64(params.MaxNewTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		body.System = system
	}
	if params.Reasoning {
		body.Thinking = sdk.ThinkingConfigParamOfEnabled(reasoningBudgetTokens)
		// Thinking rejects explicit temperature/top_p.
	} else {
		body.Temperature = sdk.Float(params.Temperature)
		body.TopP = sdk.Float(params.TopP)
	}
	return body, nil
}

// translateErr maps Anthropic SDK errors onto the ai error taxonomy.
func translateErr(err error) error {
	var apiErr *sdk.Error
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

// Package bedrock provides an ai.Driver backed by the AWS Bedrock Converse
// API.
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/korahq/kora/pkg/ai"
	"github.com/korahq/kora/pkg/ai/cost"
)

// reasoningBudgetTokens is the thinking budget requested when the caller
// opts in to the reasoning channel.
const reasoningBudgetTokens = 8192

// RuntimeClient is the subset of *bedrockruntime.Client the driver needs.
// Tests substitute a fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Driver implements ai.Driver on top of Bedrock Converse.
type Driver struct {
	runtime RuntimeClient
}

var _ ai.Driver = (*Driver)(nil)

// Credentials holds the static AWS credential triple read from the
// environment by the registry.
type Credentials struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// New builds a Driver with a Bedrock runtime client for creds. When the
// access key pair is empty the default AWS credential chain applies.
func New(ctx context.Context, creds Credentials) (*Driver, error) {
	if creds.Region == "" {
		return nil, fmt.Errorf("bedrock: region must not be empty")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(creds.Region),
	}
	if creds.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return &Driver{runtime: bedrockruntime.NewFromConfig(cfg)}, nil
}

// NewWithRuntime wraps an existing runtime client. Used by tests.
func NewWithRuntime(rt RuntimeClient) *Driver {
	return &Driver{runtime: rt}
}

// Converse implements ai.Driver.
func (d *Driver) Converse(ctx context.Context, messages []ai.Message, params ai.ModelParams) (string, *ai.Cost, error) {
	params = params.WithDefaults()
	in, err := buildInput(messages, params)
	if err != nil {
		return "", nil, err
	}

	resp, err := d.runtime.Converse(ctx, in)
	if err != nil {
		return "", nil, translateErr(err)
	}

	text := extractText(resp.Output)
	var c *ai.Cost
	if resp.Usage != nil {
		c = cost.FromUsage(params.ModelID, derefInt(resp.Usage.InputTokens), derefInt(resp.Usage.OutputTokens))
	} else {
		c = cost.Estimate(params.ModelID, cost.PromptText(messages, params), text)
	}
	return text, c, nil
}

// ConverseStream implements ai.Driver. The goroutine owns the event stream
// for the duration of the call; cancellation is checked at the top of every
// pump iteration and on every send.
func (d *Driver) ConverseStream(ctx context.Context, messages []ai.Message, params ai.ModelParams) (<-chan ai.ConverseResponse, error) {
	params = params.WithDefaults()
	in, err := buildInput(messages, params)
	if err != nil {
		return nil, err
	}

	out, err := d.runtime.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:                      in.ModelId,
		Messages:                     in.Messages,
		System:                       in.System,
		InferenceConfig:              in.InferenceConfig,
		AdditionalModelRequestFields: in.AdditionalModelRequestFields,
	})
	if err != nil {
		return nil, translateErr(err)
	}

	ch := make(chan ai.ConverseResponse, 32)
	go func() {
		defer close(ch)
		stream := out.GetStream()
		defer stream.Close()

		var generated []byte
		costSent := false
		events := stream.Events()

		for {
			select {
			case <-ctx.Done():
				ch <- ai.Terminal(ctx.Err())
				return
			case event, ok := <-events:
				if !ok {
					if err := stream.Err(); err != nil {
						ch <- ai.Terminal(translateErr(err))
						return
					}
					if !costSent {
						c := cost.Estimate(params.ModelID, cost.PromptText(messages, params), string(generated))
						ch <- ai.ConverseResponse{Cost: c}
					}
					ch <- ai.Terminal(nil)
					return
				}

				switch ev := event.(type) {
				case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
					switch delta := ev.Value.Delta.(type) {
					case *brtypes.ContentBlockDeltaMemberText:
						generated = append(generated, delta.Value...)
						if !emit(ctx, ch, ai.ConverseResponse{Text: delta.Value}) {
							return
						}
					case *brtypes.ContentBlockDeltaMemberReasoningContent:
						if td, ok := delta.Value.(*brtypes.ReasoningContentBlockDeltaMemberText); ok {
							if !emit(ctx, ch, ai.ConverseResponse{Reasoning: td.Value}) {
								return
							}
						}
					}
				case *brtypes.ConverseStreamOutputMemberMetadata:
					if ev.Value.Usage == nil || costSent {
						continue
					}
					c := cost.FromUsage(params.ModelID, derefInt(ev.Value.Usage.InputTokens), derefInt(ev.Value.Usage.OutputTokens))
					if !emit(ctx, ch, ai.ConverseResponse{Cost: c}) {
						return
					}
					costSent = true
				}
			}
		}
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

// buildInput converts the uniform request into Bedrock Converse input.
// Bedrock has no native JSON output mode; JSONMode relies on the prompt
// contract alone.
func buildInput(messages []ai.Message, params ai.ModelParams) (*bedrockruntime.ConverseInput, error) {
	if params.ModelID == "" {
		return nil, fmt.Errorf("%w: empty model id", ai.ErrInvalidModel)
	}

	var system []brtypes.SystemContentBlock
	if params.SystemPrompt != "" {
		system = append(system, &brtypes.SystemContentBlockMemberText{Value: params.SystemPrompt})
	}

	var brMsgs []brtypes.Message
	for _, m := range append(append([]ai.Message{}, params.Messages...), messages...) {
		switch m.Role {
		case ai.RoleSystem:
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
		case ai.RoleUser, ai.RoleAssistant:
			brMsgs = append(brMsgs, brtypes.Message{
				Role:    brtypes.ConversationRole(m.Role),
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		default:
			return nil, fmt.Errorf("bedrock: unknown message role %q", m.Role)
		}
	}

	in := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(params.ModelID),
		Messages: brMsgs,
		System:   system,
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(params.MaxNewTokens)),
			Temperature: aws.Float32(float32(params.Temperature)),
			TopP:        aws.Float32(float32(params.TopP)),
		},
	}

	if params.Reasoning {
		in.AdditionalModelRequestFields = document.NewLazyDocument(map[string]any{
			"thinking": map[string]any{
				"type":          "enabled",
				"budget_tokens": reasoningBudgetTokens,
			},
		})
		// Anthropic models reject explicit temperature/top_p while thinking.
		in.InferenceConfig.Temperature = nil
		in.InferenceConfig.TopP = nil
	}

	return in, nil
}

// extractText concatenates the text blocks of a Converse response.
func extractText(out brtypes.ConverseOutput) string {
	msg, ok := out.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var text []byte
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text = append(text, tb.Value...)
		}
	}
	return string(text)
}

func derefInt(v *int32) int {
	if v == nil {
		return 0
	}
	return int(*v)
}

// translateErr maps AWS SDK errors onto the ai error taxonomy.
func translateErr(err error) error {
	var throttled *brtypes.ThrottlingException
	if errors.As(err, &throttled) {
		return fmt.Errorf("%w: %v", ai.ErrRateLimited, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ai.ErrTransport, err)
}

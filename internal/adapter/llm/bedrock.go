package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/trace"

	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
	"switchboard/internal/infra/tracer"
)

const (
	defaultBedrockRegion    = "us-east-1"
	defaultBedrockMaxTokens = 1024
	bedrockJSONInstruction  = "Respond with a single JSON object and nothing else."
)

// bedrockConverseAPI abstracts the Bedrock runtime methods for testability.
type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockProvider implements domain.StreamingLLMProvider via the AWS Bedrock
// Converse API. Credentials come from the default AWS chain.
type BedrockProvider struct {
	name   string
	model  string
	client bedrockConverseAPI
	logger *slog.Logger
}

// NewBedrockProvider creates a Bedrock provider in cfg.Region.
func NewBedrockProvider(cfg config.ProviderConfig, logger *slog.Logger) (*BedrockProvider, error) {
	region := cfg.Region
	if region == "" {
		region = defaultBedrockRegion
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(NewHTTPClient(cfg)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newBedrockProviderWithClient(cfg.Name, cfg.Model, bedrockruntime.NewFromConfig(awsCfg), logger), nil
}

func newBedrockProviderWithClient(name, model string, client bedrockConverseAPI, logger *slog.Logger) *BedrockProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &BedrockProvider{name: name, model: model, client: client, logger: logger}
}

// Chat implements domain.LLMProvider.
func (p *BedrockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	output, err := p.client.Converse(ctx, toBedrockConverseInput(req))
	if err != nil {
		err = mapBedrockError(err)
		tracer.RecordError(span, err)
		return nil, err
	}

	result := fromBedrockConverseOutput(output, req.Model)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result)

	return result, nil
}

// ChatStream implements domain.StreamingLLMProvider.
func (p *BedrockProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	ci := toBedrockConverseInput(req)
	output, err := p.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         ci.ModelId,
		Messages:        ci.Messages,
		System:          ci.System,
		InferenceConfig: ci.InferenceConfig,
	})
	if err != nil {
		return nil, mapBedrockError(err)
	}

	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		stream := output.GetStream()
		defer stream.Close()

		for evt := range stream.Events() {
			delta := processBedrockStreamEvent(evt)
			if delta == nil {
				continue
			}
			select {
			case ch <- *delta:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			p.logger.Warn("bedrock stream ended with error", "provider", p.name, "error", err)
			select {
			case ch <- domain.StreamDelta{Done: true}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// Name implements domain.LLMProvider.
func (p *BedrockProvider) Name() string { return p.name }

// toBedrockConverseInput moves system messages into the System field. JSON
// output has no native switch in Converse, so it is requested in the system
// prompt.
func toBedrockConverseInput(req domain.ChatRequest) *bedrockruntime.ConverseInput {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultBedrockMaxTokens
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(req.Model),
		InferenceConfig: &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))},
	}
	if req.Temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(float32(req.Temperature))
	}

	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleUser:
			input.Messages = append(input.Messages, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		case domain.RoleAssistant:
			input.Messages = append(input.Messages, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		}
	}
	if req.JSONOutput {
		system = append(system, bedrockJSONInstruction)
	}
	if len(system) > 0 {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: strings.Join(system, "\n\n")},
		}
	}
	return input
}

func bedrockUsage(u *types.TokenUsage) domain.Usage {
	if u == nil {
		return domain.Usage{}
	}
	in, out := int(aws.ToInt32(u.InputTokens)), int(aws.ToInt32(u.OutputTokens))
	return domain.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
}

func fromBedrockConverseOutput(output *bedrockruntime.ConverseOutput, model string) *domain.ChatResponse {
	now := time.Now()
	result := &domain.ChatResponse{
		Model:     model,
		Usage:     bedrockUsage(output.Usage),
		CreatedAt: now,
		Message:   domain.Message{Role: domain.RoleAssistant, Timestamp: now},
	}
	if msg, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		var sb strings.Builder
		for _, block := range msg.Value.Content {
			if text, ok := block.(*types.ContentBlockMemberText); ok {
				sb.WriteString(text.Value)
			}
		}
		result.Message.Content = sb.String()
	}
	return result
}

func processBedrockStreamEvent(evt types.ConverseStreamOutput) *domain.StreamDelta {
	switch e := evt.(type) {
	case *types.ConverseStreamOutputMemberContentBlockDelta:
		if d, ok := e.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
			return &domain.StreamDelta{Content: d.Value}
		}
		return nil
	case *types.ConverseStreamOutputMemberMetadata:
		delta := &domain.StreamDelta{Done: true}
		if e.Value.Usage != nil {
			u := bedrockUsage(e.Value.Usage)
			delta.Usage = &u
		}
		return delta
	case *types.ConverseStreamOutputMemberMessageStop:
		return &domain.StreamDelta{Done: true}
	default:
		return nil
	}
}

// mapBedrockError maps AWS API error codes onto the shared provider errors.
func mapBedrockError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return fmt.Errorf("%w: %s", domain.ErrRateLimit, err)
		case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException":
			return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, err)
		case "ModelNotReadyException", "ServiceUnavailableException", "InternalServerException", "ModelTimeoutException":
			return fmt.Errorf("%w: %s", domain.ErrProviderError, err)
		}
	}
	return domain.WrapOp("bedrock", err)
}

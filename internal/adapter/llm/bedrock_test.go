package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"switchboard/internal/domain"
)

type mockBedrockClient struct {
	converseFunc func(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

func (m *mockBedrockClient) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	if m.converseFunc != nil {
		return m.converseFunc(ctx, params, optFns...)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockBedrockClient) ConverseStream(context.Context, *bedrockruntime.ConverseStreamInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}
}

func TestBedrockChat(t *testing.T) {
	var received *bedrockruntime.ConverseInput
	mock := &mockBedrockClient{
		converseFunc: func(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
			received = params
			return &bedrockruntime.ConverseOutput{
				Output: &types.ConverseOutputMemberMessage{
					Value: types.Message{
						Role: types.ConversationRoleAssistant,
						Content: []types.ContentBlock{
							&types.ContentBlockMemberText{Value: `{"target":"clock",`},
							&types.ContentBlockMemberText{Value: `"confidence":0.9}`},
						},
					},
				},
				Usage: &types.TokenUsage{InputTokens: aws.Int32(10), OutputTokens: aws.Int32(5)},
			}, nil
		},
	}

	provider := newBedrockProviderWithClient("aws", "anthropic.claude-3-haiku", mock, newTestLogger())
	resp, err := provider.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "Pick a worker."},
			{Role: domain.RoleUser, Content: "what time is it?"},
		},
		JSONOutput: true,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Message.Content != `{"target":"clock","confidence":0.9}` {
		t.Errorf("Content = %q", resp.Message.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}
	if resp.Model != "anthropic.claude-3-haiku" {
		t.Errorf("Model = %q", resp.Model)
	}

	if received == nil {
		t.Fatal("expected input to be captured")
	}
	if aws.ToString(received.ModelId) != "anthropic.claude-3-haiku" {
		t.Errorf("ModelId = %q", aws.ToString(received.ModelId))
	}
	if len(received.Messages) != 1 {
		t.Fatalf("Messages len = %d, want 1 (system extracted)", len(received.Messages))
	}
	if len(received.System) != 1 {
		t.Fatalf("System len = %d, want 1", len(received.System))
	}
	sys, ok := received.System[0].(*types.SystemContentBlockMemberText)
	if !ok {
		t.Fatalf("System[0] is %T", received.System[0])
	}
	if !strings.HasPrefix(sys.Value, "Pick a worker.") || !strings.Contains(sys.Value, bedrockJSONInstruction) {
		t.Errorf("system prompt = %q", sys.Value)
	}
	if got := aws.ToInt32(received.InferenceConfig.MaxTokens); got != defaultBedrockMaxTokens {
		t.Errorf("MaxTokens = %d", got)
	}
}

func TestBedrockChatMapsErrors(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"ThrottlingException", domain.ErrRateLimit},
		{"AccessDeniedException", domain.ErrAuthInvalid},
		{"ServiceUnavailableException", domain.ErrProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			mock := &mockBedrockClient{
				converseFunc: func(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
					return nil, &smithy.GenericAPIError{Code: tt.code, Message: "boom"}
				},
			}
			provider := newBedrockProviderWithClient("aws", "m", mock, newTestLogger())
			_, err := provider.Chat(context.Background(), domain.ChatRequest{
				Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBedrockChatStreamError(t *testing.T) {
	provider := newBedrockProviderWithClient("aws", "m", &mockBedrockClient{}, newTestLogger())
	_, err := provider.ChatStream(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	if !errors.Is(err, domain.ErrRateLimit) {
		t.Errorf("err = %v, want rate limit", err)
	}
}

func TestProcessBedrockStreamEvent(t *testing.T) {
	text := processBedrockStreamEvent(&types.ConverseStreamOutputMemberContentBlockDelta{
		Value: types.ContentBlockDeltaEvent{Delta: &types.ContentBlockDeltaMemberText{Value: "Hel"}},
	})
	if text == nil || text.Content != "Hel" || text.Done {
		t.Errorf("text delta = %+v", text)
	}

	meta := processBedrockStreamEvent(&types.ConverseStreamOutputMemberMetadata{
		Value: types.ConverseStreamMetadataEvent{
			Usage: &types.TokenUsage{InputTokens: aws.Int32(3), OutputTokens: aws.Int32(4)},
		},
	})
	if meta == nil || !meta.Done || meta.Usage == nil || meta.Usage.TotalTokens != 7 {
		t.Errorf("metadata delta = %+v", meta)
	}

	stop := processBedrockStreamEvent(&types.ConverseStreamOutputMemberMessageStop{})
	if stop == nil || !stop.Done {
		t.Errorf("stop delta = %+v", stop)
	}

	if got := processBedrockStreamEvent(&types.ConverseStreamOutputMemberMessageStart{}); got != nil {
		t.Errorf("message start = %+v, want nil", got)
	}
}

func TestToBedrockConverseInputRoles(t *testing.T) {
	in := toBedrockConverseInput(domain.ChatRequest{
		Model:       "m",
		MaxTokens:   64,
		Temperature: 0.2,
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "a"},
			{Role: domain.RoleAssistant, Content: "b"},
			{Role: "tool", Content: "ignored"},
		},
	})
	if len(in.Messages) != 2 {
		t.Fatalf("Messages = %d, want 2", len(in.Messages))
	}
	if in.Messages[1].Role != types.ConversationRoleAssistant {
		t.Errorf("Role = %q", in.Messages[1].Role)
	}
	if in.System != nil {
		t.Errorf("System = %v, want nil", in.System)
	}
	if aws.ToInt32(in.InferenceConfig.MaxTokens) != 64 || in.InferenceConfig.Temperature == nil {
		t.Errorf("InferenceConfig = %+v", in.InferenceConfig)
	}
}

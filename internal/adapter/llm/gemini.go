package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
	"switchboard/internal/infra/tracer"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider implements domain.StreamingLLMProvider for the Google
// Gemini API.
type GeminiProvider struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewGeminiProvider creates a provider for the Google Gemini API.
func NewGeminiProvider(cfg config.ProviderConfig, logger *slog.Logger) *GeminiProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &GeminiProvider{
		name:    cfg.Name,
		model:   model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

// Chat implements domain.LLMProvider.
func (p *GeminiProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
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

	body, err := json.Marshal(toGeminiRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, p.client, p.endpoint(req.Model, "generateContent", nil), body, p.headers())
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var gemResp geminiResponse
	if err := json.Unmarshal(respBody, &gemResp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: unmarshal response: %w", domain.ErrProviderError, err)
	}
	if gemResp.PromptFeedback != nil && gemResp.PromptFeedback.BlockReason != "" {
		err := fmt.Errorf("%w: prompt blocked: %s", domain.ErrProviderError, gemResp.PromptFeedback.BlockReason)
		tracer.RecordError(span, err)
		return nil, err
	}

	result := fromGeminiResponse(gemResp, req.Model)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result)

	return result, nil
}

// ChatStream implements domain.StreamingLLMProvider.
func (p *GeminiProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	body, err := json.Marshal(toGeminiRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	u := p.endpoint(req.Model, "streamGenerateContent", url.Values{"alt": {"sse"}})
	httpResp, err := doStreamRequest(ctx, p.client, u, body, p.headers())
	if err != nil {
		return nil, err
	}

	return parseSSEStream(ctx, httpResp.Body, func(data []byte) (*domain.StreamDelta, error) {
		var chunk geminiResponse
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, err
		}

		delta := &domain.StreamDelta{Content: chunk.text()}
		if len(chunk.Candidates) > 0 && chunk.Candidates[0].FinishReason != "" {
			delta.Done = true
		}
		if chunk.UsageMetadata != nil {
			u := chunk.UsageMetadata.toDomain()
			delta.Usage = &u
		}
		return delta, nil
	}), nil
}

// Name implements domain.LLMProvider.
func (p *GeminiProvider) Name() string { return p.name }

func (p *GeminiProvider) endpoint(model, method string, q url.Values) string {
	u := fmt.Sprintf("%s/v1beta/models/%s:%s", p.baseURL, url.PathEscape(model), method)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// headers sends the key in a header so it never appears in logged URLs.
func (p *GeminiProvider) headers() map[string]string {
	if p.apiKey == "" {
		return nil
	}
	return map[string]string{"x-goog-api-key": p.apiKey}
}

// --- Gemini API wire types ---

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate     `json:"candidates"`
	UsageMetadata  *geminiUsage          `json:"usageMetadata,omitempty"`
	PromptFeedback *geminiPromptFeedback `json:"promptFeedback,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func (u geminiUsage) toDomain() domain.Usage {
	return domain.Usage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      u.TotalTokenCount,
	}
}

// text concatenates the text parts of the first candidate.
func (r geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func toGeminiRequest(req domain.ChatRequest) geminiRequest {
	gemReq := geminiRequest{}

	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			gemReq.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
			continue
		}
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		gemReq.Contents = append(gemReq.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	gc := geminiGenerationConfig{MaxOutputTokens: req.MaxTokens}
	if req.Temperature > 0 {
		gc.Temperature = &req.Temperature
	}
	if req.JSONOutput {
		gc.ResponseMIMEType = "application/json"
	}
	if gc != (geminiGenerationConfig{}) {
		gemReq.GenerationConfig = &gc
	}
	return gemReq
}

func fromGeminiResponse(resp geminiResponse, model string) *domain.ChatResponse {
	result := &domain.ChatResponse{
		Model:     model,
		CreatedAt: time.Now(),
	}
	if resp.UsageMetadata != nil {
		result.Usage = resp.UsageMetadata.toDomain()
	}
	result.Message = domain.Message{
		Role:      domain.RoleAssistant,
		Content:   resp.text(),
		Timestamp: result.CreatedAt,
	}
	return result
}

var _ domain.StreamingLLMProvider = (*GeminiProvider)(nil)

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
)

func newTestGemini(url string) *GeminiProvider {
	return NewGeminiProvider(config.ProviderConfig{
		Name:    "gemini",
		BaseURL: url,
		APIKey:  "gem-key",
	}, newTestLogger())
}

func TestGeminiProviderChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-2.0-flash:generateContent" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "gem-key" {
			t.Errorf("api key header = %q", r.Header.Get("x-goog-api-key"))
		}
		if r.URL.Query().Get("key") != "" {
			t.Error("api key must not be sent in the URL")
		}

		var req geminiRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "be brief" {
			t.Errorf("system instruction = %+v", req.SystemInstruction)
		}

		fmt.Fprint(w, `{
			"candidates":[{"content":{"role":"model","parts":[{"text":"Hi "},{"text":"there"}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":2,"totalTokenCount":6}
		}`)
	}))
	defer server.Close()

	resp, err := newTestGemini(server.URL).Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleUser, Content: "hello"},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "Hi there" {
		t.Errorf("Content = %q", resp.Message.Content)
	}
	if resp.Message.Role != domain.RoleAssistant {
		t.Errorf("Role = %q", resp.Message.Role)
	}
	if resp.Usage.TotalTokens != 6 {
		t.Errorf("TotalTokens = %d", resp.Usage.TotalTokens)
	}
}

func TestGeminiProviderHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := newTestGemini(server.URL).Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, domain.ErrAuthInvalid) {
		t.Errorf("err = %v, want ErrAuthInvalid", err)
	}
}

func TestGeminiChatPromptBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	}))
	defer server.Close()

	_, err := newTestGemini(server.URL).Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, domain.ErrProviderError) || !strings.Contains(err.Error(), "SAFETY") {
		t.Errorf("err = %v", err)
	}
}

func TestGeminiChatInvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "{")
	}))
	defer server.Close()

	_, err := newTestGemini(server.URL).Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, domain.ErrProviderError) {
		t.Errorf("err = %v, want ErrProviderError", err)
	}
}

func TestGeminiRequestConversion(t *testing.T) {
	got := toGeminiRequest(domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "q"},
			{Role: domain.RoleAssistant, Content: "a"},
		},
		MaxTokens:  32,
		JSONOutput: true,
	})

	if got.SystemInstruction != nil {
		t.Errorf("unexpected system instruction: %+v", got.SystemInstruction)
	}
	if len(got.Contents) != 2 || got.Contents[0].Role != "user" || got.Contents[1].Role != "model" {
		t.Fatalf("contents = %+v", got.Contents)
	}
	if got.GenerationConfig == nil {
		t.Fatal("generation config missing")
	}
	if got.GenerationConfig.ResponseMIMEType != "application/json" {
		t.Errorf("ResponseMIMEType = %q", got.GenerationConfig.ResponseMIMEType)
	}
	if got.GenerationConfig.MaxOutputTokens != 32 {
		t.Errorf("MaxOutputTokens = %d", got.GenerationConfig.MaxOutputTokens)
	}
}

func TestGeminiRequestNoGenerationConfig(t *testing.T) {
	got := toGeminiRequest(domain.ChatRequest{Messages: []domain.Message{{Role: domain.RoleUser, Content: "q"}}})
	if got.GenerationConfig != nil {
		t.Errorf("GenerationConfig = %+v, want nil", got.GenerationConfig)
	}
}

func TestGeminiResponseNoCandidates(t *testing.T) {
	got := fromGeminiResponse(geminiResponse{}, "m")
	if got.Message.Content != "" {
		t.Errorf("Content = %q", got.Message.Content)
	}
	if got.Usage.TotalTokens != 0 {
		t.Errorf("Usage = %+v", got.Usage)
	}
}

func TestGeminiDefaultBaseURL(t *testing.T) {
	p := NewGeminiProvider(config.ProviderConfig{Name: "g"}, nil)
	if p.baseURL != "https://generativelanguage.googleapis.com" {
		t.Errorf("baseURL = %q", p.baseURL)
	}
	if p.model != defaultGeminiModel {
		t.Errorf("model = %q", p.model)
	}
}

func TestGeminiChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("alt = %q", r.URL.Query().Get("alt"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Good \"}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"day\"}]},\"finishReason\":\"STOP\"}]}\n\n")
	}))
	defer server.Close()

	ch, err := newTestGemini(server.URL).ChatStream(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	var sb strings.Builder
	var last domain.StreamDelta
	for d := range ch {
		sb.WriteString(d.Content)
		last = d
	}
	if sb.String() != "Good day" {
		t.Errorf("content = %q", sb.String())
	}
	if !last.Done {
		t.Error("last delta not Done")
	}
}

func TestGeminiChatStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestGemini(server.URL).ChatStream(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, domain.ErrProviderError) {
		t.Errorf("err = %v, want ErrProviderError", err)
	}
}

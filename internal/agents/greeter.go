// Package agents holds the demo workers served over the a2a protocol: a
// greeter and a clock.
package agents

import (
	"context"
	"hash/fnv"
	"iter"
	"log/slog"
	"strings"

	"switchboard/internal/adapter/a2a"
	"switchboard/internal/domain"
)

const greeterSystemPrompt = "You are a warm, concise greeter. When the user greets you, reply with:\n" +
	"1) A single-sentence greeting in the same language and tone.\n" +
	"2) A newline.\n" +
	"3) A short inspirational quote (max 25 words) followed by an en-dash and the author's name, wrapped in double quotes.\n\n" +
	"Example:\n" +
	"Hello there!\n" +
	"\"The journey of a thousand miles begins with one step. – Lao Tzu\""

var quotes = []string{
	"\"The journey of a thousand miles begins with one step. – Lao Tzu\"",
	"\"Well begun is half done. – Aristotle\"",
	"\"What we think, we become. – Buddha\"",
	"\"Act as if what you do makes a difference. It does. – William James\"",
	"\"It always seems impossible until it's done. – Nelson Mandela\"",
}

// Greeter answers greetings with a greeting and a short quote. Without a
// provider, or when the provider fails, it answers from a fixed set.
type Greeter struct {
	provider domain.LLMProvider
	model    string
	logger   *slog.Logger
}

// NewGreeter creates a Greeter. provider may be nil.
func NewGreeter(provider domain.LLMProvider, model string, logger *slog.Logger) *Greeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Greeter{provider: provider, model: model, logger: logger}
}

// Card describes the greeter for discovery.
func (g *Greeter) Card(url string) a2a.AgentCard {
	return a2a.AgentCard{
		Name:               "Greeting Agent",
		Description:        "Replies with a friendly greeting and a short inspirational quote.",
		URL:                url,
		Version:            "1.0.0",
		Capabilities:       a2a.Capabilities{Streaming: true},
		DefaultInputModes:  []string{"text", "text/plain"},
		DefaultOutputModes: []string{"text", "text/plain"},
		Skills: []a2a.AgentSkill{{
			ID:          "greet",
			Name:        "Greeting with quote",
			Description: "Returns a greeting followed by an inspirational quote.",
			Tags:        []string{"greeting", "hello", "quote"},
			Examples:    []string{"Hello!", "Good morning", "Hi there"},
		}},
	}
}

// Execute implements a2a.Executor.
func (g *Greeter) Execute(ctx context.Context, task domain.Task) iter.Seq[domain.Chunk] {
	return func(yield func(domain.Chunk) bool) {
		if !yield(domain.Chunk{TaskID: task.ID, Content: "Crafting your personalized greeting…"}) {
			return
		}

		text, ok := g.generate(ctx, task, yield)
		if !ok {
			return
		}
		res := domain.WorkerSuccess(task, "", text)
		yield(domain.Chunk{TaskID: task.ID, Final: true, Result: &res})
	}
}

// generate returns the greeting text. Streamed model output is relayed as
// partial chunks. ok is false when the consumer stopped.
func (g *Greeter) generate(ctx context.Context, task domain.Task, yield func(domain.Chunk) bool) (string, bool) {
	if g.provider == nil {
		return staticGreeting(task.Content), true
	}

	req := domain.ChatRequest{
		Model: g.model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: greeterSystemPrompt},
			{Role: domain.RoleUser, Content: task.Content},
		},
		Temperature: 0.7,
	}

	if sp, ok := g.provider.(domain.StreamingLLMProvider); ok {
		deltas, err := sp.ChatStream(ctx, req)
		if err == nil {
			var sb strings.Builder
			for d := range deltas {
				if d.Content == "" {
					continue
				}
				sb.WriteString(d.Content)
				// Leading blank deltas are held back so a fallback payload
				// never contradicts streamed text.
				if strings.TrimSpace(sb.String()) == "" {
					continue
				}
				if !yield(domain.Chunk{TaskID: task.ID, Content: d.Content}) {
					return "", false
				}
			}
			if text := strings.TrimSpace(sb.String()); text != "" {
				return text, true
			}
			err = ctx.Err()
		}
		g.logger.Warn("greeter: model stream failed, using static greeting", "task_id", task.ID, "error", err)
		return staticGreeting(task.Content), true
	}

	resp, err := g.provider.Chat(ctx, req)
	if err != nil || strings.TrimSpace(resp.Message.Content) == "" {
		g.logger.Warn("greeter: model call failed, using static greeting", "task_id", task.ID, "error", err)
		return staticGreeting(task.Content), true
	}
	return strings.TrimSpace(resp.Message.Content), true
}

// staticGreeting picks a quote deterministically from the query.
func staticGreeting(query string) string {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(query))))
	return "Hello there! Great to hear from you.\n" + quotes[h.Sum32()%uint32(len(quotes))]
}

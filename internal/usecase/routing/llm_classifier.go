package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kaptinlin/jsonschema"
	"go.opentelemetry.io/otel/trace"

	"switchboard/internal/domain"
	"switchboard/internal/infra/tracer"
)

const defaultClassifierTimeout = 15 * time.Second

const routingSystemPrompt = "You are an orchestrator deciding which helper worker should answer the user. " +
	"You will get a JSON list of workers (id, name, description, intents, examples) and the user question.\n" +
	"Reply with ONLY a JSON object {\"worker_id\": \"<id>\", \"confidence\": <0..1>, \"reason\": \"<short>\"}, " +
	"or the single word NONE when no worker fits."

// selectionSchema constrains the model's structured reply.
const selectionSchema = `{
  "type": "object",
  "properties": {
    "worker_id":  {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reason":     {"type": "string"}
  },
  "required": ["worker_id"]
}`

type workerSelection struct {
	WorkerID   string   `json:"worker_id"`
	Confidence *float64 `json:"confidence,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

type promptWorker struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Intents     []string `json:"intents"`
	Examples    []string `json:"examples,omitempty"`
}

// LLMClassifierConfig configures an LLMClassifier.
type LLMClassifierConfig struct {
	Model         string
	Timeout       time.Duration // per call; 0 uses 15s
	MinConfidence float64       // replies below this are treated as NONE; 0 disables
}

// LLMClassifier delegates the routing choice to a language model. Provider
// failures surface as ErrClassifierUnavailable; a NONE reply, a reply naming
// an unknown worker, or a low-confidence reply surface as ErrNoMatchingWorker.
type LLMClassifier struct {
	provider domain.LLMProvider
	cfg      LLMClassifierConfig
	schema   *jsonschema.Schema
	logger   *slog.Logger
}

// NewLLMClassifier creates an LLMClassifier backed by provider.
func NewLLMClassifier(provider domain.LLMProvider, cfg LLMClassifierConfig, logger *slog.Logger) (*LLMClassifier, error) {
	if provider == nil {
		return nil, fmt.Errorf("llm classifier: provider is nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultClassifierTimeout
	}
	if logger == nil {
		logger = discardLogger()
	}
	schema, err := jsonschema.NewCompiler().Compile([]byte(selectionSchema))
	if err != nil {
		return nil, fmt.Errorf("llm classifier: compile schema: %w", err)
	}
	return &LLMClassifier{provider: provider, cfg: cfg, schema: schema, logger: logger}, nil
}

func (c *LLMClassifier) Classify(ctx context.Context, task domain.Task, candidates []domain.WorkerDescriptor) (domain.RoutingDecision, error) {
	const op = "LLMClassifier.Classify"

	ctx, span := tracer.StartSpan(ctx, "classifier.llm",
		trace.WithAttributes(
			tracer.StringAttr("task.id", task.ID),
			tracer.StringAttr("llm.provider", c.provider.Name()),
			tracer.IntAttr("classifier.candidates", len(candidates)),
		),
	)
	defer span.End()

	if len(candidates) == 0 {
		return domain.RoutingDecision{}, domain.NewDomainError(op, domain.ErrNoMatchingWorker, "no candidates")
	}

	prompt, err := buildRoutingPrompt(task.Content, candidates)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.RoutingDecision{}, domain.NewDomainError(op, domain.ErrClassifierUnavailable, err.Error())
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.provider.Chat(callCtx, domain.ChatRequest{
		Model: c.cfg.Model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: routingSystemPrompt},
			{Role: domain.RoleUser, Content: prompt},
		},
		JSONOutput: true,
	})
	if err != nil {
		tracer.RecordError(span, err)
		c.logger.Warn("routing model call failed", "task_id", task.ID, "provider", c.provider.Name(), "error", err)
		return domain.RoutingDecision{}, domain.NewDomainError(op, domain.ErrClassifierUnavailable, err.Error())
	}

	sel, none, err := c.parseReply(resp.Message.Content)
	if err != nil {
		tracer.RecordError(span, err)
		c.logger.Warn("routing model reply unusable", "task_id", task.ID, "error", err)
		return domain.RoutingDecision{}, domain.NewDomainError(op, domain.ErrClassifierUnavailable, err.Error())
	}
	if none {
		return domain.RoutingDecision{}, domain.NewDomainError(op, domain.ErrNoMatchingWorker, "model answered NONE")
	}

	found := false
	for _, cand := range candidates {
		if cand.ID == sel.WorkerID {
			found = true
			break
		}
	}
	if !found {
		return domain.RoutingDecision{}, domain.NewDomainError(op, domain.ErrNoMatchingWorker,
			fmt.Sprintf("model chose unknown worker %q", sel.WorkerID))
	}
	if c.cfg.MinConfidence > 0 && sel.Confidence != nil && *sel.Confidence < c.cfg.MinConfidence {
		return domain.RoutingDecision{}, domain.NewDomainError(op, domain.ErrNoMatchingWorker,
			fmt.Sprintf("confidence %.2f below threshold", *sel.Confidence))
	}

	c.logger.Info("routing decision", "task_id", task.ID, "worker_id", sel.WorkerID, "reason", sel.Reason)
	span.SetAttributes(tracer.StringAttr("classifier.target", sel.WorkerID))
	tracer.SetOK(span)
	return domain.RoutingDecision{
		TaskID:         task.ID,
		TargetWorkerID: sel.WorkerID,
		Confidence:     sel.Confidence,
		Rationale:      sel.Reason,
	}, nil
}

// parseReply accepts either the bare word NONE or a JSON object, possibly
// wrapped in prose or a code fence.
func (c *LLMClassifier) parseReply(content string) (workerSelection, bool, error) {
	text := strings.TrimSpace(content)
	if strings.EqualFold(strings.Trim(text, ".`\"' \n"), "none") {
		return workerSelection{}, true, nil
	}

	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return workerSelection{}, false, fmt.Errorf("no JSON object in reply %q", text)
	}
	raw := []byte(text[start : end+1])

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return workerSelection{}, false, fmt.Errorf("decode reply: %w", err)
	}
	if result := c.schema.Validate(generic); !result.IsValid() {
		return workerSelection{}, false, fmt.Errorf("reply does not match schema: %s", result.Error())
	}

	var sel workerSelection
	if err := json.Unmarshal(raw, &sel); err != nil {
		return workerSelection{}, false, fmt.Errorf("decode reply: %w", err)
	}
	sel.WorkerID = strings.TrimSpace(sel.WorkerID)
	if sel.WorkerID == "" || strings.EqualFold(sel.WorkerID, "none") {
		return workerSelection{}, true, nil
	}
	return sel, false, nil
}

func buildRoutingPrompt(question string, candidates []domain.WorkerDescriptor) (string, error) {
	list := make([]promptWorker, 0, len(candidates))
	for _, c := range candidates {
		list = append(list, promptWorker{
			ID:          c.ID,
			Name:        c.Name(),
			Description: c.Description,
			Intents:     c.AcceptedIntents,
			Examples:    c.Examples,
		})
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal workers: %w", err)
	}
	return fmt.Sprintf("Workers:\n%s\n\nUser question:\n%s\n\nChosen worker:", data, question), nil
}

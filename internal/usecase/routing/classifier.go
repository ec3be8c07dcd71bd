package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"switchboard/internal/domain"
)

// Classifier picks exactly one worker for a task out of candidates.
// Implementations must be deterministic for a fixed candidate list: when
// several candidates fit equally well the earliest one in the list wins.
type Classifier interface {
	Classify(ctx context.Context, task domain.Task, candidates []domain.WorkerDescriptor) (domain.RoutingDecision, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, task domain.Task, candidates []domain.WorkerDescriptor) (domain.RoutingDecision, error)

func (f ClassifierFunc) Classify(ctx context.Context, task domain.Task, candidates []domain.WorkerDescriptor) (domain.RoutingDecision, error) {
	return f(ctx, task, candidates)
}

// DefaultLexicon maps common intent tags to trigger phrases. An intent tag
// always triggers on itself; the lexicon adds synonyms.
var DefaultLexicon = map[string][]string{
	"greeting": {"hello", "hi", "hey", "hiya", "howdy", "greetings", "good morning", "good afternoon", "good evening", "yo"},
	"time":     {"clock", "hour", "hours", "o'clock", "timezone", "time zone", "what time"},
	"clock":    {"time"},
}

// KeywordClassifier routes on whole-word matches between the task content and
// each candidate's intents (plus its ID and lexicon synonyms). The candidate
// with the most distinct matched triggers wins; ties go to the earliest.
type KeywordClassifier struct {
	lexicon map[string][]string
	logger  *slog.Logger
}

// NewKeywordClassifier creates a KeywordClassifier. A nil lexicon uses DefaultLexicon.
func NewKeywordClassifier(lexicon map[string][]string, logger *slog.Logger) *KeywordClassifier {
	if lexicon == nil {
		lexicon = DefaultLexicon
	}
	if logger == nil {
		logger = discardLogger()
	}
	norm := make(map[string][]string, len(lexicon))
	for intent, words := range lexicon {
		key := strings.ToLower(strings.TrimSpace(intent))
		norm[key] = append(norm[key], words...)
	}
	return &KeywordClassifier{lexicon: norm, logger: logger}
}

func (c *KeywordClassifier) Classify(_ context.Context, task domain.Task, candidates []domain.WorkerDescriptor) (domain.RoutingDecision, error) {
	tokens := tokenize(task.Content)
	if len(tokens) == 0 || len(candidates) == 0 {
		return domain.RoutingDecision{}, domain.NewDomainError("KeywordClassifier.Classify", domain.ErrNoMatchingWorker, "")
	}

	bestIdx, bestScore, total := -1, 0, 0
	var bestHits []string
	for i, cand := range candidates {
		hits := c.matches(tokens, cand)
		total += len(hits)
		if len(hits) > bestScore {
			bestIdx, bestScore, bestHits = i, len(hits), hits
		}
	}

	if bestIdx < 0 {
		c.logger.Debug("no intent matched", "task_id", task.ID)
		return domain.RoutingDecision{}, domain.NewDomainError("KeywordClassifier.Classify", domain.ErrNoMatchingWorker, "")
	}

	confidence := float64(bestScore) / float64(total)
	target := candidates[bestIdx]
	c.logger.Debug("intent matched", "task_id", task.ID, "worker_id", target.ID, "hits", bestHits)
	return domain.RoutingDecision{
		TaskID:         task.ID,
		TargetWorkerID: target.ID,
		Confidence:     &confidence,
		Rationale:      "matched " + strings.Join(bestHits, ", "),
	}, nil
}

// matches returns the distinct triggers of cand found in tokens, in the order
// they are declared.
func (c *KeywordClassifier) matches(tokens []string, cand domain.WorkerDescriptor) []string {
	var hits []string
	seen := make(map[string]struct{})
	try := func(trigger string) {
		phrase := tokenize(trigger)
		if len(phrase) == 0 {
			return
		}
		key := strings.Join(phrase, " ")
		if _, dup := seen[key]; dup {
			return
		}
		if containsPhrase(tokens, phrase) {
			seen[key] = struct{}{}
			hits = append(hits, key)
		}
	}

	try(cand.ID)
	for _, intent := range cand.AcceptedIntents {
		try(intent)
		for _, syn := range c.lexicon[strings.ToLower(strings.TrimSpace(intent))] {
			try(syn)
		}
	}
	return hits
}

// tokenize lowercases s and splits it into words of letters, digits and
// apostrophes.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func containsPhrase(tokens, phrase []string) bool {
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		match := true
		for j := range phrase {
			if tokens[i+j] != phrase[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// FallbackClassifier consults Primary first and Secondary when Primary finds
// no match. With FallbackOnUnavailable set, an unavailable Primary also falls
// through instead of surfacing ErrClassifierUnavailable.
type FallbackClassifier struct {
	Primary               Classifier
	Secondary             Classifier
	FallbackOnUnavailable bool
	Logger                *slog.Logger
}

func (f *FallbackClassifier) Classify(ctx context.Context, task domain.Task, candidates []domain.WorkerDescriptor) (domain.RoutingDecision, error) {
	decision, err := f.Primary.Classify(ctx, task, candidates)
	if err == nil {
		return decision, nil
	}

	fallthroughOK := errors.Is(err, domain.ErrNoMatchingWorker) ||
		(f.FallbackOnUnavailable && errors.Is(err, domain.ErrClassifierUnavailable))
	if !fallthroughOK || f.Secondary == nil {
		return domain.RoutingDecision{}, err
	}

	if f.Logger != nil {
		f.Logger.Debug("primary classifier declined, trying fallback", "task_id", task.ID, "error", err)
	}
	decision, err2 := f.Secondary.Classify(ctx, task, candidates)
	if err2 != nil {
		return domain.RoutingDecision{}, fmt.Errorf("fallback: %w", err2)
	}
	return decision, nil
}

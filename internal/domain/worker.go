package domain

import (
	"slices"
	"strings"
	"time"
)

// WorkerDescriptor is the capability metadata a worker declares. It is immutable
// once registered: the registry stores and hands out copies.
type WorkerDescriptor struct {
	ID              string        `json:"id" yaml:"id"`
	DisplayName     string        `json:"displayName" yaml:"name"`
	Description     string        `json:"description" yaml:"description"`
	Endpoint        string        `json:"endpoint,omitempty" yaml:"endpoint"`
	AcceptedIntents []string      `json:"acceptedIntents" yaml:"intents"`
	Examples        []string      `json:"examples,omitempty" yaml:"examples,omitempty"`
	Timeout         time.Duration `json:"-" yaml:"timeout,omitempty"`
}

// NewWorkerDescriptor builds a descriptor with normalized intents: trimmed,
// lowercased, de-duplicated, empty tags dropped. Declaration order is kept.
func NewWorkerDescriptor(id, name, description string, intents []string) WorkerDescriptor {
	return WorkerDescriptor{
		ID:              strings.TrimSpace(id),
		DisplayName:     name,
		Description:     description,
		AcceptedIntents: NormalizeIntents(intents),
	}
}

// NormalizeIntents trims, lowercases and de-duplicates intent tags.
func NormalizeIntents(intents []string) []string {
	out := make([]string, 0, len(intents))
	seen := make(map[string]struct{}, len(intents))
	for _, in := range intents {
		tag := strings.ToLower(strings.TrimSpace(in))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// Accepts reports whether intent is one of the declared tags (case-insensitive).
func (d WorkerDescriptor) Accepts(intent string) bool {
	return slices.Contains(d.AcceptedIntents, strings.ToLower(strings.TrimSpace(intent)))
}

// Name returns DisplayName, falling back to ID.
func (d WorkerDescriptor) Name() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.ID
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (d WorkerDescriptor) Clone() WorkerDescriptor {
	d.AcceptedIntents = slices.Clone(d.AcceptedIntents)
	d.Examples = slices.Clone(d.Examples)
	return d
}

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"switchboard/internal/adapter/a2a"
	"switchboard/internal/domain"
)

// DefaultDiscoveryTimeout bounds one agent-card fetch.
const DefaultDiscoveryTimeout = 5 * time.Second

// Discoverer fetches agent cards from peer base URLs.
type Discoverer struct {
	http    *http.Client
	timeout time.Duration
}

// NewDiscoverer creates a Discoverer. A nil client uses http.DefaultClient;
// a zero timeout uses DefaultDiscoveryTimeout.
func NewDiscoverer(hc *http.Client, timeout time.Duration) *Discoverer {
	if hc == nil {
		hc = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultDiscoveryTimeout
	}
	return &Discoverer{http: hc, timeout: timeout}
}

// Discover fetches baseURL's agent card and converts it to a descriptor.
func (d *Discoverer) Discover(ctx context.Context, baseURL string) (domain.WorkerDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	base := strings.TrimRight(baseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+a2a.AgentCardPath, nil)
	if err != nil {
		return domain.WorkerDescriptor{}, fmt.Errorf("discover %s: %w", baseURL, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return domain.WorkerDescriptor{}, fmt.Errorf("discover %s: %w: %w", baseURL, domain.ErrWorkerTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.WorkerDescriptor{}, fmt.Errorf("discover %s: %w: HTTP %d", baseURL, domain.ErrWorkerTransport, resp.StatusCode)
	}

	var card a2a.AgentCard
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&card); err != nil {
		return domain.WorkerDescriptor{}, fmt.Errorf("discover %s: %w: malformed agent card: %w", baseURL, domain.ErrWorkerTransport, err)
	}
	if card.URL == "" {
		card.URL = base + "/"
	}
	return DescriptorFromCard(card)
}

// DescriptorFromCard maps an agent card to a worker descriptor. Skill IDs and
// tags become intents; the ID is a slug of the card name.
func DescriptorFromCard(card a2a.AgentCard) (domain.WorkerDescriptor, error) {
	id := Slug(card.Name)
	if id == "" {
		return domain.WorkerDescriptor{}, domain.NewDomainError("worker.DescriptorFromCard", domain.ErrInvalidInput, "agent card has no name")
	}

	var intents, examples []string
	for _, s := range card.Skills {
		intents = append(intents, s.ID)
		intents = append(intents, s.Tags...)
		examples = append(examples, s.Examples...)
	}

	desc := domain.NewWorkerDescriptor(id, card.Name, card.Description, intents)
	desc.Endpoint = card.URL
	desc.Examples = examples
	return desc, nil
}

// Slug lowercases s and joins its words with dashes.
func Slug(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, "-")
}

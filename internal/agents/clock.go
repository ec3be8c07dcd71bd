package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/kaptinlin/jsonschema"

	"switchboard/internal/adapter/a2a"
	"switchboard/internal/domain"
)

// ErrUnknownLocation is returned when a location resolves to no time zone.
var ErrUnknownLocation = fmt.Errorf("unknown location: %w", domain.ErrInvalidInput)

const locationPrompt = "Extract the place the user asks the time for. " +
	"Reply with ONLY a JSON object {\"location\": \"<city, country or IANA zone>\"}, " +
	"using an empty string when no place is named."

const locationSchema = `{
  "type": "object",
  "properties": {"location": {"type": "string"}},
  "required": ["location"]
}`

// locationPattern captures the place after the last "in", "at" or "for".
var locationPattern = regexp.MustCompile(`(?i)^.*\b(?:in|at|for)\s+([\p{L}][\p{L}\s/_'.-]*?)\s*[?.!]*\s*$`)

// Clock tells the current time in a location.
type Clock struct {
	defaultZone *time.Location
	provider    domain.LLMProvider
	model       string
	schema      *jsonschema.Schema
	now         func() time.Time
	logger      *slog.Logger
}

// ClockOption configures a Clock.
type ClockOption func(*Clock)

// WithLocationModel extracts locations with provider instead of by pattern.
func WithLocationModel(provider domain.LLMProvider, model string) ClockOption {
	return func(c *Clock) { c.provider, c.model = provider, model }
}

// WithNow overrides the clock's time source.
func WithNow(now func() time.Time) ClockOption {
	return func(c *Clock) { c.now = now }
}

// NewClock creates a Clock answering in defaultZone when no place is named.
func NewClock(defaultZone string, logger *slog.Logger, opts ...ClockOption) (*Clock, error) {
	if defaultZone == "" {
		defaultZone = "UTC"
	}
	loc, err := time.LoadLocation(defaultZone)
	if err != nil {
		return nil, fmt.Errorf("clock: default zone: %w", err)
	}
	schema, err := jsonschema.NewCompiler().Compile([]byte(locationSchema))
	if err != nil {
		return nil, fmt.Errorf("clock: compile schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Clock{defaultZone: loc, schema: schema, now: time.Now, logger: logger}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Card describes the clock for discovery.
func (c *Clock) Card(url string) a2a.AgentCard {
	return a2a.AgentCard{
		Name:               "Find Time Agent",
		Description:        "Tells the current time in a city, country or time zone.",
		URL:                url,
		Version:            "1.0.0",
		Capabilities:       a2a.Capabilities{Streaming: true},
		DefaultInputModes:  []string{"text", "text/plain"},
		DefaultOutputModes: []string{"text", "text/plain"},
		Skills: []a2a.AgentSkill{{
			ID:          "tell_time",
			Name:        "Get Current Time",
			Description: "Tells the current time in HH:MM:SS format.",
			Tags:        []string{"time", "clock"},
			Examples:    []string{"What time is it?", "What time is it in Tokyo?"},
		}},
	}
}

// Execute implements a2a.Executor.
func (c *Clock) Execute(ctx context.Context, task domain.Task) iter.Seq[domain.Chunk] {
	return func(yield func(domain.Chunk) bool) {
		if !yield(domain.Chunk{TaskID: task.ID, Content: "Fetching the local time…"}) {
			return
		}

		var res domain.WorkerResult
		answer, err := c.Tell(ctx, task.Content)
		if err != nil {
			res = domain.WorkerFailure(task, "", err, "")
		} else {
			res = domain.WorkerSuccess(task, "", answer)
		}
		yield(domain.Chunk{TaskID: task.ID, Final: true, Result: &res})
	}
}

// Tell answers query with "It is HH:MM:SS in <zone>.".
func (c *Clock) Tell(ctx context.Context, query string) (string, error) {
	place := c.extract(ctx, query)
	loc := c.defaultZone
	if place != "" {
		var err error
		if loc, err = ResolveZone(place); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("It is %s in %s.", c.now().In(loc).Format("15:04:05"), loc.String()), nil
}

func (c *Clock) extract(ctx context.Context, query string) string {
	if c.provider != nil {
		place, err := c.extractWithModel(ctx, query)
		if err == nil {
			return place
		}
		c.logger.Warn("clock: model extraction failed, using pattern", "error", err)
	}
	m := locationPattern.FindStringSubmatch(strings.TrimSpace(query))
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func (c *Clock) extractWithModel(ctx context.Context, query string) (string, error) {
	resp, err := c.provider.Chat(ctx, domain.ChatRequest{
		Model: c.model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: locationPrompt},
			{Role: domain.RoleUser, Content: query},
		},
		JSONOutput: true,
	})
	if err != nil {
		return "", err
	}

	var generic any
	if err := json.Unmarshal([]byte(resp.Message.Content), &generic); err != nil {
		return "", fmt.Errorf("reply is not JSON: %w", err)
	}
	if result := c.schema.Validate(generic); !result.IsValid() {
		return "", fmt.Errorf("reply does not match schema: %s", result.Error())
	}
	var out struct {
		Location string `json:"location"`
	}
	if err := json.Unmarshal([]byte(resp.Message.Content), &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Location), nil
}

// ResolveZone maps a place to a time zone: an exact IANA name
// (case-insensitive), a known alias, or the first known zone whose name
// contains the place.
func ResolveZone(place string) (*time.Location, error) {
	key := strings.ToLower(strings.TrimSpace(place))
	if key == "" {
		return nil, ErrUnknownLocation
	}
	for _, z := range knownZones {
		if strings.ToLower(z) == key {
			return time.LoadLocation(z)
		}
	}
	if strings.Contains(place, "/") {
		if loc, err := time.LoadLocation(strings.TrimSpace(place)); err == nil {
			return loc, nil
		}
	}
	if z, ok := zoneAliases[key]; ok {
		return time.LoadLocation(z)
	}
	needle := strings.ReplaceAll(key, " ", "_")
	for _, z := range knownZones {
		if strings.Contains(strings.ToLower(z), needle) {
			return time.LoadLocation(z)
		}
	}
	return nil, domain.NewDomainError("clock.ResolveZone", ErrUnknownLocation,
		fmt.Sprintf("%q: provide a valid country or time zone (e.g. 'Asia/Tokyo' or just 'tokyo')", place))
}

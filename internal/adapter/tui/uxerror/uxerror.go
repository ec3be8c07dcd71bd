// Package uxerror translates dispatch failures and client errors into
// user-friendly messages with recovery hints.
package uxerror

import (
	"fmt"
	"strings"

	"switchboard/internal/adapter/tui/theme"
	"switchboard/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string   // short heading, e.g. "No Worker Matched"
	Message string   // one-liner explanation
	Hints   []string // actionable recovery suggestions
	Raw     string   // original error text
}

// Render formats the FriendlyError for display in the transcript.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString(fmt.Sprintf("\n    %s %s", theme.SymbolBullet, h))
		}
	}
	return sb.String()
}

type kindText struct {
	title   string
	message string
	hints   []string
}

var kinds = map[domain.ErrorKind]kindText{
	domain.KindNoMatchingWorker: {
		"No Worker Matched",
		"None of the registered workers can handle that request.",
		[]string{"Rephrase the request", "Run /workers to see what is available"},
	},
	domain.KindClassifierUnavailable: {
		"Classifier Unavailable",
		"The request could not be classified right now.",
		[]string{"Try again in a moment", "Check the LLM provider settings"},
	},
	domain.KindWorkerTimeout: {
		"Worker Timed Out",
		"The chosen worker did not answer in time.",
		[]string{"Try again", "Increase the worker's timeout in config"},
	},
	domain.KindWorkerTransport: {
		"Worker Unreachable",
		"The chosen worker could not be contacted or returned an error.",
		[]string{"Check that the worker process is running", "Run 'switchboard doctor'"},
	},
	domain.KindUnknownWorker: {
		"Unknown Worker",
		"The request was routed to a worker that is not registered.",
		[]string{"Check the workers section of the config"},
	},
	domain.KindInvalidInput: {
		"Invalid Request",
		"The query was empty or malformed.",
		nil,
	},
}

// FromResult describes a failed DispatchResult. Retryable kinds always carry
// a "Try again" hint.
func FromResult(res domain.DispatchResult) FriendlyError {
	kt, ok := kinds[res.Error]
	if !ok {
		kt = kindText{"Dispatch Failed", "", []string{"Try again"}}
	}
	fe := FriendlyError{Title: kt.title, Message: kt.message, Hints: kt.hints, Raw: res.ErrorDetail}
	if fe.Message == "" {
		fe.Message = res.ErrorDetail
	}
	if res.TargetWorkerID != "" {
		fe.Title += " (" + res.TargetWorkerID + ")"
	}
	return fe
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

var patterns = []errorPattern{
	{
		match:   containsAny("connection refused", "dial tcp", "no such host", "unreachable"),
		produce: constantError("Dispatcher Unreachable", "Could not reach the dispatcher.", []string{"Start it with 'switchboard run'", "Check --url or SWITCHBOARD_URL"}),
	},
	{
		match:   containsAny("deadline exceeded", "timeout", "context deadline"),
		produce: constantError("Request Timed Out", "The dispatcher took too long to answer.", []string{"Try again", "Increase worker timeouts in config"}),
	},
	{
		match:   containsAny("429", "rate limit", "too many requests"),
		produce: constantError("Rate Limited", "The dispatcher is rejecting requests from this client.", []string{"Wait a moment before retrying"}),
	},
	{
		match:   containsAny("401", "unauthorized"),
		produce: constantError("Authentication Failed", "The dispatcher rejected the request.", []string{"Check the configured token"}),
	},
}

// Humanize converts a client-side error into a FriendlyError.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}
	for _, p := range patterns {
		if p.match(err) {
			return p.produce(err)
		}
	}
	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Run with --log-level debug for more details"},
		Raw:     err.Error(),
	}
}

// containsAny returns a match func that checks if the error string contains
// any of the given substrings (case-insensitive).
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{Title: title, Message: message, Hints: hints, Raw: err.Error()}
	}
}

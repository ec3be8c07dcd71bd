package uxerror

import (
	"errors"
	"strings"
	"testing"

	"switchboard/internal/domain"
)

func TestFromResultKnownKind(t *testing.T) {
	fe := FromResult(domain.DispatchResult{
		Status:         domain.StatusFailure,
		TargetWorkerID: "clock",
		Error:          domain.KindWorkerTimeout,
		ErrorDetail:    "deadline exceeded after 30s",
	})
	if fe.Title != "Worker Timed Out (clock)" {
		t.Errorf("Title = %q", fe.Title)
	}
	if fe.Raw != "deadline exceeded after 30s" {
		t.Errorf("Raw = %q", fe.Raw)
	}
	if !strings.Contains(fe.Render(), "Suggestions:") {
		t.Errorf("Render() missing hints:\n%s", fe.Render())
	}
}

func TestFromResultUnknownKindUsesDetail(t *testing.T) {
	fe := FromResult(domain.DispatchResult{Status: domain.StatusFailure, Error: domain.KindInternal, ErrorDetail: "boom"})
	if fe.Title != "Dispatch Failed" || fe.Message != "boom" {
		t.Errorf("got %+v", fe)
	}
}

func TestFromResultNoTarget(t *testing.T) {
	fe := FromResult(domain.DispatchResult{Status: domain.StatusFailure, Error: domain.KindNoMatchingWorker})
	if fe.Title != "No Worker Matched" {
		t.Errorf("Title = %q", fe.Title)
	}
}

func TestHumanize(t *testing.T) {
	tests := []struct {
		err   error
		title string
	}{
		{errors.New("dispatcher unreachable: dial tcp 127.0.0.1:8080: connect: connection refused"), "Dispatcher Unreachable"},
		{errors.New("context deadline exceeded"), "Request Timed Out"},
		{errors.New("dispatcher: HTTP 429"), "Rate Limited"},
		{errors.New("weird"), "Unexpected Error"},
	}
	for _, tt := range tests {
		if got := Humanize(tt.err).Title; got != tt.title {
			t.Errorf("Humanize(%q).Title = %q, want %q", tt.err, got, tt.title)
		}
	}
	if Humanize(nil).Title != "Unknown Error" {
		t.Error("nil error should be Unknown Error")
	}
}

package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/domain"
	"switchboard/internal/usecase/routing"
)

type stubWorker struct {
	payload string
	parts   []string
}

func (s *stubWorker) Invoke(_ context.Context, task domain.Task) domain.WorkerResult {
	return domain.WorkerSuccess(task, "", s.payload)
}

func (s *stubWorker) Stream(_ context.Context, task domain.Task) iter.Seq[domain.Chunk] {
	return func(yield func(domain.Chunk) bool) {
		for _, p := range s.parts {
			if !yield(domain.Chunk{TaskID: task.ID, Content: p}) {
				return
			}
		}
		res := domain.WorkerSuccess(task, "", s.payload)
		yield(domain.Chunk{TaskID: task.ID, Final: true, Result: &res})
	}
}

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := routing.NewRegistry(logger)
	require.NoError(t, reg.Register(domain.NewWorkerDescriptor("greeter", "Greeter Agent", "", []string{"greeting"})))
	require.NoError(t, reg.Register(domain.NewWorkerDescriptor("clock", "Clock", "", []string{"time"})))

	d := routing.NewDispatcher(reg, routing.NewKeywordClassifier(nil, logger), nil, logger)
	require.NoError(t, d.BindClient("greeter", &stubWorker{payload: "Hello!", parts: []string{"Hel", "lo!"}}))
	require.NoError(t, d.BindClient("clock", &stubWorker{payload: "It is 12:00:00 in UTC."}))

	srv := httptest.NewServer(NewServer(d, reg, "", logger).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestDispatchSuccess(t *testing.T) {
	srv := newTestAPI(t)

	resp := postJSON(t, srv.URL+"/api/v1/dispatch", `{"query":"what time is it?"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var res domain.DispatchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, domain.StatusSuccess, res.Status)
	assert.Equal(t, "clock", res.TargetWorkerID)
	assert.Equal(t, "It is 12:00:00 in UTC.", res.Payload)
	assert.NotEmpty(t, res.TaskID)
}

func TestDispatchFailureEnvelopeIs200(t *testing.T) {
	srv := newTestAPI(t)

	resp := postJSON(t, srv.URL+"/api/v1/dispatch", `{"query":"tell me a joke"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res domain.DispatchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, domain.StatusFailure, res.Status)
	assert.Equal(t, domain.KindNoMatchingWorker, res.Error)
	assert.Empty(t, res.TargetWorkerID)
}

func TestDispatchEmptyQuery(t *testing.T) {
	srv := newTestAPI(t)

	resp := postJSON(t, srv.URL+"/api/v1/dispatch", `{"query":"   "}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res domain.DispatchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, domain.KindInvalidInput, res.Error)
}

func TestDispatchMalformedBody(t *testing.T) {
	srv := newTestAPI(t)

	for _, body := range []string{`not json`, `{"query": 3}`, `{"qeury":"hello"}`} {
		resp := postJSON(t, srv.URL+"/api/v1/dispatch", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)

		var e ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
		assert.Equal(t, string(domain.KindInvalidInput), e.Error)
	}
}

func TestDispatchWrongMethod(t *testing.T) {
	srv := newTestAPI(t)

	resp, err := http.Get(srv.URL + "/api/v1/dispatch")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

type sseEvent struct {
	name string
	data string
}

func readSSE(t *testing.T, r io.Reader) []sseEvent {
	t.Helper()
	var out []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.name != "":
			out = append(out, cur)
			cur = sseEvent{}
		}
	}
	require.NoError(t, sc.Err())
	return out
}

func TestDispatchStream(t *testing.T) {
	srv := newTestAPI(t)

	resp := postJSON(t, srv.URL+"/api/v1/dispatch/stream", `{"query":"hello there"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readSSE(t, resp.Body)
	require.Len(t, events, 4)

	var contents []string
	for _, e := range events[:3] {
		assert.Equal(t, "update", e.name)
		var u domain.DispatchUpdate
		require.NoError(t, json.Unmarshal([]byte(e.data), &u))
		assert.Equal(t, "greeter", u.WorkerID)
		contents = append(contents, u.Content)
	}
	assert.Equal(t, []string{"Asking Greeter Agent…", "Hel", "lo!"}, contents)

	last := events[3]
	assert.Equal(t, "result", last.name)
	var res domain.DispatchResult
	require.NoError(t, json.Unmarshal([]byte(last.data), &res))
	assert.Equal(t, domain.StatusSuccess, res.Status)
	assert.Equal(t, "Hello!", res.Payload)
}

func TestDispatchStreamFailureEndsWithResult(t *testing.T) {
	srv := newTestAPI(t)

	resp := postJSON(t, srv.URL+"/api/v1/dispatch/stream", `{"query":"tell me a joke"}`)
	events := readSSE(t, resp.Body)
	require.Len(t, events, 1)
	assert.Equal(t, "result", events[0].name)
	assert.Contains(t, events[0].data, string(domain.KindNoMatchingWorker))
}

func TestWorkersAndHealth(t *testing.T) {
	srv := newTestAPI(t)

	resp, err := http.Get(srv.URL + "/api/v1/workers")
	require.NoError(t, err)
	defer resp.Body.Close()
	var workers []domain.WorkerDescriptor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&workers))
	require.Len(t, workers, 2)
	assert.Equal(t, "greeter", workers[0].ID)
	assert.Equal(t, []string{"greeting"}, workers[0].AcceptedIntents)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 2, health["workers"])
}

func TestMiddlewareWrapsRoutes(t *testing.T) {
	var seen []string
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = append(seen, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
	reg := routing.NewRegistry(nil)
	h := NewServer(nil, reg, "", nil, WithMiddleware(mw)).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"/healthz"}, seen)
}

type fakeHistory struct {
	records   []domain.DispatchRecord
	err       error
	lastLimit atomic.Int64
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]domain.DispatchRecord, error) {
	f.lastLimit.Store(int64(limit))
	if f.err != nil {
		return nil, f.err
	}
	return f.records[:min(limit, len(f.records))], nil
}

func newHistoryAPI(t *testing.T, h HistoryReader) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := routing.NewRegistry(logger)
	d := routing.NewDispatcher(reg, routing.NewKeywordClassifier(nil, logger), nil, logger)
	srv := httptest.NewServer(NewServer(d, reg, "", logger, WithHistory(h)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHistory(t *testing.T) {
	h := &fakeHistory{records: []domain.DispatchRecord{
		{TaskID: "t2", Query: "hello", WorkerID: "greeter", Status: domain.StatusSuccess},
		{TaskID: "t1", Query: "time?", WorkerID: "clock", Status: domain.StatusSuccess},
	}}
	srv := newHistoryAPI(t, h)

	resp, err := http.Get(srv.URL + "/api/v1/dispatches?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var recs []domain.DispatchRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "t2", recs[0].TaskID)
	assert.Equal(t, int64(1), h.lastLimit.Load())
}

func TestHistoryLimits(t *testing.T) {
	h := &fakeHistory{}
	srv := newHistoryAPI(t, h)

	resp, err := http.Get(srv.URL + "/api/v1/dispatches")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(defaultHistoryLimit), h.lastLimit.Load())

	resp, err = http.Get(srv.URL + "/api/v1/dispatches?limit=100000")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int64(maxHistoryLimit), h.lastLimit.Load())

	for _, bad := range []string{"0", "-3", "ten"} {
		resp, err := http.Get(srv.URL + "/api/v1/dispatches?limit=" + bad)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, bad)
	}
}

func TestHistoryStoreError(t *testing.T) {
	srv := newHistoryAPI(t, &fakeHistory{err: errors.New("disk full")})

	resp, err := http.Get(srv.URL + "/api/v1/dispatches")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHistoryDisabled(t *testing.T) {
	srv := newTestAPI(t)

	resp, err := http.Get(srv.URL + "/api/v1/dispatches")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

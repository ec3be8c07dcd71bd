package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"time"

	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
	"switchboard/internal/infra/resilience"
)

// Client calls a running dispatcher's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the API at baseURL. A nil hc uses a pooled
// transport with no overall timeout; callers bound calls with ctx.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Transport: resilience.NewPooledTransport(5*time.Second, 0, config.PoolConfig{})}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c *Client) post(ctx context.Context, path, query string) (*http.Response, error) {
	body, err := json.Marshal(DispatchRequest{Query: query})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatcher unreachable: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, apiError(resp)
	}
	return resp, nil
}

func apiError(resp *http.Response) error {
	var e ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&e); err == nil && e.Error != "" {
		return fmt.Errorf("dispatcher: HTTP %d: %s: %s", resp.StatusCode, e.Error, e.Detail)
	}
	return fmt.Errorf("dispatcher: HTTP %d", resp.StatusCode)
}

// Dispatch posts query and returns the dispatcher's envelope.
func (c *Client) Dispatch(ctx context.Context, query string) (domain.DispatchResult, error) {
	resp, err := c.post(ctx, "/api/v1/dispatch", query)
	if err != nil {
		return domain.DispatchResult{}, err
	}
	defer resp.Body.Close()

	var res domain.DispatchResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return domain.DispatchResult{}, fmt.Errorf("decode dispatch result: %w", err)
	}
	return res, nil
}

// Stream posts query to the streaming endpoint. The sequence yields partial
// updates and then one final update carrying the result; a transport error
// ends the sequence with a non-nil error.
func (c *Client) Stream(ctx context.Context, query string) iter.Seq2[domain.DispatchUpdate, error] {
	return func(yield func(domain.DispatchUpdate, error) bool) {
		resp, err := c.post(ctx, "/api/v1/dispatch/stream", query)
		if err != nil {
			yield(domain.DispatchUpdate{}, err)
			return
		}
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		var event string
		for sc.Scan() {
			line := sc.Text()
			if name, ok := strings.CutPrefix(line, "event: "); ok {
				event = name
				continue
			}
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}

			var u domain.DispatchUpdate
			switch event {
			case EventResult:
				var res domain.DispatchResult
				if err := json.Unmarshal([]byte(data), &res); err != nil {
					yield(domain.DispatchUpdate{}, fmt.Errorf("decode stream result: %w", err))
					return
				}
				u = domain.DispatchUpdate{TaskID: res.TaskID, WorkerID: res.TargetWorkerID, Result: &res}
			default:
				if err := json.Unmarshal([]byte(data), &u); err != nil {
					yield(domain.DispatchUpdate{}, fmt.Errorf("decode stream update: %w", err))
					return
				}
			}
			if !yield(u, nil) || u.Final() {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(domain.DispatchUpdate{}, fmt.Errorf("read stream: %w", err))
			return
		}
		yield(domain.DispatchUpdate{}, fmt.Errorf("dispatcher closed the stream without a result"))
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dispatcher unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Workers lists the dispatcher's registered workers.
func (c *Client) Workers(ctx context.Context) ([]domain.WorkerDescriptor, error) {
	var out []domain.WorkerDescriptor
	if err := c.get(ctx, "/api/v1/workers", &out); err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	return out, nil
}

// History returns up to limit finished dispatches, newest first. The
// dispatcher answers 404 when it keeps no history.
func (c *Client) History(ctx context.Context, limit int) ([]domain.DispatchRecord, error) {
	path := "/api/v1/dispatches"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []domain.DispatchRecord
	if err := c.get(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return out, nil
}

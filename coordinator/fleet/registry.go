// Package fleet keeps the set of fetch workers the coordinator dispatches to.
package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tzlogs/pkg/failures"
	"tzlogs/pkg/fetchapi"
	"tzlogs/pkg/messages"
)

const healthTimeout = 5 * time.Second

// Worker is one fetch worker endpoint.
type Worker struct {
	Index int
	URL   string
}

// WorkerHealth is the probe result of one worker.
type WorkerHealth struct {
	Index    int    `json:"index"`
	URL      string `json:"url"`
	Healthy  bool   `json:"healthy"`
	WorkerID string `json:"worker_id,omitempty"`
	Login    string `json:"login,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Registry is the ordered worker fleet and the HTTP client used to reach it.
type Registry struct {
	workers []Worker
	client  *http.Client

	mu sync.RWMutex
}

// NewRegistry creates the registry. Batch calls time out after batchTimeout.
func NewRegistry(urls []string, batchTimeout time.Duration) (*Registry, error) {
	r := &Registry{client: &http.Client{Timeout: batchTimeout}}
	if err := r.Replace(urls); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace swaps the worker list.
func (r *Registry) Replace(urls []string) error {
	workers := make([]Worker, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u == "" {
			continue
		}
		workers = append(workers, Worker{Index: len(workers), URL: u})
	}
	if len(workers) == 0 {
		return failures.Newf(failures.KindConfig, "fleet", "no worker urls configured")
	}

	// Lock for writing.
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers = workers

	return nil
}

// Workers returns a copy of the fleet in index order.
func (r *Registry) Workers() []Worker {
	// Lock for reading.
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Worker, len(r.workers))
	copy(out, r.workers)
	return out
}

// Worker returns the worker at index.
func (r *Registry) Worker(index int) (Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Verify if the worker exists.
	if index < 0 || index >= len(r.workers) {
		return Worker{}, failures.Newf(failures.KindNotFound, "fleet", "worker %d doesn't exist", index)
	}
	return r.workers[index], nil
}

// Size is the number of workers.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// FetchBatch sends one batch to a worker.
func (r *Registry) FetchBatch(ctx context.Context, w Worker, req fetchapi.BatchRequest) (*fetchapi.BatchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("couldn't encode the batch: %w", err)
	}

	url := w.URL + "/fetch_batch"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("couldn't create the batch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return nil, failures.Wrap(failures.KindTimeout, "fleet.FetchBatch", fmt.Errorf(messages.RequestFailedMsg+": %w", url, err))
		}
		return nil, failures.Wrap(failures.KindNetwork, "fleet.FetchBatch", fmt.Errorf(messages.RequestFailedMsg+": %w", url, err))
	}
	defer resp.Body.Close()

	// Verify the status of the worker answer.
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, failures.Wrap(failures.KindNetwork, "fleet.FetchBatch", fmt.Errorf(messages.BadStatusCodeMsg, resp.StatusCode, url))
	}

	var out fetchapi.BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, failures.Wrap(failures.KindNetwork, "fleet.FetchBatch", fmt.Errorf("couldn't decode the worker answer: %w", err))
	}
	return &out, nil
}

// Probe calls /health on every worker concurrently.
func (r *Registry) Probe(ctx context.Context) []WorkerHealth {
	workers := r.Workers()
	out := make([]WorkerHealth, len(workers))

	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = r.probe(ctx, w)
		}()
	}
	wg.Wait()

	return out
}

func (r *Registry) probe(ctx context.Context, w Worker) WorkerHealth {
	result := WorkerHealth{Index: w.Index, URL: w.URL}

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.URL+"/health", nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	resp, err := r.client.Do(req)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Sprintf(messages.BadStatusCodeMsg, resp.StatusCode, req.URL)
		return result
	}

	var health fetchapi.Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		result.Error = err.Error()
		return result
	}

	result.Healthy = health.Status == "ok"
	result.WorkerID = health.WorkerID
	result.Login = health.Login
	return result
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	t, ok := err.(timeout)
	return ok && t.Timeout()
}

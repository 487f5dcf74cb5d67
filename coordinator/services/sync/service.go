// Package syncservice distributes battle id ranges over the worker fleet.
package syncservice

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tzlogs/coordinator/fleet"
	"tzlogs/coordinator/repositories"
	"tzlogs/pkg/database/models"
	"tzlogs/pkg/failures"
	"tzlogs/pkg/fetchapi"
	"tzlogs/pkg/logger"
	"tzlogs/pkg/messages"

	"golang.org/x/sync/semaphore"
)

const (
	DefaultBatchSize   = 10
	DefaultConcurrency = 12
	maxRangeSize       = 10_000_000
)

// Dispatcher sends batches to the workers.
type Dispatcher interface {
	Workers() []fleet.Worker
	FetchBatch(ctx context.Context, w fleet.Worker, req fetchapi.BatchRequest) (*fetchapi.BatchResponse, error)
}

// SyncServiceDeps are the collaborators and tuning of the service.
type SyncServiceDeps struct {
	Fleet          Dispatcher
	Attempts       repositories.AttemptRepository
	Logger         *logger.NewLogger
	BatchSize      int
	Concurrency    int
	PerIDDelay     time.Duration
	MaxBattleID    int64
	AutoCount      int64
	UploadToMother bool
	Now            func() time.Time
}

// SyncService runs at most one sync operation at a time.
type SyncService struct {
	fleet          Dispatcher
	attempts       repositories.AttemptRepository
	logger         *logger.NewLogger
	batchSize      int
	concurrency    int
	perIDDelay     time.Duration
	maxBattleID    int64
	autoCount      int64
	uploadToMother bool
	now            func() time.Time

	// Guards the operation state below.
	mu          sync.Mutex
	running     bool
	operation   string
	total       int
	startedAt   time.Time
	lastSummary *fetchapi.Summary

	// The abort flag is written under dispatchMu so no batch starts after Abort returns.
	dispatchMu sync.Mutex
	abort      bool

	done atomic.Int64
	wg   sync.WaitGroup
}

// NewSyncService creates the service.
func NewSyncService(deps SyncServiceDeps) *SyncService {
	s := &SyncService{
		fleet:          deps.Fleet,
		attempts:       deps.Attempts,
		logger:         deps.Logger,
		batchSize:      deps.BatchSize,
		concurrency:    deps.Concurrency,
		perIDDelay:     deps.PerIDDelay,
		maxBattleID:    deps.MaxBattleID,
		autoCount:      deps.AutoCount,
		uploadToMother: deps.UploadToMother,
		now:            deps.Now,
	}
	if s.logger == nil {
		s.logger = logger.NewNop()
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultBatchSize
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultConcurrency
	}
	if s.autoCount <= 0 {
		s.autoCount = 1000
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ResolveRange lists the ids of [start, end] that still need fetching.
func (s *SyncService) ResolveRange(ctx context.Context, req fetchapi.RangeRequest) ([]int64, int, error) {
	if req.Start < 0 || req.End < req.Start {
		return nil, 0, failures.Newf(failures.KindValidation, "sync.range", "invalid range [%d, %d]", req.Start, req.End)
	}
	if req.End-req.Start+1 > maxRangeSize {
		return nil, 0, failures.Newf(failures.KindValidation, "sync.range", "range larger than %d ids", maxRangeSize)
	}

	skip := map[int64]struct{}{}
	if !req.Force {
		var err error
		if skip, err = s.attempts.SuccessfulIDs(ctx, req.Start, req.End); err != nil {
			return nil, 0, err
		}
	}

	ids := make([]int64, 0, req.End-req.Start+1-int64(len(skip)))
	for id := req.Start; id <= req.End; id++ {
		if _, ok := skip[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids, len(skip), nil
}

// StartRange begins a background sync of [start, end].
func (s *SyncService) StartRange(ctx context.Context, req fetchapi.RangeRequest) (*fetchapi.StartReply, error) {
	ids, skipped, err := s.ResolveRange(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.start(fetchapi.OperationRange, ids, skipped, req.BatchSize)
}

// StartMissing begins a background retry of the failed and timed out ids.
func (s *SyncService) StartMissing(ctx context.Context, req fetchapi.MissingRequest) (*fetchapi.StartReply, error) {
	ids, err := s.attempts.SelectByStatus(ctx, []string{fetchapi.StatusFailed, fetchapi.StatusTimeout}, req.Limit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, failures.Newf(failures.KindValidation, "sync.missing", "%s", messages.NothingToSync)
	}
	return s.start(fetchapi.OperationMissing, ids, 0, req.BatchSize)
}

// ResolveAuto returns the next ids after the highest fetched one, bounded by the max battle id.
func (s *SyncService) ResolveAuto(ctx context.Context, req fetchapi.AutoRequest) ([]int64, error) {
	count := req.Count
	if count <= 0 {
		count = s.autoCount
	}

	last, ok, err := s.attempts.MaxSuccessID(ctx)
	if err != nil {
		return nil, err
	}
	start := int64(0)
	if ok {
		start = last + 1
	}

	end := start + count - 1
	if s.maxBattleID > 0 {
		end = min(end, s.maxBattleID)
	}
	if end < start {
		return nil, failures.Newf(failures.KindValidation, "sync.auto", "%s: already at battle %d", messages.NothingToSync, last)
	}

	ids := make([]int64, 0, end-start+1)
	for id := start; id <= end; id++ {
		ids = append(ids, id)
	}
	return ids, nil
}

// StartAutoContinue begins a background sync after the highest fetched id.
func (s *SyncService) StartAutoContinue(ctx context.Context, req fetchapi.AutoRequest) (*fetchapi.StartReply, error) {
	ids, err := s.ResolveAuto(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.start(fetchapi.OperationAuto, ids, 0, req.BatchSize)
}

// start reserves the single operation slot and runs it in the background.
func (s *SyncService) start(operation string, ids []int64, skipped, batchSize int) (*fetchapi.StartReply, error) {
	if err := s.begin(operation, len(ids)); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(context.Background(), operation, ids, skipped, batchSize)
	}()

	return &fetchapi.StartReply{
		Accepted:  true,
		Operation: operation,
		Total:     len(ids),
		Message:   fmt.Sprintf("%s started for %d ids, %d skipped", operation, len(ids), skipped),
	}, nil
}

// Run executes an operation in the caller's goroutine and returns its summary.
func (s *SyncService) Run(ctx context.Context, operation string, ids []int64, batchSize int) (*fetchapi.Summary, error) {
	if err := s.begin(operation, len(ids)); err != nil {
		return nil, err
	}
	return s.execute(ctx, operation, ids, 0, batchSize), nil
}

func (s *SyncService) begin(operation string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return failures.Newf(failures.KindConflict, "sync", "%s: %s is running", messages.OperationInProgress, s.operation)
	}
	s.running = true
	s.operation = operation
	s.total = total
	s.startedAt = s.now()
	s.done.Store(0)

	s.dispatchMu.Lock()
	s.abort = false
	s.dispatchMu.Unlock()

	return nil
}

// Abort stops dispatching new batches. It reports whether an operation was running.
func (s *SyncService) Abort() bool {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return false
	}

	s.dispatchMu.Lock()
	s.abort = true
	s.dispatchMu.Unlock()

	s.logger.Warn("abort requested")
	return true
}

// Progress is a snapshot of the current state.
func (s *SyncService) Progress() fetchapi.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dispatchMu.Lock()
	aborting := s.abort && s.running
	s.dispatchMu.Unlock()

	p := fetchapi.Progress{
		IsRunning:      s.running,
		Done:           int(s.done.Load()),
		Total:          s.total,
		AbortRequested: aborting,
		Aborted:        aborting,
		LastSummary:    s.lastSummary,
	}
	if p.Total > 0 {
		p.Progress = min(float64(p.Done)/float64(p.Total), 1)
	}
	if !s.running && s.lastSummary != nil {
		p.Aborted = s.lastSummary.Aborted
	}
	if s.running {
		p.CurrentOperation = s.operation
		p.StartedAt = s.startedAt
	}
	return p
}

// Wait blocks until the background operation, if any, completes.
func (s *SyncService) Wait() {
	s.wg.Wait()
}

// collector merges the batch outcomes.
type collector struct {
	mu      sync.Mutex
	summary *fetchapi.Summary
}

func (c *collector) add(stats *fetchapi.WorkerStats, resp *fetchapi.BatchResponse, batchErr bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats.Batches++
	if batchErr {
		stats.Errors++
	}
	for _, r := range resp.Results {
		switch r.Status {
		case fetchapi.StatusSuccess:
			stats.Success++
			c.summary.Success++
		case fetchapi.StatusTimeout:
			stats.Timeout++
			c.summary.Timeout++
		default:
			stats.Failed++
			c.summary.Failed++
		}
	}
}

func (s *SyncService) execute(ctx context.Context, operation string, ids []int64, skipped, batchSize int) *fetchapi.Summary {
	if batchSize <= 0 {
		batchSize = s.batchSize
	}

	workers := s.fleet.Workers()
	batches := Plan(ids, len(workers), batchSize)

	summary := &fetchapi.Summary{
		Operation:      operation,
		Requested:      len(ids),
		Skipped:        skipped,
		BatchesPlanned: len(batches),
		Workers:        make([]fetchapi.WorkerStats, len(workers)),
		StartedAt:      s.now(),
	}
	for i, w := range workers {
		summary.Workers[i].Worker = w.URL
	}
	col := &collector{summary: summary}

	s.logger.Info("sync started", "operation", operation, "ids", len(ids), "batches", len(batches), "workers", len(workers))

	sem := semaphore.NewWeighted(int64(s.concurrency))
	var wg sync.WaitGroup

	for _, b := range batches {
		if err := sem.Acquire(ctx, 1); err != nil {
			summary.Aborted = true
			break
		}

		// The flag is checked and the batch launched under the same lock Abort takes.
		s.dispatchMu.Lock()
		if s.abort {
			s.dispatchMu.Unlock()
			sem.Release(1)
			summary.Aborted = true
			break
		}
		summary.BatchesDispatched++
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			s.dispatch(ctx, workers[b.Worker], &summary.Workers[b.Worker], b, col)
		}()
		s.dispatchMu.Unlock()
	}
	wg.Wait()

	summary.FinishedAt = s.now()
	summary.DurationSeconds = summary.FinishedAt.Sub(summary.StartedAt).Seconds()

	s.logger.Info("sync finished",
		"operation", operation,
		"success", summary.Success,
		"failed", summary.Failed,
		"timeout", summary.Timeout,
		"dispatched", summary.BatchesDispatched,
		"aborted", summary.Aborted,
	)

	s.mu.Lock()
	s.running = false
	s.lastSummary = summary
	s.mu.Unlock()

	return summary
}

// dispatch sends one batch and persists every outcome it produced.
func (s *SyncService) dispatch(ctx context.Context, w fleet.Worker, stats *fetchapi.WorkerStats, b Batch, col *collector) {
	delay := s.perIDDelay.Seconds()
	req := fetchapi.BatchRequest{
		BattleIDs:      b.IDs,
		DelaySeconds:   &delay,
		UploadToMother: s.uploadToMother,
	}

	resp, err := s.fleet.FetchBatch(ctx, w, req)
	batchErr := err != nil
	if err != nil {
		s.logger.Warn("batch failed", "worker", w.URL, "first_id", b.IDs[0], "error", err)
		resp = failedBatch(b.IDs, err)
	} else {
		resp = complete(b.IDs, resp)
	}

	col.add(stats, resp, batchErr)
	s.done.Add(int64(len(b.IDs)))

	if err := s.attempts.BatchRecord(ctx, toAttempts(resp, s.now())); err != nil {
		s.logger.Error("couldn't persist the batch outcomes", "worker", w.URL, "error", err)
	}
}

// failedBatch marks every id of a batch the worker never answered.
func failedBatch(ids []int64, err error) *fetchapi.BatchResponse {
	resp := &fetchapi.BatchResponse{}
	for _, id := range ids {
		resp.Add(fetchapi.ItemResult{BattleID: id, Status: fetchapi.StatusFailed, Error: err.Error()})
	}
	return resp
}

// complete adds a failed result for every requested id missing from the worker answer.
func complete(ids []int64, resp *fetchapi.BatchResponse) *fetchapi.BatchResponse {
	seen := make(map[int64]struct{}, len(resp.Results))
	for _, r := range resp.Results {
		seen[r.BattleID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			resp.Add(fetchapi.ItemResult{BattleID: id, Status: fetchapi.StatusFailed, Error: messages.NotAttempted})
		}
	}
	return resp
}

func toAttempts(resp *fetchapi.BatchResponse, at time.Time) []*models.FetchAttempt {
	out := make([]*models.FetchAttempt, 0, len(resp.Results))
	for _, r := range resp.Results {
		a := &models.FetchAttempt{
			BattleID:    r.BattleID,
			RequestedAt: at,
			Status:      r.Status,
			SizeBytes:   r.SizeBytes,
		}
		if r.Error != "" {
			msg := r.Error
			a.ErrorMessage = &msg
		}
		if r.FilePath != "" {
			path := r.FilePath
			a.FilePath = &path
		}
		out = append(out, a)
	}
	return out
}

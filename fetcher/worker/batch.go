// Package worker runs the fetch batches of one upstream identity.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"tzlogs/fetcher/requests"
	"tzlogs/fetcher/session"
	"tzlogs/pkg/failures"
	"tzlogs/pkg/fetchapi"
	"tzlogs/pkg/logger"
	"tzlogs/pkg/storage"
)

// Conn is an authenticated upstream session.
type Conn interface {
	FetchBlook(ctx context.Context, battleID int64) ([]byte, error)
	Close() error
}

// Opener opens and authenticates a new session.
type Opener func(ctx context.Context) (Conn, error)

// Uploader forwards a fetched log to the aggregator.
type Uploader interface {
	Enabled() bool
	Upload(ctx context.Context, battleID int64, payload []byte) (*requests.UploadReply, error)
}

// SessionOpener opens real upstream sessions with the given settings.
func SessionOpener(cfg session.Config, log *logger.NewLogger) Opener {
	return func(ctx context.Context) (Conn, error) {
		s, err := session.Open(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// BatchServiceDeps are the collaborators of the batch service.
type BatchServiceDeps struct {
	Open         Opener
	Layout       storage.Layout
	Uploader     Uploader
	Limiter      *requests.RateLimiter
	Logger       *logger.NewLogger
	DefaultDelay time.Duration
}

// BatchService fetches batches serially. Each batch owns one session at a time.
type BatchService struct {
	open         Opener
	layout       storage.Layout
	uploader     Uploader
	limiter      *requests.RateLimiter
	logger       *logger.NewLogger
	defaultDelay time.Duration

	// Only one batch runs at a time.
	mu sync.Mutex

	sessions atomic.Int64
}

// NewBatchService creates the batch service.
func NewBatchService(deps BatchServiceDeps) *BatchService {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = requests.NewRateLimiter(0, 0)
	}

	return &BatchService{
		open:         deps.Open,
		layout:       deps.Layout,
		uploader:     deps.Uploader,
		limiter:      limiter,
		logger:       log,
		defaultDelay: deps.DefaultDelay,
	}
}

// SessionsOpened is the number of sessions opened since start.
func (s *BatchService) SessionsOpened() int64 {
	return s.sessions.Load()
}

// batchRun is the state of one batch.
type batchRun struct {
	conn    Conn
	authErr error
}

func (r *batchRun) drop() {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// FetchBatch fetches every id in order. Per id failures never abort the batch.
func (s *BatchService) FetchBatch(ctx context.Context, req fetchapi.BatchRequest) fetchapi.BatchResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	delay := s.defaultDelay
	if req.DelaySeconds != nil {
		delay = time.Duration(*req.DelaySeconds * float64(time.Second))
	}

	run := &batchRun{}
	defer run.drop()

	resp := fetchapi.BatchResponse{Results: make([]fetchapi.ItemResult, 0, len(req.BattleIDs))}
	for i, id := range req.BattleIDs {
		// Space the requests. Ids left unrequested are not reported.
		if i > 0 && delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				s.logger.Warn("batch cancelled", "attempted", i, "skipped", len(req.BattleIDs)-i)
				break
			}
		}

		// A rejected identity fails the rest of the batch.
		if run.authErr != nil {
			resp.Add(failed(id, run.authErr))
			continue
		}

		resp.Add(s.fetchOne(ctx, run, id, req.UploadToMother))
	}

	s.logger.Info("batch done",
		"total", resp.Total, "success", resp.Success, "failed", resp.Failed, "timeout", resp.Timeout)
	return resp
}

// fetchOne fetches one id, reconnecting and retrying once on a transient failure.
func (s *BatchService) fetchOne(ctx context.Context, run *batchRun, id int64, upload bool) fetchapi.ItemResult {
	for attempt := 0; ; attempt++ {
		if run.conn == nil {
			conn, err := s.open(ctx)
			if err != nil {
				if failures.Is(err, failures.KindAuth) {
					run.authErr = err
					s.logger.Error("upstream rejected the login", "error", err)
					return failed(id, err)
				}
				if attempt == 0 && failures.Is(err, failures.KindNetwork) {
					continue
				}
				return failed(id, err)
			}
			s.sessions.Add(1)
			run.conn = conn
		}

		// Respect the upstream budget.
		if err := s.limiter.Wait(ctx); err != nil {
			return failed(id, failures.Wrap(failures.KindAbort, "worker.fetchOne", err))
		}

		blook, err := run.conn.FetchBlook(ctx, id)
		if err == nil {
			return s.store(ctx, id, blook, upload)
		}

		// The session state is unknown after any failure.
		run.drop()

		switch failures.KindOf(err) {
		case failures.KindTimeout:
			s.logger.Warn("no reply from upstream", "battle_id", id)
			return fetchapi.ItemResult{BattleID: id, Status: fetchapi.StatusTimeout, Error: err.Error()}
		case failures.KindNetwork:
			if attempt == 0 {
				s.logger.Warn("connection lost, reconnecting", "battle_id", id, "error", err)
				continue
			}
			return failed(id, err)
		default:
			return failed(id, err)
		}
	}
}

// store writes the raw log and forwards it when asked to.
func (s *BatchService) store(ctx context.Context, id int64, blook []byte, upload bool) fetchapi.ItemResult {
	path, err := s.layout.WriteRaw(id, blook)
	if err != nil {
		return failed(id, failures.Wrap(failures.KindStorage, "worker.store", err))
	}

	size := int64(len(blook))
	item := fetchapi.ItemResult{
		BattleID:  id,
		Status:    fetchapi.StatusSuccess,
		SizeBytes: &size,
		FilePath:  path,
	}

	if upload && s.uploader != nil && s.uploader.Enabled() {
		if _, err := s.uploader.Upload(ctx, id, blook); err != nil {
			s.logger.Warn("couldn't upload to the aggregator", "battle_id", id, "error", err)
		} else {
			item.UploadedToMother = true
		}
	}

	return item
}

func failed(id int64, err error) fetchapi.ItemResult {
	return fetchapi.ItemResult{BattleID: id, Status: fetchapi.StatusFailed, Error: err.Error()}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ErrNoOpener is returned by Validate when the service can't open sessions.
var ErrNoOpener = errors.New("batch service has no session opener")

// Validate checks the service is usable.
func (s *BatchService) Validate() error {
	if s.open == nil {
		return failures.Wrap(failures.KindConfig, "worker", ErrNoOpener)
	}
	if s.layout.RawRoot == "" {
		return failures.Wrap(failures.KindConfig, "worker", errors.New("raw root is empty"))
	}
	return nil
}

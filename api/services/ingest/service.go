package ingestservice

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"sort"
	"sync"
	"time"

	"tzlogs/api/dto"
	"tzlogs/pkg/battlelog"
	"tzlogs/pkg/failures"
	"tzlogs/pkg/logger"
	"tzlogs/pkg/storage"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchLimit  = 500
	DefaultMaxParallel = 4
	MaxParallelLimit   = 32

	// Cache prefix dropped after new battles are stored.
	analyticsCachePrefix = "analytics:"
)

// BattleStore is the part of the battle repository the ingest needs.
type BattleStore interface {
	UpsertBattle(ctx context.Context, rec *battlelog.Record) (uint64, error)
	MarkArchived(ctx context.Context, battleID int64, storageKey string) error
	FindUnprocessedFiles(ctx context.Context, paths []string) ([]string, error)
}

// Archiver compresses a stored raw log and removes it.
type Archiver interface {
	Archive(ctx context.Context, battleID int64) (string, error)
}

// CacheInvalidator drops cached answers made stale by new battles.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, prefix string) error
}

// IngestService receives raw logs and drains them into the battle store.
type IngestService struct {
	layout   storage.Layout
	battles  BattleStore
	archiver Archiver
	cache    CacheInvalidator
	logger   *logger.NewLogger

	// One drain at a time, two drains would race on the same files.
	drainMu sync.Mutex
}

// IngestServiceDeps is the dependency list for the ingest service.
type IngestServiceDeps struct {
	Layout   storage.Layout
	Battles  BattleStore
	Archiver Archiver
	Cache    CacheInvalidator
	Logger   *logger.NewLogger
}

// NewIngestService creates an ingest service.
func NewIngestService(deps IngestServiceDeps) *IngestService {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}

	return &IngestService{
		layout:   deps.Layout,
		battles:  deps.Battles,
		archiver: deps.Archiver,
		cache:    deps.Cache,
		logger:   log,
	}
}

// Upload stores a raw log under the raw root.
func (is *IngestService) Upload(battleID int64, body []byte) (*dto.UploadReply, error) {
	if battleID <= 0 {
		return nil, failures.Newf(failures.KindValidation, "ingest.Upload", "battle id must be positive")
	}
	if len(body) == 0 {
		return nil, failures.Newf(failures.KindValidation, "ingest.Upload", "empty body for battle %d", battleID)
	}

	path, err := is.layout.WriteRaw(battleID, body)
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "ingest.Upload", err)
	}

	is.logger.Info("Stored raw log", "battle_id", battleID, "size_bytes", len(body))

	return &dto.UploadReply{
		OK:        true,
		BattleID:  battleID,
		FilePath:  path,
		SizeBytes: int64(len(body)),
		Shard:     storage.Shard(battleID),
	}, nil
}

// StreamGz writes the compressed log of a battle given its file name.
func (is *IngestService) StreamGz(name string, w io.Writer) error {
	battleID, err := storage.BattleIDFromPath(name)
	if err != nil {
		return failures.Wrap(failures.KindValidation, "ingest.StreamGz", err)
	}

	if err := is.layout.StreamGz(battleID, w); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return failures.Newf(failures.KindNotFound, "ingest.StreamGz", "no log for battle %d", battleID)
		}
		return failures.Wrap(failures.KindStorage, "ingest.StreamGz", err)
	}
	return nil
}

// ProcessBatch parses up to limit raw logs with at most maxParallel in flight.
// Unparseable logs are quarantined; storage failures leave the raw log for the next drain.
func (is *IngestService) ProcessBatch(ctx context.Context, limit, maxParallel int) (*dto.ProcessSummary, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	maxParallel = min(maxParallel, MaxParallelLimit)

	is.drainMu.Lock()
	defer is.drainMu.Unlock()

	raw, err := is.layout.ListRaw()
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "ingest.ProcessBatch", err)
	}

	paths, err := is.battles.FindUnprocessedFiles(ctx, raw)
	if err != nil {
		return nil, err
	}

	summary := &dto.ProcessSummary{OK: true, Pending: len(paths), Results: []dto.ProcessResult{}}

	// Raw logs already stored under their raw path only missed the archive step.
	if len(paths) < len(raw) {
		summary.Rearchived = is.rearchive(ctx, stored(raw, paths), limit)
	}
	if len(paths) > limit {
		paths = paths[:limit]
	}

	start := time.Now()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for _, path := range paths {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			result := is.processFile(gctx, path)

			mu.Lock()
			summary.Add(result)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	sort.Slice(summary.Results, func(i, j int) bool {
		return summary.Results[i].BattleID < summary.Results[j].BattleID
	})

	if summary.Stored > 0 && is.cache != nil {
		if err := is.cache.Invalidate(ctx, analyticsCachePrefix); err != nil {
			is.logger.Warnf("Couldn't invalidate the analytics cache: %v", err)
		}
	}

	is.logger.Info("Processed raw logs",
		"processed", summary.Processed,
		"stored", summary.Stored,
		"quarantined", summary.Quarantined,
		"failed", summary.Failed,
		"elapsed", time.Since(start).String(),
	)

	if ctx.Err() != nil {
		return summary, failures.Wrap(failures.KindAbort, "ingest.ProcessBatch", ctx.Err())
	}
	return summary, nil
}

// processFile runs parse, store and archive for one raw log.
func (is *IngestService) processFile(ctx context.Context, path string) dto.ProcessResult {
	result := dto.ProcessResult{Path: path}

	fileID, err := storage.BattleIDFromPath(path)
	if err != nil {
		return is.quarantine(result, err)
	}
	result.BattleID = fileID

	rec, err := battlelog.ParseFile(path)
	if err != nil {
		if failures.Is(err, failures.KindParse) || failures.Is(err, failures.KindEmpty) {
			return is.quarantine(result, err)
		}
		result.Status = dto.ProcessFailed
		result.Error = err.Error()
		return result
	}

	// The file name is the id the log was requested with.
	if rec.BattleID != fileID {
		is.logger.Warn("Battle id mismatch between file and header", "battle_id", fileID, "header_id", rec.BattleID)
		rec.BattleID = fileID
	}

	if _, err := is.battles.UpsertBattle(ctx, rec); err != nil {
		is.logger.Error("Couldn't store battle", "battle_id", fileID, "error", err)
		result.Status = dto.ProcessFailed
		result.Error = err.Error()
		return result
	}
	result.Status = dto.ProcessStored

	if is.archiver == nil {
		return result
	}

	gzPath, err := is.archiver.Archive(ctx, fileID)
	if err != nil {
		is.logger.Warn("Couldn't archive battle", "battle_id", fileID, "error", err)
		result.Error = err.Error()
		return result
	}
	if err := is.battles.MarkArchived(ctx, fileID, gzPath); err != nil {
		is.logger.Warn("Couldn't mark battle as archived", "battle_id", fileID, "error", err)
		result.Error = err.Error()
		return result
	}
	result.Archived = true

	return result
}

// rearchive archives up to limit raw logs whose battle is already stored.
func (is *IngestService) rearchive(ctx context.Context, paths []string, limit int) int {
	if is.archiver == nil {
		return 0
	}

	archived := 0
	for _, path := range paths[:min(limit, len(paths))] {
		if ctx.Err() != nil {
			break
		}

		battleID, err := storage.BattleIDFromPath(path)
		if err != nil {
			continue
		}

		gzPath, err := is.archiver.Archive(ctx, battleID)
		if err != nil {
			is.logger.Warn("Couldn't archive stored battle", "battle_id", battleID, "error", err)
			continue
		}
		if err := is.battles.MarkArchived(ctx, battleID, gzPath); err != nil {
			is.logger.Warn("Couldn't mark battle as archived", "battle_id", battleID, "error", err)
			continue
		}
		archived++
	}
	return archived
}

// stored returns the paths of all that are not in unprocessed. Both are sorted.
func stored(all, unprocessed []string) []string {
	out := make([]string, 0, len(all)-len(unprocessed))
	j := 0
	for _, path := range all {
		if j < len(unprocessed) && unprocessed[j] == path {
			j++
			continue
		}
		out = append(out, path)
	}
	return out
}

func (is *IngestService) quarantine(result dto.ProcessResult, cause error) dto.ProcessResult {
	result.Status = dto.ProcessQuarantined
	result.Error = cause.Error()

	target, err := is.layout.Quarantine(result.Path)
	if err != nil {
		is.logger.Error("Couldn't quarantine raw log", "path", result.Path, "error", err)
		result.Status = dto.ProcessFailed
		return result
	}

	is.logger.Warn("Quarantined raw log", "battle_id", result.BattleID, "target", target, "error", cause)
	return result
}

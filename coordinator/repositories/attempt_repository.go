package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tzlogs/pkg/database/models"
	"tzlogs/pkg/failures"
	"tzlogs/pkg/fetchapi"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Public Interface.
type AttemptRepository interface {
	Record(ctx context.Context, attempt *models.FetchAttempt) error
	BatchRecord(ctx context.Context, attempts []*models.FetchAttempt) error
	SelectByStatus(ctx context.Context, statuses []string, limit int) ([]int64, error)
	Stats(ctx context.Context) (*fetchapi.AttemptStats, error)
	SuccessfulIDs(ctx context.Context, start, end int64) (map[int64]struct{}, error)
	MaxSuccessID(ctx context.Context) (int64, bool, error)
}

// Attempt repository structure.
type attemptRepository struct {
	db *gorm.DB
}

// NewAttemptRepository creates the sync state repository.
func NewAttemptRepository(db *gorm.DB) AttemptRepository {
	return &attemptRepository{db: db}
}

// upsert is last write wins on battle_id.
var upsert = clause.OnConflict{
	Columns:   []clause.Column{{Name: "battle_id"}},
	DoUpdates: clause.AssignmentColumns([]string{"requested_at", "status", "error_message", "file_path", "size_bytes"}),
}

// Record upserts one attempt.
func (r *attemptRepository) Record(ctx context.Context, attempt *models.FetchAttempt) error {
	if err := r.db.WithContext(ctx).Clauses(upsert).Create(attempt).Error; err != nil {
		return failures.Wrap(failures.KindStorage, "attempts.Record", fmt.Errorf("couldn't record attempt %d: %w", attempt.BattleID, err))
	}
	return nil
}

// BatchRecord upserts every attempt inside one transaction.
func (r *attemptRepository) BatchRecord(ctx context.Context, attempts []*models.FetchAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	// A batch can't carry the same id twice in one statement, keep the last one.
	last := make(map[int64]int, len(attempts))
	for i, a := range attempts {
		last[a.BattleID] = i
	}
	unique := make([]*models.FetchAttempt, 0, len(last))
	for i, a := range attempts {
		if last[a.BattleID] == i {
			unique = append(unique, a)
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(upsert).CreateInBatches(unique, 500).Error
	})
	if err != nil {
		return failures.Wrap(failures.KindStorage, "attempts.BatchRecord", fmt.Errorf("couldn't record %d attempts: %w", len(unique), err))
	}
	return nil
}

// SelectByStatus returns the ids in any of statuses, lowest first.
func (r *attemptRepository) SelectByStatus(ctx context.Context, statuses []string, limit int) ([]int64, error) {
	var ids []int64

	query := r.db.WithContext(ctx).
		Model(&models.FetchAttempt{}).
		Where("status IN ?", statuses).
		Order("battle_id")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Pluck("battle_id", &ids).Error; err != nil {
		return nil, failures.Wrap(failures.KindStorage, "attempts.SelectByStatus", err)
	}
	return ids, nil
}

// Stats aggregates the whole table.
func (r *attemptRepository) Stats(ctx context.Context) (*fetchapi.AttemptStats, error) {
	var row struct {
		Total           int64
		Success         int64
		Failed          int64
		Timeout         int64
		MinID           *int64
		MaxID           *int64
		LastRequestedAt *time.Time
	}

	err := r.db.WithContext(ctx).Raw(`
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = ?) AS success,
			COUNT(*) FILTER (WHERE status = ?) AS failed,
			COUNT(*) FILTER (WHERE status = ?) AS timeout,
			MIN(battle_id) AS min_id,
			MAX(battle_id) AS max_id,
			MAX(requested_at) AS last_requested_at
		FROM fetch_attempts`,
		fetchapi.StatusSuccess, fetchapi.StatusFailed, fetchapi.StatusTimeout,
	).Scan(&row).Error
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "attempts.Stats", err)
	}

	return &fetchapi.AttemptStats{
		Total:           row.Total,
		Success:         row.Success,
		Failed:          row.Failed,
		Timeout:         row.Timeout,
		MinID:           row.MinID,
		MaxID:           row.MaxID,
		LastRequestedAt: row.LastRequestedAt,
	}, nil
}

// SuccessfulIDs returns the ids in [start, end] already fetched.
func (r *attemptRepository) SuccessfulIDs(ctx context.Context, start, end int64) (map[int64]struct{}, error) {
	var ids []int64

	err := r.db.WithContext(ctx).
		Model(&models.FetchAttempt{}).
		Where("status = ? AND battle_id BETWEEN ? AND ?", fetchapi.StatusSuccess, start, end).
		Pluck("battle_id", &ids).Error
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "attempts.SuccessfulIDs", err)
	}

	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// MaxSuccessID returns the highest fetched id, false when nothing was fetched.
func (r *attemptRepository) MaxSuccessID(ctx context.Context) (int64, bool, error) {
	var maxID sql.NullInt64

	err := r.db.WithContext(ctx).
		Model(&models.FetchAttempt{}).
		Where("status = ?", fetchapi.StatusSuccess).
		Select("MAX(battle_id)").
		Row().
		Scan(&maxID)
	if err != nil {
		return 0, false, failures.Wrap(failures.KindStorage, "attempts.MaxSuccessID", err)
	}
	return maxID.Int64, maxID.Valid, nil
}

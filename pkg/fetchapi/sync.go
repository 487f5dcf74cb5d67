package fetchapi

import "time"

// Sync operations.
const (
	OperationRange   = "sync_range"
	OperationMissing = "sync_missing"
	OperationAuto    = "sync_auto_continue"
)

// RangeRequest asks for every id in [Start, End]. Successful ids are skipped unless Force.
type RangeRequest struct {
	Start     int64 `json:"start" binding:"min=0"`
	End       int64 `json:"end" binding:"min=0,gtefield=Start"`
	BatchSize int   `json:"batch_size,omitempty" binding:"omitempty,min=1,max=1000"`
	Force     bool  `json:"force"`
}

// MissingRequest retries ids whose last attempt failed or timed out.
type MissingRequest struct {
	Limit     int `json:"limit,omitempty" binding:"omitempty,min=1,max=1000000"`
	BatchSize int `json:"batch_size,omitempty" binding:"omitempty,min=1,max=1000"`
}

// AutoRequest continues after the highest successful id.
type AutoRequest struct {
	Count     int64 `json:"count,omitempty" binding:"omitempty,min=1,max=10000000"`
	BatchSize int   `json:"batch_size,omitempty" binding:"omitempty,min=1,max=1000"`
}

// StartReply acknowledges a sync request.
type StartReply struct {
	Accepted  bool   `json:"accepted"`
	Operation string `json:"operation"`
	Total     int    `json:"total"`
	Message   string `json:"message,omitempty"`
}

// WorkerStats counts the outcomes per worker.
type WorkerStats struct {
	Worker  string `json:"worker"`
	Batches int    `json:"batches"`
	Success int    `json:"success"`
	Failed  int    `json:"failed"`
	Timeout int    `json:"timeout"`
	Errors  int    `json:"errors"`
}

// Summary is the final report of a sync operation.
type Summary struct {
	Operation         string        `json:"operation"`
	Requested         int           `json:"requested"`
	Skipped           int           `json:"skipped"`
	BatchesPlanned    int           `json:"batches_planned"`
	BatchesDispatched int           `json:"batches_dispatched"`
	Success           int           `json:"success"`
	Failed            int           `json:"failed"`
	Timeout           int           `json:"timeout"`
	Aborted           bool          `json:"aborted"`
	Workers           []WorkerStats `json:"workers"`
	StartedAt         time.Time     `json:"started_at"`
	FinishedAt        time.Time     `json:"finished_at"`
	DurationSeconds   float64       `json:"duration_seconds"`
}

// Progress is the live state of the coordinator. Aborted stays set after an
// aborted operation finishes, until the next one starts.
type Progress struct {
	IsRunning        bool      `json:"is_running"`
	CurrentOperation string    `json:"current_operation"`
	Done             int       `json:"done"`
	Total            int       `json:"total"`
	Progress         float64   `json:"progress"`
	AbortRequested   bool      `json:"abort_requested"`
	Aborted          bool      `json:"aborted"`
	StartedAt        time.Time `json:"started_at,omitzero"`
	LastSummary      *Summary  `json:"last_summary,omitempty"`
}

// AttemptStats is the aggregate of the fetch attempt table.
type AttemptStats struct {
	Total           int64      `json:"total"`
	Success         int64      `json:"success"`
	Failed          int64      `json:"failed"`
	Timeout         int64      `json:"timeout"`
	MinID           *int64     `json:"min_id"`
	MaxID           *int64     `json:"max_id"`
	LastRequestedAt *time.Time `json:"last_requested_at"`
}

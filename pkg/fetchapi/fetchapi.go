// Package fetchapi holds the messages exchanged between the coordinator and the fetch workers.
package fetchapi

// Per id outcome of a fetch.
const (
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusTimeout  = "response_timeout"
	MaxBatchLength = 1000
)

// BatchRequest is the body of POST /fetch_batch.
type BatchRequest struct {
	BattleIDs      []int64  `json:"battle_ids" binding:"required,min=1,max=1000,dive,min=0"`
	DelaySeconds   *float64 `json:"delay_seconds" binding:"omitempty,min=0,max=60"`
	UploadToMother bool     `json:"upload_to_mother"`
}

// ItemResult is the outcome of one battle id.
type ItemResult struct {
	BattleID         int64  `json:"battle_id"`
	Status           string `json:"status"`
	Error            string `json:"error,omitempty"`
	SizeBytes        *int64 `json:"size_bytes,omitempty"`
	FilePath         string `json:"file_path,omitempty"`
	UploadedToMother bool   `json:"uploaded_to_mother"`
}

// BatchResponse is the answer of POST /fetch_batch.
type BatchResponse struct {
	Results []ItemResult `json:"results"`
	Total   int          `json:"total"`
	Success int          `json:"success"`
	Failed  int          `json:"failed"`
	Timeout int          `json:"timeout"`
}

// Add appends a result and updates the counters.
func (r *BatchResponse) Add(item ItemResult) {
	r.Results = append(r.Results, item)
	r.Total++

	switch item.Status {
	case StatusSuccess:
		r.Success++
	case StatusTimeout:
		r.Timeout++
	default:
		r.Failed++
	}
}

// Health is the answer of GET /health.
type Health struct {
	Status   string `json:"status"`
	WorkerID string `json:"worker_id"`
	Login    string `json:"login"`
}

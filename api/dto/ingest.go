package dto

// UploadReply answers a raw log upload.
type UploadReply struct {
	OK        bool   `json:"ok"`
	BattleID  int64  `json:"battle_id"`
	FilePath  string `json:"file_path"`
	SizeBytes int64  `json:"size_bytes"`
	Shard     int64  `json:"shard"`
}

// Processing outcomes of one raw file.
const (
	ProcessStored      = "stored"
	ProcessQuarantined = "quarantined"
	ProcessFailed      = "failed"
)

type ProcessResult struct {
	BattleID int64  `json:"battle_id"`
	Path     string `json:"path"`
	Status   string `json:"status"`
	Archived bool   `json:"archived"`
	Error    string `json:"error,omitempty"`
}

// ProcessSummary is the outcome of one raw directory drain.
type ProcessSummary struct {
	OK          bool            `json:"ok"`
	Pending     int             `json:"pending"`
	Processed   int             `json:"processed"`
	Stored      int             `json:"stored"`
	Quarantined int             `json:"quarantined"`
	Failed      int             `json:"failed"`
	Rearchived  int             `json:"rearchived"`
	Results     []ProcessResult `json:"results"`
}

// Add counts one result in the summary.
func (s *ProcessSummary) Add(r ProcessResult) {
	s.Processed++
	switch r.Status {
	case ProcessStored:
		s.Stored++
	case ProcessQuarantined:
		s.Quarantined++
	default:
		s.Failed++
	}
	s.Results = append(s.Results, r)
}

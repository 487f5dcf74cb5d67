package messages

const (
	BadStatusCodeMsg    = "got status code %d from URL %s"
	FiltersNotNil       = "filters can't be nil"
	InvalidAdminToken   = "invalid or missing admin token"
	ModelMissing        = "bot model not trained yet, using rule-based scoring"
	NoWorkersConfigured = "no fetch workers configured"
	NothingToSync       = "nothing to sync"
	NotAttempted        = "not attempted by the worker"
	OperationInProgress = "operation already in progress, please wait"
	RequestFailedMsg    = "request failed on URL %s"
)

package filters

// BattleURIParams binds the battle id of a path.
type BattleURIParams struct {
	BattleID int64 `uri:"battle_id" binding:"required,min=1"`
}

// GzURIParams binds the archive file name, like 123.tzb.gz.
type GzURIParams struct {
	Name string `uri:"name" binding:"required"`
}

// Query parameters of a raw directory drain.
type ProcessBatchParams struct {
	Limit       int `form:"limit" binding:"omitempty,min=1,max=100000"`
	MaxParallel int `form:"max_parallel" binding:"omitempty,min=1,max=32"`
}

// PlayerURIParams binds the login of the player endpoints.
type PlayerURIParams struct {
	Login string `uri:"login" binding:"required"`
}

// TrainParams is the body of a model training request.
type TrainParams struct {
	WindowDays int `json:"window_days" binding:"omitempty,min=1,max=365"`
}

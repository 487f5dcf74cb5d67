package models

import "time"

// FetchAttempt is the last known outcome of fetching one battle id.
type FetchAttempt struct {
	BattleID     int64     `gorm:"primaryKey;autoIncrement:false"`
	RequestedAt  time.Time
	Status       string
	ErrorMessage *string
	FilePath     *string
	SizeBytes    *int64
}

package models

import "time"

// Player is a login seen in at least one battle.
type Player struct {
	ID        uint64    `gorm:"primaryKey"`
	Login     string    `gorm:"type:text;uniqueIndex"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// Clan is keyed by its upstream name.
type Clan struct {
	ID        uint64    `gorm:"primaryKey"`
	Name      string    `gorm:"type:text;uniqueIndex"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

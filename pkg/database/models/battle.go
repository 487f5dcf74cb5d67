package models

import (
	"time"

	"gorm.io/datatypes"
)

// Battle is one parsed encounter. ID is the storage assigned internal id.
type Battle struct {
	ID               uint64    `gorm:"primaryKey"`
	BattleID         int64     `gorm:"uniqueIndex"`
	Ts               time.Time `gorm:"column:ts"`
	DurationTurns    int
	BattleType       string `gorm:"type:varchar(1)"`
	LocX             int
	LocY             int
	StartTime        *time.Time
	ParticipantCount int
	MonsterCount     int
	SizeBytes        int64
	Sha256           string `gorm:"column:sha256;type:varchar(64)"`
	StorageKey       *string
	Compressed       bool
	Raw              datatypes.JSON
	MapPatch         datatypes.JSON
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`

	Participants []BattleParticipant `gorm:"foreignKey:BattleInternalID"`
	Monsters     []BattleMonster     `gorm:"foreignKey:BattleInternalID"`
	Loot         []BattleLoot        `gorm:"foreignKey:BattleInternalID"`
}

// BattleParticipant is one non monster actor of a battle.
type BattleParticipant struct {
	ID               uint64 `gorm:"primaryKey"`
	BattleInternalID uint64 `gorm:"index"`
	PlayerID         uint64
	ClanID           *uint64
	Login            string
	Side             int
	Profession       string
	Gender           int
	Level            int
	Survived         bool
	RankPoints       int
	PvePoints        int
	KillsMonsters    int
	KillsPlayers     int
	DamageVsMonsters datatypes.JSON
	DamageVsPlayers  datatypes.JSON
	Loot             datatypes.JSON
	IntervenedState  string
	IntervenedTurn   *int

	Clan *Clan `gorm:"foreignKey:ClanID"`
}

package models

type ResourceName struct {
	ID   uint64 `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex"`
}

type MonsterPartName struct {
	ID   uint64 `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex"`
}

// BattleLoot is one (kind, name) row of a battle's deduplicated pickups.
type BattleLoot struct {
	ID               uint64 `gorm:"primaryKey"`
	BattleInternalID uint64 `gorm:"index"`
	Kind             string
	Name             string
	ResourceID       *uint64
	PartID           *uint64
	Qty              int
	Pickups          int
	OnMap            int
}

func (BattleLoot) TableName() string {
	return "battle_loot"
}

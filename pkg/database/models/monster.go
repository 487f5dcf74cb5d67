package models

type MonsterKind struct {
	ID   uint64 `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex"`
}

// BattleMonster aggregates the monsters of one battle by kind, spec and side.
type BattleMonster struct {
	ID               uint64 `gorm:"primaryKey"`
	BattleInternalID uint64 `gorm:"index"`
	KindID           uint64
	Spec             string
	Side             int
	Count            int
	MinLevel         int
	MaxLevel         int

	Kind *MonsterKind `gorm:"foreignKey:KindID"`
}

package dto

import (
	"encoding/json"
	"time"

	"tzlogs/pkg/database/models"
)

// BattleSummary is a battle in a listing.
type BattleSummary struct {
	BattleID         int64     `json:"battle_id"`
	Timestamp        time.Time `json:"timestamp"`
	Type             string    `json:"battle_type"`
	Turns            int       `json:"turns"`
	X                int       `json:"x"`
	Y                int       `json:"y"`
	ParticipantCount int       `json:"participant_count"`
	MonsterCount     int       `json:"monster_count"`
	Compressed       bool      `json:"compressed"`
}

// BattleList is a page of battles.
type BattleList struct {
	Total   int64           `json:"total"`
	Battles []BattleSummary `json:"battles"`
}

type ParticipantDetail struct {
	Login            string          `json:"login"`
	Clan             string          `json:"clan,omitempty"`
	Side             int             `json:"side"`
	Profession       string          `json:"profession"`
	Level            int             `json:"level"`
	Survived         bool            `json:"survived"`
	KillsMonsters    int             `json:"kills_monsters"`
	KillsPlayers     int             `json:"kills_players"`
	DamageVsMonsters json.RawMessage `json:"damage_vs_monsters,omitempty"`
	DamageVsPlayers  json.RawMessage `json:"damage_vs_players,omitempty"`
	Loot             json.RawMessage `json:"loot,omitempty"`
	Intervened       string          `json:"intervened"`
	IntervenedTurn   *int            `json:"intervened_turn,omitempty"`
}

type MonsterDetail struct {
	Kind     string `json:"kind"`
	Spec     string `json:"spec"`
	Side     int    `json:"side"`
	Count    int    `json:"count"`
	MinLevel int    `json:"min_level"`
	MaxLevel int    `json:"max_level"`
}

type LootDetail struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Qty     int    `json:"qty"`
	Pickups int    `json:"pickups"`
	OnMap   int    `json:"on_map"`
}

// BattleDetail is a full stored battle.
type BattleDetail struct {
	BattleSummary
	StartTime    *time.Time          `json:"start_time,omitempty"`
	SizeBytes    int64               `json:"size_bytes"`
	Sha256       string              `json:"sha256"`
	StorageKey   string              `json:"storage_key,omitempty"`
	MapPatch     json.RawMessage     `json:"map_patch,omitempty"`
	Participants []ParticipantDetail `json:"participants"`
	Monsters     []MonsterDetail     `json:"monsters"`
	Loot         []LootDetail        `json:"loot"`
}

// NewBattleSummary converts a stored battle.
func NewBattleSummary(b *models.Battle) BattleSummary {
	return BattleSummary{
		BattleID:         b.BattleID,
		Timestamp:        b.Ts.UTC(),
		Type:             b.BattleType,
		Turns:            b.DurationTurns,
		X:                b.LocX,
		Y:                b.LocY,
		ParticipantCount: b.ParticipantCount,
		MonsterCount:     b.MonsterCount,
		Compressed:       b.Compressed,
	}
}

// NewBattleDetail converts a stored battle with its children.
func NewBattleDetail(b *models.Battle) *BattleDetail {
	detail := &BattleDetail{
		BattleSummary: NewBattleSummary(b),
		StartTime:     b.StartTime,
		SizeBytes:     b.SizeBytes,
		Sha256:        b.Sha256,
		MapPatch:      json.RawMessage(b.MapPatch),
		Participants:  make([]ParticipantDetail, 0, len(b.Participants)),
		Monsters:      make([]MonsterDetail, 0, len(b.Monsters)),
		Loot:          make([]LootDetail, 0, len(b.Loot)),
	}
	if b.StorageKey != nil {
		detail.StorageKey = *b.StorageKey
	}

	for _, p := range b.Participants {
		pd := ParticipantDetail{
			Login:            p.Login,
			Side:             p.Side,
			Profession:       p.Profession,
			Level:            p.Level,
			Survived:         p.Survived,
			KillsMonsters:    p.KillsMonsters,
			KillsPlayers:     p.KillsPlayers,
			DamageVsMonsters: json.RawMessage(p.DamageVsMonsters),
			DamageVsPlayers:  json.RawMessage(p.DamageVsPlayers),
			Loot:             json.RawMessage(p.Loot),
			Intervened:       p.IntervenedState,
			IntervenedTurn:   p.IntervenedTurn,
		}
		if p.Clan != nil {
			pd.Clan = p.Clan.Name
		}
		detail.Participants = append(detail.Participants, pd)
	}

	for _, m := range b.Monsters {
		md := MonsterDetail{
			Spec:     m.Spec,
			Side:     m.Side,
			Count:    m.Count,
			MinLevel: m.MinLevel,
			MaxLevel: m.MaxLevel,
		}
		if m.Kind != nil {
			md.Kind = m.Kind.Name
		}
		detail.Monsters = append(detail.Monsters, md)
	}

	for _, l := range b.Loot {
		detail.Loot = append(detail.Loot, LootDetail{
			Kind:    l.Kind,
			Name:    l.Name,
			Qty:     l.Qty,
			Pickups: l.Pickups,
			OnMap:   l.OnMap,
		})
	}

	return detail
}

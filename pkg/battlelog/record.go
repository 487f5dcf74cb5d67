// Package battlelog turns raw upstream battle logs into canonical battle records.
package battlelog

import "time"

// Damage bucket names.
const (
	BucketHP             = "HP"
	BucketPiercing       = "piercing"
	BucketCritical       = "critical"
	BucketPoison         = "Poison"
	BucketParalysis      = "Paralysis"
	BucketPanic          = "Panic"
	BucketHallucinations = "Hallucinations"
	BucketZombification  = "Zombification"
)

// Intervention states of a participant.
const (
	IntervenedNone    = "none"
	IntervenedJoined  = "joined"
	IntervenedEscaped = "escaped"
)

type LootKind string

const (
	LootResource    LootKind = "resource"
	LootMonsterPart LootKind = "monster_part"
	LootOther       LootKind = "other"
)

// Record is the canonical form of one battle.
type Record struct {
	BattleID     int64
	Timestamp    time.Time
	Turns        int
	Type         string
	Location     Location
	StartTime    *time.Time
	SizeBytes    int
	SHA256       string
	SourcePath   string
	Header       map[string]string
	Participants []Participant
	Monsters     []MonsterAggregate
	Loot         []LootEntry
	MapPatch     MapPatch
}

type Location struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type Kills struct {
	Monsters int `json:"monsters"`
	Players  int `json:"players"`
}

// DamageTotals maps bucket name to the damage dealt, split by target type.
type DamageTotals struct {
	VsMonsters map[string]int `json:"vs_monsters"`
	VsPlayers  map[string]int `json:"vs_players"`
}

type LootItem struct {
	Name string `json:"name"`
	Qty  int    `json:"qty"`
}

type ParticipantLoot struct {
	Resources    []LootItem `json:"resources"`
	MonsterParts []LootItem `json:"monster_parts"`
	Other        []LootItem `json:"other"`
}

type Intervention struct {
	State string `json:"state"`
	Turn  *int   `json:"turn,omitempty"`
}

// Participant is one non monster actor.
type Participant struct {
	Login      string
	Clan       string
	Side       int
	Profession string
	Gender     int
	Level      int
	Survived   bool
	RankPoints int
	PvePoints  int
	Kills      Kills
	Damage     DamageTotals
	Loot       ParticipantLoot
	Intervened Intervention
}

// MonsterAggregate groups the monsters of a battle by kind, spec and side.
type MonsterAggregate struct {
	Kind     string
	Spec     string
	Side     int
	Count    int
	MinLevel int
	MaxLevel int
}

// LootEntry is the battle wide total for one item name.
type LootEntry struct {
	Kind    LootKind
	Name    string
	Qty     int
	Pickups int
	OnMap   int
}

// MapPatch identifies the starting map. Diff is empty while the final state equals the base.
type MapPatch struct {
	ID       string   `json:"id"`
	Diff     []string `json:"diff,omitempty"`
	Checksum string   `json:"checksum"`
}

// Participant returns the participant with the given login.
func (r *Record) Participant(login string) (*Participant, bool) {
	for i := range r.Participants {
		if r.Participants[i].Login == login {
			return &r.Participants[i], true
		}
	}
	return nil, false
}

// IsPvP reports whether more than one participant fought.
func (r *Record) IsPvP() bool {
	return len(r.Participants) > 1
}

// MonsterCount is the number of monsters across aggregates.
func (r *Record) MonsterCount() int {
	total := 0
	for _, m := range r.Monsters {
		total += m.Count
	}
	return total
}

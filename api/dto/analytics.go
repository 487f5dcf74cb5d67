package dto

import (
	"time"

	"tzlogs/pkg/botdetect"
	"tzlogs/pkg/timepattern"
)

// Window echoes the resolved time window of an analytics answer.
type Window struct {
	Days  int       `json:"window_days"`
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
}

// Efficiency groups the kill rates of a player.
type Efficiency struct {
	KPM           float64 `json:"kpm"`
	KPT           float64 `json:"kpt"`
	WeightedKills float64 `json:"weighted_kills"`
	PvPWeight     float64 `json:"pvp_weight"`
}

// PlayerStats is the window aggregate of one player.
type PlayerStats struct {
	Login         string     `json:"login"`
	Battles       int        `json:"battles"`
	PvPBattles    int        `json:"pvp_battles"`
	PvEBattles    int        `json:"pve_battles"`
	KillsMonsters int        `json:"kills_monsters"`
	KillsPlayers  int        `json:"kills_players"`
	SurvivalRate  float64    `json:"survival_rate"`
	ClutchRate    float64    `json:"clutch_rate"`
	Efficiency    Efficiency `json:"efficiency"`
	FirstSeen     time.Time  `json:"first_seen"`
	LastSeen      time.Time  `json:"last_seen"`
}

// PlayerProfile is the player endpoint answer.
type PlayerProfile struct {
	Window      Window                `json:"window"`
	Stats       PlayerStats           `json:"stats"`
	TimePattern *timepattern.Features `json:"time_pattern,omitempty"`
	Bot         *botdetect.Verdict    `json:"bot,omitempty"`
	Playstyle   *Playstyle            `json:"playstyle,omitempty"`
}

// Playstyle is the cluster a player was classified in.
type Playstyle struct {
	Cluster    int     `json:"cluster"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type ClanStats struct {
	Clan         string  `json:"clan"`
	Members      int     `json:"members"`
	Battles      int     `json:"battles"`
	Kills        int     `json:"kills"`
	SurvivalRate float64 `json:"survival_rate"`
}

type MonsterStats struct {
	Kind         string  `json:"kind"`
	Battles      int     `json:"battles"`
	Total        int     `json:"total"`
	AvgPerBattle float64 `json:"avg_per_battle"`
	MinLevel     int     `json:"min_level"`
	MaxLevel     int     `json:"max_level"`
}

type ResourceBucket struct {
	Bucket   time.Time `json:"bucket"`
	Resource string    `json:"resource"`
	Qty      int       `json:"qty"`
	Pickups  int       `json:"pickups"`
	Battles  int       `json:"battles"`
}

type Miner struct {
	Login          string   `json:"login"`
	Qty            int      `json:"qty"`
	Battles        int      `json:"battles"`
	BotProbability *float64 `json:"bot_probability,omitempty"`
}

type Companion struct {
	Login   string `json:"login"`
	Battles int    `json:"battles"`
}

// Social lists the allies and rivals of a player.
type Social struct {
	Login  string      `json:"login"`
	Allies []Companion `json:"allies"`
	Rivals []Companion `json:"rivals"`
}

type ClanEngagement struct {
	ClanA   string `json:"clan_a"`
	ClanB   string `json:"clan_b"`
	Battles int    `json:"battles"`
}

type Tile struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Battles    int     `json:"battles"`
	PvPBattles int     `json:"pvp_battles"`
	PvPRatio   float64 `json:"pvp_ratio"`
}

type ClanTile struct {
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Clan    string `json:"clan"`
	Battles int    `json:"battles"`
}

type EloEntry struct {
	Rank    int    `json:"rank"`
	Login   string `json:"login"`
	Elo     int    `json:"elo"`
	Battles int    `json:"battles"`
	Wins    int    `json:"wins"`
	Losses  int    `json:"losses"`
}

type ChurnEntry struct {
	Login       string  `json:"login"`
	FirstHalf   int     `json:"first_half"`
	SecondHalf  int     `json:"second_half"`
	Churn       float64 `json:"churn"`
	Label       string  `json:"label,omitempty"`
	PlayerValue float64 `json:"player_value"`
	Priority    float64 `json:"priority"`
}

// BotScan is the ranked bot verdicts of a window.
type BotScan struct {
	Window       Window              `json:"window"`
	ModelMissing bool                `json:"model_missing"`
	Message      string              `json:"message,omitempty"`
	Scanned      int                 `json:"scanned"`
	Flagged      int                 `json:"flagged"`
	Verdicts     []botdetect.Verdict `json:"verdicts"`
}

// TrainResult describes a freshly trained model.
type TrainResult struct {
	Version    int       `json:"version"`
	TrainedAt  time.Time `json:"trained_at"`
	Players    int       `json:"players"`
	WindowDays int       `json:"window_days"`
	Clusters   int       `json:"clusters"`
	Path       string    `json:"path"`
}

// ListResponse wraps every paginated analytics list.
type ListResponse[T any] struct {
	Window Window `json:"window"`
	Items  []T    `json:"items"`
}

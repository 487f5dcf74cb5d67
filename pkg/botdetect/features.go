// Package botdetect scores players with an ensemble of a playstyle clusterer, an
// isolation forest and hard rules, with a rule only fallback when no model is trained.
package botdetect

import (
	"math"

	"tzlogs/pkg/timepattern"
)

// PlayerStats is the per player aggregate over an analytics window.
type PlayerStats struct {
	Login      string
	WindowDays int

	TotalBattles  int
	PvPBattles    int
	Survived      int
	PvPSurvived   int
	KillsMonsters int
	KillsPlayers  int
	PvPKills      int
	SumPvePoints  float64
	SumRankPoints float64
	PvPDamage     float64
	Locations     int

	Time timepattern.Features
}

// Derived ratios. All of them are zero when their denominator is.
func (s PlayerStats) PvPRatio() float64        { return ratio(float64(s.PvPBattles), float64(s.TotalBattles)) }
func (s PlayerStats) SurvivalRate() float64    { return ratio(float64(s.Survived), float64(s.TotalBattles)) }
func (s PlayerStats) PvPSurvivalRate() float64 { return ratio(float64(s.PvPSurvived), float64(s.PvPBattles)) }
func (s PlayerStats) AvgPve() float64          { return ratio(s.SumPvePoints, float64(s.TotalBattles)) }
func (s PlayerStats) AvgRank() float64         { return ratio(s.SumRankPoints, float64(s.TotalBattles)) }
func (s PlayerStats) AvgPvPDamage() float64    { return ratio(s.PvPDamage, float64(s.PvPBattles)) }
func (s PlayerStats) AvgKillsPerPvP() float64  { return ratio(float64(s.PvPKills), float64(s.PvPBattles)) }

// KPM is kills per match.
func (s PlayerStats) KPM() float64 {
	return ratio(float64(s.KillsMonsters+s.KillsPlayers), float64(s.TotalBattles))
}

// KillRatio is player kills over monster kills, with at least one monster kill assumed.
func (s PlayerStats) KillRatio() float64 {
	return float64(s.KillsPlayers) / math.Max(float64(s.KillsMonsters), 1)
}

func (s PlayerStats) ActiveShare() float64 {
	return math.Min(ratio(float64(s.Time.ActiveDays), float64(s.WindowDays)), 1)
}

// KMeans feature layout.
const (
	kmPvPRatio = iota
	kmKPM
	kmSurvival
	kmAvgPve
	kmAvgRank
	kmKillRatio
	kmTotal
	kmActive
	kmKillsPerPvP
	kmPvPSurvival
	kmPvPBattles
	kmPvPDamage

	KMeansDims
)

// KMeansVector is the playstyle feature vector.
func KMeansVector(s PlayerStats) []float64 {
	v := make([]float64, KMeansDims)
	v[kmPvPRatio] = s.PvPRatio()
	v[kmKPM] = s.KPM() / 20
	v[kmSurvival] = s.SurvivalRate()
	v[kmAvgPve] = s.AvgPve() / 1e5
	v[kmAvgRank] = s.AvgRank() / 10
	v[kmKillRatio] = s.KillRatio() / 2
	v[kmTotal] = float64(s.TotalBattles) / 1000
	v[kmActive] = s.ActiveShare()
	v[kmKillsPerPvP] = s.AvgKillsPerPvP() / 5
	v[kmPvPSurvival] = s.PvPSurvivalRate()
	v[kmPvPBattles] = float64(s.PvPBattles) / 500
	v[kmPvPDamage] = s.AvgPvPDamage() / 5000
	return v
}

const IForestDims = 14

// IForestVector is the clipped anomaly feature vector.
func IForestVector(s PlayerStats) []float64 {
	n := float64(s.TotalBattles)
	t := s.Time
	return []float64{
		s.PvPRatio(),
		math.Min(s.KPM(), 30),
		s.SurvivalRate(),
		math.Min(ratio(float64(s.KillsMonsters), n), 50),
		math.Min(ratio(float64(s.KillsPlayers), n), 20),
		math.Min(t.TimeRegularity, 10),
		math.Min(float64(s.Locations), 20),
		math.Min(n, 1000),
		t.UltraShortRatio,
		math.Min(t.MaxGapHours, 48),
		math.Min(float64(t.HourDiversity), 24),
		math.Min(t.AvgSessionLength, 100),
		math.Min(t.SessionVariance, 5),
		math.Min(float64(t.TotalSessions), 100),
	}
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

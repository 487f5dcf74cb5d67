package botdetect

import (
	"tzlogs/pkg/timepattern"
)

// Critical returns the hard indicator score of a time pattern. Sequences too short to
// score return 0.
func Critical(t timepattern.Features) float64 {
	if !t.Scored() {
		return 0
	}

	critical := 0.0
	switch {
	case t.UltraShortRatio > 0.5:
		critical = 0.95
	case t.UltraShortRatio > 0.3:
		critical = 0.70
	case t.UltraShortRatio > 0.1:
		critical = 0.40
	}
	if t.SessionVariance < 0.1 {
		critical = max(critical, 0.60)
	}
	if t.HourDiversity < 3 {
		critical = max(critical, 0.50)
	}
	return critical
}

// RuleThreshold is the rule only score at which a player counts as a bot.
const RuleThreshold = 0.6

// ruleWeights sum to 1.45; the total is clamped afterwards.
var ruleWeights = struct {
	activity, survival, pvpKPM, regularity, maxGap, hours, short, ultraShort, marathon, sessionGap float64
}{
	activity:   0.15,
	survival:   0.10,
	pvpKPM:     0.10,
	regularity: 0.20,
	maxGap:     0.15,
	hours:      0.15,
	short:      0.15,
	ultraShort: 0.20,
	marathon:   0.15,
	sessionGap: 0.10,
}

// RuleResult is the outcome of the rule only model.
type RuleResult struct {
	Score   float64  `json:"score"`
	IsBot   bool     `json:"is_bot"`
	Reasons []string `json:"reasons,omitempty"`
}

// ScoreRules is the weighted heuristic used when no trained model is available.
func ScoreRules(s PlayerStats) RuleResult {
	t := s.Time
	if !t.Scored() {
		return RuleResult{}
	}

	var res RuleResult
	add := func(weight, level float64, reason string) {
		if level <= 0 {
			return
		}
		res.Score += weight * level
		res.Reasons = append(res.Reasons, reason)
	}

	perDay := ratio(float64(s.TotalBattles), float64(max(t.ActiveDays, 1)))
	add(ruleWeights.activity, step(perDay, 20, 50), "high daily activity")
	add(ruleWeights.survival, step(s.SurvivalRate(), 0.9, 0.95), "near perfect survival")
	if s.PvPRatio() < 0.05 {
		add(ruleWeights.pvpKPM, step(s.KPM(), 1, 1.5), "monster farming without pvp")
	}

	cv := ratio(t.StdInterval, t.MeanInterval)
	switch {
	case t.TooRegular:
		add(ruleWeights.regularity, 1, "machine regular intervals")
	case cv < 0.3:
		add(ruleWeights.regularity, 0.5, "regular intervals")
	}

	if t.ActiveDays >= 2 {
		add(ruleWeights.maxGap, stepBelow(t.MaxGapHours, 8, 4), "no long breaks")
	}
	add(ruleWeights.hours, max(step(t.ActiveHoursRatio, 0.5, 0.75), step(float64(t.ActiveHourSpread), 16, 20)), "activity spread over the day")
	add(ruleWeights.short, step(t.ShortRatio, 0.1, 0.3), "short intervals")
	add(ruleWeights.ultraShort, step(t.UltraShortRatio, 0.05, 0.2), "ultra short intervals")
	if t.MarathonCount > 0 {
		level := 0.5
		if t.LongestMarathonHours >= 6 {
			level = 1
		}
		add(ruleWeights.marathon, level, "marathon sessions")
	}
	if t.AvgInSessionGap > 0 {
		add(ruleWeights.sessionGap, stepBelow(t.AvgInSessionGap, 15, 5), "tight in session gaps")
	}

	pveFocused := s.PvPRatio() < 0.1
	naturalBreaks := t.MaxGapHours >= 6
	switch {
	case pveFocused && t.UltraShortRatio > 0.2:
		res.Score += 0.4
		res.Reasons = append(res.Reasons, "pve farming with ultra short intervals")
	case pveFocused && naturalBreaks && t.UltraShortRatio <= 0.05 && t.MarathonCount == 0:
		res.Score -= 0.3
	}

	res.Score = clamp01(res.Score)
	res.IsBot = res.Score >= RuleThreshold
	return res
}

// step is 0 below half, 0.5 from half and 1 from full.
func step(v, half, full float64) float64 {
	switch {
	case v >= full:
		return 1
	case v >= half:
		return 0.5
	}
	return 0
}

// stepBelow is step for signals where smaller values are more suspicious.
func stepBelow(v, half, full float64) float64 {
	switch {
	case v < full:
		return 1
	case v < half:
		return 0.5
	}
	return 0
}

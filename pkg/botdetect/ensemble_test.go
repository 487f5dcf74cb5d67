package botdetect

import (
	"testing"
	"time"

	"tzlogs/pkg/timepattern"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCritical(t *testing.T) {
	tests := []struct {
		name     string
		time     timepattern.Features
		expected float64
	}{
		{
			name:     "too short to score",
			time:     timepattern.Features{TotalBattles: 2, UltraShortRatio: 0.9},
			expected: 0,
		},
		{
			name:     "clean",
			time:     timepattern.Features{TotalBattles: 50, UltraShortRatio: 0.05, SessionVariance: 0.5, HourDiversity: 8},
			expected: 0,
		},
		{
			name:     "ultra short above half",
			time:     timepattern.Features{TotalBattles: 50, UltraShortRatio: 0.6, SessionVariance: 0.5, HourDiversity: 8},
			expected: 0.95,
		},
		{
			name:     "ultra short above 0.3",
			time:     timepattern.Features{TotalBattles: 50, UltraShortRatio: 0.35, SessionVariance: 0.5, HourDiversity: 8},
			expected: 0.70,
		},
		{
			name:     "ultra short above 0.1",
			time:     timepattern.Features{TotalBattles: 50, UltraShortRatio: 0.2, SessionVariance: 0.5, HourDiversity: 8},
			expected: 0.40,
		},
		{
			name:     "flat sessions raise the floor",
			time:     timepattern.Features{TotalBattles: 50, UltraShortRatio: 0.2, SessionVariance: 0.05, HourDiversity: 8},
			expected: 0.60,
		},
		{
			name:     "few hours",
			time:     timepattern.Features{TotalBattles: 50, SessionVariance: 0.5, HourDiversity: 2},
			expected: 0.50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Critical(tt.time), 1e-9)
		})
	}
}

func TestFuseBoundsAndMonotonicity(t *testing.T) {
	grid := make([]float64, 0, 21)
	for i := 0; i <= 20; i++ {
		grid = append(grid, float64(i)/20)
	}

	for _, c := range grid {
		for _, a := range grid {
			for _, k := range grid {
				p := Fuse(c, a, k)
				require.GreaterOrEqual(t, p, 0.0)
				require.LessOrEqual(t, p, 1.0)

				if c < 1 {
					assert.GreaterOrEqual(t, Fuse(c+0.05, a, k), p)
				}
				if a < 1 {
					assert.GreaterOrEqual(t, Fuse(c, a+0.05, k), p)
				}
				if k < 1 {
					assert.GreaterOrEqual(t, Fuse(c, a, k+0.05), p)
				}
			}
		}
	}
}

func TestFuseClampsOutOfRangeInputs(t *testing.T) {
	assert.Equal(t, 1.0, Fuse(3, 3, 3))
	assert.Equal(t, 0.0, Fuse(-1, -1, -1))
}

func TestConfidenceBucket(t *testing.T) {
	assert.Equal(t, BucketHigh, ConfidenceBucket(0.85))
	assert.Equal(t, BucketMediumHigh, ConfidenceBucket(0.70))
	assert.Equal(t, BucketMedium, ConfidenceBucket(0.5))
	assert.Equal(t, BucketClean, ConfidenceBucket(0.49))
}

func s6Stats() PlayerStats {
	return PlayerStats{
		Login:        "farmbot",
		WindowDays:   30,
		TotalBattles: 200,
		Survived:     100,
		Time: timepattern.Features{
			TotalBattles:    200,
			UltraShortRatio: 0.6,
			SessionVariance: 0.05,
			HourDiversity:   2,
		},
	}
}

func TestCriticalOverridesOtherSignals(t *testing.T) {
	stats := s6Stats()
	require.InDelta(t, 0.95, Critical(stats.Time), 1e-9)

	for _, anomaly := range []float64{0, 0.5, 1} {
		for _, km := range []float64{0, 0.3, 1} {
			p := Fuse(Critical(stats.Time), anomaly, km)
			assert.GreaterOrEqual(t, p, BotThreshold)
			assert.Equal(t, BucketHigh, ConfidenceBucket(p))
		}
	}
}

func TestDetectWithModel(t *testing.T) {
	m, err := Fit(population(40, 3), 30, DefaultSeed, fixedNow)
	require.NoError(t, err)

	v := Detect(m, s6Stats())

	assert.Equal(t, SourceEnsemble, v.Source)
	assert.False(t, v.ModelMissing)
	require.NotNil(t, v.Ensemble)
	assert.InDelta(t, 0.95, v.Ensemble.Critical, 1e-9)
	assert.True(t, v.IsBot)
	assert.Equal(t, BucketHigh, v.Confidence)
	assert.GreaterOrEqual(t, v.BotProbability, 0.95)
	assert.Contains(t, []int{-1, 1}, v.Ensemble.Prediction)
}

func TestDetectSkipsUnscoredPlayers(t *testing.T) {
	m, err := Fit(population(300, 5), 30, DefaultSeed, fixedNow)
	require.NoError(t, err)

	short := botLikeStats()
	short.TotalBattles = 2
	short.Survived = 2
	short.Time = timepattern.Extract([]time.Time{fixedNow, fixedNow.Add(time.Second)})

	tests := []struct {
		name   string
		model  *Model
		source string
	}{
		{name: "with model", model: m, source: SourceEnsemble},
		{name: "without model", model: nil, source: SourceRules},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Detect(tt.model, short)

			assert.Equal(t, tt.source, v.Source)
			assert.Equal(t, tt.model == nil, v.ModelMissing)
			assert.Nil(t, v.Ensemble)
			assert.Zero(t, v.BotProbability)
			assert.False(t, v.IsBot)
			assert.Equal(t, BucketClean, v.Confidence)
			assert.Equal(t, RuleResult{}, v.Rules)
		})
	}
}

func TestDetectWithoutModelUsesRules(t *testing.T) {
	v := Detect(nil, botLikeStats())

	assert.Equal(t, SourceRules, v.Source)
	assert.True(t, v.ModelMissing)
	assert.Nil(t, v.Ensemble)
	assert.True(t, v.IsBot)
	assert.Equal(t, v.Rules.Score, v.BotProbability)
}

func botLikeStats() PlayerStats {
	return PlayerStats{
		Login:         "grinder9000",
		WindowDays:    30,
		TotalBattles:  600,
		Survived:      590,
		KillsMonsters: 1200,
		Time: timepattern.Features{
			TotalBattles:     600,
			MeanInterval:     30,
			StdInterval:      1,
			TooRegular:       true,
			MaxGapHours:      1,
			ActiveDays:       3,
			ActiveHoursRatio: 0.9,
			ShortRatio:       0.5,
			UltraShortRatio:  0.5,
			SessionVariance:  0.05,
			HourDiversity:    22,
		},
	}
}

func humanStats() PlayerStats {
	return PlayerStats{
		Login:         "alice",
		WindowDays:    30,
		TotalBattles:  40,
		PvPBattles:    20,
		Survived:      24,
		KillsMonsters: 30,
		KillsPlayers:  8,
		Time: timepattern.Features{
			TotalBattles:     40,
			MeanInterval:     1000,
			StdInterval:      900,
			MaxGapHours:      20,
			ActiveDays:       10,
			ActiveHoursRatio: 0.25,
			ActiveHourSpread: 8,
			AvgInSessionGap:  600,
			SessionVariance:  0.6,
			HourDiversity:    6,
		},
	}
}

func TestScoreRules(t *testing.T) {
	bot := ScoreRules(botLikeStats())
	assert.Equal(t, 1.0, bot.Score)
	assert.True(t, bot.IsBot)
	assert.Contains(t, bot.Reasons, "ultra short intervals")

	human := ScoreRules(humanStats())
	assert.Zero(t, human.Score)
	assert.False(t, human.IsBot)
	assert.Empty(t, human.Reasons)

	assert.Equal(t, RuleResult{}, ScoreRules(PlayerStats{TotalBattles: 2, Time: timepattern.Features{TotalBattles: 2}}))
}

func TestScoreRulesPvEBreaksDiscount(t *testing.T) {
	s := humanStats()
	s.PvPBattles = 0
	s.Survived = 38
	s.Time.ActiveHoursRatio = 0.6
	s.Time.MaxGapHours = 10

	// survival 0.95 adds 0.10, hour ratio adds 0.075, natural breaks subtract 0.3.
	res := ScoreRules(s)
	assert.Zero(t, res.Score)
	assert.False(t, res.IsBot)
}

func TestRuleWeightsSum(t *testing.T) {
	w := ruleWeights
	sum := w.activity + w.survival + w.pvpKPM + w.regularity + w.maxGap + w.hours + w.short + w.ultraShort + w.marathon + w.sessionGap
	assert.InDelta(t, 1.45, sum, 1e-9)
}

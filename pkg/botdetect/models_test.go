package botdetect

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"tzlogs/pkg/failures"
	"tzlogs/pkg/timepattern"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// population builds n varied players with scoreable time patterns.
func population(n int, seed uint64) []PlayerStats {
	rng := rand.New(rand.NewPCG(seed, seed))
	out := make([]PlayerStats, n)
	for i := range out {
		total := 5 + rng.IntN(400)
		pvp := rng.IntN(total + 1)
		out[i] = PlayerStats{
			Login:         "player" + string(rune('a'+i%26)) + string(rune('a'+i/26)),
			WindowDays:    30,
			TotalBattles:  total,
			PvPBattles:    pvp,
			Survived:      rng.IntN(total + 1),
			PvPSurvived:   rng.IntN(pvp + 1),
			KillsMonsters: rng.IntN(3 * total),
			KillsPlayers:  rng.IntN(pvp + 1),
			PvPKills:      rng.IntN(pvp + 1),
			SumPvePoints:  rng.Float64() * 1e5 * float64(total),
			SumRankPoints: rng.Float64() * 50 * float64(total),
			PvPDamage:     rng.Float64() * 5000 * float64(pvp),
			Locations:     1 + rng.IntN(30),
			Time: timepattern.Features{
				TotalBattles:     total,
				TimeRegularity:   rng.Float64() * 3,
				UltraShortRatio:  rng.Float64() * 0.1,
				MaxGapHours:      rng.Float64() * 72,
				HourDiversity:    1 + rng.IntN(24),
				AvgSessionLength: 1 + rng.Float64()*40,
				SessionVariance:  rng.Float64() * 2,
				TotalSessions:    1 + rng.IntN(60),
				ActiveDays:       1 + rng.IntN(30),
			},
		}
	}
	return out
}

func TestFitScaler(t *testing.T) {
	rows := [][]float64{{1, 5}, {3, 5}, {5, 5}}
	s := FitScaler(rows)

	assert.InDeltaSlice(t, []float64{3, 5}, s.Mean, 1e-9)
	assert.InDelta(t, math.Sqrt(8.0/3), s.Scale[0], 1e-9)
	assert.Equal(t, 1.0, s.Scale[1])

	scaled := s.TransformAll(rows)
	assert.InDelta(t, 0, scaled[1][0], 1e-9)
	assert.InDelta(t, 0, scaled[2][1], 1e-9)
	assert.InDelta(t, -scaled[2][0], scaled[0][0], 1e-9)
}

func blobs(rng *rand.Rand) [][]float64 {
	var rows [][]float64
	for i := 0; i < 20; i++ {
		rows = append(rows, []float64{rng.NormFloat64() * 0.1, rng.NormFloat64() * 0.1})
	}
	for i := 0; i < 20; i++ {
		rows = append(rows, []float64{10 + rng.NormFloat64()*0.1, 10 + rng.NormFloat64()*0.1})
	}
	return rows
}

func TestFitKMeansSeparatesBlobs(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	rows := blobs(rng)

	km := FitKMeans(rows, 2, rng)
	require.Len(t, km.Centers, 2)

	assign := km.Assign(rows)
	for i := 1; i < 20; i++ {
		assert.Equal(t, assign[0], assign[i])
		assert.Equal(t, assign[20], assign[20+i])
	}
	assert.NotEqual(t, assign[0], assign[20])

	cluster, confidence := km.Predict([]float64{0, 0})
	assert.Equal(t, assign[0], cluster)
	assert.Greater(t, confidence, 0.9)
	assert.LessOrEqual(t, confidence, 1.0)
}

func TestFitKMeansCapsClustersAtRows(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	km := FitKMeans([][]float64{{1}, {2}, {3}}, 8, rng)
	assert.Len(t, km.Centers, 3)

	cluster, _ := KMeans{}.Predict([]float64{1})
	assert.Equal(t, -1, cluster)
}

func TestAveragePath(t *testing.T) {
	assert.Zero(t, averagePath(1))
	assert.Equal(t, 1.0, averagePath(2))
	assert.InDelta(t, 10.2448, averagePath(256), 1e-3)
}

func TestPercentile(t *testing.T) {
	assert.InDelta(t, 1.4, percentile([]float64{5, 3, 1, 2, 4}, 10), 1e-9)
	assert.InDelta(t, 3, percentile([]float64{1, 2, 3, 4, 5}, 50), 1e-9)
	assert.Zero(t, percentile(nil, 10))
}

func TestIsolationForestFlagsOutlier(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	var rows [][]float64
	for i := 0; i < 300; i++ {
		rows = append(rows, []float64{rng.NormFloat64(), rng.NormFloat64()})
	}
	outlier := []float64{8, 8}
	rows = append(rows, outlier)

	f := FitIsolationForest(rows, rng)
	require.Len(t, f.Trees, ForestTrees)
	assert.Equal(t, ForestMaxSamples, f.SampleSize)

	pred, decision := f.Predict(outlier)
	assert.Equal(t, -1, pred)
	assert.Less(t, decision, f.Decision([]float64{0, 0}))

	flagged := 0
	for _, row := range rows {
		if p, _ := f.Predict(row); p == -1 {
			flagged++
		}
	}
	assert.InDelta(t, Contamination, float64(flagged)/float64(len(rows)), 0.02)

	score := f.ScoreSamples(outlier)
	assert.GreaterOrEqual(t, score, -1.0)
	assert.LessOrEqual(t, score, 0.0)
}

func TestAnomalyProbability(t *testing.T) {
	assert.Equal(t, 1.0, AnomalyProbability(-0.35))
	assert.InDelta(t, 0.5, AnomalyProbability(-0.2), 1e-9)
	assert.Zero(t, AnomalyProbability(0))
	assert.Zero(t, AnomalyProbability(0.3))
}

func TestLabelCluster(t *testing.T) {
	vec := func(set map[int]float64) []float64 {
		v := make([]float64, KMeansDims)
		for i, x := range set {
			v[i] = x
		}
		return v
	}

	tests := []struct {
		name     string
		mean     []float64
		expected string
	}{
		{name: "bot farmer", mean: vec(map[int]float64{kmPvPRatio: 0.01, kmTotal: 0.8, kmActive: 0.9}), expected: LabelBotFarmer},
		{name: "elite", mean: vec(map[int]float64{kmPvPRatio: 0.6, kmKillsPerPvP: 0.5, kmPvPSurvival: 0.7}), expected: LabelElitePvP},
		{name: "aggressive", mean: vec(map[int]float64{kmPvPRatio: 0.45, kmKillsPerPvP: 0.3}), expected: LabelAggressivePvP},
		{name: "assassin", mean: vec(map[int]float64{kmKillRatio: 0.6, kmSurvival: 0.6}), expected: LabelAssassin},
		{name: "tank", mean: vec(map[int]float64{kmSurvival: 0.85, kmPvPDamage: 0.1, kmPvPRatio: 0.3, kmKillsPerPvP: 0.15}), expected: LabelTank},
		{name: "support", mean: vec(map[int]float64{kmPvPRatio: 0.3, kmKillsPerPvP: 0.05, kmSurvival: 0.7, kmPvPDamage: 0.5}), expected: LabelSupport},
		{name: "safe farmer", mean: vec(map[int]float64{kmPvPRatio: 0.05, kmSurvival: 0.95}), expected: LabelSafeFarmer},
		{name: "novice", mean: vec(map[int]float64{kmTotal: 0.01, kmAvgPve: 0.05}), expected: LabelNovice},
		{name: "grinder", mean: vec(map[int]float64{kmTotal: 0.4, kmPvPRatio: 0.15, kmSurvival: 0.5}), expected: LabelGrinder},
		{name: "balanced", mean: vec(map[int]float64{kmTotal: 0.1, kmPvPRatio: 0.15, kmSurvival: 0.5}), expected: LabelBalanced},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, LabelCluster(tt.mean))
		})
	}
}

func TestPlayerValue(t *testing.T) {
	assert.Equal(t, 1.0, PlayerValue(LabelElitePvP))
	assert.Zero(t, PlayerValue(LabelBotFarmer))
	assert.Equal(t, 0.5, PlayerValue("unheard_of"))
	assert.Equal(t, 1.0, LabelBotScore(LabelBotFarmer))
	assert.Zero(t, LabelBotScore(LabelElitePvP))
}

func TestFit(t *testing.T) {
	stats := append(population(40, 9), PlayerStats{Login: "lurker", TotalBattles: 1, Time: timepattern.Features{TotalBattles: 1}})

	m, err := Fit(stats, 30, DefaultSeed, fixedNow)
	require.NoError(t, err)

	assert.Equal(t, 40, m.Meta.Players)
	assert.Equal(t, MaxClusters, m.Meta.Clusters)
	assert.Len(t, m.KMeans.Centers, MaxClusters)
	assert.Len(t, m.Labels, MaxClusters)
	assert.Len(t, m.Scaler.Mean, KMeansDims)
	assert.Equal(t, fixedNow, m.Meta.TrainedAt)

	again, err := Fit(stats, 30, DefaultSeed, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, m, again)

	for _, s := range stats[:40] {
		v := Detect(m, s)
		assert.GreaterOrEqual(t, v.BotProbability, 0.0)
		assert.LessOrEqual(t, v.BotProbability, 1.0)
	}
}

func TestFitNeedsActivePlayers(t *testing.T) {
	_, err := Fit(population(1, 1), 30, DefaultSeed, fixedNow)
	assert.True(t, failures.Is(err, failures.KindValidation))
}

func TestVectorsHaveFixedWidth(t *testing.T) {
	s := humanStats()
	assert.Len(t, KMeansVector(s), KMeansDims)
	assert.Len(t, IForestVector(s), IForestDims)

	zero := PlayerStats{}
	for _, v := range append(KMeansVector(zero), IForestVector(zero)...) {
		assert.False(t, math.IsNaN(v))
	}
}

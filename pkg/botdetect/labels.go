package botdetect

// Playstyle labels.
const (
	LabelBotFarmer     = "bot_farmer"
	LabelElitePvP      = "elite_pvp"
	LabelAggressivePvP = "aggressive_pvp"
	LabelAssassin      = "assassin"
	LabelTank          = "tank"
	LabelSupport       = "support"
	LabelSafeFarmer    = "safe_farmer"
	LabelNovice        = "novice"
	LabelGrinder       = "grinder"
	LabelBalanced      = "balanced"
)

// labelBotScores is the bot contribution of each playstyle. Missing labels score 0.
var labelBotScores = map[string]float64{
	LabelBotFarmer:  1.0,
	LabelGrinder:    0.5,
	LabelSafeFarmer: 0.3,
	LabelNovice:     0.1,
}

var playerValues = map[string]float64{
	LabelElitePvP:      1.0,
	LabelAggressivePvP: 0.9,
	LabelAssassin:      0.8,
	LabelTank:          0.7,
	LabelSupport:       0.7,
	LabelGrinder:       0.6,
	LabelBalanced:      0.5,
	LabelSafeFarmer:    0.4,
	LabelNovice:        0.3,
	LabelBotFarmer:     0.0,
}

// LabelBotScore returns the bot score of a playstyle label.
func LabelBotScore(label string) float64 {
	return labelBotScores[label]
}

// PlayerValue returns the retention value of a playstyle label, 0.5 when unknown.
func PlayerValue(label string) float64 {
	if v, ok := playerValues[label]; ok {
		return v
	}
	return 0.5
}

// LabelCluster names a cluster from the mean of its unscaled playstyle vectors.
// Rules are checked in priority order.
func LabelCluster(mean []float64) string {
	pvp := mean[kmPvPRatio]
	surv := mean[kmSurvival]
	pve := mean[kmAvgPve]
	killRatio := mean[kmKillRatio]
	total := mean[kmTotal]
	active := mean[kmActive]
	kpp := mean[kmKillsPerPvP]
	pvpSurv := mean[kmPvPSurvival]
	dmg := mean[kmPvPDamage]

	switch {
	case pvp < 0.05 && total > 0.5 && active > 0.8:
		return LabelBotFarmer
	case pvp > 0.5 && kpp > 0.4 && pvpSurv > 0.6:
		return LabelElitePvP
	case pvp > 0.4 && kpp > 0.2:
		return LabelAggressivePvP
	case killRatio > 0.5 && surv > 0.5:
		return LabelAssassin
	case surv > 0.8 && dmg < 0.2 && pvp > 0.2:
		return LabelTank
	case pvp > 0.2 && kpp < 0.1 && surv > 0.6:
		return LabelSupport
	case pvp < 0.1 && surv > 0.9:
		return LabelSafeFarmer
	case total < 0.02 && pve < 0.1:
		return LabelNovice
	case total > 0.3:
		return LabelGrinder
	default:
		return LabelBalanced
	}
}

// labelClusters computes each cluster's mean over the unscaled rows and names it.
func labelClusters(raw [][]float64, assignment []int, k int) []string {
	sums := make([][]float64, k)
	counts := make([]int, k)
	for c := range sums {
		sums[c] = make([]float64, KMeansDims)
	}
	for i, row := range raw {
		c := assignment[i]
		counts[c]++
		for j, v := range row {
			sums[c][j] += v
		}
	}

	labels := make([]string, k)
	for c := range labels {
		if counts[c] == 0 {
			labels[c] = LabelBalanced
			continue
		}
		for j := range sums[c] {
			sums[c][j] /= float64(counts[c])
		}
		labels[c] = LabelCluster(sums[c])
	}
	return labels
}

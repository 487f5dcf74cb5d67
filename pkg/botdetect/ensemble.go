package botdetect

import "time"

const (
	weightCritical = 0.50
	weightAnomaly  = 0.30
	weightKMeans   = 0.20

	// CriticalOverride is the critical score that forces a verdict on its own.
	CriticalOverride = 0.90
	BotThreshold     = 0.5
)

// Confidence buckets.
const (
	BucketHigh       = "high_confidence"
	BucketMediumHigh = "medium_high"
	BucketMedium     = "medium"
	BucketClean      = "clean"
)

// Verdict sources.
const (
	SourceEnsemble = "ensemble"
	SourceRules    = "rules"
)

// Metadata describes a trained model.
type Metadata struct {
	Version    int
	TrainedAt  time.Time
	Players    int
	WindowDays int
	Clusters   int
	Seed       uint64
}

// Model is the trained ensemble. It is immutable once built.
type Model struct {
	Scaler Scaler
	KMeans KMeans
	Labels []string
	Forest IsolationForest
	Meta   Metadata
}

// Verdict is the bot assessment of one player.
type Verdict struct {
	Login          string     `json:"login"`
	BotProbability float64    `json:"bot_probability"`
	IsBot          bool       `json:"is_bot"`
	Confidence     string     `json:"confidence"`
	Source         string     `json:"source"`
	ModelMissing   bool       `json:"model_missing,omitempty"`
	Ensemble       *Breakdown `json:"ensemble,omitempty"`
	Rules          RuleResult `json:"rules"`
}

// Breakdown is the ensemble decomposition of a verdict.
type Breakdown struct {
	Critical           float64 `json:"critical"`
	AnomalyProbability float64 `json:"anomaly_probability"`
	AnomalyScore       float64 `json:"anomaly_score"`
	Prediction         int     `json:"prediction"`
	Cluster            int     `json:"cluster"`
	Label              string  `json:"label"`
	ClusterConfidence  float64 `json:"cluster_confidence"`
	KMeansBotScore     float64 `json:"kmeans_bot_score"`
	BotProbability     float64 `json:"bot_probability"`
}

// Fuse combines the three ensemble signals into a probability in [0, 1].
func Fuse(critical, anomaly, kmeansBot float64) float64 {
	p := weightCritical*critical + weightAnomaly*anomaly + weightKMeans*kmeansBot
	if critical >= CriticalOverride {
		p = max(p, critical)
	}
	return clamp01(p)
}

func ConfidenceBucket(p float64) string {
	switch {
	case p >= 0.85:
		return BucketHigh
	case p >= 0.70:
		return BucketMediumHigh
	case p >= 0.50:
		return BucketMedium
	}
	return BucketClean
}

// Classify runs the playstyle clusterer alone.
func (m *Model) Classify(s PlayerStats) (cluster int, label string, confidence float64) {
	cluster, confidence = m.KMeans.Predict(m.Scaler.Transform(KMeansVector(s)))
	if cluster < 0 || cluster >= len(m.Labels) {
		return cluster, LabelBalanced, 0
	}
	return cluster, m.Labels[cluster], confidence
}

// Breakdown scores a player with every ensemble component.
func (m *Model) Breakdown(s PlayerStats) Breakdown {
	var b Breakdown
	b.Critical = Critical(s.Time)
	b.Prediction, b.AnomalyScore = m.Forest.Predict(IForestVector(s))
	b.AnomalyProbability = AnomalyProbability(b.AnomalyScore)
	b.Cluster, b.Label, b.ClusterConfidence = m.Classify(s)
	b.KMeansBotScore = LabelBotScore(b.Label)
	b.BotProbability = Fuse(b.Critical, b.AnomalyProbability, b.KMeansBotScore)
	return b
}

// Detect returns the verdict for one player. A nil model falls back to the rule model.
// When both run, the ensemble decides IsBot and both decompositions are reported.
// Players whose time pattern is too short to score are clean with probability 0.
func Detect(m *Model, s PlayerStats) Verdict {
	v := Verdict{Login: s.Login, Rules: ScoreRules(s)}

	if !s.Time.Scored() {
		v.Source = SourceEnsemble
		if m == nil {
			v.Source = SourceRules
			v.ModelMissing = true
		}
		v.Confidence = ConfidenceBucket(0)
		return v
	}

	if m == nil {
		v.Source = SourceRules
		v.ModelMissing = true
		v.BotProbability = v.Rules.Score
		v.IsBot = v.Rules.IsBot
		v.Confidence = ConfidenceBucket(v.BotProbability)
		return v
	}

	b := m.Breakdown(s)
	v.Source = SourceEnsemble
	v.Ensemble = &b
	v.BotProbability = b.BotProbability
	v.IsBot = b.BotProbability >= BotThreshold
	v.Confidence = ConfidenceBucket(b.BotProbability)
	return v
}

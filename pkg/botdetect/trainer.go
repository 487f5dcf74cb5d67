package botdetect

import (
	"context"
	"math/rand/v2"
	"time"

	"tzlogs/pkg/failures"
)

const (
	DefaultSeed        uint64 = 42
	MinTrainingPlayers        = 2
)

// InputSource provides per player aggregates for a window.
type InputSource interface {
	PlayerStats(ctx context.Context, since time.Time, windowDays int) ([]PlayerStats, error)
}

type TrainerDeps struct {
	Source InputSource
	Store  *Store
	Seed   uint64
	Now    func() time.Time
}

// Trainer fits new models from stored battles and publishes them.
type Trainer struct {
	source InputSource
	store  *Store
	seed   uint64
	now    func() time.Time
}

func NewTrainer(deps TrainerDeps) *Trainer {
	t := &Trainer{source: deps.Source, store: deps.Store, seed: deps.Seed, now: deps.Now}
	if t.seed == 0 {
		t.seed = DefaultSeed
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t
}

// Train fits a model on the active players of the last windowDays and swaps it in.
func (t *Trainer) Train(ctx context.Context, windowDays int) (*Model, error) {
	now := t.now()
	since := now.AddDate(0, 0, -windowDays)

	stats, err := t.source.PlayerStats(ctx, since, windowDays)
	if err != nil {
		return nil, err
	}

	m, err := Fit(stats, windowDays, t.seed, now)
	if err != nil {
		return nil, err
	}
	if err := t.store.Publish(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Fit builds a model from player aggregates. Players with too few battles to carry a
// time pattern are left out.
func Fit(stats []PlayerStats, windowDays int, seed uint64, now time.Time) (*Model, error) {
	var active []PlayerStats
	for _, s := range stats {
		if s.Time.Scored() {
			active = append(active, s)
		}
	}
	if len(active) < MinTrainingPlayers {
		return nil, failures.Newf(failures.KindValidation, "botdetect.Fit", "need at least %d active players, got %d", MinTrainingPlayers, len(active))
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	raw := make([][]float64, len(active))
	anomaly := make([][]float64, len(active))
	for i, s := range active {
		raw[i] = KMeansVector(s)
		anomaly[i] = IForestVector(s)
	}

	scaler := FitScaler(raw)
	scaled := scaler.TransformAll(raw)
	k := min(MaxClusters, len(active))
	km := FitKMeans(scaled, k, rng)

	return &Model{
		Scaler: scaler,
		KMeans: km,
		Labels: labelClusters(raw, km.Assign(scaled), len(km.Centers)),
		Forest: FitIsolationForest(anomaly, rng),
		Meta: Metadata{
			Version:    int(ArtifactVersion),
			TrainedAt:  now.UTC(),
			Players:    len(active),
			WindowDays: windowDays,
			Clusters:   len(km.Centers),
			Seed:       seed,
		},
	}, nil
}

package botdetect

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tzlogs/pkg/failures"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func trainedModel(t *testing.T, players int) *Model {
	t.Helper()
	m, err := Fit(population(players, uint64(players)), 30, DefaultSeed, fixedNow)
	require.NoError(t, err)
	return m
}

func TestArtifactRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "bot.tzbm")
	m := trainedModel(t, 20)

	require.NoError(t, Save(path, m))
	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, m.Meta, loaded.Meta)
	assert.Equal(t, m.Labels, loaded.Labels)
	for _, s := range population(10, 77) {
		assert.Equal(t, Detect(m, s), Detect(loaded, s))
	}
}

func TestDecodeRejectsOtherVersions(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(artifactMagic[:])
	require.NoError(t, binary.Write(&buf, binary.BigEndian, ArtifactVersion+1))

	_, err := Decode(&buf)
	assert.ErrorIs(t, err, ErrArtifactVersion)

	_, err = Decode(bytes.NewReader([]byte("PK\x03\x04garbage")))
	assert.Error(t, err)
}

func TestLoadMissingArtifact(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.tzbm"))
	assert.True(t, failures.Is(err, failures.KindModelMissing))
}

func TestStoreReloadsChangedArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.tzbm")
	store := NewStore(path)
	clock := fixedNow
	store.now = func() time.Time { return clock }

	_, err := store.Current()
	require.True(t, failures.Is(err, failures.KindModelMissing))

	first := trainedModel(t, 20)
	require.NoError(t, store.Publish(first))

	got, err := store.Current()
	require.NoError(t, err)
	assert.Same(t, first, got)

	second := trainedModel(t, 25)
	require.NoError(t, Save(path, second))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	got, err = store.Current()
	require.NoError(t, err)
	assert.Same(t, first, got)

	clock = clock.Add(2 * DefaultReloadInterval)
	got, err = store.Current()
	require.NoError(t, err)
	assert.Equal(t, 25, got.Meta.Players)
}

func TestStoreKeepsModelWhenFileDisappears(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.tzbm")
	store := NewStore(path)
	clock := fixedNow
	store.now = func() time.Time { return clock }

	m := trainedModel(t, 20)
	require.NoError(t, store.Publish(m))
	require.NoError(t, os.Remove(path))

	clock = clock.Add(2 * DefaultReloadInterval)
	got, err := store.Current()
	require.NoError(t, err)
	assert.Same(t, m, got)
}

type sourceMock struct {
	mock.Mock
}

func (m *sourceMock) PlayerStats(ctx context.Context, since time.Time, windowDays int) ([]PlayerStats, error) {
	args := m.Called(ctx, since, windowDays)
	stats, _ := args.Get(0).([]PlayerStats)
	return stats, args.Error(1)
}

func TestTrainerPublishes(t *testing.T) {
	ctx := context.Background()
	source := new(sourceMock)
	store := NewStore(filepath.Join(t.TempDir(), "bot.tzbm"))

	source.On("PlayerStats", ctx, fixedNow.AddDate(0, 0, -30), 30).Return(population(30, 4), nil)

	trainer := NewTrainer(TrainerDeps{
		Source: source,
		Store:  store,
		Now:    func() time.Time { return fixedNow },
	})

	m, err := trainer.Train(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 30, m.Meta.Players)
	assert.Equal(t, DefaultSeed, m.Meta.Seed)

	current, err := store.Current()
	require.NoError(t, err)
	assert.Same(t, m, current)
	source.AssertExpectations(t)
}

func TestTrainerPropagatesSourceErrors(t *testing.T) {
	ctx := context.Background()
	source := new(sourceMock)
	source.On("PlayerStats", ctx, mock.Anything, 7).Return(nil, failures.Newf(failures.KindStorage, "test", "db down"))

	trainer := NewTrainer(TrainerDeps{Source: source, Store: NewStore(filepath.Join(t.TempDir(), "m"))})

	_, err := trainer.Train(ctx, 7)
	assert.True(t, failures.Is(err, failures.KindStorage))
}

package ingestservice

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"tzlogs/api/dto"
	"tzlogs/internal/testutil"
	"tzlogs/pkg/battlelog"
	"tzlogs/pkg/failures"
	"tzlogs/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type battleStoreMock struct {
	mock.Mock

	// Paths already recorded as storage keys.
	stored map[string]bool
}

func (m *battleStoreMock) FindUnprocessedFiles(_ context.Context, paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		if !m.stored[p] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *battleStoreMock) UpsertBattle(ctx context.Context, rec *battlelog.Record) (uint64, error) {
	args := m.Called(ctx, rec)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *battleStoreMock) MarkArchived(ctx context.Context, battleID int64, storageKey string) error {
	args := m.Called(ctx, battleID, storageKey)
	return args.Error(0)
}

type invalidatorMock struct {
	mock.Mock
}

func (m *invalidatorMock) Invalidate(ctx context.Context, prefix string) error {
	return m.Called(ctx, prefix).Error(0)
}

func newTestService(t *testing.T, store BattleStore, cache CacheInvalidator) (*IngestService, storage.Layout) {
	t.Helper()

	root := t.TempDir()
	layout := storage.Layout{RawRoot: filepath.Join(root, "raw"), GzRoot: filepath.Join(root, "gz")}

	return NewIngestService(IngestServiceDeps{
		Layout:   layout,
		Battles:  store,
		Archiver: storage.NewArchiver(layout, nil, ""),
		Cache:    cache,
	}), layout
}

func TestUpload(t *testing.T) {
	service, layout := newTestService(t, &battleStoreMock{}, nil)

	reply, err := service.Upload(50001, []byte(testutil.FakeBlook(50001)))
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.Equal(t, int64(1), reply.Shard)
	assert.Equal(t, layout.RawPath(50001), reply.FilePath)
	assert.Equal(t, int64(len(testutil.FakeBlook(50001))), reply.SizeBytes)

	stored, err := os.ReadFile(reply.FilePath)
	require.NoError(t, err)
	assert.Equal(t, testutil.FakeBlook(50001), string(stored))

	tests := []struct {
		name string
		id   int64
		body []byte
	}{
		{name: "zero id", id: 0, body: []byte("x")},
		{name: "negative id", id: -4, body: []byte("x")},
		{name: "empty body", id: 7, body: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Upload(tt.id, tt.body)
			assert.True(t, failures.Is(err, failures.KindValidation))
		})
	}
}

func TestStreamGz(t *testing.T) {
	service, _ := newTestService(t, &battleStoreMock{}, nil)

	_, err := service.Upload(12, []byte("<BLOOK>payload</BLOOK>"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, service.StreamGz("12.tzb.gz", &buf))

	zr, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "<BLOOK>payload</BLOOK>", string(plain))

	err = service.StreamGz("13.tzb.gz", io.Discard)
	assert.True(t, failures.Is(err, failures.KindNotFound))

	err = service.StreamGz("notanid", io.Discard)
	assert.True(t, failures.Is(err, failures.KindValidation))
}

func TestProcessBatch(t *testing.T) {
	store := &battleStoreMock{}
	cache := &invalidatorMock{}
	service, layout := newTestService(t, store, cache)

	for _, id := range []int64{1, 2, 3} {
		_, err := service.Upload(id, []byte(testutil.FakeBlook(id)))
		require.NoError(t, err)
	}
	_, err := service.Upload(4, []byte("<BLOOK>no battle here</BLOOK>"))
	require.NoError(t, err)

	store.On("UpsertBattle", mock.Anything, mock.MatchedBy(func(rec *battlelog.Record) bool {
		return rec.BattleID == 1 || rec.BattleID == 3
	})).Return(uint64(1), nil)
	failed := testutil.StorageFailure[uint64]("battle.Upsert")
	store.On("UpsertBattle", mock.Anything, mock.MatchedBy(func(rec *battlelog.Record) bool {
		return rec.BattleID == 2
	})).Return(failed.Data, failed.Err)
	store.On("MarkArchived", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	cache.On("Invalidate", mock.Anything, "analytics:").Return(nil).Once()

	summary, err := service.ProcessBatch(context.Background(), 10, 2)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Pending)
	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 2, summary.Stored)
	assert.Equal(t, 1, summary.Quarantined)
	assert.Equal(t, 1, summary.Failed)

	statuses := make(map[int64]dto.ProcessResult)
	for _, r := range summary.Results {
		statuses[r.BattleID] = r
	}
	assert.Equal(t, dto.ProcessStored, statuses[1].Status)
	assert.True(t, statuses[1].Archived)
	assert.Equal(t, dto.ProcessFailed, statuses[2].Status)
	assert.Equal(t, dto.ProcessQuarantined, statuses[4].Status)

	// Stored logs moved to gz, the failed one waits for the next drain.
	assert.NoFileExists(t, layout.RawPath(1))
	assert.FileExists(t, layout.GzPath(1))
	assert.FileExists(t, layout.RawPath(2))
	assert.FileExists(t, filepath.Join(layout.RawRoot, storage.FailedDir, "4.tzb"))

	store.AssertCalled(t, "MarkArchived", mock.Anything, int64(3), layout.GzPath(3))
	cache.AssertExpectations(t)

	// Only the failed log is left.
	remaining, err := layout.ListRaw()
	require.NoError(t, err)
	assert.Equal(t, []string{layout.RawPath(2)}, remaining)
}

func TestProcessBatchLimit(t *testing.T) {
	store := &battleStoreMock{}
	service, layout := newTestService(t, store, nil)

	for _, id := range []int64{5, 6, 7} {
		_, err := service.Upload(id, []byte(testutil.FakeBlook(id)))
		require.NoError(t, err)
	}
	store.On("UpsertBattle", mock.Anything, mock.Anything).Return(uint64(1), nil)
	store.On("MarkArchived", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	summary, err := service.ProcessBatch(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Pending)
	assert.Equal(t, 2, summary.Processed)

	remaining, err := layout.ListRaw()
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestProcessBatchUsesFileID(t *testing.T) {
	store := &battleStoreMock{}
	service, _ := newTestService(t, store, nil)

	// Header says 999, the file was requested as 8.
	_, err := service.Upload(8, []byte(testutil.FakeBlook(999)))
	require.NoError(t, err)

	store.On("UpsertBattle", mock.Anything, mock.MatchedBy(func(rec *battlelog.Record) bool {
		return rec.BattleID == 8
	})).Return(uint64(1), nil)
	store.On("MarkArchived", mock.Anything, int64(8), mock.Anything).Return(nil)

	summary, err := service.ProcessBatch(context.Background(), 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)
	store.AssertExpectations(t)
}

func TestProcessBatchRearchivesStoredLogs(t *testing.T) {
	store := &battleStoreMock{}
	service, layout := newTestService(t, store, nil)

	for _, id := range []int64{9, 10} {
		_, err := service.Upload(id, []byte(testutil.FakeBlook(id)))
		require.NoError(t, err)
	}
	// Battle 9 was stored by an earlier drain that failed to archive it.
	store.stored = map[string]bool{layout.RawPath(9): true}

	store.On("UpsertBattle", mock.Anything, mock.MatchedBy(func(rec *battlelog.Record) bool {
		return rec.BattleID == 10
	})).Return(uint64(2), nil).Once()
	store.On("MarkArchived", mock.Anything, int64(9), layout.GzPath(9)).Return(nil).Once()
	store.On("MarkArchived", mock.Anything, int64(10), layout.GzPath(10)).Return(nil).Once()

	summary, err := service.ProcessBatch(context.Background(), 10, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pending)
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 1, summary.Rearchived)

	assert.NoFileExists(t, layout.RawPath(9))
	assert.FileExists(t, layout.GzPath(9))
	store.AssertExpectations(t)
}

func TestStoredPaths(t *testing.T) {
	all := []string{"a", "b", "c", "d"}
	assert.Equal(t, []string{"b", "d"}, stored(all, []string{"a", "c"}))
	assert.Equal(t, all, stored(all, nil))
	assert.Empty(t, stored(all, all))
}

package worker

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"tzlogs/fetcher/requests"
	"tzlogs/fetcher/session"
	"tzlogs/internal/testutil"
	"tzlogs/pkg/fetchapi"
	"tzlogs/pkg/logger"
	"tzlogs/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type uploaderMock struct {
	mock.Mock
}

func (m *uploaderMock) Enabled() bool {
	return true
}

func (m *uploaderMock) Upload(ctx context.Context, battleID int64, payload []byte) (*requests.UploadReply, error) {
	args := m.Called(ctx, battleID, payload)
	reply, _ := args.Get(0).(*requests.UploadReply)
	return reply, args.Error(1)
}

func newService(t *testing.T, up *testutil.FakeUpstream, uploader Uploader) (*BatchService, storage.Layout) {
	t.Helper()

	layout := storage.Layout{RawRoot: t.TempDir(), GzRoot: t.TempDir()}
	cfg := session.Config{
		Addr:        up.Addr(),
		Login:       "bot",
		Key:         "secret",
		DialTimeout: 2 * time.Second,
		HardTimeout: time.Second,
	}

	svc := NewBatchService(BatchServiceDeps{
		Open:     SessionOpener(cfg, logger.NewNop()),
		Layout:   layout,
		Uploader: uploader,
	})
	require.NoError(t, svc.Validate())
	return svc, layout
}

func statuses(resp fetchapi.BatchResponse) []string {
	out := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, r.Status)
	}
	return out
}

func TestFetchBatchRecoversFromOneDrop(t *testing.T) {
	up := testutil.NewFakeUpstream(t)
	up.DropOn(100, 1)
	svc, layout := newService(t, up, nil)

	resp := svc.FetchBatch(context.Background(), fetchapi.BatchRequest{BattleIDs: []int64{100, 101}})

	assert.Equal(t, []string{fetchapi.StatusSuccess, fetchapi.StatusSuccess}, statuses(resp))
	assert.Equal(t, 2, resp.Success)
	assert.Equal(t, 2, up.Logins(), "one reauthentication")
	assert.Equal(t, int64(2), svc.SessionsOpened())

	for _, id := range []int64{100, 101} {
		data, err := os.ReadFile(layout.RawPath(id))
		require.NoError(t, err)
		assert.Equal(t, testutil.FakeBlook(id), string(data))
	}
	require.NotNil(t, resp.Results[0].SizeBytes)
	assert.Equal(t, int64(len(testutil.FakeBlook(100))), *resp.Results[0].SizeBytes)
}

func TestFetchBatchSecondDropFailsOnlyThatID(t *testing.T) {
	up := testutil.NewFakeUpstream(t)
	up.DropOn(100, 2)
	svc, _ := newService(t, up, nil)

	resp := svc.FetchBatch(context.Background(), fetchapi.BatchRequest{BattleIDs: []int64{100, 101}})

	assert.Equal(t, []string{fetchapi.StatusFailed, fetchapi.StatusSuccess}, statuses(resp))
	assert.Equal(t, 2, up.Fetches(100), "retried exactly once")
	assert.Equal(t, 1, up.Fetches(101))
	assert.Equal(t, 3, up.Logins(), "the next id runs on a fresh session")
	assert.NotEmpty(t, resp.Results[0].Error)
}

func TestFetchBatchRejectedLoginFailsBatch(t *testing.T) {
	up := testutil.NewFakeUpstream(t)
	up.RejectLogins()
	svc, _ := newService(t, up, nil)

	resp := svc.FetchBatch(context.Background(), fetchapi.BatchRequest{BattleIDs: []int64{1, 2, 3}})

	assert.Equal(t, 3, resp.Failed)
	assert.Equal(t, int64(0), svc.SessionsOpened())
	for _, r := range resp.Results {
		assert.Contains(t, r.Error, "rejected")
	}
	assert.Zero(t, up.Fetches(1))
}

func TestFetchBatchTimeout(t *testing.T) {
	up := testutil.NewFakeUpstream(t)
	up.Silence(5)
	svc, _ := newService(t, up, nil)

	resp := svc.FetchBatch(context.Background(), fetchapi.BatchRequest{BattleIDs: []int64{5, 6}})

	assert.Equal(t, []string{fetchapi.StatusTimeout, fetchapi.StatusSuccess}, statuses(resp))
	assert.Equal(t, 1, resp.Timeout)
	assert.Equal(t, 1, up.Fetches(5), "timeouts are not retried")
	assert.Equal(t, 2, up.Logins())
}

func TestFetchBatchUploads(t *testing.T) {
	up := testutil.NewFakeUpstream(t)
	uploader := &uploaderMock{}
	uploader.On("Upload", mock.Anything, int64(10), []byte(testutil.FakeBlook(10))).
		Return(&requests.UploadReply{OK: true, BattleID: 10}, nil).Once()
	uploader.On("Upload", mock.Anything, int64(11), mock.Anything).
		Return(nil, errors.New("aggregator down")).Once()
	svc, _ := newService(t, up, uploader)

	resp := svc.FetchBatch(context.Background(), fetchapi.BatchRequest{BattleIDs: []int64{10, 11}, UploadToMother: true})

	assert.Equal(t, 2, resp.Success)
	assert.True(t, resp.Results[0].UploadedToMother)
	assert.False(t, resp.Results[1].UploadedToMother)
	uploader.AssertExpectations(t)
}

func TestFetchBatchSkipsUploadWhenNotAsked(t *testing.T) {
	up := testutil.NewFakeUpstream(t)
	uploader := &uploaderMock{}
	svc, _ := newService(t, up, uploader)

	resp := svc.FetchBatch(context.Background(), fetchapi.BatchRequest{BattleIDs: []int64{10}})

	assert.Equal(t, 1, resp.Success)
	uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
}

func TestFetchBatchCancelledDuringDelay(t *testing.T) {
	up := testutil.NewFakeUpstream(t)
	svc, _ := newService(t, up, nil)

	ctx, cancel := context.WithCancel(context.Background())
	delay := 5.0
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	resp := svc.FetchBatch(ctx, fetchapi.BatchRequest{BattleIDs: []int64{1, 2, 3}, DelaySeconds: &delay})

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, []string{fetchapi.StatusSuccess}, statuses(resp))
	assert.Equal(t, 1, resp.Total)
	assert.Zero(t, resp.Failed)
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, NewBatchService(BatchServiceDeps{}).Validate(), ErrNoOpener)
}

package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tzlogs/api/cache"
	"tzlogs/api/handlers"
	analyticsservice "tzlogs/api/services/analytics"
	ingestservice "tzlogs/api/services/ingest"
	"tzlogs/pkg/battlelog"
	"tzlogs/pkg/botdetect"
	"tzlogs/pkg/failures"
	"tzlogs/pkg/fetchapi"
	"tzlogs/pkg/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopStore struct{}

func (nopStore) UpsertBattle(context.Context, *battlelog.Record) (uint64, error) { return 1, nil }
func (nopStore) MarkArchived(context.Context, int64, string) error              { return nil }
func (nopStore) FindUnprocessedFiles(_ context.Context, paths []string) ([]string, error) {
	return paths, nil
}

type fakeSyncClient struct {
	busy bool
}

func (f *fakeSyncClient) SyncRange(_ context.Context, req *fetchapi.RangeRequest) (*fetchapi.StartReply, error) {
	if f.busy {
		return nil, failures.Newf(failures.KindConflict, "grpc.sync_range", "operation already in progress")
	}
	return &fetchapi.StartReply{Accepted: true, Operation: fetchapi.OperationRange, Total: int(req.End - req.Start + 1)}, nil
}

func (f *fakeSyncClient) SyncMissing(context.Context, *fetchapi.MissingRequest) (*fetchapi.StartReply, error) {
	return &fetchapi.StartReply{Accepted: true, Operation: fetchapi.OperationMissing}, nil
}

func (f *fakeSyncClient) SyncAutoContinue(context.Context, *fetchapi.AutoRequest) (*fetchapi.StartReply, error) {
	return &fetchapi.StartReply{Accepted: true, Operation: fetchapi.OperationAuto}, nil
}

func (f *fakeSyncClient) Abort(context.Context) (*fetchapi.StartReply, error) {
	return &fetchapi.StartReply{Accepted: true}, nil
}

func (f *fakeSyncClient) Progress(context.Context) (*fetchapi.Progress, error) {
	return &fetchapi.Progress{IsRunning: true, Done: 1, Total: 2}, nil
}

type fakeTrainer struct{}

func (fakeTrainer) Train(_ context.Context, windowDays int) (*botdetect.Model, error) {
	return &botdetect.Model{Meta: botdetect.Metadata{Version: 1, Players: 3, WindowDays: windowDays, Clusters: 2}}, nil
}

func setupTestRouter(t *testing.T, sync *fakeSyncClient) (*Router, storage.Layout) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	layout := storage.Layout{RawRoot: filepath.Join(root, "raw"), GzRoot: filepath.Join(root, "gz")}

	ingest := ingestservice.NewIngestService(ingestservice.IngestServiceDeps{
		Layout:   layout,
		Battles:  nopStore{},
		Archiver: storage.NewArchiver(layout, nil, ""),
	})

	mem := cache.NewMemCache()
	t.Cleanup(mem.Close)
	analytics := analyticsservice.NewAnalyticsService(analyticsservice.AnalyticsServiceDeps{
		Models:  botdetect.NewStore(filepath.Join(root, "model.gob")),
		Trainer: fakeTrainer{},
		Cache:   cache.NewTiered(mem, nil, time.Minute),
	})

	router := NewRouter(gin.New(), "token")
	router.SetupRoutes(
		handlers.NewIngestHandler(&handlers.IngestHandlerDependencies{IngestService: ingest}),
		handlers.NewAnalyticsHandler(&handlers.AnalyticsHandlerDependencies{AnalyticsService: analytics}),
		handlers.NewAdminHandler(&handlers.AdminHandlerDependencies{AnalyticsService: analytics, SyncClient: sync}),
	)
	return router, layout
}

func do(router *Router, method, path, body string, admin bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer token")
	}
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, req)
	return w
}

func TestNewRouter(t *testing.T) {
	router, _ := setupTestRouter(t, &fakeSyncClient{})

	assert.NotNil(t, router.api)
	w := do(router, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestIngestRoutes(t *testing.T) {
	router, layout := setupTestRouter(t, &fakeSyncClient{})

	w := do(router, http.MethodPost, "/upload/50012", "<BLOOK>payload</BLOOK>", false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var reply map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, true, reply["ok"])
	assert.Equal(t, float64(50012), reply["battle_id"])
	assert.Equal(t, float64(1), reply["shard"])
	assert.Equal(t, layout.RawPath(50012), reply["file_path"])

	w = do(router, http.MethodGet, "/gz/50012.tzb.gz", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{name: "upload zero id", method: http.MethodPost, path: "/upload/0", body: "x", code: http.StatusBadRequest},
		{name: "upload empty body", method: http.MethodPost, path: "/upload/7", code: http.StatusBadRequest},
		{name: "gz missing", method: http.MethodGet, path: "/gz/99.tzb.gz", code: http.StatusNotFound},
		{name: "gz bad name", method: http.MethodGet, path: "/gz/readme.txt", code: http.StatusBadRequest},
		{name: "process too parallel", method: http.MethodPost, path: "/process-batch?max_parallel=99", code: http.StatusBadRequest},
		{name: "process", method: http.MethodPost, path: "/process-batch?limit=10&max_parallel=2", code: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, tt.method, tt.path, tt.body, false)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestAdminRoutes(t *testing.T) {
	tests := []struct {
		name   string
		sync   *fakeSyncClient
		method string
		path   string
		body   string
		admin  bool
		code   int
	}{
		{name: "train needs token", method: http.MethodPost, path: "/api/v1/admin/models/train", code: http.StatusUnauthorized},
		{name: "train", method: http.MethodPost, path: "/api/v1/admin/models/train", body: `{"window_days":14}`, admin: true, code: http.StatusOK},
		{name: "train bad window", method: http.MethodPost, path: "/api/v1/admin/models/train", body: `{"window_days":900}`, admin: true, code: http.StatusBadRequest},
		{name: "progress", method: http.MethodGet, path: "/api/v1/admin/sync/progress", admin: true, code: http.StatusOK},
		{name: "range", method: http.MethodPost, path: "/api/v1/admin/sync/range", body: `{"start":1,"end":5}`, admin: true, code: http.StatusAccepted},
		{name: "range busy", sync: &fakeSyncClient{busy: true}, method: http.MethodPost, path: "/api/v1/admin/sync/range", body: `{"start":1,"end":5}`, admin: true, code: http.StatusConflict},
		{name: "missing", method: http.MethodPost, path: "/api/v1/admin/sync/missing", admin: true, code: http.StatusAccepted},
		{name: "abort", method: http.MethodPost, path: "/api/v1/admin/sync/abort", admin: true, code: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sync := tt.sync
			if sync == nil {
				sync = &fakeSyncClient{}
			}
			router, _ := setupTestRouter(t, sync)
			w := do(router, tt.method, tt.path, tt.body, tt.admin)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestAnalyticsValidation(t *testing.T) {
	router, _ := setupTestRouter(t, &fakeSyncClient{})

	w := do(router, http.MethodGet, "/api/v1/analytics/bots?window_days=400", "", false)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body["error"])
	assert.Contains(t, body["fields"], "window_days")

	w = do(router, http.MethodGet, "/api/v1/analytics/economy/miners", "", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

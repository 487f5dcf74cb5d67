package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tzlogs/pkg/apierror"
	"tzlogs/pkg/fetchapi"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	got *fetchapi.BatchRequest
}

func (f *fakeFetcher) FetchBatch(_ context.Context, req fetchapi.BatchRequest) fetchapi.BatchResponse {
	f.got = &req
	var resp fetchapi.BatchResponse
	for _, id := range req.BattleIDs {
		resp.Add(fetchapi.ItemResult{BattleID: id, Status: fetchapi.StatusSuccess})
	}
	return resp
}

func newEngine(f *fakeFetcher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(apierror.RequestID())
	NewBatchHandler(f, "w1", "bot").Register(engine)
	return engine
}

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	newEngine(&fakeFetcher{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var health fetchapi.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, fetchapi.Health{Status: "ok", WorkerID: "w1", Login: "bot"}, health)
}

func TestFetchBatchHandler(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		code    int
		success int
	}{
		{name: "valid", body: `{"battle_ids":[1,2],"delay_seconds":0.1}`, code: http.StatusOK, success: 2},
		{name: "empty ids", body: `{"battle_ids":[]}`, code: http.StatusBadRequest},
		{name: "negative id", body: `{"battle_ids":[-1]}`, code: http.StatusBadRequest},
		{name: "delay too long", body: `{"battle_ids":[1],"delay_seconds":61}`, code: http.StatusBadRequest},
		{name: "not json", body: `nope`, code: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &fakeFetcher{}
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/fetch_batch", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			newEngine(fetcher).ServeHTTP(w, req)

			assert.Equal(t, tt.code, w.Code)
			if tt.code != http.StatusOK {
				assert.Nil(t, fetcher.got)
				return
			}

			var resp fetchapi.BatchResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.success, resp.Success)
		})
	}
}

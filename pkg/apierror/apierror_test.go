package apierror

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tzlogs/pkg/failures"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleBody struct {
	BattleIDs  []int64 `json:"battle_ids" binding:"required,min=1"`
	WindowDays int     `json:"window_days" binding:"min=1,max=365"`
}

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RequestID())

	engine.POST("/bind", func(c *gin.Context) {
		var body sampleBody
		if err := c.ShouldBindJSON(&body); err != nil {
			BindFailed(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	engine.GET("/fail", func(c *gin.Context) {
		Respond(c, failures.Newf(failures.KindConflict, "sync", "operation already in progress"))
	})
	engine.GET("/admin", AdminToken("s3cret"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return engine
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestBindFailedListsFields(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/bind", strings.NewReader(`{"battle_ids":[],"window_days":0}`))
	req.Header.Set("Content-Type", "application/json")
	newEngine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "validation_error", body["error"])

	fields, ok := body["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "battle_ids")
	assert.Equal(t, "must be at least 1", fields["window_days"])
}

func TestRespondUsesKindStatus(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/fail", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	newEngine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	body := decode(t, w)
	assert.Equal(t, "conflict", body["error"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))
}

func TestAdminToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		code   int
	}{
		{name: "missing", code: http.StatusUnauthorized},
		{name: "wrong", header: "X-Admin-Token", value: "nope", code: http.StatusUnauthorized},
		{name: "header", header: "X-Admin-Token", value: "s3cret", code: http.StatusOK},
		{name: "bearer", header: "Authorization", value: "Bearer s3cret", code: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			newEngine().ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestToSnake(t *testing.T) {
	assert.Equal(t, "battle_ids", toSnake("BattleIDs"))
	assert.Equal(t, "window_days", toSnake("WindowDays"))
	assert.Equal(t, "end", toSnake("End"))
}

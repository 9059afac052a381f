package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok() Checker { return CheckerFunc(func(context.Context) error { return nil }) }

func down() Checker {
	return CheckerFunc(func(context.Context) error { return errors.New("connection refused") })
}

func TestCheck(t *testing.T) {
	resp := Check(context.Background(), map[string]Checker{"qdrant": ok(), "mongodb": ok()})
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, map[string]string{"qdrant": "connected", "mongodb": "connected"}, resp.Dependencies)
	assert.Equal(t, http.StatusOK, resp.StatusCode())

	resp = Check(context.Background(), map[string]Checker{"qdrant": ok(), "redis": down()})
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "disconnected", resp.Dependencies["redis"])
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode())
}

func TestNewHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(map[string]Checker{"qdrant": down()}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.NotEmpty(t, resp.Timestamp)
}

package runtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/theumbrella1/agentcore/pkg/health"
)

func getPing(t *testing.T, app *App) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	app.handlePing(w, req)
	return w
}

func TestPingHealthy(t *testing.T) {
	app := newTestApp(t, Options{})

	w := getPing(t, app)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	doc := decodeBody(t, w)
	assert.Equal(t, "Healthy", doc["status"])
	assert.Greater(t, doc["time_of_last_update"], float64(0))
}

func TestPingBusyWhileTaskActive(t *testing.T) {
	app := newTestApp(t, Options{})

	id := app.AddTask("reindex", nil)
	assert.Equal(t, "HealthyBusy", decodeBody(t, getPing(t, app))["status"])

	assert.True(t, app.CompleteTask(id))
	assert.Equal(t, "Healthy", decodeBody(t, getPing(t, app))["status"])
}

func TestPingCustomProbe(t *testing.T) {
	app := newTestApp(t, Options{})
	app.RegisterPingProbe(func(ctx context.Context) (health.Status, error) {
		return health.StatusHealthyBusy, nil
	})

	assert.Equal(t, "HealthyBusy", decodeBody(t, getPing(t, app))["status"])
}

func TestPingProbeErrorFallsBack(t *testing.T) {
	app := newTestApp(t, Options{})
	app.RegisterPingProbe(func(ctx context.Context) (health.Status, error) {
		return "", errors.New("probe offline")
	})

	assert.Equal(t, "Healthy", decodeBody(t, getPing(t, app))["status"])
}

func TestPingMethodNotAllowed(t *testing.T) {
	app := newTestApp(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/ping", nil)
	w := httptest.NewRecorder()
	app.handlePing(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

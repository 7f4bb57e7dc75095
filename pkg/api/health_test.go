package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cuemby/castlehub/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore answers Ping with a fixed error
type fakeStore struct {
	err error
}

func (s fakeStore) Ping() error {
	return s.err
}

func serve(hs *HealthServer, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) metrics.HealthStatus {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var status metrics.HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	return status
}

func TestHealthServer_MethodValidation(t *testing.T) {
	hs := NewHealthServer(fakeStore{})

	for _, path := range []string{"/health", "/ready"} {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
			t.Run(method+" "+path, func(t *testing.T) {
				w := serve(hs, method, path)
				assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
			})
		}
	}
}

func TestHealthServer_Ready(t *testing.T) {
	metrics.RegisterComponent("terraform", true, "")
	hs := NewHealthServer(fakeStore{})

	w := serve(hs, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)
	status := decode(t, w)
	assert.Equal(t, "ready", status.Status)
	assert.Equal(t, "ready", status.Components["store"])
	assert.Equal(t, "ready", status.Components["terraform"])

	w = serve(hs, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w).Status)
}

func TestHealthServer_StoreFailure(t *testing.T) {
	metrics.RegisterComponent("terraform", true, "")
	hs := NewHealthServer(fakeStore{err: errors.New("database not open")})

	w := serve(hs, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	status := decode(t, w)
	assert.Equal(t, "not_ready", status.Status)
	assert.Contains(t, status.Components["store"], "database not open")

	w = serve(hs, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", decode(t, w).Status)

	// The next probe clears the failure
	healthy := NewHealthServer(fakeStore{})
	assert.Equal(t, http.StatusOK, serve(healthy, http.MethodGet, "/ready").Code)
}

func TestHealthServer_TerraformUnavailable(t *testing.T) {
	metrics.RegisterComponent("terraform", false, "executable file not found")
	t.Cleanup(func() { metrics.RegisterComponent("terraform", true, "") })
	hs := NewHealthServer(fakeStore{})

	w := serve(hs, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decode(t, w).Message, "terraform")
}

func TestHealthServer_Metrics(t *testing.T) {
	metrics.ReconciliationCyclesTotal.Inc()
	hs := NewHealthServer(nil)

	w := serve(hs, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "castlehub_reconciliation_cycles_total"))
}

func TestHealthServer_Concurrency(t *testing.T) {
	metrics.RegisterComponent("terraform", true, "")
	hs := NewHealthServer(fakeStore{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			serve(hs, http.MethodGet, "/health")
		}()
		go func() {
			defer wg.Done()
			serve(hs, http.MethodGet, "/ready")
		}()
	}
	wg.Wait()

	assert.Equal(t, http.StatusOK, serve(hs, http.MethodGet, "/ready").Code)
}

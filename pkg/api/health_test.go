package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/dbfleet/pkg/metrics"
)

type fakeLeader struct {
	leader bool
	addr   string
}

func (f fakeLeader) IsLeader() bool     { return f.leader }
func (f fakeLeader) LeaderAddr() string { return f.addr }

func markHealthy() {
	for _, name := range metrics.CriticalComponents {
		metrics.UpdateComponent(name, true, "ok")
	}
}

// TestHealthHandler tests the /health endpoint
func TestHealthHandler(t *testing.T) {
	markHealthy()
	s := NewServer(Options{Store: newFakeStore()})

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{
			name:           "GET request succeeds",
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "POST request fails",
			method:         http.MethodPost,
			expectedStatus: http.StatusMethodNotAllowed,
		},
		{
			name:           "DELETE request fails",
			method:         http.MethodDelete,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			s.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus == http.StatusOK {
				var response metrics.HealthStatus
				require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
				assert.Equal(t, metrics.StatusHealthy, response.Status)
				assert.NotZero(t, response.Timestamp)
			}
		})
	}
}

// TestReadyHandler tests the /ready endpoint probes
func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name           string
		storeErr       error
		coordinator    any
		expectedStatus int
		component      string
		contains       string
	}{
		{
			name:           "store and leader ready",
			coordinator:    fakeLeader{leader: true},
			expectedStatus: http.StatusOK,
			component:      "coordinator",
			contains:       "ready",
		},
		{
			name:           "follower with a known leader is ready",
			coordinator:    fakeLeader{addr: "10.0.0.1:7946"},
			expectedStatus: http.StatusOK,
			component:      "store",
			contains:       "ready",
		},
		{
			name:           "no leader elected",
			coordinator:    fakeLeader{},
			expectedStatus: http.StatusServiceUnavailable,
			component:      "coordinator",
			contains:       "no leader elected",
		},
		{
			name:           "store failure",
			storeErr:       errors.New("disk gone"),
			expectedStatus: http.StatusServiceUnavailable,
			component:      "store",
			contains:       "disk gone",
		},
		{
			name:           "coordinator without leadership is not probed",
			coordinator:    struct{}{},
			expectedStatus: http.StatusOK,
			component:      "coordinator",
			contains:       "ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			markHealthy()
			store := newFakeStore()
			store.listErr = tt.storeErr
			s := NewServer(Options{Store: store, Coordinator: tt.coordinator})

			req := httptest.NewRequest(http.MethodGet, "/ready", nil)
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response metrics.HealthStatus
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Contains(t, response.Components[tt.component], tt.contains)
		})
	}
}

// TestLiveHandler tests the /live endpoint
func TestLiveHandler(t *testing.T) {
	s := NewServer(Options{Store: newFakeStore()})

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
}

// TestMetricsEndpoint tests that /metrics serves the registry
func TestMetricsEndpoint(t *testing.T) {
	s := NewServer(Options{Store: newFakeStore()})

	// One request first so the API counters have a sample
	s.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/live", nil))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dbfleet_api_requests_total")
}

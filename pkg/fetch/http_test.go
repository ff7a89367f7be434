package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/dbfleet/pkg/types"
)

type staticDirectory map[string]*types.Cluster

func (d staticDirectory) GetCluster(id string) (*types.Cluster, error) {
	c, ok := d[id]
	if !ok {
		return nil, errors.New("cluster not found: " + id)
	}
	return c, nil
}

func statusServer(t *testing.T, body string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultStatusPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHTTPFetcherAllAgents(t *testing.T) {
	a := statusServer(t, `{"node_id":"n1","role":"primary","health":"healthy","observed_at":"2026-01-01T00:00:00Z","payload_version":"v7"}`)
	b := statusServer(t, `{"node_id":"n2","group":"east","role":"secondary","health":"degraded","observed_at":"2026-01-01T00:00:01Z"}`)

	f := NewHTTPFetcher(staticDirectory{
		"c1": {ID: "c1", Agents: []string{a.URL, b.URL}},
	}, HTTPOptions{})

	reports, err := f.Fetch(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, "n1", reports[0].NodeID)
	assert.Equal(t, types.RolePrimary, reports[0].Role)
	assert.Equal(t, "v7", reports[0].PayloadVersion)
	assert.Equal(t, a.URL, reports[0].Address)

	assert.Equal(t, "east", reports[1].Group)
	assert.Equal(t, types.HealthDegraded, reports[1].Health)
	// missing payload version is derived from the body
	assert.Len(t, reports[1].PayloadVersion, 16)
}

func TestHTTPFetcherPartialFailure(t *testing.T) {
	ok := statusServer(t, `{"node_id":"n1","role":"primary","health":"healthy","observed_at":"2026-01-01T00:00:00Z"}`)
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	f := NewHTTPFetcher(staticDirectory{
		"c1": {ID: "c1", Agents: []string{ok.URL, broken.URL}},
	}, HTTPOptions{})

	reports, err := f.Fetch(context.Background(), "c1")
	require.Len(t, reports, 1)

	var partial *PartialError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{broken.URL}, partial.Agents())
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPFetcherAllFailed(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()

	f := NewHTTPFetcher(staticDirectory{
		"c1": {ID: "c1", Agents: []string{slow.URL}},
	}, HTTPOptions{Timeout: 20 * time.Millisecond})

	reports, err := f.Fetch(context.Background(), "c1")
	assert.Nil(t, reports)
	require.Error(t, err)

	var partial *PartialError
	assert.False(t, errors.As(err, &partial))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPFetcherNoAgents(t *testing.T) {
	f := NewHTTPFetcher(staticDirectory{"c1": {ID: "c1"}}, HTTPOptions{})

	reports, err := f.Fetch(context.Background(), "c1")
	assert.NoError(t, err)
	assert.Empty(t, reports)

	_, err = f.Fetch(context.Background(), "missing")
	assert.Error(t, err)
}

func TestHTTPFetcherBadPayload(t *testing.T) {
	bad := statusServer(t, `not json`)

	f := NewHTTPFetcher(staticDirectory{
		"c1": {ID: "c1", Agents: []string{bad.URL}},
	}, HTTPOptions{})

	_, err := f.Fetch(context.Background(), "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode status")
}

func TestAgentURL(t *testing.T) {
	tests := []struct {
		agent string
		want  string
	}{
		{"10.0.0.1:9100", "http://10.0.0.1:9100/v1/status"},
		{"https://agent.example:9100/", "https://agent.example:9100/v1/status"},
	}

	for _, tt := range tests {
		t.Run(tt.agent, func(t *testing.T) {
			assert.Equal(t, tt.want, agentURL(tt.agent, DefaultStatusPath))
		})
	}
}

func TestFingerprintStable(t *testing.T) {
	assert.Equal(t, Fingerprint([]byte("a")), Fingerprint([]byte("a")))
	assert.NotEqual(t, Fingerprint([]byte("a")), Fingerprint([]byte("b")))
}

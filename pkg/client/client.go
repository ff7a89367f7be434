package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cuemby/dbfleet/pkg/api"
	"github.com/cuemby/dbfleet/pkg/metrics"
	"github.com/cuemby/dbfleet/pkg/platform"
	"github.com/cuemby/dbfleet/pkg/types"
)

// Client talks to a running dbfleet server for CLI usage
type Client struct {
	base string
	http *http.Client
}

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a client for the server at addr ("host:port" or a URL)
func NewClient(addr string) (*Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("server address is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid server address: %w", err)
	}

	return &Client{
		base: strings.TrimRight(u.String(), "/"),
		// Orchestration runs a full cycle before answering
		http: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

// Apply sends a desired-state document in JSON or JSONC
func (c *Client) Apply(ctx context.Context, document []byte) (*api.ApplyResult, error) {
	var result api.ApplyResult
	if err := c.do(ctx, http.MethodPost, "/v1/clusters", document, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Orchestrate runs one cycle on the server. A cancelled cycle returns its
// report together with the error.
func (c *Client) Orchestrate(ctx context.Context, clusterID string, mode types.OrchestrateMode) (*types.OrchestrateReport, error) {
	path := "/v1/clusters/" + url.PathEscape(clusterID) + "/orchestrate?mode=" + url.QueryEscape(string(mode))

	var report types.OrchestrateReport
	err := c.do(ctx, http.MethodPost, path, nil, &report)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable && report.ID != "" {
			return &report, err
		}
		return nil, err
	}
	return &report, nil
}

// ListReports returns the newest reports of a cluster
func (c *Client) ListReports(ctx context.Context, clusterID string, limit int) ([]*types.OrchestrateReport, error) {
	path := "/v1/clusters/" + url.PathEscape(clusterID) + "/reports?limit=" + strconv.Itoa(limit)

	var reports []*types.OrchestrateReport
	if err := c.do(ctx, http.MethodGet, path, nil, &reports); err != nil {
		return nil, err
	}
	return reports, nil
}

// GetCluster returns a cluster with its progress and latest view
func (c *Client) GetCluster(ctx context.Context, clusterID string) (*api.ClusterStatus, error) {
	var status api.ClusterStatus
	if err := c.do(ctx, http.MethodGet, "/v1/clusters/"+url.PathEscape(clusterID), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListPlatforms returns the server's platforms
func (c *Client) ListPlatforms(ctx context.Context) ([]platform.Status, error) {
	var statuses []platform.Status
	if err := c.do(ctx, http.MethodGet, "/v1/platforms", nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// SetPlatformActive enables or disables a platform
func (c *Client) SetPlatformActive(ctx context.Context, name string, active bool) error {
	body, err := json.Marshal(map[string]bool{"active": active})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, "/v1/platforms/"+url.PathEscape(name), body, nil)
}

// JoinRaft asks the server, which must be the raft leader, to add this
// node as a voter
func (c *Client) JoinRaft(ctx context.Context, nodeID, address string) error {
	body, err := json.Marshal(api.JoinRequest{NodeID: nodeID, Address: address})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/v1/raft/join", body, nil)
}

// RaftStatus returns the server's raft leadership and statistics
func (c *Client) RaftStatus(ctx context.Context) (*api.RaftStatus, error) {
	var status api.RaftStatus
	if err := c.do(ctx, http.MethodGet, "/v1/raft", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Health returns the server's process health. An unhealthy server answers
// 503 with a body, so the status is returned whenever it could be decoded.
func (c *Client) Health(ctx context.Context) (*metrics.HealthStatus, error) {
	var status metrics.HealthStatus
	err := c.do(ctx, http.MethodGet, "/health", nil, &status)
	if err != nil && status.Status == "" {
		return nil, err
	}
	return &status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var apiErr error
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		message := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			message = e.Error
		}
		apiErr = &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	if out != nil && len(data) > 0 {
		// Some error answers carry a typed body (cancelled cycle report,
		// unhealthy status); decode it best effort
		if err := json.Unmarshal(data, out); err != nil && apiErr == nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return apiErr
}

// CheckGRPC queries the gRPC health service at addr. An empty service asks
// for overall process health.
func CheckGRPC(ctx context.Context, addr, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check failed: %w", err)
	}
	return resp.Status, nil
}

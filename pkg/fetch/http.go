package fetch

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/dbfleet/pkg/log"
	"github.com/cuemby/dbfleet/pkg/types"
)

// DefaultStatusPath is where agents serve their node report
const DefaultStatusPath = "/v1/status"

const maxStatusBytes = 1 << 20

// AgentDirectory resolves the agent endpoints of a cluster
type AgentDirectory interface {
	GetCluster(id string) (*types.Cluster, error)
}

// HTTPOptions configures the HTTP fetcher
type HTTPOptions struct {
	// Timeout bounds each agent request (default: 5s)
	Timeout time.Duration

	// Concurrency limits in-flight agent requests per cluster (default: 8)
	Concurrency int

	// Path is the status endpoint on each agent (default: /v1/status)
	Path string

	// Client is the HTTP client to use
	Client *http.Client
}

// HTTPFetcher polls every agent of a cluster over HTTP in parallel
type HTTPFetcher struct {
	agents      AgentDirectory
	timeout     time.Duration
	concurrency int
	path        string
	client      *http.Client
	logger      zerolog.Logger
}

// NewHTTPFetcher creates a new HTTP fetcher
func NewHTTPFetcher(agents AgentDirectory, opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Path == "" {
		opts.Path = DefaultStatusPath
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}

	return &HTTPFetcher{
		agents:      agents,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		path:        opts.Path,
		client:      opts.Client,
		logger:      log.WithComponent("fetch"),
	}
}

// Fetch implements Fetcher. A failing agent does not fail the fetch unless
// every agent failed; the failures are returned as a *PartialError.
func (f *HTTPFetcher) Fetch(ctx context.Context, clusterID string) ([]types.NodeReport, error) {
	cluster, err := f.agents.GetCluster(clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agents: %w", err)
	}
	if len(cluster.Agents) == 0 {
		return nil, nil
	}

	reports := make([]*types.NodeReport, len(cluster.Agents))
	errs := make([]error, len(cluster.Agents))

	g := new(errgroup.Group)
	g.SetLimit(f.concurrency)
	for i, agent := range cluster.Agents {
		g.Go(func() error {
			reports[i], errs[i] = f.fetchAgent(ctx, agent)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []types.NodeReport
	failed := make(map[string]error)
	for i, agent := range cluster.Agents {
		if errs[i] != nil {
			failed[agent] = errs[i]
			f.logger.Warn().
				Str("cluster_id", clusterID).
				Str("agent", agent).
				Err(errs[i]).
				Msg("Agent status fetch failed")
			continue
		}
		out = append(out, *reports[i])
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("fetch %s: all %d agents failed: %w", clusterID, len(failed), errors.Join(collect(failed, cluster.Agents)...))
	}
	if len(failed) > 0 {
		return out, &PartialError{ClusterID: clusterID, Failed: failed}
	}
	return out, nil
}

func (f *HTTPFetcher) fetchAgent(ctx context.Context, agent string) (*types.NodeReport, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, agentURL(agent, f.path), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}

	var report types.NodeReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	if report.PayloadVersion == "" {
		report.PayloadVersion = Fingerprint(body)
	}
	if report.Address == "" {
		report.Address = agent
	}
	return &report, nil
}

// Fingerprint derives a payload version tag from a raw status body
func Fingerprint(body []byte) string {
	sum := blake3.Sum256(body)
	return hex.EncodeToString(sum[:8])
}

func agentURL(agent, path string) string {
	base := agent
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return strings.TrimRight(base, "/") + path
}

func collect(failed map[string]error, order []string) []error {
	out := make([]error, 0, len(failed))
	for _, agent := range order {
		if err, ok := failed[agent]; ok {
			out = append(out, fmt.Errorf("%s: %w", agent, err))
		}
	}
	return out
}

var _ Fetcher = (*HTTPFetcher)(nil)

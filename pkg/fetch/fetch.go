package fetch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/dbfleet/pkg/types"
)

// Fetcher collects the current node reports of one cluster
type Fetcher interface {
	Fetch(ctx context.Context, clusterID string) ([]types.NodeReport, error)
}

// PartialError is returned alongside the reports that were collected when
// some agents could not be reached. The cycle continues on the partial set.
type PartialError struct {
	ClusterID string
	Failed    map[string]error
}

func (e *PartialError) Error() string {
	agents := make([]string, 0, len(e.Failed))
	for agent := range e.Failed {
		agents = append(agents, agent)
	}
	sort.Strings(agents)

	parts := make([]string, 0, len(agents))
	for _, agent := range agents {
		parts = append(parts, fmt.Sprintf("%s: %v", agent, e.Failed[agent]))
	}
	return fmt.Sprintf("fetch %s: %d agents failed: %s", e.ClusterID, len(agents), strings.Join(parts, "; "))
}

// Agents returns the failed agents in sorted order
func (e *PartialError) Agents() []string {
	agents := make([]string, 0, len(e.Failed))
	for agent := range e.Failed {
		agents = append(agents, agent)
	}
	sort.Strings(agents)
	return agents
}

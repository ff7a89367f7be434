package lock

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/raft"
)

// Command represents a lease table change in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opAcquire = "acquire"
	opRenew   = "renew"
	opRelease = "release"
)

type acquireCmd struct {
	ClusterID string        `json:"cluster_id"`
	Holder    string        `json:"holder"`
	Token     string        `json:"token"`
	Now       time.Time     `json:"now"`
	TTL       time.Duration `json:"ttl"`
}

// renewCmd extends a live lease held under Token
type renewCmd struct {
	ClusterID string        `json:"cluster_id"`
	Token     string        `json:"token"`
	Now       time.Time     `json:"now"`
	TTL       time.Duration `json:"ttl"`
}

type releaseCmd struct {
	ClusterID string `json:"cluster_id"`
	Token     string `json:"token"`
}

// Lease is one entry of the replicated lease table
type Lease struct {
	Holder     string    `json:"holder"`
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// leaseFSM is the Raft state machine holding cluster leases. Expiry is
// judged against the time carried in each command, so every replica
// reaches the same decision.
type leaseFSM struct {
	mu     sync.RWMutex
	leases map[string]Lease
}

func newLeaseFSM() *leaseFSM {
	return &leaseFSM{leases: make(map[string]Lease)}
}

// Apply applies a Raft log entry to the lease table
func (f *leaseFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opAcquire:
		var c acquireCmd
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return err
		}
		if held, ok := f.leases[c.ClusterID]; ok && held.Token != c.Token && held.ExpiresAt.After(c.Now) {
			return ErrNotAcquired
		}
		f.leases[c.ClusterID] = Lease{
			Holder:     c.Holder,
			Token:      c.Token,
			AcquiredAt: c.Now,
			ExpiresAt:  c.Now.Add(c.TTL),
		}
		return nil

	case opRenew:
		var c renewCmd
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return err
		}
		// An expired lease may already belong to someone else
		held, ok := f.leases[c.ClusterID]
		if !ok || held.Token != c.Token || !held.ExpiresAt.After(c.Now) {
			return ErrLeaseLost
		}
		held.ExpiresAt = c.Now.Add(c.TTL)
		f.leases[c.ClusterID] = held
		return nil

	case opRelease:
		var c releaseCmd
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return err
		}
		held, ok := f.leases[c.ClusterID]
		if !ok || held.Token != c.Token {
			return ErrReleased
		}
		delete(f.leases, c.ClusterID)
		return nil

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

func (f *leaseFSM) lease(clusterID string) (Lease, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	l, ok := f.leases[clusterID]
	return l, ok
}

// Snapshot creates a point-in-time copy of the lease table
func (f *leaseFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	leases := make(map[string]Lease, len(f.leases))
	for k, v := range f.leases {
		leases[k] = v
	}
	return &leaseSnapshot{Leases: leases}, nil
}

// Restore replaces the lease table from a snapshot
func (f *leaseFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot leaseSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.leases = snapshot.Leases
	if f.leases == nil {
		f.leases = make(map[string]Lease)
	}
	return nil
}

type leaseSnapshot struct {
	Leases map[string]Lease `json:"leases"`
}

// Persist writes the snapshot to the given SnapshotSink
func (s *leaseSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *leaseSnapshot) Release() {}

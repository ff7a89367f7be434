package lock

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// EtcdOptions configures the etcd-backed coordinator
type EtcdOptions struct {
	Endpoints   []string
	DialTimeout time.Duration
	Namespace   string
	TTL         time.Duration
	TLS         *tls.Config
	NodeName    string
	ProcessID   int
	Clock       func() time.Time
}

// EtcdCoordinator grants cluster locks through etcd mutexes, one key per
// cluster under <namespace>/locks/<cluster>. Locks are tied to a session
// lease, so a crashed holder loses its locks after TTL.
type EtcdCoordinator struct {
	client     *clientv3.Client
	prefix     string
	ttlSeconds int
	identity   holderIdentity
	now        func() time.Time
}

type holderIdentity struct {
	nodeName string
	pid      int
}

type holderAnnotation struct {
	Node       string `json:"node"`
	PID        int    `json:"pid"`
	Cluster    string `json:"cluster"`
	AcquiredAt string `json:"acquired_at"`
}

// NewEtcdCoordinator builds a coordinator backed by etcd
func NewEtcdCoordinator(opts EtcdOptions) (*EtcdCoordinator, error) {
	if len(opts.Endpoints) == 0 {
		return nil, errors.New("etcd coordinator requires at least one endpoint")
	}
	if opts.TTL <= 0 {
		return nil, errors.New("etcd coordinator requires a positive TTL")
	}

	nodeName := strings.TrimSpace(opts.NodeName)
	if nodeName == "" {
		return nil, errors.New("etcd coordinator requires a non-empty node name for metadata")
	}

	pid := opts.ProcessID
	if pid <= 0 {
		pid = os.Getpid()
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	ttlSeconds := int(math.Ceil(opts.TTL.Seconds()))

	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:           opts.Endpoints,
		DialTimeout:         dialTimeout,
		TLS:                 opts.TLS,
		RejectOldCluster:    true,
		PermitWithoutStream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create etcd client: %w", err)
	}

	return &EtcdCoordinator{
		client:     client,
		prefix:     applyNamespace(opts.Namespace, "locks"),
		ttlSeconds: ttlSeconds,
		identity:   holderIdentity{nodeName: nodeName, pid: pid},
		now:        clock,
	}, nil
}

// Close releases underlying client resources
func (c *EtcdCoordinator) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// Key returns the mutex prefix used for a cluster
func (c *EtcdCoordinator) Key(clusterID string) string {
	return c.prefix + "/" + clusterID
}

// Acquire implements Coordinator
func (c *EtcdCoordinator) Acquire(ctx context.Context, clusterID string, timeout time.Duration) (Guard, error) {
	if err := parentDone(ctx); err != nil {
		return nil, err
	}

	session, err := concurrency.NewSession(c.client, concurrency.WithTTL(c.ttlSeconds))
	if err != nil {
		if isContextErr(err) {
			return nil, err
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	mutex := concurrency.NewMutex(session, c.Key(clusterID))
	if err := c.lock(ctx, mutex, timeout); err != nil {
		_ = session.Close()
		return nil, err
	}

	linearizableCtx := clientv3.WithRequireLeader(ctx)
	if err := c.annotate(linearizableCtx, session, mutex, clusterID); err != nil {
		cleanupCtx, cancel := context.WithTimeout(clientv3.WithRequireLeader(context.Background()), 5*time.Second)
		_ = mutex.Unlock(cleanupCtx)
		cancel()
		_ = session.Close()
		if isContextErr(err) {
			return nil, err
		}
		return nil, fmt.Errorf("annotate lock: %w", err)
	}

	return &etcdGuard{clusterID: clusterID, session: session, mutex: mutex}, nil
}

func (c *EtcdCoordinator) lock(ctx context.Context, mutex *concurrency.Mutex, timeout time.Duration) error {
	if timeout <= 0 {
		err := mutex.TryLock(clientv3.WithRequireLeader(ctx))
		switch {
		case err == nil:
			return nil
		case errors.Is(err, concurrency.ErrLocked):
			return ErrNotAcquired
		case isContextErr(err):
			return err
		default:
			return fmt.Errorf("try lock: %w", err)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := mutex.Lock(clientv3.WithRequireLeader(waitCtx))
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return ErrNotAcquired
	default:
		return fmt.Errorf("lock: %w", err)
	}
}

func (c *EtcdCoordinator) annotate(ctx context.Context, session *concurrency.Session, mutex *concurrency.Mutex, clusterID string) error {
	payload, err := json.Marshal(holderAnnotation{
		Node:       c.identity.nodeName,
		PID:        c.identity.pid,
		Cluster:    clusterID,
		AcquiredAt: c.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}

	_, err = session.Client().Put(ctx, mutex.Key(), string(payload), clientv3.WithLease(session.Lease()))
	return err
}

type etcdGuard struct {
	clusterID string
	session   *concurrency.Session
	mutex     *concurrency.Mutex
}

func (g *etcdGuard) ClusterID() string { return g.clusterID }

func (g *etcdGuard) Release(ctx context.Context) error {
	ctx = clientv3.WithRequireLeader(ctx)

	unlockErr := g.mutex.Unlock(ctx)
	closeErr := g.session.Close()

	if unlockErr != nil && !errors.Is(unlockErr, concurrency.ErrLockReleased) {
		if isContextErr(unlockErr) {
			return unlockErr
		}
		return fmt.Errorf("unlock: %w", unlockErr)
	}
	if closeErr != nil {
		if isContextErr(closeErr) {
			return closeErr
		}
		return fmt.Errorf("close session: %w", closeErr)
	}
	return nil
}

func applyNamespace(namespace, key string) string {
	normalizedKey := "/" + strings.TrimLeft(key, "/")
	trimmedNamespace := strings.Trim(namespace, "/")
	if trimmedNamespace == "" {
		return normalizedKey
	}
	return "/" + trimmedNamespace + normalizedKey
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

var _ Coordinator = (*EtcdCoordinator)(nil)

package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/dbfleet/pkg/codec"
	"github.com/cuemby/dbfleet/pkg/types"
)

var (
	// Bucket names
	bucketClusters = []byte("clusters")
	bucketDesired  = []byte("desired")
	bucketViews    = []byte("views")
	bucketReports  = []byte("reports")
	bucketProgress = []byte("progress")
)

// DBFile is the database file name inside the data directory
const DBFile = "dbfleet.db"

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, DBFile)

	// Fail fast when another process holds the file lock
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketClusters,
			bucketDesired,
			bucketViews,
			bucketReports,
			bucketProgress,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func put(tx *bolt.Tx, bucket []byte, key string, v any) error {
	data, err := codec.Encode(v, false)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

func get(tx *bolt.Tx, bucket []byte, kind, key string, v any) error {
	data := tx.Bucket(bucket).Get([]byte(key))
	if data == nil {
		return fmt.Errorf("%s %w: %s", kind, ErrNotFound, key)
	}
	return codec.Decode(data, v)
}

// Cluster operations
func (s *BoltStore) CreateCluster(cluster *types.Cluster) error {
	if cluster.ID == "" {
		return fmt.Errorf("cluster id is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketClusters, cluster.ID, cluster)
	})
}

func (s *BoltStore) GetCluster(id string) (*types.Cluster, error) {
	var cluster types.Cluster
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketClusters, "cluster", id, &cluster)
	})
	if err != nil {
		return nil, err
	}
	return &cluster, nil
}

func (s *BoltStore) ListClusters() ([]*types.Cluster, error) {
	var clusters []*types.Cluster
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		return b.ForEach(func(k, v []byte) error {
			var cluster types.Cluster
			if err := codec.Decode(v, &cluster); err != nil {
				return err
			}
			clusters = append(clusters, &cluster)
			return nil
		})
	})
	return clusters, err
}

func (s *BoltStore) UpdateCluster(cluster *types.Cluster) error {
	return s.CreateCluster(cluster) // Same as create (upsert)
}

// DeleteCluster removes a cluster together with its desired config, view,
// progress and report history
func (s *BoltStore) DeleteCluster(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(id)
		for _, bucket := range [][]byte{bucketClusters, bucketDesired, bucketViews, bucketProgress} {
			if err := tx.Bucket(bucket).Delete(key); err != nil {
				return err
			}
		}
		reports := tx.Bucket(bucketReports)
		if reports.Bucket(key) != nil {
			return reports.DeleteBucket(key)
		}
		return nil
	})
}

// Desired configuration operations

// PutDesiredConfig stores a desired config, assigning the next revision
func (s *BoltStore) PutDesiredConfig(desired *types.DesiredConfig) error {
	if desired.ClusterID == "" {
		return fmt.Errorf("desired config cluster id is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		var prev types.DesiredConfig
		if err := get(tx, bucketDesired, "desired config", desired.ClusterID, &prev); err == nil {
			desired.Revision = prev.Revision + 1
		} else {
			desired.Revision = 1
		}
		desired.UpdatedAt = time.Now().UTC()
		return put(tx, bucketDesired, desired.ClusterID, desired)
	})
}

func (s *BoltStore) LoadDesiredConfig(clusterID string) (*types.DesiredConfig, error) {
	var desired types.DesiredConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketDesired, "desired config", clusterID, &desired)
	})
	if err != nil {
		return nil, err
	}
	return &desired, nil
}

// View operations
func (s *BoltStore) SaveView(snapshot types.ViewSnapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketViews, snapshot.ClusterID, snapshot)
	})
}

func (s *BoltStore) LatestView(clusterID string) (*types.ViewSnapshot, error) {
	var snapshot types.ViewSnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketViews, "view", clusterID, &snapshot)
	})
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Report operations

// SaveReport appends a report to its cluster's history. Reports are keyed
// by a per-cluster sequence, so history is never rewritten.
func (s *BoltStore) SaveReport(report *types.OrchestrateReport) error {
	if report.ClusterID == "" {
		return fmt.Errorf("report cluster id is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketReports).CreateBucketIfNotExists([]byte(report.ClusterID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := codec.Encode(report, true)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// ListReports returns up to limit reports of a cluster, newest first.
// A limit of zero or less returns the whole history.
func (s *BoltStore) ListReports(clusterID string, limit int) ([]*types.OrchestrateReport, error) {
	var reports []*types.OrchestrateReport
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReports).Bucket([]byte(clusterID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(reports) >= limit {
				break
			}
			var report types.OrchestrateReport
			if err := codec.Decode(v, &report); err != nil {
				return err
			}
			reports = append(reports, &report)
		}
		return nil
	})
	return reports, err
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// Progress operations
func (s *BoltStore) SaveProgress(progress types.Progress) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketProgress, progress.ClusterID, progress)
	})
}

func (s *BoltStore) GetProgress(clusterID string) (*types.Progress, error) {
	var progress types.Progress
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketProgress, "progress", clusterID, &progress)
	})
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

// Maintenance operations

// Backup writes a consistent copy of the database to w while the store
// stays open for reads and writes
func (s *BoltStore) Backup(w io.Writer) (int64, error) {
	var written int64
	err := s.db.View(func(tx *bolt.Tx) error {
		n, err := tx.WriteTo(w)
		written = n
		return err
	})
	return written, err
}

// Counts returns the number of records per bucket. Reports are counted
// per cluster history.
func (s *BoltStore) Counts() (map[string]int, error) {
	counts := make(map[string]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketClusters, bucketDesired, bucketViews, bucketProgress} {
			counts[string(name)] = tx.Bucket(name).Stats().KeyN
		}
		return tx.Bucket(bucketReports).ForEachBucket(func(k []byte) error {
			counts[string(bucketReports)] += tx.Bucket(bucketReports).Bucket(k).Stats().KeyN
			return nil
		})
	})
	return counts, err
}

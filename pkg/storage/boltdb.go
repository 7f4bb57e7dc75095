package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/castlehub/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketClusters = []byte("clusters")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "castlehub.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketClusters); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketClusters, err)
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

// Ping runs an empty read transaction
func (s *BoltStore) Ping() error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketClusters) == nil {
			return fmt.Errorf("bucket %s missing", bucketClusters)
		}
		return nil
	})
}

// Cluster operations
func (s *BoltStore) CreateCluster(cluster *types.Cluster) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		if b.Get([]byte(cluster.Hostname)) != nil {
			return fmt.Errorf("%w: %s", ErrClusterExists, cluster.Hostname)
		}
		return putCluster(b, cluster)
	})
}

func (s *BoltStore) GetCluster(hostname string) (*types.Cluster, error) {
	var cluster *types.Cluster
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		cluster, err = getCluster(tx.Bucket(bucketClusters), hostname)
		return err
	})
	return cluster, err
}

func (s *BoltStore) ListClusters() ([]*types.Cluster, error) {
	var clusters []*types.Cluster
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		return b.ForEach(func(k, v []byte) error {
			var cluster types.Cluster
			if err := json.Unmarshal(v, &cluster); err != nil {
				return err
			}
			clusters = append(clusters, &cluster)
			return nil
		})
	})
	return clusters, err
}

func (s *BoltStore) UpdateCluster(cluster *types.Cluster) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		if b.Get([]byte(cluster.Hostname)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, cluster.Hostname)
		}
		return putCluster(b, cluster)
	})
}

func (s *BoltStore) DeleteCluster(hostname string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		return b.Delete([]byte(hostname))
	})
}

func (s *BoltStore) Transition(hostname string, fn MutateFunc) (*types.Cluster, error) {
	var cluster *types.Cluster
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		current, err := getCluster(b, hostname)
		if err != nil {
			return err
		}
		if err := fn(current); err != nil {
			return err
		}
		if current.Hostname != hostname {
			return fmt.Errorf("hostname of %s cannot change", hostname)
		}
		if !current.Status.Valid() {
			return fmt.Errorf("invalid status %q for %s", current.Status, hostname)
		}
		cluster = current
		return putCluster(b, current)
	})
	if err != nil {
		return nil, err
	}
	return cluster, nil
}

func getCluster(b *bolt.Bucket, hostname string) (*types.Cluster, error) {
	data := b.Get([]byte(hostname))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hostname)
	}
	var cluster types.Cluster
	if err := json.Unmarshal(data, &cluster); err != nil {
		return nil, fmt.Errorf("failed to decode cluster %s: %w", hostname, err)
	}
	return &cluster, nil
}

func putCluster(b *bolt.Bucket, cluster *types.Cluster) error {
	cluster.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(cluster)
	if err != nil {
		return err
	}
	return b.Put([]byte(cluster.Hostname), data)
}

package storage

import (
	"errors"

	"github.com/cuemby/castlehub/pkg/types"
)

var (
	// ErrNotFound is returned when no record exists for a hostname
	ErrNotFound = errors.New("not found")

	// ErrClusterExists is returned when creating a hostname that is taken
	ErrClusterExists = errors.New("cluster already exists")
)

// MutateFunc changes a cluster inside a transition. Returning an error
// aborts the transition and leaves the record untouched.
type MutateFunc func(cluster *types.Cluster) error

// Store defines the interface for cluster record storage
type Store interface {
	// CreateCluster persists a new record. Fails with ErrClusterExists
	// when the hostname is already taken.
	CreateCluster(cluster *types.Cluster) error
	GetCluster(hostname string) (*types.Cluster, error)
	ListClusters() ([]*types.Cluster, error)
	UpdateCluster(cluster *types.Cluster) error
	DeleteCluster(hostname string) error

	// Transition reads the record, applies fn and writes the result in
	// a single write transaction. Concurrent transitions on the same
	// hostname are serialized.
	Transition(hostname string, fn MutateFunc) (*types.Cluster, error)

	// Ping verifies the store is readable
	Ping() error

	Close() error
}

/*
Package storage provides BoltDB-backed persistence for castlehub's cluster records.

The storage package implements the Store interface using BoltDB as the underlying
database. Every cluster record is serialized as JSON and stored in the clusters
bucket under its hostname.

# Architecture

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/castlehub.db             │          │
	│  │  - Format: B+tree with MVCC                 │          │
	│  │  - Transactions: ACID with fsync            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  clusters       (hostname → JSON record)    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Transaction Management                │          │
	│  │  - Read: db.View() - concurrent reads       │          │
	│  │  - Write: db.Update() - single writer       │          │
	│  └─────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────────┘

# Atomic Transitions

The lifecycle manager relies on the cluster status as a per-hostname lock. A
plain read followed by a write would let two callers both observe an idle
cluster and both start an operation. Transition closes that gap: the read, the
caller's check and the write all happen inside one db.Update transaction, and
BoltDB allows a single writer at a time.

	cluster, err := store.Transition(hostname, func(c *types.Cluster) error {
		if c.Status.IsBusy() {
			return ErrBusy
		}
		c.Status = types.StatusPlanRunning
		return nil
	})

Returning an error from the closure rolls the transaction back.

# Errors

  - ErrNotFound: no record for the hostname
  - ErrClusterExists: CreateCluster on a hostname that is taken

Both are wrapped with the hostname; compare with errors.Is.

# Thread Safety

BoltStore is safe for concurrent use. Readers never block each other and
writers are serialized by BoltDB.
*/
package storage

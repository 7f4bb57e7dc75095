package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/castlehub/pkg/events"
	"github.com/cuemby/castlehub/pkg/health"
	"github.com/cuemby/castlehub/pkg/log"
	"github.com/cuemby/castlehub/pkg/metrics"
	"github.com/cuemby/castlehub/pkg/security"
	"github.com/cuemby/castlehub/pkg/storage"
	"github.com/cuemby/castlehub/pkg/terraform"
	"github.com/cuemby/castlehub/pkg/types"
	"github.com/cuemby/castlehub/pkg/workspace"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// DefaultMaxProvisioningTime is how long a cluster may stay in
// provisioning_running before it is considered failed
const DefaultMaxProvisioningTime = time.Hour

// planLogTailLines is how much of the plan log a PlanError carries
const planLogTailLines = 30

// errUnchanged aborts a transition without writing
var errUnchanged = errors.New("unchanged")

// Manager drives clusters through their lifecycle
type Manager struct {
	store      storage.Store
	workspaces *workspace.Root
	runner     terraform.Runner
	poller     *health.Poller
	secrets    *security.SecretsManager
	broker     *events.Broker
	dns        DNSConfig
	markers    terraform.MarkerStrategy

	maxProvisioningTime time.Duration

	tasks  *taskGroup
	logger zerolog.Logger
}

// Config holds configuration for creating a Manager
type Config struct {
	Store      storage.Store
	Workspaces *workspace.Root
	Runner     terraform.Runner
	Poller     *health.Poller
	Secrets    *security.SecretsManager

	// Events receives every status change. Optional.
	Events *events.Broker

	DNS DNSConfig

	// Markers reads apply progress from the apply log. Defaults to
	// terraform.TerraformMarkers.
	Markers terraform.MarkerStrategy

	MaxProvisioningTime time.Duration
}

// CreateOptions are the record fields set when a cluster is created
type CreateOptions struct {
	Owner          string
	CloudID        string
	ExpirationDate *time.Time
}

// ModifyOptions are the record fields a modification may change
type ModifyOptions struct {
	ExpirationDate *time.Time
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if cfg.Store == nil || cfg.Workspaces == nil || cfg.Runner == nil {
		return nil, fmt.Errorf("store, workspaces and runner are required")
	}
	if cfg.Secrets == nil {
		return nil, fmt.Errorf("secrets manager is required: %w", security.ErrNoKey)
	}

	poller := cfg.Poller
	if poller == nil {
		poller = health.NewPoller(health.DefaultPollerConfig())
	}
	markers := cfg.Markers
	if markers == nil {
		markers = terraform.TerraformMarkers{}
	}
	maxProvisioning := cfg.MaxProvisioningTime
	if maxProvisioning <= 0 {
		maxProvisioning = DefaultMaxProvisioningTime
	}

	return &Manager{
		store:               cfg.Store,
		workspaces:          cfg.Workspaces,
		runner:              cfg.Runner,
		poller:              poller,
		secrets:             cfg.Secrets,
		broker:              cfg.Events,
		dns:                 cfg.DNS,
		markers:             markers,
		maxProvisioningTime: maxProvisioning,
		tasks:               newTaskGroup(),
		logger:              log.WithComponent("manager"),
	}, nil
}

// Get returns the record of a cluster
func (m *Manager) Get(hostname string) (*types.Cluster, error) {
	c, err := m.store.GetCluster(hostname)
	if err != nil {
		return nil, m.storeError("get cluster", err)
	}
	return c, nil
}

// List returns every cluster, or only those of owner when it is not empty
func (m *Manager) List(owner string) ([]*types.Cluster, error) {
	clusters, err := m.store.ListClusters()
	if err != nil {
		return nil, m.storeError("list clusters", err)
	}
	if owner != "" {
		clusters = lo.Filter(clusters, func(c *types.Cluster, _ int) bool { return c.Owner == owner })
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Hostname < clusters[j].Hostname })
	return clusters, nil
}

// Domains lists the domains clusters may be created in
func (m *Manager) Domains() []string {
	return m.dns.AvailableDomains()
}

// Tasks lists the operations in flight
func (m *Manager) Tasks() []TaskInfo {
	return m.tasks.list()
}

// Wait blocks until every background task has finished
func (m *Manager) Wait() {
	m.tasks.wait()
}

// Shutdown cancels background tasks and waits for them to return
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info().Int("tasks", len(m.tasks.list())).Msg("Shutting down manager")
	return m.tasks.shutdown(ctx)
}

func (m *Manager) storeError(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrClusterNotFound
	}
	if errors.Is(err, storage.ErrClusterExists) {
		return ErrClusterExists
	}
	return &ServerError{Op: op, Err: err}
}

// transition applies fn atomically and reports the status change. Errors
// returned by fn reach the caller untouched.
func (m *Manager) transition(hostname string, fn storage.MutateFunc) (*types.Cluster, error) {
	var previous types.ClusterStatus
	c, err := m.store.Transition(hostname, func(c *types.Cluster) error {
		previous = c.Status
		return fn(c)
	})
	if err != nil {
		var lifecycle *Error
		if errors.As(err, &lifecycle) || errors.Is(err, errUnchanged) {
			return nil, err
		}
		return nil, m.storeError("update cluster", err)
	}
	if c.Status != previous {
		m.statusChanged(c, previous)
	}
	return c, nil
}

// setIfStatus moves a cluster from one status to another, doing nothing
// when it already left the expected status. It returns the status the
// cluster ends up in.
func (m *Manager) setIfStatus(hostname string, from, to types.ClusterStatus) (types.ClusterStatus, error) {
	c, err := m.transition(hostname, func(c *types.Cluster) error {
		if c.Status != from {
			return errUnchanged
		}
		c.Status = to
		return nil
	})
	if errors.Is(err, errUnchanged) {
		current, err := m.Get(hostname)
		if err != nil {
			return types.StatusNotFound, err
		}
		return current.Status, nil
	}
	if err != nil {
		return types.StatusNotFound, err
	}
	return c.Status, nil
}

func (m *Manager) statusChanged(c *types.Cluster, previous types.ClusterStatus) {
	m.logger.Info().
		Str("hostname", c.Hostname).
		Str("status", string(c.Status)).
		Str("previous_status", string(previous)).
		Str("owner", c.OwnerUsername()).
		Msg("Cluster status changed")

	metrics.StatusTransitionsTotal.WithLabelValues(string(previous), string(c.Status)).Inc()

	eventType := events.EventClusterStatusChanged
	if previous == types.StatusNotFound {
		eventType = events.EventClusterCreated
	}
	m.broker.Publish(&events.Event{
		Type:           eventType,
		Hostname:       c.Hostname,
		Status:         string(c.Status),
		PreviousStatus: string(previous),
		Owner:          c.Owner,
	})
}

// remove deletes the workspace and the record of a cluster
func (m *Manager) remove(c *types.Cluster) error {
	if err := m.workspaces.For(c.Hostname).Delete(); err != nil {
		return &ServerError{Op: "delete workspace", Err: err}
	}
	if err := m.store.DeleteCluster(c.Hostname); err != nil {
		return &ServerError{Op: "delete cluster record", Err: err}
	}

	m.logger.Info().
		Str("hostname", c.Hostname).
		Str("status", string(types.StatusNotFound)).
		Str("previous_status", string(c.Status)).
		Str("owner", c.OwnerUsername()).
		Msg("Cluster status changed")
	metrics.StatusTransitionsTotal.WithLabelValues(string(c.Status), string(types.StatusNotFound)).Inc()
	m.broker.Publish(&events.Event{
		Type:           events.EventClusterDeleted,
		Hostname:       c.Hostname,
		Status:         string(types.StatusNotFound),
		PreviousStatus: string(c.Status),
		Owner:          c.Owner,
	})
	return nil
}

// readFacts parses the workspace state into infrastructure facts with the
// admin password sealed. A missing or empty state yields nil.
func (m *Manager) readFacts(ws *workspace.Workspace) (*types.InfrastructureFacts, error) {
	data, err := ws.ReadState()
	if err != nil {
		return nil, err
	}
	state, err := terraform.ParseState(data)
	if err != nil {
		return nil, err
	}
	return m.sealFacts(state.Facts())
}

func (m *Manager) sealFacts(facts *types.InfrastructureFacts) (*types.InfrastructureFacts, error) {
	if facts == nil {
		return nil, nil
	}
	sealed, err := m.secrets.EncryptString(facts.AdminPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to seal admin password: %w", err)
	}
	facts.AdminPassword = sealed
	return facts, nil
}

package manager

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/castlehub/pkg/cloud"
	"github.com/cuemby/castlehub/pkg/log"
	"github.com/cuemby/castlehub/pkg/terraform"
	"github.com/cuemby/castlehub/pkg/types"
	"github.com/cuemby/castlehub/pkg/workspace"
)

// Status returns the lifecycle status of a cluster. A provisioning cluster
// is checked once inline: it moves to provisioning_success when online and
// to provisioning_error once it has been provisioning for too long.
func (m *Manager) Status(ctx context.Context, hostname string) (types.ClusterStatus, error) {
	c, err := m.Get(hostname)
	if errors.Is(err, ErrClusterNotFound) {
		return types.StatusNotFound, nil
	}
	if err != nil {
		return types.StatusNotFound, err
	}
	if c.Status != types.StatusProvisioningRunning {
		return c.Status, nil
	}

	if m.poller.CheckOnline(ctx, hostname) {
		return m.setIfStatus(hostname, types.StatusProvisioningRunning, types.StatusProvisioningSuccess)
	}

	started := c.ProvisioningStarted
	if started.IsZero() {
		started = c.CreatedAt
	}
	if time.Since(started) > m.maxProvisioningTime {
		return m.setIfStatus(hostname, types.StatusProvisioningRunning, types.StatusProvisioningError)
	}
	return c.Status, nil
}

// Progress reports the apply progress of the pending plan from the apply
// log. It returns nil when there is no plan.
func (m *Manager) Progress(ctx context.Context, hostname string) ([]types.ChangeProgress, error) {
	c, err := m.Get(hostname)
	if err != nil {
		return nil, err
	}
	if !c.HasPlan() {
		return nil, nil
	}

	// The apply log belongs to the previous apply until this plan runs
	applyLog := ""
	if c.Status == types.StatusBuildRunning || c.Status == types.StatusDestroyRunning {
		applyLog, err = m.workspaces.For(hostname).ReadLog(workspace.ApplyLog)
		if err != nil {
			return nil, &ServerError{Op: "read apply log", Err: err}
		}
	}
	return terraform.LogProgress(c.Plan, applyLog, m.markers), nil
}

// ProgressAgainst compares the pending plan with a plan computed later
func (m *Manager) ProgressAgainst(ctx context.Context, hostname string, current []types.PlanChange) ([]types.ChangeProgress, error) {
	c, err := m.Get(hostname)
	if err != nil {
		return nil, err
	}
	if !c.HasPlan() {
		return nil, nil
	}
	return terraform.DiffProgress(c.Plan, current), nil
}

// AllocatedResources returns what the cluster holds according to its last
// known state
func (m *Manager) AllocatedResources(hostname string) (types.ResourceSnapshot, error) {
	c, err := m.Get(hostname)
	if err != nil {
		return types.ResourceSnapshot{}, err
	}
	if c.IsBusy() {
		return types.ResourceSnapshot{}, ErrBusyCluster
	}
	if c.Infrastructure == nil {
		return types.ResourceSnapshot{}, nil
	}
	return c.Infrastructure.Resources, nil
}

// AvailableResources computes what a cluster may use in its project. An
// empty hostname stands for a cluster yet to be created.
func (m *Manager) AvailableResources(ctx context.Context, provider cloud.Provider, hostname string) (*cloud.AvailableResources, error) {
	var preAllocated types.ResourceSnapshot
	if hostname != "" {
		var err error
		if preAllocated, err = m.AllocatedResources(hostname); err != nil {
			return nil, err
		}
	}

	res, err := cloud.NewAggregator(provider, preAllocated, m.dns.AvailableDomains()).Available(ctx)
	if err != nil {
		return nil, &ServerError{Op: "query cloud resources", Err: err}
	}
	return res, nil
}

// AdminPassword returns the FreeIPA admin password, or "" while the
// cluster is busy or before it has infrastructure
func (m *Manager) AdminPassword(hostname string) (string, error) {
	c, err := m.Get(hostname)
	if err != nil {
		return "", err
	}
	if c.IsBusy() || c.Infrastructure == nil {
		return "", nil
	}
	password, err := m.secrets.DecryptString(c.Infrastructure.AdminPassword)
	if err != nil {
		return "", &ServerError{Op: "decrypt admin password", Err: err}
	}
	return password, nil
}

// ImportFromState recreates the record of a cluster whose workspace exists
// but whose record was lost. The configuration comes from main.tf.json,
// or from the state when main.tf.json cannot be read.
func (m *Manager) ImportFromState(ctx context.Context, hostname string, opts CreateOptions) (*types.Cluster, error) {
	ws := m.workspaces.For(hostname)
	if !ws.Exists() {
		return nil, ErrClusterNotFound
	}

	data, err := ws.ReadState()
	if err != nil {
		return nil, &ServerError{Op: "read state", Err: err}
	}
	state, err := terraform.ParseState(data)
	if err != nil {
		return nil, &ServerError{Op: "parse state", Err: err}
	}

	cfg, err := ws.ReadConfiguration()
	if err != nil {
		cfg = state.PartialConfiguration()
	}
	if cfg.Hostname() != hostname {
		return nil, invalidConfiguration(errors.New("recovered configuration does not match the hostname"))
	}

	facts, err := m.sealFacts(state.Facts())
	if err != nil {
		return nil, &ServerError{Op: "seal facts", Err: err}
	}

	cluster := &types.Cluster{
		Hostname:       hostname,
		Status:         types.StatusCreated,
		PlanType:       types.PlanTypeNone,
		Configuration:  cfg,
		Infrastructure: facts,
		Owner:          opts.Owner,
		CloudID:        opts.CloudID,
		CreatedAt:      time.Now().UTC(),
		ExpirationDate: opts.ExpirationDate,
	}
	if facts != nil {
		cluster.Status = types.StatusProvisioningSuccess
		cluster.AppliedConfiguration = cfg
	}
	if err := m.store.CreateCluster(cluster); err != nil {
		return nil, m.storeError("create cluster record", err)
	}
	m.statusChanged(cluster, types.StatusNotFound)
	return cluster, nil
}

// Recover settles records left in a running status by a process that no
// longer runs: interrupted plans and applies become errors, provisioning
// clusters get a new poll. Records with a live task are left alone. It
// returns the number of clusters it acted on.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	clusters, err := m.store.ListClusters()
	if err != nil {
		return 0, m.storeError("list clusters", err)
	}

	recovered := 0
	for _, c := range clusters {
		if m.tasks.running(c.Hostname) {
			continue
		}
		logger := log.WithHostname(c.Hostname)

		switch c.Status {
		case types.StatusPlanRunning, types.StatusBuildRunning, types.StatusDestroyRunning:
			if err := m.recoverInterrupted(c); err != nil {
				if !errors.Is(err, errUnchanged) {
					logger.Error().Err(err).Msg("Failed to recover interrupted operation")
				}
				continue
			}
			logger.Warn().Str("status", string(c.Status)).Msg("Recovered interrupted operation")
			recovered++

		case types.StatusProvisioningRunning:
			hostname := c.Hostname
			t := m.tasks.begin(hostname, "poll")
			t.run(func(ctx context.Context) {
				m.awaitProvisioning(ctx, hostname)
			})
			logger.Info().Msg("Resumed provisioning poll")
			recovered++
		}
	}
	return recovered, nil
}

func (m *Manager) recoverInterrupted(seen *types.Cluster) error {
	ws := m.workspaces.For(seen.Hostname)
	refresh := seen.Status != types.StatusPlanRunning

	var facts *types.InfrastructureFacts
	var readErr error
	if refresh {
		facts, readErr = m.readFacts(ws)
	}

	_, err := m.transition(seen.Hostname, func(c *types.Cluster) error {
		if c.Status != seen.Status || m.tasks.running(c.Hostname) {
			return errUnchanged
		}
		c.Status = c.Status.FailedState()
		c.PlanType = types.PlanTypeNone
		c.Plan = nil
		if refresh && readErr == nil {
			c.Infrastructure = facts
		}
		return nil
	})
	if err != nil {
		return err
	}
	return ws.RemovePlan()
}

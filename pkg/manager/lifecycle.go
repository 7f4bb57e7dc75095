package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/castlehub/pkg/health"
	"github.com/cuemby/castlehub/pkg/log"
	"github.com/cuemby/castlehub/pkg/storage"
	"github.com/cuemby/castlehub/pkg/terraform"
	"github.com/cuemby/castlehub/pkg/types"
	"github.com/cuemby/castlehub/pkg/workspace"
)

// PlanCreation creates the record and workspace of a new cluster and plans
// its build. Any failure along the way removes what was created.
//
// A workspace left on disk without a record also blocks creation, although
// Status reports the hostname as not_found. ImportFromState adopts it.
func (m *Manager) PlanCreation(ctx context.Context, cfg *types.Configuration, opts CreateOptions) (*types.Cluster, error) {
	if cfg == nil {
		return nil, invalidConfiguration(errors.New("configuration is required"))
	}
	if err := cfg.Validate(m.dns.AvailableDomains()); err != nil {
		return nil, invalidConfiguration(err)
	}

	hostname := cfg.Hostname()
	if _, err := m.store.GetCluster(hostname); err == nil {
		return nil, ErrClusterExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, m.storeError("get cluster", err)
	}
	ws := m.workspaces.For(hostname)
	if ws.Exists() {
		return nil, fmt.Errorf("%w: workspace of %s has no record, import it instead", ErrClusterExists, hostname)
	}

	cluster := &types.Cluster{
		Hostname:       hostname,
		Status:         types.StatusCreated,
		PlanType:       types.PlanTypeBuild,
		Configuration:  cfg,
		Owner:          opts.Owner,
		CloudID:        opts.CloudID,
		CreatedAt:      time.Now().UTC(),
		ExpirationDate: opts.ExpirationDate,
	}
	if err := m.store.CreateCluster(cluster); err != nil {
		return nil, m.storeError("create cluster record", err)
	}
	m.statusChanged(cluster, types.StatusNotFound)

	if err := m.initWorkspace(ctx, cluster, ws); err != nil {
		m.rollback(cluster)
		return nil, &ServerError{Op: "initialize workspace", Err: err}
	}

	planned, err := m.createPlan(ctx, hostname, types.PlanTypeBuild, nil)
	if err != nil {
		m.rollback(cluster)
		return nil, err
	}
	return planned, nil
}

func (m *Manager) initWorkspace(ctx context.Context, c *types.Cluster, ws *workspace.Workspace) error {
	if err := ws.Create(); err != nil {
		return err
	}
	if err := ws.WriteConfiguration(c.Configuration); err != nil {
		return err
	}

	out, err := ws.OpenLog(workspace.PlanLog)
	if err != nil {
		return err
	}
	defer out.Close()

	return m.runner.Init(ctx, ws.Dir(), m.terraformEnv(c, false), out)
}

// rollback undoes a creation that failed midway
func (m *Manager) rollback(c *types.Cluster) {
	logger := log.WithHostname(c.Hostname)
	if err := m.remove(c); err != nil {
		logger.Error().Err(err).Msg("Failed to roll back cluster creation")
		return
	}
	logger.Warn().Msg("Rolled back cluster creation")
}

// PlanModification replaces the configuration of a cluster and plans the
// change. When nothing needs planning the record alone is updated.
func (m *Manager) PlanModification(ctx context.Context, hostname string, cfg *types.Configuration, opts ModifyOptions) (*types.Cluster, error) {
	if cfg == nil {
		return nil, invalidConfiguration(errors.New("configuration is required"))
	}
	if err := cfg.Validate(m.dns.AvailableDomains()); err != nil {
		return nil, invalidConfiguration(err)
	}
	if cfg.Hostname() != hostname {
		return nil, invalidConfiguration(fmt.Errorf("hostname %s cannot change to %s", hostname, cfg.Hostname()))
	}

	return m.createPlan(ctx, hostname, types.PlanTypeBuild, func(c *types.Cluster) bool {
		replan := !cfg.Equal(c.Configuration) ||
			c.Infrastructure == nil ||
			c.Status.IsError() ||
			c.PlanType != types.PlanTypeBuild
		c.Configuration = cfg
		if opts.ExpirationDate != nil {
			c.ExpirationDate = opts.ExpirationDate
		}
		return replan
	})
}

// PlanDestruction plans the removal of a cluster. A cluster that never got
// infrastructure is deleted right away and nil is returned.
func (m *Manager) PlanDestruction(ctx context.Context, hostname string) (*types.Cluster, error) {
	var deleting bool
	c, err := m.createPlan(ctx, hostname, types.PlanTypeDestroy, func(c *types.Cluster) bool {
		if c.Infrastructure != nil {
			return true
		}
		deleting = true
		c.Status = types.StatusDestroyRunning
		c.PlanType = types.PlanTypeDestroy
		c.Plan = nil
		return false
	})
	if err != nil {
		return nil, err
	}
	if deleting {
		return nil, m.remove(c)
	}
	return c, nil
}

// planEdit changes a record in the transaction that claims it for
// planning. Returning false stores the edit and skips the plan.
type planEdit func(c *types.Cluster) bool

// createPlan runs terraform plan and show on the calling goroutine and
// stores the result. The busy check, edit and plan_running claim are one
// transaction, so no other operation sees an edited record that is not
// yet claimed.
func (m *Manager) createPlan(ctx context.Context, hostname string, planType types.PlanType, edit planEdit) (*types.Cluster, error) {
	t := m.tasks.begin(hostname, "plan")
	defer t.end()

	var previous types.ClusterStatus
	planning := true
	c, err := m.transition(hostname, func(c *types.Cluster) error {
		if c.IsBusy() {
			return ErrBusyCluster
		}
		if edit != nil && !edit(c) {
			planning = false
			return nil
		}
		previous = c.Status
		c.Status = types.StatusPlanRunning
		c.PlanType = planType
		c.Plan = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !planning {
		return c, nil
	}

	logger := log.WithHostname(hostname).With().Str("plan_type", string(planType)).Logger()
	ws := m.workspaces.For(hostname)

	changes, err := m.runPlan(ctx, c, ws, planType)
	if err != nil {
		logger.Error().Err(err).Msg("Plan failed")
		_ = ws.RemovePlan()
		if _, terr := m.transition(hostname, func(c *types.Cluster) error {
			c.Status = types.StatusPlanError
			c.PlanType = types.PlanTypeNone
			c.Plan = nil
			return nil
		}); terr != nil {
			logger.Error().Err(terr).Msg("Failed to record plan failure")
		}
		return nil, &PlanError{
			Hostname: hostname,
			LogTail:  ws.LogTail(workspace.PlanLog, planLogTailLines),
			Err:      err,
		}
	}

	logger.Info().Int("changes", len(changes)).Msg("Plan created")
	return m.transition(hostname, func(c *types.Cluster) error {
		c.Plan = changes
		c.PlanType = planType
		switch {
		case planType == types.PlanTypeDestroy:
			c.Status = previous
		case c.Infrastructure == nil:
			c.Status = types.StatusCreated
		default:
			c.Status = types.StatusProvisioningRunning
		}
		return nil
	})
}

func (m *Manager) runPlan(ctx context.Context, c *types.Cluster, ws *workspace.Workspace, planType types.PlanType) ([]types.PlanChange, error) {
	if err := ws.RemovePlan(); err != nil {
		return nil, err
	}
	if planType == types.PlanTypeBuild {
		if c.Configuration == nil {
			return nil, errors.New("cluster has no configuration to build")
		}
		if err := ws.WriteConfiguration(c.Configuration); err != nil {
			return nil, err
		}
	}

	out, err := ws.OpenLog(workspace.PlanLog)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	opts := terraform.PlanOptions{
		Destroy: planType == types.PlanTypeDestroy,
		Refresh: true,
		Out:     workspace.PlanFile,
		Env:     m.terraformEnv(c, false),
	}
	err = m.runner.Plan(ctx, ws.Dir(), opts, out)
	if err != nil && opts.Destroy {
		// Resources that no longer exist make the refresh fail
		logger := log.WithHostname(c.Hostname)
		logger.Warn().Err(err).Msg("Destroy plan failed, retrying without refresh")
		opts.Refresh = false
		err = m.runner.Plan(ctx, ws.Dir(), opts, out)
	}
	if err != nil {
		return nil, err
	}

	data, err := m.runner.Show(ctx, ws.Dir(), workspace.PlanFile)
	if err != nil {
		return nil, err
	}
	if err := ws.WritePlanJSON(data); err != nil {
		return nil, err
	}
	return terraform.ParsePlan(data)
}

// Apply starts applying the pending plan in the background and returns
// once the cluster is marked running
func (m *Manager) Apply(ctx context.Context, hostname string) error {
	t := m.tasks.begin(hostname, "apply")

	ws := m.workspaces.For(hostname)
	var planType types.PlanType
	c, err := m.transition(hostname, func(c *types.Cluster) error {
		if c.IsBusy() {
			return ErrBusyCluster
		}
		if !c.HasPlan() || !ws.HasPlan() {
			return ErrPlanNotCreated
		}
		planType = c.PlanType
		if planType == types.PlanTypeDestroy {
			c.Status = types.StatusDestroyRunning
		} else {
			c.Status = types.StatusBuildRunning
		}
		return nil
	})
	if err != nil {
		t.end()
		return err
	}

	t.run(func(ctx context.Context) {
		m.runApply(ctx, c, ws, planType)
	})
	return nil
}

func (m *Manager) runApply(ctx context.Context, c *types.Cluster, ws *workspace.Workspace, planType types.PlanType) {
	logger := log.WithHostname(c.Hostname).With().Str("plan_type", string(planType)).Logger()
	destroy := planType == types.PlanTypeDestroy

	err := m.applyPlan(ctx, c, ws, destroy)
	if err != nil {
		logger.Error().Err(err).Msg("Apply failed")
		m.applyFailed(c.Hostname, ws, destroy)
		return
	}

	if destroy {
		current, err := m.Get(c.Hostname)
		if err == nil {
			err = m.remove(current)
		}
		if err != nil {
			logger.Error().Err(err).Msg("Failed to remove destroyed cluster")
		}
		return
	}

	facts, err := m.readFacts(ws)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read terraform state")
		m.applyFailed(c.Hostname, ws, destroy)
		return
	}

	_ = ws.RemovePlan()
	_, err = m.transition(c.Hostname, func(c *types.Cluster) error {
		c.Infrastructure = facts
		c.AppliedConfiguration = c.Configuration
		c.Status = types.StatusProvisioningRunning
		c.ProvisioningStarted = time.Now().UTC()
		c.PlanType = types.PlanTypeNone
		c.Plan = nil
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to record apply result")
		return
	}

	m.awaitProvisioning(ctx, c.Hostname)
}

func (m *Manager) applyPlan(ctx context.Context, c *types.Cluster, ws *workspace.Workspace, destroy bool) error {
	out, err := ws.OpenLog(workspace.ApplyLog)
	if err != nil {
		return err
	}
	defer out.Close()

	return m.runner.Apply(ctx, ws.Dir(), workspace.PlanFile, m.terraformEnv(c, destroy), out)
}

// applyFailed keeps whatever terraform managed to create before failing
func (m *Manager) applyFailed(hostname string, ws *workspace.Workspace, destroy bool) {
	logger := log.WithHostname(hostname)

	facts, readErr := m.readFacts(ws)
	if readErr != nil {
		logger.Warn().Err(readErr).Msg("Failed to refresh infrastructure facts")
	}
	_ = ws.RemovePlan()

	_, err := m.transition(hostname, func(c *types.Cluster) error {
		if destroy {
			c.Status = types.StatusDestroyError
		} else {
			c.Status = types.StatusBuildError
		}
		if readErr == nil {
			c.Infrastructure = facts
		}
		c.PlanType = types.PlanTypeNone
		c.Plan = nil
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to record apply failure")
	}
}

// awaitProvisioning polls the cluster endpoints and records the outcome
// if the cluster is still provisioning
func (m *Manager) awaitProvisioning(ctx context.Context, hostname string) {
	logger := log.WithHostname(hostname)

	var target types.ClusterStatus
	switch err := m.poller.PollUntilSuccess(ctx, hostname); {
	case err == nil:
		target = types.StatusProvisioningSuccess
	case errors.Is(err, health.ErrProvisioningTimeout):
		target = types.StatusProvisioningError
	case errors.Is(err, health.ErrPollInProgress):
		logger.Debug().Msg("Cluster already being polled")
		return
	default:
		logger.Info().Err(err).Msg("Provisioning poll stopped")
		return
	}

	if _, err := m.setIfStatus(hostname, types.StatusProvisioningRunning, target); err != nil && !errors.Is(err, ErrClusterNotFound) {
		logger.Error().Err(err).Msg("Failed to record provisioning outcome")
	}
}

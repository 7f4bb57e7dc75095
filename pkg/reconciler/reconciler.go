package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/castlehub/pkg/log"
	"github.com/cuemby/castlehub/pkg/manager"
	"github.com/cuemby/castlehub/pkg/metrics"
	"github.com/cuemby/castlehub/pkg/types"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// DefaultInterval is the time between two reconciliation cycles
const DefaultInterval = 30 * time.Second

// Lifecycle is the part of the manager the reconciler drives
type Lifecycle interface {
	Recover(ctx context.Context) (int, error)
	List(owner string) ([]*types.Cluster, error)
	Status(ctx context.Context, hostname string) (types.ClusterStatus, error)
	PlanDestruction(ctx context.Context, hostname string) (*types.Cluster, error)
	Apply(ctx context.Context, hostname string) error
}

// Config holds reconciler settings
type Config struct {
	Interval time.Duration

	// CullExpired destroys clusters whose expiration date has passed
	CullExpired bool
}

// Reconciler settles clusters left behind by a previous process and keeps
// provisioning statuses and expirations up to date
type Reconciler struct {
	lifecycle Lifecycle
	interval  time.Duration
	cull      bool
	now       func() time.Time
	logger    zerolog.Logger

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewReconciler creates a new reconciler
func NewReconciler(lc Lifecycle, cfg Config) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		lifecycle: lc,
		interval:  interval,
		cull:      cfg.CullExpired,
		now:       time.Now,
		logger:    log.WithComponent("reconciler"),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start recovers interrupted operations, then runs the reconciliation loop
// in the background until Stop is called
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("reconciler already started")
	}

	recovered, err := r.lifecycle.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover clusters: %w", err)
	}
	r.logger.Info().Int("recovered", recovered).Msg("Boot recovery complete")

	r.started = true
	go r.run(ctx)
	return nil
}

// Stop stops the loop and waits for the current cycle to end. A stopped
// reconciler cannot be started again.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return
	}
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.done
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.reconcile(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Reconciliation failed")
			}
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// reconcile performs one reconciliation cycle
func (r *Reconciler) reconcile(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	clusters, err := r.lifecycle.List("")
	if err != nil {
		return fmt.Errorf("failed to list clusters: %w", err)
	}

	r.refreshProvisioning(ctx, clusters)
	if r.cull {
		r.cullExpired(ctx, clusters)
	}
	return nil
}

// refreshProvisioning gives every provisioning cluster an inline status
// check, which settles it once online or past its deadline
func (r *Reconciler) refreshProvisioning(ctx context.Context, clusters []*types.Cluster) {
	provisioning := lo.Filter(clusters, func(c *types.Cluster, _ int) bool {
		return c.Status == types.StatusProvisioningRunning
	})
	for _, c := range provisioning {
		status, err := r.lifecycle.Status(ctx, c.Hostname)
		if err != nil {
			r.logger.Warn().Err(err).Str("hostname", c.Hostname).Msg("Failed to refresh status")
			continue
		}
		if status != c.Status {
			r.logger.Debug().Str("hostname", c.Hostname).Str("status", string(status)).Msg("Provisioning settled")
		}
	}
}

// cullExpired plans and applies the destruction of expired clusters. A
// cluster whose destruction already failed is left for an operator.
func (r *Reconciler) cullExpired(ctx context.Context, clusters []*types.Cluster) {
	now := r.now()
	expired := lo.Filter(clusters, func(c *types.Cluster, _ int) bool {
		return c.Expired(now) && !c.IsBusy() && c.Status != types.StatusDestroyError
	})

	for _, c := range expired {
		logger := r.logger.With().Str("hostname", c.Hostname).Logger()

		planned, err := r.lifecycle.PlanDestruction(ctx, c.Hostname)
		if errors.Is(err, manager.ErrBusyCluster) || errors.Is(err, manager.ErrClusterNotFound) {
			continue
		}
		if err != nil {
			logger.Error().Err(err).Msg("Failed to plan destruction of expired cluster")
			continue
		}
		if planned == nil {
			logger.Info().Msg("Deleted expired cluster")
			continue
		}

		if err := r.lifecycle.Apply(ctx, c.Hostname); err != nil {
			logger.Error().Err(err).Msg("Failed to destroy expired cluster")
			continue
		}
		logger.Info().Time("expiration_date", *c.ExpirationDate).Msg("Destroying expired cluster")
	}
}

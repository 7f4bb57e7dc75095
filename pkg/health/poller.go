package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/castlehub/pkg/log"
	"github.com/cuemby/castlehub/pkg/metrics"
	"github.com/rs/zerolog"
)

var (
	// ErrPollInProgress is returned when another poll already owns the hostname
	ErrPollInProgress = errors.New("health poll already in progress")

	// ErrProvisioningTimeout is returned when the endpoints never came online
	ErrProvisioningTimeout = errors.New("provisioning did not complete before the deadline")
)

const (
	DefaultPollInterval   = 2 * time.Second
	DefaultMaxDuration    = time.Hour
	DefaultRequestTimeout = 10 * time.Second
)

// UserAgent identifies the poller to cluster endpoints
const UserAgent = "castlehub-poller"

// DefaultEndpoints are the URL templates polled for a cluster; %s is the hostname
var DefaultEndpoints = []string{"https://jupyter.%s", "https://ipa.%s"}

// PollerConfig configures a Poller
type PollerConfig struct {
	// Endpoints are fmt templates receiving the hostname
	Endpoints []string

	// Interval is the sleep between two rounds of checks
	Interval time.Duration

	// MaxDuration bounds a single PollUntilSuccess call
	MaxDuration time.Duration

	// RequestTimeout bounds each HTTP request
	RequestTimeout time.Duration

	// Client overrides the HTTP client, mostly for tests
	Client *http.Client
}

// DefaultPollerConfig returns the production poller settings
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Endpoints:      DefaultEndpoints,
		Interval:       DefaultPollInterval,
		MaxDuration:    DefaultMaxDuration,
		RequestTimeout: DefaultRequestTimeout,
	}
}

// Poller waits for freshly provisioned clusters to answer on their
// endpoints. At most one poll runs per hostname.
type Poller struct {
	config PollerConfig
	client *http.Client
	logger zerolog.Logger

	mu   sync.Mutex
	busy map[string]struct{}
}

// NewPoller creates a poller, filling zero fields with defaults
func NewPoller(cfg PollerConfig) *Poller {
	def := DefaultPollerConfig()
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = def.Endpoints
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = def.MaxDuration
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}

	return &Poller{
		config: cfg,
		client: client,
		logger: log.WithComponent("poller"),
		busy:   make(map[string]struct{}),
	}
}

// IsBusy reports whether a poll currently owns the hostname
func (p *Poller) IsBusy(hostname string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.busy[hostname]
	return ok
}

// tryAcquire is the test-and-set on the busy set
func (p *Poller) tryAcquire(hostname string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.busy[hostname]; ok {
		return false
	}
	p.busy[hostname] = struct{}{}
	metrics.HealthPollsActive.Inc()
	return true
}

func (p *Poller) release(hostname string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.busy, hostname)
	metrics.HealthPollsActive.Dec()
}

// CheckOnline performs one round of checks against every endpoint
func (p *Poller) CheckOnline(ctx context.Context, hostname string) bool {
	checkers := make([]Checker, 0, len(p.config.Endpoints))
	for _, tmpl := range p.config.Endpoints {
		checker := NewHTTPChecker(fmt.Sprintf(tmpl, hostname)).
			WithClient(p.client).
			WithHeader("User-Agent", UserAgent)
		checkers = append(checkers, checker)
	}

	ok, results := CheckAll(ctx, checkers...)
	if !ok && len(results) > 0 {
		last := results[len(results)-1]
		p.logger.Debug().
			Str("hostname", hostname).
			Str("result", last.Message).
			Msg("Cluster not online yet")
	}
	return ok
}

// PollUntilSuccess checks the endpoints every Interval until all of them
// answer 200, MaxDuration elapses or ctx is cancelled. It returns
// ErrPollInProgress right away when another poll owns the hostname.
func (p *Poller) PollUntilSuccess(ctx context.Context, hostname string) error {
	if !p.tryAcquire(hostname) {
		return ErrPollInProgress
	}
	defer p.release(hostname)

	timer := metrics.NewTimer()
	deadline := time.Now().Add(p.config.MaxDuration)
	logger := p.logger.With().Str("hostname", hostname).Logger()
	logger.Info().Dur("max_duration", p.config.MaxDuration).Msg("Polling cluster endpoints")

	for {
		if p.CheckOnline(ctx, hostname) {
			timer.ObserveDurationVec(metrics.HealthPollDuration, "success")
			logger.Info().Dur("elapsed", timer.Duration()).Msg("Cluster is online")
			return nil
		}

		if !time.Now().Before(deadline) {
			timer.ObserveDurationVec(metrics.HealthPollDuration, "timeout")
			logger.Warn().Dur("elapsed", timer.Duration()).Msg("Cluster did not come online in time")
			return ErrProvisioningTimeout
		}

		select {
		case <-ctx.Done():
			timer.ObserveDurationVec(metrics.HealthPollDuration, "cancelled")
			return ctx.Err()
		case <-time.After(p.config.Interval):
		}
	}
}

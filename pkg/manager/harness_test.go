package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/castlehub/pkg/events"
	"github.com/cuemby/castlehub/pkg/health"
	"github.com/cuemby/castlehub/pkg/security"
	"github.com/cuemby/castlehub/pkg/storage"
	"github.com/cuemby/castlehub/pkg/terraform"
	"github.com/cuemby/castlehub/pkg/types"
	"github.com/cuemby/castlehub/pkg/workspace"
	"github.com/stretchr/testify/require"
)

const testHostname = "phoenix.calculquebec.cloud"

var errTerraform = errors.New("exit status 1")

// fakeRunner stands in for terraform. Apply writes the state of the
// terraform testdata, or an empty state for destroy applies.
type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	envs  map[string][]string

	initErr   error
	failPlan  func(opts terraform.PlanOptions) bool
	planGate  chan struct{}
	applyErr  error
	applyGate chan struct{}

	state    []byte
	planJSON []byte
}

func newFakeRunner(t *testing.T) *fakeRunner {
	t.Helper()
	state, err := os.ReadFile("../terraform/testdata/terraform.tfstate")
	require.NoError(t, err)
	plan, err := os.ReadFile("../terraform/testdata/terraform_plan.json")
	require.NoError(t, err)
	return &fakeRunner{
		envs:     make(map[string][]string),
		state:    state,
		planJSON: plan,
	}
}

func (f *fakeRunner) record(call string, env []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	f.envs[strings.Fields(call)[0]] = env
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeRunner) count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeRunner) env(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.envs[op]
}

func (f *fakeRunner) Init(ctx context.Context, dir string, env []string, output io.Writer) error {
	f.record("init", env)
	fmt.Fprintln(output, "Terraform has been successfully initialized!")
	if f.initErr != nil {
		fmt.Fprintln(output, "Error: Failed to download module")
		return &terraform.CommandError{Operation: "init", Err: f.initErr}
	}
	return nil
}

func (f *fakeRunner) Plan(ctx context.Context, dir string, opts terraform.PlanOptions, output io.Writer) error {
	f.record(fmt.Sprintf("plan destroy=%t refresh=%t", opts.Destroy, opts.Refresh), opts.Env)
	if f.planGate != nil {
		select {
		case <-f.planGate:
		case <-ctx.Done():
			return &terraform.CommandError{Operation: "plan", Err: ctx.Err()}
		}
	}
	if f.failPlan != nil && f.failPlan(opts) {
		fmt.Fprintln(output, "Error: Invalid reference")
		return &terraform.CommandError{Operation: "plan", Err: errTerraform}
	}
	fmt.Fprintln(output, "Plan: 3 to add, 0 to change, 1 to destroy.")
	return os.WriteFile(filepath.Join(dir, opts.Out), []byte("binary plan"), 0644)
}

func (f *fakeRunner) Show(ctx context.Context, dir, planFile string) ([]byte, error) {
	f.record("show", nil)
	return f.planJSON, nil
}

func (f *fakeRunner) Apply(ctx context.Context, dir, planFile string, env []string, output io.Writer) error {
	destroy := slices.Contains(env, "TF_WARN_OUTPUT_ERRORS=1")
	f.record(fmt.Sprintf("apply destroy=%t", destroy), env)

	fmt.Fprintln(output, "module.openstack.openstack_compute_keypair_v2.keypair: Creating...")
	if f.applyGate != nil {
		select {
		case <-f.applyGate:
		case <-ctx.Done():
			return &terraform.CommandError{Operation: "apply", Err: ctx.Err()}
		}
	}
	if f.applyErr != nil {
		return &terraform.CommandError{Operation: "apply", Err: f.applyErr}
	}

	state := f.state
	if destroy {
		state = []byte(`{"version": 4, "resources": []}`)
	}
	fmt.Fprintln(output, "module.openstack.openstack_compute_keypair_v2.keypair: Creation complete after 1s")
	return os.WriteFile(filepath.Join(dir, workspace.StateFile), state, 0644)
}

// hookedStore runs a hook once, right after the next transition commits
type hookedStore struct {
	storage.Store

	mu    sync.Mutex
	after func()
}

func (s *hookedStore) afterNextTransition(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.after = fn
}

func (s *hookedStore) Transition(hostname string, fn storage.MutateFunc) (*types.Cluster, error) {
	c, err := s.Store.Transition(hostname, fn)

	s.mu.Lock()
	after := s.after
	s.after = nil
	s.mu.Unlock()

	if after != nil {
		after()
	}
	return c, err
}

// endpoints serves the jupyter and ipa endpoints of every test cluster
type endpoints struct {
	*httptest.Server
	online atomic.Bool
}

func newEndpoints(t *testing.T) *endpoints {
	t.Helper()
	e := &endpoints{}
	e.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !e.online.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(e.Close)
	return e
}

// eventLog records every event the broker delivers
type eventLog struct {
	mu     sync.Mutex
	events []*events.Event
}

func (l *eventLog) statuses(hostname string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		if e.Hostname == hostname {
			out = append(out, e.Status)
		}
	}
	return out
}

type harness struct {
	mgr       *Manager
	store     *storage.BoltStore
	root      *workspace.Root
	runner    *fakeRunner
	endpoints *endpoints
	events    *eventLog
}

func newHarness(t *testing.T, configure ...func(*Config)) *harness {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	root, err := workspace.NewRoot(t.TempDir(), workspace.DefaultModuleSource())
	require.NoError(t, err)

	secrets, err := security.NewSecretsManagerFromPassword("test-secret")
	require.NoError(t, err)

	ep := newEndpoints(t)
	poller := health.NewPoller(health.PollerConfig{
		Endpoints:   []string{ep.URL + "/jupyter/%s", ep.URL + "/ipa/%s"},
		Interval:    10 * time.Millisecond,
		MaxDuration: 5 * time.Second,
	})

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	log := &eventLog{}
	sub := broker.Subscribe()
	go func() {
		for e := range sub {
			log.mu.Lock()
			log.events = append(log.events, e)
			log.mu.Unlock()
		}
	}()

	runner := newFakeRunner(t)
	cfg := &Config{
		Store:      store,
		Workspaces: root,
		Runner:     runner,
		Poller:     poller,
		Secrets:    secrets,
		Events:     broker,
		DNS: DNSConfig{
			Domains:   map[string]string{"calculquebec.cloud": "cloudflare", "example.org": ""},
			Providers: map[string]map[string]string{"cloudflare": {"CLOUDFLARE_API_TOKEN": "token"}},
		},
	}
	for _, fn := range configure {
		fn(cfg)
	}

	mgr, err := NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})

	return &harness{
		mgr:       mgr,
		store:     store,
		root:      root,
		runner:    runner,
		endpoints: ep,
		events:    log,
	}
}

func testConfiguration() *types.Configuration {
	return &types.Configuration{
		ClusterName: "phoenix",
		Domain:      "calculquebec.cloud",
		Image:       "Rocky-8.7-x64",
		NbUsers:     10,
		Instances: map[string]types.InstanceSpec{
			"mgmt":  {Type: "p4-6gb", Count: 1, Tags: []string{"mgmt", "nfs", "puppet"}},
			"login": {Type: "p2-3gb", Count: 1, Tags: []string{"login", "proxy", "public"}},
			"node":  {Type: "p2-3gb", Count: 2, Tags: []string{"node"}},
		},
		PublicKeys:  []string{"ssh-rsa AAAAB3NzaC1yc2E test@example.org"},
		GuestPasswd: "password-123",
	}
}

func (h *harness) create(t *testing.T) *types.Cluster {
	t.Helper()
	c, err := h.mgr.PlanCreation(context.Background(), testConfiguration(), CreateOptions{
		Owner:   "alice@example.org",
		CloudID: "openstack",
	})
	require.NoError(t, err)
	return c
}

// provision drives a new cluster to provisioning_success
func (h *harness) provision(t *testing.T) {
	t.Helper()
	h.create(t)
	h.endpoints.online.Store(true)
	require.NoError(t, h.mgr.Apply(context.Background(), testHostname))
	h.mgr.Wait()
	c, err := h.mgr.Get(testHostname)
	require.NoError(t, err)
	require.Equal(t, types.StatusProvisioningSuccess, c.Status)
}

// seed stores a record directly, bypassing the lifecycle
func (h *harness) seed(t *testing.T, c *types.Cluster) {
	t.Helper()
	if c.Configuration == nil {
		cfg := testConfiguration()
		cfg.ClusterName = strings.Split(c.Hostname, ".")[0]
		c.Configuration = cfg
	}
	if c.PlanType == "" {
		c.PlanType = types.PlanTypeNone
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	require.NoError(t, h.store.CreateCluster(c))
	require.NoError(t, h.root.For(c.Hostname).Create())
}

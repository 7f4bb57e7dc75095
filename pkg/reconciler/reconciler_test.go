package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/castlehub/pkg/manager"
	"github.com/cuemby/castlehub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLifecycle records the calls the reconciler makes
type fakeLifecycle struct {
	mu       sync.Mutex
	clusters []*types.Cluster
	calls    []string

	recoverErr error
	destroyErr map[string]error
}

func (f *fakeLifecycle) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeLifecycle) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeLifecycle) find(hostname string) *types.Cluster {
	for _, c := range f.clusters {
		if c.Hostname == hostname {
			return c
		}
	}
	return nil
}

func (f *fakeLifecycle) Recover(ctx context.Context) (int, error) {
	f.record("recover")
	return 0, f.recoverErr
}

func (f *fakeLifecycle) List(owner string) ([]*types.Cluster, error) {
	return f.clusters, nil
}

func (f *fakeLifecycle) Status(ctx context.Context, hostname string) (types.ClusterStatus, error) {
	f.record("status " + hostname)
	return f.find(hostname).Status, nil
}

func (f *fakeLifecycle) PlanDestruction(ctx context.Context, hostname string) (*types.Cluster, error) {
	f.record("destroy " + hostname)
	if err := f.destroyErr[hostname]; err != nil {
		return nil, err
	}
	c := f.find(hostname)
	if c.Infrastructure == nil {
		return nil, nil
	}
	return c, nil
}

func (f *fakeLifecycle) Apply(ctx context.Context, hostname string) error {
	f.record("apply " + hostname)
	return nil
}

func TestReconcile_RefreshesProvisioning(t *testing.T) {
	lc := &fakeLifecycle{clusters: []*types.Cluster{
		{Hostname: "a.example.org", Status: types.StatusProvisioningRunning},
		{Hostname: "b.example.org", Status: types.StatusProvisioningSuccess},
		{Hostname: "c.example.org", Status: types.StatusProvisioningRunning},
	}}
	r := NewReconciler(lc, Config{})

	require.NoError(t, r.reconcile(context.Background()))

	assert.Equal(t, []string{"status a.example.org", "status c.example.org"}, lc.Calls())
}

func TestReconcile_CullExpired(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	lc := &fakeLifecycle{
		clusters: []*types.Cluster{
			{Hostname: "built.example.org", Status: types.StatusProvisioningSuccess, ExpirationDate: &past, Infrastructure: &types.InfrastructureFacts{}},
			{Hostname: "empty.example.org", Status: types.StatusCreated, ExpirationDate: &past},
			{Hostname: "busy.example.org", Status: types.StatusBuildRunning, ExpirationDate: &past},
			{Hostname: "failed.example.org", Status: types.StatusDestroyError, ExpirationDate: &past},
			{Hostname: "later.example.org", Status: types.StatusProvisioningSuccess, ExpirationDate: &future},
			{Hostname: "forever.example.org", Status: types.StatusProvisioningSuccess},
			{Hostname: "raced.example.org", Status: types.StatusPlanError, ExpirationDate: &past},
		},
		destroyErr: map[string]error{"raced.example.org": manager.ErrBusyCluster},
	}
	r := NewReconciler(lc, Config{CullExpired: true})
	r.now = func() time.Time { return now }

	require.NoError(t, r.reconcile(context.Background()))

	assert.Equal(t, []string{
		"destroy built.example.org",
		"apply built.example.org",
		"destroy empty.example.org",
		"destroy raced.example.org",
	}, lc.Calls())
}

func TestReconcile_CullDisabled(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	lc := &fakeLifecycle{clusters: []*types.Cluster{
		{Hostname: "built.example.org", Status: types.StatusProvisioningSuccess, ExpirationDate: &past},
	}}
	r := NewReconciler(lc, Config{})

	require.NoError(t, r.reconcile(context.Background()))
	assert.Empty(t, lc.Calls())
}

func TestReconciler_StartStop(t *testing.T) {
	lc := &fakeLifecycle{clusters: []*types.Cluster{
		{Hostname: "a.example.org", Status: types.StatusProvisioningRunning},
	}}
	r := NewReconciler(lc, Config{Interval: 10 * time.Millisecond})

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()), "already started")

	require.Eventually(t, func() bool {
		return len(lc.Calls()) >= 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "recover", lc.Calls()[0])

	r.Stop()
	r.Stop()
	n := len(lc.Calls())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, len(lc.Calls()), "no cycle after Stop")
}

func TestReconciler_RecoverFailure(t *testing.T) {
	lc := &fakeLifecycle{recoverErr: errors.New("store closed")}
	r := NewReconciler(lc, Config{})

	err := r.Start(context.Background())
	assert.ErrorContains(t, err, "store closed")
	r.Stop()
}

func TestNewReconciler_Defaults(t *testing.T) {
	r := NewReconciler(&fakeLifecycle{}, Config{})
	assert.Equal(t, DefaultInterval, r.interval)
	assert.False(t, r.cull)
}

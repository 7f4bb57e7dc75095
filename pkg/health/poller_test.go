package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHost = "phoenix.example.org"

// clusterServer answers under /jupyter/<host> and /ipa/<host>
type clusterServer struct {
	*httptest.Server
	online   atomic.Bool
	ipaDown  atomic.Bool
	requests atomic.Int64
}

func newClusterServer(t *testing.T) *clusterServer {
	t.Helper()
	cs := &clusterServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.requests.Add(1)
		if !strings.HasSuffix(r.URL.Path, "/"+testHost) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if !cs.online.Load() || (cs.ipaDown.Load() && strings.HasPrefix(r.URL.Path, "/ipa/")) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *clusterServer) poller(maxDuration time.Duration) *Poller {
	return NewPoller(PollerConfig{
		Endpoints:   []string{cs.URL + "/jupyter/%s", cs.URL + "/ipa/%s"},
		Interval:    10 * time.Millisecond,
		MaxDuration: maxDuration,
	})
}

func TestPoller_Defaults(t *testing.T) {
	p := NewPoller(PollerConfig{})
	assert.Equal(t, DefaultEndpoints, p.config.Endpoints)
	assert.Equal(t, 2*time.Second, p.config.Interval)
	assert.Equal(t, time.Hour, p.config.MaxDuration)
}

func TestPoller_CheckOnline(t *testing.T) {
	cs := newClusterServer(t)
	p := cs.poller(time.Second)

	assert.False(t, p.CheckOnline(context.Background(), testHost))

	cs.online.Store(true)
	cs.ipaDown.Store(true)
	assert.False(t, p.CheckOnline(context.Background(), testHost), "every endpoint must answer 200")

	cs.ipaDown.Store(false)
	assert.True(t, p.CheckOnline(context.Background(), testHost))
}

func TestPoller_SendsUserAgent(t *testing.T) {
	var agents sync.Map
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents.Store(r.URL.Path, r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := NewPoller(PollerConfig{Endpoints: []string{server.URL + "/jupyter/%s", server.URL + "/ipa/%s"}})
	require.True(t, p.CheckOnline(context.Background(), testHost))

	for _, path := range []string{"/jupyter/" + testHost, "/ipa/" + testHost} {
		agent, ok := agents.Load(path)
		require.True(t, ok, path)
		assert.Equal(t, UserAgent, agent)
	}
}

func TestPoller_PollUntilSuccess(t *testing.T) {
	cs := newClusterServer(t)
	p := cs.poller(5 * time.Second)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cs.online.Store(true)
	}()

	require.NoError(t, p.PollUntilSuccess(context.Background(), testHost))
	assert.False(t, p.IsBusy(testHost))
	assert.Greater(t, cs.requests.Load(), int64(2))
}

func TestPoller_Timeout(t *testing.T) {
	cs := newClusterServer(t)
	p := cs.poller(50 * time.Millisecond)

	err := p.PollUntilSuccess(context.Background(), testHost)
	assert.ErrorIs(t, err, ErrProvisioningTimeout)
	assert.False(t, p.IsBusy(testHost), "busy flag is released on timeout")
}

func TestPoller_Unreachable(t *testing.T) {
	p := NewPoller(PollerConfig{
		Endpoints:   []string{"http://127.0.0.1:1/%s"},
		Interval:    10 * time.Millisecond,
		MaxDuration: 30 * time.Millisecond,
	})

	err := p.PollUntilSuccess(context.Background(), testHost)
	assert.ErrorIs(t, err, ErrProvisioningTimeout, "network errors only mean not healthy yet")
}

func TestPoller_Cancelled(t *testing.T) {
	cs := newClusterServer(t)
	p := cs.poller(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.PollUntilSuccess(ctx, testHost) }()

	require.Eventually(t, func() bool { return p.IsBusy(testHost) }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not stop after cancellation")
	}
	assert.False(t, p.IsBusy(testHost))
}

func TestPoller_SingleLoopPerHostname(t *testing.T) {
	cs := newClusterServer(t)
	p := cs.poller(10 * time.Second)

	const callers = 20
	results := make(chan error, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results <- p.PollUntilSuccess(context.Background(), testHost)
		}()
	}
	close(start)

	// Every loser returns at once while the winner keeps polling.
	for i := 0; i < callers-1; i++ {
		select {
		case err := <-results:
			assert.ErrorIs(t, err, ErrPollInProgress)
		case <-time.After(5 * time.Second):
			t.Fatal("concurrent callers were not rejected")
		}
	}
	assert.True(t, p.IsBusy(testHost))

	cs.online.Store(true)
	wg.Wait()
	close(results)

	assert.NoError(t, <-results)
	assert.False(t, p.IsBusy(testHost))
}

func TestPoller_HostnamesAreIndependent(t *testing.T) {
	p := NewPoller(PollerConfig{})
	require.True(t, p.tryAcquire("a.example.org"))
	assert.True(t, p.tryAcquire("b.example.org"))
	assert.False(t, p.tryAcquire("a.example.org"))

	p.release("a.example.org")
	assert.False(t, p.IsBusy("a.example.org"))
	assert.True(t, p.IsBusy("b.example.org"))
	p.release("b.example.org")
}

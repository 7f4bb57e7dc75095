package manager

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/castlehub/pkg/log"
	"github.com/cuemby/castlehub/pkg/metrics"
	"github.com/google/uuid"
)

// TaskInfo describes an operation in flight
type TaskInfo struct {
	ID        string    `json:"id"`
	Hostname  string    `json:"hostname"`
	Kind      string    `json:"kind"`
	StartedAt time.Time `json:"started_at"`
}

type task struct {
	info  TaskInfo
	ctx   context.Context
	group *taskGroup
	once  sync.Once
}

// taskGroup tracks every plan, apply and poll so that boot recovery can
// tell a live operation from one lost with a previous process
type taskGroup struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	tasks map[string]*task
}

func newTaskGroup() *taskGroup {
	ctx, cancel := context.WithCancel(context.Background())
	return &taskGroup{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*task),
	}
}

// begin registers a task. The caller must call end exactly once, either
// directly or through run.
func (g *taskGroup) begin(hostname, kind string) *task {
	t := &task{
		info: TaskInfo{
			ID:        uuid.New().String(),
			Hostname:  hostname,
			Kind:      kind,
			StartedAt: time.Now().UTC(),
		},
		ctx:   g.ctx,
		group: g,
	}

	g.mu.Lock()
	g.tasks[t.info.ID] = t
	g.mu.Unlock()

	g.wg.Add(1)
	metrics.BackgroundTasksActive.Inc()
	logger := log.WithTaskID(t.info.ID)
	logger.Debug().
		Str("hostname", hostname).
		Str("kind", kind).
		Msg("Task started")
	return t
}

// run executes fn on a new goroutine and ends the task when fn returns
func (t *task) run(fn func(ctx context.Context)) {
	go func() {
		defer t.end()
		fn(t.ctx)
	}()
}

func (t *task) end() {
	t.once.Do(func() {
		g := t.group
		g.mu.Lock()
		delete(g.tasks, t.info.ID)
		g.mu.Unlock()

		metrics.BackgroundTasksActive.Dec()
		logger := log.WithTaskID(t.info.ID)
		logger.Debug().
			Str("hostname", t.info.Hostname).
			Dur("elapsed", time.Since(t.info.StartedAt)).
			Msg("Task finished")
		g.wg.Done()
	})
}

// running reports whether any task is registered for hostname
func (g *taskGroup) running(hostname string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range g.tasks {
		if t.info.Hostname == hostname {
			return true
		}
	}
	return false
}

func (g *taskGroup) list() []TaskInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	infos := make([]TaskInfo, 0, len(g.tasks))
	for _, t := range g.tasks {
		infos = append(infos, t.info)
	}
	return infos
}

func (g *taskGroup) wait() {
	g.wg.Wait()
}

// shutdown cancels background tasks and waits for them, or for ctx
func (g *taskGroup) shutdown(ctx context.Context) error {
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

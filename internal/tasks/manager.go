package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gatescope/gatescope/internal/logging"
	"github.com/gatescope/gatescope/internal/metrics"
)

// Handler is one task invocation. Errors are recorded and retried on the
// next tick; they never stop the loop.
type Handler func(ctx context.Context) error

// TaskStatus is the externally visible state of one registered task.
type TaskStatus struct {
	Name      string `json:"name"`
	Interval  string `json:"interval"`
	Running   bool   `json:"running"`
	LastRun   int64  `json:"last_run,omitempty"`
	LastError string `json:"last_error,omitempty"`
	RunCount  int64  `json:"run_count"`
	Gated     bool   `json:"waits_for_warmup"`
}

type task struct {
	name     string
	interval time.Duration
	handler  Handler
	gated    bool

	mu        sync.Mutex
	running   bool
	lastRun   int64
	lastError string
	runCount  int64
}

// Manager schedules background tasks, one goroutine per task, each loop
// starting with an immediate run and then ticking at its interval. Tasks
// registered with StartAfterWarmup block on the warmup-done signal first.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	tasks []*task

	warmupDone chan struct{}
	doneOnce   sync.Once
}

func NewManager() *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		ctx:        ctx,
		cancel:     cancel,
		warmupDone: make(chan struct{}),
	}
}

// Register schedules a task that starts immediately.
func (m *Manager) Register(name string, interval time.Duration, handler Handler) {
	m.add(name, interval, handler, false)
}

// StartAfterWarmup schedules a task whose first run waits for
// SignalWarmupDone, so it only ever sees a warmed cache.
func (m *Manager) StartAfterWarmup(name string, interval time.Duration, handler Handler) {
	m.add(name, interval, handler, true)
}

func (m *Manager) add(name string, interval time.Duration, handler Handler, gated bool) {
	t := &task{name: name, interval: interval, handler: handler, gated: gated}

	m.mu.Lock()
	m.tasks = append(m.tasks, t)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(t)
}

// SignalWarmupDone releases every gated task. Safe to call more than once;
// warmup re-runs must not panic on a closed channel.
func (m *Manager) SignalWarmupDone() {
	m.doneOnce.Do(func() { close(m.warmupDone) })
}

// WarmupDone exposes the gate for callers that need to wait themselves.
func (m *Manager) WarmupDone() <-chan struct{} { return m.warmupDone }

func (m *Manager) loop(t *task) {
	defer m.wg.Done()

	if t.gated {
		select {
		case <-m.warmupDone:
		case <-m.ctx.Done():
			return
		}
	}

	m.runOnce(t)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.runOnce(t)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) runOnce(t *task) {
	t.mu.Lock()
	if t.running {
		// A slow run overlapping its own tick is skipped, not stacked.
		t.mu.Unlock()
		logging.Warn("task still running, skipping tick", "task", t.name)
		return
	}
	t.running = true
	t.mu.Unlock()

	started := time.Now()
	err := m.invoke(t)

	t.mu.Lock()
	t.running = false
	t.lastRun = started.Unix()
	t.runCount++
	if err != nil {
		t.lastError = err.Error()
	} else {
		t.lastError = ""
	}
	t.mu.Unlock()

	metrics.ObserveTaskRun(t.name, err == nil, time.Since(started))
	if err != nil {
		logging.Error("task failed", "task", t.name, "error", err)
	} else {
		logging.Debug("task finished", "task", t.name, "elapsed", time.Since(started).Round(time.Millisecond).String())
	}
}

// invoke shields the scheduler from panicking handlers.
func (m *Manager) invoke(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.handler(m.ctx)
}

// GetStatus reports every registered task, sorted by name.
func (m *Manager) GetStatus() []TaskStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]TaskStatus, 0, len(m.tasks))
	for _, t := range m.tasks {
		t.mu.Lock()
		out = append(out, TaskStatus{
			Name:      t.name,
			Interval:  t.interval.String(),
			Running:   t.running,
			LastRun:   t.lastRun,
			LastError: t.lastError,
			RunCount:  t.runCount,
			Gated:     t.gated,
		})
		t.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop cancels every loop and waits for in-flight runs to finish.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

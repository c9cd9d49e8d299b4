package warmup

import (
	"sync"
	"time"
)

// Overall warmup states.
const (
	StatusPending      = "pending"
	StatusInitializing = "initializing"
	StatusReady        = "ready"
)

// Per-step states.
const (
	StepPending = "pending"
	StepDone    = "done"
	StepError   = "error"
)

// Step is one warmup phase's progress entry.
type Step struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Snapshot is the externally visible warmup state.
type Snapshot struct {
	Status      string `json:"status"`
	Phase       string `json:"phase"`
	Progress    int    `json:"progress"`
	Total       int    `json:"total"`
	StartedAt   int64  `json:"started_at,omitempty"`
	CompletedAt int64  `json:"completed_at,omitempty"`
	CurrentTask string `json:"current_task,omitempty"`
	Message     string `json:"message,omitempty"`
	Steps       []Step `json:"steps"`
}

// tracker is the single-writer warmup state. The orchestrator writes, any
// observer reads; the steps slice is copied out so readers never alias the
// slice the writer mutates.
type tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

func newTracker(stepNames []string) *tracker {
	t := &tracker{}
	t.snap = Snapshot{
		Status: StatusPending,
		Total:  len(stepNames),
		Steps:  make([]Step, len(stepNames)),
	}
	for i, name := range stepNames {
		t.snap.Steps[i] = Step{Name: name, Status: StepPending}
	}
	return t
}

// begin resets every step and marks the run started. Re-running warmup
// starts from a clean slate.
func (t *tracker) begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Status = StatusInitializing
	t.snap.Progress = 0
	t.snap.StartedAt = time.Now().Unix()
	t.snap.CompletedAt = 0
	t.snap.Phase = ""
	t.snap.CurrentTask = ""
	t.snap.Message = ""
	for i := range t.snap.Steps {
		t.snap.Steps[i].Status = StepPending
		t.snap.Steps[i].Error = ""
	}
}

func (t *tracker) enterPhase(name, message string, progress int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Phase = name
	t.snap.CurrentTask = name
	t.snap.Message = message
	if progress > t.snap.Progress {
		t.snap.Progress = progress
	}
}

func (t *tracker) finishPhase(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.snap.Steps {
		if t.snap.Steps[i].Name != name {
			continue
		}
		if err != nil {
			t.snap.Steps[i].Status = StepError
			t.snap.Steps[i].Error = err.Error()
		} else {
			t.snap.Steps[i].Status = StepDone
		}
		return
	}
}

func (t *tracker) complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Status = StatusReady
	t.snap.Progress = 100
	t.snap.CompletedAt = time.Now().Unix()
	t.snap.CurrentTask = ""
	t.snap.Message = "warmup complete"
}

// Snapshot returns a copy safe for concurrent use.
func (t *tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.snap
	out.Steps = make([]Step, len(t.snap.Steps))
	copy(out.Steps, t.snap.Steps)
	return out
}

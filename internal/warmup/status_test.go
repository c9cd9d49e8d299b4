package warmup

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerInitialState(t *testing.T) {
	tr := newTracker(phaseNames)
	snap := tr.Snapshot()

	assert.Equal(t, StatusPending, snap.Status)
	assert.Equal(t, len(phaseNames), snap.Total)
	require.Len(t, snap.Steps, len(phaseNames))
	for i, step := range snap.Steps {
		assert.Equal(t, phaseNames[i], step.Name)
		assert.Equal(t, StepPending, step.Status)
	}
}

func TestTrackerLifecycle(t *testing.T) {
	tr := newTracker([]string{"restore", "check"})

	tr.begin()
	snap := tr.Snapshot()
	assert.Equal(t, StatusInitializing, snap.Status)
	assert.NotZero(t, snap.StartedAt)
	assert.Zero(t, snap.CompletedAt)

	tr.enterPhase("restore", "restoring snapshot", 5)
	tr.finishPhase("restore", nil)
	tr.enterPhase("check", "probing gateway", 10)
	tr.finishPhase("check", fmt.Errorf("gateway unreachable"))

	snap = tr.Snapshot()
	assert.Equal(t, "check", snap.Phase)
	assert.Equal(t, 10, snap.Progress)
	assert.Equal(t, StepDone, snap.Steps[0].Status)
	assert.Equal(t, StepError, snap.Steps[1].Status)
	assert.Equal(t, "gateway unreachable", snap.Steps[1].Error)

	tr.complete()
	snap = tr.Snapshot()
	assert.Equal(t, StatusReady, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.NotZero(t, snap.CompletedAt)
	assert.Empty(t, snap.CurrentTask)
}

func TestTrackerProgressMonotonic(t *testing.T) {
	tr := newTracker([]string{"a", "b"})
	tr.begin()

	tr.enterPhase("a", "", 40)
	tr.enterPhase("b", "", 15)
	assert.Equal(t, 40, tr.Snapshot().Progress)
}

func TestTrackerBeginResets(t *testing.T) {
	tr := newTracker([]string{"a"})
	tr.begin()
	tr.enterPhase("a", "", 50)
	tr.finishPhase("a", fmt.Errorf("transient"))
	tr.complete()

	tr.begin()
	snap := tr.Snapshot()
	assert.Equal(t, StatusInitializing, snap.Status)
	assert.Zero(t, snap.Progress)
	assert.Zero(t, snap.CompletedAt)
	assert.Equal(t, StepPending, snap.Steps[0].Status)
	assert.Empty(t, snap.Steps[0].Error)
}

func TestSnapshotCopiesSteps(t *testing.T) {
	tr := newTracker([]string{"a", "b"})
	snap := tr.Snapshot()

	snap.Steps[0].Status = "mangled"
	assert.Equal(t, StepPending, tr.Snapshot().Steps[0].Status)
}

func TestFinishPhaseUnknownNameIgnored(t *testing.T) {
	tr := newTracker([]string{"a"})
	tr.finishPhase("no-such-phase", nil)
	assert.Equal(t, StepPending, tr.Snapshot().Steps[0].Status)
}

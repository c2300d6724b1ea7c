package akashic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"apiary/internal/akashic"
	"apiary/internal/event"
)

func mkEvent(evtType, runID, taskID string) *event.Event {
	e := event.New(evtType, event.ActorSystem)
	e.RunID = runID
	e.TaskID = taskID
	return e
}

func TestResolveParentsExplicitWins(t *testing.T) {
	started := mkEvent(event.TypeRunStarted, "r1", "")
	e := mkEvent(event.TypeTaskCreated, "r1", "t1")
	e.Parents = []string{"explicit-parent"}
	got := akashic.ResolveParents(e, []*event.Event{started})
	assert.Equal(t, []string{"explicit-parent"}, got)
}

func TestResolveParentsRunStartedHasNone(t *testing.T) {
	e := mkEvent(event.TypeRunStarted, "r1", "")
	assert.Empty(t, akashic.ResolveParents(e, nil))
}

func TestResolveParentsTaskCreated(t *testing.T) {
	started := mkEvent(event.TypeRunStarted, "r1", "")
	otherRun := mkEvent(event.TypeRunStarted, "r2", "")
	e := mkEvent(event.TypeTaskCreated, "r1", "t1")
	got := akashic.ResolveParents(e, []*event.Event{otherRun, started})
	assert.Equal(t, []string{started.ID}, got)
}

func TestResolveParentsTaskLifecycle(t *testing.T) {
	created := mkEvent(event.TypeTaskCreated, "r1", "t1")
	otherTask := mkEvent(event.TypeTaskCreated, "r1", "t2")
	existing := []*event.Event{otherTask, created}

	for _, typ := range []string{
		event.TypeTaskAssigned, event.TypeTaskProgressed,
		event.TypeTaskCompleted, event.TypeTaskFailed,
	} {
		e := mkEvent(typ, "r1", "t1")
		assert.Equal(t, []string{created.ID}, akashic.ResolveParents(e, existing), typ)
	}
}

func TestResolveParentsRunCompletedMultiParent(t *testing.T) {
	c1 := mkEvent(event.TypeTaskCompleted, "r1", "t1")
	c2 := mkEvent(event.TypeTaskCompleted, "r1", "t2")
	otherRun := mkEvent(event.TypeTaskCompleted, "r2", "t3")
	e := mkEvent(event.TypeRunCompleted, "r1", "")
	got := akashic.ResolveParents(e, []*event.Event{c1, otherRun, c2})
	assert.Equal(t, []string{c1.ID, c2.ID}, got)
}

func TestResolveParentsNoMatchIsEmpty(t *testing.T) {
	e := mkEvent(event.TypeTaskCompleted, "r1", "t1")
	assert.Empty(t, akashic.ResolveParents(e, nil))
}

func TestResolveParentsUnknownTypeHasNone(t *testing.T) {
	e := mkEvent("swarm.migrated", "r1", "")
	prior := mkEvent(event.TypeRunStarted, "r1", "")
	assert.Empty(t, akashic.ResolveParents(e, []*event.Event{prior}))
}

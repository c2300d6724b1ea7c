package projection_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiary/internal/event"
	"apiary/internal/projection"
)

func runEvent(evtType, colonyID, runID string) *event.Event {
	e := event.New(evtType, event.ActorSystem)
	e.ColonyID = colonyID
	e.RunID = runID
	return e
}

func TestBuildHive(t *testing.T) {
	created := event.New(event.TypeHiveCreated, event.ActorUser)
	created.Payload = map[string]any{"name": "platform", "description": "infra work"}
	colonyEvt := runEvent(event.TypeRunStarted, "col-1", "run-1")
	closed := event.New(event.TypeHiveClosed, event.ActorUser)

	h := projection.BuildHive("hive-1", []*event.Event{created, colonyEvt, closed})
	require.NotNil(t, h)
	assert.Equal(t, "hive-1", h.ID)
	assert.Equal(t, "platform", h.Name)
	assert.Equal(t, projection.HiveClosed, h.Status)
	assert.Equal(t, []string{"col-1"}, h.Colonies)
	assert.Equal(t, 3, h.EventCount)
}

func TestBuildHiveNoEventsMeansNoEntity(t *testing.T) {
	assert.Nil(t, projection.BuildHive("hive-x", nil))
	// events without a create do not fabricate an entity
	assert.Nil(t, projection.BuildHive("hive-x", []*event.Event{
		runEvent(event.TypeRunStarted, "c", "r"),
	}))
}

func TestBuildHiveReplayIdempotent(t *testing.T) {
	created := event.New(event.TypeHiveCreated, event.ActorUser)
	created.Payload = map[string]any{"name": "n"}
	stream := []*event.Event{created, runEvent(event.TypeRunStarted, "c1", "r1")}
	first := projection.BuildHive("h", stream)
	second := projection.BuildHive("h", stream)
	assert.Equal(t, first, second)
}

func TestBuildHiveCannotUncreate(t *testing.T) {
	created := event.New(event.TypeHiveCreated, event.ActorUser)
	created.Payload = map[string]any{"name": "first"}
	again := event.New(event.TypeHiveCreated, event.ActorUser)
	again.Payload = map[string]any{"name": "second"}
	h := projection.BuildHive("h", []*event.Event{created, again})
	require.NotNil(t, h)
	assert.Equal(t, "first", h.Name)
}

func TestBuildColonyStatusRule(t *testing.T) {
	stream := []*event.Event{
		runEvent(event.TypeRunStarted, "col", "r1"),
		runEvent(event.TypeRunStarted, "col", "r2"),
		runEvent(event.TypeRunCompleted, "col", "r1"),
	}
	c := projection.BuildColony("col", stream)
	require.NotNil(t, c)
	assert.Equal(t, projection.ColonyRunning, c.Status)

	stream = append(stream, runEvent(event.TypeRunCompleted, "col", "r2"))
	assert.Equal(t, projection.ColonyCompleted, projection.BuildColony("col", stream).Status)

	stream = append(stream,
		runEvent(event.TypeRunStarted, "col", "r3"),
		runEvent(event.TypeRunFailed, "col", "r3"))
	assert.Equal(t, projection.ColonyFailed, projection.BuildColony("col", stream).Status)
}

func TestBuildColonyRepeatedStartCannotDowngrade(t *testing.T) {
	// a run announced in both its own scope and the hive scope folds as one
	// run; a second run.started after the terminal event must not reopen it
	stream := []*event.Event{
		runEvent(event.TypeRunStarted, "col", "r1"),
		runEvent(event.TypeRunCompleted, "col", "r1"),
		runEvent(event.TypeRunStarted, "col", "r1"),
	}
	c := projection.BuildColony("col", stream)
	require.NotNil(t, c)
	assert.Equal(t, projection.ColonyCompleted, c.Status)
	assert.Equal(t, "completed", c.Runs["r1"])
}

func TestBuildColonyUnknownIsNil(t *testing.T) {
	assert.Nil(t, projection.BuildColony("ghost", nil))
}

func TestTrackerLifecycle(t *testing.T) {
	tr := projection.NewProgressTracker()
	tr.Apply(runEvent(event.TypeRunStarted, "c", "r1"))
	st, ok := tr.ColonyStatus("c")
	require.True(t, ok)
	assert.Equal(t, projection.ColonyRunning, st)

	tr.Apply(runEvent(event.TypeRunCompleted, "c", "r1"))
	st, _ = tr.ColonyStatus("c")
	assert.Equal(t, projection.ColonyCompleted, st)
}

func TestTrackerFailureIsIrreversible(t *testing.T) {
	tr := projection.NewProgressTracker()
	tr.Apply(runEvent(event.TypeRunStarted, "c", "r1"))
	tr.Apply(runEvent(event.TypeRunCompleted, "c", "r1"))
	tr.Apply(runEvent(event.TypeRunStarted, "c", "r2"))
	tr.Apply(runEvent(event.TypeRunFailed, "c", "r2"))

	st, _ := tr.ColonyStatus("c")
	assert.Equal(t, projection.ColonyFailed, st)

	// further completions cannot resurrect the colony
	tr.Apply(runEvent(event.TypeRunStarted, "c", "r3"))
	tr.Apply(runEvent(event.TypeRunCompleted, "c", "r3"))
	st, _ = tr.ColonyStatus("c")
	assert.Equal(t, projection.ColonyFailed, st)
}

func TestShouldEmitColonyEventOnceOnEdge(t *testing.T) {
	tr := projection.NewProgressTracker()

	_, emit := tr.ShouldEmitColonyEvent(runEvent(event.TypeRunStarted, "c", "r1"))
	assert.False(t, emit)

	typ, emit := tr.ShouldEmitColonyEvent(runEvent(event.TypeRunCompleted, "c", "r1"))
	require.True(t, emit)
	assert.Equal(t, event.TypeColonyCompleted, typ)

	// replay-adjacent event after terminal must not re-emit
	_, emit = tr.ShouldEmitColonyEvent(runEvent(event.TypeRunCompleted, "c", "r1"))
	assert.False(t, emit)

	// a later failure announces the flip to failed, once
	tr.Apply(runEvent(event.TypeRunStarted, "c", "r2"))
	typ, emit = tr.ShouldEmitColonyEvent(runEvent(event.TypeRunFailed, "c", "r2"))
	require.True(t, emit)
	assert.Equal(t, event.TypeColonyFailed, typ)

	_, emit = tr.ShouldEmitColonyEvent(runEvent(event.TypeRunFailed, "c", "r2"))
	assert.False(t, emit)
}

func chain() []*event.Event {
	// started <- created(t1) <- completed(t1) ; completed <- runDone
	started := runEvent(event.TypeRunStarted, "", "r")
	created := runEvent(event.TypeTaskCreated, "", "r")
	created.Parents = []string{started.ID}
	completed := runEvent(event.TypeTaskCompleted, "", "r")
	completed.Parents = []string{created.ID}
	runDone := runEvent(event.TypeRunCompleted, "", "r")
	runDone.Parents = []string{completed.ID}
	return []*event.Event{started, created, completed, runDone}
}

func TestTraverseAncestors(t *testing.T) {
	events := chain()
	tr, err := projection.Traverse(events, events[3].ID, projection.Ancestors, 10)
	require.NoError(t, err)
	require.Len(t, tr.Related, 3)
	assert.Equal(t, events[2].ID, tr.Related[0].Event.ID)
	assert.Equal(t, 1, tr.Related[0].Depth)
	assert.Equal(t, events[0].ID, tr.Related[2].Event.ID)
	assert.Equal(t, 3, tr.Related[2].Depth)
	assert.False(t, tr.Truncated)
}

func TestTraverseDescendants(t *testing.T) {
	events := chain()
	tr, err := projection.Traverse(events, events[0].ID, projection.Descendants, 10)
	require.NoError(t, err)
	require.Len(t, tr.Related, 3)
	assert.Equal(t, "descendant", tr.Related[0].Relation)
}

func TestTraverseTruncation(t *testing.T) {
	events := chain()
	tr, err := projection.Traverse(events, events[3].ID, projection.Ancestors, 1)
	require.NoError(t, err)
	assert.Len(t, tr.Related, 1)
	assert.True(t, tr.Truncated)
}

func TestTraverseValidation(t *testing.T) {
	events := chain()
	_, err := projection.Traverse(events, events[0].ID, "sideways", 5)
	assert.Error(t, err)
	_, err = projection.Traverse(events, events[0].ID, projection.Ancestors, 0)
	assert.Error(t, err)
	_, err = projection.Traverse(events, events[0].ID, projection.Ancestors, 101)
	assert.Error(t, err)
	_, err = projection.Traverse(events, "missing", projection.Ancestors, 5)
	assert.ErrorIs(t, err, projection.ErrUnknownEvent)
}

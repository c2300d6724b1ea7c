package projection

import (
	"apiary/internal/event"
)

// ProgressTracker is a stateful accumulator of run progress per colony. It
// drives secondary event emission: when a run event tips a colony into a
// terminal state, ShouldEmitColonyEvent names the derived event to append.
type ProgressTracker struct {
	colonies map[string]map[string]string // colony -> run -> status
	failed   map[string]bool              // failure is irreversible
	emitted  map[string]ColonyStatus      // last terminal status emitted
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		colonies: map[string]map[string]string{},
		failed:   map[string]bool{},
		emitted:  map[string]ColonyStatus{},
	}
}

// Apply folds a single event into the tracker. Non-run events are ignored.
func (t *ProgressTracker) Apply(e *event.Event) {
	if e.ColonyID == "" || e.RunID == "" {
		return
	}
	runs, ok := t.colonies[e.ColonyID]
	if !ok {
		runs = map[string]string{}
		t.colonies[e.ColonyID] = runs
	}
	switch e.Type {
	case event.TypeRunStarted:
		runs[e.RunID] = "running"
	case event.TypeRunCompleted:
		runs[e.RunID] = "completed"
	case event.TypeRunFailed:
		runs[e.RunID] = "failed"
		t.failed[e.ColonyID] = true
	}
}

// ColonyStatus reports the tracked status of a colony. The second return is
// false for colonies the tracker has never seen.
func (t *ProgressTracker) ColonyStatus(colonyID string) (ColonyStatus, bool) {
	runs, ok := t.colonies[colonyID]
	if !ok {
		return "", false
	}
	if t.failed[colonyID] {
		return ColonyFailed, true
	}
	return colonyStatusOf(runs), true
}

// RunStatuses returns a copy of the run map for a colony.
func (t *ProgressTracker) RunStatuses(colonyID string) map[string]string {
	out := map[string]string{}
	for run, st := range t.colonies[colonyID] {
		out[run] = st
	}
	return out
}

// ShouldEmitColonyEvent applies the event, then reports the derived event
// type (colony.completed or colony.failed) iff the colony's status just
// crossed into that terminal state because of this event. Once a terminal
// status has been announced it is never re-announced; a completed colony
// that later fails still announces the failure once.
func (t *ProgressTracker) ShouldEmitColonyEvent(e *event.Event) (string, bool) {
	t.Apply(e)
	if e.ColonyID == "" {
		return "", false
	}
	status, ok := t.ColonyStatus(e.ColonyID)
	if !ok {
		return "", false
	}
	if status != ColonyCompleted && status != ColonyFailed {
		return "", false
	}
	if t.emitted[e.ColonyID] == status || t.emitted[e.ColonyID] == ColonyFailed {
		return "", false
	}
	t.emitted[e.ColonyID] = status
	if status == ColonyFailed {
		return event.TypeColonyFailed, true
	}
	return event.TypeColonyCompleted, true
}

package akashic

import "apiary/internal/event"

// ResolveParents assigns causal parents to an incoming event by type rule.
// Explicit parents always win. Lineage is best effort: when no matching
// ancestor exists in the replayed stream, the parent list is simply empty.
//
// Rules:
//   - run.started: no parents
//   - task.created: the run.started event sharing its run id
//   - task.assigned/progressed/completed/failed: the task.created event
//     sharing both run id and task id
//   - run.completed: every task.completed event sharing its run id
//   - anything else: no parents
func ResolveParents(e *event.Event, existing []*event.Event) []string {
	if len(e.Parents) > 0 {
		return e.Parents
	}
	switch e.Type {
	case event.TypeTaskCreated:
		for _, prior := range existing {
			if prior.Type == event.TypeRunStarted && prior.RunID == e.RunID {
				return []string{prior.ID}
			}
		}
	case event.TypeTaskAssigned, event.TypeTaskProgressed,
		event.TypeTaskCompleted, event.TypeTaskFailed:
		for _, prior := range existing {
			if prior.Type == event.TypeTaskCreated &&
				prior.RunID == e.RunID && prior.TaskID == e.TaskID {
				return []string{prior.ID}
			}
		}
	case event.TypeRunCompleted:
		var parents []string
		for _, prior := range existing {
			if prior.Type == event.TypeTaskCompleted && prior.RunID == e.RunID {
				parents = append(parents, prior.ID)
			}
		}
		return parents
	}
	return nil
}

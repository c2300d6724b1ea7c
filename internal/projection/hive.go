// Package projection rebuilds read models by folding event streams. Builders
// are pure functions of the replayed sequence: replaying twice yields the
// same projection, and no event can un-create an entity.
package projection

import (
	"apiary/internal/event"
)

type HiveStatus string

const (
	HiveActive HiveStatus = "active"
	HiveClosed HiveStatus = "closed"
)

// Hive is the projected state of a top-level container. It is never stored;
// it exists only as the fold of its event stream.
type Hive struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      HiveStatus `json:"status"`
	Colonies    []string   `json:"colonies,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
	EventCount  int        `json:"event_count"`
}

// BuildHive folds the hive scope's events. Returns nil when the stream holds
// no hive.created event: absence of events means the entity does not exist.
func BuildHive(scopeID string, events []*event.Event) *Hive {
	var h *Hive
	seen := map[string]bool{}
	for _, e := range events {
		switch e.Type {
		case event.TypeHiveCreated:
			if h != nil {
				continue // created is monotonic; later creates are ignored
			}
			h = &Hive{ID: scopeID, Status: HiveActive, CreatedBy: e.Actor}
			if name, ok := e.Payload["name"].(string); ok {
				h.Name = name
			}
			if desc, ok := e.Payload["description"].(string); ok {
				h.Description = desc
			}
		case event.TypeHiveClosed:
			if h != nil {
				h.Status = HiveClosed
			}
		default:
			if h != nil && e.ColonyID != "" && !seen[e.ColonyID] {
				seen[e.ColonyID] = true
				h.Colonies = append(h.Colonies, e.ColonyID)
			}
		}
		if h != nil {
			h.EventCount++
		}
	}
	return h
}

// Colony is the projected run ledger of one colony.
type Colony struct {
	ID     string            `json:"id"`
	Status ColonyStatus      `json:"status"`
	Runs   map[string]string `json:"runs"`
}

type ColonyStatus string

const (
	ColonyRunning   ColonyStatus = "running"
	ColonyCompleted ColonyStatus = "completed"
	ColonyFailed    ColonyStatus = "failed"
)

// BuildColony folds run lifecycle events for one colony out of a stream.
// Returns nil when the stream mentions no run for the colony.
func BuildColony(colonyID string, events []*event.Event) *Colony {
	var c *Colony
	ensure := func() *Colony {
		if c == nil {
			c = &Colony{ID: colonyID, Status: ColonyRunning, Runs: map[string]string{}}
		}
		return c
	}
	for _, e := range events {
		if e.ColonyID != colonyID || e.RunID == "" {
			continue
		}
		switch e.Type {
		case event.TypeRunStarted:
			// a run may be announced in more than one scope; never let a
			// later announcement downgrade a terminal status
			if _, seen := ensure().Runs[e.RunID]; !seen {
				c.Runs[e.RunID] = "running"
			}
		case event.TypeRunCompleted:
			ensure().Runs[e.RunID] = "completed"
		case event.TypeRunFailed:
			ensure().Runs[e.RunID] = "failed"
		}
	}
	if c != nil {
		c.Status = colonyStatusOf(c.Runs)
	}
	return c
}

// colonyStatusOf applies the colony rule: any failed run fails the colony,
// all runs completed completes it, anything else is still running.
func colonyStatusOf(runs map[string]string) ColonyStatus {
	if len(runs) == 0 {
		return ColonyRunning
	}
	completed := 0
	for _, st := range runs {
		switch st {
		case "failed":
			return ColonyFailed
		case "completed":
			completed++
		}
	}
	if completed == len(runs) {
		return ColonyCompleted
	}
	return ColonyRunning
}

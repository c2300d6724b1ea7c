package projection

import (
	"errors"
	"fmt"

	"apiary/internal/event"
)

// Direction selects which way a lineage traversal walks.
type Direction string

const (
	Ancestors   Direction = "ancestors"
	Descendants Direction = "descendants"
	Both        Direction = "both"
)

const (
	MinDepth = 1
	MaxDepth = 100
)

var ErrUnknownEvent = errors.New("event not found in replayed set")

// Related is one event reached by a traversal, with its distance from the
// origin and which way it was reached.
type Related struct {
	Event    *event.Event `json:"event"`
	Depth    int          `json:"depth"`
	Relation string       `json:"relation"` // ancestor | descendant
}

// Traversal is the result of a lineage walk.
type Traversal struct {
	Origin    *event.Event `json:"origin"`
	Direction Direction    `json:"direction"`
	Related   []Related    `json:"related"`
	Truncated bool         `json:"truncated"`
}

// Traverse walks the causal graph from eventID over the replayed events.
// Ancestors follow parent pointers; descendants are found by scanning every
// event for a parent link to the frontier (no reverse index is kept, so each
// level costs O(n)). Visits are deduplicated and bounded by maxDepth.
func Traverse(events []*event.Event, eventID string, dir Direction, maxDepth int) (*Traversal, error) {
	switch dir {
	case Ancestors, Descendants, Both:
	default:
		return nil, fmt.Errorf("invalid direction %q", dir)
	}
	if maxDepth < MinDepth || maxDepth > MaxDepth {
		return nil, fmt.Errorf("max_depth must be between %d and %d, got %d", MinDepth, MaxDepth, maxDepth)
	}
	byID := make(map[string]*event.Event, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}
	origin, ok := byID[eventID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
	}

	result := &Traversal{Origin: origin, Direction: dir}
	if dir == Ancestors || dir == Both {
		result.walk(events, byID, origin, maxDepth, "ancestor")
	}
	if dir == Descendants || dir == Both {
		result.walk(events, byID, origin, maxDepth, "descendant")
	}
	return result, nil
}

func (tr *Traversal) walk(events []*event.Event, byID map[string]*event.Event, origin *event.Event, maxDepth int, relation string) {
	visited := map[string]bool{origin.ID: true}
	frontier := []*event.Event{origin}
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []*event.Event
		for _, cur := range frontier {
			for _, e := range neighbors(events, byID, cur, relation) {
				if visited[e.ID] {
					continue
				}
				visited[e.ID] = true
				tr.Related = append(tr.Related, Related{Event: e, Depth: depth, Relation: relation})
				next = append(next, e)
			}
		}
		frontier = next
		if depth == maxDepth && len(frontier) > 0 {
			// another level exists beyond the bound
			if hasUnvisitedNeighbors(events, byID, frontier, visited, relation) {
				tr.Truncated = true
			}
		}
	}
}

func neighbors(events []*event.Event, byID map[string]*event.Event, cur *event.Event, relation string) []*event.Event {
	var out []*event.Event
	if relation == "ancestor" {
		for _, pid := range cur.Parents {
			if p, ok := byID[pid]; ok {
				out = append(out, p)
			}
		}
		return out
	}
	for _, e := range events {
		for _, pid := range e.Parents {
			if pid == cur.ID {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func hasUnvisitedNeighbors(events []*event.Event, byID map[string]*event.Event, frontier []*event.Event, visited map[string]bool, relation string) bool {
	for _, cur := range frontier {
		for _, e := range neighbors(events, byID, cur, relation) {
			if !visited[e.ID] {
				return true
			}
		}
	}
	return false
}

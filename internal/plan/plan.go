// Package plan models goal decomposition: a DAG of tasks and the layered
// order in which a colony may execute them.
package plan

import (
	"errors"
	"fmt"
)

var ErrCycle = errors.New("task dependency cycle")

// Task is one planned unit of work.
type Task struct {
	ID        string   `json:"id"`
	Goal      string   `json:"goal"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// Plan is a DAG of tasks produced from a goal.
type Plan struct {
	Tasks     []Task `json:"tasks"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Task returns the task with the given id.
func (p Plan) Task(id string) (Task, bool) {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// ExecutionOrder partitions the tasks into ordered layers: layer 0 holds all
// tasks with no dependencies, layer k holds tasks whose dependencies all lie
// in earlier layers. Members of one layer are mutually independent; their
// order within the layer carries no meaning. Cyclic graphs are rejected.
func (p Plan) ExecutionOrder() ([][]string, error) {
	ids := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if ids[t.ID] {
			return nil, fmt.Errorf("duplicate task id %q", t.ID)
		}
		ids[t.ID] = true
	}
	indegree := make(map[string]int, len(p.Tasks))
	dependents := map[string][]string{}
	for _, t := range p.Tasks {
		indegree[t.ID] = 0
	}
	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if !ids[dep] {
				return nil, fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var layers [][]string
	var frontier []string
	for _, t := range p.Tasks {
		if indegree[t.ID] == 0 {
			frontier = append(frontier, t.ID)
		}
	}
	placed := 0
	for len(frontier) > 0 {
		layers = append(layers, frontier)
		placed += len(frontier)
		var next []string
		for _, id := range frontier {
			for _, dep := range dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		frontier = next
	}
	if placed != len(p.Tasks) {
		return nil, ErrCycle
	}
	return layers, nil
}

package colony

import (
	"sort"
	"sync"
)

// Priority ranks colonies competing for a shared worker pool.
type Priority string

const (
	PriorityCritical   Priority = "critical"
	PriorityHigh       Priority = "high"
	PriorityNormal     Priority = "normal"
	PriorityLow        Priority = "low"
	PriorityBackground Priority = "background"
)

// Weight converts a priority into its scheduling weight. Unknown priorities
// weigh the same as normal.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 100
	case PriorityHigh:
		return 75
	case PriorityNormal:
		return 50
	case PriorityLow:
		return 25
	case PriorityBackground:
		return 10
	}
	return 50
}

// ColonyConfig describes one colony's claim on the worker pool.
type ColonyConfig struct {
	ColonyID   string
	Priority   Priority
	MinWorkers int
	MaxWorkers int
	Enabled    bool
}

// Scheduler divides a fixed worker pool across registered colonies by
// priority weight. It holds no goroutines; AllocateWorkers is a pure
// computation over the current registrations.
type Scheduler struct {
	mu           sync.Mutex
	totalWorkers int
	configs      map[string]ColonyConfig
}

func NewScheduler(totalWorkers int) *Scheduler {
	return &Scheduler{totalWorkers: totalWorkers, configs: map[string]ColonyConfig{}}
}

// Register adds or replaces a colony's configuration.
func (s *Scheduler) Register(cfg ColonyConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ColonyID] = cfg
}

// Unregister removes a colony from scheduling.
func (s *Scheduler) Unregister(colonyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, colonyID)
}

// SetEnabled toggles a colony without losing its configuration.
func (s *Scheduler) SetEnabled(colonyID string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.configs[colonyID]; ok {
		cfg.Enabled = enabled
		s.configs[colonyID] = cfg
	}
}

// AllocateWorkers assigns the pool to enabled colonies. Minimums are granted
// first in descending weight order; whatever remains is split proportionally
// to weight, capped by each colony's maximum. Disabled colonies get nothing.
func (s *Scheduler) AllocateWorkers() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make([]ColonyConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		if cfg.Enabled {
			active = append(active, cfg)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		wi, wj := active[i].Priority.Weight(), active[j].Priority.Weight()
		if wi != wj {
			return wi > wj
		}
		return active[i].ColonyID < active[j].ColonyID
	})

	alloc := make(map[string]int, len(active))
	remaining := s.totalWorkers

	for _, cfg := range active {
		n := cfg.MinWorkers
		if n > remaining {
			n = remaining
		}
		alloc[cfg.ColonyID] = n
		remaining -= n
	}

	totalWeight := 0
	for _, cfg := range active {
		if alloc[cfg.ColonyID] < cfg.MaxWorkers {
			totalWeight += cfg.Priority.Weight()
		}
	}
	if remaining > 0 && totalWeight > 0 {
		pool := remaining
		for _, cfg := range active {
			headroom := cfg.MaxWorkers - alloc[cfg.ColonyID]
			if headroom <= 0 {
				continue
			}
			share := pool * cfg.Priority.Weight() / totalWeight
			if share > headroom {
				share = headroom
			}
			if share > remaining {
				share = remaining
			}
			alloc[cfg.ColonyID] += share
			remaining -= share
		}
		// Rounding leftovers trickle down in weight order.
		for remaining > 0 {
			granted := false
			for _, cfg := range active {
				if remaining == 0 {
					break
				}
				if alloc[cfg.ColonyID] < cfg.MaxWorkers {
					alloc[cfg.ColonyID]++
					remaining--
					granted = true
				}
			}
			if !granted {
				break
			}
		}
	}
	return alloc
}

// ShouldPreempt reports whether a waiting colony outranks a running one.
// Equal weights never preempt.
func (s *Scheduler) ShouldPreempt(runningID, waitingID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	running, ok := s.configs[runningID]
	if !ok {
		return false
	}
	waiting, ok := s.configs[waitingID]
	if !ok || !waiting.Enabled {
		return false
	}
	return waiting.Priority.Weight() > running.Priority.Weight()
}

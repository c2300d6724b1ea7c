package colony_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"apiary/internal/colony"
)

func TestAllocateWorkersProportionalToWeight(t *testing.T) {
	s := colony.NewScheduler(10)
	s.Register(colony.ColonyConfig{ColonyID: "alpha", Priority: colony.PriorityCritical, MinWorkers: 1, MaxWorkers: 10, Enabled: true})
	s.Register(colony.ColonyConfig{ColonyID: "beta", Priority: colony.PriorityLow, MinWorkers: 1, MaxWorkers: 10, Enabled: true})

	alloc := s.AllocateWorkers()
	assert.Equal(t, 8, alloc["alpha"])
	assert.Equal(t, 2, alloc["beta"])
}

func TestAllocateWorkersHonorsMinimumsFirst(t *testing.T) {
	s := colony.NewScheduler(3)
	s.Register(colony.ColonyConfig{ColonyID: "alpha", Priority: colony.PriorityCritical, MinWorkers: 2, MaxWorkers: 5, Enabled: true})
	s.Register(colony.ColonyConfig{ColonyID: "beta", Priority: colony.PriorityBackground, MinWorkers: 2, MaxWorkers: 5, Enabled: true})

	alloc := s.AllocateWorkers()
	// Higher weight claims its minimum first when the pool cannot cover both.
	assert.Equal(t, 2, alloc["alpha"])
	assert.Equal(t, 1, alloc["beta"])
}

func TestAllocateWorkersCapsAtMaximum(t *testing.T) {
	s := colony.NewScheduler(10)
	s.Register(colony.ColonyConfig{ColonyID: "alpha", Priority: colony.PriorityCritical, MinWorkers: 1, MaxWorkers: 3, Enabled: true})
	s.Register(colony.ColonyConfig{ColonyID: "beta", Priority: colony.PriorityNormal, MinWorkers: 1, MaxWorkers: 10, Enabled: true})

	alloc := s.AllocateWorkers()
	assert.Equal(t, 3, alloc["alpha"])
	assert.Equal(t, 7, alloc["beta"])
}

func TestAllocateWorkersSkipsDisabled(t *testing.T) {
	s := colony.NewScheduler(5)
	s.Register(colony.ColonyConfig{ColonyID: "alpha", Priority: colony.PriorityNormal, MinWorkers: 1, MaxWorkers: 5, Enabled: true})
	s.Register(colony.ColonyConfig{ColonyID: "beta", Priority: colony.PriorityNormal, MinWorkers: 1, MaxWorkers: 5, Enabled: false})

	alloc := s.AllocateWorkers()
	assert.Equal(t, 5, alloc["alpha"])
	_, present := alloc["beta"]
	assert.False(t, present)

	s.SetEnabled("beta", true)
	alloc = s.AllocateWorkers()
	assert.Contains(t, alloc, "beta")
}

func TestShouldPreemptStrictlyHigherWeightOnly(t *testing.T) {
	s := colony.NewScheduler(4)
	s.Register(colony.ColonyConfig{ColonyID: "run-low", Priority: colony.PriorityLow, Enabled: true})
	s.Register(colony.ColonyConfig{ColonyID: "run-low-2", Priority: colony.PriorityLow, Enabled: true})
	s.Register(colony.ColonyConfig{ColonyID: "wait-crit", Priority: colony.PriorityCritical, Enabled: true})

	assert.True(t, s.ShouldPreempt("run-low", "wait-crit"))
	assert.False(t, s.ShouldPreempt("run-low", "run-low-2"))
	assert.False(t, s.ShouldPreempt("wait-crit", "run-low"))
	assert.False(t, s.ShouldPreempt("run-low", "unknown"))
}

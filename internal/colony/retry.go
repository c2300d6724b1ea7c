package colony

import (
	"math"
	"sync"
	"time"
)

// Strategy controls which worker may pick up a retried task.
type Strategy string

const (
	RetryNone            Strategy = "none"
	RetrySameWorker      Strategy = "same_worker"
	RetryDifferentWorker Strategy = "different_worker"
	RetryAnyWorker       Strategy = "any_worker"
)

// RetryPolicy bounds retries for every task in a colony run.
type RetryPolicy struct {
	Strategy          Strategy
	MaxRetries        int
	BackoffSeconds    float64
	BackoffMultiplier float64
}

// DefaultRetryPolicy retries up to three times on any worker with 1s/2s/4s
// backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Strategy:          RetryAnyWorker,
		MaxRetries:        3,
		BackoffSeconds:    1,
		BackoffMultiplier: 2,
	}
}

type retryState struct {
	attempts  int
	workers   []string
	lastError string
}

// RetryManager keeps per-task retry bookkeeping for one colony run. State is
// created lazily on first failure and discarded with the run.
type RetryManager struct {
	mu     sync.Mutex
	policy RetryPolicy
	tasks  map[string]*retryState
}

func NewRetryManager(policy RetryPolicy) *RetryManager {
	return &RetryManager{policy: policy, tasks: map[string]*retryState{}}
}

// RecordFailure bumps the task's attempt counter and remembers the worker.
func (m *RetryManager) RecordFailure(taskID, workerID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tasks[taskID]
	if !ok {
		st = &retryState{}
		m.tasks[taskID] = st
	}
	st.attempts++
	st.lastError = reason
	if workerID != "" {
		st.workers = append(st.workers, workerID)
	}
}

// ShouldRetry reports whether the task has retry budget left. Untried tasks
// are always retryable (they have not consumed any attempts).
func (m *RetryManager) ShouldRetry(taskID string) bool {
	if m.policy.Strategy == RetryNone {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tasks[taskID]
	if !ok {
		return true
	}
	return st.attempts < m.policy.MaxRetries
}

// RetryDelay computes the backoff for the task's next attempt:
// backoff * multiplier^(attempt-1). Evaluated lazily; the caller sleeps.
func (m *RetryManager) RetryDelay(taskID string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tasks[taskID]
	if !ok || st.attempts == 0 {
		return 0
	}
	seconds := m.policy.BackoffSeconds * math.Pow(m.policy.BackoffMultiplier, float64(st.attempts-1))
	return time.Duration(seconds * float64(time.Second))
}

// ExcludedWorkers lists workers that must not pick the task up again. Only
// the different-worker strategy excludes anyone.
func (m *RetryManager) ExcludedWorkers(taskID string) []string {
	if m.policy.Strategy != RetryDifferentWorker {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.tasks[taskID]
	if !ok {
		return nil
	}
	out := make([]string, len(st.workers))
	copy(out, st.workers)
	return out
}

// Attempts returns how many failures the task has accumulated.
func (m *RetryManager) Attempts(taskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.tasks[taskID]; ok {
		return st.attempts
	}
	return 0
}

// LastError returns the most recent failure reason for the task.
func (m *RetryManager) LastError(taskID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.tasks[taskID]; ok {
		return st.lastError
	}
	return ""
}

// ResetTask clears all retry state for the task.
func (m *RetryManager) ResetTask(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
}

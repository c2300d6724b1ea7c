package colony_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"apiary/internal/colony"
)

func TestRetryBudget(t *testing.T) {
	m := colony.NewRetryManager(colony.RetryPolicy{Strategy: colony.RetryAnyWorker, MaxRetries: 2})

	assert.True(t, m.ShouldRetry("t1"))
	m.RecordFailure("t1", "w1", "boom")
	assert.True(t, m.ShouldRetry("t1"))
	m.RecordFailure("t1", "w1", "boom again")
	assert.False(t, m.ShouldRetry("t1"))

	assert.Equal(t, 2, m.Attempts("t1"))
	assert.Equal(t, "boom again", m.LastError("t1"))
}

func TestRetryNoneNeverRetries(t *testing.T) {
	m := colony.NewRetryManager(colony.RetryPolicy{Strategy: colony.RetryNone, MaxRetries: 5})
	assert.False(t, m.ShouldRetry("t1"))
}

func TestRetryDelayGrowsExponentially(t *testing.T) {
	m := colony.NewRetryManager(colony.RetryPolicy{
		Strategy: colony.RetryAnyWorker, MaxRetries: 5,
		BackoffSeconds: 1, BackoffMultiplier: 2,
	})
	assert.Equal(t, time.Duration(0), m.RetryDelay("t1"))

	m.RecordFailure("t1", "w1", "x")
	assert.Equal(t, time.Second, m.RetryDelay("t1"))
	m.RecordFailure("t1", "w1", "x")
	assert.Equal(t, 2*time.Second, m.RetryDelay("t1"))
	m.RecordFailure("t1", "w1", "x")
	assert.Equal(t, 4*time.Second, m.RetryDelay("t1"))
}

func TestExcludedWorkersOnlyForDifferentWorker(t *testing.T) {
	diff := colony.NewRetryManager(colony.RetryPolicy{Strategy: colony.RetryDifferentWorker, MaxRetries: 3})
	diff.RecordFailure("t1", "w1", "x")
	diff.RecordFailure("t1", "w2", "x")
	assert.Equal(t, []string{"w1", "w2"}, diff.ExcludedWorkers("t1"))

	same := colony.NewRetryManager(colony.RetryPolicy{Strategy: colony.RetrySameWorker, MaxRetries: 3})
	same.RecordFailure("t1", "w1", "x")
	assert.Empty(t, same.ExcludedWorkers("t1"))
}

func TestResetTask(t *testing.T) {
	m := colony.NewRetryManager(colony.RetryPolicy{Strategy: colony.RetryAnyWorker, MaxRetries: 1})
	m.RecordFailure("t1", "w1", "x")
	assert.False(t, m.ShouldRetry("t1"))

	m.ResetTask("t1")
	assert.True(t, m.ShouldRetry("t1"))
	assert.Equal(t, 0, m.Attempts("t1"))
}

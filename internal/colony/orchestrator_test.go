package colony_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiary/internal/colony"
	"apiary/internal/plan"
)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestRunExecutesLayersInOrder(t *testing.T) {
	p := plan.Plan{Tasks: []plan.Task{
		{ID: "a", Goal: "first"},
		{ID: "b", Goal: "second", DependsOn: []string{"a"}},
		{ID: "c", Goal: "also second", DependsOn: []string{"a"}},
	}}

	var mu sync.Mutex
	var order []string
	o := &colony.Orchestrator{
		Worker: colony.WorkerFunc("w1", func(ctx context.Context, req colony.WorkRequest) (colony.WorkResponse, error) {
			mu.Lock()
			order = append(order, req.TaskID)
			mu.Unlock()
			return colony.WorkResponse{Status: colony.WorkCompleted, Result: "out-" + req.TaskID}, nil
		}),
		Sleep: noSleep,
	}

	results, err := o.Run(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for id, res := range results {
		assert.Equal(t, colony.TaskCompleted, res.Status, id)
	}
	require.Len(t, order, 3)
	assert.Equal(t, "a", order[0])
}

func TestRunPassesDependencyOutputsOnly(t *testing.T) {
	p := plan.Plan{Tasks: []plan.Task{
		{ID: "a", Goal: "g"},
		{ID: "b", Goal: "g"},
		{ID: "c", Goal: "g", DependsOn: []string{"a"}},
	}}

	var mu sync.Mutex
	seen := map[string]map[string]string{}
	o := &colony.Orchestrator{
		Worker: colony.WorkerFunc("w1", func(ctx context.Context, req colony.WorkRequest) (colony.WorkResponse, error) {
			mu.Lock()
			seen[req.TaskID] = req.Inputs
			mu.Unlock()
			return colony.WorkResponse{Status: colony.WorkCompleted, Result: "out-" + req.TaskID}, nil
		}),
		Sleep: noSleep,
	}

	_, err := o.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, seen["a"])
	assert.Empty(t, seen["b"])
	assert.Equal(t, map[string]string{"a": "out-a"}, seen["c"])
}

func TestRunSkipsDependentsOfFailedTask(t *testing.T) {
	p := plan.Plan{Tasks: []plan.Task{
		{ID: "a", Goal: "g"},
		{ID: "b", Goal: "g"},
		{ID: "c", Goal: "g", DependsOn: []string{"a"}},
		{ID: "d", Goal: "g", DependsOn: []string{"c"}},
		{ID: "e", Goal: "g", DependsOn: []string{"b"}},
	}}

	o := &colony.Orchestrator{
		Worker: colony.WorkerFunc("w1", func(ctx context.Context, req colony.WorkRequest) (colony.WorkResponse, error) {
			if req.TaskID == "a" {
				return colony.WorkResponse{Status: "failed", Reason: "no disk"}, nil
			}
			return colony.WorkResponse{Status: colony.WorkCompleted}, nil
		}),
		Sleep: noSleep,
	}

	results, err := o.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, colony.TaskFailed, results["a"].Status)
	assert.Equal(t, "no disk", results["a"].Reason)
	assert.Equal(t, colony.TaskSkipped, results["c"].Status)
	assert.Equal(t, "dependency a failed", results["c"].Reason)
	// Skips cascade transitively.
	assert.Equal(t, colony.TaskSkipped, results["d"].Status)
	assert.Equal(t, "dependency c was skipped", results["d"].Reason)
	// Siblings are unaffected.
	assert.Equal(t, colony.TaskCompleted, results["b"].Status)
	assert.Equal(t, colony.TaskCompleted, results["e"].Status)
}

func TestRunRecoversWorkerPanic(t *testing.T) {
	p := plan.Plan{Tasks: []plan.Task{{ID: "a", Goal: "g"}, {ID: "b", Goal: "g"}}}
	o := &colony.Orchestrator{
		Worker: colony.WorkerFunc("w1", func(ctx context.Context, req colony.WorkRequest) (colony.WorkResponse, error) {
			if req.TaskID == "a" {
				panic("nil map write")
			}
			return colony.WorkResponse{Status: colony.WorkCompleted}, nil
		}),
		Sleep: noSleep,
	}

	results, err := o.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, colony.TaskFailed, results["a"].Status)
	assert.Contains(t, results["a"].Reason, "worker panic")
	assert.Equal(t, colony.TaskCompleted, results["b"].Status)
}

func TestRunDefaultsFailureReason(t *testing.T) {
	p := plan.Plan{Tasks: []plan.Task{{ID: "a", Goal: "g"}}}
	o := &colony.Orchestrator{
		Worker: colony.WorkerFunc("w1", func(ctx context.Context, req colony.WorkRequest) (colony.WorkResponse, error) {
			return colony.WorkResponse{Status: "weird"}, nil
		}),
		Sleep: noSleep,
	}
	results, err := o.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "unknown error", results["a"].Reason)
}

func TestRunRetriesUntilBudgetExhausted(t *testing.T) {
	p := plan.Plan{Tasks: []plan.Task{{ID: "a", Goal: "g"}}}
	calls := 0
	o := &colony.Orchestrator{
		Worker: colony.WorkerFunc("w1", func(ctx context.Context, req colony.WorkRequest) (colony.WorkResponse, error) {
			calls++
			return colony.WorkResponse{}, errors.New("transient")
		}),
		Retry: colony.NewRetryManager(colony.RetryPolicy{
			Strategy: colony.RetryAnyWorker, MaxRetries: 2,
			BackoffSeconds: 1, BackoffMultiplier: 2,
		}),
		Sleep: noSleep,
	}

	results, err := o.Run(context.Background(), p)
	require.NoError(t, err)
	// MaxRetries bounds the total number of failed attempts.
	assert.Equal(t, 2, calls)
	assert.Equal(t, colony.TaskFailed, results["a"].Status)
	assert.Equal(t, 2, results["a"].Attempts)
}

func TestRunRetrySucceedsOnSecondAttempt(t *testing.T) {
	p := plan.Plan{Tasks: []plan.Task{{ID: "a", Goal: "g"}}}
	calls := 0
	o := &colony.Orchestrator{
		Worker: colony.WorkerFunc("w1", func(ctx context.Context, req colony.WorkRequest) (colony.WorkResponse, error) {
			calls++
			if calls == 1 {
				return colony.WorkResponse{Status: "failed", Reason: "flake"}, nil
			}
			return colony.WorkResponse{Status: colony.WorkCompleted, Result: "ok"}, nil
		}),
		Retry: colony.NewRetryManager(colony.RetryPolicy{Strategy: colony.RetryAnyWorker, MaxRetries: 3}),
		Sleep: noSleep,
	}

	results, err := o.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, colony.TaskCompleted, results["a"].Status)
	assert.Equal(t, 2, results["a"].Attempts)
	assert.Equal(t, "ok", results["a"].Output)
}

func TestRunFiresHooks(t *testing.T) {
	p := plan.Plan{Tasks: []plan.Task{
		{ID: "a", Goal: "g"},
		{ID: "b", Goal: "g", DependsOn: []string{"a"}},
	}}

	var mu sync.Mutex
	started := map[string]bool{}
	finished := map[string]colony.TaskStatus{}
	o := &colony.Orchestrator{
		Worker: colony.WorkerFunc("w1", func(ctx context.Context, req colony.WorkRequest) (colony.WorkResponse, error) {
			if req.TaskID == "a" {
				return colony.WorkResponse{Status: "failed", Reason: "x"}, nil
			}
			return colony.WorkResponse{Status: colony.WorkCompleted}, nil
		}),
		Hooks: colony.Hooks{
			OnTaskStart: func(task plan.Task) {
				mu.Lock()
				started[task.ID] = true
				mu.Unlock()
			},
			OnTaskResult: func(res colony.TaskResult) {
				mu.Lock()
				finished[res.TaskID] = res.Status
				mu.Unlock()
			},
		},
		Sleep: noSleep,
	}

	_, err := o.Run(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, started["a"])
	// Skipped tasks never start but still report a result.
	assert.False(t, started["b"])
	assert.Equal(t, colony.TaskFailed, finished["a"])
	assert.Equal(t, colony.TaskSkipped, finished["b"])
}

func TestRunRejectsUnorderablePlan(t *testing.T) {
	p := plan.Plan{Tasks: []plan.Task{
		{ID: "a", Goal: "g", DependsOn: []string{"b"}},
		{ID: "b", Goal: "g", DependsOn: []string{"a"}},
	}}
	o := &colony.Orchestrator{Worker: colony.WorkerFunc("w1", nil), Sleep: noSleep}
	_, err := o.Run(context.Background(), p)
	assert.ErrorIs(t, err, plan.ErrCycle)
}

func TestBuildResult(t *testing.T) {
	completed := colony.TaskResult{TaskID: "a", Status: colony.TaskCompleted, ToolCalls: 4}
	failed := colony.TaskResult{TaskID: "b", Status: colony.TaskFailed, Reason: "x", ToolCalls: 2}
	skipped := colony.TaskResult{TaskID: "c", Status: colony.TaskSkipped}

	all := colony.BuildResult(map[string]colony.TaskResult{"a": completed, "b": failed, "c": skipped})
	assert.Equal(t, colony.ResultPartialFailure, all.Status)
	assert.Equal(t, 1, all.Completed)
	assert.Equal(t, 1, all.Failed)
	assert.Equal(t, 1, all.Skipped)
	assert.Equal(t, 6, all.ToolCalls)
	require.Len(t, all.FailedTasks, 1)
	assert.Equal(t, "b", all.FailedTasks[0].TaskID)

	ok := colony.BuildResult(map[string]colony.TaskResult{"a": completed})
	assert.Equal(t, colony.ResultCompleted, ok.Status)
	assert.Empty(t, ok.FailedTasks)

	bad := colony.BuildResult(map[string]colony.TaskResult{"b": failed})
	assert.Equal(t, colony.ResultFailed, bad.Status)

	empty := colony.BuildResult(nil)
	assert.Equal(t, colony.ResultFailed, empty.Status)
}

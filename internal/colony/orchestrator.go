package colony

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"apiary/internal/plan"
)

// TaskStatus is the lifecycle state of a task inside a colony run.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// TaskResult is the terminal outcome of one task.
type TaskResult struct {
	TaskID    string
	Status    TaskStatus
	Output    string
	Reason    string
	Artifacts []string
	ToolCalls int
	Worker    string
	Attempts  int
}

// WorkRequest is what a worker receives for one attempt. Inputs carries the
// outputs of the task's completed dependencies and nothing else.
type WorkRequest struct {
	TaskID          string
	Goal            string
	Inputs          map[string]string
	ExcludedWorkers []string
}

// WorkResponse is a worker's report for one attempt. Any Status other than
// "completed" counts as a failure.
type WorkResponse struct {
	Status        string
	Result        string
	Reason        string
	ToolCallsMade int
	Artifacts     []string
}

const WorkCompleted = "completed"

// Worker executes task attempts. Implementations must be safe for
// concurrent calls; tasks in the same layer run in parallel.
type Worker interface {
	ID() string
	Execute(ctx context.Context, req WorkRequest) (WorkResponse, error)
}

type workerFunc struct {
	id string
	fn func(ctx context.Context, req WorkRequest) (WorkResponse, error)
}

func (w workerFunc) ID() string { return w.id }
func (w workerFunc) Execute(ctx context.Context, req WorkRequest) (WorkResponse, error) {
	return w.fn(ctx, req)
}

// WorkerFunc wraps a function as a Worker.
func WorkerFunc(id string, fn func(ctx context.Context, req WorkRequest) (WorkResponse, error)) Worker {
	return workerFunc{id: id, fn: fn}
}

// Hooks lets callers observe task transitions as they happen. Nil fields are
// skipped. Hooks run on the task's goroutine and must not block for long.
type Hooks struct {
	OnTaskStart  func(task plan.Task)
	OnTaskResult func(res TaskResult)
}

// Orchestrator runs a plan layer by layer. Tasks within a layer run on their
// own goroutines; a layer must fully settle before the next one starts. A
// failed or skipped task never halts its siblings, only its dependents.
type Orchestrator struct {
	Worker Worker
	Retry  *RetryManager
	Hooks  Hooks
	Logger *slog.Logger

	// Sleep is swapped out in tests. Nil means a real context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run executes the plan and returns every task's terminal result keyed by
// task id. The only error cases are an unorderable plan and a missing
// worker; task failures are reported in the results, not as errors.
func (o *Orchestrator) Run(ctx context.Context, p plan.Plan) (map[string]TaskResult, error) {
	if o.Worker == nil {
		return nil, fmt.Errorf("orchestrator: no worker configured")
	}
	layers, err := p.ExecutionOrder()
	if err != nil {
		return nil, err
	}

	results := make(map[string]TaskResult, len(p.Tasks))
	for _, layer := range layers {
		// Dependencies always live in earlier layers, so a snapshot taken
		// before the layer starts is enough to resolve them.
		settled := make(map[string]TaskResult, len(results))
		for id, res := range results {
			settled[id] = res
		}
		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, id := range layer {
			task, ok := p.Task(id)
			if !ok {
				continue
			}
			if reason, blocked := blockedBy(task, settled); blocked {
				res := TaskResult{TaskID: task.ID, Status: TaskSkipped, Reason: reason}
				mu.Lock()
				results[task.ID] = res
				mu.Unlock()
				o.notify(res)
				continue
			}
			wg.Add(1)
			go func(t plan.Task) {
				defer wg.Done()
				if o.Hooks.OnTaskStart != nil {
					o.Hooks.OnTaskStart(t)
				}
				res := o.runTask(ctx, t, inputsFor(t, settled))
				mu.Lock()
				results[t.ID] = res
				mu.Unlock()
				o.notify(res)
			}(task)
		}
		wg.Wait()
	}
	return results, nil
}

// blockedBy reports whether any dependency ended failed or skipped.
func blockedBy(t plan.Task, results map[string]TaskResult) (string, bool) {
	for _, dep := range t.DependsOn {
		switch results[dep].Status {
		case TaskFailed:
			return fmt.Sprintf("dependency %s failed", dep), true
		case TaskSkipped:
			return fmt.Sprintf("dependency %s was skipped", dep), true
		}
	}
	return "", false
}

// inputsFor collects the outputs of the task's completed dependencies. The
// worker sees only what the task declared it depends on.
func inputsFor(t plan.Task, results map[string]TaskResult) map[string]string {
	if len(t.DependsOn) == 0 {
		return nil
	}
	inputs := make(map[string]string, len(t.DependsOn))
	for _, dep := range t.DependsOn {
		if res, ok := results[dep]; ok && res.Status == TaskCompleted {
			inputs[dep] = res.Output
		}
	}
	return inputs
}

// runTask drives one task through its attempts until it completes or the
// retry budget runs out.
func (o *Orchestrator) runTask(ctx context.Context, t plan.Task, inputs map[string]string) TaskResult {
	attempts := 0
	for {
		attempts++
		req := WorkRequest{TaskID: t.ID, Goal: t.Goal, Inputs: inputs}
		if o.Retry != nil {
			req.ExcludedWorkers = o.Retry.ExcludedWorkers(t.ID)
		}
		res := o.attempt(ctx, t, req)
		res.Attempts = attempts
		if res.Status == TaskCompleted {
			return res
		}
		if o.Retry == nil {
			return res
		}
		o.Retry.RecordFailure(t.ID, res.Worker, res.Reason)
		if !o.Retry.ShouldRetry(t.ID) {
			return res
		}
		delay := o.Retry.RetryDelay(t.ID)
		if o.Logger != nil {
			o.Logger.Warn("retrying task",
				"task", t.ID, "attempt", attempts, "delay", delay, "reason", res.Reason)
		}
		if err := o.sleep(ctx, delay); err != nil {
			res.Reason = err.Error()
			return res
		}
	}
}

// attempt performs a single worker call. A panicking worker yields a failed
// result rather than tearing down the layer.
func (o *Orchestrator) attempt(ctx context.Context, t plan.Task, req WorkRequest) (res TaskResult) {
	res = TaskResult{TaskID: t.ID, Worker: o.Worker.ID()}
	defer func() {
		if r := recover(); r != nil {
			res.Status = TaskFailed
			res.Reason = fmt.Sprintf("worker panic: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Status = TaskFailed
		res.Reason = err.Error()
		return res
	}
	resp, err := o.Worker.Execute(ctx, req)
	if err != nil {
		res.Status = TaskFailed
		res.Reason = err.Error()
		return res
	}
	res.ToolCalls = resp.ToolCallsMade
	res.Artifacts = resp.Artifacts
	if resp.Status != WorkCompleted {
		res.Status = TaskFailed
		res.Reason = resp.Reason
		if res.Reason == "" {
			res.Reason = "unknown error"
		}
		return res
	}
	res.Status = TaskCompleted
	res.Output = resp.Result
	return res
}

func (o *Orchestrator) notify(res TaskResult) {
	if o.Hooks.OnTaskResult != nil {
		o.Hooks.OnTaskResult(res)
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

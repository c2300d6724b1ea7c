package colony

import (
	"fmt"
	"sort"
)

// ResultStatus summarizes a whole colony run.
type ResultStatus string

const (
	ResultCompleted      ResultStatus = "completed"
	ResultPartialFailure ResultStatus = "partial_failure"
	ResultFailed         ResultStatus = "failed"
)

// Result aggregates the terminal task results of one colony run.
type Result struct {
	Status    ResultStatus
	Completed int
	Failed    int
	Skipped   int
	ToolCalls int
	Summary   string

	// FailedTasks is populated only when something went wrong.
	FailedTasks []TaskResult
}

// BuildResult folds per-task results into a colony-level verdict. A run with
// no failures and at least one completed task is completed; failures mixed
// with completions are a partial failure; everything else is failed.
func BuildResult(results map[string]TaskResult) Result {
	var r Result
	for _, res := range results {
		switch res.Status {
		case TaskCompleted:
			r.Completed++
		case TaskFailed:
			r.Failed++
			r.FailedTasks = append(r.FailedTasks, res)
		case TaskSkipped:
			r.Skipped++
		}
		r.ToolCalls += res.ToolCalls
	}
	sort.Slice(r.FailedTasks, func(i, j int) bool {
		return r.FailedTasks[i].TaskID < r.FailedTasks[j].TaskID
	})

	switch {
	case r.Failed == 0 && r.Completed > 0:
		r.Status = ResultCompleted
	case r.Failed > 0 && r.Completed > 0:
		r.Status = ResultPartialFailure
	default:
		r.Status = ResultFailed
	}
	r.Summary = fmt.Sprintf("%d completed, %d failed, %d skipped (%d tool calls)",
		r.Completed, r.Failed, r.Skipped, r.ToolCalls)
	return r
}

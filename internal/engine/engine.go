package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"apiary/internal/akashic"
	"apiary/internal/colony"
	"apiary/internal/config"
	"apiary/internal/event"
	"apiary/internal/plan"
	"apiary/internal/policy"
	"apiary/internal/projection"
)

var (
	ErrHiveExists = errors.New("hive already exists")
	ErrHiveClosed = errors.New("hive is closed")
)

// ApprovalRequiredError reports that the policy gate paused an action until
// a human resolves the recorded approval request.
type ApprovalRequiredError struct {
	ApprovalID string
	Action     string
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("approval %s required for action: %s", e.ApprovalID, e.Action)
}

// Engine executes commands against the event store. Every mutating command
// passes the policy gate before anything is appended; derived colony events
// are emitted from the shared progress tracker.
type Engine struct {
	Store  akashic.Store
	Config *config.Config
	Gate   policy.Gate
	Logger *slog.Logger
	Now    func() time.Time

	mu      sync.Mutex
	tracker *projection.ProgressTracker
}

func New(store akashic.Store, cfg *config.Config) *Engine {
	return &Engine{
		Store:   store,
		Config:  cfg,
		Gate:    cfg.Gate(),
		Logger:  slog.Default(),
		Now:     time.Now,
		tracker: projection.NewProgressTracker(),
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) trust() policy.TrustLevel {
	return e.Config.TrustLevel()
}

func (e *Engine) newEvent(evtType, actor string) *event.Event {
	return event.NewAt(evtType, actor, e.now())
}

// gateAction evaluates an action against the gate. Deny returns ErrDenied
// with nothing appended. RequireApproval first looks for an already granted
// approval for the same action in the scope; without one it records an
// approval.requested event and returns ApprovalRequiredError, so the caller
// can retry the command once a human has resolved the request.
func (e *Engine) gateAction(ctx context.Context, scopeID, action string, class policy.ActionClass, actor string) error {
	switch e.Gate.Evaluate(class, e.trust()) {
	case policy.Allow:
		return nil
	case policy.Deny:
		return fmt.Errorf("%w: %s (%s at %s)", policy.ErrDenied, action, class, e.trust())
	}
	granted, err := e.actionApproved(ctx, scopeID, action)
	if err != nil {
		return err
	}
	if granted {
		return nil
	}
	approvalID := uuid.NewString()
	evt := e.newEvent(event.TypeApprovalRequested, actor)
	payload, err := event.PayloadFrom(event.ApprovalRequestedPayload{
		ApprovalID:  approvalID,
		Action:      action,
		ActionClass: string(class),
		TrustLevel:  string(e.trust()),
	})
	if err != nil {
		return err
	}
	evt.Payload = payload
	if err := e.append(ctx, scopeID, evt); err != nil {
		return err
	}
	return &ApprovalRequiredError{ApprovalID: approvalID, Action: action}
}

// actionApproved reports whether the scope holds a granted, unrevoked
// approval for the action. The last resolution of a request wins.
func (e *Engine) actionApproved(ctx context.Context, scopeID, action string) (bool, error) {
	events, err := e.Store.Replay(ctx, scopeID)
	if err != nil {
		return false, err
	}
	requested := map[string]bool{}
	granted := false
	for _, evt := range events {
		id, _ := evt.Payload["approval_id"].(string)
		if id == "" {
			continue
		}
		switch evt.Type {
		case event.TypeApprovalRequested:
			if act, _ := evt.Payload["action"].(string); act == action {
				requested[id] = true
			}
		case event.TypeApprovalGranted:
			if requested[id] {
				granted = true
			}
		case event.TypeApprovalRejected:
			if requested[id] {
				granted = false
			}
		}
	}
	return granted, nil
}

// append resolves lineage, appends, and emits any derived colony event.
func (e *Engine) append(ctx context.Context, scopeID string, evt *event.Event) error {
	existing, err := e.Store.Replay(ctx, scopeID)
	if err != nil {
		return err
	}
	evt.Parents = akashic.ResolveParents(evt, existing)
	if err := e.Store.Append(ctx, scopeID, evt); err != nil {
		return err
	}
	e.emitDerived(ctx, scopeID, evt)
	return nil
}

func (e *Engine) emitDerived(ctx context.Context, scopeID string, evt *event.Event) {
	e.mu.Lock()
	derivedType, emit := e.tracker.ShouldEmitColonyEvent(evt)
	var runs map[string]string
	if emit {
		runs = e.tracker.RunStatuses(evt.ColonyID)
	}
	e.mu.Unlock()
	if !emit {
		return
	}
	derived := e.newEvent(derivedType, event.ActorSystem)
	derived.ColonyID = evt.ColonyID
	derived.Parents = []string{evt.ID}
	payload, err := event.PayloadFrom(event.ColonyTerminalPayload{Runs: runs})
	if err == nil {
		derived.Payload = payload
	}
	if err := e.Store.Append(ctx, scopeID, derived); err != nil {
		e.Logger.Error("derived colony event dropped",
			"colony", evt.ColonyID, "type", derivedType, "err", err)
	}
}

// --- hive commands; hive events live under the hive's own scope ---

func (e *Engine) CreateHive(ctx context.Context, hiveID, name, description, actor string) (*projection.Hive, error) {
	if hiveID == "" {
		return nil, errors.New("hive id is required")
	}
	if name == "" {
		name = hiveID
	}
	existing, err := e.Store.Replay(ctx, hiveID)
	if err != nil {
		return nil, err
	}
	if projection.BuildHive(hiveID, existing) != nil {
		return nil, fmt.Errorf("%w: %s", ErrHiveExists, hiveID)
	}
	if err := e.gateAction(ctx, hiveID, "create hive "+hiveID, policy.Reversible, actor); err != nil {
		return nil, err
	}
	evt := e.newEvent(event.TypeHiveCreated, actor)
	payload, err := event.PayloadFrom(event.HiveCreatedPayload{Name: name, Description: description})
	if err != nil {
		return nil, err
	}
	evt.Payload = payload
	if err := e.append(ctx, hiveID, evt); err != nil {
		return nil, err
	}
	return e.GetHive(ctx, hiveID)
}

func (e *Engine) CloseHive(ctx context.Context, hiveID, reason, actor string) (*projection.Hive, error) {
	h, err := e.GetHive(ctx, hiveID)
	if err != nil {
		return nil, err
	}
	if h.Status == projection.HiveClosed {
		return nil, fmt.Errorf("%w: %s", ErrHiveClosed, hiveID)
	}
	if err := e.gateAction(ctx, hiveID, "close hive "+hiveID, policy.Reversible, actor); err != nil {
		return nil, err
	}
	evt := e.newEvent(event.TypeHiveClosed, actor)
	payload, err := event.PayloadFrom(event.HiveClosedPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	evt.Payload = payload
	if err := e.append(ctx, hiveID, evt); err != nil {
		return nil, err
	}
	return e.GetHive(ctx, hiveID)
}

func (e *Engine) GetHive(ctx context.Context, hiveID string) (*projection.Hive, error) {
	events, err := e.Store.Replay(ctx, hiveID)
	if err != nil {
		return nil, err
	}
	h := projection.BuildHive(hiveID, events)
	if h == nil {
		return nil, fmt.Errorf("hive %s: %w", hiveID, akashic.ErrNotFound)
	}
	return h, nil
}

func (e *Engine) ListHives(ctx context.Context) ([]*projection.Hive, error) {
	scopes, err := e.Store.ListScopes(ctx)
	if err != nil {
		return nil, err
	}
	var hives []*projection.Hive
	for _, scope := range scopes {
		events, err := e.Store.Replay(ctx, scope)
		if err != nil {
			return nil, err
		}
		if h := projection.BuildHive(scope, events); h != nil {
			hives = append(hives, h)
		}
	}
	return hives, nil
}

// --- run and task commands; run and task events live under the run's scope ---

type StartRunOptions struct {
	RunID     string // generated when empty
	HiveID    string // optional; links the run's colony into the hive
	ColonyID  string
	Goal      string
	TaskCount int
	Actor     string
}

func (e *Engine) StartRun(ctx context.Context, opts StartRunOptions) (*event.Event, error) {
	if opts.Goal == "" {
		return nil, errors.New("goal is required")
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if err := e.checkHiveOpen(ctx, opts.HiveID); err != nil {
		return nil, err
	}
	class := policy.ClassifyGoal(opts.Goal)
	if err := e.gateAction(ctx, opts.RunID, opts.Goal, class, opts.Actor); err != nil {
		return nil, err
	}
	return e.appendRunStarted(ctx, opts.HiveID, opts.RunID, opts.ColonyID, opts.Goal, opts.TaskCount, opts.Actor)
}

// checkHiveOpen is a no-op for an empty hive id; otherwise the hive must
// exist and still be active.
func (e *Engine) checkHiveOpen(ctx context.Context, hiveID string) error {
	if hiveID == "" {
		return nil
	}
	h, err := e.GetHive(ctx, hiveID)
	if err != nil {
		return err
	}
	if h.Status == projection.HiveClosed {
		return fmt.Errorf("%w: %s", ErrHiveClosed, hiveID)
	}
	return nil
}

// appendRunStarted records run.started under the run scope. When the run is
// linked to a hive, a second run.started is appended under the hive scope so
// the hive's fold picks up the colony.
func (e *Engine) appendRunStarted(ctx context.Context, hiveID, runID, colonyID, goal string, taskCount int, actor string) (*event.Event, error) {
	payload, err := event.PayloadFrom(event.RunStartedPayload{Goal: goal, TaskCount: taskCount})
	if err != nil {
		return nil, err
	}
	evt := e.newEvent(event.TypeRunStarted, actor)
	evt.RunID = runID
	evt.ColonyID = colonyID
	evt.Payload = payload
	if err := e.append(ctx, runID, evt); err != nil {
		return nil, err
	}
	if hiveID != "" {
		ref := e.newEvent(event.TypeRunStarted, actor)
		ref.RunID = runID
		ref.ColonyID = colonyID
		ref.Payload = payload
		if err := e.append(ctx, hiveID, ref); err != nil {
			return nil, err
		}
	}
	return evt, nil
}

func (e *Engine) CompleteRun(ctx context.Context, runID, colonyID, actor string, counts event.RunCompletedPayload) (*event.Event, error) {
	if err := e.gateAction(ctx, runID, "complete run "+runID, policy.Reversible, actor); err != nil {
		return nil, err
	}
	return e.completeRun(ctx, runID, colonyID, actor, counts)
}

func (e *Engine) completeRun(ctx context.Context, runID, colonyID, actor string, counts event.RunCompletedPayload) (*event.Event, error) {
	evt := e.newEvent(event.TypeRunCompleted, actor)
	evt.RunID = runID
	evt.ColonyID = colonyID
	payload, err := event.PayloadFrom(counts)
	if err != nil {
		return nil, err
	}
	evt.Payload = payload
	if err := e.append(ctx, runID, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

func (e *Engine) FailRun(ctx context.Context, runID, colonyID, reason, actor string) (*event.Event, error) {
	if err := e.gateAction(ctx, runID, "fail run "+runID, policy.Reversible, actor); err != nil {
		return nil, err
	}
	return e.failRun(ctx, runID, colonyID, reason, actor)
}

func (e *Engine) failRun(ctx context.Context, runID, colonyID, reason, actor string) (*event.Event, error) {
	evt := e.newEvent(event.TypeRunFailed, actor)
	evt.RunID = runID
	evt.ColonyID = colonyID
	payload, err := event.PayloadFrom(event.RunFailedPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	evt.Payload = payload
	if err := e.append(ctx, runID, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// RecordTaskCreated gates on the risk of the task's own goal: a read-only
// run can still not smuggle in an irreversible task.
func (e *Engine) RecordTaskCreated(ctx context.Context, runID, colonyID, actor string, t plan.Task) (*event.Event, error) {
	if t.ID == "" {
		return nil, errors.New("task id is required")
	}
	if err := e.gateAction(ctx, runID, t.Goal, policy.ClassifyGoal(t.Goal), actor); err != nil {
		return nil, err
	}
	return e.recordTaskCreated(ctx, runID, colonyID, actor, t)
}

func (e *Engine) recordTaskCreated(ctx context.Context, runID, colonyID, actor string, t plan.Task) (*event.Event, error) {
	evt := e.newEvent(event.TypeTaskCreated, actor)
	evt.RunID = runID
	evt.TaskID = t.ID
	evt.ColonyID = colonyID
	payload, err := event.PayloadFrom(event.TaskCreatedPayload{Goal: t.Goal, DependsOn: t.DependsOn})
	if err != nil {
		return nil, err
	}
	evt.Payload = payload
	if err := e.append(ctx, runID, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// Task lifecycle reports record facts about work the run gate already
// admitted; they pass through the gate as read-only actions.

func (e *Engine) RecordTaskAssigned(ctx context.Context, runID, taskID, colonyID, workerID string) (*event.Event, error) {
	actor := event.QueenActor(colonyID)
	if err := e.gateAction(ctx, runID, "assign task "+taskID, policy.ReadOnly, actor); err != nil {
		return nil, err
	}
	evt := e.newEvent(event.TypeTaskAssigned, actor)
	evt.RunID = runID
	evt.TaskID = taskID
	evt.ColonyID = colonyID
	payload, err := event.PayloadFrom(event.TaskAssignedPayload{WorkerID: workerID})
	if err != nil {
		return nil, err
	}
	evt.Payload = payload
	if err := e.append(ctx, runID, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

func (e *Engine) RecordTaskProgress(ctx context.Context, runID, taskID, colonyID, workerID, note string) (*event.Event, error) {
	actor := event.WorkerActor(workerID)
	if err := e.gateAction(ctx, runID, "report progress on task "+taskID, policy.ReadOnly, actor); err != nil {
		return nil, err
	}
	evt := e.newEvent(event.TypeTaskProgressed, actor)
	evt.RunID = runID
	evt.TaskID = taskID
	evt.ColonyID = colonyID
	payload, err := event.PayloadFrom(event.TaskProgressedPayload{Note: note})
	if err != nil {
		return nil, err
	}
	evt.Payload = payload
	if err := e.append(ctx, runID, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

func (e *Engine) RecordTaskCompleted(ctx context.Context, runID, taskID, colonyID, workerID string, res event.TaskCompletedPayload) (*event.Event, error) {
	actor := event.WorkerActor(workerID)
	if err := e.gateAction(ctx, runID, "report task "+taskID+" completed", policy.ReadOnly, actor); err != nil {
		return nil, err
	}
	evt := e.newEvent(event.TypeTaskCompleted, actor)
	evt.RunID = runID
	evt.TaskID = taskID
	evt.ColonyID = colonyID
	payload, err := event.PayloadFrom(res)
	if err != nil {
		return nil, err
	}
	evt.Payload = payload
	if err := e.append(ctx, runID, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

func (e *Engine) RecordTaskFailed(ctx context.Context, runID, taskID, colonyID, workerID, reason string) (*event.Event, error) {
	actor := event.WorkerActor(workerID)
	if err := e.gateAction(ctx, runID, "report task "+taskID+" failed", policy.ReadOnly, actor); err != nil {
		return nil, err
	}
	evt := e.newEvent(event.TypeTaskFailed, actor)
	evt.RunID = runID
	evt.TaskID = taskID
	evt.ColonyID = colonyID
	payload, err := event.PayloadFrom(event.TaskFailedPayload{Reason: reason, WorkerID: workerID})
	if err != nil {
		return nil, err
	}
	evt.Payload = payload
	if err := e.append(ctx, runID, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// RecordWaggleValidation records a validation verdict for a completed task.
func (e *Engine) RecordWaggleValidation(ctx context.Context, runID, taskID, colonyID, actor string, verdict event.WaggleValidatedPayload) (*event.Event, error) {
	if err := e.gateAction(ctx, runID, "validate task "+taskID, policy.ReadOnly, actor); err != nil {
		return nil, err
	}
	evt := e.newEvent(event.TypeWaggleValidated, actor)
	evt.RunID = runID
	evt.TaskID = taskID
	evt.ColonyID = colonyID
	payload, err := event.PayloadFrom(verdict)
	if err != nil {
		return nil, err
	}
	evt.Payload = payload
	if err := e.append(ctx, runID, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// RecordRequirementChange records a requirement change against the hive.
func (e *Engine) RecordRequirementChange(ctx context.Context, hiveID, requirementID, change, actor string) (*event.Event, error) {
	if _, err := e.GetHive(ctx, hiveID); err != nil {
		return nil, err
	}
	if err := e.gateAction(ctx, hiveID, "change requirement "+requirementID, policy.Reversible, actor); err != nil {
		return nil, err
	}
	evt := e.newEvent(event.TypeRequirementChanged, actor)
	payload, err := event.PayloadFrom(event.RequirementChangedPayload{RequirementID: requirementID, Change: change})
	if err != nil {
		return nil, err
	}
	evt.Payload = payload
	if err := e.append(ctx, hiveID, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// --- approvals ---

func (e *Engine) resolveApproval(ctx context.Context, scopeID, approvalID, resolution, actor, reason string) (*event.Event, error) {
	events, err := e.Store.Replay(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	var request *event.Event
	for _, prior := range events {
		if prior.Type != event.TypeApprovalRequested {
			continue
		}
		if id, _ := prior.Payload["approval_id"].(string); id == approvalID {
			request = prior
		}
	}
	if request == nil {
		return nil, fmt.Errorf("approval %s: %w", approvalID, akashic.ErrNotFound)
	}
	evt := e.newEvent(resolution, actor)
	evt.Parents = []string{request.ID}
	payload, err := event.PayloadFrom(event.ApprovalResolvedPayload{ApprovalID: approvalID, Reason: reason})
	if err != nil {
		return nil, err
	}
	evt.Payload = payload
	if err := e.append(ctx, scopeID, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

func (e *Engine) Approve(ctx context.Context, scopeID, approvalID, actor, reason string) (*event.Event, error) {
	return e.resolveApproval(ctx, scopeID, approvalID, event.TypeApprovalGranted, actor, reason)
}

func (e *Engine) Reject(ctx context.Context, scopeID, approvalID, actor, reason string) (*event.Event, error) {
	return e.resolveApproval(ctx, scopeID, approvalID, event.TypeApprovalRejected, actor, reason)
}

// Approved reports whether the approval request has been granted.
func (e *Engine) Approved(ctx context.Context, scopeID, approvalID string) (bool, error) {
	events, err := e.Store.Replay(ctx, scopeID)
	if err != nil {
		return false, err
	}
	granted := false
	for _, evt := range events {
		if id, _ := evt.Payload["approval_id"].(string); id != approvalID {
			continue
		}
		switch evt.Type {
		case event.TypeApprovalGranted:
			granted = true
		case event.TypeApprovalRejected:
			granted = false
		}
	}
	return granted, nil
}

// --- queries ---

func (e *Engine) Events(ctx context.Context, scopeID string) ([]*event.Event, error) {
	return e.Store.Replay(ctx, scopeID)
}

// Tail returns the last n events of a scope in append order.
func (e *Engine) Tail(ctx context.Context, scopeID string, n int) ([]*event.Event, error) {
	events, err := e.Store.Replay(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

// Lineage traverses causal relations from an event within a scope.
func (e *Engine) Lineage(ctx context.Context, scopeID, eventID string, dir projection.Direction, maxDepth int) (*projection.Traversal, error) {
	events, err := e.Store.Replay(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	return projection.Traverse(events, eventID, dir, maxDepth)
}

// VerifyChain recomputes every hash in the scope and checks the prev_hash
// links. The returned count is how many events verified before the first
// problem, or the total on success.
func (e *Engine) VerifyChain(ctx context.Context, scopeID string) (int, error) {
	events, err := e.Store.Replay(ctx, scopeID)
	if err != nil {
		return 0, err
	}
	prev := ""
	for i, evt := range events {
		if err := evt.Verify(); err != nil {
			return i, fmt.Errorf("event %s: %w", evt.ID, err)
		}
		if evt.PrevHash != prev {
			return i, fmt.Errorf("event %s: %w", evt.ID, akashic.ErrChainBroken)
		}
		prev = evt.Hash
	}
	return len(events), nil
}

// ColonyStatus projects a colony's state from every scope that mentions it.
func (e *Engine) ColonyStatus(ctx context.Context, colonyID string) (*projection.Colony, error) {
	scopes, err := e.Store.ListScopes(ctx)
	if err != nil {
		return nil, err
	}
	var all []*event.Event
	for _, scope := range scopes {
		events, err := e.Store.Replay(ctx, scope)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
	}
	c := projection.BuildColony(colonyID, all)
	if c == nil {
		return nil, fmt.Errorf("colony %s: %w", colonyID, akashic.ErrNotFound)
	}
	return c, nil
}

// --- plan execution ---

type ExecuteOptions struct {
	RunID    string // generated when empty
	HiveID   string // optional; links the run's colony into the hive
	ColonyID string
	Goal     string
	Actor    string

	Decomposer plan.Decomposer
	Worker     colony.Worker
}

// ExecutePlan decomposes a goal, gates the resulting plan, records the run
// and drives it through the orchestrator. Task lifecycle events are appended
// as the orchestrator reports them; the run closes with run.completed or
// run.failed according to the aggregate result.
func (e *Engine) ExecutePlan(ctx context.Context, opts ExecuteOptions) (colony.Result, error) {
	var zero colony.Result
	if opts.Decomposer == nil || opts.Worker == nil {
		return zero, errors.New("decomposer and worker are required")
	}
	p, err := plan.Build(ctx, opts.Decomposer, opts.Goal)
	if err != nil {
		return zero, err
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if err := e.checkHiveOpen(ctx, opts.HiveID); err != nil {
		return zero, err
	}
	// The gate sees the whole plan's risk once; a granted approval for the
	// goal (recorded under the run scope) lets a retry proceed.
	class, decision := e.Gate.EvaluatePlan(p, e.trust())
	switch decision {
	case policy.Deny:
		return zero, fmt.Errorf("%w: %s (%s at %s)", policy.ErrDenied, opts.Goal, class, e.trust())
	case policy.RequireApproval:
		if err := e.gateAction(ctx, opts.RunID, opts.Goal, class, opts.Actor); err != nil {
			return zero, err
		}
	}

	if _, err := e.appendRunStarted(ctx, opts.HiveID, opts.RunID, opts.ColonyID, opts.Goal, len(p.Tasks), opts.Actor); err != nil {
		return zero, err
	}
	for _, t := range p.Tasks {
		if _, err := e.recordTaskCreated(ctx, opts.RunID, opts.ColonyID, opts.Actor, t); err != nil {
			return zero, err
		}
	}

	orch := &colony.Orchestrator{
		Worker: opts.Worker,
		Retry:  colony.NewRetryManager(e.Config.RetryPolicy()),
		Logger: e.Logger,
		Hooks: colony.Hooks{
			OnTaskStart: func(t plan.Task) {
				if _, err := e.RecordTaskAssigned(ctx, opts.RunID, t.ID, opts.ColonyID, opts.Worker.ID()); err != nil {
					e.Logger.Error("task.assigned not recorded", "task", t.ID, "err", err)
				}
			},
			OnTaskResult: func(res colony.TaskResult) {
				var err error
				switch res.Status {
				case colony.TaskCompleted:
					_, err = e.RecordTaskCompleted(ctx, opts.RunID, res.TaskID, opts.ColonyID, res.Worker, event.TaskCompletedPayload{
						Output:    res.Output,
						ToolCalls: res.ToolCalls,
						Artifacts: res.Artifacts,
					})
				case colony.TaskFailed:
					_, err = e.RecordTaskFailed(ctx, opts.RunID, res.TaskID, opts.ColonyID, res.Worker, res.Reason)
				}
				if err != nil {
					e.Logger.Error("task result not recorded", "task", res.TaskID, "err", err)
				}
			},
		},
	}
	results, err := orch.Run(ctx, p)
	if err != nil {
		return zero, err
	}
	res := colony.BuildResult(results)
	if res.Status == colony.ResultFailed {
		reason := res.Summary
		if len(res.FailedTasks) > 0 {
			reason = res.FailedTasks[0].Reason
		}
		if _, err := e.failRun(ctx, opts.RunID, opts.ColonyID, reason, event.ActorSystem); err != nil {
			return res, err
		}
		return res, nil
	}
	if _, err := e.completeRun(ctx, opts.RunID, opts.ColonyID, event.ActorSystem, event.RunCompletedPayload{
		Completed: res.Completed,
		Failed:    res.Failed,
		Skipped:   res.Skipped,
	}); err != nil {
		return res, err
	}
	return res, nil
}

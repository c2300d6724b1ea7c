package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"apiary/internal/akashic"
	"apiary/internal/engine"
	"apiary/internal/event"
	"apiary/internal/plan"
	"apiary/internal/policy"
	"apiary/internal/projection"
	"apiary/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	Repo     repo.Repo
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"policy_denied"`
	Message string         `json:"message" example:"action denied by policy"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Apiary API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Repo))
	hcfg := huma.DefaultConfig("Apiary API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerHives(group, cfg.Engine)
	registerColonies(group, cfg.Engine)
	registerRuns(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerApprovals(group, cfg.Engine)
	registerPlans(group, cfg.Engine)
	registerAPIKeys(group, cfg.Repo)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var approval *engine.ApprovalRequiredError
	if errors.As(err, &approval) {
		return newAPIError(http.StatusConflict, "approval_required", err.Error(), map[string]any{
			"approval_id": approval.ApprovalID,
			"action":      approval.Action,
		})
	}
	switch {
	case errors.Is(err, policy.ErrDenied):
		return newAPIError(http.StatusForbidden, "policy_denied", err.Error(), nil)
	case errors.Is(err, akashic.ErrNotFound), errors.Is(err, repo.ErrNotFound),
		errors.Is(err, projection.ErrUnknownEvent):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrHiveExists), errors.Is(err, engine.ErrHiveClosed),
		errors.Is(err, akashic.ErrChainBroken), errors.Is(err, event.ErrSealed):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, plan.ErrCycle):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "unknown") || strings.Contains(lowered, "depth") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	default:
		return "internal_error"
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerHives(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-hive",
		Method:        http.MethodPost,
		Path:          "/hives",
		Summary:       "Create hive",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateHiveRequest `json:"body"`
	}) (*struct {
		Body HiveResponse `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		h, err := e.CreateHive(ctx, input.Body.ID, input.Body.Name, desc, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HiveResponse `json:"body"`
		}{Body: hiveResponse(h)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-hives",
		Method:      http.MethodGet,
		Path:        "/hives",
		Summary:     "List hives",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []HiveResponse `json:"body"`
	}, error) {
		items, err := e.ListHives(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []HiveResponse `json:"body"`
		}{Body: mapHives(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-hive",
		Method:      http.MethodGet,
		Path:        "/hives/{hive_id}",
		Summary:     "Get hive",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		HiveID string `path:"hive_id"`
	}) (*struct {
		Body HiveResponse `json:"body"`
	}, error) {
		h, err := e.GetHive(ctx, input.HiveID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HiveResponse `json:"body"`
		}{Body: hiveResponse(h)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-hive",
		Method:      http.MethodPost,
		Path:        "/hives/{hive_id}/close",
		Summary:     "Close hive",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		HiveID string           `path:"hive_id"`
		Body   CloseHiveRequest `json:"body"`
	}) (*struct {
		Body HiveResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		h, err := e.CloseHive(ctx, input.HiveID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HiveResponse `json:"body"`
		}{Body: hiveResponse(h)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-requirement-change",
		Method:        http.MethodPost,
		Path:          "/hives/{hive_id}/requirement-changes",
		Summary:       "Record requirement change",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		HiveID string                   `path:"hive_id"`
		Body   RequirementChangeRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		if input.Body.RequirementID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "requirement_id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		evt, err := e.RecordRequirementChange(ctx, input.HiveID, input.Body.RequirementID, input.Body.Change, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})
}

func registerColonies(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-colony",
		Method:      http.MethodGet,
		Path:        "/colonies/{colony_id}",
		Summary:     "Colony status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ColonyID string `path:"colony_id"`
	}) (*struct {
		Body ColonyResponse `json:"body"`
	}, error) {
		c, err := e.ColonyStatus(ctx, input.ColonyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ColonyResponse `json:"body"`
		}{Body: ColonyResponse{ID: c.ID, Status: string(c.Status), Runs: c.Runs}}, nil
	})
}

func registerRuns(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-run",
		Method:        http.MethodPost,
		Path:          "/runs",
		Summary:       "Start run",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body StartRunRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		evt, err := e.StartRun(ctx, engine.StartRunOptions{
			RunID:     input.Body.RunID,
			HiveID:    input.Body.HiveID,
			ColonyID:  input.Body.ColonyID,
			Goal:      input.Body.Goal,
			TaskCount: input.Body.TaskCount,
			Actor:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-run",
		Method:      http.MethodPost,
		Path:        "/runs/{run_id}/complete",
		Summary:     "Complete run",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		RunID string             `path:"run_id"`
		Body  CompleteRunRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		evt, err := e.CompleteRun(ctx, input.RunID, input.Body.ColonyID, actorID, event.RunCompletedPayload{
			Completed: input.Body.Completed,
			Failed:    input.Body.Failed,
			Skipped:   input.Body.Skipped,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fail-run",
		Method:      http.MethodPost,
		Path:        "/runs/{run_id}/fail",
		Summary:     "Fail run",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		RunID string         `path:"run_id"`
		Body  FailRunRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		evt, err := e.FailRun(ctx, input.RunID, input.Body.ColonyID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/runs/{run_id}/tasks",
		Summary:       "Record task creation",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		RunID string            `path:"run_id"`
		Body  CreateTaskRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		evt, err := e.RecordTaskCreated(ctx, input.RunID, input.Body.ColonyID, actorID, plan.Task{
			ID:        input.Body.ID,
			Goal:      input.Body.Goal,
			DependsOn: input.Body.DependsOn,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPost,
		Path:        "/runs/{run_id}/tasks/{task_id}/assign",
		Summary:     "Record task assignment",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		RunID  string            `path:"run_id"`
		TaskID string            `path:"task_id"`
		Body   AssignTaskRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		if input.Body.WorkerID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "worker_id is required", nil)
		}
		evt, err := e.RecordTaskAssigned(ctx, input.RunID, input.TaskID, input.Body.ColonyID, input.Body.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-progress",
		Method:      http.MethodPost,
		Path:        "/runs/{run_id}/tasks/{task_id}/progress",
		Summary:     "Record task progress",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		RunID  string              `path:"run_id"`
		TaskID string              `path:"task_id"`
		Body   TaskProgressRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		evt, err := e.RecordTaskProgress(ctx, input.RunID, input.TaskID, input.Body.ColonyID, input.Body.WorkerID, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/runs/{run_id}/tasks/{task_id}/complete",
		Summary:     "Record task completion",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		RunID  string              `path:"run_id"`
		TaskID string              `path:"task_id"`
		Body   CompleteTaskRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		evt, err := e.RecordTaskCompleted(ctx, input.RunID, input.TaskID, input.Body.ColonyID, input.Body.WorkerID, event.TaskCompletedPayload{
			Output:    input.Body.Output,
			ToolCalls: input.Body.ToolCalls,
			Artifacts: input.Body.Artifacts,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fail-task",
		Method:      http.MethodPost,
		Path:        "/runs/{run_id}/tasks/{task_id}/fail",
		Summary:     "Record task failure",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		RunID  string          `path:"run_id"`
		TaskID string          `path:"task_id"`
		Body   FailTaskRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		if input.Body.Reason == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "reason is required", nil)
		}
		evt, err := e.RecordTaskFailed(ctx, input.RunID, input.TaskID, input.Body.ColonyID, input.Body.WorkerID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "waggle-validate",
		Method:      http.MethodPost,
		Path:        "/runs/{run_id}/tasks/{task_id}/waggle",
		Summary:     "Record validation verdict",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		RunID  string        `path:"run_id"`
		TaskID string        `path:"task_id"`
		Body   WaggleRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		evt, err := e.RecordWaggleValidation(ctx, input.RunID, input.TaskID, input.Body.ColonyID, actorID, event.WaggleValidatedPayload{
			Accepted: input.Body.Accepted,
			Score:    input.Body.Score,
			Notes:    input.Body.Notes,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-scopes",
		Method:      http.MethodGet,
		Path:        "/scopes",
		Summary:     "List event scopes",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []string `json:"body"`
	}, error) {
		scopes, err := e.Store.ListScopes(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if scopes == nil {
			scopes = []string{}
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: scopes}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/scopes/{scope_id}/events",
		Summary:     "Replay scope events",
	}, func(ctx context.Context, input *struct {
		ScopeID string `path:"scope_id"`
		Tail    int    `query:"tail" doc:"Return only the last N events"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		events, err := e.Tail(ctx, input.ScopeID, input.Tail)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(events)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-scope",
		Method:      http.MethodGet,
		Path:        "/scopes/{scope_id}/verify",
		Summary:     "Verify scope chain integrity",
	}, func(ctx context.Context, input *struct {
		ScopeID string `path:"scope_id"`
	}) (*struct {
		Body VerifyResponse `json:"body"`
	}, error) {
		n, err := e.VerifyChain(ctx, input.ScopeID)
		out := VerifyResponse{ScopeID: input.ScopeID, Verified: n, Intact: err == nil}
		if err != nil {
			out.Error = err.Error()
		}
		return &struct {
			Body VerifyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "event-lineage",
		Method:      http.MethodGet,
		Path:        "/scopes/{scope_id}/events/{event_id}/lineage",
		Summary:     "Traverse event lineage",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ScopeID   string `path:"scope_id"`
		EventID   string `path:"event_id"`
		Direction string `query:"direction" doc:"ancestors, descendants or both"`
		MaxDepth  int    `query:"max_depth"`
	}) (*struct {
		Body LineageResponse `json:"body"`
	}, error) {
		dir := projection.Direction(input.Direction)
		if input.Direction == "" {
			dir = projection.Both
		}
		depth := input.MaxDepth
		if depth == 0 {
			depth = 10
		}
		tr, err := e.Lineage(ctx, input.ScopeID, input.EventID, dir, depth)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LineageResponse `json:"body"`
		}{Body: lineageResponse(tr)}, nil
	})
}

func registerApprovals(api huma.API, e *engine.Engine) {
	resolve := func(approve bool) func(ctx context.Context, input *struct {
		ScopeID    string                 `path:"scope_id"`
		ApprovalID string                 `path:"approval_id"`
		Body       ResolveApprovalRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		return func(ctx context.Context, input *struct {
			ScopeID    string                 `path:"scope_id"`
			ApprovalID string                 `path:"approval_id"`
			Body       ResolveApprovalRequest `json:"body"`
		}) (*struct {
			Body EventResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			var evt *event.Event
			var err error
			if approve {
				evt, err = e.Approve(ctx, input.ScopeID, input.ApprovalID, actorID, input.Body.Reason)
			} else {
				evt, err = e.Reject(ctx, input.ScopeID, input.ApprovalID, actorID, input.Body.Reason)
			}
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body EventResponse `json:"body"`
			}{Body: eventResponse(evt)}, nil
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "approve",
		Method:      http.MethodPost,
		Path:        "/scopes/{scope_id}/approvals/{approval_id}/approve",
		Summary:     "Grant approval",
		Errors:      []int{http.StatusNotFound},
	}, resolve(true))

	huma.Register(api, huma.Operation{
		OperationID: "reject",
		Method:      http.MethodPost,
		Path:        "/scopes/{scope_id}/approvals/{approval_id}/reject",
		Summary:     "Reject approval",
		Errors:      []int{http.StatusNotFound},
	}, resolve(false))
}

func registerPlans(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "preview-plan",
		Method:      http.MethodPost,
		Path:        "/plans/preview",
		Summary:     "Validate a decomposition and preview its execution order and risk",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body PlanPreviewRequest `json:"body"`
	}) (*struct {
		Body PlanPreviewResponse `json:"body"`
	}, error) {
		p := plan.Plan{Reasoning: input.Body.Reasoning}
		for _, t := range input.Body.Tasks {
			p.Tasks = append(p.Tasks, plan.Task{ID: t.ID, Goal: t.Goal, DependsOn: t.DependsOn})
		}
		layers, err := p.ExecutionOrder()
		if err != nil {
			return nil, handleError(err)
		}
		class, decision := e.Gate.EvaluatePlan(p, e.Config.TrustLevel())
		return &struct {
			Body PlanPreviewResponse `json:"body"`
		}{Body: PlanPreviewResponse{
			Layers:      layers,
			ActionClass: string(class),
			Decision:    string(decision),
			TrustLevel:  string(e.Config.TrustLevel()),
		}}, nil
	})
}

func registerAPIKeys(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/keys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		rawKey := fmt.Sprintf("ak_%s", uuid.NewString())
		key := repo.APIKey{
			ID:      uuid.NewString(),
			ActorID: input.Body.ActorID,
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(rawKey),
		}
		if err := r.InsertAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		stored, err := r.GetAPIKeyByHash(ctx, key.KeyHash)
		if err != nil {
			return nil, handleError(err)
		}
		out := apiKeyResponse(stored)
		out.Key = rawKey
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		keys, err := r.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/keys/{key_id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := r.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "deleted"}}, nil
	})
}

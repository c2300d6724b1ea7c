package server

import (
	"time"

	"apiary/internal/event"
	"apiary/internal/projection"
	"apiary/internal/repo"
)

// Request payloads

type CreateHiveRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CloseHiveRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RequirementChangeRequest struct {
	RequirementID string `json:"requirement_id"`
	Change        string `json:"change"`
}

type StartRunRequest struct {
	RunID     string `json:"run_id,omitempty"`
	HiveID    string `json:"hive_id,omitempty"`
	ColonyID  string `json:"colony_id,omitempty"`
	Goal      string `json:"goal"`
	TaskCount int    `json:"task_count,omitempty"`
}

type CompleteRunRequest struct {
	ColonyID  string `json:"colony_id,omitempty"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed,omitempty"`
	Skipped   int    `json:"skipped,omitempty"`
}

type FailRunRequest struct {
	ColonyID string `json:"colony_id,omitempty"`
	Reason   string `json:"reason"`
}

type CreateTaskRequest struct {
	ID        string   `json:"id"`
	Goal      string   `json:"goal"`
	DependsOn []string `json:"depends_on,omitempty"`
	ColonyID  string   `json:"colony_id,omitempty"`
}

type AssignTaskRequest struct {
	WorkerID string `json:"worker_id"`
	ColonyID string `json:"colony_id,omitempty"`
}

type TaskProgressRequest struct {
	WorkerID string `json:"worker_id"`
	ColonyID string `json:"colony_id,omitempty"`
	Note     string `json:"note,omitempty"`
}

type CompleteTaskRequest struct {
	WorkerID  string   `json:"worker_id"`
	ColonyID  string   `json:"colony_id,omitempty"`
	Output    string   `json:"output,omitempty"`
	ToolCalls int      `json:"tool_calls,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
}

type FailTaskRequest struct {
	WorkerID string `json:"worker_id,omitempty"`
	ColonyID string `json:"colony_id,omitempty"`
	Reason   string `json:"reason"`
}

type WaggleRequest struct {
	ColonyID string  `json:"colony_id,omitempty"`
	Accepted bool    `json:"accepted"`
	Score    float64 `json:"score,omitempty"`
	Notes    string  `json:"notes,omitempty"`
}

type ResolveApprovalRequest struct {
	Reason string `json:"reason,omitempty"`
}

type PlanPreviewRequest struct {
	Tasks     []PlanTaskRequest `json:"tasks"`
	Reasoning string            `json:"reasoning,omitempty"`
}

type PlanTaskRequest struct {
	ID        string   `json:"id"`
	Goal      string   `json:"goal"`
	DependsOn []string `json:"depends_on,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type EventResponse struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	TS       string         `json:"ts"`
	Actor    string         `json:"actor,omitempty"`
	RunID    string         `json:"run_id,omitempty"`
	TaskID   string         `json:"task_id,omitempty"`
	ColonyID string         `json:"colony_id,omitempty"`
	Payload  map[string]any `json:"payload"`
	Parents  []string       `json:"parents"`
	PrevHash string         `json:"prev_hash,omitempty"`
	Hash     string         `json:"hash"`
}

func eventResponse(e *event.Event) EventResponse {
	parents := e.Parents
	if parents == nil {
		parents = []string{}
	}
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return EventResponse{
		ID:       e.ID,
		Type:     e.Type,
		TS:       e.Timestamp.UTC().Format(time.RFC3339Nano),
		Actor:    e.Actor,
		RunID:    e.RunID,
		TaskID:   e.TaskID,
		ColonyID: e.ColonyID,
		Payload:  payload,
		Parents:  parents,
		PrevHash: e.PrevHash,
		Hash:     e.Hash,
	}
}

func mapEvents(events []*event.Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse(e))
	}
	return out
}

type HiveResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	Colonies    []string `json:"colonies,omitempty"`
	CreatedBy   string   `json:"created_by,omitempty"`
	EventCount  int      `json:"event_count"`
}

func hiveResponse(h *projection.Hive) HiveResponse {
	return HiveResponse{
		ID:          h.ID,
		Name:        h.Name,
		Description: h.Description,
		Status:      string(h.Status),
		Colonies:    h.Colonies,
		CreatedBy:   h.CreatedBy,
		EventCount:  h.EventCount,
	}
}

func mapHives(items []*projection.Hive) []HiveResponse {
	out := make([]HiveResponse, 0, len(items))
	for _, h := range items {
		out = append(out, hiveResponse(h))
	}
	return out
}

type ColonyResponse struct {
	ID     string            `json:"id"`
	Status string            `json:"status"`
	Runs   map[string]string `json:"runs"`
}

type LineageEntryResponse struct {
	Event    EventResponse `json:"event"`
	Depth    int           `json:"depth"`
	Relation string        `json:"relation"`
}

type LineageResponse struct {
	Origin    EventResponse          `json:"origin"`
	Direction string                 `json:"direction"`
	Related   []LineageEntryResponse `json:"related"`
	Truncated bool                   `json:"truncated"`
}

func lineageResponse(tr *projection.Traversal) LineageResponse {
	related := make([]LineageEntryResponse, 0, len(tr.Related))
	for _, r := range tr.Related {
		related = append(related, LineageEntryResponse{
			Event:    eventResponse(r.Event),
			Depth:    r.Depth,
			Relation: r.Relation,
		})
	}
	return LineageResponse{
		Origin:    eventResponse(tr.Origin),
		Direction: string(tr.Direction),
		Related:   related,
		Truncated: tr.Truncated,
	}
}

type PlanPreviewResponse struct {
	Layers      [][]string `json:"layers"`
	ActionClass string     `json:"action_class"`
	Decision    string     `json:"decision"`
	TrustLevel  string     `json:"trust_level"`
}

type VerifyResponse struct {
	ScopeID  string `json:"scope_id"`
	Verified int    `json:"verified"`
	Intact   bool   `json:"intact"`
	Error    string `json:"error,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
	// Key is the raw key, returned only at creation time.
	Key string `json:"key,omitempty"`
}

func apiKeyResponse(k repo.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt}
}


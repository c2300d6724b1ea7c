package apiarysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Apiary HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Hive represents the API hive projection.
type Hive struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	Colonies    []string `json:"colonies,omitempty"`
	CreatedBy   string   `json:"created_by,omitempty"`
	EventCount  int      `json:"event_count"`
}

// Event represents one entry of a scope's hash chain.
type Event struct {
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

// Colony represents the derived colony status.
type Colony struct {
	ID     string            `json:"id"`
	Status string            `json:"status"`
	Runs   map[string]string `json:"runs"`
}

// Verification reports a chain integrity check.
type Verification struct {
	ScopeID  string `json:"scope_id"`
	Verified int    `json:"verified"`
	Intact   bool   `json:"intact"`
	Error    string `json:"error,omitempty"`
}

// PlanTask is one node of a decomposition.
type PlanTask struct {
	ID        string   `json:"id"`
	Goal      string   `json:"goal"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// PlanPreview is the layered order and gate verdict for a decomposition.
type PlanPreview struct {
	Layers      [][]string `json:"layers"`
	ActionClass string     `json:"action_class"`
	Decision    string     `json:"decision"`
	TrustLevel  string     `json:"trust_level"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateHive creates a hive.
func (c *Client) CreateHive(ctx context.Context, id, name, description string) (Hive, error) {
	body := map[string]any{"id": id, "name": name}
	if description != "" {
		body["description"] = description
	}
	var resp Hive
	err := c.do(ctx, http.MethodPost, "v0/hives", body, &resp)
	return resp, err
}

// GetHive fetches a hive projection.
func (c *Client) GetHive(ctx context.Context, id string) (Hive, error) {
	var resp Hive
	err := c.do(ctx, http.MethodGet, "v0/hives/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListHives lists all hives.
func (c *Client) ListHives(ctx context.Context) ([]Hive, error) {
	var resp []Hive
	err := c.do(ctx, http.MethodGet, "v0/hives", nil, &resp)
	return resp, err
}

// CloseHive closes a hive.
func (c *Client) CloseHive(ctx context.Context, id, reason string) (Hive, error) {
	var resp Hive
	err := c.do(ctx, http.MethodPost, "v0/hives/"+url.PathEscape(id)+"/close", map[string]any{"reason": reason}, &resp)
	return resp, err
}

// StartRun starts a run. The returned event is run.started; a denied goal
// yields an APIError with status 403, a gated one status 409. A non-empty
// hiveID links the run's colony into that hive.
func (c *Client) StartRun(ctx context.Context, runID, colonyID, hiveID, goal string) (Event, error) {
	body := map[string]any{"goal": goal}
	if runID != "" {
		body["run_id"] = runID
	}
	if colonyID != "" {
		body["colony_id"] = colonyID
	}
	if hiveID != "" {
		body["hive_id"] = hiveID
	}
	var resp Event
	err := c.do(ctx, http.MethodPost, "v0/runs", body, &resp)
	return resp, err
}

// CompleteRun closes a run as completed with task counts.
func (c *Client) CompleteRun(ctx context.Context, runID, colonyID string, completed, failed, skipped int) (Event, error) {
	body := map[string]any{
		"colony_id": colonyID,
		"completed": completed,
		"failed":    failed,
		"skipped":   skipped,
	}
	var resp Event
	err := c.do(ctx, http.MethodPost, c.runPath(runID, "complete"), body, &resp)
	return resp, err
}

// FailRun closes a run as failed.
func (c *Client) FailRun(ctx context.Context, runID, colonyID, reason string) (Event, error) {
	body := map[string]any{"colony_id": colonyID, "reason": reason}
	var resp Event
	err := c.do(ctx, http.MethodPost, c.runPath(runID, "fail"), body, &resp)
	return resp, err
}

// CreateTask records task creation inside a run.
func (c *Client) CreateTask(ctx context.Context, runID string, task PlanTask, colonyID string) (Event, error) {
	body := map[string]any{
		"id":   task.ID,
		"goal": task.Goal,
	}
	if len(task.DependsOn) > 0 {
		body["depends_on"] = task.DependsOn
	}
	if colonyID != "" {
		body["colony_id"] = colonyID
	}
	var resp Event
	err := c.do(ctx, http.MethodPost, c.runPath(runID, "tasks"), body, &resp)
	return resp, err
}

// AssignTask records a task assignment to a worker.
func (c *Client) AssignTask(ctx context.Context, runID, taskID, colonyID, workerID string) (Event, error) {
	body := map[string]any{"worker_id": workerID, "colony_id": colonyID}
	var resp Event
	err := c.do(ctx, http.MethodPost, c.taskPath(runID, taskID, "assign"), body, &resp)
	return resp, err
}

// CompleteTask records a task completion with its result.
func (c *Client) CompleteTask(ctx context.Context, runID, taskID, colonyID, workerID, output string, toolCalls int, artifacts []string) (Event, error) {
	body := map[string]any{
		"worker_id":  workerID,
		"colony_id":  colonyID,
		"output":     output,
		"tool_calls": toolCalls,
	}
	if len(artifacts) > 0 {
		body["artifacts"] = artifacts
	}
	var resp Event
	err := c.do(ctx, http.MethodPost, c.taskPath(runID, taskID, "complete"), body, &resp)
	return resp, err
}

// FailTask records a task failure.
func (c *Client) FailTask(ctx context.Context, runID, taskID, colonyID, workerID, reason string) (Event, error) {
	body := map[string]any{"worker_id": workerID, "colony_id": colonyID, "reason": reason}
	var resp Event
	err := c.do(ctx, http.MethodPost, c.taskPath(runID, taskID, "fail"), body, &resp)
	return resp, err
}

// Waggle records a validation verdict on a task.
func (c *Client) Waggle(ctx context.Context, runID, taskID, colonyID string, accepted bool, score float64, notes string) (Event, error) {
	body := map[string]any{
		"colony_id": colonyID,
		"accepted":  accepted,
		"score":     score,
		"notes":     notes,
	}
	var resp Event
	err := c.do(ctx, http.MethodPost, c.taskPath(runID, taskID, "waggle"), body, &resp)
	return resp, err
}

// Colony returns the derived status of a colony.
func (c *Client) Colony(ctx context.Context, colonyID string) (Colony, error) {
	var resp Colony
	err := c.do(ctx, http.MethodGet, "v0/colonies/"+url.PathEscape(colonyID), nil, &resp)
	return resp, err
}

// Events replays a scope's events, optionally only the last n.
func (c *Client) Events(ctx context.Context, scopeID string, tail int) ([]Event, error) {
	endpoint := c.scopePath(scopeID, "events")
	if tail > 0 {
		endpoint = fmt.Sprintf("%s?tail=%d", endpoint, tail)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Verify checks a scope's hash chain integrity.
func (c *Client) Verify(ctx context.Context, scopeID string) (Verification, error) {
	var resp Verification
	err := c.do(ctx, http.MethodGet, c.scopePath(scopeID, "verify"), nil, &resp)
	return resp, err
}

// Approve grants a pending approval request.
func (c *Client) Approve(ctx context.Context, scopeID, approvalID, reason string) (Event, error) {
	endpoint := c.scopePath(scopeID, "approvals/"+url.PathEscape(approvalID)+"/approve")
	var resp Event
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"reason": reason}, &resp)
	return resp, err
}

// RejectApproval rejects a pending approval request.
func (c *Client) RejectApproval(ctx context.Context, scopeID, approvalID, reason string) (Event, error) {
	endpoint := c.scopePath(scopeID, "approvals/"+url.PathEscape(approvalID)+"/reject")
	var resp Event
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"reason": reason}, &resp)
	return resp, err
}

// PreviewPlan validates a decomposition and returns its layered order and
// the policy verdict.
func (c *Client) PreviewPlan(ctx context.Context, tasks []PlanTask, reasoning string) (PlanPreview, error) {
	body := map[string]any{"tasks": tasks}
	if reasoning != "" {
		body["reasoning"] = reasoning
	}
	var resp PlanPreview
	err := c.do(ctx, http.MethodPost, "v0/plans/preview", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) runPath(runID, p string) string {
	return fmt.Sprintf("v0/runs/%s/%s", url.PathEscape(runID), strings.TrimLeft(p, "/"))
}

func (c *Client) taskPath(runID, taskID, p string) string {
	return fmt.Sprintf("v0/runs/%s/tasks/%s/%s", url.PathEscape(runID), url.PathEscape(taskID), strings.TrimLeft(p, "/"))
}

func (c *Client) scopePath(scopeID, p string) string {
	return fmt.Sprintf("v0/scopes/%s/%s", url.PathEscape(scopeID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

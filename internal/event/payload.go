package event

import "encoding/json"

// Typed payload variants for the recognized event types. Payloads travel as
// opaque maps on the wire; DecodePayload lifts them into these shapes.

type RunStartedPayload struct {
	Goal      string `json:"goal,omitempty"`
	TaskCount int    `json:"task_count,omitempty"`
}

type RunCompletedPayload struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type RunFailedPayload struct {
	Reason string `json:"reason"`
}

type TaskCreatedPayload struct {
	Goal      string   `json:"goal"`
	DependsOn []string `json:"depends_on,omitempty"`
}

type TaskAssignedPayload struct {
	WorkerID string `json:"worker_id"`
}

type TaskProgressedPayload struct {
	Note string `json:"note,omitempty"`
}

type TaskCompletedPayload struct {
	Output    string   `json:"output,omitempty"`
	ToolCalls int      `json:"tool_calls,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
}

type TaskFailedPayload struct {
	Reason   string `json:"reason"`
	WorkerID string `json:"worker_id,omitempty"`
}

type HiveCreatedPayload struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type HiveClosedPayload struct {
	Reason string `json:"reason,omitempty"`
}

type ColonyTerminalPayload struct {
	Runs map[string]string `json:"runs,omitempty"`
}

type WaggleValidatedPayload struct {
	Accepted bool    `json:"accepted"`
	Score    float64 `json:"score,omitempty"`
	Notes    string  `json:"notes,omitempty"`
}

type RequirementChangedPayload struct {
	RequirementID string `json:"requirement_id"`
	Change        string `json:"change"`
}

type ApprovalRequestedPayload struct {
	ApprovalID  string `json:"approval_id"`
	Action      string `json:"action"`
	ActionClass string `json:"action_class"`
	TrustLevel  string `json:"trust_level"`
}

type ApprovalResolvedPayload struct {
	ApprovalID string `json:"approval_id"`
	Reason     string `json:"reason,omitempty"`
}

// GenericPayload is the forward-compatible fallback for event types this
// build does not recognize. The raw payload is preserved verbatim.
type GenericPayload struct {
	Type string
	Data map[string]any
}

// DecodePayload lifts the event's opaque payload into its typed variant.
// Unknown event types never fail; they decode to GenericPayload.
func DecodePayload(e *Event) (any, error) {
	switch e.Type {
	case TypeRunStarted:
		return decodeAs[RunStartedPayload](e)
	case TypeRunCompleted:
		return decodeAs[RunCompletedPayload](e)
	case TypeRunFailed:
		return decodeAs[RunFailedPayload](e)
	case TypeTaskCreated:
		return decodeAs[TaskCreatedPayload](e)
	case TypeTaskAssigned:
		return decodeAs[TaskAssignedPayload](e)
	case TypeTaskProgressed:
		return decodeAs[TaskProgressedPayload](e)
	case TypeTaskCompleted:
		return decodeAs[TaskCompletedPayload](e)
	case TypeTaskFailed:
		return decodeAs[TaskFailedPayload](e)
	case TypeHiveCreated:
		return decodeAs[HiveCreatedPayload](e)
	case TypeHiveClosed:
		return decodeAs[HiveClosedPayload](e)
	case TypeColonyCompleted, TypeColonyFailed:
		return decodeAs[ColonyTerminalPayload](e)
	case TypeWaggleValidated:
		return decodeAs[WaggleValidatedPayload](e)
	case TypeRequirementChanged:
		return decodeAs[RequirementChangedPayload](e)
	case TypeApprovalRequested:
		return decodeAs[ApprovalRequestedPayload](e)
	case TypeApprovalGranted, TypeApprovalRejected:
		return decodeAs[ApprovalResolvedPayload](e)
	default:
		return GenericPayload{Type: e.Type, Data: e.Payload}, nil
	}
}

func decodeAs[T any](e *Event) (T, error) {
	var out T
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// PayloadFrom flattens a typed payload back into the opaque map form used on
// the Event itself.
func PayloadFrom(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

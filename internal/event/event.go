package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Recognized event types. Unknown types still parse; see payload.go.
const (
	TypeRunStarted   = "run.started"
	TypeRunCompleted = "run.completed"
	TypeRunFailed    = "run.failed"

	TypeTaskCreated    = "task.created"
	TypeTaskAssigned   = "task.assigned"
	TypeTaskProgressed = "task.progressed"
	TypeTaskCompleted  = "task.completed"
	TypeTaskFailed     = "task.failed"

	TypeColonyCompleted = "colony.completed"
	TypeColonyFailed    = "colony.failed"

	TypeHiveCreated = "hive.created"
	TypeHiveClosed  = "hive.closed"

	TypeWaggleValidated    = "waggle.validated"
	TypeRequirementChanged = "requirement.changed"

	TypeApprovalRequested = "approval.requested"
	TypeApprovalGranted   = "approval.granted"
	TypeApprovalRejected  = "approval.rejected"
)

// Well-known actors. Queens and workers are scoped, see QueenActor/WorkerActor.
const (
	ActorUser      = "user"
	ActorBeekeeper = "beekeeper"
	ActorSystem    = "system"
)

// QueenActor identifies the queen agent of a colony.
func QueenActor(colonyID string) string { return "queen:" + colonyID }

// WorkerActor identifies a worker agent.
func WorkerActor(workerID string) string { return "worker:" + workerID }

var ErrSealed = errors.New("event already sealed")

// Event is an immutable fact in the Akashic Record. Once sealed its hash is
// fixed; the store rejects events whose content no longer matches their hash.
type Event struct {
	ID        string
	Type      string
	Timestamp time.Time
	Actor     string
	RunID     string
	TaskID    string
	ColonyID  string
	Payload   map[string]any
	Parents   []string
	PrevHash  string
	Hash      string

	// extra holds fields we did not recognize on read. They survive
	// re-serialization untouched and participate in the hash.
	extra map[string]json.RawMessage
}

// New returns an unsealed event with a fresh ULID and UTC timestamp.
func New(evtType, actor string) *Event {
	return &Event{
		ID:        NewID(),
		Type:      evtType,
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Payload:   map[string]any{},
	}
}

// NewAt is New with an injected clock, for deterministic tests.
func NewAt(evtType, actor string, now time.Time) *Event {
	e := New(evtType, actor)
	e.Timestamp = now.UTC()
	return e
}

// Seal computes the hash once. Sealing twice is an error: the hash is never
// recomputed to match mutated content.
func (e *Event) Seal() error {
	if e.Sealed() {
		return ErrSealed
	}
	h, err := ComputeHash(e)
	if err != nil {
		return err
	}
	e.Hash = h
	return nil
}

func (e *Event) Sealed() bool { return e.Hash != "" }

// Verify recomputes the hash and reports whether the content still matches.
func (e *Event) Verify() error {
	if !e.Sealed() {
		return errors.New("event not sealed")
	}
	h, err := ComputeHash(e)
	if err != nil {
		return err
	}
	if h != e.Hash {
		return fmt.Errorf("event %s hash mismatch: content was mutated after sealing", e.ID)
	}
	return nil
}

const timeLayout = time.RFC3339Nano

// knownFields are the serialized field names owned by this version of the
// schema. Everything else is carried through extra.
var knownFields = map[string]bool{
	"id": true, "type": true, "timestamp": true, "actor": true,
	"run_id": true, "task_id": true, "colony_id": true,
	"payload": true, "parents": true, "prev_hash": true, "hash": true,
}

// fieldMap renders the event as a flat field map. The hash field is included
// only when withHash is set; ComputeHash always calls with withHash=false.
func (e *Event) fieldMap(withHash bool) (map[string]any, error) {
	m := map[string]any{
		"id":        e.ID,
		"type":      e.Type,
		"timestamp": e.Timestamp.UTC().Format(timeLayout),
		"actor":     e.Actor,
	}
	if e.RunID != "" {
		m["run_id"] = e.RunID
	}
	if e.TaskID != "" {
		m["task_id"] = e.TaskID
	}
	if e.ColonyID != "" {
		m["colony_id"] = e.ColonyID
	}
	if e.Payload != nil {
		m["payload"] = e.Payload
	} else {
		m["payload"] = map[string]any{}
	}
	if e.Parents != nil {
		m["parents"] = e.Parents
	} else {
		m["parents"] = []string{}
	}
	if e.PrevHash != "" {
		m["prev_hash"] = e.PrevHash
	}
	for k, raw := range e.extra {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("extra field %s: %w", k, err)
		}
		m[k] = v
	}
	if withHash && e.Hash != "" {
		m["hash"] = e.Hash
	}
	return m, nil
}

// MarshalJSON serializes the event including any preserved unknown fields.
func (e Event) MarshalJSON() ([]byte, error) {
	m, err := e.fieldMap(true)
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts events written by newer schema versions: fields we do
// not recognize are preserved verbatim for re-serialization and hashing.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	get := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		return json.Unmarshal(v, dst)
	}
	var ts string
	if err := get("id", &e.ID); err != nil {
		return err
	}
	if err := get("type", &e.Type); err != nil {
		return err
	}
	if err := get("timestamp", &ts); err != nil {
		return err
	}
	if ts != "" {
		t, err := time.Parse(timeLayout, ts)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		e.Timestamp = t.UTC()
	}
	if err := get("actor", &e.Actor); err != nil {
		return err
	}
	if err := get("run_id", &e.RunID); err != nil {
		return err
	}
	if err := get("task_id", &e.TaskID); err != nil {
		return err
	}
	if err := get("colony_id", &e.ColonyID); err != nil {
		return err
	}
	if err := get("payload", &e.Payload); err != nil {
		return err
	}
	if err := get("parents", &e.Parents); err != nil {
		return err
	}
	if err := get("prev_hash", &e.PrevHash); err != nil {
		return err
	}
	if err := get("hash", &e.Hash); err != nil {
		return err
	}
	for k, v := range raw {
		if knownFields[k] {
			continue
		}
		if e.extra == nil {
			e.extra = map[string]json.RawMessage{}
		}
		e.extra[k] = v
	}
	return nil
}

// ExtraFields lists preserved unknown field names, for diagnostics.
func (e *Event) ExtraFields() []string {
	out := make([]string, 0, len(e.extra))
	for k := range e.extra {
		out = append(out, k)
	}
	return out
}

package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedTime() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

func sampleEvent() *Event {
	e := NewAt(TypeTaskCreated, ActorBeekeeper, fixedTime())
	e.RunID = "run-1"
	e.TaskID = "task-1"
	e.Payload = map[string]any{"goal": "write parser", "depends_on": []any{"task-0"}}
	return e
}

func TestNewIDFormatAndUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id := NewID()
		require.Len(t, id, 26)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestNewIDSortable(t *testing.T) {
	a := NewID()
	time.Sleep(2 * time.Millisecond)
	b := NewID()
	assert.Less(t, a, b)
}

func TestComputeHashDeterministic(t *testing.T) {
	e := sampleEvent()
	h1, err := ComputeHash(e)
	require.NoError(t, err)
	h2, err := ComputeHash(e)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestComputeHashIgnoresExistingHash(t *testing.T) {
	e := sampleEvent()
	h1, err := ComputeHash(e)
	require.NoError(t, err)
	e.Hash = "0000"
	h2, err := ComputeHash(e)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestComputeHashSensitiveToEveryField(t *testing.T) {
	base := sampleEvent()
	baseHash, err := ComputeHash(base)
	require.NoError(t, err)

	mutations := map[string]func(*Event){
		"id":        func(e *Event) { e.ID = NewID() },
		"type":      func(e *Event) { e.Type = TypeTaskFailed },
		"timestamp": func(e *Event) { e.Timestamp = e.Timestamp.Add(time.Second) },
		"actor":     func(e *Event) { e.Actor = ActorUser },
		"run_id":    func(e *Event) { e.RunID = "run-2" },
		"task_id":   func(e *Event) { e.TaskID = "task-9" },
		"colony_id": func(e *Event) { e.ColonyID = "col-1" },
		"payload":   func(e *Event) { e.Payload["goal"] = "other" },
		"parents":   func(e *Event) { e.Parents = []string{"01AAAA"} },
		"prev_hash": func(e *Event) { e.PrevHash = "deadbeef" },
	}
	for field, mutate := range mutations {
		e := sampleEvent()
		e.ID = base.ID
		mutate(e)
		h, err := ComputeHash(e)
		require.NoError(t, err, field)
		if field == "id" {
			assert.NotEqual(t, baseHash, h, field)
			continue
		}
		assert.NotEqual(t, baseHash, h, "changing %s should change hash", field)
	}
}

func TestSealOnceAndVerify(t *testing.T) {
	e := sampleEvent()
	require.NoError(t, e.Seal())
	assert.True(t, e.Sealed())
	assert.ErrorIs(t, e.Seal(), ErrSealed)
	require.NoError(t, e.Verify())

	e.Payload["goal"] = "tampered"
	assert.Error(t, e.Verify())
}

func TestSerializationRoundTrip(t *testing.T) {
	e := sampleEvent()
	e.Parents = []string{"01H0AAAA"}
	require.NoError(t, e.Seal())

	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var back Event
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, e.ID, back.ID)
	assert.Equal(t, e.Type, back.Type)
	assert.Equal(t, e.Hash, back.Hash)
	assert.Equal(t, e.Parents, back.Parents)
	assert.True(t, e.Timestamp.Equal(back.Timestamp))
	assert.Equal(t, "write parser", back.Payload["goal"])
	require.NoError(t, back.Verify())
}

func TestUnknownFieldsSurviveRoundTrip(t *testing.T) {
	raw := []byte(`{
		"id": "01HZZZZZZZZZZZZZZZZZZZZZZZ",
		"type": "swarm.migrated",
		"timestamp": "2025-03-01T12:00:00Z",
		"actor": "system",
		"payload": {"from": "hive-a", "to": "hive-b"},
		"parents": [],
		"schema_version": 7,
		"trace": {"span": "abc"}
	}`)
	var e Event
	require.NoError(t, json.Unmarshal(raw, &e))
	assert.ElementsMatch(t, []string{"schema_version", "trace"}, e.ExtraFields())

	out, err := json.Marshal(&e)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	assert.EqualValues(t, 7, m["schema_version"])
	assert.Equal(t, map[string]any{"span": "abc"}, m["trace"])
}

func TestDecodePayloadTyped(t *testing.T) {
	e := sampleEvent()
	v, err := DecodePayload(e)
	require.NoError(t, err)
	p, ok := v.(TaskCreatedPayload)
	require.True(t, ok)
	assert.Equal(t, "write parser", p.Goal)
	assert.Equal(t, []string{"task-0"}, p.DependsOn)
}

func TestDecodePayloadUnknownTypeFallsBack(t *testing.T) {
	e := NewAt("swarm.migrated", ActorSystem, fixedTime())
	e.Payload = map[string]any{"from": "hive-a"}
	v, err := DecodePayload(e)
	require.NoError(t, err)
	g, ok := v.(GenericPayload)
	require.True(t, ok)
	assert.Equal(t, "swarm.migrated", g.Type)
	assert.Equal(t, "hive-a", g.Data["from"])
}

func TestActorHelpers(t *testing.T) {
	assert.Equal(t, "queen:col-1", QueenActor("col-1"))
	assert.Equal(t, "worker:w-2", WorkerActor("w-2"))
}

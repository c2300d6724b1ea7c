package plan

import (
	"context"
	"encoding/json"
	_ "embed"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed decomposition_schema.json
var decompositionSchemaJSON string

var decompositionSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("decomposition.json", strings.NewReader(decompositionSchemaJSON)); err != nil {
		panic(err)
	}
	return c.MustCompile("decomposition.json")
}

// Decomposer produces a raw task-list decomposition for a goal. The concrete
// implementation (an LLM client) lives outside this module's core.
type Decomposer interface {
	Decompose(ctx context.Context, goal string) ([]byte, error)
}

// ParseDecomposition validates a raw decomposition response and builds a
// Plan. The response must satisfy the embedded schema (1-10 tasks, non-empty
// ids and goals) and the dependency graph must reference only declared tasks
// and contain no cycles.
func ParseDecomposition(raw []byte) (Plan, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Plan{}, fmt.Errorf("decomposition is not valid JSON: %w", err)
	}
	if err := decompositionSchema.Validate(generic); err != nil {
		return Plan{}, fmt.Errorf("decomposition rejected by schema: %w", err)
	}
	var p Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return Plan{}, err
	}
	// schema guarantees shape; the graph itself still needs checking
	if _, err := p.ExecutionOrder(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Build asks the decomposer for a plan and validates the result.
func Build(ctx context.Context, d Decomposer, goal string) (Plan, error) {
	raw, err := d.Decompose(ctx, goal)
	if err != nil {
		return Plan{}, fmt.Errorf("decompose goal: %w", err)
	}
	return ParseDecomposition(raw)
}

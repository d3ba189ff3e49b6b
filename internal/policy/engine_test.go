package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	decision, reason, err := engine.Evaluate(ctx, Input{Operation: "get_project", Category: "read", MaxActionCredits: 500})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)
	assert.Empty(t, reason)

	decision, reason, err = engine.Evaluate(ctx, Input{Operation: "generate_image", Category: "generation", RequiresConfirmation: true, EstimatedCredits: 4, MaxActionCredits: 500})
	require.NoError(t, err)
	assert.Equal(t, DecisionRequireConfirmation, decision)
	assert.Contains(t, reason, "4 credits")

	decision, reason, err = engine.Evaluate(ctx, Input{Operation: "generate_video", Category: "generation", EstimatedCredits: 600, MaxActionCredits: 500})
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, decision)
	assert.Contains(t, reason, "exceeds")

	decision, _, err = engine.Evaluate(ctx, Input{Operation: "generate_video", EstimatedCredits: 600})
	require.NoError(t, err)
	assert.Equal(t, DecisionRequireConfirmation, decision, "a zero limit disables blocking")
}

func TestCustomPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.rego")
	require.NoError(t, os.WriteFile(path, []byte(`
package shotrio.gate

default decision := "allow"

decision := "require_confirmation" if {
	input.operation == "rename_project"
	count(input.arguments.name) > 10
}
`), 0o600))

	ctx := context.Background()
	engine, err := LoadEngine(ctx, path)
	require.NoError(t, err)

	decision, _, err := engine.Evaluate(ctx, Input{Operation: "rename_project", Arguments: map[string]any{"name": "A much longer name"}})
	require.NoError(t, err)
	assert.Equal(t, DecisionRequireConfirmation, decision)

	decision, _, err = engine.Evaluate(ctx, Input{Operation: "rename_project", Arguments: map[string]any{"name": "Short"}})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)
}

func TestPolicyErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewEngine(ctx, "package shotrio.gate\n\ndecision := ")
	assert.Error(t, err)

	_, err = LoadEngine(ctx, filepath.Join(t.TempDir(), "missing.rego"))
	assert.Error(t, err)

	engine, err := NewEngine(ctx, "package shotrio.gate\n\ndecision := \"maybe\"\n")
	require.NoError(t, err)
	_, _, err = engine.Evaluate(ctx, Input{Operation: "x"})
	assert.ErrorContains(t, err, "unknown decision")

	engine, err = LoadEngine(ctx, "")
	require.NoError(t, err)
	assert.NotNil(t, engine)
}

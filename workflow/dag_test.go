package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDAG(t *testing.T, edges map[string][]string, order []string) *dag {
	t.Helper()
	g := newDAG()
	for _, id := range order {
		g.addNode(id, edges[id])
	}
	return g
}

func TestValidateRejectsDanglingDependency(t *testing.T) {
	g := buildDAG(t, map[string][]string{"b": {"a"}}, []string{"b"})
	err := g.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined step")
}

func TestValidateRejectsCycle(t *testing.T) {
	g := buildDAG(t, map[string][]string{
		"a": {"c"},
		"b": {"a"},
		"c": {"b"},
	}, []string{"a", "b", "c"})
	err := g.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidateAcceptsLinearChain(t *testing.T) {
	g := buildDAG(t, map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
	}, []string{"a", "b", "c"})
	assert.NoError(t, g.validate())
}

func TestReadyNodesRespectsDeclarationOrderTiebreak(t *testing.T) {
	g := buildDAG(t, map[string][]string{
		"z": nil,
		"a": nil,
		"m": nil,
	}, []string{"z", "a", "m"})

	ready := g.readyNodes(nil)
	assert.Equal(t, []string{"z", "a", "m"}, ready)
}

func TestReadyNodesWaitsForDependencySuccess(t *testing.T) {
	g := buildDAG(t, map[string][]string{
		"a": nil,
		"b": {"a"},
	}, []string{"a", "b"})

	assert.Equal(t, []string{"a"}, g.readyNodes(nil))

	g.setStatus("a", StepRunning)
	assert.Empty(t, g.readyNodes(nil))

	g.setStatus("a", StepSucceeded)
	assert.Equal(t, []string{"b"}, g.readyNodes(nil))
}

func TestReadyNodesAdmitDependentWhenFailureContinues(t *testing.T) {
	g := buildDAG(t, map[string][]string{
		"a": nil,
		"b": {"a"},
	}, []string{"a", "b"})

	g.setStatus("a", StepFailed)
	assert.Empty(t, g.readyNodes(nil))
	assert.Empty(t, g.readyNodes(map[string]bool{"a": false}))
	assert.Equal(t, []string{"b"}, g.readyNodes(map[string]bool{"a": true}))
}

func TestAnyDependencyBlockingOnCancelledOrSkipped(t *testing.T) {
	g := buildDAG(t, map[string][]string{
		"a": nil,
		"b": {"a"},
	}, []string{"a", "b"})

	g.setStatus("a", StepCancelled)
	assert.True(t, g.anyDependencyBlocking("b", nil))

	g.setStatus("a", StepSkipped)
	assert.True(t, g.anyDependencyBlocking("b", nil))
}

func TestAllTerminalFalseUntilEveryNodeResolves(t *testing.T) {
	g := buildDAG(t, map[string][]string{
		"a": nil,
		"b": nil,
	}, []string{"a", "b"})

	assert.False(t, g.allTerminal())
	g.setStatus("a", StepSucceeded)
	assert.False(t, g.allTerminal())
	g.setStatus("b", StepFailed)
	assert.True(t, g.allTerminal())
}

func TestPendingStepIDsExcludesTerminalAndRunning(t *testing.T) {
	g := buildDAG(t, map[string][]string{
		"a": nil,
		"b": nil,
		"c": nil,
	}, []string{"a", "b", "c"})
	g.setStatus("a", StepRunning)
	g.setStatus("b", StepSucceeded)

	assert.Equal(t, []string{"c"}, g.pendingStepIDs())
}

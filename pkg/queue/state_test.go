package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/metamorph/pkg/model"
)

func TestClaimPendingTask(t *testing.T) {
	next, rc, err := Transition(model.TaskPending, 0, 3, EventClaim)
	require.NoError(t, err)
	assert.Equal(t, model.TaskProcessing, next)
	assert.Equal(t, 0, rc)
}

func TestClaimRetryEligibleErrorTask(t *testing.T) {
	next, _, err := Transition(model.TaskError, 1, 3, EventClaim)
	require.NoError(t, err)
	assert.Equal(t, model.TaskProcessing, next)
}

func TestClaimRejectsTerminalStates(t *testing.T) {
	_, _, err := Transition(model.TaskCompleted, 0, 3, EventClaim)
	assert.Error(t, err)

	// Exhausted error rows are terminal.
	_, _, err = Transition(model.TaskError, 3, 3, EventClaim)
	assert.Error(t, err)

	_, _, err = Transition(model.TaskProcessing, 0, 3, EventClaim)
	assert.Error(t, err)
}

func TestCompleteOnlyFromProcessing(t *testing.T) {
	next, _, err := Transition(model.TaskProcessing, 2, 3, EventComplete)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, next)

	for _, s := range []model.TaskState{model.TaskPending, model.TaskCompleted, model.TaskError} {
		_, _, err := Transition(s, 0, 3, EventComplete)
		assert.Error(t, err, "complete from %s must be rejected", s)
	}
}

func TestFailBelowBudgetRequeues(t *testing.T) {
	next, rc, err := Transition(model.TaskProcessing, 1, 2, EventFail)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, next)
	assert.Equal(t, 2, rc)
}

func TestFailAtBudgetIsTerminal(t *testing.T) {
	next, rc, err := Transition(model.TaskProcessing, 2, 2, EventFail)
	require.NoError(t, err)
	assert.Equal(t, model.TaskError, next)
	assert.Equal(t, 2, rc, "terminal failure must not inflate the counter")
}

// Walk a task that never succeeds through its whole life: with maxRetries=2
// it takes exactly 3 attempts and dies with retry_count=2.
func TestExhaustionWalk(t *testing.T) {
	const maxRetries = 2

	state, rc := model.TaskPending, 0
	attempts := 0

	for {
		var err error
		state, rc, err = Transition(state, rc, maxRetries, EventClaim)
		require.NoError(t, err)
		attempts++

		state, rc, err = Transition(state, rc, maxRetries, EventFail)
		require.NoError(t, err)

		if state == model.TaskError {
			break
		}
		require.Equal(t, model.TaskPending, state)
	}

	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, rc)
	assert.True(t, state.Terminal())
	assert.False(t, Claimable(state, rc, maxRetries))
}

func TestZeroRetryBudget(t *testing.T) {
	next, rc, err := Transition(model.TaskProcessing, 0, 0, EventFail)
	require.NoError(t, err)
	assert.Equal(t, model.TaskError, next)
	assert.Equal(t, 0, rc)
}

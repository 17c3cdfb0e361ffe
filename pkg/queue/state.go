// Package queue holds the task state machine for the structural alignment
// queue. Transition is the single authority on state changes; the store
// applies its outcome under a conditional update but never invents a
// transition of its own.
package queue

import (
	"fmt"

	"github.com/yumyai/metamorph/pkg/model"
)

// Event is something that happens to a queued task.
type Event int

const (
	// EventClaim moves a claimable task into processing.
	EventClaim Event = iota
	// EventComplete finishes a processing task successfully.
	EventComplete
	// EventFail records a failed attempt. Depending on the retry budget
	// the task goes back to pending or terminally to error.
	EventFail
)

func (e Event) String() string {
	switch e {
	case EventClaim:
		return "claim"
	case EventComplete:
		return "complete"
	case EventFail:
		return "fail"
	}
	return "unknown"
}

// InvalidTransitionError is returned when an event is not legal in the
// task's current state.
type InvalidTransitionError struct {
	State model.TaskState
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s on %s task", e.Event, e.State)
}

// Claimable reports whether a task in the given state with the given retry
// count may be picked up by a worker.
func Claimable(state model.TaskState, retryCount, maxRetries int) bool {
	if state == model.TaskPending {
		return true
	}
	// An error row left below the retry budget (legacy data, or a budget
	// raised after the fact) is still eligible.
	return state == model.TaskError && retryCount < maxRetries
}

// Transition applies one event to a task and returns the next state and
// retry count.
//
// Retry semantics: a failure with retry_count < maxRetries increments the
// counter and re-queues the task; a failure at retry_count == maxRetries is
// terminal and leaves the counter untouched. A task with maxRetries=2 that
// never succeeds therefore takes 3 attempts and ends in the error state
// with retry_count=2.
func Transition(state model.TaskState, retryCount, maxRetries int, event Event) (model.TaskState, int, error) {
	switch event {
	case EventClaim:
		if !Claimable(state, retryCount, maxRetries) {
			return state, retryCount, &InvalidTransitionError{State: state, Event: event}
		}
		return model.TaskProcessing, retryCount, nil

	case EventComplete:
		if state != model.TaskProcessing {
			return state, retryCount, &InvalidTransitionError{State: state, Event: event}
		}
		return model.TaskCompleted, retryCount, nil

	case EventFail:
		if state != model.TaskProcessing {
			return state, retryCount, &InvalidTransitionError{State: state, Event: event}
		}
		if retryCount < maxRetries {
			return model.TaskPending, retryCount + 1, nil
		}
		return model.TaskError, retryCount, nil
	}

	return state, retryCount, &InvalidTransitionError{State: state, Event: event}
}

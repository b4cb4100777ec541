package workflow

import (
	"sync"
	"time"

	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/engine"
)

// instance is the coordinator-owned record of one workflow.
type instance struct {
	id string

	mu      sync.Mutex
	state   core.WorkflowState
	wctx    *engine.Context
	fireAt  time.Time // review deadline, zero until the gate opens
	closing bool      // a signal or cancel has been accepted
	changed chan struct{}

	// A recovered execution rebuilds replay until it reaches resumeAt; the
	// published state stays at the saved snapshot meanwhile.
	resumeAt core.Phase
	replay   *core.WorkflowState

	signalled chan struct{}
	done      chan struct{}
}

func newInstance(state core.WorkflowState) *instance {
	return &instance{
		id:        state.ID,
		state:     state,
		changed:   make(chan struct{}),
		signalled: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// newRecoveredInstance publishes saved while its execution replays from
// initial.
func newRecoveredInstance(saved, initial core.WorkflowState) *instance {
	inst := newInstance(saved)

	if saved.Phase != initial.Phase {
		inst.resumeAt = saved.Phase
		inst.replay = &initial
	}

	return inst
}

// baseLocked returns the state the next transition starts from. Callers hold
// i.mu.
func (i *instance) baseLocked() core.WorkflowState {
	if i.replay != nil {
		return *i.replay
	}

	return i.state
}

// snapshot returns a clone of the current state.
func (i *instance) snapshot() core.WorkflowState {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.state.Clone()
}

// notifyLocked wakes every goroutine waiting for a state change. Callers hold
// i.mu.
func (i *instance) notifyLocked() {
	close(i.changed)
	i.changed = make(chan struct{})
}

// watch returns the current state and a channel closed on the next change.
func (i *instance) watch() (core.WorkflowState, <-chan struct{}) {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.state.Clone(), i.changed
}

func (i *instance) running() bool {
	select {
	case <-i.done:
		return false
	default:
		return true
	}
}

package engine

import (
	"context"
	"sync"
	"time"
)

// CallbackType defines the lifecycle points of an activity where callbacks run.
type CallbackType string

const (
	// CallbackBeforeAttempt is triggered before each live attempt of an activity.
	CallbackBeforeAttempt CallbackType = "before_attempt"

	// CallbackAfterAttempt is triggered after each live attempt, successful or not.
	CallbackAfterAttempt CallbackType = "after_attempt"

	// CallbackReplayed is triggered when an activity outcome is served from history.
	CallbackReplayed CallbackType = "replayed"

	// CallbackTimerStarted is triggered when a durable timer is first recorded.
	CallbackTimerStarted CallbackType = "timer_started"

	// CallbackSignalRecorded is triggered when a signal is persisted.
	CallbackSignalRecorded CallbackType = "signal_recorded"
)

// CallbackContext carries the details of the lifecycle point being observed.
type CallbackContext struct {
	WorkflowID   string
	Name         string
	Attempt      int
	Duration     time.Duration
	Err          error
	CallbackType CallbackType
}

// Callback observes engine lifecycle points. Callbacks run synchronously on
// the goroutine executing the activity and must not block.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, callbackCtx *CallbackContext)
}

// FunctionCallback adapts a function to the Callback interface.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext)
}

// NewFunctionCallback creates a callback for the given type.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext),
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the lifecycle point this callback is registered for.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute invokes the wrapped function.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) {
	c.fn(ctx, callbackCtx)
}

// CallbackManager holds registered callbacks per type.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks runs every callback registered for callbackCtx.CallbackType in order.
func (cm *CallbackManager) ExecuteCallbacks(ctx context.Context, callbackCtx *CallbackContext) {
	cm.mu.RLock()
	callbacks := cm.callbacks[callbackCtx.CallbackType]
	cm.mu.RUnlock()

	for _, callback := range callbacks {
		callback.Execute(ctx, callbackCtx)
	}
}

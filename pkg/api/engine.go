package api

import (
	"context"
)

// Engine is the high-level engine API (synchronous: Run, Signal and
// Resume drive the instance in the calling goroutine until it completes,
// fails, or parks on an interrupt).
type Engine interface {
	// RegisterWorkflow registers a definition by name.
	RegisterWorkflow(def WorkflowDefinition) error

	// Run starts a new instance of the named workflow and drives it until
	// it completes, fails, or parks on an interrupt. The returned instance
	// reflects the final status; the returned error is non-nil only for
	// step failures, routing failures, and infrastructure errors. An
	// instance that parks WAITING is not an error.
	Run(ctx context.Context, name string, input any) (*WorkflowInstance, error)

	// GetInstance looks up a workflow instance by ID.
	// Returns an error wrapping persistence.ErrInstanceNotFound if the
	// instance does not exist.
	GetInstance(ctx context.Context, id string) (*WorkflowInstance, error)

	// ListInstances returns workflow instances matching the given options.
	// If options are zero-valued, all instances are returned.
	ListInstances(ctx context.Context, opts InstanceListOptions) ([]*WorkflowInstance, error)

	// Signal delivers a response to a waiting workflow instance and
	// resumes it from the step that asked. The step is re-run with a
	// SignalPayload carrying the response and the checkpointed state.
	//
	// Returns ErrNotWaiting if the instance is not WAITING, and
	// ErrConflict if another caller currently holds the instance lease.
	Signal(ctx context.Context, id string, name string, payload any) (*WorkflowInstance, error)

	// Resume retries a previously failed workflow instance from its
	// checkpoint: the step recorded at failure time is re-run with the
	// checkpointed state. Steps that already committed are not replayed.
	//
	// Only FAILED instances can be resumed.
	Resume(ctx context.Context, id string) (*WorkflowInstance, error)

	// RecoverStuckInstances scans for in-flight workflow instances that
	// are still marked as StatusRunning (for example after a process
	// crash) and marks them as StatusFailed with a standard error message.
	// Their checkpoints are untouched, so they remain resumable.
	//
	// It returns the number of instances it updated.
	//
	// This method is intended to be called on process startup *before*
	// accepting new work, so that no instance is legitimately running
	// when it is executed.
	RecoverStuckInstances(ctx context.Context) (int, error)
}

type engineContextKey struct{}

// WithEngine returns a context carrying the given engine. The engine
// attaches itself to every step invocation so that steps can start
// nested workflows via EngineFromContext.
func WithEngine(ctx context.Context, eng Engine) context.Context {
	return context.WithValue(ctx, engineContextKey{}, eng)
}

// EngineFromContext returns the engine attached to ctx, or nil if none
// is attached.
func EngineFromContext(ctx context.Context) Engine {
	eng, _ := ctx.Value(engineContextKey{}).(Engine)
	return eng
}

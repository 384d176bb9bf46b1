package api

import (
	"context"
	"fmt"
	"time"
)

// StepFunc is a single step in a workflow. It receives the checkpointed
// value for its slot and returns the value to checkpoint for the next
// step.
type StepFunc func(ctx context.Context, input any) (any, error)

// SleepStep returns a StepFunc that waits for the given duration
// before passing the input through unchanged.
//
// It is context-aware: if the context is cancelled during the sleep,
// it returns ctx.Err and the workflow will fail at this step.
func SleepStep(d time.Duration) StepFunc {
	return func(ctx context.Context, input any) (any, error) {
		if d <= 0 {
			return input, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
			return input, nil
		}
	}
}

// AskStep returns a step that parks the workflow with the given question
// until a matching response is delivered via Engine.Signal.
//
// Semantics:
//   - First time the step runs, it ignores its input and returns
//     NewInterruptError(req). The engine marks the instance as WAITING
//     and stops execution.
//   - When Engine.Signal is called with req.Type as the signal name, the
//     engine re-runs this step with input set to a SignalPayload. The
//     step then returns the payload's Data as its output and the
//     workflow continues.
//
// Steps that need both the response and the state they were originally
// invoked with should handle the SignalPayload themselves instead of
// using this helper; see SignalPayload.State.
func AskStep(req InterruptRequest) StepFunc {
	return func(ctx context.Context, input any) (any, error) {
		if sp, ok := input.(SignalPayload); ok && sp.Name == req.Type {
			// Resumed with the expected response; pass the data along.
			return sp.Data, nil
		}
		// First invocation or mismatched signal: request to wait.
		return nil, NewInterruptError(req)
	}
}

// TypedStep wraps a strongly-typed function into a StepFunc. The input
// is type-asserted to I; a mismatch fails the step. A SignalPayload
// whose State is an I is unwrapped so typed steps survive re-runs after
// signal delivery.
//
// Example:
//
//	api.TypedStep(func(ctx context.Context, s MyState) (MyState, error) { ... })
func TypedStep[I, O any](fn func(context.Context, I) (O, error)) StepFunc {
	return func(ctx context.Context, input any) (any, error) {
		if sp, ok := input.(SignalPayload); ok {
			input = sp.State
		}
		v, ok := input.(I)
		if !ok {
			var want I
			return nil, fmt.Errorf("step input is %T, want %T", input, want)
		}
		return fn(ctx, v)
	}
}

// ConstRoute returns a RouteFunc that always routes to the given target,
// regardless of the step's output.
func ConstRoute(target string) RouteFunc {
	return func(any) (string, error) {
		return target, nil
	}
}

package api

import (
	"encoding/gob"
	"errors"
	"fmt"
	"time"
)

func init() {
	gob.Register(SignalPayload{})
	gob.Register(InterruptRequest{})
	gob.Register(TimeoutPayload{})
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// Status represents the lifecycle state of a workflow instance.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusWaiting   Status = "WAITING"
)

// End is the routing target that terminates a workflow. A RouteFunc that
// returns End completes the instance with the routed step's output.
const End = "__end__"

// RouteFunc picks the next step after a step completes successfully.
// It receives the step's output and returns the name of the step to run
// next, or End to complete the workflow.
//
// Returning an unknown step name, or an error, fails the instance with a
// *RoutingError. The checkpoint is left at the step that produced the
// output, so a later Resume re-runs that step.
type RouteFunc func(output any) (string, error)

// StepDefinition describes a named step.
//
// Next is optional. When nil, control passes to the following step in the
// definition (or End if this is the last step).
type StepDefinition struct {
	Name  string
	Fn    StepFunc
	Next  RouteFunc
	Retry *RetryPolicy
}

// WorkflowDefinition describes a workflow as a sequence of named steps
// with optional routing between them.
type WorkflowDefinition struct {
	Name  string
	Steps []StepDefinition
}

// StepIndex returns the index of the named step, or false if no step with
// that name exists.
func (d WorkflowDefinition) StepIndex(name string) (int, bool) {
	for i, s := range d.Steps {
		if s.Name == name {
			return i, true
		}
	}
	return 0, false
}

// WorkflowInstance holds the durable state of a run.
//
// State and CurrentStep together form the checkpoint: State is the value
// that feeds the step at CurrentStep the next time the instance advances.
// The engine commits the checkpoint once per successfully routed step, so
// a failed or interrupted step leaves the checkpoint at its predecessor
// and re-running it is safe.
type WorkflowInstance struct {
	ID     string
	Name   string
	Status Status
	Output any
	Err    error

	// Input is the original input provided to Run when this instance
	// was first started.
	Input any

	// State is the checkpointed value feeding the step at CurrentStep.
	// While an instance is WAITING on a signal, State holds the value the
	// interrupted step was invoked with; Signal wraps it in a
	// SignalPayload before re-running the step.
	State any

	// CurrentStep is the index of the next step to execute.
	// After successful completion it equals len(steps).
	CurrentStep int

	// PendingStep is the name of the step at CurrentStep, kept for
	// inspection without the definition at hand. Empty once completed.
	PendingStep string

	// Interrupt is the pending question while Status is StatusWaiting,
	// nil otherwise.
	Interrupt *InterruptRequest

	StartedAt time.Time
	UpdatedAt time.Time
}

// InstanceListOptions controls how instances are listed.
// Zero values mean "no filter" for that field.
type InstanceListOptions struct {
	// WorkflowName, if non-empty, limits results to instances of the given workflow.
	WorkflowName string

	// Status, if non-empty, limits results to instances with the given status.
	Status Status
}

// RetryPolicy controls how a step is retried when it returns an error.
// MaxAttempts includes the first attempt. For example:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
//
// InitialBackoff is the delay before the first retry, grown by
// BackoffMultiplier (default 2.0) per attempt and capped at MaxBackoff
// when MaxBackoff is set. A zero InitialBackoff retries immediately.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// InterruptRequest is the payload of a human interrupt. It is stored on
// the waiting instance and surfaced to callers so they can render the
// question being asked.
type InterruptRequest struct {
	// Type identifies the kind of question, e.g. "repackage_decision".
	// Signal deliveries are matched against it.
	Type string `json:"type"`

	// Message is the human-readable prompt.
	Message string `json:"message"`

	// Options enumerates suggested answers, if the question has any.
	Options []string `json:"options,omitempty"`
}

// SignalPayload is the input the engine hands to a step when it is
// re-run after a signal delivery.
//
// State carries the checkpointed value the step was originally invoked
// with, so a step that computed something, asked a question, and parked
// can consume both its own prior output and the human answer.
type SignalPayload struct {
	Name  string
	Data  any
	State any
}

// TimeoutPayload is a special payload used for auto-expiry signals.
// Steps can check for this type to detect that a wait timed out.
type TimeoutPayload struct {
	Reason string
}

// interruptError is returned by steps that want to park the workflow
// until a human responds to the given request.
type interruptError struct {
	Req InterruptRequest
}

func (e *interruptError) Error() string {
	return "waiting for input: " + e.Req.Type
}

// NewInterruptError requests that the workflow be parked with the given
// question. Step functions return it and the engine marks the instance
// WAITING without advancing the checkpoint.
func NewInterruptError(req InterruptRequest) error {
	return &interruptError{Req: req}
}

// IsInterruptError returns (request, true) if err indicates that the
// step wants to wait for a human response.
func IsInterruptError(err error) (InterruptRequest, bool) {
	var ie *interruptError
	if errors.As(err, &ie) {
		return ie.Req, true
	}
	return InterruptRequest{}, false
}

// RoutingError indicates that routing after a step produced a target that
// is not part of the workflow, or that the router rejected the step's
// output. It fails the instance without moving the checkpoint.
type RoutingError struct {
	Step   string
	Target string
	Reason string
}

func (e *RoutingError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("routing after step %q: %s", e.Step, e.Reason)
	}
	return fmt.Sprintf("routing after step %q: unknown target %q", e.Step, e.Target)
}

// ErrNotWaiting is returned by Signal when the target instance is not in
// StatusWaiting. It also covers double deliveries: once a signal has been
// consumed the instance has moved on, and a second delivery is rejected.
var ErrNotWaiting = errors.New("instance is not waiting for input")

// ErrConflict is returned when another caller holds the execution lease
// for the instance, i.e. someone else is driving it right now.
var ErrConflict = errors.New("instance is being driven by another caller")

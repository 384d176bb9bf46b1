package packager

import (
	"fmt"

	"github.com/lht-media/packager/pkg/api"
)

// FlowBuilder provides a fluent API for defining workflows:
//
//	flow := packager.New("publish-episode").
//	    Step("render", renderStep).
//	    Branch("review", reviewStep, routeAfterReview).
//	    Ask("approval", packager.InterruptRequest{
//	        Type:    "approval",
//	        Message: "Publish this episode?",
//	        Options: []string{"yes", "no"},
//	    })
//
//	if err := flow.Register(engine); err != nil {
//	    log.Fatal(err)
//	}
//
//	inst, err := packager.Run(ctx, engine, flow.Name(), input)
type FlowBuilder struct {
	def api.WorkflowDefinition
}

// New creates a new workflow builder with the given name.
func New(name string) *FlowBuilder {
	return &FlowBuilder{
		def: api.WorkflowDefinition{
			Name:  name,
			Steps: make([]api.StepDefinition, 0),
		},
	}
}

// Name returns the workflow name.
func (b *FlowBuilder) Name() string {
	return b.def.Name
}

// Definition returns the underlying WorkflowDefinition.
// Typically used when interacting with lower-level APIs.
func (b *FlowBuilder) Definition() WorkflowDefinition {
	return b.def
}

// Step appends a basic step to the workflow. Control falls through to
// the following step, or End if this is the last one.
func (b *FlowBuilder) Step(name string, fn StepFunc) *FlowBuilder {
	return b.add(name, fn, nil, nil)
}

// StepWithRetry appends a step that uses the given retry policy.
func (b *FlowBuilder) StepWithRetry(name string, fn StepFunc, retry RetryPolicy) *FlowBuilder {
	// Make a copy so callers can mutate their RetryPolicy after the call
	// without affecting the stored definition.
	r := retry
	return b.add(name, fn, nil, &r)
}

// Branch appends a step whose successor is picked by route from the
// step's output.
func (b *FlowBuilder) Branch(name string, fn StepFunc, route RouteFunc) *FlowBuilder {
	if route == nil {
		panic(fmt.Sprintf("packager: branch step %q has nil route", name))
	}
	return b.add(name, fn, route, nil)
}

// Ask appends a step that parks the workflow with the given question and
// passes the human response through as its output.
func (b *FlowBuilder) Ask(stepName string, req InterruptRequest) *FlowBuilder {
	return b.add(stepName, api.AskStep(req), nil, nil)
}

func (b *FlowBuilder) add(name string, fn StepFunc, route RouteFunc, retry *RetryPolicy) *FlowBuilder {
	if name == "" {
		panic("packager: step name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("packager: step %q has nil function", name))
	}

	b.def.Steps = append(b.def.Steps, api.StepDefinition{
		Name:  name,
		Fn:    fn,
		Next:  route,
		Retry: retry,
	})
	return b
}

// Register registers the built workflow with the given engine.
func (b *FlowBuilder) Register(eng Engine) error {
	return eng.RegisterWorkflow(b.def)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *FlowBuilder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lht-media/packager/internal/persistence"
	"github.com/lht-media/packager/pkg/api"
)

type EpisodeInput struct {
	FolderID string
}

type TranscriptRecord struct {
	FolderID string
	DocID    string
}

type PackageResult struct {
	DocID string
	Title string
}

func TestSequentialWorkflowCompletes(t *testing.T) {
	ctx := context.Background()
	engine := NewInMemoryEngine()

	wf := api.WorkflowDefinition{
		Name: "packaging",
		Steps: []api.StepDefinition{
			{
				Name: "find-transcript",
				Fn: func(ctx context.Context, input any) (any, error) {
					in, ok := input.(EpisodeInput)
					if !ok {
						return nil, fmt.Errorf("expected EpisodeInput, got %T", input)
					}
					return TranscriptRecord{FolderID: in.FolderID, DocID: "doc-42"}, nil
				},
			},
			{
				Name: "title",
				Fn: func(ctx context.Context, input any) (any, error) {
					rec, ok := input.(TranscriptRecord)
					if !ok {
						return nil, fmt.Errorf("expected TranscriptRecord, got %T", input)
					}
					return PackageResult{DocID: rec.DocID, Title: "The Retention Playbook"}, nil
				},
			},
		},
	}

	if err := engine.RegisterWorkflow(wf); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	inst, err := engine.Run(ctx, "packaging", EpisodeInput{FolderID: "ep-101"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if inst.Status != api.StatusCompleted {
		t.Fatalf("expected status %q, got %q", api.StatusCompleted, inst.Status)
	}

	res, ok := inst.Output.(PackageResult)
	if !ok {
		t.Fatalf("expected PackageResult output, got %T", inst.Output)
	}
	if res.DocID != "doc-42" || res.Title != "The Retention Playbook" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if inst.PendingStep != "" {
		t.Fatalf("completed instance should have empty pending step, got %q", inst.PendingStep)
	}
}

func TestWorkflowFailsOnStepError(t *testing.T) {
	ctx := context.Background()
	engine := NewInMemoryEngine()

	wf := api.WorkflowDefinition{
		Name: "failing",
		Steps: []api.StepDefinition{
			{
				Name: "ok-step",
				Fn: func(ctx context.Context, input any) (any, error) {
					return "checkpointed", nil
				},
			},
			{
				Name: "fail-step",
				Fn: func(ctx context.Context, input any) (any, error) {
					return nil, fmt.Errorf("boom")
				},
			},
		},
	}

	if err := engine.RegisterWorkflow(wf); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	inst, err := engine.Run(ctx, "failing", nil)
	if err == nil {
		t.Fatalf("expected Run to return error")
	}
	if inst == nil {
		t.Fatalf("expected WorkflowInstance, got nil")
	}
	if inst.Status != api.StatusFailed {
		t.Fatalf("expected status FAILED, got %q", inst.Status)
	}

	// The checkpoint stays at the failed step with the predecessor's
	// output, so the step can be retried with the same input.
	if inst.PendingStep != "fail-step" {
		t.Fatalf("expected checkpoint at fail-step, got %q", inst.PendingStep)
	}
	if inst.State != "checkpointed" {
		t.Fatalf("expected checkpointed state, got %v", inst.State)
	}
}

func TestRunUnknownWorkflow(t *testing.T) {
	engine := NewInMemoryEngine()

	_, err := engine.Run(context.Background(), "ghost", nil)
	if err == nil {
		t.Fatalf("expected error for unknown workflow")
	}
}

func TestGetInstanceUnknownID(t *testing.T) {
	engine := NewInMemoryEngine()

	_, err := engine.GetInstance(context.Background(), "nope")
	if !errors.Is(err, persistence.ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestConditionalRouting(t *testing.T) {
	ctx := context.Background()
	engine := NewInMemoryEngine()

	var skippedRan bool

	wf := api.WorkflowDefinition{
		Name: "routed",
		Steps: []api.StepDefinition{
			{
				Name: "classify",
				Fn: func(ctx context.Context, input any) (any, error) {
					return input, nil
				},
				Next: func(output any) (string, error) {
					if output == "fresh" {
						return "process", nil
					}
					return api.End, nil
				},
			},
			{
				Name: "skipped",
				Fn: func(ctx context.Context, input any) (any, error) {
					skippedRan = true
					return input, nil
				},
				Next: api.ConstRoute("process"),
			},
			{
				Name: "process",
				Fn: func(ctx context.Context, input any) (any, error) {
					return "processed", nil
				},
			},
		},
	}

	if err := engine.RegisterWorkflow(wf); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	inst, err := engine.Run(ctx, "routed", "fresh")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if inst.Output != "processed" {
		t.Fatalf("expected processed output, got %v", inst.Output)
	}
	if skippedRan {
		t.Fatalf("routing should have skipped the middle step")
	}

	// Routing straight to End completes with the routing step's output.
	inst, err = engine.Run(ctx, "routed", "stale")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if inst.Status != api.StatusCompleted || inst.Output != "stale" {
		t.Fatalf("expected completion with stale output, got %q %v", inst.Status, inst.Output)
	}
}

func TestRoutingErrorIsFatal(t *testing.T) {
	ctx := context.Background()
	engine := NewInMemoryEngine()

	wf := api.WorkflowDefinition{
		Name: "badroute",
		Steps: []api.StepDefinition{
			{
				Name: "decide",
				Fn: func(ctx context.Context, input any) (any, error) {
					return input, nil
				},
				Next: api.ConstRoute("nowhere"),
			},
			{
				Name: "after",
				Fn: func(ctx context.Context, input any) (any, error) {
					return input, nil
				},
			},
		},
	}

	if err := engine.RegisterWorkflow(wf); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	inst, err := engine.Run(ctx, "badroute", "x")
	if err == nil {
		t.Fatalf("expected routing error")
	}

	var rerr *api.RoutingError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *RoutingError, got %T: %v", err, err)
	}
	if rerr.Step != "decide" || rerr.Target != "nowhere" {
		t.Fatalf("unexpected routing error: %+v", rerr)
	}

	// The checkpoint is untouched: still at the step that routed badly.
	if inst.Status != api.StatusFailed {
		t.Fatalf("expected FAILED, got %q", inst.Status)
	}
	if inst.PendingStep != "decide" {
		t.Fatalf("expected checkpoint at decide, got %q", inst.PendingStep)
	}
}

func TestRouterErrorIsFatal(t *testing.T) {
	ctx := context.Background()
	engine := NewInMemoryEngine()

	wf := api.WorkflowDefinition{
		Name: "routerfail",
		Steps: []api.StepDefinition{
			{
				Name: "decide",
				Fn: func(ctx context.Context, input any) (any, error) {
					return input, nil
				},
				Next: func(output any) (string, error) {
					return "", fmt.Errorf("decision %v out of range", output)
				},
			},
		},
	}

	if err := engine.RegisterWorkflow(wf); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	_, err := engine.Run(ctx, "routerfail", 7)
	var rerr *api.RoutingError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *RoutingError, got %T: %v", err, err)
	}
}

func TestListInstancesFilters(t *testing.T) {
	ctx := context.Background()
	engine := NewInMemoryEngine()

	ok := api.WorkflowDefinition{
		Name: "ok",
		Steps: []api.StepDefinition{
			{Name: "noop", Fn: func(ctx context.Context, input any) (any, error) { return input, nil }},
		},
	}
	bad := api.WorkflowDefinition{
		Name: "bad",
		Steps: []api.StepDefinition{
			{Name: "explode", Fn: func(ctx context.Context, input any) (any, error) { return nil, fmt.Errorf("nope") }},
		},
	}
	for _, wf := range []api.WorkflowDefinition{ok, bad} {
		if err := engine.RegisterWorkflow(wf); err != nil {
			t.Fatalf("RegisterWorkflow failed: %v", err)
		}
	}

	if _, err := engine.Run(ctx, "ok", nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := engine.Run(ctx, "ok", nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := engine.Run(ctx, "bad", nil); err == nil {
		t.Fatalf("expected bad run to fail")
	}

	all, err := engine.ListInstances(ctx, api.InstanceListOptions{})
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 instances, got %d", len(all))
	}

	completed, err := engine.ListInstances(ctx, api.InstanceListOptions{Status: api.StatusCompleted})
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(completed) != 2 {
		t.Fatalf("expected 2 completed instances, got %d", len(completed))
	}

	failedOK, err := engine.ListInstances(ctx, api.InstanceListOptions{
		WorkflowName: "ok",
		Status:       api.StatusFailed,
	})
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(failedOK) != 0 {
		t.Fatalf("expected no failed ok instances, got %d", len(failedOK))
	}
}

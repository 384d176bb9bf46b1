package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/lht-media/packager/pkg/api"
)

// approvalWorkflow parks on an approval question, then records the
// answer.
func approvalWorkflow() api.WorkflowDefinition {
	return api.WorkflowDefinition{
		Name: "approval",
		Steps: []api.StepDefinition{
			{
				Name: "prepare",
				Fn: func(ctx context.Context, input any) (any, error) {
					return "draft:" + input.(string), nil
				},
			},
			{
				Name: "approve",
				Fn: func(ctx context.Context, input any) (any, error) {
					if sp, ok := input.(api.SignalPayload); ok && sp.Name == "approval" {
						return map[string]any{
							"draft":    sp.State,
							"decision": sp.Data,
						}, nil
					}
					return nil, api.NewInterruptError(api.InterruptRequest{
						Type:    "approval",
						Message: "Publish this draft?",
						Options: []string{"yes", "no"},
					})
				},
			},
		},
	}
}

func TestInterruptParksWorkflow(t *testing.T) {
	ctx := context.Background()
	engine := NewInMemoryEngine()

	if err := engine.RegisterWorkflow(approvalWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	// Parking on an interrupt is a normal outcome, not an error.
	inst, err := engine.Run(ctx, "approval", "ep-7")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if inst.Status != api.StatusWaiting {
		t.Fatalf("expected WAITING, got %q", inst.Status)
	}
	if inst.Interrupt == nil || inst.Interrupt.Type != "approval" {
		t.Fatalf("expected approval interrupt, got %+v", inst.Interrupt)
	}
	if inst.PendingStep != "approve" {
		t.Fatalf("expected checkpoint at approve, got %q", inst.PendingStep)
	}

	// The checkpointed state is what the interrupted step saw.
	if inst.State != "draft:ep-7" {
		t.Fatalf("unexpected checkpointed state: %v", inst.State)
	}
}

func TestSignalResumesWorkflow(t *testing.T) {
	ctx := context.Background()
	engine := NewInMemoryEngine()

	if err := engine.RegisterWorkflow(approvalWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	inst, err := engine.Run(ctx, "approval", "ep-7")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	inst, err = engine.Signal(ctx, inst.ID, "approval", "yes")
	if err != nil {
		t.Fatalf("Signal failed: %v", err)
	}
	if inst.Status != api.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %q", inst.Status)
	}

	out, ok := inst.Output.(map[string]any)
	if !ok {
		t.Fatalf("expected map output, got %T", inst.Output)
	}
	if out["draft"] != "draft:ep-7" || out["decision"] != "yes" {
		t.Fatalf("unexpected output: %v", out)
	}
	if inst.Interrupt != nil {
		t.Fatalf("completed instance should have no interrupt")
	}
}

func TestSignalWrongNameRejected(t *testing.T) {
	ctx := context.Background()
	engine := NewInMemoryEngine()

	if err := engine.RegisterWorkflow(approvalWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	inst, err := engine.Run(ctx, "approval", "ep-7")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	_, err = engine.Signal(ctx, inst.ID, "wrong-question", "yes")
	if !errors.Is(err, api.ErrNotWaiting) {
		t.Fatalf("expected ErrNotWaiting, got %v", err)
	}

	// The instance must still be waiting on the original question.
	got, err := engine.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	if got.Status != api.StatusWaiting || got.Interrupt == nil {
		t.Fatalf("instance should still be waiting, got %q", got.Status)
	}
}

func TestSignalCompletedInstanceRejected(t *testing.T) {
	ctx := context.Background()
	engine := NewInMemoryEngine()

	if err := engine.RegisterWorkflow(approvalWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	inst, err := engine.Run(ctx, "approval", "ep-7")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := engine.Signal(ctx, inst.ID, "approval", "yes"); err != nil {
		t.Fatalf("Signal failed: %v", err)
	}

	_, err = engine.Signal(ctx, inst.ID, "approval", "yes")
	if !errors.Is(err, api.ErrNotWaiting) {
		t.Fatalf("expected ErrNotWaiting on second signal, got %v", err)
	}
}

func TestSignalUnknownInstance(t *testing.T) {
	engine := NewInMemoryEngine()

	if err := engine.RegisterWorkflow(approvalWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	_, err := engine.Signal(context.Background(), "missing-id", "approval", "yes")
	if err == nil {
		t.Fatalf("expected error for unknown instance")
	}
}

func TestAskStepHelper(t *testing.T) {
	ctx := context.Background()
	engine := NewInMemoryEngine()

	wf := api.WorkflowDefinition{
		Name: "ask",
		Steps: []api.StepDefinition{
			{
				Name: "question",
				Fn: api.AskStep(api.InterruptRequest{
					Type:    "pick-color",
					Message: "Which color?",
					Options: []string{"red", "blue"},
				}),
			},
		},
	}
	if err := engine.RegisterWorkflow(wf); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	inst, err := engine.Run(ctx, "ask", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if inst.Status != api.StatusWaiting {
		t.Fatalf("expected WAITING, got %q", inst.Status)
	}

	inst, err = engine.Signal(ctx, inst.ID, "pick-color", "blue")
	if err != nil {
		t.Fatalf("Signal failed: %v", err)
	}
	if inst.Status != api.StatusCompleted || inst.Output != "blue" {
		t.Fatalf("expected completion with blue, got %q %v", inst.Status, inst.Output)
	}
}

package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lht-media/packager/pkg/api"
)

func TestStepRetryPolicySucceedsAfterFailures(t *testing.T) {
	ctx := context.Background()
	engine := NewInMemoryEngine()

	attempts := 0

	wf := api.WorkflowDefinition{
		Name: "retrying",
		Steps: []api.StepDefinition{
			{
				Name: "unstable",
				Fn: func(ctx context.Context, input any) (any, error) {
					attempts++
					if attempts < 3 {
						return nil, fmt.Errorf("attempt %d failed", attempts)
					}
					return "ok", nil
				},
				Retry: &api.RetryPolicy{
					MaxAttempts:    5,
					InitialBackoff: time.Millisecond,
					MaxBackoff:     5 * time.Millisecond,
				},
			},
		},
	}
	if err := engine.RegisterWorkflow(wf); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	inst, err := engine.Run(ctx, "retrying", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if inst.Status != api.StatusCompleted || inst.Output != "ok" {
		t.Fatalf("expected completion, got %q %v", inst.Status, inst.Output)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestStepRetryPolicyExhausted(t *testing.T) {
	ctx := context.Background()
	engine := NewInMemoryEngine()

	attempts := 0

	wf := api.WorkflowDefinition{
		Name: "hopeless",
		Steps: []api.StepDefinition{
			{
				Name: "always-fails",
				Fn: func(ctx context.Context, input any) (any, error) {
					attempts++
					return nil, fmt.Errorf("permanent failure")
				},
				Retry: &api.RetryPolicy{
					MaxAttempts:    3,
					InitialBackoff: time.Millisecond,
				},
			},
		},
	}
	if err := engine.RegisterWorkflow(wf); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	inst, err := engine.Run(ctx, "hopeless", nil)
	if err == nil {
		t.Fatalf("expected run to fail")
	}
	if inst.Status != api.StatusFailed {
		t.Fatalf("expected FAILED, got %q", inst.Status)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestInterruptIsNeverRetried(t *testing.T) {
	ctx := context.Background()
	engine := NewInMemoryEngine()

	attempts := 0

	wf := api.WorkflowDefinition{
		Name: "interrupting",
		Steps: []api.StepDefinition{
			{
				Name: "ask",
				Fn: func(ctx context.Context, input any) (any, error) {
					attempts++
					return nil, api.NewInterruptError(api.InterruptRequest{Type: "question"})
				},
				Retry: &api.RetryPolicy{
					MaxAttempts:    5,
					InitialBackoff: time.Millisecond,
				},
			},
		},
	}
	if err := engine.RegisterWorkflow(wf); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	inst, err := engine.Run(ctx, "interrupting", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if inst.Status != api.StatusWaiting {
		t.Fatalf("expected WAITING, got %q", inst.Status)
	}
	if attempts != 1 {
		t.Fatalf("interrupt must not be retried, got %d attempts", attempts)
	}
}

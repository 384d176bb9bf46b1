package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lht-media/packager/pkg/api"
)

// recordingObserver captures every lifecycle event as a flat string so
// tests can assert the exact order of engine callbacks.
type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingObserver) record(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingObserver) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingObserver) OnWorkflowStart(ctx context.Context, inst *api.WorkflowInstance) {
	r.record("workflow_start")
}

func (r *recordingObserver) OnWorkflowCompleted(ctx context.Context, inst *api.WorkflowInstance) {
	r.record("completed")
}

func (r *recordingObserver) OnWorkflowFailed(ctx context.Context, inst *api.WorkflowInstance, err error) {
	r.record("failed")
}

func (r *recordingObserver) OnWorkflowWaiting(ctx context.Context, inst *api.WorkflowInstance, req api.InterruptRequest) {
	r.record("waiting:" + req.Type)
}

func (r *recordingObserver) OnStepStart(ctx context.Context, inst *api.WorkflowInstance, stepName string, idx int) {
	r.record("step_start:" + stepName)
}

func (r *recordingObserver) OnStepCompleted(ctx context.Context, inst *api.WorkflowInstance, stepName string, idx int, err error, d time.Duration) {
	if err != nil {
		r.record("step_err:" + stepName)
		return
	}
	r.record("step_done:" + stepName)
}

// reviewWorkflow branches after the first step: "skip" routes straight to
// finalize, anything else goes through a human confirmation.
func reviewWorkflow() api.WorkflowDefinition {
	return api.WorkflowDefinition{
		Name: "review",
		Steps: []api.StepDefinition{
			{
				Name: "draft",
				Fn: func(ctx context.Context, input any) (any, error) {
					return input, nil
				},
				Next: func(out any) (string, error) {
					if out == "skip" {
						return "finalize", nil
					}
					return "confirm", nil
				},
			},
			{
				Name: "confirm",
				Fn: api.AskStep(api.InterruptRequest{
					Type:    "approval",
					Message: "Publish this draft?",
				}),
			},
			{
				Name: "finalize",
				Fn: func(ctx context.Context, input any) (any, error) {
					return "done", nil
				},
			},
		},
	}
}

func newObservedEngine(t *testing.T) (api.Engine, *recordingObserver, *api.BasicMetrics) {
	t.Helper()

	rec := &recordingObserver{}
	metrics := &api.BasicMetrics{}
	logging := api.NewLoggingObserver(slog.New(slog.NewTextHandler(io.Discard, nil)))

	// The nil entry must be filtered out by the composite.
	eng := NewInMemoryEngineWithObserver(api.NewCompositeObserver(rec, metrics, logging, nil))
	if err := eng.RegisterWorkflow(reviewWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}
	return eng, rec, metrics
}

func TestObserverSeesInterruptAndResumeSequence(t *testing.T) {
	ctx := context.Background()
	eng, rec, metrics := newObservedEngine(t)

	inst, err := eng.Run(ctx, "review", "please review")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if inst.Status != api.StatusWaiting {
		t.Fatalf("expected WAITING, got %q", inst.Status)
	}

	wantParked := []string{
		"workflow_start",
		"step_start:draft",
		"step_done:draft",
		"step_start:confirm",
		"step_err:confirm",
		"waiting:approval",
	}
	assertEvents(t, rec.Events(), wantParked)

	inst, err = eng.Signal(ctx, inst.ID, "approval", "ship it")
	if err != nil {
		t.Fatalf("Signal failed: %v", err)
	}
	if inst.Status != api.StatusCompleted || inst.Output != "done" {
		t.Fatalf("expected completion, got %q %v", inst.Status, inst.Output)
	}

	want := append(wantParked,
		"step_start:confirm",
		"step_done:confirm",
		"step_start:finalize",
		"step_done:finalize",
		"completed",
	)
	assertEvents(t, rec.Events(), want)

	snap := metrics.Snapshot()
	if snap.WorkflowsStarted != 1 || snap.WorkflowsCompleted != 1 || snap.WorkflowsFailed != 0 {
		t.Fatalf("unexpected workflow counters: %+v", snap)
	}
	if snap.InterruptsRaised != 1 {
		t.Fatalf("expected 1 interrupt, got %d", snap.InterruptsRaised)
	}
	// draft, confirm after the signal, finalize. The interrupting attempt
	// does not count as a completed step.
	if snap.StepsCompleted != 3 {
		t.Fatalf("expected 3 completed steps, got %d", snap.StepsCompleted)
	}
}

func TestObserverStepSequenceFollowsRouting(t *testing.T) {
	ctx := context.Background()

	want := []string{
		"workflow_start",
		"step_start:draft",
		"step_done:draft",
		"step_start:finalize",
		"step_done:finalize",
		"completed",
	}

	// The same input always produces the same step sequence.
	for run := 0; run < 2; run++ {
		eng, rec, _ := newObservedEngine(t)

		inst, err := eng.Run(ctx, "review", "skip")
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if inst.Status != api.StatusCompleted {
			t.Fatalf("expected COMPLETED, got %q", inst.Status)
		}
		assertEvents(t, rec.Events(), want)
	}
}

func TestObserverSeesFailure(t *testing.T) {
	ctx := context.Background()

	rec := &recordingObserver{}
	metrics := &api.BasicMetrics{}
	eng := NewInMemoryEngineWithObserver(api.NewCompositeObserver(rec, metrics))

	wf := api.WorkflowDefinition{
		Name: "flaky",
		Steps: []api.StepDefinition{
			{
				Name: "ingest",
				Fn: func(ctx context.Context, input any) (any, error) {
					return nil, errors.New("source unavailable")
				},
			},
		},
	}
	if err := eng.RegisterWorkflow(wf); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	if _, err := eng.Run(ctx, "flaky", nil); err == nil {
		t.Fatalf("expected the run to fail")
	}

	want := []string{
		"workflow_start",
		"step_start:ingest",
		"step_err:ingest",
		"failed",
	}
	assertEvents(t, rec.Events(), want)

	snap := metrics.Snapshot()
	if snap.WorkflowsFailed != 1 || snap.StepsCompleted != 0 {
		t.Fatalf("unexpected counters after failure: %+v", snap)
	}
}

func assertEvents(t *testing.T, got, want []string) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %q, got %q (full: %v)", i, want[i], got[i], got)
		}
	}
}

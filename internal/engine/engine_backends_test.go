package engine

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/lht-media/packager/internal/persistence"
	"github.com/lht-media/packager/pkg/api"
)

// backendFactories returns, per backend, a constructor that can be
// called repeatedly over the same storage, simulating process restarts.
func backendFactories(t *testing.T) map[string]func() api.Engine {
	t.Helper()

	mem := persistence.NewInMemoryStore()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "engine_test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	return map[string]func() api.Engine{
		"memory": func() api.Engine {
			return NewEngine(persistence.Persistence{Workflows: mem, Instances: mem})
		},
		"sqlite": func() api.Engine {
			eng, err := NewSQLiteEngine(db)
			if err != nil {
				t.Fatalf("NewSQLiteEngine: %v", err)
			}
			return eng
		},
	}
}

// A waiting instance must survive an engine restart: a second engine
// over the same storage sees the interrupt and can deliver the answer.
func TestWaitingInstanceSurvivesRestart(t *testing.T) {
	for name, newEngine := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first := newEngine()
			if err := first.RegisterWorkflow(approvalWorkflow()); err != nil {
				t.Fatalf("RegisterWorkflow failed: %v", err)
			}

			inst, err := first.Run(ctx, "approval", "ep-55")
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if inst.Status != api.StatusWaiting {
				t.Fatalf("expected WAITING, got %q", inst.Status)
			}

			// "Restart": a fresh engine over the same storage. Workflow
			// definitions hold function values, so they are registered
			// again on startup.
			second := newEngine()
			if err := second.RegisterWorkflow(approvalWorkflow()); err != nil {
				t.Fatalf("RegisterWorkflow on second engine failed: %v", err)
			}

			got, err := second.GetInstance(ctx, inst.ID)
			if err != nil {
				t.Fatalf("GetInstance on second engine failed: %v", err)
			}
			if got.Status != api.StatusWaiting || got.Interrupt == nil {
				t.Fatalf("waiting state not durable: %q %+v", got.Status, got.Interrupt)
			}
			if got.Interrupt.Type != "approval" {
				t.Fatalf("unexpected interrupt: %+v", got.Interrupt)
			}

			done, err := second.Signal(ctx, inst.ID, "approval", "no")
			if err != nil {
				t.Fatalf("Signal on second engine failed: %v", err)
			}
			if done.Status != api.StatusCompleted {
				t.Fatalf("expected COMPLETED, got %q", done.Status)
			}
			out, ok := done.Output.(map[string]any)
			if !ok || out["decision"] != "no" {
				t.Fatalf("unexpected output: %v", done.Output)
			}
		})
	}
}

// A failed instance must be resumable by a fresh engine from the same
// checkpoint.
func TestFailedInstanceResumableAfterRestart(t *testing.T) {
	for name, newEngine := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			healthy := false
			wf := api.WorkflowDefinition{
				Name: "restartable",
				Steps: []api.StepDefinition{
					{
						Name: "prepare",
						Fn: func(ctx context.Context, input any) (any, error) {
							return "prepared", nil
						},
					},
					{
						Name: "publish",
						Fn: func(ctx context.Context, input any) (any, error) {
							if !healthy {
								return nil, context.DeadlineExceeded
							}
							return "published", nil
						},
					},
				},
			}

			first := newEngine()
			if err := first.RegisterWorkflow(wf); err != nil {
				t.Fatalf("RegisterWorkflow failed: %v", err)
			}

			inst, err := first.Run(ctx, "restartable", nil)
			if err == nil {
				t.Fatalf("expected run to fail")
			}
			if inst.Status != api.StatusFailed {
				t.Fatalf("expected FAILED, got %q", inst.Status)
			}

			healthy = true
			second := newEngine()
			if err := second.RegisterWorkflow(wf); err != nil {
				t.Fatalf("RegisterWorkflow on second engine failed: %v", err)
			}

			done, err := second.Resume(ctx, inst.ID)
			if err != nil {
				t.Fatalf("Resume on second engine failed: %v", err)
			}
			if done.Status != api.StatusCompleted || done.Output != "published" {
				t.Fatalf("expected published completion, got %q %v", done.Status, done.Output)
			}
		})
	}
}

// Nested workflows started through the context-attached engine run to
// completion inside a parent step.
func TestNestedWorkflowThroughContext(t *testing.T) {
	ctx := context.Background()
	engine := NewInMemoryEngine()

	child := api.WorkflowDefinition{
		Name: "child",
		Steps: []api.StepDefinition{
			{
				Name: "double",
				Fn: func(ctx context.Context, input any) (any, error) {
					return input.(int) * 2, nil
				},
			},
		},
	}
	parent := api.WorkflowDefinition{
		Name: "parent",
		Steps: []api.StepDefinition{
			{
				Name: "delegate",
				Fn: func(ctx context.Context, input any) (any, error) {
					eng := api.EngineFromContext(ctx)
					if eng == nil {
						t.Fatal("no engine attached to step context")
					}
					childInst, err := eng.Run(ctx, "child", input)
					if err != nil {
						return nil, err
					}
					return childInst.Output, nil
				},
			},
		},
	}

	for _, wf := range []api.WorkflowDefinition{child, parent} {
		if err := engine.RegisterWorkflow(wf); err != nil {
			t.Fatalf("RegisterWorkflow failed: %v", err)
		}
	}

	inst, err := engine.Run(ctx, "parent", 21)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if inst.Output != 42 {
		t.Fatalf("expected 42, got %v", inst.Output)
	}
}

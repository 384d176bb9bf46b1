package api

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSleepStepZeroPassesThrough(t *testing.T) {
	fn := SleepStep(0)

	out, err := fn(context.Background(), "state")
	if err != nil {
		t.Fatalf("SleepStep failed: %v", err)
	}
	if out != "state" {
		t.Fatalf("expected input passed through, got %v", out)
	}
}

func TestSleepStepWaits(t *testing.T) {
	fn := SleepStep(30 * time.Millisecond)

	start := time.Now()
	out, err := fn(context.Background(), 42)
	if err != nil {
		t.Fatalf("SleepStep failed: %v", err)
	}
	if out != 42 {
		t.Fatalf("expected input passed through, got %v", out)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("returned before the sleep elapsed")
	}
}

func TestSleepStepCancelled(t *testing.T) {
	fn := SleepStep(5 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := fn(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAskStepInterruptsThenUnwrapsSignal(t *testing.T) {
	req := InterruptRequest{Type: "approval", Message: "Proceed?"}
	fn := AskStep(req)

	_, err := fn(context.Background(), "initial state")
	ir, ok := IsInterruptError(err)
	if !ok {
		t.Fatalf("expected an interrupt, got %v", err)
	}
	if ir.Type != "approval" || ir.Message != "Proceed?" {
		t.Fatalf("interrupt request lost: %+v", ir)
	}

	out, err := fn(context.Background(), SignalPayload{Name: "approval", Data: "yes"})
	if err != nil {
		t.Fatalf("expected the signal data, got error %v", err)
	}
	if out != "yes" {
		t.Fatalf("expected signal data passed along, got %v", out)
	}
}

func TestAskStepIgnoresMismatchedSignal(t *testing.T) {
	fn := AskStep(InterruptRequest{Type: "approval"})

	_, err := fn(context.Background(), SignalPayload{Name: "other", Data: "yes"})
	if _, ok := IsInterruptError(err); !ok {
		t.Fatalf("expected a fresh interrupt on a mismatched signal, got %v", err)
	}
}

func TestTypedStep(t *testing.T) {
	type counter struct{ N int }

	fn := TypedStep(func(ctx context.Context, c counter) (counter, error) {
		return counter{N: c.N + 1}, nil
	})

	out, err := fn(context.Background(), counter{N: 1})
	if err != nil {
		t.Fatalf("TypedStep failed: %v", err)
	}
	if out.(counter).N != 2 {
		t.Fatalf("expected 2, got %v", out)
	}

	// A signal re-run carries the original state in SignalPayload.State.
	out, err = fn(context.Background(), SignalPayload{Name: "x", State: counter{N: 5}})
	if err != nil {
		t.Fatalf("TypedStep failed on signal payload: %v", err)
	}
	if out.(counter).N != 6 {
		t.Fatalf("expected 6, got %v", out)
	}

	if _, err := fn(context.Background(), "not a counter"); err == nil {
		t.Fatalf("expected a type mismatch error")
	}
}

func TestConstRoute(t *testing.T) {
	route := ConstRoute("finalize")

	for _, output := range []any{nil, "anything", 7} {
		next, err := route(output)
		if err != nil {
			t.Fatalf("ConstRoute failed: %v", err)
		}
		if next != "finalize" {
			t.Fatalf("expected finalize, got %q", next)
		}
	}
}

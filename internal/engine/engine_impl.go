package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lht-media/packager/internal/persistence"
	"github.com/lht-media/packager/pkg/api"
)

// defaultLeaseTTL bounds how long a crashed driver can block an instance.
const defaultLeaseTTL = 2 * time.Minute

// engineImpl is a synchronous, in-process engine implementation. Run,
// Signal and Resume drive the instance in the calling goroutine; an
// instance lease keeps concurrent drivers off the same instance.
type engineImpl struct {
	workflows persistence.WorkflowStore
	instances persistence.InstanceStore
	observer  api.Observer

	// owner identifies this engine process for instance leases.
	owner    string
	leaseTTL time.Duration
}

// Config describes how to construct an engineImpl.
// Only used inside this package; external callers use the helper functions.
type Config struct {
	Persistence persistence.Persistence
	Observer    api.Observer
	LeaseTTL    time.Duration
}

func NewInMemoryEngine() api.Engine {
	mem := persistence.NewInMemoryStore()
	return NewEngine(persistence.Persistence{
		Workflows: mem,
		Instances: mem,
	})
}

func NewInMemoryEngineWithObserver(obs api.Observer) api.Engine {
	mem := persistence.NewInMemoryStore()
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{Workflows: mem, Instances: mem},
		Observer:    obs,
	})
}

func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	return NewSQLiteEngineWithObserver(db, nil)
}

func NewSQLiteEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	inst, err := persistence.NewSQLiteInstanceStore(db)
	if err != nil {
		return nil, err
	}
	// Workflow definitions contain function values and stay in-memory.
	memWF := persistence.NewInMemoryStore()

	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{Workflows: memWF, Instances: inst},
		Observer:    obs,
	}), nil
}

func NewPostgresEngine(db *sql.DB) (api.Engine, error) {
	return NewPostgresEngineWithObserver(db, nil)
}

func NewPostgresEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	inst, err := persistence.NewPostgresInstanceStore(db)
	if err != nil {
		return nil, err
	}
	memWF := persistence.NewInMemoryStore()

	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{Workflows: memWF, Instances: inst},
		Observer:    obs,
	}), nil
}

func NewRedisEngine(client *redis.Client) api.Engine {
	return NewRedisEngineWithObserver(client, nil)
}

func NewRedisEngineWithObserver(client *redis.Client, obs api.Observer) api.Engine {
	instStore := persistence.NewRedisInstanceStore(client, "packager:")
	memWF := persistence.NewInMemoryStore()

	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{Workflows: memWF, Instances: instStore},
		Observer:    obs,
	})
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &engineImpl{
		workflows: cfg.Persistence.Workflows,
		instances: cfg.Persistence.Instances,
		observer:  obs,
		owner:     uuid.NewString(),
		leaseTTL:  ttl,
	}
}

// NewEngine returns an Engine backed by the given persistence bundle.
func NewEngine(p persistence.Persistence) api.Engine {
	return NewEngineWithConfig(Config{
		Persistence: p,
	})
}

func (e *engineImpl) RegisterWorkflow(def api.WorkflowDefinition) error {
	if def.Name == "" {
		return errors.New("workflow name is required")
	}
	if len(def.Steps) == 0 {
		return errors.New("workflow must have at least one step")
	}

	seen := make(map[string]bool, len(def.Steps))
	for _, step := range def.Steps {
		if step.Name == "" {
			return fmt.Errorf("workflow %s: step name is required", def.Name)
		}
		if step.Name == api.End {
			return fmt.Errorf("workflow %s: step name %q is reserved", def.Name, api.End)
		}
		if step.Fn == nil {
			return fmt.Errorf("workflow %s: step %s has no function", def.Name, step.Name)
		}
		if seen[step.Name] {
			return fmt.Errorf("workflow %s: duplicate step name %s", def.Name, step.Name)
		}
		seen[step.Name] = true
	}

	// Check for duplicates via the store.
	if existing, err := e.workflows.GetWorkflow(def.Name); err == nil && existing.Name != "" {
		return fmt.Errorf("workflow already registered: %s", def.Name)
	} else if err != nil && !errors.Is(err, persistence.ErrWorkflowNotFound) {
		// Unexpected store error.
		return err
	}

	return e.workflows.SaveWorkflow(def)
}

func (e *engineImpl) Run(ctx context.Context, name string, input any) (*api.WorkflowInstance, error) {
	def, err := e.workflows.GetWorkflow(name)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return nil, fmt.Errorf("unknown workflow: %s", name)
		}
		return nil, err
	}

	now := time.Now()
	inst := &api.WorkflowInstance{
		ID:          uuid.NewString(),
		Name:        def.Name,
		Status:      api.StatusRunning,
		Input:       input,
		State:       input,
		CurrentStep: 0,
		PendingStep: def.Steps[0].Name,
		StartedAt:   now,
		UpdatedAt:   now,
	}

	e.observer.OnWorkflowStart(ctx, inst)

	// Persist the instance as soon as it starts.
	if err := e.instances.SaveInstance(inst); err != nil {
		inst.Status = api.StatusFailed
		inst.Err = err
		e.observer.OnWorkflowFailed(ctx, inst, err)
		return inst, err
	}

	release, err := e.acquireLease(ctx, inst.ID)
	if err != nil {
		return inst, err
	}
	defer release()

	return e.executeSteps(ctx, def, inst)
}

func (e *engineImpl) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	inst, err := e.instances.GetInstance(id)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil, fmt.Errorf("instance not found: %s: %w", id, persistence.ErrInstanceNotFound)
		}
		return nil, err
	}
	return inst, nil
}

func (e *engineImpl) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.WorkflowInstance, error) {
	filter := persistence.InstanceFilter{
		WorkflowName: opts.WorkflowName,
		Status:       opts.Status,
	}
	return e.instances.ListInstances(filter)
}

func (e *engineImpl) Signal(ctx context.Context, id string, name string, payload any) (*api.WorkflowInstance, error) {
	inst, err := e.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}

	if inst.Status != api.StatusWaiting || inst.Interrupt == nil {
		return nil, fmt.Errorf("cannot signal instance %s in status %s: %w", id, inst.Status, api.ErrNotWaiting)
	}
	if name != inst.Interrupt.Type {
		return nil, fmt.Errorf("instance %s is waiting for %q, got %q: %w", id, inst.Interrupt.Type, name, api.ErrNotWaiting)
	}

	def, err := e.workflows.GetWorkflow(inst.Name)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return nil, fmt.Errorf("workflow definition not found for instance %s (name=%s)", id, inst.Name)
		}
		return nil, err
	}

	release, err := e.acquireLease(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the lease: a concurrent Signal may have won the race
	// and already consumed the interrupt.
	inst, err = e.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Status != api.StatusWaiting || inst.Interrupt == nil {
		return nil, fmt.Errorf("cannot signal instance %s in status %s: %w", id, inst.Status, api.ErrNotWaiting)
	}

	// The interrupted step is re-run with the response wrapped around the
	// state it was originally invoked with.
	inst.Status = api.StatusRunning
	inst.Err = nil
	inst.State = api.SignalPayload{
		Name:  name,
		Data:  payload,
		State: inst.State,
	}
	inst.Interrupt = nil

	if err := e.instances.UpdateInstance(inst); err != nil {
		return inst, err
	}

	return e.executeSteps(ctx, def, inst)
}

func (e *engineImpl) Resume(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	inst, err := e.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}

	if inst.Status != api.StatusFailed {
		return nil, fmt.Errorf("cannot resume instance %s in status %s", id, inst.Status)
	}

	def, err := e.workflows.GetWorkflow(inst.Name)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return nil, fmt.Errorf("workflow definition not found for instance %s (name=%s)", id, inst.Name)
		}
		return nil, err
	}

	if inst.CurrentStep < 0 || inst.CurrentStep >= len(def.Steps) {
		return nil, fmt.Errorf("instance %s checkpoint step %d is out of range", id, inst.CurrentStep)
	}

	release, err := e.acquireLease(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	// Retry from the checkpoint: the step recorded at failure time is
	// re-run with the state it saw the first time. Committed steps are
	// not replayed.
	inst.Status = api.StatusRunning
	inst.Err = nil

	if err := e.instances.UpdateInstance(inst); err != nil {
		return inst, err
	}

	return e.executeSteps(ctx, def, inst)
}

func (e *engineImpl) RecoverStuckInstances(ctx context.Context) (int, error) {
	stuck, err := e.instances.ListInstances(persistence.InstanceFilter{
		Status: api.StatusRunning,
	})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, inst := range stuck {
		inst.Status = api.StatusFailed
		inst.Err = errors.New("instance was RUNNING at startup; assuming the previous process died")
		if err := e.instances.UpdateInstance(inst); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// acquireLease takes the instance lease for this engine process, mapping
// contention to api.ErrConflict. The returned func releases the lease.
func (e *engineImpl) acquireLease(ctx context.Context, instanceID string) (func(), error) {
	acquired, err := e.instances.TryAcquireLease(ctx, instanceID, e.owner, e.leaseTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, fmt.Errorf("instance %s: %w", instanceID, api.ErrConflict)
	}
	return func() {
		_ = e.instances.ReleaseLease(context.WithoutCancel(ctx), instanceID, e.owner)
	}, nil
}

// executeSteps drives the instance from its checkpoint until it
// completes, fails, or parks on an interrupt.
//
// The checkpoint (State + CurrentStep) is committed exactly once per
// successfully routed step. A step that fails or interrupts leaves the
// checkpoint where it was, so re-running it is always safe.
func (e *engineImpl) executeSteps(ctx context.Context, def api.WorkflowDefinition, inst *api.WorkflowInstance) (*api.WorkflowInstance, error) {
	for inst.CurrentStep < len(def.Steps) {
		step := def.Steps[inst.CurrentStep]

		out, err := e.runStepWithRetry(ctx, step, inst)

		if req, ok := api.IsInterruptError(err); ok {
			inst.Status = api.StatusWaiting
			inst.Err = nil
			inst.Interrupt = &req
			if uerr := e.instances.UpdateInstance(inst); uerr != nil {
				return inst, uerr
			}
			e.observer.OnWorkflowWaiting(ctx, inst, req)
			return inst, nil
		}

		if err != nil {
			inst.Status = api.StatusFailed
			inst.Err = fmt.Errorf("step %q: %w", step.Name, err)
			_ = e.instances.UpdateInstance(inst)
			e.observer.OnWorkflowFailed(ctx, inst, inst.Err)
			return inst, inst.Err
		}

		next, rerr := routeAfter(def, inst.CurrentStep, out)
		if rerr != nil {
			inst.Status = api.StatusFailed
			inst.Err = rerr
			_ = e.instances.UpdateInstance(inst)
			e.observer.OnWorkflowFailed(ctx, inst, rerr)
			return inst, rerr
		}

		if next == api.End {
			inst.Status = api.StatusCompleted
			inst.Output = out
			inst.State = out
			inst.CurrentStep = len(def.Steps)
			inst.PendingStep = ""
			inst.Interrupt = nil
			if uerr := e.instances.UpdateInstance(inst); uerr != nil {
				return inst, uerr
			}
			e.observer.OnWorkflowCompleted(ctx, inst)
			return inst, nil
		}

		// Commit the checkpoint: the step's output becomes the input of
		// the routed successor.
		idx, _ := def.StepIndex(next)
		inst.CurrentStep = idx
		inst.PendingStep = next
		inst.State = out
		inst.Interrupt = nil
		if uerr := e.instances.UpdateInstance(inst); uerr != nil {
			return inst, uerr
		}

		// Long pipelines can outlive the initial lease TTL.
		_ = e.instances.RenewLease(ctx, inst.ID, e.owner, e.leaseTTL)
	}

	// A checkpoint at len(steps) means the instance already completed.
	inst.Status = api.StatusCompleted
	if uerr := e.instances.UpdateInstance(inst); uerr != nil {
		return inst, uerr
	}
	e.observer.OnWorkflowCompleted(ctx, inst)
	return inst, nil
}

// runStepWithRetry invokes a single step, applying its retry policy.
// Interrupt errors are never retried; they are requests to park, not
// failures.
func (e *engineImpl) runStepWithRetry(ctx context.Context, step api.StepDefinition, inst *api.WorkflowInstance) (any, error) {
	maxAttempts := 1
	var (
		backoff    time.Duration
		maxBackoff time.Duration
		multiplier float64
	)

	if step.Retry != nil {
		if step.Retry.MaxAttempts > 0 {
			maxAttempts = step.Retry.MaxAttempts
		}
		backoff = step.Retry.InitialBackoff
		maxBackoff = step.Retry.MaxBackoff
		multiplier = step.Retry.BackoffMultiplier
		if multiplier <= 0 {
			multiplier = 2.0
		}
	}

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// Attach the engine to the context so steps can start nested
		// workflows via api.EngineFromContext.
		stepCtx := api.WithEngine(ctx, e)

		startTime := time.Now()
		e.observer.OnStepStart(stepCtx, inst, step.Name, inst.CurrentStep)

		out, err := step.Fn(stepCtx, inst.State)

		duration := time.Since(startTime)
		e.observer.OnStepCompleted(stepCtx, inst, step.Name, inst.CurrentStep, err, duration)

		if err == nil {
			return out, nil
		}
		if _, ok := api.IsInterruptError(err); ok {
			return nil, err
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}

		if backoff > 0 {
			delay := backoff
			if maxBackoff > 0 && delay > maxBackoff {
				delay = maxBackoff
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}

			nextBackoff := time.Duration(float64(backoff) * multiplier)
			if maxBackoff > 0 && nextBackoff > maxBackoff {
				backoff = maxBackoff
			} else {
				backoff = nextBackoff
			}
		}
	}

	return nil, lastErr
}

// routeAfter resolves the successor of step i given its output.
func routeAfter(def api.WorkflowDefinition, i int, out any) (string, error) {
	step := def.Steps[i]

	if step.Next == nil {
		if i+1 < len(def.Steps) {
			return def.Steps[i+1].Name, nil
		}
		return api.End, nil
	}

	target, err := step.Next(out)
	if err != nil {
		var rerr *api.RoutingError
		if errors.As(err, &rerr) {
			return "", err
		}
		return "", &api.RoutingError{Step: step.Name, Reason: err.Error()}
	}
	if target == api.End {
		return api.End, nil
	}
	if _, ok := def.StepIndex(target); !ok {
		return "", &api.RoutingError{Step: step.Name, Target: target}
	}
	return target, nil
}

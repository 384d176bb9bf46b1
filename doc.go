// Package packager is a resumable, checkpointed step sequencer with a
// podcast content-packaging pipeline built on top of it.
//
// The engine executes workflows as ordered sequences of named steps with
// optional routing between them. Every successfully routed step commits a
// checkpoint (the value flowing into the next step), so a crashed or
// failed run can be retried from exactly where it stopped. Steps can park
// the run with a human question (an interrupt); the run stays WAITING
// until a response is delivered, at which point the asking step is re-run
// with the response in hand.
//
// # Core concepts
//
//  1. Engine: registers workflow definitions, persists instances, and
//     drives execution (Run, Signal, Resume).
//  2. FlowBuilder: fluent construction of workflow definitions.
//  3. StepFunc / RouteFunc: steps transform state; routes pick successors.
//  4. Worker: processes queued start/signal tasks for asynchronous use.
//  5. LocalRunner: in-memory engine + queue + worker for development.
//
// Engines can be backed by different storage systems: in-memory
// (non-durable, best for tests), SQLite, Postgres, or Redis.
//
// The content pipeline itself lives in internal/pipeline and is exposed
// through the HTTP service in cmd/packager.
package packager

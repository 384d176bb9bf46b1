// Package worker consumes queued start-workflow and signal tasks and
// executes them against an Engine. It enables fire-and-forget starts and
// deferred signal delivery (for example, decision timeouts) on top of the
// otherwise synchronous engine.
package worker

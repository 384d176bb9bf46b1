// Package api defines the public types of the workflow engine: step and
// workflow definitions, routing, instances and their checkpoints, human
// interrupts, signals, and the Engine interface itself.
//
// Most applications import the root packager package instead, which
// re-exports everything here together with the engine constructors.
package api

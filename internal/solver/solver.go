// Package solver defines the user-supplied compute contract: the only
// seam between the framework and the problem being solved. Per spec §1
// its internals are out of scope — only the callback contract matters.
package solver

import (
	"time"

	"github.com/Codesmith28/cloud-dispatch/internal/variant"
)

// TaskAppender is handed to InitAsMaster so the solver can push the
// initial, fixed task set (spec explicitly treats the task set as
// produced once at init — no dynamic task graphs).
type TaskAppender interface {
	AddTask(taskID int64)
}

// Solver is the contract both the master and the worker invoke.
type Solver interface {
	// InitAsMaster is called once at master startup; every AddTask call
	// on appender becomes a pending task.
	InitAsMaster(appender TaskAppender)

	// InitAsWorker is called once a worker's connect handshake completes.
	InitAsWorker()

	// Compute runs on the worker for one dispatched task.
	Compute(taskID int64) variant.Variants

	// SetResult delivers one task's result to the master-side solver
	// exactly once, before Finish is ever called for that run.
	SetResult(taskID int64, result variant.Reader, timeUsage time.Duration)

	// Finish is called once, after every task has reached DONE.
	Finish()
}

// Package adapter implements the state machine that drives a GDB backend
// through a debug session's lifecycle.
//
// # Phases
//
// A session moves through these phases on the success path:
//
//	engine-starting → adapter-starting → adapter-started
//	  → inferior-preparing → inferior-prepared
//	  → inferior-starting → inferior-running-requested → inferior-running
//	  → inferior-shutting-down → inferior-shut-down
//	  → adapter-shutting-down → adapter-shut-down
//
// with inferior-stopping/inferior-stopped reachable between running and
// shutdown when the inferior is interrupted. Each step failure has its own
// terminal phase (inferior-preparation-failed, inferior-start-failed,
// inferior-shutdown-failed, adapter-start-failed, adapter-shutdown-failed).
//
// Every forward edge is paired with a (command, response) exchange on the
// command channel; the adapter never advances speculatively. The final
// transition to adapter-shut-down is driven by the backend process actually
// exiting, not by the exit command's response, because the two can arrive
// in either order.
//
// # Entry points and serialization
//
// Callers request transitions (StartAdapter, PrepareInferior, StartInferior,
// InterruptInferior, Shutdown); collaborators push events (BackendStarted,
// BackendError, BackendExited, HandleExecRecord, HandleNotifyRecord); the
// command channel delivers completion responses. All of these serialize on
// one mutex, and signals to the owning controller are delivered after the
// lock is released, so a signal handler may call straight back into the
// adapter.
//
// Invoking a phase-guarded operation in the wrong phase panics: that is a
// sequencing bug in the caller, and continuing would corrupt the phase
// invariant.
package adapter

package adapter

import "fmt"

// Phase is the single lifecycle stage of a debug session. Exactly one value
// is active at any instant; every transition is triggered by a caller
// request or a backend response, never implicitly.
type Phase int

const (
	// EngineStarting is the initial phase before the adapter starts.
	EngineStarting Phase = iota
	// AdapterStarting is set once the backend process launch is underway.
	AdapterStarting
	// AdapterStarted is set when the backend reports it is alive.
	AdapterStarted
	// InferiorPreparing is set while the target executable is being loaded.
	InferiorPreparing
	// InferiorPrepared is set when executable and symbols are loaded.
	InferiorPrepared
	// InferiorStarting is set when a run has been requested by the caller.
	InferiorStarting
	// InferiorRunningRequested is set once the run command is in flight.
	InferiorRunningRequested
	// InferiorRunning is set when the backend confirms execution.
	InferiorRunning
	// InferiorStopping is set while an interrupt is being delivered.
	InferiorStopping
	// InferiorStopped is set when the backend reports the inferior stopped.
	InferiorStopped
	// InferiorShuttingDown is set while the terminate command is in flight.
	InferiorShuttingDown
	// InferiorShutDown is set when the inferior has been terminated.
	InferiorShutDown
	// AdapterShuttingDown is set while the backend exit command is in flight.
	AdapterShuttingDown
	// AdapterShutDown is the successful terminal phase, driven by the
	// backend process actually exiting.
	AdapterShutDown

	// InferiorPreparationFailed is terminal: loading the target failed.
	InferiorPreparationFailed
	// InferiorStartFailed is terminal: the run command failed.
	InferiorStartFailed
	// InferiorShutdownFailed is terminal: the terminate command failed.
	InferiorShutdownFailed
	// AdapterStartFailed is terminal: the backend could not be launched.
	AdapterStartFailed
	// AdapterShutdownFailed names a failed backend exit command. The exit
	// step only signals the failure and never assigns this phase: the
	// process-exited event owns the final transition, since the exit
	// response and the actual exit can arrive in either order.
	AdapterShutdownFailed
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case EngineStarting:
		return "engine-starting"
	case AdapterStarting:
		return "adapter-starting"
	case AdapterStarted:
		return "adapter-started"
	case InferiorPreparing:
		return "inferior-preparing"
	case InferiorPrepared:
		return "inferior-prepared"
	case InferiorStarting:
		return "inferior-starting"
	case InferiorRunningRequested:
		return "inferior-running-requested"
	case InferiorRunning:
		return "inferior-running"
	case InferiorStopping:
		return "inferior-stopping"
	case InferiorStopped:
		return "inferior-stopped"
	case InferiorShuttingDown:
		return "inferior-shutting-down"
	case InferiorShutDown:
		return "inferior-shut-down"
	case AdapterShuttingDown:
		return "adapter-shutting-down"
	case AdapterShutDown:
		return "adapter-shut-down"
	case InferiorPreparationFailed:
		return "inferior-preparation-failed"
	case InferiorStartFailed:
		return "inferior-start-failed"
	case InferiorShutdownFailed:
		return "inferior-shutdown-failed"
	case AdapterStartFailed:
		return "adapter-start-failed"
	case AdapterShutdownFailed:
		return "adapter-shutdown-failed"
	default:
		return fmt.Sprintf("unknown(%d)", p)
	}
}

// Terminal reports whether the phase ends the session: the success terminal
// or any failure terminal.
func (p Phase) Terminal() bool {
	switch p {
	case AdapterShutDown, InferiorPreparationFailed, InferiorStartFailed,
		InferiorShutdownFailed, AdapterStartFailed, AdapterShutdownFailed:
		return true
	default:
		return false
	}
}

// Failed reports whether the phase is a failure terminal.
func (p Phase) Failed() bool {
	return p.Terminal() && p != AdapterShutDown
}

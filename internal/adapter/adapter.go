package adapter

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/gdbmi/internal/mi"
)

// CommandChannel posts textual commands to the backend and correlates the
// completion handler with the eventual response.
type CommandChannel interface {
	// Post issues a command. A nil handler makes it fire-and-forget;
	// otherwise the handler runs at most once when the response arrives.
	// The handler must be invoked from the channel's delivery sequence,
	// never synchronously from within Post.
	Post(command, tag string, handler func(mi.Response)) error
}

// ProcessHandle spawns the backend process and delivers OS interrupts.
type ProcessHandle interface {
	Start(executable string, args []string, workingDir string, env []string) error
	SendInterrupt(pid int) bool
}

// OutputCollector is the side channel receiving the debuggee's own output.
type OutputCollector interface {
	Listen() error
	ServerAddress() string
	Shutdown() error
}

// StartParams carries everything StartAdapter needs, passed explicitly
// rather than read from ambient state.
type StartParams struct {
	// BackendPath is the debugger backend executable.
	BackendPath string

	// BackendArgs are extra arguments appended after the MI-mode arguments.
	BackendArgs []string

	// Executable is the inferior program to debug.
	Executable string

	// ProcessArgs are the inferior's command-line arguments.
	ProcessArgs []string

	// WorkingDir is the backend's working directory.
	WorkingDir string

	// Environment is extra environment for the backend, KEY=VALUE form.
	Environment []string
}

// Handlers contains the signals the adapter emits to its owning session
// controller. Nil entries are skipped. Handlers run after the adapter has
// released its internal lock, so they may call back into the adapter.
type Handlers struct {
	OnAdapterStarted            func()
	OnAdapterStartFailed        func(message string)
	OnAdapterCrashed            func(message string)
	OnInferiorPrepared          func()
	OnInferiorPreparationFailed func(message string)
	OnInferiorStarted           func()
	OnInferiorStartFailed       func(message string)
	OnInferiorStopped           func(reason string)
	OnInferiorContinued         func()
	OnInferiorShutDown          func()
	OnInferiorShutdownFailed    func(message string)
	OnAdapterShutdownFailed     func(message string)
	OnAdapterShutDown           func()
	OnPhaseChanged              func(old, new Phase)
}

// Adapter is the state machine governing the adapter/inferior lifecycle.
// It exclusively owns the session phase: collaborators push events into its
// entry points and only ever observe phase changes.
type Adapter struct {
	id        string
	channel   CommandChannel
	process   ProcessHandle
	collector OutputCollector
	handlers  Handlers
	logger    *slog.Logger

	mu          sync.Mutex
	phase       Phase
	params      StartParams
	inferiorPID int
	queued      []func() // signals accumulated under the lock
}

// New creates an adapter in the EngineStarting phase.
func New(channel CommandChannel, process ProcessHandle, collector OutputCollector, handlers Handlers, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &Adapter{
		id:        id,
		channel:   channel,
		process:   process,
		collector: collector,
		handlers:  handlers,
		logger:    logger.With("session", id),
		phase:     EngineStarting,
	}
}

// ID returns the session identifier.
func (a *Adapter) ID() string { return a.id }

// Phase returns the current lifecycle phase.
func (a *Adapter) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// InferiorPID returns the inferior's OS process ID, or 0 if not yet known.
func (a *Adapter) InferiorPID() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inferiorPID
}

// SetInferiorPID records the inferior's process ID for controllers that
// learn it out of band. Normally it arrives via the backend's
// thread-group-started notification.
func (a *Adapter) SetInferiorPID(pid int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inferiorPID = pid
}

// run executes fn under the lock, then delivers the signals fn queued.
func (a *Adapter) run(fn func()) {
	a.mu.Lock()
	fn()
	queued := a.queued
	a.queued = nil
	a.mu.Unlock()

	for _, signal := range queued {
		signal()
	}
}

// emit queues a signal for delivery once the lock is released.
func (a *Adapter) emit(signal func()) {
	if signal == nil {
		return
	}
	a.queued = append(a.queued, signal)
}

// setPhase advances the phase and queues the phase-change notification.
func (a *Adapter) setPhase(next Phase) {
	old := a.phase
	a.phase = next
	a.logger.Debug("phase change", "from", old.String(), "to", next.String())

	if h := a.handlers.OnPhaseChanged; h != nil {
		a.emit(func() { h(old, next) })
	}
}

// requirePhase asserts the current phase. A violation is a programming
// error in the caller's sequencing, not a recoverable condition.
func (a *Adapter) requirePhase(op string, want Phase) {
	if a.phase != want {
		panic(fmt.Sprintf("adapter: %s called in phase %s, want %s", op, a.phase, want))
	}
}

// StartAdapter launches the backend process in MI mode, pointing the
// debuggee's output at the capture channel. Requires EngineStarting.
//
// If the capture channel cannot listen, the operation fails immediately and
// the phase is left unchanged; the caller decides whether to abandon the
// session.
func (a *Adapter) StartAdapter(params StartParams) {
	a.run(func() {
		a.requirePhase("StartAdapter", EngineStarting)

		if err := a.collector.Listen(); err != nil {
			msg := fmt.Sprintf("cannot set up communication with child process: %v", err)
			if h := a.handlers.OnAdapterStartFailed; h != nil {
				a.emit(func() { h(msg) })
			}
			return
		}

		a.setPhase(AdapterStarting)
		a.params = params

		args := []string{"-i", "mi", "--tty=" + a.collector.ServerAddress()}
		args = append(args, params.BackendArgs...)

		if err := a.process.Start(params.BackendPath, args, params.WorkingDir, params.Environment); err != nil {
			a.setPhase(AdapterStartFailed)
			msg := err.Error()
			if h := a.handlers.OnAdapterStartFailed; h != nil {
				a.emit(func() { h(msg) })
			}
		}
		// Phase completion is signaled when the backend reports it started.
	})
}

// BackendStarted is the entry point for the process handle's started event.
func (a *Adapter) BackendStarted() {
	a.run(func() {
		a.requirePhase("BackendStarted", AdapterStarting)
		a.setPhase(AdapterStarted)
		if h := a.handlers.OnAdapterStarted; h != nil {
			a.emit(h)
		}
	})
}

// BackendError is the entry point for process-level failures while the
// backend is alive. It does not change phase: the process-exited event owns
// final teardown bookkeeping.
func (a *Adapter) BackendError(err error) {
	a.run(func() {
		msg := fmt.Sprintf("the %s process failed: %v", filepath.Base(a.params.BackendPath), err)
		a.logger.Error("backend error", "err", err)
		if h := a.handlers.OnAdapterCrashed; h != nil {
			a.emit(func() { h(msg) })
		}
	})
}

// BackendExited is the entry point for the process handle's exited event:
// the unconditional, final event of the state machine's life. The exit
// command's own response may arrive before or after this; only the actual
// process exit is authoritative.
func (a *Adapter) BackendExited(code int, status string) {
	a.run(func() {
		a.logger.Info("backend exited", "code", code, "status", status)
		a.setPhase(AdapterShutDown)
		if h := a.handlers.OnAdapterShutDown; h != nil {
			a.emit(h)
		}
	})
}

// PrepareInferior registers the inferior's arguments and loads its
// executable and symbols. Requires AdapterStarted.
func (a *Adapter) PrepareInferior() {
	a.run(func() {
		a.requirePhase("PrepareInferior", AdapterStarted)
		a.setPhase(InferiorPreparing)

		if len(a.params.ProcessArgs) > 0 {
			cmd := "-exec-arguments " + strings.Join(a.params.ProcessArgs, " ")
			if err := a.channel.Post(cmd, "exec-arguments", nil); err != nil {
				a.logger.Warn("post exec-arguments failed", "err", err)
			}
		}

		executable := a.params.Executable
		if abs, err := filepath.Abs(executable); err == nil {
			executable = abs
		}

		cmd := fmt.Sprintf("-file-exec-and-symbols %q", executable)
		if err := a.channel.Post(cmd, "file-exec-and-symbols", a.response(a.handleFileExecAndSymbols)); err != nil {
			a.setPhase(InferiorPreparationFailed)
			msg := err.Error()
			if h := a.handlers.OnInferiorPreparationFailed; h != nil {
				a.emit(func() { h(msg) })
			}
		}
	})
}

// handleFileExecAndSymbols completes PrepareInferior.
func (a *Adapter) handleFileExecAndSymbols(resp mi.Response) {
	a.requirePhase("handleFileExecAndSymbols", InferiorPreparing)

	if resp.Class == mi.ClassDone {
		a.setPhase(InferiorPrepared)
		if h := a.handlers.OnInferiorPrepared; h != nil {
			a.emit(h)
		}
		return
	}

	a.setPhase(InferiorPreparationFailed)
	msg := resp.Message()
	if h := a.handlers.OnInferiorPreparationFailed; h != nil {
		a.emit(func() { h(msg) })
	}
}

// StartInferior requests execution of the prepared inferior. It performs
// the caller-requested edge to InferiorStarting, then asserts that phase
// before issuing the run command, so the observed order is always
// prepared, starting, running-requested.
func (a *Adapter) StartInferior() {
	a.run(func() {
		a.requirePhase("StartInferior", InferiorPrepared)
		a.setPhase(InferiorStarting)

		a.requirePhase("StartInferior run step", InferiorStarting)
		a.setPhase(InferiorRunningRequested)

		if err := a.channel.Post("-exec-run", "exec-run", a.response(a.handleExecRun)); err != nil {
			a.setPhase(InferiorStartFailed)
			msg := err.Error()
			if h := a.handlers.OnInferiorStartFailed; h != nil {
				a.emit(func() { h(msg) })
			}
		}
	})
}

// handleExecRun completes StartInferior. A response arriving in any phase
// other than InferiorRunningRequested indicates a protocol ordering bug and
// is surfaced, not ignored.
func (a *Adapter) handleExecRun(resp mi.Response) {
	a.requirePhase("handleExecRun", InferiorRunningRequested)

	if resp.Class == mi.ClassRunning {
		a.setPhase(InferiorRunning)
		if h := a.handlers.OnInferiorStarted; h != nil {
			a.emit(h)
		}
		return
	}

	a.setPhase(InferiorStartFailed)
	msg := resp.Message()
	if h := a.handlers.OnInferiorStartFailed; h != nil {
		a.emit(func() { h(msg) })
	}
}

// StopInferior interrupts a running inferior. Requires InferiorRunning; the
// backend's stopped record completes the transition to InferiorStopped.
func (a *Adapter) StopInferior() {
	a.run(func() {
		a.requirePhase("StopInferior", InferiorRunning)
		a.setPhase(InferiorStopping)
		a.interrupt()
	})
}

// ContinueInferior resumes a stopped inferior. Requires InferiorStopped.
func (a *Adapter) ContinueInferior() {
	a.run(func() {
		a.requirePhase("ContinueInferior", InferiorStopped)
		a.setPhase(InferiorRunningRequested)

		if err := a.channel.Post("-exec-continue", "exec-continue", a.response(a.handleExecContinue)); err != nil {
			a.setPhase(InferiorStartFailed)
			msg := err.Error()
			if h := a.handlers.OnInferiorStartFailed; h != nil {
				a.emit(func() { h(msg) })
			}
		}
	})
}

// handleExecContinue completes ContinueInferior.
func (a *Adapter) handleExecContinue(resp mi.Response) {
	a.requirePhase("handleExecContinue", InferiorRunningRequested)

	if resp.Class == mi.ClassRunning {
		a.setPhase(InferiorRunning)
		if h := a.handlers.OnInferiorContinued; h != nil {
			a.emit(h)
		}
		return
	}

	a.setPhase(InferiorStartFailed)
	msg := resp.Message()
	if h := a.handlers.OnInferiorStartFailed; h != nil {
		a.emit(func() { h(msg) })
	}
}

// InterruptInferior delivers an OS interrupt to the inferior. It has no
// phase precondition and never changes phase: interrupting legitimately
// races with backend readiness, so failures here are logged, not escalated.
func (a *Adapter) InterruptInferior() {
	a.run(func() {
		a.interrupt()
	})
}

// interrupt delivers the signal. Lock held.
func (a *Adapter) interrupt() {
	pid := a.inferiorPID
	if pid <= 0 {
		a.logger.Info("interrupt requested before inferior pid was known")
		return
	}
	if !a.process.SendInterrupt(pid) {
		a.logger.Warn("cannot interrupt inferior", "pid", pid)
	}
}

// Shutdown drives the teardown sequence for the current phase. It is
// re-driven automatically by the kill handler; external callers must not
// invoke it again while a teardown command is pending. Calling it in a
// phase with no legal teardown step is a programming error.
func (a *Adapter) Shutdown() {
	a.run(func() {
		a.shutdown()
	})
}

// shutdown dispatches the teardown step for the current phase. Lock held.
func (a *Adapter) shutdown() {
	if err := a.collector.Shutdown(); err != nil {
		a.logger.Warn("capture channel shutdown failed", "err", err)
	}

	switch a.phase {
	case InferiorRunningRequested, InferiorRunning, InferiorStopping, InferiorStopped:
		a.setPhase(InferiorShuttingDown)
		if err := a.channel.Post("kill", "kill", a.response(a.handleKill)); err != nil {
			a.setPhase(InferiorShutdownFailed)
			msg := err.Error()
			if h := a.handlers.OnInferiorShutdownFailed; h != nil {
				a.emit(func() { h(msg) })
			}
		}

	case InferiorShutDown:
		a.postExit()

	case InferiorPreparationFailed, InferiorStartFailed, InferiorShutdownFailed:
		// A step failed but the backend is still alive; the caller may
		// still drive the remaining teardown.
		a.postExit()

	case AdapterShutDown:
		// Terminal; nothing left to do.

	default:
		// Includes InferiorShuttingDown: a second shutdown request while
		// the kill is pending means teardown was double-triggered.
		panic(fmt.Sprintf("adapter: Shutdown called in phase %s", a.phase))
	}
}

// postExit issues the backend exit command. Lock held.
func (a *Adapter) postExit() {
	a.setPhase(AdapterShuttingDown)
	if err := a.channel.Post("-gdb-exit", "gdb-exit", a.response(a.handleExit)); err != nil {
		msg := err.Error()
		if h := a.handlers.OnAdapterShutdownFailed; h != nil {
			a.emit(func() { h(msg) })
		}
	}
}

// handleKill completes the terminate-target command. Its re-invocation of
// shutdown is the only sanctioned repeat of the teardown dispatch.
func (a *Adapter) handleKill(resp mi.Response) {
	if resp.Class == mi.ClassDone {
		a.setPhase(InferiorShutDown)
		if h := a.handlers.OnInferiorShutDown; h != nil {
			a.emit(h)
		}
		a.shutdown() // re-iterate
		return
	}

	a.setPhase(InferiorShutdownFailed)
	msg := fmt.Sprintf("cannot stop inferior: %s", resp.Message())
	if h := a.handlers.OnInferiorShutdownFailed; h != nil {
		a.emit(func() { h(msg) })
	}
}

// handleExit completes the backend exit command. Success takes no phase
// action: the exit response and the process-exited event can arrive in
// either order, and only the actual process exit is authoritative. GDB
// acknowledges the exit command with ^exit rather than ^done.
func (a *Adapter) handleExit(resp mi.Response) {
	if resp.Class == mi.ClassDone || resp.Class == mi.ClassExit {
		return
	}

	msg := fmt.Sprintf("cannot stop debugger: %s", resp.Message())
	if h := a.handlers.OnAdapterShutdownFailed; h != nil {
		a.emit(func() { h(msg) })
	}
}

// HandleExecRecord is the entry point for the channel's exec async records
// (*stopped, *running). Records that do not match the current phase are
// ignored: they are backend-initiated and may race with caller requests.
func (a *Adapter) HandleExecRecord(rec mi.AsyncRecord) {
	a.run(func() {
		switch rec.Class {
		case "stopped":
			if a.phase == InferiorRunning || a.phase == InferiorStopping {
				a.setPhase(InferiorStopped)
				reason := rec.Fields["reason"]
				if h := a.handlers.OnInferiorStopped; h != nil {
					a.emit(func() { h(reason) })
				}
			}
		case "running":
			if a.phase == InferiorStopped {
				a.setPhase(InferiorRunning)
				if h := a.handlers.OnInferiorContinued; h != nil {
					a.emit(h)
				}
			}
		}
	})
}

// HandleNotifyRecord is the entry point for the channel's notify async
// records. The inferior's pid arrives here via thread-group-started.
func (a *Adapter) HandleNotifyRecord(rec mi.AsyncRecord) {
	a.run(func() {
		if rec.Class != "thread-group-started" {
			return
		}
		if pid := rec.PID(); pid > 0 {
			a.inferiorPID = pid
			a.logger.Debug("inferior pid known", "pid", pid)
		}
	})
}

// response wraps a completion handler so it runs under the adapter's lock
// and its queued signals are delivered afterwards.
func (a *Adapter) response(fn func(mi.Response)) func(mi.Response) {
	return func(resp mi.Response) {
		a.run(func() { fn(resp) })
	}
}

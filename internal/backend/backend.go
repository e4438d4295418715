// Package backend spawns and monitors the debugger backend process.
//
// A Handle owns exactly one backend process. It exposes the process's
// stdin/stdout pipes for the command channel, reports lifecycle events
// through callbacks (started, error, exited), and can deliver an OS
// interrupt to the inferior by pid. The inferior is a separate process
// the backend controls, so interrupts address it directly rather than
// going through the backend's protocol.
package backend

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// State represents the state of the backend process.
type State int

const (
	// StateCreated indicates the handle exists but the process has not started.
	StateCreated State = iota
	// StateRunning indicates the backend process is alive.
	StateRunning
	// StateExited indicates the backend exited on its own.
	StateExited
	// StateKilled indicates the backend was terminated by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Events contains callbacks for backend process lifecycle events.
type Events struct {
	// OnStarted is called once the process has been spawned.
	OnStarted func()

	// OnError is called for process-level failures while the backend is
	// alive (I/O errors on its pipes, wait failures other than a plain
	// non-zero exit).
	OnError func(err error)

	// OnExited is called exactly once when the process terminates, with
	// the exit code and a human-readable status.
	OnExited func(code int, status string)
}

// Handle manages a single backend process.
type Handle struct {
	events Events

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	started     time.Time
	done        chan struct{}
	startedSent chan struct{}

	state    atomic.Int32
	exitCode atomic.Int32

	exitErr error
	mu      sync.RWMutex

	waitOnce sync.Once
}

// Sentinel errors for the backend package.
var (
	// ErrNotStarted is returned when operations require a started process.
	ErrNotStarted = errors.New("backend not started")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("backend already started")
)

// New creates a handle with the given event callbacks.
func New(events Events) *Handle {
	h := &Handle{
		events:      events,
		done:        make(chan struct{}),
		startedSent: make(chan struct{}),
	}
	h.state.Store(int32(StateCreated))
	h.exitCode.Store(-1) // -1 indicates not exited
	return h
}

// Start spawns the backend executable with the given arguments, working
// directory, and environment. The process runs in its own process group so
// signals aimed at the inferior never hit this process tree by accident.
func (h *Handle) Start(executable string, args []string, workingDir string, env []string) error {
	if h.State() != StateCreated {
		return ErrAlreadyStarted
	}

	cmd := exec.Command(executable, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if workingDir != "" {
		cmd.Dir = workingDir
	}
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start backend: %w", err)
	}

	h.cmd = cmd
	h.stdin = stdin
	h.stdout = stdout
	h.stderr = stderr
	h.started = time.Now()
	h.state.Store(int32(StateRunning))

	go h.waitLoop()

	// Delivered off the caller's goroutine so the callback may call back
	// into whatever initiated Start; the synchronous outcome is the
	// return value. waitLoop holds its exit report until this has run,
	// so a process that dies immediately still reports started first.
	if h.events.OnStarted != nil {
		go func() {
			h.events.OnStarted()
			close(h.startedSent)
		}()
	} else {
		close(h.startedSent)
	}
	return nil
}

// waitLoop waits for the process to exit, updates state, and fires OnExited.
func (h *Handle) waitLoop() {
	h.waitOnce.Do(func() {
		err := h.cmd.Wait()

		// Never let the exited event overtake the started event.
		<-h.startedSent

		h.mu.Lock()
		h.exitErr = err
		h.mu.Unlock()

		exitCode := 0
		state := StateExited
		status := "exited normally"

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
				status = fmt.Sprintf("exited with code %d", exitCode)
				if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
					state = StateKilled
					status = fmt.Sprintf("killed by %s", ws.Signal())
				}
			} else {
				exitCode = -1
				status = "wait failed"
				if h.events.OnError != nil {
					h.events.OnError(fmt.Errorf("wait backend: %w", err))
				}
			}
		}

		h.exitCode.Store(int32(exitCode))
		h.state.Store(int32(state))
		close(h.done)

		if h.events.OnExited != nil {
			h.events.OnExited(exitCode, status)
		}
	})
}

// Stdin returns the process's stdin pipe, or nil before Start.
func (h *Handle) Stdin() io.WriteCloser { return h.stdin }

// Stdout returns the process's stdout pipe, or nil before Start.
func (h *Handle) Stdout() io.ReadCloser { return h.stdout }

// Stderr returns the process's stderr pipe, or nil before Start.
func (h *Handle) Stderr() io.ReadCloser { return h.stderr }

// State returns the current process state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// ExitCode returns the process exit code, or -1 if it has not exited.
func (h *Handle) ExitCode() int {
	return int(h.exitCode.Load())
}

// ExitError returns any error from waiting on the process.
func (h *Handle) ExitError() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exitErr
}

// Done returns a channel closed when the process exits.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// IsRunning reports whether the backend process is alive.
func (h *Handle) IsRunning() bool {
	return h.State() == StateRunning
}

// PID returns the backend's process ID, or -1 if not started.
func (h *Handle) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return -1
	}
	return h.cmd.Process.Pid
}

// SendInterrupt delivers SIGINT to the process identified by pid, typically
// the inferior under the backend's control. It reports whether the signal
// was delivered; failure is expected when the target raced to exit (ESRCH)
// and is never escalated.
func (h *Handle) SendInterrupt(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, syscall.SIGINT) == nil
}

// Terminate sends SIGTERM to the backend process itself.
func (h *Handle) Terminate() error {
	return h.signalSelf(syscall.SIGTERM)
}

// Kill sends SIGKILL to the backend process itself.
func (h *Handle) Kill() error {
	return h.signalSelf(syscall.SIGKILL)
}

func (h *Handle) signalSelf(sig syscall.Signal) error {
	if !h.IsRunning() {
		return ErrNotStarted
	}
	if h.cmd == nil || h.cmd.Process == nil {
		return ErrNotStarted
	}

	// Signal the whole process group; the backend may have forked.
	if err := syscall.Kill(-h.cmd.Process.Pid, sig); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return fmt.Errorf("signal backend: %w", err)
	}
	return nil
}

// Runtime returns how long the process has been running, or the total
// runtime if it has exited.
func (h *Handle) Runtime() time.Duration {
	if h.started.IsZero() {
		return 0
	}
	return time.Since(h.started)
}

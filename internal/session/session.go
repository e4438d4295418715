// Package session owns a single debug session: it wires the adapter state
// machine to its collaborators (command channel, backend process handle,
// output capture) and drives the standard round-trip on behalf of the CLI.
package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dshills/gdbmi/internal/adapter"
	"github.com/dshills/gdbmi/internal/backend"
	"github.com/dshills/gdbmi/internal/capture"
	"github.com/dshills/gdbmi/internal/config"
	"github.com/dshills/gdbmi/internal/mi"
)

// eventKind discriminates adapter signals routed into Run's event loop.
type eventKind int

const (
	evAdapterStarted eventKind = iota
	evAdapterStartFailed
	evAdapterCrashed
	evInferiorPrepared
	evInferiorPreparationFailed
	evInferiorStarted
	evInferiorStartFailed
	evInferiorStopped
	evInferiorContinued
	evInferiorShutDown
	evInferiorShutdownFailed
	evAdapterShutdownFailed
	evAdapterShutDown
)

type event struct {
	kind    eventKind
	message string // failure text or stop reason
}

// Session drives one inferior under one backend.
type Session struct {
	settings config.Settings
	params   adapter.StartParams
	logger   *slog.Logger
	output   io.Writer

	handle    *backend.Handle
	collector *capture.Collector
	adapter   *adapter.Adapter

	channelMu sync.RWMutex
	channel   *mi.Channel

	events chan event

	exitMu   sync.Mutex
	exitCode int

	outputErrOnce sync.Once
}

// New creates a session. Debuggee output is streamed to output; the zero
// writer discards it.
func New(settings config.Settings, params adapter.StartParams, output io.Writer, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if output == nil {
		output = io.Discard
	}

	s := &Session{
		settings:  settings,
		params:    params,
		logger:    logger,
		output:    output,
		collector: capture.NewCollector(),
		events:    make(chan event, 64),
		exitCode:  -1,
	}

	s.handle = backend.New(backend.Events{
		OnStarted: func() { s.adapter.BackendStarted() },
		OnError:   func(err error) { s.adapter.BackendError(err) },
		OnExited:  func(code int, status string) { s.adapter.BackendExited(code, status) },
	})

	s.collector.OnData(func(data []byte) {
		if _, err := s.output.Write(data); err != nil {
			s.reportOutputError(err)
		}
	})

	s.adapter = adapter.New(s, s, s.collector, s.signalHandlers(), logger)
	return s
}

// Adapter exposes the underlying state machine, mainly so the CLI can
// forward interrupts and report the phase.
func (s *Session) Adapter() *adapter.Adapter { return s.adapter }

// ExitCode returns the inferior's exit code, or -1 if unknown.
func (s *Session) ExitCode() int {
	s.exitMu.Lock()
	defer s.exitMu.Unlock()
	return s.exitCode
}

// signalHandlers routes adapter signals into the event loop and the log.
func (s *Session) signalHandlers() adapter.Handlers {
	push := func(kind eventKind, message string) {
		s.events <- event{kind: kind, message: message}
	}

	return adapter.Handlers{
		OnAdapterStarted:     func() { push(evAdapterStarted, "") },
		OnAdapterStartFailed: func(msg string) { push(evAdapterStartFailed, msg) },
		OnAdapterCrashed: func(msg string) {
			s.logger.Error("adapter crashed", "reason", msg)
			push(evAdapterCrashed, msg)
		},
		OnInferiorPrepared:          func() { push(evInferiorPrepared, "") },
		OnInferiorPreparationFailed: func(msg string) { push(evInferiorPreparationFailed, msg) },
		OnInferiorStarted:           func() { push(evInferiorStarted, "") },
		OnInferiorStartFailed:       func(msg string) { push(evInferiorStartFailed, msg) },
		OnInferiorStopped:           func(reason string) { push(evInferiorStopped, reason) },
		OnInferiorContinued:         func() { push(evInferiorContinued, "") },
		OnInferiorShutDown:          func() { push(evInferiorShutDown, "") },
		OnInferiorShutdownFailed:    func(msg string) { push(evInferiorShutdownFailed, msg) },
		OnAdapterShutdownFailed:     func(msg string) { push(evAdapterShutdownFailed, msg) },
		OnAdapterShutDown:           func() { push(evAdapterShutDown, "") },
		OnPhaseChanged: func(old, new adapter.Phase) {
			s.logger.Debug("session phase", "from", old.String(), "to", new.String())
		},
	}
}

// Start implements adapter.ProcessHandle: it launches the backend and, once
// its pipes exist, brings up the command channel over them.
func (s *Session) Start(executable string, args []string, workingDir string, env []string) error {
	if err := s.handle.Start(executable, args, workingDir, env); err != nil {
		return err
	}

	channel := mi.NewChannel(mi.NewPipeTransport(s.handle.Stdin(), s.handle.Stdout()))
	channel.OnExec(func(rec mi.AsyncRecord) {
		if rec.Class == "stopped" {
			if code, ok := rec.Fields["exit-code"]; ok {
				s.SetExitCode(code)
			} else if rec.Fields["reason"] == "exited-normally" {
				s.setExit(0)
			}
		}
		s.adapter.HandleExecRecord(rec)
	})
	channel.OnNotify(s.adapter.HandleNotifyRecord)
	channel.OnStream(s.onStream)

	s.channelMu.Lock()
	s.channel = channel
	s.channelMu.Unlock()

	go s.drainStderr(s.handle.Stderr())
	return nil
}

// SendInterrupt implements adapter.ProcessHandle.
func (s *Session) SendInterrupt(pid int) bool {
	return s.handle.SendInterrupt(pid)
}

// Post implements adapter.CommandChannel.
func (s *Session) Post(command, tag string, handler func(mi.Response)) error {
	s.channelMu.RLock()
	channel := s.channel
	s.channelMu.RUnlock()

	if channel == nil {
		return fmt.Errorf("post %s: backend not started", tag)
	}
	return channel.Post(command, tag, handler)
}

// onStream routes backend stream records. Target output normally arrives
// via the capture channel, but backends fall back to the target stream
// when the capture tty cannot be used.
func (s *Session) onStream(kind mi.StreamKind, text string) {
	switch kind {
	case mi.StreamTarget:
		if _, err := io.WriteString(s.output, text); err != nil {
			s.reportOutputError(err)
		}
	case mi.StreamConsole:
		s.logger.Debug("backend console", "text", strings.TrimRight(text, "\n"))
	case mi.StreamLog:
		s.logger.Debug("backend log", "text", strings.TrimRight(text, "\n"))
	}
}

// reportOutputError warns the first time the output writer fails; output
// keeps flowing so a broken writer cannot stall the session.
func (s *Session) reportOutputError(err error) {
	s.outputErrOnce.Do(func() {
		s.logger.Warn("dropping debuggee output", "err", err)
	})
}

// drainStderr logs whatever the backend writes to stderr.
func (s *Session) drainStderr(r io.Reader) {
	if r == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.logger.Warn("backend stderr", "line", scanner.Text())
	}
}

// Run drives the full round-trip: start the adapter, prepare and run the
// inferior, wait for it to finish (or ctx to be canceled), then tear
// everything down. It returns once the backend process has exited or the
// session is abandoned on a failure terminal.
func (s *Session) Run(ctx context.Context) error {
	s.adapter.StartAdapter(s.params)

	if err := s.await(ctx, evAdapterStarted, "adapter start"); err != nil {
		s.teardown(context.Background())
		return err
	}

	s.adapter.PrepareInferior()
	if err := s.await(ctx, evInferiorPrepared, "inferior preparation"); err != nil {
		s.teardown(context.Background())
		return err
	}

	s.adapter.StartInferior()
	if err := s.await(ctx, evInferiorStarted, "inferior start"); err != nil {
		s.teardown(context.Background())
		return err
	}
	s.logger.Info("inferior running", "program", s.params.Executable)

	if err := s.waitInferior(ctx); err != nil {
		s.teardown(context.Background())
		return err
	}
	return s.teardown(context.Background())
}

// await consumes events until the wanted signal, a failure, or ctx ends.
func (s *Session) await(ctx context.Context, want eventKind, step string) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", step, ctx.Err())
		case ev := <-s.events:
			switch {
			case ev.kind == want:
				return nil
			case ev.kind == evAdapterCrashed:
				return fmt.Errorf("%s: adapter crashed: %s", step, ev.message)
			case ev.kind == evAdapterShutDown:
				return fmt.Errorf("%s: backend exited prematurely", step)
			case isFailure(ev.kind):
				return fmt.Errorf("%s failed: %s", step, ev.message)
			default:
				// Unrelated signal (continued, stopped); keep waiting.
			}
		}
	}
}

// waitInferior blocks until the inferior finishes or ctx is canceled.
// Cancellation interrupts the inferior and proceeds to teardown.
func (s *Session) waitInferior(ctx context.Context) error {
	interrupted := false
	for {
		select {
		case <-ctx.Done():
			if interrupted || s.adapter.Phase() == adapter.InferiorStopped {
				// Already stopped, or the stop never arrived; tear down.
				return s.teardown(context.Background())
			}
			interrupted = true
			s.adapter.InterruptInferior()
			// Wait for the stop record, but not forever.
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(context.Background(), s.settings.ShutdownGrace)
			defer cancel()

		case ev := <-s.events:
			switch ev.kind {
			case evInferiorStopped:
				if strings.HasPrefix(ev.message, "exited") {
					s.logger.Info("inferior finished", "reason", ev.message)
					return nil
				}
				s.logger.Info("inferior stopped", "reason", ev.message)
				if interrupted {
					return s.teardown(context.Background())
				}
			case evAdapterCrashed:
				return fmt.Errorf("adapter crashed: %s", ev.message)
			case evAdapterShutDown:
				return fmt.Errorf("backend exited while inferior was running")
			}
		}
	}
}

// teardown drives Shutdown to completion, re-driving it after a failed
// kill step and force-killing the backend if the grace period lapses.
func (s *Session) teardown(ctx context.Context) error {
	switch s.adapter.Phase() {
	case adapter.AdapterShutDown:
		return nil

	case adapter.InferiorRunningRequested, adapter.InferiorRunning,
		adapter.InferiorStopping, adapter.InferiorStopped,
		adapter.InferiorShutDown, adapter.InferiorPreparationFailed,
		adapter.InferiorStartFailed, adapter.InferiorShutdownFailed:
		s.adapter.Shutdown()

	default:
		// No protocol teardown step applies to this phase. Release the
		// capture pipe and take the backend down directly if it is
		// still alive; its exit event completes the state machine.
		if err := s.collector.Shutdown(); err != nil {
			s.logger.Warn("capture channel shutdown failed", "err", err)
		}
		if !s.handle.IsRunning() {
			return nil
		}
		if err := s.handle.Kill(); err != nil && err != backend.ErrNotStarted {
			return fmt.Errorf("kill backend: %w", err)
		}
	}

	grace := s.settings.ShutdownGrace
	timer := newGraceTimer(grace)
	defer timer.Stop()

	var failure error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C():
			s.logger.Warn("backend did not exit in time, killing", "grace", grace.String())
			if err := s.handle.Kill(); err != nil && err != backend.ErrNotStarted {
				return fmt.Errorf("kill backend: %w", err)
			}
			// The exited event still arrives and completes the machine.

		case ev := <-s.events:
			switch ev.kind {
			case evAdapterShutDown:
				return failure

			case evInferiorShutdownFailed:
				// The inferior refused to die (often: it already exited).
				// The backend is still alive, so drive the exit step.
				s.logger.Warn("inferior shutdown failed", "reason", ev.message)
				s.adapter.Shutdown()

			case evAdapterShutdownFailed:
				failure = fmt.Errorf("adapter shutdown failed: %s", ev.message)

			case evInferiorStopped:
				s.logger.Debug("stop during teardown", "reason", ev.message)
			}
		}
	}
}

// SetExitCode records the inferior exit code parsed from a stop record.
func (s *Session) SetExitCode(code string) {
	// GDB reports the code in octal ("0100" is 64).
	n, err := strconv.ParseInt(code, 8, 32)
	if err != nil {
		return
	}
	s.setExit(int(n))
}

func (s *Session) setExit(code int) {
	s.exitMu.Lock()
	s.exitCode = code
	s.exitMu.Unlock()
}

// graceTimer wraps time.Timer so a zero grace period means "never".
type graceTimer struct {
	t *time.Timer
}

func newGraceTimer(d time.Duration) graceTimer {
	if d <= 0 {
		return graceTimer{}
	}
	return graceTimer{t: time.NewTimer(d)}
}

func (g graceTimer) C() <-chan time.Time {
	if g.t == nil {
		return nil
	}
	return g.t.C
}

func (g graceTimer) Stop() {
	if g.t != nil {
		g.t.Stop()
	}
}

// isFailure reports whether the event kind is a step-failure signal.
func isFailure(kind eventKind) bool {
	switch kind {
	case evAdapterStartFailed, evInferiorPreparationFailed,
		evInferiorStartFailed, evInferiorShutdownFailed,
		evAdapterShutdownFailed:
		return true
	default:
		return false
	}
}

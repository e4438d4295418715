package backend

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestStartRunsProcess(t *testing.T) {
	started := make(chan struct{})
	exited := make(chan struct{})
	var exitCode int
	var status string

	h := New(Events{
		OnStarted: func() { close(started) },
		OnExited: func(code int, s string) {
			exitCode = code
			status = s
			close(exited)
		},
	})

	if err := h.Start("sh", []string{"-c", "exit 0"}, "", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for started event")
	}

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exited event")
	}

	if exitCode != 0 {
		t.Errorf("exit code = %d, want 0", exitCode)
	}
	if status != "exited normally" {
		t.Errorf("status = %q", status)
	}
	if h.State() != StateExited {
		t.Errorf("State = %s, want exited", h.State())
	}
}

func TestStartedReportedBeforeExited(t *testing.T) {
	// A backend that dies at once (bad flags, missing libraries) must still
	// report started before exited; the slow callback loses the scheduling
	// race on purpose.
	startedDone := make(chan struct{})
	sawStarted := make(chan bool, 1)
	exited := make(chan struct{})

	h := New(Events{
		OnStarted: func() {
			time.Sleep(50 * time.Millisecond)
			close(startedDone)
		},
		OnExited: func(int, string) {
			select {
			case <-startedDone:
				sawStarted <- true
			default:
				sawStarted <- false
			}
			close(exited)
		},
	})

	if err := h.Start("sh", []string{"-c", "exit 1"}, "", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exited event")
	}
	if !<-sawStarted {
		t.Error("exited event delivered before the started event")
	}
}

func TestExitCodeReported(t *testing.T) {
	exited := make(chan int, 1)
	h := New(Events{
		OnExited: func(code int, _ string) { exited <- code },
	})

	if err := h.Start("sh", []string{"-c", "exit 3"}, "", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case code := <-exited:
		if code != 3 {
			t.Errorf("exit code = %d, want 3", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exited event")
	}
	if h.ExitCode() != 3 {
		t.Errorf("ExitCode() = %d, want 3", h.ExitCode())
	}
}

func TestStartTwiceFails(t *testing.T) {
	h := New(Events{})
	if err := h.Start("sh", []string{"-c", "sleep 10"}, "", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		h.Kill()
		<-h.Done()
	}()

	if err := h.Start("sh", []string{"-c", "exit 0"}, "", nil); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestStartMissingExecutable(t *testing.T) {
	h := New(Events{})
	if err := h.Start("/nonexistent/backend", nil, "", nil); err == nil {
		t.Fatal("Start succeeded for missing executable")
	}
	if h.State() != StateCreated {
		t.Errorf("State = %s, want created", h.State())
	}
}

func TestKillReportsSignaledState(t *testing.T) {
	statusCh := make(chan string, 1)
	h := New(Events{
		OnExited: func(_ int, status string) { statusCh <- status },
	})

	if err := h.Start("sh", []string{"-c", "sleep 30"}, "", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	select {
	case status := <-statusCh:
		if !strings.Contains(status, "killed") {
			t.Errorf("status = %q, want killed", status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exited event")
	}
	if h.State() != StateKilled {
		t.Errorf("State = %s, want killed", h.State())
	}
}

func TestSignalBeforeStart(t *testing.T) {
	h := New(Events{})
	if err := h.Kill(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Kill = %v, want ErrNotStarted", err)
	}
	if err := h.Terminate(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Terminate = %v, want ErrNotStarted", err)
	}
}

func TestSendInterruptRejectsBadPID(t *testing.T) {
	h := New(Events{})
	if h.SendInterrupt(0) {
		t.Error("SendInterrupt(0) = true")
	}
	if h.SendInterrupt(-1) {
		t.Error("SendInterrupt(-1) = true")
	}
}

func TestPipesCarryData(t *testing.T) {
	h := New(Events{})
	if err := h.Start("cat", nil, "", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		h.Kill()
		<-h.Done()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	var line string
	go func() {
		defer wg.Done()
		reader := bufio.NewReader(h.Stdout())
		line, _ = reader.ReadString('\n')
	}()

	fmt.Fprintln(h.Stdin(), "1-exec-run")
	wg.Wait()

	if line != "1-exec-run\n" {
		t.Errorf("read %q, want echoed command", line)
	}
}

func TestEnvironmentPassedToProcess(t *testing.T) {
	exited := make(chan struct{})
	h := New(Events{
		OnExited: func(int, string) { close(exited) },
	})

	var out string
	if err := h.Start("sh", []string{"-c", "printf '%s' \"$GDBMI_TEST_VAR\""}, "", []string{"GDBMI_TEST_VAR=hello"}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	buf := make([]byte, 64)
	n, _ := h.Stdout().Read(buf)
	out = string(buf[:n])

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit")
	}

	if out != "hello" {
		t.Errorf("output = %q, want %q", out, "hello")
	}
}

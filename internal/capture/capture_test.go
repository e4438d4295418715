package capture

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

// openWriter attaches to the pipe the way the backend does.
func openWriter(t *testing.T, addr string) *os.File {
	t.Helper()
	w, err := os.OpenFile(addr, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open pipe for writing: %v", err)
	}
	return w
}

func TestListenProvidesAddress(t *testing.T) {
	c := NewCollector()
	if got := c.ServerAddress(); got != "" {
		t.Fatalf("ServerAddress = %q before Listen, want empty", got)
	}

	if err := c.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer c.Shutdown()

	addr := c.ServerAddress()
	if addr == "" {
		t.Fatal("ServerAddress empty after Listen")
	}
	if !strings.Contains(addr, "gdbmi-capture-") {
		t.Errorf("ServerAddress = %q, want capture pipe path", addr)
	}
	info, err := os.Stat(addr)
	if err != nil {
		t.Fatalf("pipe file: %v", err)
	}
	// The backend opens the path with open(2), which a socket would refuse.
	if info.Mode()&os.ModeNamedPipe == 0 {
		t.Errorf("capture path mode = %v, want a named pipe", info.Mode())
	}
}

func TestListenTwiceFails(t *testing.T) {
	c := NewCollector()
	if err := c.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer c.Shutdown()

	if err := c.Listen(); err == nil {
		t.Fatal("second Listen succeeded")
	}
}

func TestCollectsDebuggeeOutput(t *testing.T) {
	c := NewCollector()

	var mu sync.Mutex
	var collected bytes.Buffer
	done := make(chan struct{})
	c.OnData(func(data []byte) {
		mu.Lock()
		collected.Write(data)
		if collected.Len() >= len("hello from the inferior") {
			select {
			case <-done:
			default:
				close(done)
			}
		}
		mu.Unlock()
	})

	if err := c.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer c.Shutdown()

	w := openWriter(t, c.ServerAddress())
	if _, err := w.Write([]byte("hello from the inferior")); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for output")
	}

	mu.Lock()
	defer mu.Unlock()
	if got := collected.String(); got != "hello from the inferior" {
		t.Errorf("collected = %q", got)
	}
}

func TestCollectsAcrossWriterReconnects(t *testing.T) {
	c := NewCollector()

	var mu sync.Mutex
	var collected bytes.Buffer
	chunks := make(chan struct{}, 2)
	c.OnData(func(data []byte) {
		mu.Lock()
		collected.Write(data)
		mu.Unlock()
		chunks <- struct{}{}
	})

	if err := c.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer c.Shutdown()

	for i, text := range []string{"first run\n", "second run\n"} {
		w := openWriter(t, c.ServerAddress())
		if _, err := w.Write([]byte(text)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		w.Close()

		select {
		case <-chunks:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for chunk %d", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if got := collected.String(); got != "first run\nsecond run\n" {
		t.Errorf("collected = %q", got)
	}
}

func TestShutdownReturnsWithIdleWriterAttached(t *testing.T) {
	c := NewCollector()
	if err := c.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	// A writer that holds its end open without sending anything, like a
	// running inferior that has not printed yet.
	w := openWriter(t, c.ServerAddress())
	defer w.Close()

	returned := make(chan error, 1)
	go func() { returned <- c.Shutdown() }()

	select {
	case err := <-returned:
		if err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown blocked on an idle open writer")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	c := NewCollector()
	if err := c.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := c.ServerAddress()

	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := c.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	if _, err := os.Stat(addr); !os.IsNotExist(err) {
		t.Errorf("pipe file still present after Shutdown")
	}

	if err := c.Listen(); err == nil {
		t.Error("Listen succeeded after Shutdown")
	}
}

func TestShutdownWithoutListen(t *testing.T) {
	c := NewCollector()
	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

// Package capture provides the side channel that receives the debuggee's
// own stdout/stderr, independent of the backend's control channel.
//
// The backend is pointed at the collector's address (the --tty= argument in
// MI mode) and opens that path with open(2), like a terminal. The path must
// therefore be a named pipe, not a socket: open(2) on a socket file fails
// with ENXIO and the backend silently falls back to its own terminal.
package capture

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/uuid"
)

// Collector reads the debuggee's output stream from a named pipe.
type Collector struct {
	mu     sync.Mutex
	file   *os.File
	addr   string
	closed bool
	wg     sync.WaitGroup

	handlerMu sync.RWMutex
	onData    func([]byte)
}

// NewCollector creates an unstarted collector.
func NewCollector() *Collector {
	return &Collector{}
}

// OnData sets the handler invoked with each chunk of debuggee output.
func (c *Collector) OnData(handler func([]byte)) {
	c.handlerMu.Lock()
	c.onData = handler
	c.handlerMu.Unlock()
}

// Listen creates the pipe and starts reading it.
func (c *Collector) Listen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file != nil {
		return fmt.Errorf("collector already listening on %s", c.addr)
	}
	if c.closed {
		return fmt.Errorf("collector already shut down")
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("gdbmi-capture-%s", uuid.New().String()))
	if err := syscall.Mkfifo(path, 0o600); err != nil {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}

	// O_NONBLOCK keeps the open from waiting for a writer and hands the fd
	// to the runtime poller, so Shutdown's Close unblocks a pending Read.
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("open %s: %w", path, err)
	}

	c.file = f
	c.addr = path

	c.wg.Add(1)
	go c.readLoop(f, path)
	return nil
}

// ServerAddress returns the pipe path the backend should write to.
// Empty until Listen succeeds.
func (c *Collector) ServerAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// readLoop streams the pipe's bytes to the data handler. A plain EOF means
// the writer closed its end; the pipe is reopened so a relaunched inferior
// can attach again.
func (c *Collector) readLoop(f *os.File, path string) {
	defer c.wg.Done()

	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			c.handlerMu.RLock()
			handler := c.onData
			c.handlerMu.RUnlock()

			if handler != nil {
				data := make([]byte, n)
				copy(data, buf[:n])
				handler(data)
			}
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			// Closed by Shutdown, or the pipe went away.
			return
		}
		next, err := c.reopen(path)
		if err != nil {
			return
		}
		f = next
	}
}

// reopen swaps in a fresh read end after a writer hangup.
func (c *Collector) reopen(path string) (*os.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fs.ErrClosed
	}
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	c.file.Close()
	c.file = f
	return f, nil
}

// Shutdown closes the pipe and waits for the reader to finish. A read in
// flight is unblocked by the close, so a connected-but-quiet writer cannot
// stall teardown. It is safe to call more than once.
func (c *Collector) Shutdown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	f := c.file
	addr := c.addr
	c.mu.Unlock()

	var err error
	if f != nil {
		err = f.Close()
		c.wg.Wait()
	}
	if addr != "" {
		os.Remove(addr)
	}
	return err
}

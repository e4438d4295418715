package mi

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// Transport moves command lines to the backend and output lines back.
type Transport interface {
	// Send writes one command line to the backend.
	Send(line string) error

	// Receive reads the next output line from the backend.
	Receive() (string, error)

	// Close closes the transport.
	Close() error
}

// PipeTransport implements Transport over the backend's stdin/stdout pipes.
type PipeTransport struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewPipeTransport creates a transport over the given pipes.
func NewPipeTransport(stdin io.WriteCloser, stdout io.ReadCloser) *PipeTransport {
	return &PipeTransport{
		stdin:  stdin,
		stdout: stdout,
		reader: bufio.NewReader(stdout),
	}
}

// Send writes one command line followed by a newline.
func (t *PipeTransport) Send(line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := io.WriteString(t.stdin, line+"\n"); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

// Receive reads the next output line, without the trailing newline.
func (t *PipeTransport) Receive() (string, error) {
	line, err := t.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return line, nil
		}
		return "", err
	}
	return line[:len(line)-1], nil
}

// Close closes both pipes.
func (t *PipeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stdin.Close()
	return t.stdout.Close()
}

package mi

import (
	"bufio"
	"io"
	"testing"
)

func TestPipeTransportSendAppendsNewline(t *testing.T) {
	commandR, commandW := io.Pipe()
	outputR, _ := io.Pipe()
	transport := NewPipeTransport(commandW, outputR)
	defer transport.Close()

	go func() {
		if err := transport.Send("1-exec-run"); err != nil {
			t.Errorf("Send: %v", err)
		}
	}()

	line, err := bufio.NewReader(commandR).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "1-exec-run\n" {
		t.Errorf("wrote %q, want command plus newline", line)
	}
}

func TestPipeTransportReceiveStripsNewline(t *testing.T) {
	_, commandW := io.Pipe()
	outputR, outputW := io.Pipe()
	transport := NewPipeTransport(commandW, outputR)
	defer transport.Close()

	go func() {
		io.WriteString(outputW, "^done\n*stopped,reason=\"exited-normally\"\n")
		outputW.Close()
	}()

	line, err := transport.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if line != "^done" {
		t.Errorf("Receive = %q", line)
	}

	line, err = transport.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if line != `*stopped,reason="exited-normally"` {
		t.Errorf("Receive = %q", line)
	}

	if _, err := transport.Receive(); err != io.EOF {
		t.Errorf("Receive after close = %v, want EOF", err)
	}
}

func TestPipeTransportReceiveFinalUnterminatedLine(t *testing.T) {
	_, commandW := io.Pipe()
	outputR, outputW := io.Pipe()
	transport := NewPipeTransport(commandW, outputR)
	defer transport.Close()

	go func() {
		io.WriteString(outputW, "(gdb) ")
		outputW.Close()
	}()

	line, err := transport.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if line != "(gdb) " {
		t.Errorf("Receive = %q", line)
	}
}

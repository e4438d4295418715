package mi

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// pendingCommand tracks a posted command awaiting its result record.
type pendingCommand struct {
	tag     string
	handler func(Response)
}

// Channel posts commands to the backend and correlates result records back
// to their completion handlers by token.
type Channel struct {
	transport Transport
	seq       int64
	pending   map[int]*pendingCommand
	pendingMu sync.Mutex

	handlers  channelHandlers
	handlerMu sync.RWMutex

	done      chan struct{}
	closeOnce sync.Once
	err       error
	errMu     sync.RWMutex
}

// channelHandlers stores the out-of-band record observers.
type channelHandlers struct {
	onExec   func(AsyncRecord)
	onStatus func(AsyncRecord)
	onNotify func(AsyncRecord)
	onStream func(StreamKind, string)
}

// NewChannel creates a channel over the given transport and starts its
// receive loop.
func NewChannel(transport Transport) *Channel {
	c := &Channel{
		transport: transport,
		pending:   make(map[int]*pendingCommand),
		done:      make(chan struct{}),
	}
	go c.receiveLoop()
	return c
}

// Close tears down the channel. Handlers for commands still in flight are
// skipped, never invoked.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})

	c.pendingMu.Lock()
	c.pending = make(map[int]*pendingCommand)
	c.pendingMu.Unlock()

	return c.transport.Close()
}

// Error returns any error that terminated the receive loop.
func (c *Channel) Error() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.err
}

// Post sends a command line to the backend. If handler is non-nil it is
// invoked exactly once when the matching result record arrives; a nil
// handler makes the command fire-and-forget. The tag names the command in
// logs and errors.
func (c *Channel) Post(command, tag string, handler func(Response)) error {
	select {
	case <-c.done:
		return fmt.Errorf("post %s: channel closed", tag)
	default:
	}

	token := int(atomic.AddInt64(&c.seq, 1))

	if handler != nil {
		c.pendingMu.Lock()
		c.pending[token] = &pendingCommand{tag: tag, handler: handler}
		c.pendingMu.Unlock()
	}

	if err := c.transport.Send(fmt.Sprintf("%d%s", token, command)); err != nil {
		if handler != nil {
			c.pendingMu.Lock()
			delete(c.pending, token)
			c.pendingMu.Unlock()
		}
		return fmt.Errorf("post %s: %w", tag, err)
	}
	return nil
}

// PendingCount reports how many commands are awaiting a result record.
func (c *Channel) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// receiveLoop reads and dispatches output lines until the transport fails
// or the channel is closed. All handler invocations happen here, one at a
// time, in arrival order.
func (c *Channel) receiveLoop() {
	for {
		line, err := c.transport.Receive()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}

			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()

			// In-flight handlers are skipped: the backend can no longer
			// produce a response in the expected shape.
			c.pendingMu.Lock()
			c.pending = make(map[int]*pendingCommand)
			c.pendingMu.Unlock()
			return
		}

		select {
		case <-c.done:
			return
		default:
		}

		if line == "" {
			continue
		}

		rec, err := ParseRecord(line)
		if err != nil {
			// Not an MI record; surface it as log-stream output so the
			// observer can decide what to do with it.
			c.dispatchStream(StreamLog, line)
			continue
		}
		c.dispatch(rec)
	}
}

// dispatch routes one classified record.
func (c *Channel) dispatch(rec Record) {
	switch rec.Type {
	case RecordResult:
		c.pendingMu.Lock()
		cmd, ok := c.pending[rec.Result.Token]
		if ok {
			delete(c.pending, rec.Result.Token)
		}
		c.pendingMu.Unlock()

		if ok {
			cmd.handler(rec.Result)
		}

	case RecordAsync:
		c.handlerMu.RLock()
		handlers := c.handlers
		c.handlerMu.RUnlock()

		switch rec.Async.Kind {
		case AsyncExec:
			if handlers.onExec != nil {
				handlers.onExec(rec.Async)
			}
		case AsyncStatus:
			if handlers.onStatus != nil {
				handlers.onStatus(rec.Async)
			}
		case AsyncNotify:
			if handlers.onNotify != nil {
				handlers.onNotify(rec.Async)
			}
		}

	case RecordStream:
		c.dispatchStream(rec.StreamKind, rec.StreamText)

	case RecordPrompt:
		// Ready prompt carries no information the adapter needs.
	}
}

func (c *Channel) dispatchStream(kind StreamKind, text string) {
	c.handlerMu.RLock()
	handler := c.handlers.onStream
	c.handlerMu.RUnlock()

	if handler != nil {
		handler(kind, text)
	}
}

// OnExec sets the observer for exec async records (*stopped, *running).
func (c *Channel) OnExec(handler func(AsyncRecord)) {
	c.handlerMu.Lock()
	c.handlers.onExec = handler
	c.handlerMu.Unlock()
}

// OnStatus sets the observer for status async records.
func (c *Channel) OnStatus(handler func(AsyncRecord)) {
	c.handlerMu.Lock()
	c.handlers.onStatus = handler
	c.handlerMu.Unlock()
}

// OnNotify sets the observer for notify async records.
func (c *Channel) OnNotify(handler func(AsyncRecord)) {
	c.handlerMu.Lock()
	c.handlers.onNotify = handler
	c.handlerMu.Unlock()
}

// OnStream sets the observer for console/target/log stream output.
func (c *Channel) OnStream(handler func(StreamKind, string)) {
	c.handlerMu.Lock()
	c.handlers.onStream = handler
	c.handlerMu.Unlock()
}

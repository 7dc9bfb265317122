package actuator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrChannelFull   = errors.New("actuator: command channel full")
	ErrChannelClosed = errors.New("actuator: command channel closed")
	ErrCapacity      = errors.New("actuator: invalid channel capacity")
)

// Channel is a bounded FIFO of Commands. Send gives up after its timeout
// instead of blocking indefinitely, so commands are lost under overload.
type Channel struct {
	cmds      chan Command
	closed    chan struct{}
	closeOnce sync.Once
}

// NewChannel creates a Channel holding at most capacity commands.
func NewChannel(capacity int) (*Channel, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrCapacity, capacity)
	}
	return &Channel{
		cmds:   make(chan Command, capacity),
		closed: make(chan struct{}),
	}, nil
}

// Send enqueues cmd, waiting at most timeout for a free slot.
func (c *Channel) Send(cmd Command, timeout time.Duration) error {
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}

	select {
	case c.cmds <- cmd:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.cmds <- cmd:
		return nil
	case <-c.closed:
		return ErrChannelClosed
	case <-timer.C:
		return ErrChannelFull
	}
}

// Receive blocks until a command is available, ctx is done, or the channel
// is closed.
func (c *Channel) Receive(ctx context.Context) (Command, error) {
	select {
	case cmd := <-c.cmds:
		return cmd, nil
	case <-c.closed:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of queued commands.
func (c *Channel) Len() int {
	return len(c.cmds)
}

// Cap returns the channel capacity.
func (c *Channel) Cap() int {
	return cap(c.cmds)
}

// Close wakes all receivers and rejects further sends. Queued commands are
// discarded.
func (c *Channel) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

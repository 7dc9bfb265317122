package app

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// State is a worker's lifecycle state.
type State int32

const (
	Created State = iota
	Running
	Stopping
	Terminated
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// WorkerHandle tracks one pipeline goroutine.
type WorkerHandle struct {
	id     uuid.UUID
	name   string
	state  atomic.Int32
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc
	forced atomic.Bool
}

func newWorkerHandle(name string, cancel context.CancelFunc) *WorkerHandle {
	return &WorkerHandle{
		id:     uuid.New(),
		name:   name,
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

func (h *WorkerHandle) ID() uuid.UUID {
	return h.id
}

func (h *WorkerHandle) Name() string {
	return h.name
}

func (h *WorkerHandle) State() State {
	return State(h.state.Load())
}

// Done is closed once the worker is Terminated, whether it exited on its own
// or was force-terminated.
func (h *WorkerHandle) Done() <-chan struct{} {
	return h.done
}

// Forced reports whether the worker was force-terminated.
func (h *WorkerHandle) Forced() bool {
	return h.forced.Load()
}

func (h *WorkerHandle) transition(from, to State) bool {
	return h.state.CompareAndSwap(int32(from), int32(to))
}

func (h *WorkerHandle) terminate() {
	h.once.Do(func() {
		h.state.Store(int32(Terminated))
		h.cancel()
		close(h.done)
	})
}

// forceTerminate cancels the worker's context and marks it Terminated without
// waiting for the goroutine. An uninterruptible call in progress (a read or a
// motion sequence) finishes in the background and its result is discarded.
func (h *WorkerHandle) forceTerminate() {
	if h.State() == Terminated {
		return
	}
	h.forced.Store(true)
	h.terminate()
}

// spawnFunc starts run on its own goroutine and moves h to Running.
type spawnFunc func(h *WorkerHandle, run func()) error

func goSpawn(h *WorkerHandle, run func()) error {
	if !h.transition(Created, Running) {
		return spawnError(h)
	}
	go func() {
		defer h.terminate()
		run()
	}()
	return nil
}

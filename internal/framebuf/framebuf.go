// Package framebuf bridges the capture goroutine and the classification loop.
//
// A Buffer accumulates gain-adjusted samples into fixed-capacity frames. All
// state is guarded by a single exclusive lock whose acquisition is always
// bounded; callers treat ErrLockTimeout as recoverable. Completed frames are
// published through a ready flag plus a one-slot notification channel.
//
// Storage is three frame-sized slots allocated once: the slot being filled,
// the slot holding the ready frame, and the slot the consumer is reading.
// Completing a frame swaps fill and ready; consuming swaps ready and reading.
// Samples are never copied between slots.
package framebuf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// MaxCapacity is the largest frame, in samples, New will allocate.
const MaxCapacity = 1 << 24

var (
	ErrAllocation        = errors.New("framebuf: allocation failed")
	ErrLockTimeout       = errors.New("framebuf: lock acquisition timed out")
	ErrBufferWaitTimeout = errors.New("framebuf: timed out waiting for a ready frame")
	ErrNotReady          = errors.New("framebuf: no frame ready")
	ErrReleased          = errors.New("framebuf: buffer released")
	ErrStaleFrame        = errors.New("framebuf: frame superseded by a newer consumption")
	ErrOutOfRange        = errors.New("framebuf: sample range out of bounds")
)

const (
	slotFill = iota
	slotReady
	slotReading
)

// Buffer is the shared frame buffer. The zero value is not usable; call New.
type Buffer struct {
	sem      *semaphore.Weighted
	capacity int

	// Guarded by sem.
	slots    [3][]int16
	roles    [3]int // roles[slotFill] is the index into slots being filled, etc.
	cursor   int
	ready    bool
	frames   uint64
	overruns uint64
	consumed uint64 // sequence of the frame in the reading slot

	notify      chan struct{}
	released    chan struct{}
	releaseOnce sync.Once
}

// AppendStats describes the effect of one Append call.
type AppendStats struct {
	Samples  int // samples written
	Frames   int // frames completed by this call
	Overruns int // completed frames that replaced an unconsumed ready frame
}

// State is a consistent snapshot of the buffer's bookkeeping.
type State struct {
	Capacity int
	Cursor   int
	Ready    bool
	Frames   uint64
	Overruns uint64
}

// New allocates a Buffer holding frames of capacity samples.
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 || capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: frame capacity %d out of range [1, %d]", ErrAllocation, capacity, MaxCapacity)
	}

	b := &Buffer{
		sem:      semaphore.NewWeighted(1),
		capacity: capacity,
		roles:    [3]int{0, 1, 2},
		notify:   make(chan struct{}, 1),
		released: make(chan struct{}),
	}
	for i := range b.slots {
		b.slots[i] = make([]int16, capacity)
	}
	return b, nil
}

// Capacity returns the frame length in samples.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// lock acquires exclusive access, giving up after timeout.
func (b *Buffer) lock(timeout time.Duration) error {
	if b.sem.TryAcquire(1) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return ErrLockTimeout
	}
	return nil
}

func (b *Buffer) unlock() {
	b.sem.Release(1)
}

func (b *Buffer) isReleased() bool {
	select {
	case <-b.released:
		return true
	default:
		return false
	}
}

// Append writes samples at the cursor. Whenever the cursor reaches capacity
// the frame is published as ready and the cursor restarts at 0, so a chunk
// that crosses a frame boundary continues in the next frame.
func (b *Buffer) Append(samples []int16, timeout time.Duration) (AppendStats, error) {
	var stats AppendStats

	if err := b.lock(timeout); err != nil {
		return stats, err
	}
	defer b.unlock()

	if b.isReleased() {
		return stats, ErrReleased
	}

	for len(samples) > 0 {
		fill := b.slots[b.roles[slotFill]]
		n := copy(fill[b.cursor:], samples)
		b.cursor += n
		samples = samples[n:]
		stats.Samples += n

		if b.cursor < b.capacity {
			continue
		}

		b.cursor = 0
		if b.ready {
			b.overruns++
			stats.Overruns++
		}
		b.roles[slotFill], b.roles[slotReady] = b.roles[slotReady], b.roles[slotFill]
		b.ready = true
		b.frames++
		stats.Frames++
		b.rearm()
	}

	return stats, nil
}

// WaitReady blocks until a frame has been published, timeout elapses
// (ErrBufferWaitTimeout), ctx is done, or the buffer is released.
func (b *Buffer) WaitReady(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-b.notify:
		return nil
	case <-timer.C:
		return ErrBufferWaitTimeout
	case <-b.released:
		return ErrReleased
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume clears the ready flag and hands the ready frame to the caller. The
// returned Frame stays valid until the next Consume.
//
// When the lock cannot be taken the notification that WaitReady used up is
// put back, so a frame that is still ready is not stranded until the next
// one completes. A re-armed notification for a frame that is no longer ready
// surfaces as ErrNotReady.
func (b *Buffer) Consume(timeout time.Duration) (Frame, error) {
	if err := b.lock(timeout); err != nil {
		b.rearm()
		return Frame{}, err
	}
	defer b.unlock()

	if b.isReleased() {
		return Frame{}, ErrReleased
	}
	if !b.ready {
		return Frame{}, ErrNotReady
	}

	b.roles[slotReady], b.roles[slotReading] = b.roles[slotReading], b.roles[slotReady]
	b.ready = false
	b.consumed++

	// Drop a notification that refers to the frame just taken.
	select {
	case <-b.notify:
	default:
	}

	return Frame{buf: b, seq: b.consumed, lockTimeout: timeout}, nil
}

func (b *Buffer) rearm() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Snapshot returns the current bookkeeping under the lock.
func (b *Buffer) Snapshot(timeout time.Duration) (State, error) {
	if err := b.lock(timeout); err != nil {
		return State{}, err
	}
	defer b.unlock()

	return State{
		Capacity: b.capacity,
		Cursor:   b.cursor,
		Ready:    b.ready,
		Frames:   b.frames,
		Overruns: b.overruns,
	}, nil
}

// WithLock runs fn while holding exclusive access to the buffer.
func (b *Buffer) WithLock(timeout time.Duration, fn func()) error {
	if err := b.lock(timeout); err != nil {
		return err
	}
	defer b.unlock()
	fn()
	return nil
}

// Release marks the buffer unusable and frees its storage. Waiters are woken
// with ErrReleased. If the lock cannot be taken within timeout the storage is
// left for the garbage collector and ErrLockTimeout is returned.
func (b *Buffer) Release(timeout time.Duration) error {
	b.releaseOnce.Do(func() { close(b.released) })

	if err := b.lock(timeout); err != nil {
		return err
	}
	defer b.unlock()

	for i := range b.slots {
		b.slots[i] = nil
	}
	b.cursor = 0
	b.ready = false
	return nil
}

// Frame is a consumed inference window. Reads go through the buffer lock.
type Frame struct {
	buf         *Buffer
	seq         uint64
	lockTimeout time.Duration
}

// Len returns the number of samples in the frame.
func (f Frame) Len() int {
	if f.buf == nil {
		return 0
	}
	return f.buf.capacity
}

// Seq returns the consumption sequence number, starting at 1.
func (f Frame) Seq() uint64 {
	return f.seq
}

// Read converts len(out) samples starting at offset into float32 values.
// Sample values are preserved, not normalized.
func (f Frame) Read(offset int, out []float32) error {
	if f.buf == nil {
		return ErrNotReady
	}
	b := f.buf

	if err := b.lock(f.lockTimeout); err != nil {
		return err
	}
	defer b.unlock()

	if b.isReleased() {
		return ErrReleased
	}
	if b.consumed != f.seq {
		return ErrStaleFrame
	}
	if offset < 0 || offset+len(out) > b.capacity {
		return fmt.Errorf("%w: offset %d length %d capacity %d", ErrOutOfRange, offset, len(out), b.capacity)
	}

	src := b.slots[b.roles[slotReading]][offset : offset+len(out)]
	for i, s := range src {
		out[i] = float32(s)
	}
	return nil
}

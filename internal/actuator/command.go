// Package actuator decouples trigger decisions from physical motion: a lossy
// bounded Channel carries Commands to a Worker that drives an Actuator one
// full motion sequence at a time.
package actuator

import (
	"fmt"
	"time"
)

// Command is a request for the actuator worker. Move is the only kind.
type Command interface {
	fmt.Stringer
	command()
}

// Move runs one full motion sequence and then idles for Delay.
type Move struct {
	Delay time.Duration
}

func (Move) command() {}

func (m Move) String() string {
	return fmt.Sprintf("move(delay=%s)", m.Delay)
}

// Actuator performs motion. Move blocks until the sequence has completed.
type Actuator interface {
	Move(delay time.Duration) error
}

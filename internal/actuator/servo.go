package actuator

import (
	"fmt"
	"time"
)

// Sweep geometry for the trigger arm.
const (
	RestAngle  = 176
	PressAngle = 45
	StepDelay  = time.Millisecond
	HoldDelay  = 300 * time.Millisecond
)

// Positioner sets the servo horn angle in degrees.
type Positioner interface {
	SetAngle(deg int) error
}

// Servo sweeps from RestAngle down to PressAngle one degree per StepDelay,
// holds for HoldDelay, snaps back to RestAngle, then idles for the requested
// delay. Move is not interruptible.
type Servo struct {
	pos   Positioner
	sleep func(time.Duration)
}

// NewServo creates a Servo driving pos.
func NewServo(pos Positioner) *Servo {
	return &Servo{pos: pos, sleep: time.Sleep}
}

func (s *Servo) Move(delay time.Duration) error {
	for deg := RestAngle; deg >= PressAngle; deg-- {
		if err := s.pos.SetAngle(deg); err != nil {
			return fmt.Errorf("sweep to %d: %w", deg, err)
		}
		s.sleep(StepDelay)
	}

	s.sleep(HoldDelay)

	for deg := PressAngle; deg <= RestAngle; deg++ {
		if err := s.pos.SetAngle(deg); err != nil {
			return fmt.Errorf("return to %d: %w", deg, err)
		}
	}

	s.sleep(delay)
	return nil
}

package actuator

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingPositioner struct {
	angles []int
	failAt int
}

func (r *recordingPositioner) SetAngle(deg int) error {
	if r.failAt != 0 && deg == r.failAt {
		return errors.New("bus error")
	}
	r.angles = append(r.angles, deg)
	return nil
}

func TestServoMoveSequence(t *testing.T) {
	pos := &recordingPositioner{}
	var slept []time.Duration
	s := &Servo{pos: pos, sleep: func(d time.Duration) { slept = append(slept, d) }}

	if err := s.Move(2 * time.Second); err != nil {
		t.Fatalf("Move: %v", err)
	}

	sweep := RestAngle - PressAngle + 1
	if len(pos.angles) != 2*sweep {
		t.Fatalf("expected %d angle writes, got %d", 2*sweep, len(pos.angles))
	}
	if pos.angles[0] != RestAngle || pos.angles[sweep-1] != PressAngle {
		t.Errorf("outbound sweep should run %d -> %d, got %d -> %d", RestAngle, PressAngle, pos.angles[0], pos.angles[sweep-1])
	}
	if pos.angles[sweep] != PressAngle || pos.angles[len(pos.angles)-1] != RestAngle {
		t.Errorf("return sweep should run %d -> %d", PressAngle, RestAngle)
	}

	// One step delay per outbound degree, the hold, then the idle delay.
	if len(slept) != sweep+2 {
		t.Fatalf("expected %d sleeps, got %d", sweep+2, len(slept))
	}
	if slept[0] != StepDelay || slept[sweep] != HoldDelay || slept[sweep+1] != 2*time.Second {
		t.Errorf("unexpected sleep pattern: step %s hold %s idle %s", slept[0], slept[sweep], slept[sweep+1])
	}
}

func TestServoMoveStopsOnPositionerError(t *testing.T) {
	pos := &recordingPositioner{failAt: 100}
	s := &Servo{pos: pos, sleep: func(time.Duration) {}}

	if err := s.Move(0); err == nil {
		t.Fatal("expected error from positioner")
	}
}

func TestLogPositionerTracksAngle(t *testing.T) {
	p := NewLogPositioner(zerolog.Nop())
	if p.Angle() != RestAngle {
		t.Errorf("expected initial angle %d, got %d", RestAngle, p.Angle())
	}
	if err := NewServo(p).pos.SetAngle(90); err != nil {
		t.Fatalf("SetAngle: %v", err)
	}
	if p.Angle() != 90 {
		t.Errorf("expected angle 90, got %d", p.Angle())
	}
}

func TestPulseWidth(t *testing.T) {
	tests := []struct {
		deg  int
		want int
	}{
		{0, 900_000},
		{90, 1_500_000},
		{180, 2_100_000},
		{-10, 900_000},
		{200, 2_100_000},
	}
	for _, tt := range tests {
		if got := PulseWidth(tt.deg); got != tt.want {
			t.Errorf("PulseWidth(%d) = %d, want %d", tt.deg, got, tt.want)
		}
	}
}

func readInt(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return v
}

func TestPWMPositionerWritesSysfs(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "pwmchip0", "pwm1")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	p, err := openPWM(root, 0, 1)
	if err != nil {
		t.Fatalf("openPWM: %v", err)
	}

	if got := readInt(t, filepath.Join(dir, "period")); got != pwmPeriodNS {
		t.Errorf("expected period %d, got %d", pwmPeriodNS, got)
	}
	if got := readInt(t, filepath.Join(dir, "enable")); got != 1 {
		t.Errorf("expected enabled, got %d", got)
	}
	if got := readInt(t, filepath.Join(dir, "duty_cycle")); got != PulseWidth(RestAngle) {
		t.Errorf("expected rest pulse %d, got %d", PulseWidth(RestAngle), got)
	}

	if err := p.SetAngle(PressAngle); err != nil {
		t.Fatalf("SetAngle: %v", err)
	}
	if got := readInt(t, filepath.Join(dir, "duty_cycle")); got != PulseWidth(PressAngle) {
		t.Errorf("expected press pulse %d, got %d", PulseWidth(PressAngle), got)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := readInt(t, filepath.Join(dir, "enable")); got != 0 {
		t.Errorf("expected disabled after Close, got %d", got)
	}
}

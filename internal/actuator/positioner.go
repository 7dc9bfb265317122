package actuator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// LogPositioner records angles instead of moving hardware.
type LogPositioner struct {
	log zerolog.Logger

	mu    sync.Mutex
	angle int
}

func NewLogPositioner(log zerolog.Logger) *LogPositioner {
	return &LogPositioner{log: log.With().Str("component", "servo").Logger(), angle: RestAngle}
}

func (p *LogPositioner) SetAngle(deg int) error {
	p.mu.Lock()
	p.angle = deg
	p.mu.Unlock()
	p.log.Trace().Int("angle", deg).Msg("Servo angle")
	return nil
}

// Angle returns the last angle set.
func (p *LogPositioner) Angle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.angle
}

// PWM timing for a standard hobby servo driven at 333 Hz.
const (
	pwmPeriodNS   = 1_000_000_000 / 333
	pwmMinPulseNS = 900_000
	pwmMaxPulseNS = 2_100_000
)

// PWMPositioner drives a servo through the Linux sysfs PWM interface
// (/sys/class/pwm/pwmchipN/pwmM).
type PWMPositioner struct {
	dir string
}

// OpenPWM exports the channel if needed, sets the period, and enables output.
func OpenPWM(chip, channel int) (*PWMPositioner, error) {
	return openPWM("/sys/class/pwm", chip, channel)
}

func openPWM(root string, chip, channel int) (*PWMPositioner, error) {
	chipDir := filepath.Join(root, fmt.Sprintf("pwmchip%d", chip))
	dir := filepath.Join(chipDir, fmt.Sprintf("pwm%d", channel))

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := writeSysfs(filepath.Join(chipDir, "export"), channel); err != nil {
			return nil, fmt.Errorf("export pwm%d: %w", channel, err)
		}
	}
	if err := writeSysfs(filepath.Join(dir, "period"), pwmPeriodNS); err != nil {
		return nil, fmt.Errorf("set period: %w", err)
	}

	p := &PWMPositioner{dir: dir}
	if err := p.SetAngle(RestAngle); err != nil {
		return nil, fmt.Errorf("set duty_cycle: %w", err)
	}
	if err := writeSysfs(filepath.Join(dir, "enable"), 1); err != nil {
		return nil, fmt.Errorf("enable: %w", err)
	}
	return p, nil
}

// PulseWidth maps 0..180 degrees onto the servo pulse range in nanoseconds.
func PulseWidth(deg int) int {
	deg = max(0, min(180, deg))
	return pwmMinPulseNS + (pwmMaxPulseNS-pwmMinPulseNS)*deg/180
}

func (p *PWMPositioner) SetAngle(deg int) error {
	return writeSysfs(filepath.Join(p.dir, "duty_cycle"), PulseWidth(deg))
}

// Close disables the output.
func (p *PWMPositioner) Close() error {
	return writeSysfs(filepath.Join(p.dir, "enable"), 0)
}

func writeSysfs(path string, v int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(v)), 0644)
}

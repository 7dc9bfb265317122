package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	SourcePortAudio = "portaudio"
	SourceFile      = "file"
)

// Actuator kinds.
const (
	ActuatorLog = "log"
	ActuatorPWM = "pwm"
)

// MaxFrameCapacity bounds the frame buffer allocation (60 s at 16 kHz).
const MaxFrameCapacity = 16000 * 60

type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Audio      AudioConfig      `yaml:"audio"`
	Frame      FrameConfig      `yaml:"frame"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Actuator   ActuatorConfig   `yaml:"actuator"`
	Shutdown   ShutdownConfig   `yaml:"shutdown"`
}

type AudioConfig struct {
	Source      string        `yaml:"source"` // "portaudio" or "file"
	DeviceID    string        `yaml:"device_id"`
	File        string        `yaml:"file"`
	Loop        bool          `yaml:"loop"`
	SampleRate  int           `yaml:"sample_rate"`
	ChunkBytes  int           `yaml:"chunk_bytes"`
	Gain        int           `yaml:"gain"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

type FrameConfig struct {
	Capacity    int           `yaml:"capacity"` // samples per inference window
	LockTimeout time.Duration `yaml:"lock_timeout"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

type ClassifierConfig struct {
	Labels       []string `yaml:"labels"`
	TriggerIndex int      `yaml:"trigger_index"`
	Threshold    float32  `yaml:"threshold"`
	// Reference RMS level that maps to full confidence for the energy classifier.
	FullScaleRMS float64 `yaml:"full_scale_rms"`
}

type ActuatorConfig struct {
	Kind           string        `yaml:"kind"` // "log" or "pwm"
	QueueCapacity  int           `yaml:"queue_capacity"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
	MoveDelay      time.Duration `yaml:"move_delay"`
	PWMChip        int           `yaml:"pwm_chip"`
	PWMChannel     int           `yaml:"pwm_channel"`
}

type ShutdownConfig struct {
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			Source:      SourcePortAudio,
			SampleRate:  16000,
			ChunkBytes:  1024, // 512 samples
			Gain:        10,
			ReadTimeout: 100 * time.Millisecond,
			RetryDelay:  10 * time.Millisecond,
		},
		Frame: FrameConfig{
			Capacity:    16000,
			LockTimeout: 100 * time.Millisecond,
			WaitTimeout: 5 * time.Second,
		},
		Classifier: ClassifierConfig{
			Labels:       []string{"noise", "trigger"},
			TriggerIndex: 1,
			Threshold:    0.45,
			FullScaleRMS: 8000,
		},
		Actuator: ActuatorConfig{
			Kind:           ActuatorLog,
			QueueCapacity:  5,
			EnqueueTimeout: 100 * time.Millisecond,
			MoveDelay:      2 * time.Second,
		},
		Shutdown: ShutdownConfig{
			CaptureTimeout: time.Second,
		},
	}
}

// Load reads the config at path over the defaults. An empty path means the
// platform config location; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = configPath()
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		return cfg, Validate(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field as a joined error.
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.Audio.Source {
	case SourcePortAudio:
	case SourceFile:
		if cfg.Audio.File == "" {
			errs = append(errs, errors.New("audio.file is required when audio.source is \"file\""))
		}
	default:
		errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid values: portaudio, file", cfg.Audio.Source))
	}
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.ChunkBytes < 2 || cfg.Audio.ChunkBytes%2 != 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_bytes must be a positive even number, got %d", cfg.Audio.ChunkBytes))
	}
	if cfg.Audio.Gain == 0 {
		errs = append(errs, errors.New("audio.gain must be non-zero"))
	}
	if cfg.Audio.ReadTimeout <= 0 {
		errs = append(errs, errors.New("audio.read_timeout must be positive"))
	}

	if cfg.Frame.Capacity <= 0 || cfg.Frame.Capacity > MaxFrameCapacity {
		errs = append(errs, fmt.Errorf("frame.capacity %d is out of range [1, %d]", cfg.Frame.Capacity, MaxFrameCapacity))
	}
	if cfg.Frame.LockTimeout <= 0 {
		errs = append(errs, errors.New("frame.lock_timeout must be positive"))
	}
	if cfg.Frame.WaitTimeout <= 0 {
		errs = append(errs, errors.New("frame.wait_timeout must be positive"))
	}

	if len(cfg.Classifier.Labels) == 0 {
		errs = append(errs, errors.New("classifier.labels must not be empty"))
	} else if cfg.Classifier.TriggerIndex < 0 || cfg.Classifier.TriggerIndex >= len(cfg.Classifier.Labels) {
		errs = append(errs, fmt.Errorf("classifier.trigger_index %d is out of range for %d labels", cfg.Classifier.TriggerIndex, len(cfg.Classifier.Labels)))
	}
	if cfg.Classifier.Threshold < 0 || cfg.Classifier.Threshold > 1 {
		errs = append(errs, fmt.Errorf("classifier.threshold %.2f is out of range [0, 1]", cfg.Classifier.Threshold))
	}

	switch cfg.Actuator.Kind {
	case ActuatorLog, ActuatorPWM:
	default:
		errs = append(errs, fmt.Errorf("actuator.kind %q is invalid; valid values: log, pwm", cfg.Actuator.Kind))
	}
	if cfg.Actuator.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("actuator.queue_capacity must be positive, got %d", cfg.Actuator.QueueCapacity))
	}
	if cfg.Actuator.EnqueueTimeout <= 0 {
		errs = append(errs, errors.New("actuator.enqueue_timeout must be positive"))
	}
	if cfg.Actuator.MoveDelay < 0 {
		errs = append(errs, errors.New("actuator.move_delay must not be negative"))
	}

	if cfg.Shutdown.CaptureTimeout <= 0 {
		errs = append(errs, errors.New("shutdown.capture_timeout must be positive"))
	}

	return errors.Join(errs...)
}

// Save writes the config to disk
func (c *Config) Save(path string) error {
	if path == "" {
		path = configPath()
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Path returns the platform-specific config file path.
func Path() string {
	return configPath()
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "keyservo", "config.yaml")
}

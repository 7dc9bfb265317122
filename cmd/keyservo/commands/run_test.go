package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/petems/keyservo/internal/actuator"
	"github.com/petems/keyservo/internal/audio"
	"github.com/petems/keyservo/internal/config"
	"github.com/rs/zerolog"
)

func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		cfgFile, logLevel, inputFile = "", "", ""
		loopInput, dryRun = false, false
	})
}

func TestLoadConfigAppliesOverrides(t *testing.T) {
	resetFlags(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := "log_level: warn\nactuator:\n  kind: pwm\n"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	cfgFile = path
	logLevel = "debug"
	inputFile = "clap.pcm"
	loopInput = true
	dryRun = true

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level override, got %s", cfg.LogLevel)
	}
	if cfg.Audio.Source != config.SourceFile || cfg.Audio.File != "clap.pcm" || !cfg.Audio.Loop {
		t.Errorf("expected file source override, got %+v", cfg.Audio)
	}
	if cfg.Actuator.Kind != config.ActuatorLog {
		t.Errorf("expected dry run to force log actuator, got %s", cfg.Actuator.Kind)
	}
}

func TestLoadConfigWithoutOverrides(t *testing.T) {
	resetFlags(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("actuator:\n  kind: pwm\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfgFile = path

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Actuator.Kind != config.ActuatorPWM {
		t.Errorf("expected pwm actuator from file, got %s", cfg.Actuator.Kind)
	}
	if cfg.Audio.Source != config.SourcePortAudio {
		t.Errorf("expected default portaudio source, got %s", cfg.Audio.Source)
	}
}

func TestNewSourceFile(t *testing.T) {
	cfg := config.Default()
	cfg.Audio.Source = config.SourceFile
	cfg.Audio.File = "clap.pcm"

	src, err := newSource(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newSource: %v", err)
	}
	if _, ok := src.(*audio.FileSource); !ok {
		t.Errorf("expected *audio.FileSource, got %T", src)
	}
}

func TestNewActuatorDryRun(t *testing.T) {
	act, closer, err := newActuator(config.Default(), zerolog.Nop())
	if err != nil {
		t.Fatalf("newActuator: %v", err)
	}
	defer closer.Close()

	if _, ok := act.(*actuator.Servo); !ok {
		t.Errorf("expected *actuator.Servo, got %T", act)
	}
}

func TestConfigInitWritesDefaults(t *testing.T) {
	resetFlags(t)
	t.Cleanup(func() { forceInit = false })

	cfgFile = filepath.Join(t.TempDir(), "keyservo", "config.yaml")
	if err := configInitCmd.RunE(configInitCmd, nil); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if err := configInitCmd.RunE(configInitCmd, nil); err == nil {
		t.Error("expected second init without --force to fail")
	}

	forceInit = true
	if err := configInitCmd.RunE(configInitCmd, nil); err != nil {
		t.Errorf("config init --force: %v", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Frame.Capacity != config.Default().Frame.Capacity {
		t.Errorf("expected default capacity, got %d", cfg.Frame.Capacity)
	}
}

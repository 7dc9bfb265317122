package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/petems/keyservo/internal/actuator"
	"github.com/petems/keyservo/internal/app"
	"github.com/petems/keyservo/internal/audio"
	"github.com/petems/keyservo/internal/classify"
	"github.com/petems/keyservo/internal/config"
	"github.com/petems/keyservo/internal/logging"
	"github.com/petems/keyservo/internal/permissions"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	inputFile string
	loopInput bool
	dryRun    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the capture, classify and actuate pipeline",
	Long: `Run the pipeline until interrupted.

Examples:
  keyservo run
  keyservo run --input clap.pcm --loop --dry-run
  keyservo run --config ./bench.yaml --log-level debug`,
	RunE: runPipeline,
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&inputFile, "input", "", "read raw 16-bit little-endian mono PCM from a file instead of the microphone")
	cmd.Flags().BoolVar(&loopInput, "loop", false, "restart --input from the beginning at end of file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log servo moves instead of driving PWM hardware")
}

func init() {
	addRunFlags(runCmd)
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if inputFile != "" {
		cfg.Audio.Source = config.SourceFile
		cfg.Audio.File = inputFile
		cfg.Audio.Loop = loopInput
	}
	if dryRun {
		cfg.Actuator.Kind = config.ActuatorLog
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.NewWithLevel(cfg.LogLevel)

	src, err := newSource(cfg, log)
	if err != nil {
		return err
	}

	act, closeAct, err := newActuator(cfg, log)
	if err != nil {
		return err
	}
	defer closeAct.Close()

	application := app.New(app.Config{
		Source:     src,
		Classifier: classify.NewEnergy(cfg.Classifier.FullScaleRMS),
		Actuator:   act,
		Config:     cfg,
		Logger:     log,
	})

	log.Info().Str("version", Version).Str("commit", Commit).Msg("KeyServo starting...")

	if err := application.Start(); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := application.Run(ctx)

	log.Info().Msg("Shutting down...")
	if err := application.Stop(); err != nil && !errors.Is(err, app.ErrNotRunning) {
		log.Error().Err(err).Msg("Shutdown error")
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func newSource(cfg *config.Config, log zerolog.Logger) (audio.Source, error) {
	switch cfg.Audio.Source {
	case config.SourceFile:
		log.Info().Str("file", cfg.Audio.File).Bool("loop", cfg.Audio.Loop).Msg("Reading audio from file")
		return audio.NewFileSource(cfg.Audio.File, cfg.Audio.Loop), nil
	default:
		// macOS requires explicit microphone approval before capture works
		if err := permissions.EnsurePermissions(); err != nil {
			return nil, fmt.Errorf("required permissions not granted: %w", err)
		}
		return audio.NewPortAudioSource(log), nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newActuator returns the servo actuator and a closer for its hardware.
func newActuator(cfg *config.Config, log zerolog.Logger) (actuator.Actuator, io.Closer, error) {
	switch cfg.Actuator.Kind {
	case config.ActuatorPWM:
		pwm, err := actuator.OpenPWM(cfg.Actuator.PWMChip, cfg.Actuator.PWMChannel)
		if err != nil {
			return nil, nil, fmt.Errorf("open pwm: %w", err)
		}
		log.Info().Int("chip", cfg.Actuator.PWMChip).Int("channel", cfg.Actuator.PWMChannel).Msg("Driving servo over PWM")
		return actuator.NewServo(pwm), pwm, nil
	default:
		log.Info().Msg("Dry run: servo moves are logged only")
		return actuator.NewServo(actuator.NewLogPositioner(log)), nopCloser{}, nil
	}
}

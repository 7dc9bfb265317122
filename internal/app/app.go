package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/petems/keyservo/internal/actuator"
	"github.com/petems/keyservo/internal/audio"
	"github.com/petems/keyservo/internal/capture"
	"github.com/petems/keyservo/internal/classify"
	"github.com/petems/keyservo/internal/config"
	"github.com/petems/keyservo/internal/framebuf"
	"github.com/petems/keyservo/internal/observe"
	"github.com/rs/zerolog"
)

var (
	ErrWorkerSpawn    = errors.New("app: worker spawn failed")
	ErrAlreadyRunning = errors.New("app: pipeline already running")
	ErrNotRunning     = errors.New("app: pipeline not running")
)

func spawnError(h *WorkerHandle) error {
	return fmt.Errorf("%w: %s worker is %s", ErrWorkerSpawn, h.Name(), h.State())
}

type Config struct {
	Source     audio.Source
	Classifier classify.Classifier
	Actuator   actuator.Actuator
	Config     *config.Config
	Logger     zerolog.Logger
	Metrics    *observe.Metrics // Optional - defaults to observe.DefaultMetrics()
}

// App owns the capture → classify → actuate pipeline.
type App struct {
	src     audio.Source
	clf     classify.Classifier
	act     actuator.Actuator
	cfg     *config.Config
	log     zerolog.Logger
	metrics *observe.Metrics
	spawn   spawnFunc

	mu sync.Mutex
	p  *pipeline
}

// pipeline is everything created by Start and torn down by Stop.
type pipeline struct {
	buf      *framebuf.Buffer
	cmds     *actuator.Channel
	capture  *capture.Worker
	captureH *WorkerHandle
	actH     *WorkerHandle
}

func New(cfg Config) *App {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &App{
		src:     cfg.Source,
		clf:     cfg.Classifier,
		act:     cfg.Actuator,
		cfg:     cfg.Config,
		log:     cfg.Logger,
		metrics: metrics,
		spawn:   goSpawn,
	}
}

// Start allocates the frame buffer and command channel, opens the source and
// spawns the capture and actuator workers. Any failure tears down what was
// already created; the pipeline never runs partially initialized.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.p != nil {
		return ErrAlreadyRunning
	}

	buf, err := framebuf.New(a.cfg.Frame.Capacity)
	if err != nil {
		return fmt.Errorf("allocate frame buffer: %w", err)
	}

	cmds, err := actuator.NewChannel(a.cfg.Actuator.QueueCapacity)
	if err != nil {
		return errors.Join(
			fmt.Errorf("%w: command channel: %w", framebuf.ErrAllocation, err),
			a.release(buf, nil, false),
		)
	}

	if err := a.src.Open(audio.Config{
		DeviceID:   a.cfg.Audio.DeviceID,
		SampleRate: a.cfg.Audio.SampleRate,
		ChunkBytes: a.cfg.Audio.ChunkBytes,
	}); err != nil {
		if !errors.Is(err, audio.ErrDriverInit) {
			err = fmt.Errorf("%w: %w", audio.ErrDriverInit, err)
		}
		return errors.Join(
			fmt.Errorf("open sample source: %w", err),
			a.release(buf, cmds, false),
		)
	}

	worker := capture.New(a.src, buf, capture.Config{
		ChunkBytes:  a.cfg.Audio.ChunkBytes,
		Gain:        a.cfg.Audio.Gain,
		ReadTimeout: a.cfg.Audio.ReadTimeout,
		LockTimeout: a.cfg.Frame.LockTimeout,
		RetryDelay:  a.cfg.Audio.RetryDelay,
	}, a.log, a.metrics)

	captureCtx, captureCancel := context.WithCancel(context.Background())
	captureH := newWorkerHandle("capture", captureCancel)
	if err := a.spawn(captureH, func() { worker.Run(captureCtx) }); err != nil {
		captureH.terminate()
		return errors.Join(
			fmt.Errorf("spawn capture worker: %w", err),
			a.release(buf, cmds, true),
		)
	}

	actWorker := actuator.NewWorker(cmds, a.act, a.log, a.metrics)
	actCtx, actCancel := context.WithCancel(context.Background())
	actH := newWorkerHandle("actuator", actCancel)
	if err := a.spawn(actH, func() { actWorker.Run(actCtx) }); err != nil {
		actH.terminate()
		a.stopCapture(worker, captureH)
		return errors.Join(
			fmt.Errorf("spawn actuator worker: %w", err),
			a.release(buf, cmds, true),
		)
	}

	a.p = &pipeline{
		buf:      buf,
		cmds:     cmds,
		capture:  worker,
		captureH: captureH,
		actH:     actH,
	}

	a.log.Info().
		Int("frame_capacity", a.cfg.Frame.Capacity).
		Int("queue_capacity", a.cfg.Actuator.QueueCapacity).
		Str("capture_worker", captureH.ID().String()).
		Str("actuator_worker", actH.ID().String()).
		Msg("Pipeline started")
	return nil
}

// stopCapture asks the capture worker to exit and force-terminates it if it
// does not within the configured bound.
func (a *App) stopCapture(w *capture.Worker, h *WorkerHandle) {
	h.transition(Running, Stopping)
	w.RequestStop()

	timer := time.NewTimer(a.cfg.Shutdown.CaptureTimeout)
	defer timer.Stop()

	select {
	case <-h.Done():
	case <-timer.C:
		a.log.Warn().
			Dur("timeout", a.cfg.Shutdown.CaptureTimeout).
			Str("worker", h.ID().String()).
			Msg("Capture worker did not stop in time, force terminating")
		h.forceTerminate()
	}
}

// Stop shuts the pipeline down in bounded time: capture gets a cooperative
// stop with a timeout, the actuator worker is force-terminated, then the
// source, buffer and channel are released.
func (a *App) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.p
	if p == nil {
		return ErrNotRunning
	}
	a.p = nil

	a.log.Info().Msg("Stopping pipeline")

	a.stopCapture(p.capture, p.captureH)

	p.actH.transition(Running, Stopping)
	p.actH.forceTerminate()

	err := a.release(p.buf, p.cmds, true)

	a.log.Info().Bool("capture_forced", p.captureH.Forced()).Msg("Pipeline stopped")
	return err
}

// release closes the source when it was opened, then frees the buffer and
// closes the channel. Every failure is reported.
func (a *App) release(buf *framebuf.Buffer, cmds *actuator.Channel, sourceOpen bool) error {
	var errs []error
	if sourceOpen {
		if err := a.src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sample source: %w", err))
		}
	}
	if err := buf.Release(a.cfg.Frame.LockTimeout); err != nil {
		errs = append(errs, fmt.Errorf("release frame buffer: %w", err))
	}
	if cmds != nil {
		cmds.Close()
	}
	return errors.Join(errs...)
}

// IsRunning reports whether Start has succeeded and Stop has not been called.
func (a *App) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.p != nil
}

// Handles returns the capture and actuator worker handles, or nils when the
// pipeline is not running.
func (a *App) Handles() (captureH, actuatorH *WorkerHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.p == nil {
		return nil, nil
	}
	return a.p.captureH, a.p.actH
}

func (a *App) current() *pipeline {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.p
}

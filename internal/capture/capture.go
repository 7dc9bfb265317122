package capture

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/petems/keyservo/internal/audio"
	"github.com/petems/keyservo/internal/framebuf"
	"github.com/petems/keyservo/internal/observe"
	"github.com/rs/zerolog"
)

// Config holds the capture loop parameters.
type Config struct {
	ChunkBytes  int
	Gain        int
	ReadTimeout time.Duration
	LockTimeout time.Duration
	RetryDelay  time.Duration
}

// Worker reads chunks from a Source, amplifies them and appends them to the
// frame buffer until asked to stop.
type Worker struct {
	src     audio.Source
	buf     *framebuf.Buffer
	cfg     Config
	log     zerolog.Logger
	metrics *observe.Metrics

	stop atomic.Bool
}

// New creates a capture Worker. A nil metrics uses observe.DefaultMetrics.
func New(src audio.Source, buf *framebuf.Buffer, cfg Config, log zerolog.Logger, metrics *observe.Metrics) *Worker {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Millisecond
	}
	return &Worker{
		src:     src,
		buf:     buf,
		cfg:     cfg,
		log:     log.With().Str("component", "capture").Logger(),
		metrics: metrics,
	}
}

// RequestStop sets the stop flag. The loop notices it at the top of its next
// iteration; a read in progress is not interrupted.
func (w *Worker) RequestStop() {
	w.stop.Store(true)
}

// Run is the capture loop. It pins itself to an OS thread so the scheduler
// cannot park it behind classification work.
func (w *Worker) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	raw := make([]byte, w.cfg.ChunkBytes)
	samples := make([]int16, 0, w.cfg.ChunkBytes/2)

	w.log.Debug().Int("chunk_bytes", w.cfg.ChunkBytes).Int("gain", w.cfg.Gain).Msg("Capture worker started")
	defer w.log.Debug().Msg("Capture worker exiting")

	for {
		if w.stop.Load() || ctx.Err() != nil {
			return
		}
		if !w.iterate(ctx, raw, &samples) {
			return
		}
	}
}

// iterate runs one read-amplify-publish cycle. It returns false when the
// worker should exit.
func (w *Worker) iterate(ctx context.Context, raw []byte, samples *[]int16) bool {
	n, err := w.src.Read(raw, w.cfg.ReadTimeout)
	switch {
	case errors.Is(err, audio.ErrClosed):
		w.log.Info().Msg("Source closed")
		return false
	case errors.Is(err, audio.ErrReadTimeout), err == nil && n == 0:
		w.log.Warn().Dur("timeout", w.cfg.ReadTimeout).Msg("Read timed out")
		w.metrics.ReadTimeouts.Add(ctx, 1)
		w.yield(ctx)
		return true
	case err != nil:
		w.log.Error().Err(err).Msg("Read failed")
		w.yield(ctx)
		return true
	}

	if n < len(raw) {
		w.log.Warn().Int("requested", len(raw)).Int("received", n).Msg("Partial read")
		w.metrics.PartialReads.Add(ctx, 1)
	}
	w.metrics.ChunksCaptured.Add(ctx, 1)

	*samples = audio.Decode(*samples, raw[:n])
	if len(*samples) == 0 {
		return true
	}
	audio.ApplyGain(*samples, w.cfg.Gain)

	stats, err := w.buf.Append(*samples, w.cfg.LockTimeout)
	switch {
	case errors.Is(err, framebuf.ErrReleased):
		w.metrics.RecordDrop(ctx, observe.ReasonReleased)
		w.log.Info().Msg("Frame buffer released")
		return false
	case err != nil:
		w.metrics.RecordDrop(ctx, observe.ReasonLockTimeout)
		w.log.Warn().Err(err).Int("samples", len(*samples)).Msg("Dropping chunk")
		return true
	}

	if stats.Frames > 0 {
		w.metrics.FramesReady.Add(ctx, int64(stats.Frames))
		w.log.Debug().Int("frames", stats.Frames).Msg("Frame ready")
	}
	if stats.Overruns > 0 {
		w.metrics.FrameOverruns.Add(ctx, int64(stats.Overruns))
		w.log.Warn().Int("overruns", stats.Overruns).Msg("Classifier behind, replaced unconsumed frame")
	}
	return true
}

func (w *Worker) yield(ctx context.Context) {
	t := time.NewTimer(w.cfg.RetryDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

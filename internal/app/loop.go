package app

import (
	"context"
	"errors"
	"time"

	"github.com/petems/keyservo/internal/actuator"
	"github.com/petems/keyservo/internal/classify"
	"github.com/petems/keyservo/internal/framebuf"
	"github.com/petems/keyservo/internal/observe"
)

// Run is the classification loop. It processes one frame per cycle, strictly
// in order, until ctx is done or the pipeline is stopped. Per-cycle failures
// are logged and skipped.
func (a *App) Run(ctx context.Context) error {
	p := a.current()
	if p == nil {
		return ErrNotRunning
	}

	a.log.Info().
		Int("trigger_index", a.cfg.Classifier.TriggerIndex).
		Float32("threshold", a.cfg.Classifier.Threshold).
		Msg("Classification loop started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := a.cycle(ctx, p)
		switch {
		case err == nil:
		case errors.Is(err, framebuf.ErrReleased):
			a.log.Info().Msg("Classification loop finished")
			return nil
		default:
			return err
		}
	}
}

// cycle waits for one frame, classifies it and enqueues a move when the
// trigger class wins. Only unrecoverable conditions are returned.
func (a *App) cycle(ctx context.Context, p *pipeline) error {
	if err := p.buf.WaitReady(ctx, a.cfg.Frame.WaitTimeout); err != nil {
		if errors.Is(err, framebuf.ErrBufferWaitTimeout) {
			a.log.Warn().Dur("timeout", a.cfg.Frame.WaitTimeout).Msg("No frame ready")
			a.metrics.RecordCycle(ctx, observe.CycleWaitTimeout)
			return nil
		}
		return err
	}

	frame, err := p.buf.Consume(a.cfg.Frame.LockTimeout)
	switch {
	case errors.Is(err, framebuf.ErrNotReady):
		return nil
	case errors.Is(err, framebuf.ErrLockTimeout):
		a.log.Warn().Err(err).Msg("Could not take ready frame")
		a.metrics.RecordCycle(ctx, observe.CycleLockFailed)
		return nil
	case err != nil:
		return err
	}

	start := time.Now()
	res, err := a.clf.Classify(ctx, frame)
	a.metrics.ClassifyDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		a.log.Error().Err(err).Uint64("frame", frame.Seq()).Msg("Classifier failed, skipping cycle")
		a.metrics.RecordCycle(ctx, observe.CycleClassifier)
		return nil
	}

	d := classify.Decide(res.Confidences, a.cfg.Classifier.TriggerIndex, a.cfg.Classifier.Threshold)
	a.log.Debug().
		Uint64("frame", frame.Seq()).
		Str("label", a.label(d.Index)).
		Float32("confidence", d.Confidence).
		Dur("dsp", res.Timing.DSP).
		Dur("classification", res.Timing.Classification).
		Msg("Classified")

	if !d.Trigger {
		a.metrics.RecordCycle(ctx, observe.CycleIdle)
		return nil
	}

	a.log.Info().Str("label", a.label(d.Index)).Float32("confidence", d.Confidence).Msg("Trigger detected")
	a.metrics.RecordCycle(ctx, observe.CycleTriggered)

	cmd := actuator.Move{Delay: a.cfg.Actuator.MoveDelay}
	if err := p.cmds.Send(cmd, a.cfg.Actuator.EnqueueTimeout); err != nil {
		a.log.Warn().Err(err).Str("command", cmd.String()).Msg("Dropping actuator command")
		a.metrics.CommandsDropped.Add(ctx, 1)
		return nil
	}
	a.metrics.CommandsQueued.Add(ctx, 1)
	return nil
}

func (a *App) label(i int) string {
	if i >= 0 && i < len(a.cfg.Classifier.Labels) {
		return a.cfg.Classifier.Labels[i]
	}
	return "unknown"
}

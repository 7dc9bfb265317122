package actuator

import (
	"context"
	"errors"
	"time"

	"github.com/petems/keyservo/internal/observe"
	"github.com/rs/zerolog"
)

// Worker drains a Channel into an Actuator. Each motion sequence completes
// before the next command is received.
type Worker struct {
	ch      *Channel
	act     Actuator
	log     zerolog.Logger
	metrics *observe.Metrics
}

// NewWorker builds a Worker. A nil metrics uses observe.DefaultMetrics.
func NewWorker(ch *Channel, act Actuator, log zerolog.Logger, metrics *observe.Metrics) *Worker {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Worker{
		ch:      ch,
		act:     act,
		log:     log.With().Str("component", "actuator").Logger(),
		metrics: metrics,
	}
}

// Run receives commands until ctx is cancelled or the channel is closed. It
// has no timeout on receive; the owner tears it down by cancelling ctx.
func (w *Worker) Run(ctx context.Context) {
	w.log.Debug().Msg("Actuator worker started")
	for {
		cmd, err := w.ch.Receive(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrChannelClosed) {
				w.log.Error().Err(err).Msg("Receive failed")
			}
			w.log.Debug().Msg("Actuator worker exiting")
			return
		}
		w.execute(ctx, cmd)
	}
}

func (w *Worker) execute(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case Move:
		start := time.Now()
		w.log.Info().Dur("delay", c.Delay).Msg("Moving")
		if err := w.act.Move(c.Delay); err != nil {
			w.log.Error().Err(err).Msg("Move failed")
			return
		}
		w.metrics.Moves.Add(ctx, 1)
		w.log.Debug().Dur("elapsed", time.Since(start)).Msg("Move complete")
	default:
		w.log.Warn().Str("command", cmd.String()).Msg("Unknown command ignored")
	}
}

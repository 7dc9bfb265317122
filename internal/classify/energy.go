package classify

import (
	"context"
	"fmt"
	"math"
	"time"
)

const energyReadChunk = 256

// Energy is a two-class level detector: class 0 is background, class 1 is a
// loud event. Confidence for class 1 is the frame RMS divided by
// FullScaleRMS, capped at 1. It stands in for a trained model when none is
// configured.
type Energy struct {
	FullScaleRMS float64
}

// NewEnergy returns an Energy classifier. fullScaleRMS must be positive.
func NewEnergy(fullScaleRMS float64) *Energy {
	return &Energy{FullScaleRMS: fullScaleRMS}
}

func (e *Energy) Classify(ctx context.Context, sig Signal) (Result, error) {
	if e.FullScaleRMS <= 0 {
		return Result{}, fmt.Errorf("%w: full scale RMS must be positive", ErrClassifier)
	}

	start := time.Now()
	n := sig.Len()
	if n == 0 {
		return Result{}, fmt.Errorf("%w: empty signal", ErrClassifier)
	}

	buf := make([]float32, energyReadChunk)
	var sumSquares float64
	for off := 0; off < n; off += energyReadChunk {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		chunk := buf[:min(energyReadChunk, n-off)]
		if err := sig.Read(off, chunk); err != nil {
			return Result{}, fmt.Errorf("%w: read signal at %d: %v", ErrClassifier, off, err)
		}
		for _, v := range chunk {
			sumSquares += float64(v) * float64(v)
		}
	}
	dsp := time.Since(start)

	rms := math.Sqrt(sumSquares / float64(n))
	level := float32(math.Min(1, rms/e.FullScaleRMS))

	return Result{
		Confidences: []float32{1 - level, level},
		Timing: Timing{
			DSP:            dsp,
			Classification: time.Since(start) - dsp,
		},
	}, nil
}

package classify

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrClassifier wraps any failure reported by a Classifier.
var ErrClassifier = errors.New("classify: classifier failed")

// Signal gives a classifier read access to one frame without copying it.
// Read converts len(out) samples starting at offset to float32.
type Signal interface {
	Len() int
	Read(offset int, out []float32) error
}

// Timing reports how long each classifier stage took.
type Timing struct {
	DSP            time.Duration
	Classification time.Duration
	Anomaly        time.Duration
}

// Result is the per-class confidence vector for one frame.
type Result struct {
	Confidences []float32
	Timing      Timing
}

// Classifier runs inference on a frame. Classify is synchronous and is called
// exactly once per frame.
type Classifier interface {
	Classify(ctx context.Context, sig Signal) (Result, error)
}

// Func adapts a function to the Classifier interface.
type Func func(ctx context.Context, sig Signal) (Result, error)

func (f Func) Classify(ctx context.Context, sig Signal) (Result, error) {
	return f(ctx, sig)
}

// Decision is the outcome of scanning a Result.
type Decision struct {
	Index      int // class with the highest confidence, -1 if none
	Confidence float32
	Trigger    bool
}

// Decide picks the most confident class (first seen wins ties) and reports a
// trigger when it is triggerIndex and strictly above threshold. NaN
// confidences never win.
func Decide(confidences []float32, triggerIndex int, threshold float32) Decision {
	d := Decision{Index: -1}
	for i, c := range confidences {
		if math.IsNaN(float64(c)) {
			continue
		}
		if d.Index == -1 || c > d.Confidence {
			d.Index = i
			d.Confidence = c
		}
	}
	d.Trigger = d.Index >= 0 && d.Index == triggerIndex && d.Confidence > threshold
	return d
}

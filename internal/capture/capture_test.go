package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/petems/keyservo/internal/audio"
	"github.com/petems/keyservo/internal/framebuf"
	"github.com/petems/keyservo/internal/observe"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type step struct {
	samples []int16
	err     error
}

// scriptedSource replays steps, then reports timeouts.
type scriptedSource struct {
	mu    sync.Mutex
	steps []step
	reads int
	block chan struct{} // when set, Read blocks until closed
}

func (s *scriptedSource) Open(audio.Config) error { return nil }
func (s *scriptedSource) Close() error            { return nil }

func (s *scriptedSource) Read(p []byte, timeout time.Duration) (int, error) {
	if s.block != nil {
		<-s.block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if len(s.steps) == 0 {
		time.Sleep(time.Millisecond)
		return 0, audio.ErrReadTimeout
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	if st.err != nil {
		return 0, st.err
	}
	return copy(p, audio.Encode(nil, st.samples)), nil
}

func (s *scriptedSource) remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

func testConfig() Config {
	return Config{
		ChunkBytes:  4,
		Gain:        10,
		ReadTimeout: 10 * time.Millisecond,
		LockTimeout: 10 * time.Millisecond,
		RetryDelay:  time.Millisecond,
	}
}

func runUntilDrained(t *testing.T, w *Worker, src *scriptedSource) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for src.remaining() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("source not drained within 1s")
		}
		time.Sleep(time.Millisecond)
	}
	// Let the last chunk land.
	time.Sleep(5 * time.Millisecond)

	w.RequestStop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestCaptureAppliesGainAndPublishesFrames(t *testing.T) {
	buf, _ := framebuf.New(4)
	src := &scriptedSource{steps: []step{
		{samples: []int16{1, -2}},
		{err: audio.ErrReadTimeout},
		{samples: []int16{3277, -3277}},
	}}

	w := New(src, buf, testConfig(), zerolog.Nop(), nil)
	runUntilDrained(t, w, src)

	f, err := buf.Consume(time.Second)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	got := make([]float32, 4)
	if err := f.Read(0, got); err != nil {
		t.Fatalf("Read: %v", err)
	}

	want := []float32{10, -20, 32767, -32768}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestCapturePartialReadKeepsReceivedSamples(t *testing.T) {
	buf, _ := framebuf.New(3)
	src := &scriptedSource{steps: []step{
		{samples: []int16{1, 2}},
		{samples: []int16{3}}, // partial: 2 of 4 bytes
	}}

	w := New(src, buf, testConfig(), zerolog.Nop(), nil)
	runUntilDrained(t, w, src)

	s, _ := buf.Snapshot(time.Second)
	if !s.Ready || s.Cursor != 0 || s.Frames != 1 {
		t.Fatalf("expected exactly one ready frame from 3 samples, got %+v", s)
	}
}

func TestCaptureDropsChunkOnLockTimeout(t *testing.T) {
	buf, _ := framebuf.New(4)
	src := &scriptedSource{steps: []step{{samples: []int16{1, 2}}}}

	// Hold the buffer lock for the whole run.
	f := holdLock(t, buf)
	defer f()

	metrics, reader := newTestMetrics(t)
	w := New(src, buf, testConfig(), zerolog.Nop(), metrics)
	runUntilDrained(t, w, src)
	f()

	s, err := buf.Snapshot(time.Second)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if s.Cursor != 0 {
		t.Errorf("expected dropped chunk to leave cursor at 0, got %d", s.Cursor)
	}
	if got := counterValue(t, reader, "keyservo.capture.chunks_dropped", "reason", observe.ReasonLockTimeout); got != 1 {
		t.Errorf("expected 1 chunk dropped for lock_timeout, got %d", got)
	}
	if got := counterValue(t, reader, "keyservo.capture.chunks", "", ""); got != 1 {
		t.Errorf("expected 1 chunk captured, got %d", got)
	}
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counterValue sums the data points of an int64 counter, keeping only points
// with attribute key=value when key is set.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s: expected Sum[int64], got %T", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				if key != "" {
					if v, ok := dp.Attributes.Value(attribute.Key(key)); !ok || v.AsString() != value {
						continue
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}

// holdLock keeps the buffer lock held until the returned func is called.
func holdLock(t *testing.T, buf *framebuf.Buffer) func() {
	t.Helper()
	release := make(chan struct{})
	locked := make(chan struct{})
	go func() {
		err := buf.WithLock(time.Second, func() {
			close(locked)
			<-release
		})
		if err != nil {
			t.Errorf("WithLock: %v", err)
		}
	}()
	<-locked
	var once sync.Once
	return func() { once.Do(func() { close(release) }) }
}

func TestCaptureExitsWhenSourceClosed(t *testing.T) {
	buf, _ := framebuf.New(4)
	src := &scriptedSource{steps: []step{{err: audio.ErrClosed}}}

	w := New(src, buf, testConfig(), zerolog.Nop(), nil)
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit on closed source")
	}
}

func TestCaptureExitsWhenBufferReleased(t *testing.T) {
	buf, _ := framebuf.New(4)
	buf.Release(time.Second)
	src := &scriptedSource{steps: []step{{samples: []int16{1, 2}}}}

	w := New(src, buf, testConfig(), zerolog.Nop(), nil)
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit on released buffer")
	}
}

func TestStopFlagCheckedOncePerIteration(t *testing.T) {
	buf, _ := framebuf.New(4)
	src := &scriptedSource{block: make(chan struct{})}

	w := New(src, buf, testConfig(), zerolog.Nop(), nil)
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	w.RequestStop()

	// Blocked mid-read: the flag is not seen until the read returns.
	select {
	case <-done:
		t.Fatal("worker exited while blocked in read")
	case <-time.After(20 * time.Millisecond):
	}

	close(src.block)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after read returned")
	}
}

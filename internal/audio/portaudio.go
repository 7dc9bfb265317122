package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// PortAudioSource captures mono s16 samples from a PortAudio input device.
// A background goroutine runs the blocking stream reads so that Read can
// honour its timeout.
type PortAudioSource struct {
	log zerolog.Logger

	stream  *portaudio.Stream
	chunks  chan []byte
	done    chan struct{}
	stopped chan struct{}
	pending []byte

	closeOnce sync.Once
}

// NewPortAudioSource creates an unopened PortAudio-backed Source.
func NewPortAudioSource(log zerolog.Logger) *PortAudioSource {
	return &PortAudioSource{log: log.With().Str("component", "portaudio").Logger()}
}

func (p *PortAudioSource) Open(cfg Config) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: initialize PortAudio: %v", ErrDriverInit, err)
	}

	device, err := findInputDevice(cfg.DeviceID)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("%w: %v", ErrDriverInit, err)
	}

	// Open stream: mono, configured sample rate, int16
	buffer := make([]int16, cfg.ChunkBytes/2)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 1,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: len(buffer),
	}, buffer)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("%w: open audio stream: %v", ErrDriverInit, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("%w: start audio stream: %v", ErrDriverInit, err)
	}

	p.stream = stream
	p.chunks = make(chan []byte, 4)
	p.done = make(chan struct{})
	p.stopped = make(chan struct{})

	p.log.Info().
		Str("device", device.Name).
		Int("sample_rate", cfg.SampleRate).
		Int("frames_per_buffer", len(buffer)).
		Msg("Audio stream started")

	go p.readLoop(buffer)
	return nil
}

func (p *PortAudioSource) readLoop(buffer []int16) {
	defer close(p.stopped)
	for {
		select {
		case <-p.done:
			return
		default:
		}

		if err := p.stream.Read(); err != nil {
			select {
			case <-p.done:
				return
			default:
			}
			if errors.Is(err, portaudio.InputOverflowed) {
				p.log.Warn().Msg("Input overflowed")
				continue
			}
			p.log.Error().Err(err).Msg("Stream read failed")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		chunk := Encode(nil, buffer)
		select {
		case p.chunks <- chunk:
		case <-p.done:
			return
		default:
			// Drop if the consumer is behind (backpressure)
			p.log.Warn().Int("bytes", len(chunk)).Msg("Capture backlog full, dropping driver chunk")
		}
	}
}

// Read copies up to len(b) bytes of captured audio, waiting at most timeout.
func (p *PortAudioSource) Read(b []byte, timeout time.Duration) (int, error) {
	if p.chunks == nil {
		return 0, ErrClosed
	}
	if len(p.pending) == 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case chunk := <-p.chunks:
			p.pending = chunk
		case <-p.done:
			return 0, ErrClosed
		case <-timer.C:
			return 0, ErrReadTimeout
		}
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *PortAudioSource) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.stream == nil {
			return
		}
		close(p.done)
		if stopErr := p.stream.Stop(); stopErr != nil {
			err = stopErr
		}
		select {
		case <-p.stopped:
		case <-time.After(time.Second):
			p.log.Warn().Msg("Read loop did not exit after stream stop")
		}
		if closeErr := p.stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		portaudio.Terminate()
	})
	return err
}

func findInputDevice(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == deviceID && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", deviceID)
}

// ListDevices returns the PortAudio devices that can capture.
func ListDevices() ([]AudioDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]AudioDevice, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, AudioDevice{
				ID:      d.Name,
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}

	return result, nil
}

package audio

import (
	"errors"
	"time"
)

var (
	// ErrDriverInit is returned by Open when the transport cannot be installed.
	ErrDriverInit = errors.New("audio: driver init failed")
	// ErrReadTimeout is returned by Read when no bytes arrived within the wait.
	ErrReadTimeout = errors.New("audio: read timeout")
	// ErrClosed is returned by Read after Close.
	ErrClosed = errors.New("audio: source closed")
)

// Config describes the stream a Source must deliver: mono signed 16-bit
// little-endian PCM.
type Config struct {
	DeviceID   string
	SampleRate int
	ChunkBytes int
}

// Source is the capture transport. Read waits at most timeout and may return
// fewer bytes than len(p).
type Source interface {
	Open(cfg Config) error
	Read(p []byte, timeout time.Duration) (int, error)
	Close() error
}

// AudioDevice represents an audio input device
type AudioDevice struct {
	ID      string
	Name    string
	Default bool
}

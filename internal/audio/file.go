package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// FileSource replays raw mono s16le PCM from a file, paced at the configured
// sample rate so downstream timing matches a live microphone.
type FileSource struct {
	path string
	loop bool

	mu         sync.Mutex
	f          *os.File
	bytesPerMS float64
	next       time.Time
	closed     bool
}

// NewFileSource creates an unopened FileSource. With loop set, the file
// rewinds at EOF instead of reporting timeouts.
func NewFileSource(path string, loop bool) *FileSource {
	return &FileSource{path: path, loop: loop}
}

func (s *FileSource) Open(cfg Config) error {
	if cfg.SampleRate <= 0 {
		return fmt.Errorf("%w: invalid sample rate %d", ErrDriverInit, cfg.SampleRate)
	}
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDriverInit, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.f = f
	s.bytesPerMS = float64(cfg.SampleRate*2) / 1000
	s.next = time.Now()
	s.closed = false
	return nil
}

// Read returns the next chunk once its wall-clock slot is due. If the slot is
// further away than timeout it waits timeout and reports ErrReadTimeout.
func (s *FileSource) Read(p []byte, timeout time.Duration) (int, error) {
	s.mu.Lock()
	if s.closed || s.f == nil {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	wait := time.Until(s.next)
	s.mu.Unlock()

	if wait > timeout {
		time.Sleep(timeout)
		return 0, ErrReadTimeout
	}
	if wait > 0 {
		time.Sleep(wait)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	n, err := io.ReadFull(s.f, p)
	if (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) && s.loop && n == 0 {
		if _, serr := s.f.Seek(0, io.SeekStart); serr != nil {
			return 0, serr
		}
		n, err = io.ReadFull(s.f, p)
	}

	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		err = nil // short read at end of file
	case errors.Is(err, io.EOF):
		return 0, ErrReadTimeout
	case err != nil:
		return n, err
	}

	s.next = s.next.Add(time.Duration(float64(n) / s.bytesPerMS * float64(time.Millisecond)))
	if now := time.Now(); s.next.Before(now) {
		s.next = now
	}
	return n, nil
}

func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.f == nil {
		return nil
	}
	s.closed = true
	return s.f.Close()
}

package capture

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

// sink is a buffered raw-PCM file writer for one capture stream. Audio
// bytes are appended in arrival order; Close flushes and closes the file
// exactly once.
type sink struct {
	path string

	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	written int64
	closed  bool
}

// newSink creates the capture file and its buffered writer.
func newSink(path string) (*sink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}

	return &sink{
		path:   path,
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
	}, nil
}

// Write appends audio bytes to the capture file. Writes after Close are
// dropped silently: audio may still be in flight when a trailing-silence
// timer or session teardown closes the stream.
func (s *sink) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, nil
	}

	n, err := s.writer.Write(data)
	s.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("failed to write capture data to %s: %w", s.path, err)
	}
	return n, nil
}

// BytesWritten returns the number of bytes appended so far.
func (s *sink) BytesWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Close flushes buffered audio and closes the file. It is idempotent.
func (s *sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	flushErr := s.writer.Flush()
	closeErr := s.file.Close()

	if flushErr != nil {
		return fmt.Errorf("failed to flush capture file %s: %w", s.path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close capture file %s: %w", s.path, closeErr)
	}
	return nil
}

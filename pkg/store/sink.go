package store

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileSink writes each record to its own file in a directory
type FileSink struct {
	config FileSinkConfig
}

// NewFileSink creates a sink rooted at config.Dir
func NewFileSink(config FileSinkConfig) (*FileSink, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("file sink: directory is required")
	}
	if err := os.MkdirAll(config.Dir, 0750); err != nil {
		return nil, fmt.Errorf("file sink: %w", err)
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 32 * 1024
	}
	return &FileSink{config: config}, nil
}

// Open creates (or truncates) the file for key
func (s *FileSink) Open(key RecordKey) (io.WriteCloser, error) {
	if sanitize(key.JobID) == "" {
		return nil, fmt.Errorf("open record %s: %w", key, ErrInvalidName)
	}

	path := filepath.Join(s.config.Dir, key.FileName())
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return nil, fmt.Errorf("open record %s: %w", key, err)
	}

	return &recordFile{
		path:   path,
		file:   file,
		writer: bufio.NewWriterSize(file, s.config.BufferSize),
	}, nil
}

// Dir returns the directory records are written to
func (s *FileSink) Dir() string {
	return s.config.Dir
}

// recordFile is the handle returned by FileSink.Open
type recordFile struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	closed bool
}

func (f *recordFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	return f.writer.Write(p)
}

func (f *recordFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	if err := f.writer.Flush(); err != nil {
		_ = f.file.Close()
		return err
	}
	return f.file.Close()
}

// Abort closes the file without flushing and removes it. It may follow a
// failed Close.
func (f *recordFile) Abort() error {
	if !f.closed {
		f.closed = true
		_ = f.file.Close()
	}
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

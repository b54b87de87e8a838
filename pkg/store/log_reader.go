package store

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
)

// LogReader follows a growing text file line by line. It is used to tail
// operational logs and survives size-based rotation of the followed path.
type LogReader struct {
	file    *os.File
	reader  *bufio.Reader
	offset  int64
	partial []byte
	config  LogReaderConfig
}

// NewLogReader opens the file at the configured offset. A negative
// StartOffset starts at the current end of the file.
func NewLogReader(config LogReaderConfig) (*LogReader, error) {
	r := &LogReader{config: config}
	if err := r.open(config.StartOffset); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *LogReader) open(offset int64) error {
	file, err := os.Open(r.config.FilePath)
	if err != nil {
		return err
	}

	if offset < 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			file.Close()
			return err
		}
		offset = end
	} else if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			file.Close()
			return err
		}
	}

	r.file = file
	r.reader = bufio.NewReader(file)
	r.offset = offset
	r.partial = nil
	return nil
}

// ReadLine returns the next complete line without its terminator. It returns
// io.EOF when no complete line is available yet; a partial line is kept and
// completed by a later call.
func (r *LogReader) ReadLine() (string, error) {
	data, err := r.reader.ReadBytes('\n')
	r.offset += int64(len(data))
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.partial = append(r.partial, data...)
			return "", io.EOF
		}
		return "", err
	}

	if len(r.partial) > 0 {
		data = append(r.partial, data...)
		r.partial = nil
	}
	line := bytes.TrimRight(data, "\r\n")
	return strings.ToValidUTF8(string(line), "�"), nil
}

// Rotated reports whether the followed path now names a different file or
// the file was truncated below the current offset.
func (r *LogReader) Rotated() bool {
	current, err := os.Stat(r.config.FilePath)
	if err != nil {
		return false
	}
	opened, err := r.file.Stat()
	if err != nil {
		return true
	}
	return !os.SameFile(current, opened) || current.Size() < r.offset
}

// Reopen starts following the path from the beginning of the new file
func (r *LogReader) Reopen() error {
	if r.file != nil {
		r.file.Close()
	}
	return r.open(0)
}

// Close closes the log reader
func (r *LogReader) Close() error {
	return r.file.Close()
}

package store

import (
	"io"
	"regexp"
	"strings"
	"time"
)

// RecordKey identifies a job-log record by the ids captured from the stream
type RecordKey struct {
	JobID   string
	JobName string
}

// recordSuffix is the extension of extracted job-log files
const recordSuffix = ".txt"

var (
	unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9#@$._-]`)
	recordFileName  = regexp.MustCompile(`^(JOB\d+)(?:-([^.]+))?(?:\..*)?$`)
)

// FileName returns the deterministic file name for the record, e.g.
// JOB00007-PAYROLL.txt
func (k RecordKey) FileName() string {
	id := sanitize(k.JobID)
	name := sanitize(k.JobName)
	if name == "" {
		return id + recordSuffix
	}
	return id + "-" + name + recordSuffix
}

func (k RecordKey) String() string {
	return k.JobID + "/" + k.JobName
}

func sanitize(s string) string {
	s = unsafeNameChars.ReplaceAllString(strings.TrimSpace(s), "_")
	return strings.Trim(s, ".")
}

// ParseRecordFileName recovers the record key from a file produced by
// RecordKey.FileName. It reports false for names that are not record files.
func ParseRecordFileName(name string) (RecordKey, bool) {
	m := recordFileName.FindStringSubmatch(name)
	if m == nil {
		return RecordKey{}, false
	}
	return RecordKey{JobID: m[1], JobName: strings.TrimSpace(m[2])}, true
}

// Sink is the durable destination for finalized job-log records. The
// returned handle is owned by the caller until Close.
type Sink interface {
	Open(key RecordKey) (io.WriteCloser, error)
}

// Aborter is implemented by record handles that can discard a record
// after a failed write or close. An aborted record leaves no file.
type Aborter interface {
	Abort() error
}

// LogWriterConfig holds configuration for the append-only writer
type LogWriterConfig struct {
	FilePath      string        // Path to the file being appended
	FsyncInterval time.Duration // How often to fsync (0 = every write)
	BufferSize    int           // Write buffer size
}

// LogReaderConfig holds configuration for the log reader
type LogReaderConfig struct {
	FilePath    string // Path to the followed file
	StartOffset int64  // Offset to start reading from, -1 for end of file
}

// FileSinkConfig holds configuration for the record file sink
type FileSinkConfig struct {
	Dir        string // Directory receiving record files
	BufferSize int    // Per-record write buffer size
}

// FileInfo describes an artifact in an output directory
type FileInfo struct {
	Name    string    `json:"file-name"`
	JobName string    `json:"job-name,omitempty"`
	JobID   string    `json:"job-id,omitempty"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
}

// Errors
var (
	ErrInvalidName = &StoreError{"invalid file name"}
	ErrNotFound    = &StoreError{"file not found"}
	ErrClosed      = &StoreError{"writer is closed"}
)

// StoreError represents a store error
type StoreError struct {
	Message string
}

func (e *StoreError) Error() string {
	return e.Message
}

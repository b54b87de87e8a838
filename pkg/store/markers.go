package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ReadyMarker writes the readiness file once per process lifetime, on the
// first real data observed by the ingestion pipeline
type ReadyMarker struct {
	path string
	once sync.Once
	err  error
	now  func() time.Time
}

// NewReadyMarker creates a marker for path. An empty path disables it.
func NewReadyMarker(path string) *ReadyMarker {
	return &ReadyMarker{path: path, now: time.Now}
}

// Signal writes the marker the first time it is called and reports whether
// this call created it
func (m *ReadyMarker) Signal() (bool, error) {
	if m == nil || m.path == "" {
		return false, nil
	}
	created := false
	m.once.Do(func() {
		created = true
		if err := os.MkdirAll(filepath.Dir(m.path), 0750); err != nil {
			m.err = err
			return
		}
		stamp := m.now().UTC().Format(time.RFC3339) + "\n"
		m.err = os.WriteFile(m.path, []byte(stamp), 0640)
	})
	return created, m.err
}

// Clear removes a marker left by an earlier process. Only the owner of the
// ingestion pipeline calls it, before any data is read and again on exit.
func (m *ReadyMarker) Clear() error {
	if m == nil || m.path == "" {
		return nil
	}
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear readiness marker: %w", err)
	}
	return nil
}

// Path returns the marker location
func (m *ReadyMarker) Path() string {
	return m.path
}

// Exists reports whether a regular file exists at path
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// PIDPath returns the liveness file location for a component
func PIDPath(dir, component string) string {
	return filepath.Join(dir, component+".pid")
}

// WritePID records the current process id for a supervisor to find
func WritePID(dir, component string) (string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create pid dir: %w", err)
	}
	path := PIDPath(dir, component)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0640); err != nil {
		return "", fmt.Errorf("write pid file: %w", err)
	}
	return path, nil
}

// RemovePID deletes a liveness file; a missing file is not an error
func RemovePID(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// PIDEntry is one liveness file and its content
type PIDEntry struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ListPIDs reads every *.pid file in dir
func ListPIDs(dir string) ([]PIDEntry, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.pid"))
	if err != nil {
		return nil, err
	}
	entries := make([]PIDEntry, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		content := ""
		if err == nil {
			content = strings.TrimSpace(strings.ToValidUTF8(string(data), "�"))
		}
		entries = append(entries, PIDEntry{Name: filepath.Base(path), Content: content})
	}
	return entries, nil
}

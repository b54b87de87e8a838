package api

import (
	"time"

	"github.com/AdrianIt2306/OpenMVS/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Bind       string
	Port       int
	APIKey     string        // Empty disables the X-API-Key check
	OutDir     string        // Records and archives
	LogDir     string        // Operational logs
	PIDDir     string        // Liveness files
	ReadyFile  string        // Readiness marker
	WatchLog   string        // Log followed by the watch streams, relative to LogDir
	StreamPoll time.Duration // Poll interval while following a log
}

// RecordIndex lists catalogued records. *storage.Catalog implements it.
type RecordIndex interface {
	List(filter storage.Filter) ([]storage.Entry, error)
}

// Options holds optional collaborators of the server
type Options struct {
	Catalog  RecordIndex          // Served under /api/v1/catalog when set
	Registry *prometheus.Registry // Shared with the pipelines; a new one when nil
}

// HealthResponse reports which directories exist and whether the bridge
// has seen data
type HealthResponse struct {
	Status         string `json:"status"`
	BridgeReady    bool   `json:"bridge_ready"`
	SpoolDirExists bool   `json:"spool_dir_exists"`
	LogDirExists   bool   `json:"log_dir_exists"`
	PIDDirExists   bool   `json:"pid_dir_exists"`
}

// ReadyResponse reports the readiness marker
type ReadyResponse struct {
	Ready     bool   `json:"ready"`
	ReadyPath string `json:"ready_path"`
}

// RecordMeta describes a record file and its first lines
type RecordMeta struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mtime"`
	HeadLines []string  `json:"head_lines"`
	JobID     string    `json:"job_id,omitempty"`
	JobName   string    `json:"job_name,omitempty"`
}

// LogTail is the end of an operational log
type LogTail struct {
	Name    string `json:"name"`
	Lines   int    `json:"lines"`
	Content string `json:"content"`
}

// SearchResult reports whether the newest archive contains a query
type SearchResult struct {
	Query   string `json:"query"`
	Archive string `json:"archive"`
	Found   bool   `json:"found"`
}

package api

import (
	"bufio"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/AdrianIt2306/OpenMVS/pkg/codec"
	"github.com/AdrianIt2306/OpenMVS/pkg/storage"
	"github.com/AdrianIt2306/OpenMVS/pkg/store"
)

// Query defaults
const (
	defaultHeadLines  = 8
	defaultTailLines  = 200
	defaultLimitBytes = 64 * 1024
	maxHeadBytes      = 64 * 1024
)

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// handleHealth reports the artifact directories and the readiness marker
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.metrics.RecordHealthCheck(true)
	sendSuccess(w, HealthResponse{
		Status:         "ok",
		BridgeReady:    s.config.ReadyFile != "" && store.Exists(s.config.ReadyFile),
		SpoolDirExists: dirExists(s.config.OutDir),
		LogDirExists:   dirExists(s.config.LogDir),
		PIDDirExists:   dirExists(s.config.PIDDir),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	sendSuccess(w, ReadyResponse{
		Ready:     s.config.ReadyFile != "" && store.Exists(s.config.ReadyFile),
		ReadyPath: s.config.ReadyFile,
	})
}

// handleListRecords lists record files, newest first, optionally filtered
// by job_name and job_id (case-insensitive)
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	files, err := store.ListFiles(s.config.OutDir, store.RecordPattern)
	if err != nil {
		sendError(w, "Failed to list records", http.StatusInternalServerError)
		return
	}

	jobName := strings.TrimSpace(r.URL.Query().Get("job_name"))
	jobID := strings.TrimSpace(r.URL.Query().Get("job_id"))
	out := make([]store.FileInfo, 0, len(files))
	for _, f := range files {
		if jobName != "" && !strings.EqualFold(f.JobName, jobName) {
			continue
		}
		if jobID != "" && !strings.EqualFold(f.JobID, jobID) {
			continue
		}
		out = append(out, f)
	}
	sendSuccess(w, out)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, chi.URLParam(r, "name"), "text/plain; charset=utf-8", "inline")
}

func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if ok, _ := filepath.Match(store.ArchivePattern, name); !ok {
		sendError(w, "Archive not found", http.StatusNotFound)
		return
	}
	s.serveFile(w, r, name, "application/octet-stream", "attachment")
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, name, contentType, disposition string) {
	file, info, err := store.OpenFile(s.config.OutDir, name)
	if err != nil {
		s.sendFileError(w, err)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": info.Name()}))
	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
}

func (s *Server) sendFileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidName):
		sendError(w, "Invalid file name", http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		sendError(w, "File not found", http.StatusNotFound)
	default:
		sendError(w, "Failed to read file", http.StatusInternalServerError)
	}
}

// handleRecordMeta returns size, time, parsed ids and the first lines of a
// record
func (s *Server) handleRecordMeta(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "head_lines", defaultHeadLines)
	if err != nil {
		sendError(w, "Invalid head_lines", http.StatusBadRequest)
		return
	}

	file, info, err := store.OpenFile(s.config.OutDir, chi.URLParam(r, "name"))
	if err != nil {
		s.sendFileError(w, err)
		return
	}
	defer file.Close()

	head, err := headLines(file, n)
	if err != nil {
		sendError(w, "Failed to read record", http.StatusInternalServerError)
		return
	}

	meta := RecordMeta{
		Name:      info.Name(),
		Size:      info.Size(),
		ModTime:   info.ModTime(),
		HeadLines: head,
	}
	if key, ok := store.ParseRecordFileName(info.Name()); ok {
		meta.JobID = key.JobID
		meta.JobName = key.JobName
	}
	sendSuccess(w, meta)
}

// headLines returns the first n lines of r. Text that is not valid UTF-8 is
// read as CP037.
func headLines(r io.Reader, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, maxHeadBytes))
	if err != nil {
		return nil, err
	}

	var text string
	if utf8.Valid(trimPartialRune(data)) {
		text = strings.ToValidUTF8(string(data), "�")
	} else {
		text = codec.EBCDIC.Text(data)
	}

	lines := make([]string, 0, n)
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 4096), maxHeadBytes*4)
	for len(lines) < n && scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	return lines, scanner.Err()
}

// trimPartialRune drops an incomplete UTF-8 sequence cut by the read limit
func trimPartialRune(p []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(p); i++ {
		b := p[len(p)-i]
		if utf8.RuneStart(b) {
			if !utf8.FullRune(p[len(p)-i:]) {
				return p[:len(p)-i]
			}
			break
		}
	}
	return p
}

// handleCatalog lists catalogued records when the catalog is hosted in
// this process
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		sendError(w, "Catalog not available", http.StatusNotFound)
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		sendError(w, "Invalid limit", http.StatusBadRequest)
		return
	}
	entries, err := s.catalog.List(storage.Filter{
		JobName: strings.TrimSpace(r.URL.Query().Get("job_name")),
		JobID:   strings.TrimSpace(r.URL.Query().Get("job_id")),
		Limit:   limit,
	})
	if err != nil {
		sendError(w, "Failed to list catalog", http.StatusInternalServerError)
		return
	}
	sendSuccess(w, entries)
}

func (s *Server) handleListArchives(w http.ResponseWriter, r *http.Request) {
	files, err := store.ListFiles(s.config.OutDir, store.ArchivePattern)
	if err != nil {
		sendError(w, "Failed to list archives", http.StatusInternalServerError)
		return
	}
	sendSuccess(w, files)
}

// handleSearchArchive looks for q in the first limit_bytes of the newest
// archive
func (s *Server) handleSearchArchive(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		sendError(w, "Query parameter q is required", http.StatusBadRequest)
		return
	}
	limit, err := intParam(r, "limit_bytes", defaultLimitBytes)
	if err != nil || limit <= 0 {
		sendError(w, "Invalid limit_bytes", http.StatusBadRequest)
		return
	}

	files, err := store.ListFiles(s.config.OutDir, store.ArchivePattern)
	if err != nil {
		sendError(w, "Failed to list archives", http.StatusInternalServerError)
		return
	}
	if len(files) == 0 {
		sendError(w, "No archive found", http.StatusNotFound)
		return
	}

	found, err := store.ContainsText(files[0].Path, query, int64(limit))
	if err != nil {
		s.sendFileError(w, err)
		return
	}
	sendSuccess(w, SearchResult{Query: query, Archive: files[0].Name, Found: found})
}

// handleLogTail returns the last lines of an operational log
func (s *Server) handleLogTail(w http.ResponseWriter, r *http.Request) {
	lines, err := intParam(r, "lines", defaultTailLines)
	if err != nil || lines < 0 {
		sendError(w, "Invalid lines", http.StatusBadRequest)
		return
	}

	path, err := store.SafeJoin(s.config.LogDir, chi.URLParam(r, "name"))
	if err != nil {
		s.sendFileError(w, err)
		return
	}
	tail, err := store.TailLines(path, lines)
	if err != nil {
		s.sendFileError(w, err)
		return
	}
	sendSuccess(w, LogTail{
		Name:    filepath.Base(path),
		Lines:   lines,
		Content: strings.Join(tail, "\n"),
	})
}

func (s *Server) handlePIDs(w http.ResponseWriter, r *http.Request) {
	entries, err := store.ListPIDs(s.config.PIDDir)
	if err != nil {
		sendError(w, "Failed to list pid files", http.StatusInternalServerError)
		return
	}
	sendSuccess(w, entries)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

package api

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/AdrianIt2306/OpenMVS/pkg/storage"
	"github.com/AdrianIt2306/OpenMVS/pkg/store"
)

type testEnv struct {
	server *Server
	config ServerConfig
	router http.Handler
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0640))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

// setupTestServer lays out an output, log and pid directory the way the
// pipelines leave them
func setupTestServer(t *testing.T, opts Options) *testEnv {
	t.Helper()
	root := t.TempDir()
	config := ServerConfig{
		OutDir:     filepath.Join(root, "spool"),
		LogDir:     filepath.Join(root, "logs"),
		PIDDir:     filepath.Join(root, "pids"),
		ReadyFile:  filepath.Join(root, "pids", "console_bridge.ready"),
		StreamPoll: 10 * time.Millisecond,
	}

	base := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	writeFile(t, filepath.Join(config.OutDir, "JOB00007-PAYROLL.txt"), "line 1\nline 2\nline 3\n", base)
	writeFile(t, filepath.Join(config.OutDir, "JOB00008-BACKUP.txt"), "backup body\n", base.Add(time.Minute))
	writeFile(t, filepath.Join(config.OutDir, "spool_20261017_090000_a.bin"), "old archive", base)
	writeFile(t, filepath.Join(config.OutDir, "spool_20261017_091000_b.bin"), "****A START JOB 1 PAYROLL\n", base.Add(time.Hour))
	writeFile(t, filepath.Join(config.LogDir, "console_bridge.log"), "one\ntwo\nthree\n", base)
	writeFile(t, filepath.Join(config.PIDDir, "console_bridge.pid"), "4242\n", base)

	server := NewServer(config, opts, quietLogger())
	return &testEnv{server: server, config: config, router: server.Router()}
}

func (e *testEnv) get(t *testing.T, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	require.True(t, env.Success, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func TestServer_handleHealth(t *testing.T) {
	env := setupTestServer(t, Options{})

	w := env.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var health HealthResponse
	decodeData(t, w, &health)
	assert.Equal(t, "ok", health.Status)
	assert.False(t, health.BridgeReady)
	assert.True(t, health.SpoolDirExists)
	assert.True(t, health.LogDirExists)
	assert.True(t, health.PIDDirExists)
}

func TestServer_handleReady(t *testing.T) {
	env := setupTestServer(t, Options{})

	var ready ReadyResponse
	decodeData(t, env.get(t, "/ready"), &ready)
	assert.False(t, ready.Ready)
	assert.Equal(t, env.config.ReadyFile, ready.ReadyPath)

	created, err := store.NewReadyMarker(env.config.ReadyFile).Signal()
	require.NoError(t, err)
	require.True(t, created)

	decodeData(t, env.get(t, "/ready"), &ready)
	assert.True(t, ready.Ready)
}

func TestServer_handleListRecords(t *testing.T) {
	env := setupTestServer(t, Options{})

	var files []store.FileInfo
	decodeData(t, env.get(t, "/api/v1/records"), &files)
	require.Len(t, files, 2)
	assert.Equal(t, "JOB00008-BACKUP.txt", files[0].Name, "newest first")
	assert.Equal(t, "JOB00008", files[0].JobID)
	assert.Equal(t, "BACKUP", files[0].JobName)

	decodeData(t, env.get(t, "/api/v1/records?job_name=payroll"), &files)
	require.Len(t, files, 1)
	assert.Equal(t, "JOB00007-PAYROLL.txt", files[0].Name)

	decodeData(t, env.get(t, "/api/v1/records?job_id=job00008&job_name=payroll"), &files)
	assert.Empty(t, files)
}

func TestServer_handleGetRecord(t *testing.T) {
	env := setupTestServer(t, Options{})

	w := env.get(t, "/api/v1/records/JOB00007-PAYROLL.txt")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "line 1\nline 2\nline 3\n", w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "JOB00007-PAYROLL.txt")

	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/v1/records/JOB00099-NONE.txt").Code)
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/v1/records/..").Code)
}

func TestServer_handleRecordMeta(t *testing.T) {
	env := setupTestServer(t, Options{})

	var meta RecordMeta
	decodeData(t, env.get(t, "/api/v1/records/JOB00007-PAYROLL.txt/meta?head_lines=2"), &meta)
	assert.Equal(t, "JOB00007-PAYROLL.txt", meta.Name)
	assert.Equal(t, int64(21), meta.Size)
	assert.Equal(t, []string{"line 1", "line 2"}, meta.HeadLines)
	assert.Equal(t, "JOB00007", meta.JobID)
	assert.Equal(t, "PAYROLL", meta.JobName)

	decodeData(t, env.get(t, "/api/v1/records/JOB00007-PAYROLL.txt/meta"), &meta)
	assert.Len(t, meta.HeadLines, 3)

	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/v1/records/JOB00007-PAYROLL.txt/meta?head_lines=x").Code)
}

func TestServer_handleRecordMeta_EBCDICFallback(t *testing.T) {
	env := setupTestServer(t, Options{})
	encoded, err := charmap.CodePage037.NewEncoder().Bytes([]byte("HELLO\nWORLD"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(env.config.OutDir, "JOB00009-RAW.txt"), encoded, 0640))

	var meta RecordMeta
	decodeData(t, env.get(t, "/api/v1/records/JOB00009-RAW.txt/meta"), &meta)
	assert.Equal(t, []string{"HELLO", "WORLD"}, meta.HeadLines)
}

func TestServer_handleCatalog(t *testing.T) {
	env := setupTestServer(t, Options{})
	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/v1/catalog").Code)

	catalog, err := storage.NewCatalog(filepath.Join(t.TempDir(), "catalog"))
	require.NoError(t, err)
	defer catalog.Close()

	closed := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	for _, e := range []storage.Entry{
		{JobID: "JOB00007", JobName: "PAYROLL", FileName: "JOB00007-PAYROLL.txt", Closed: closed},
		{JobID: "JOB00008", JobName: "BACKUP", FileName: "JOB00008-BACKUP.txt", Closed: closed.Add(time.Minute)},
	} {
		_, err := catalog.Create(e)
		require.NoError(t, err)
	}

	env = setupTestServer(t, Options{Catalog: catalog})
	var entries []storage.Entry
	decodeData(t, env.get(t, "/api/v1/catalog"), &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "JOB00008", entries[0].JobID)

	decodeData(t, env.get(t, "/api/v1/catalog?job_name=Payroll"), &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "JOB00007", entries[0].JobID)

	decodeData(t, env.get(t, "/api/v1/catalog?limit=1"), &entries)
	assert.Len(t, entries, 1)
}

func TestServer_handleArchives(t *testing.T) {
	env := setupTestServer(t, Options{})

	var files []store.FileInfo
	decodeData(t, env.get(t, "/api/v1/archives"), &files)
	require.Len(t, files, 2)
	assert.Equal(t, "spool_20261017_091000_b.bin", files[0].Name)

	w := env.get(t, "/api/v1/archives/spool_20261017_090000_a.bin")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "old archive", w.Body.String())
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Disposition"), "attachment"))

	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/v1/archives/JOB00007-PAYROLL.txt").Code)
}

func TestServer_handleSearchArchive(t *testing.T) {
	env := setupTestServer(t, Options{})

	var result SearchResult
	decodeData(t, env.get(t, "/api/v1/archives/search?q=PAYROLL"), &result)
	assert.True(t, result.Found)
	assert.Equal(t, "spool_20261017_091000_b.bin", result.Archive, "only the newest archive is searched")

	decodeData(t, env.get(t, "/api/v1/archives/search?q=old"), &result)
	assert.False(t, result.Found)

	decodeData(t, env.get(t, "/api/v1/archives/search?q=PAYROLL&limit_bytes=4"), &result)
	assert.False(t, result.Found)

	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/v1/archives/search").Code)
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/v1/archives/search?q=x&limit_bytes=0").Code)

	empty := setupTestServer(t, Options{})
	matches, err := filepath.Glob(filepath.Join(empty.config.OutDir, "spool_*.bin"))
	require.NoError(t, err)
	for _, m := range matches {
		require.NoError(t, os.Remove(m))
	}
	assert.Equal(t, http.StatusNotFound, empty.get(t, "/api/v1/archives/search?q=x").Code)
}

func TestServer_handleLogTail(t *testing.T) {
	env := setupTestServer(t, Options{})

	var tail LogTail
	decodeData(t, env.get(t, "/api/v1/logs/console_bridge.log?lines=2"), &tail)
	assert.Equal(t, "console_bridge.log", tail.Name)
	assert.Equal(t, 2, tail.Lines)
	assert.Equal(t, "two\nthree", tail.Content)

	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/v1/logs/missing.log").Code)
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/v1/logs/console_bridge.log?lines=-1").Code)
}

func TestServer_handlePIDs(t *testing.T) {
	env := setupTestServer(t, Options{})

	var pids []store.PIDEntry
	decodeData(t, env.get(t, "/api/v1/pids"), &pids)
	assert.Equal(t, []store.PIDEntry{{Name: "console_bridge.pid", Content: "4242"}}, pids)
}

func TestServer_APIKey(t *testing.T) {
	env := setupTestServer(t, Options{})
	env.config.APIKey = "secret"
	server := NewServer(env.config, Options{}, quietLogger())
	env.router = server.Router()

	assert.Equal(t, http.StatusUnauthorized, env.get(t, "/api/v1/pids").Code)
	assert.Equal(t, http.StatusOK, env.get(t, "/api/v1/pids", "X-API-Key", "secret").Code)
	assert.Equal(t, http.StatusOK, env.get(t, "/health").Code, "health checks stay open")
}

func TestServer_Metrics(t *testing.T) {
	env := setupTestServer(t, Options{})
	env.get(t, "/api/v1/records")

	w := env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `openmvs_http_requests_total{endpoint="/api/v1/records",method="GET",status_code="200"} 1`)
}

func TestServer_GzipResponses(t *testing.T) {
	env := setupTestServer(t, Options{})
	body := strings.Repeat("JES2 OUTPUT LINE\n", 512)
	require.NoError(t, os.WriteFile(filepath.Join(env.config.OutDir, "JOB00010-LARGE.txt"), []byte(body), 0640))

	w := env.get(t, "/api/v1/records/JOB00010-LARGE.txt", "Accept-Encoding", "gzip")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, body, string(plain))
}

package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogWriter(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "log_writer_test")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	filePath := filepath.Join(tmpDir, "spool.bin")

	writer, err := NewLogWriter(LogWriterConfig{
		FilePath:      filePath,
		FsyncInterval: 0, // Immediate fsync
		BufferSize:    4096,
	})
	require.NoError(t, err)
	assert.NotNil(t, writer)

	// Verify file was created
	assert.FileExists(t, filePath)

	// Verify initial size is 0
	assert.Equal(t, int64(0), writer.Size())
	assert.Equal(t, filePath, writer.Path())

	err = writer.Close()
	assert.NoError(t, err)
}

func TestNewLogWriter_DirectoryCreation(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "log_writer_dir_test")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	nestedDir := filepath.Join(tmpDir, "nested", "deep", "path")
	filePath := filepath.Join(nestedDir, "spool.bin")

	writer, err := NewLogWriter(LogWriterConfig{FilePath: filePath})
	require.NoError(t, err)

	// Verify directory was created
	assert.DirExists(t, nestedDir)

	assert.NoError(t, writer.Close())
}

func TestLogWriter_AppendIsVerbatim(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "spool.bin")

	writer, err := NewLogWriter(LogWriterConfig{FilePath: filePath, BufferSize: 16})
	require.NoError(t, err)

	chunks := [][]byte{
		[]byte("****A  START"),
		{0x00, 0xff, 0x40, '\r', '\n'},
		[]byte(strings.Repeat("x", 100)),
	}

	var want []byte
	for i, chunk := range chunks {
		offset, err := writer.Append(chunk)
		require.NoError(t, err)
		assert.Equal(t, int64(len(want)), offset, "chunk %d offset", i)
		want = append(want, chunk...)
	}
	assert.Equal(t, int64(len(want)), writer.Size())
	require.NoError(t, writer.Close())

	got, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLogWriter_AppendsToExistingFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "spool.bin")
	require.NoError(t, os.WriteFile(filePath, []byte("old"), 0640))

	writer, err := NewLogWriter(LogWriterConfig{FilePath: filePath})
	require.NoError(t, err)
	assert.Equal(t, int64(3), writer.Size())

	_, err = writer.Write([]byte("new"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	got, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, "oldnew", string(got))
}

func TestLogWriter_FsyncInterval(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "spool.bin")

	writer, err := NewLogWriter(LogWriterConfig{
		FilePath:      filePath,
		FsyncInterval: 10 * time.Millisecond,
		BufferSize:    4096,
	})
	require.NoError(t, err)
	defer writer.Close()

	_, err = writer.Append([]byte("buffered"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(filePath)
		return err == nil && string(data) == "buffered"
	}, time.Second, 5*time.Millisecond)
}

func TestLogWriter_Discard(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "spool.bin")

	writer, err := NewLogWriter(LogWriterConfig{FilePath: filePath})
	require.NoError(t, err)
	require.NoError(t, writer.Discard())

	assert.NoFileExists(t, filePath)

	_, err = writer.Append([]byte("late"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestArchivePath(t *testing.T) {
	started := time.Date(2026, 10, 17, 9, 30, 5, 0, time.UTC)
	path := ArchivePath("/srv/spool", "2Gq3", started)

	assert.Equal(t, filepath.Join("/srv/spool", "spool_20261017_093005_2Gq3.bin"), path)

	matched, err := filepath.Match(ArchivePattern, filepath.Base(path))
	require.NoError(t, err)
	assert.True(t, matched)
}

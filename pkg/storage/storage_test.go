package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openCatalog(t *testing.T) *Catalog {
	t.Helper()
	catalog, err := NewCatalog(filepath.Join(t.TempDir(), "catalog"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })
	return catalog
}

func TestCatalog_CreateRead(t *testing.T) {
	catalog := openCatalog(t)
	closed := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

	stored, err := catalog.Create(Entry{
		JobID:      "JOB00007",
		JobName:    "PAYROLL",
		FileName:   "JOB00007-PAYROLL.txt",
		Size:       24,
		Opened:     closed.Add(-time.Second),
		Closed:     closed,
		Terminated: true,
	})
	require.NoError(t, err)
	assert.False(t, stored.ID.IsNil())
	assert.True(t, stored.ID.Time().Equal(closed))

	got, err := catalog.Read(stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "PAYROLL", got.JobName)
	assert.Equal(t, int64(24), got.Size)
	assert.True(t, got.Closed.Equal(closed))
	assert.Equal(t, stored.ID, got.ID)
}

func TestCatalog_ReadMissing(t *testing.T) {
	catalog := openCatalog(t)
	_, err := catalog.Read(ksuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCatalog_ListNewestFirstWithFilters(t *testing.T) {
	catalog := openCatalog(t)
	base := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)

	jobs := []struct{ id, name string }{
		{"JOB00001", "ECHO"},
		{"JOB00002", "PAYROLL"},
		{"JOB00003", "payroll"},
	}
	for i, job := range jobs {
		_, err := catalog.Create(Entry{
			JobID:   job.id,
			JobName: job.name,
			Closed:  base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	all, err := catalog.List(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "JOB00003", all[0].JobID)
	assert.Equal(t, "JOB00001", all[2].JobID)

	payroll, err := catalog.List(Filter{JobName: "Payroll"})
	require.NoError(t, err)
	require.Len(t, payroll, 2)
	assert.Equal(t, "JOB00003", payroll[0].JobID)

	byID, err := catalog.List(Filter{JobID: "job00001"})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "ECHO", byID[0].JobName)

	limited, err := catalog.List(Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "JOB00003", limited[0].JobID)
}

func TestCatalog_Delete(t *testing.T) {
	catalog := openCatalog(t)

	stored, err := catalog.Create(Entry{JobID: "JOB00009", JobName: "TEMP"})
	require.NoError(t, err)
	require.NoError(t, catalog.Delete(stored.ID))

	_, err = catalog.Read(stored.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	empty, err := catalog.List(Filter{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCatalog_ReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog")

	catalog, err := NewCatalog(path)
	require.NoError(t, err)
	_, err = catalog.Create(Entry{JobID: "JOB00004", JobName: "KEEP"})
	require.NoError(t, err)
	require.NoError(t, catalog.Close())

	catalog, err = NewCatalog(path)
	require.NoError(t, err)
	defer catalog.Close()

	entries, err := catalog.List(Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "KEEP", entries[0].JobName)
}

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/segmentio/ksuid"
)

// ErrNotFound is returned when an entry does not exist
var ErrNotFound = errors.New("catalog entry not found")

// Entry describes one closed job-log record
type Entry struct {
	ID         ksuid.KSUID `json:"id"`
	JobID      string      `json:"job_id"`
	JobName    string      `json:"job_name"`
	FileName   string      `json:"file_name"`
	Size       int64       `json:"size"`
	SessionID  string      `json:"session_id,omitempty"`
	Opened     time.Time   `json:"opened"`
	Closed     time.Time   `json:"closed"`
	Terminated bool        `json:"terminated"`
}

// Filter narrows a listing. Empty fields match everything.
type Filter struct {
	JobName string
	JobID   string
	Limit   int
}

func (f Filter) match(e Entry) bool {
	if f.JobName != "" && !strings.EqualFold(f.JobName, e.JobName) {
		return false
	}
	if f.JobID != "" && !strings.EqualFold(f.JobID, e.JobID) {
		return false
	}
	return true
}

// Catalog persists record entries in Pebble. Keys are KSUIDs derived from
// the close time, so key order is chronological.
type Catalog struct {
	db *pebble.DB
}

// NewCatalog opens (or creates) the catalog at path
func NewCatalog(path string) (*Catalog, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	return &Catalog{db: db}, nil
}

// Create stores entry under a new id and returns the stored entry
func (c *Catalog) Create(entry Entry) (Entry, error) {
	if entry.Closed.IsZero() {
		entry.Closed = time.Now()
	}
	id, err := ksuid.NewRandomWithTime(entry.Closed)
	if err != nil {
		return Entry{}, err
	}
	entry.ID = id

	data, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, err
	}
	if err := c.db.Set(id.Bytes(), data, pebble.Sync); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Read returns the entry stored under id
func (c *Catalog) Read(id ksuid.KSUID) (Entry, error) {
	data, closer, err := c.db.Get(id.Bytes())
	if errors.Is(err, pebble.ErrNotFound) {
		return Entry{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Entry{}, err
	}
	defer closer.Close()

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode entry %s: %w", id, err)
	}
	return entry, nil
}

// Delete removes the entry stored under id
func (c *Catalog) Delete(id ksuid.KSUID) error {
	return c.db.Delete(id.Bytes(), pebble.Sync)
}

// List returns matching entries, newest first
func (c *Catalog) List(filter Filter) ([]Entry, error) {
	iter, err := c.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	entries := []Entry{}
	for valid := iter.Last(); valid; valid = iter.Prev() {
		var entry Entry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		if !filter.match(entry) {
			continue
		}
		entries = append(entries, entry)
		if filter.Limit > 0 && len(entries) >= filter.Limit {
			break
		}
	}
	return entries, iter.Error()
}

// Close closes the underlying database
func (c *Catalog) Close() error {
	return c.db.Close()
}

package framing

import (
	"io"
	"log/slog"
	"time"

	"github.com/AdrianIt2306/OpenMVS/pkg/store"
)

// State is the position of the Engine in the record lifecycle
type State int

const (
	// Idle means no record is open; bytes are scanned for a start marker.
	Idle State = iota
	// Open means a start marker was seen and the job id is still unknown.
	Open
	// Identified means the record has a key and body bytes are flushed.
	Identified
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Open:
		return "open"
	case Identified:
		return "identified"
	default:
		return "unknown"
	}
}

// AbandonReason explains why a record produced no complete file
type AbandonReason string

const (
	AbandonNoID      AbandonReason = "end marker before job id"
	AbandonSessionID AbandonReason = "session ended before job id"
	AbandonSink      AbandonReason = "sink failure"
)

// Record describes a finalized record
type Record struct {
	Key        store.RecordKey
	Bytes      int64
	Opened     time.Time
	Closed     time.Time
	Terminated bool // false when the session ended before the end marker
}

// Observer receives record lifecycle notifications
type Observer interface {
	RecordOpened(name string)
	RecordClosed(rec Record)
	RecordAbandoned(name string, reason AbandonReason)
}

// NoopObserver ignores every notification
type NoopObserver struct{}

func (NoopObserver) RecordOpened(string)                   {}
func (NoopObserver) RecordClosed(Record)                   {}
func (NoopObserver) RecordAbandoned(string, AbandonReason) {}

// Config holds the collaborators of an Engine
type Config struct {
	Dialect  Dialect
	Sink     store.Sink
	Observer Observer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Engine turns an unbounded, arbitrarily chunked byte stream into
// discrete records. Output does not depend on how the stream is split:
// markers are only matched inside complete lines and a trailing '\r' is
// held back until the next byte tells whether it starts a "\r\n".
//
// An Engine is owned by one session and is not safe for concurrent use.
type Engine struct {
	dialect  Dialect
	sink     store.Sink
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	buf    []byte
	prev   byte // last consumed byte
	mid    bool // buf starts inside a line, after prev
	search []byte
	state  State
	name   string
	key    store.RecordKey
	handle io.WriteCloser
	opened time.Time
	bytes  int64
}

// NewEngine creates an idle engine
func NewEngine(config Config) *Engine {
	e := &Engine{
		dialect:  config.Dialect,
		sink:     config.Sink,
		observer: config.Observer,
		logger:   config.Logger,
		now:      config.Now,
	}
	if e.dialect == nil {
		e.dialect = DefaultDialect()
	}
	if e.observer == nil {
		e.observer = NoopObserver{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// State returns the current state
func (e *Engine) State() State {
	return e.state
}

// Buffered returns the number of bytes held but not yet written
func (e *Engine) Buffered() int {
	return len(e.buf)
}

// Feed processes the next chunk of the stream
func (e *Engine) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	e.buf = append(e.buf, chunk...)
	for e.step() {
	}
}

// Finish ends the session. An identified record receives the remaining
// bytes and is closed; an unidentified record is dropped.
func (e *Engine) Finish() {
	switch e.state {
	case Identified:
		// No more bytes will come, so a held-back '\r' terminates the line.
		if m, ok := e.find(e.dialect.FindEnd, len(e.buf)); ok {
			e.write(e.buf[:m.Start])
			e.closeRecord(true)
		} else {
			e.write(e.buf)
			e.closeRecord(false)
		}
	case Open:
		e.abandon(AbandonSessionID)
	}
	e.buf = nil
	e.mid = false
}

// step runs one transition and reports whether another may follow
func (e *Engine) step() bool {
	switch e.state {
	case Idle:
		return e.stepIdle()
	case Open:
		return e.stepOpen()
	case Identified:
		return e.stepIdentified()
	}
	return false
}

func (e *Engine) stepIdle() bool {
	complete := completeEnd(e.buf)
	m, ok := e.find(e.dialect.FindStart, complete)
	if !ok {
		e.consume(complete)
		e.cap(e.dialect.FindStart)
		return false
	}
	end := lineEnd(e.buf, m.End)
	if end < 0 {
		return false
	}
	e.consume(end)

	e.state = Open
	e.name = m.Value
	e.opened = e.now()
	e.logger.Debug("record opened", "job_name", e.name)
	e.observer.RecordOpened(e.name)
	return true
}

// stepOpen waits for the job id. Lines before it are never written, so
// they are dropped once searched.
func (e *Engine) stepOpen() bool {
	complete := completeEnd(e.buf)
	id, idOK := e.find(e.dialect.FindID, complete)
	end, endOK := e.find(e.dialect.FindEnd, complete)

	switch {
	case idOK && (!endOK || id.Start < end.Start):
		next := lineEnd(e.buf, id.End)
		if next < 0 {
			return false
		}
		e.consume(next)
		e.identify(id.Value)
		return true
	case endOK:
		next := lineEnd(e.buf, end.End)
		if next < 0 {
			return false
		}
		e.consume(next)
		e.abandon(AbandonNoID)
		return true
	}

	e.consume(complete)
	e.cap(e.dialect.FindID, e.dialect.FindEnd)
	return false
}

func (e *Engine) stepIdentified() bool {
	complete := completeEnd(e.buf)
	if m, ok := e.find(e.dialect.FindEnd, complete); ok {
		next := lineEnd(e.buf, m.End)
		if next < 0 {
			return false
		}
		e.write(e.buf[:m.Start])
		e.consume(next)
		e.closeRecord(true)
		return true
	}

	e.write(e.buf[:complete])
	e.consume(complete)

	// An unterminated line longer than the window is flushed except for
	// the bytes that could still be the beginning of an end marker.
	if over := e.excess(e.dialect.FindEnd); over > 0 {
		e.write(e.buf[:over])
		e.consume(over)
	}
	return false
}

func (e *Engine) identify(id string) {
	e.key = store.RecordKey{JobID: id, JobName: e.name}
	e.state = Identified

	handle, err := e.sink.Open(e.key)
	if err != nil {
		e.logger.Error("failed to open record, discarding until end marker",
			"job_id", e.key.JobID, "job_name", e.key.JobName, "error", err)
		e.observer.RecordAbandoned(e.name, AbandonSink)
		return
	}
	e.handle = handle
	e.logger.Info("record identified", "job_id", e.key.JobID, "job_name", e.key.JobName)
}

func (e *Engine) write(p []byte) {
	if len(p) == 0 || e.handle == nil {
		return
	}
	n, err := e.handle.Write(p)
	e.bytes += int64(n)
	if err != nil {
		e.logger.Error("failed to write record, discarding until end marker",
			"job_id", e.key.JobID, "job_name", e.key.JobName, "error", err)
		e.discard(false)
		e.observer.RecordAbandoned(e.name, AbandonSink)
	}
}

func (e *Engine) closeRecord(terminated bool) {
	if e.handle != nil {
		rec := Record{
			Key:        e.key,
			Bytes:      e.bytes,
			Opened:     e.opened,
			Closed:     e.now(),
			Terminated: terminated,
		}
		if err := e.handle.Close(); err != nil {
			e.logger.Error("failed to close record",
				"job_id", e.key.JobID, "job_name", e.key.JobName, "error", err)
			e.discard(true)
			e.observer.RecordAbandoned(e.name, AbandonSink)
		} else {
			e.logger.Info("record closed",
				"job_id", rec.Key.JobID,
				"job_name", rec.Key.JobName,
				"bytes", rec.Bytes,
				"terminated", terminated)
			e.observer.RecordClosed(rec)
		}
	}
	e.reset()
}

// discard drops the handle of a failed record. Handles that implement
// store.Aborter remove what was already written.
func (e *Engine) discard(closed bool) {
	if a, ok := e.handle.(store.Aborter); ok {
		if err := a.Abort(); err != nil {
			e.logger.Warn("failed to remove partial record",
				"job_id", e.key.JobID, "job_name", e.key.JobName, "error", err)
		}
	} else if !closed {
		_ = e.handle.Close()
	}
	e.handle = nil
}

func (e *Engine) abandon(reason AbandonReason) {
	e.logger.Warn("record abandoned", "job_name", e.name, "reason", string(reason))
	e.observer.RecordAbandoned(e.name, reason)
	e.reset()
}

func (e *Engine) reset() {
	e.state = Idle
	e.name = ""
	e.key = store.RecordKey{}
	e.handle = nil
	e.opened = time.Time{}
	e.bytes = 0
}

// finder is one of the Dialect search methods
type finder func(p []byte, from int) (Match, bool)

// find searches buf[:limit]. When buf starts inside a line the consumed
// byte before it is passed as lookbehind, so a cut never creates a word
// boundary the unsplit stream does not have.
func (e *Engine) find(fn finder, limit int) (Match, bool) {
	if !e.mid {
		return fn(e.buf[:limit], 0)
	}
	e.search = append(append(e.search[:0], e.prev), e.buf[:limit]...)
	m, ok := fn(e.search, 1)
	if ok {
		m.Start--
		m.End--
	}
	return m, ok
}

// consume drops the first n bytes of the buffer
func (e *Engine) consume(n int) {
	if n <= 0 {
		return
	}
	e.prev = e.buf[n-1]
	e.mid = e.prev != '\n' && e.prev != '\r'
	e.buf = append(e.buf[:0], e.buf[n:]...)
}

// cap bounds an unterminated line to the window
func (e *Engine) cap(finders ...finder) {
	e.consume(e.excess(finders...))
}

// excess returns how many leading bytes exceed the window, never
// reaching past a marker that is already visible in the buffer.
func (e *Engine) excess(finders ...finder) int {
	over := len(e.buf) - e.dialect.Window()
	if over <= 0 {
		return 0
	}
	for _, fn := range finders {
		if m, ok := e.find(fn, len(e.buf)); ok && m.Start < over {
			over = m.Start
		}
	}
	return over
}

// completeEnd returns the offset just past the last line terminator in p.
// A trailing '\r' does not count since it may be the first half of "\r\n".
func completeEnd(p []byte) int {
	for i := len(p) - 1; i >= 0; i-- {
		switch p[i] {
		case '\n':
			return i + 1
		case '\r':
			if i == len(p)-1 {
				continue
			}
			return i + 1
		}
	}
	return 0
}

// lineEnd returns the offset just past the terminator of the line that
// contains from, or -1 if that line is not complete yet.
func lineEnd(p []byte, from int) int {
	for i := from; i < len(p); i++ {
		switch p[i] {
		case '\n':
			return i + 1
		case '\r':
			if i+1 == len(p) {
				return -1
			}
			if p[i+1] == '\n' {
				return i + 2
			}
			return i + 1
		}
	}
	return -1
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/AdrianIt2306/OpenMVS/pkg/codec"
	"github.com/AdrianIt2306/OpenMVS/pkg/framing"
	"github.com/AdrianIt2306/OpenMVS/pkg/metrics"
	"github.com/AdrianIt2306/OpenMVS/pkg/storage"
	"github.com/AdrianIt2306/OpenMVS/pkg/store"
	"github.com/AdrianIt2306/OpenMVS/pkg/transport"
)

// Pipeline names used in logs and metric labels
const (
	SpoolName = "spool"
	WatchName = "watch"
)

// Catalog records closed job logs. *storage.Catalog implements it.
type Catalog interface {
	Create(entry storage.Entry) (storage.Entry, error)
}

// SpoolConfig holds the collaborators of the ingestion pipeline
type SpoolConfig struct {
	OutDir        string          // Directory for records and archives
	Codec         codec.Mode      // Stream codec, native by default
	Dialect       framing.Dialect // Marker strategy, JES2 by default
	Sink          store.Sink      // Defaults to a FileSink on OutDir
	FsyncInterval time.Duration   // Archive fsync interval, 0 syncs every chunk
	BufferSize    int             // Archive write buffer
	NoArchive     bool            // Skip the raw session archive
	Ready         *store.ReadyMarker
	Catalog       Catalog
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Spool archives each session verbatim and extracts job-log records from it
type Spool struct {
	config SpoolConfig
	logger *slog.Logger
}

// NewSpool validates config and creates the pipeline
func NewSpool(config SpoolConfig) (*Spool, error) {
	if config.OutDir == "" {
		return nil, fmt.Errorf("spool: output directory is required")
	}
	if config.Codec == "" {
		config.Codec = codec.ModeNative
	}
	if config.Dialect == nil {
		config.Dialect = framing.DefaultDialect()
	}
	if config.Sink == nil {
		sink, err := store.NewFileSink(store.FileSinkConfig{Dir: config.OutDir})
		if err != nil {
			return nil, fmt.Errorf("spool: %w", err)
		}
		config.Sink = sink
	}
	// A new process has seen no data yet.
	if err := config.Ready.Clear(); err != nil {
		return nil, fmt.Errorf("spool: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Spool{config: config, logger: logger.With("pipeline", SpoolName)}, nil
}

// Close withdraws the readiness signal
func (s *Spool) Close() error {
	return s.config.Ready.Clear()
}

// HandleSession consumes one session until the peer closes it or ctx ends.
// Whatever the engine holds at that point is finalized.
func (s *Spool) HandleSession(ctx context.Context, session *transport.Session) error {
	logger := s.logger.With("session", session.ID.String())

	var archive *store.LogWriter
	if !s.config.NoArchive {
		var err error
		archive, err = store.NewLogWriter(store.LogWriterConfig{
			FilePath:      store.ArchivePath(s.config.OutDir, session.ID.String(), session.Started),
			FsyncInterval: s.config.FsyncInterval,
			BufferSize:    s.config.BufferSize,
		})
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
	}

	stream := codec.NewStream(s.config.Codec)
	engine := framing.NewEngine(framing.Config{
		Dialect:  s.config.Dialect,
		Sink:     s.config.Sink,
		Observer: s.observer(session, logger),
		Logger:   logger,
	})

	var readErr error
	archiveFailed := false
	for {
		chunk, err := session.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}

		if archive != nil && !archiveFailed {
			if _, err := archive.Write(chunk); err != nil {
				archiveFailed = true
				logger.Error("archive write failed", "path", archive.Path(), "error", err)
			}
		}
		s.signalReady(logger)
		if s.config.Metrics != nil {
			s.config.Metrics.AddBytes(SpoolName, len(chunk))
		}
		engine.Feed(stream.Decode(chunk))
	}
	engine.Finish()

	if err := s.finishArchive(archive, logger); err != nil && readErr == nil {
		readErr = err
	}
	if ctx.Err() != nil {
		return nil
	}
	return readErr
}

func (s *Spool) signalReady(logger *slog.Logger) {
	created, err := s.config.Ready.Signal()
	if err != nil {
		logger.Error("readiness marker failed", "path", s.config.Ready.Path(), "error", err)
		return
	}
	if created {
		logger.Info("readiness signalled", "path", s.config.Ready.Path())
	}
}

func (s *Spool) finishArchive(archive *store.LogWriter, logger *slog.Logger) error {
	if archive == nil {
		return nil
	}
	kept := archive.Size() > 0
	var err error
	if kept {
		err = archive.Close()
	} else {
		err = archive.Discard()
	}
	if s.config.Metrics != nil {
		s.config.Metrics.RecordArchive(kept)
	}
	if err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if kept {
		logger.Info("archive closed", "path", archive.Path(), "bytes", archive.Size())
	}
	return nil
}

func (s *Spool) observer(session *transport.Session, logger *slog.Logger) framing.Observer {
	observers := observerList{}
	if s.config.Metrics != nil {
		observers = append(observers, s.config.Metrics.Framing())
	}
	if s.config.Catalog != nil {
		observers = append(observers, &catalogObserver{
			catalog: s.config.Catalog,
			session: session.ID.String(),
			logger:  logger,
		})
	}
	return observers
}

// observerList fans notifications out to several observers
type observerList []framing.Observer

func (l observerList) RecordOpened(name string) {
	for _, o := range l {
		o.RecordOpened(name)
	}
}

func (l observerList) RecordClosed(rec framing.Record) {
	for _, o := range l {
		o.RecordClosed(rec)
	}
}

func (l observerList) RecordAbandoned(name string, reason framing.AbandonReason) {
	for _, o := range l {
		o.RecordAbandoned(name, reason)
	}
}

// catalogObserver stores an entry for every closed record
type catalogObserver struct {
	framing.NoopObserver
	catalog Catalog
	session string
	logger  *slog.Logger
}

func (o *catalogObserver) RecordClosed(rec framing.Record) {
	entry, err := o.catalog.Create(storage.Entry{
		JobID:      rec.Key.JobID,
		JobName:    rec.Key.JobName,
		FileName:   rec.Key.FileName(),
		Size:       rec.Bytes,
		SessionID:  o.session,
		Opened:     rec.Opened,
		Closed:     rec.Closed,
		Terminated: rec.Terminated,
	})
	if err != nil {
		o.logger.Error("catalog write failed", "job_id", rec.Key.JobID, "error", err)
		return
	}
	o.logger.Debug("record catalogued", "id", entry.ID.String(), "file", entry.FileName)
}

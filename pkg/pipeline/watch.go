package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/AdrianIt2306/OpenMVS/pkg/codec"
	"github.com/AdrianIt2306/OpenMVS/pkg/metrics"
	"github.com/AdrianIt2306/OpenMVS/pkg/transport"
	"github.com/AdrianIt2306/OpenMVS/pkg/watch"
)

// WatchConfig holds the collaborators of the console watch pipeline
type WatchConfig struct {
	Codec   codec.Mode
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	OnLine  func(watch.Line) // Optional, called for every line in order
}

// Watch logs every console line and the job lifecycle events among them
type Watch struct {
	config WatchConfig
	logger *slog.Logger
}

// NewWatch creates the pipeline
func NewWatch(config WatchConfig) *Watch {
	if config.Codec == "" {
		config.Codec = codec.ModeNative
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watch{config: config, logger: logger.With("pipeline", WatchName)}
}

// HandleSession classifies the session's lines until it ends
func (w *Watch) HandleSession(ctx context.Context, session *transport.Session) error {
	logger := w.logger.With("session", session.ID.String())
	detector := watch.NewDetector(codec.NewStream(w.config.Codec))

	var readErr error
	for {
		chunk, err := session.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
		if w.config.Metrics != nil {
			w.config.Metrics.AddBytes(WatchName, len(chunk))
		}
		w.emit(logger, detector.Feed(chunk))
	}
	w.emit(logger, detector.Finish())

	if ctx.Err() != nil {
		return nil
	}
	return readErr
}

func (w *Watch) emit(logger *slog.Logger, lines []watch.Line) {
	for _, line := range lines {
		logger.Info("console", "line", line.Text)
		if ev := line.Event; ev != nil {
			switch ev.Kind {
			case watch.Submitted:
				logger.Info("job submitted", "job_name", ev.JobName, "job_id", ev.JobID)
			case watch.Ended:
				logger.Info("job ended", "job_name", ev.JobName)
			}
		}
		if w.config.Metrics != nil {
			w.config.Metrics.RecordLine(line)
		}
		if w.config.OnLine != nil {
			w.config.OnLine(line)
		}
	}
}

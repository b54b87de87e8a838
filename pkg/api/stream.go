package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AdrianIt2306/OpenMVS/pkg/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is open on every route
	},
}

const wsWriteTimeout = 10 * time.Second

// openWatchLog starts following the watch log at its current end, creating
// an empty file when the watcher has not written yet
func (s *Server) openWatchLog() (*store.LogReader, error) {
	path := filepath.Join(s.config.LogDir, s.config.WatchLog)
	if err := os.MkdirAll(s.config.LogDir, 0750); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0640)
	if err != nil {
		return nil, err
	}
	file.Close()
	return store.NewLogReader(store.LogReaderConfig{FilePath: path, StartOffset: -1})
}

// follow sends every line appended to the log until ctx ends or emit fails
func (s *Server) follow(ctx context.Context, reader *store.LogReader, emit func(string) error) error {
	ticker := time.NewTicker(s.config.StreamPoll)
	defer ticker.Stop()

	for {
		line, err := reader.ReadLine()
		switch {
		case err == nil:
			if err := emit(line); err != nil {
				return err
			}
			continue
		case !errors.Is(err, io.EOF):
			return err
		}

		if reader.Rotated() {
			if err := reader.Reopen(); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// handleStreamSSE streams new watch log lines as server-sent events
func (s *Server) handleStreamSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	reader, err := s.openWatchLog()
	if err != nil {
		sendError(w, "Failed to open watch log", http.StatusInternalServerError)
		return
	}
	defer reader.Close()
	defer s.metrics.StreamStarted("sse")()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err = s.follow(r.Context(), reader, func(line string) error {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil && r.Context().Err() == nil {
		s.logger.Debug("sse stream ended", "error", err)
	}
}

// handleStreamWS streams new watch log lines as websocket text messages
func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	reader, err := s.openWatchLog()
	if err != nil {
		sendError(w, "Failed to open watch log", http.StatusInternalServerError)
		return
	}
	defer reader.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	defer s.metrics.StreamStarted("websocket")()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read side only detects the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = s.follow(ctx, reader, func(line string) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, []byte(line))
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Debug("websocket stream ended", "error", err)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

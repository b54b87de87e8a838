package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Default reconnect timings for the spool printer port
const (
	DefaultReadSize       = 64 * 1024
	DefaultDialTimeout    = 5 * time.Second
	DefaultRefusedDelay   = 500 * time.Millisecond
	DefaultErrorDelay     = time.Second
	DefaultReconnectDelay = 200 * time.Millisecond
)

// Dialer opens connections to the emulator
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Handler consumes one connection session. Returning io.EOF or nil means
// the session ended normally.
type Handler interface {
	HandleSession(ctx context.Context, session *Session) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, session *Session) error

func (f HandlerFunc) HandleSession(ctx context.Context, session *Session) error {
	return f(ctx, session)
}

// Observer receives connection lifecycle notifications
type Observer interface {
	DialFailed(refused bool)
	SessionStarted(session *Session)
	SessionEnded(session *Session, err error)
}

// NoopObserver ignores every notification
type NoopObserver struct{}

func (NoopObserver) DialFailed(bool)              {}
func (NoopObserver) SessionStarted(*Session)      {}
func (NoopObserver) SessionEnded(*Session, error) {}

// Config holds the reader settings and collaborators
type Config struct {
	Addr           string        // host:port of the emulator listener
	ReadSize       int           // Maximum bytes per read
	DialTimeout    time.Duration // Per attempt
	RefusedDelay   time.Duration // Wait after a refused connection
	ErrorDelay     time.Duration // Wait after any other failure
	ReconnectDelay time.Duration // Wait after a clean close

	Dialer   Dialer
	Observer Observer
	Logger   *slog.Logger
	Sleep    func(ctx context.Context, d time.Duration) error
}

// Reader keeps a connection to the emulator open for as long as its
// context lives, handing each connection to a Handler as a Session.
type Reader struct {
	config Config
}

// NewReader creates a Reader, filling unset settings with defaults
func NewReader(config Config) (*Reader, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("transport: address is required")
	}
	if config.ReadSize <= 0 {
		config.ReadSize = DefaultReadSize
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	if config.RefusedDelay <= 0 {
		config.RefusedDelay = DefaultRefusedDelay
	}
	if config.ErrorDelay <= 0 {
		config.ErrorDelay = DefaultErrorDelay
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	if config.Dialer == nil {
		config.Dialer = &net.Dialer{Timeout: config.DialTimeout}
	}
	if config.Observer == nil {
		config.Observer = NoopObserver{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Sleep == nil {
		config.Sleep = Sleep
	}
	return &Reader{config: config}, nil
}

// Addr returns the address the reader connects to
func (r *Reader) Addr() string {
	return r.config.Addr
}

// Run connects, serves and reconnects until ctx is cancelled. It never
// returns because of a connection error; cancellation returns nil.
func (r *Reader) Run(ctx context.Context, handler Handler) error {
	logger := r.config.Logger.With("addr", r.config.Addr)
	logger.Info("reader started")
	defer logger.Info("reader stopped")

	for ctx.Err() == nil {
		conn, err := r.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			refused := IsRefused(err)
			r.config.Observer.DialFailed(refused)
			delay := r.config.ErrorDelay
			if refused {
				delay = r.config.RefusedDelay
				logger.Debug("connection refused, retrying", "delay", delay)
			} else {
				logger.Warn("connect failed, retrying", "delay", delay, "error", err)
			}
			if r.config.Sleep(ctx, delay) != nil {
				break
			}
			continue
		}

		delay := r.config.ReconnectDelay
		if err := r.serve(ctx, conn, handler, logger); err != nil {
			delay = r.config.ErrorDelay
		}
		if r.config.Sleep(ctx, delay) != nil {
			break
		}
	}
	return nil
}

func (r *Reader) dial(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, r.config.DialTimeout)
	defer cancel()
	return r.config.Dialer.DialContext(dialCtx, "tcp", r.config.Addr)
}

// serve runs one session and reports an unexpected failure
func (r *Reader) serve(ctx context.Context, conn net.Conn, handler Handler, logger *slog.Logger) error {
	session := newSession(conn, r.config.ReadSize)
	logger = logger.With("session", session.ID.String())

	// Cancellation closes the connection so a blocked read returns.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	logger.Info("connected", "remote", session.Remote)
	r.config.Observer.SessionStarted(session)

	err := handler.HandleSession(ctx, session)
	if ctx.Err() != nil || IsExpectedClose(err) {
		err = nil
	}
	r.config.Observer.SessionEnded(session, err)

	if err != nil {
		logger.Error("session failed", "bytes", session.Bytes(), "duration", session.Duration(), "error", err)
		return err
	}
	logger.Info("disconnected", "bytes", session.Bytes(), "duration", session.Duration())
	return nil
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package transport

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/segmentio/ksuid"
)

// Session is one connection to the emulator
type Session struct {
	ID      ksuid.KSUID
	Remote  string
	Started time.Time

	conn  net.Conn
	buf   []byte
	bytes atomic.Int64
	err   error // deferred until the data read with it is consumed
}

func newSession(conn net.Conn, readSize int) *Session {
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &Session{
		ID:      ksuid.New(),
		Remote:  remote,
		Started: time.Now(),
		conn:    conn,
		buf:     make([]byte, readSize),
	}
}

// Next returns the next chunk read from the connection. The slice is only
// valid until the following call. Next returns io.EOF when the peer closed
// the connection, including by reset.
func (s *Session) Next() ([]byte, error) {
	for s.err == nil {
		n, err := s.conn.Read(s.buf)
		if err != nil {
			s.err = err
			if IsExpectedClose(err) {
				s.err = io.EOF
			}
		}
		if n > 0 {
			s.bytes.Add(int64(n))
			return s.buf[:n], nil
		}
	}
	return nil, s.err
}

// Bytes returns how many bytes were read so far
func (s *Session) Bytes() int64 {
	return s.bytes.Load()
}

// Duration returns the time since the session started
func (s *Session) Duration() time.Duration {
	return time.Since(s.Started).Round(time.Millisecond)
}

// IsRefused reports whether err means nothing listens on the address
func IsRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// IsExpectedClose reports whether err is a normal end of a connection:
// EOF, a closed socket, or a peer that reset or went away.
func IsExpectedClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

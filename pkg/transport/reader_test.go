package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sleeper records requested delays and cancels the run after a number
// of them
type sleeper struct {
	mu     sync.Mutex
	delays []time.Duration
	after  int
	cancel context.CancelFunc
}

func (s *sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	n := len(s.delays)
	s.mu.Unlock()
	if n >= s.after {
		s.cancel()
	}
	return ctx.Err()
}

type fakeDialer struct {
	err   error
	calls int
}

func (d *fakeDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	d.calls++
	return nil, d.err
}

type countingObserver struct {
	mu       sync.Mutex
	refused  int
	failed   int
	started  int
	ended    int
	lastErrs []error
}

func (o *countingObserver) DialFailed(refused bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if refused {
		o.refused++
	} else {
		o.failed++
	}
}

func (o *countingObserver) SessionStarted(*Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *countingObserver) SessionEnded(_ *Session, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended++
	o.lastErrs = append(o.lastErrs, err)
}

func drain(got *[]string) HandlerFunc {
	return func(ctx context.Context, s *Session) error {
		var b bytes.Buffer
		for {
			chunk, err := s.Next()
			if errors.Is(err, io.EOF) {
				*got = append(*got, b.String())
				return nil
			}
			if err != nil {
				return err
			}
			b.Write(chunk)
		}
	}
}

func TestReader_ReconnectsAfterCleanClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for _, msg := range []string{"first session", "second session"} {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_, _ = conn.Write([]byte(msg))
			_ = conn.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sl := &sleeper{after: 2, cancel: cancel}
	obs := &countingObserver{}
	reader, err := NewReader(Config{
		Addr:     ln.Addr().String(),
		ReadSize: 4,
		Sleep:    sl.Sleep,
		Observer: obs,
	})
	require.NoError(t, err)

	var got []string
	require.NoError(t, reader.Run(ctx, drain(&got)))

	assert.Equal(t, []string{"first session", "second session"}, got)
	assert.Equal(t, []time.Duration{DefaultReconnectDelay, DefaultReconnectDelay}, sl.delays)
	assert.Equal(t, 2, obs.started)
	assert.Equal(t, 2, obs.ended)
	assert.Equal(t, []error{nil, nil}, obs.lastErrs)
}

func TestReader_RefusedUsesRefusedDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	dialer := &fakeDialer{err: refused}
	sl := &sleeper{after: 3, cancel: cancel}
	obs := &countingObserver{}

	reader, err := NewReader(Config{
		Addr:         "127.0.0.1:5000",
		RefusedDelay: 700 * time.Millisecond,
		Dialer:       dialer,
		Sleep:        sl.Sleep,
		Observer:     obs,
	})
	require.NoError(t, err)
	require.NoError(t, reader.Run(ctx, drain(new([]string))))

	assert.Equal(t, 3, dialer.calls)
	assert.Equal(t, []time.Duration{700 * time.Millisecond, 700 * time.Millisecond, 700 * time.Millisecond}, sl.delays)
	assert.Equal(t, 3, obs.refused)
	assert.Equal(t, 0, obs.failed)
}

func TestReader_OtherDialErrorUsesErrorDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialer := &fakeDialer{err: errors.New("no route to host")}
	sl := &sleeper{after: 2, cancel: cancel}

	reader, err := NewReader(Config{Addr: "10.0.0.1:5000", Dialer: dialer, Sleep: sl.Sleep})
	require.NoError(t, err)
	require.NoError(t, reader.Run(ctx, drain(new([]string))))

	assert.Equal(t, []time.Duration{DefaultErrorDelay, DefaultErrorDelay}, sl.delays)
}

func TestReader_HandlerErrorUsesErrorDelay(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("x"))
		time.Sleep(100 * time.Millisecond)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sl := &sleeper{after: 1, cancel: cancel}
	obs := &countingObserver{}
	reader, err := NewReader(Config{Addr: ln.Addr().String(), Sleep: sl.Sleep, Observer: obs})
	require.NoError(t, err)

	failure := errors.New("archive unavailable")
	handler := HandlerFunc(func(ctx context.Context, s *Session) error {
		if _, err := s.Next(); err != nil {
			return err
		}
		return failure
	})
	require.NoError(t, reader.Run(ctx, handler))

	assert.Equal(t, []time.Duration{DefaultErrorDelay}, sl.delays)
	require.Len(t, obs.lastErrs, 1)
	assert.ErrorIs(t, obs.lastErrs[0], failure)
}

func TestReader_CancelDuringRead(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	held := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		held <- conn
	}()
	defer func() {
		select {
		case conn := <-held:
			conn.Close()
		default:
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	obs := &countingObserver{}
	reader, err := NewReader(Config{Addr: ln.Addr().String(), Observer: obs})
	require.NoError(t, err)

	handler := HandlerFunc(func(ctx context.Context, s *Session) error {
		go cancel()
		_, err := s.Next()
		return err
	})

	done := make(chan error, 1)
	go func() { done <- reader.Run(ctx, handler) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not stop after cancellation")
	}
	assert.Equal(t, []error{nil}, obs.lastErrs)
}

func TestNewReader_Defaults(t *testing.T) {
	_, err := NewReader(Config{})
	assert.Error(t, err)

	reader, err := NewReader(Config{Addr: "127.0.0.1:5002"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5002", reader.Addr())
	assert.Equal(t, DefaultReadSize, reader.config.ReadSize)
	assert.Equal(t, DefaultRefusedDelay, reader.config.RefusedDelay)
	assert.Equal(t, DefaultReconnectDelay, reader.config.ReconnectDelay)
}

func TestSession_NextDefersErrorUntilDataConsumed(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		_, _ = server.Write([]byte("abcdef"))
		_ = server.Close()
	}()

	session := newSession(client, 4)
	first, err := session.Next()
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(first))

	second, err := session.Next()
	require.NoError(t, err)
	assert.Equal(t, "ef", string(second))

	_, err = session.Next()
	assert.ErrorIs(t, err, io.EOF)
	_, err = session.Next()
	assert.ErrorIs(t, err, io.EOF, "EOF is sticky")
	assert.Equal(t, int64(6), session.Bytes())
}

func TestIsExpectedClose(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{io.EOF, true},
		{fmt.Errorf("read: %w", io.EOF), true},
		{net.ErrClosed, true},
		{&net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, true},
		{&net.OpError{Op: "write", Err: os.NewSyscallError("write", syscall.EPIPE)}, true},
		{&net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ETIMEDOUT)}, false},
		{errors.New("boom"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsExpectedClose(tt.err), "%v", tt.err)
	}
}

func TestIsRefused(t *testing.T) {
	assert.True(t, IsRefused(&net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}))
	assert.False(t, IsRefused(errors.New("refused")))
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

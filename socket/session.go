package socket

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/joncooperworks/secretagent/crypto/openssh"
	"github.com/joncooperworks/secretagent/provenance"
)

// Session is one client connection.
type Session struct {
	conn net.Conn
	pid  int
	prov provenance.Provenance

	writeMu sync.Mutex

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

// NewSession wraps conn. pid is 0 when the peer could not be identified.
func NewSession(conn net.Conn, pid int, prov provenance.Provenance) *Session {
	return &Session{conn: conn, pid: pid, prov: prov}
}

// PID returns the peer's process id, or 0 when unknown.
func (s *Session) PID() int {
	return s.pid
}

// Provenance returns the process chain captured when the client connected.
func (s *Session) Provenance() provenance.Provenance {
	return s.prov
}

// Frames streams complete frames, length header included, in the order the
// client sent them. The channel closes when the client disconnects, when ctx
// is cancelled or when a frame cannot be read; Err reports the last case.
func (s *Session) Frames(ctx context.Context) <-chan []byte {
	frames := make(chan []byte)
	go func() {
		defer close(frames)
		stop := context.AfterFunc(ctx, func() {
			_ = s.conn.SetReadDeadline(time.Now())
		})
		defer stop()

		for {
			payload, err := openssh.ReadFrame(s.conn)
			if err != nil {
				if ctx.Err() == nil && !IsExpectedCloseError(err) {
					s.setErr(err)
				}
				return
			}
			select {
			case frames <- openssh.LengthPrefixed(payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return frames
}

// Err returns the error that ended Frames, or nil for a clean shutdown.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// Write sends one frame to the client.
func (s *Session) Write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(frame)
	return err
}

// Close closes the connection, unblocking any pending read.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

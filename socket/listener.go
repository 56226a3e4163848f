// Package socket owns the agent's Unix domain socket: binding it safely,
// accepting clients, identifying the process behind each connection and
// turning the byte stream into agent frames.
package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joncooperworks/secretagent/provenance"
)

// dialTimeout bounds the liveness dial to an existing socket file.
const dialTimeout = time.Second

// Tracer resolves the provenance of a peer process.
type Tracer interface {
	Trace(pid int) provenance.Provenance
}

// Handler serves one session. The session is closed after it returns.
type Handler func(ctx context.Context, session *Session)

// Listener accepts agent clients on a Unix socket.
type Listener struct {
	path      string
	ln        *net.UnixListener
	tracer    Tracer
	logger    *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Listener.
type Option func(*Listener)

// WithTracer sets the tracer used to resolve each client's provenance.
// Without one, sessions carry an empty provenance.
func WithTracer(tracer Tracer) Option {
	return func(l *Listener) { l.tracer = tracer }
}

// WithLogger sets the listener's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) { l.logger = logger }
}

// Listen binds a Unix socket at path with owner-only permissions.
//
// A leftover socket file from a previous run is removed. If another process is
// still accepting on it, Listen fails with ErrSocketInUse instead.
func Listen(path string, opts ...Option) (*Listener, error) {
	l := &Listener{path: path, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := removeStaleSocket(path); err != nil {
		return nil, err
	}

	restore := restrictUmask()
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	restore()
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	ln.SetUnlinkOnClose(true)
	l.ln = ln

	l.logger.Info("agent socket listening", "path", path)
	return l, nil
}

func removeStaleSocket(path string) error {
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to inspect %s: %w", path, err)
	}
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err == nil {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrSocketInUse, path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket %s: %w", path, err)
	}
	return nil
}

// Path returns the socket path.
func (l *Listener) Path() string {
	return l.path
}

// Accept waits for the next client and returns its session with the peer's
// pid. Provenance is left empty; Trace fills it in.
func (l *Listener) Accept() (*Session, error) {
	conn, err := l.ln.AcceptUnix()
	if err != nil {
		return nil, err
	}

	pid, err := peerPID(conn)
	if err != nil {
		l.logger.Debug("could not identify peer", "error", err)
		return NewSession(conn, 0, provenance.Provenance{}), nil
	}
	return NewSession(conn, pid, provenance.Provenance{}), nil
}

// Trace records the provenance of session's peer. It does nothing when the
// peer is unknown or no tracer is configured.
func (l *Listener) Trace(session *Session) {
	if session.pid <= 0 || l.tracer == nil {
		return
	}
	session.prov = l.tracer.Trace(session.pid)
	l.logger.Debug("accepted client", "pid", session.pid, "origin", session.prov.Origin().DisplayName())
}

// Serve accepts clients until ctx is cancelled, running handler for each
// session on its own goroutine. Each session is traced on that goroutine, so a
// slow trace never holds up the accept loop. Serve closes the listener on
// cancellation and returns once every session has finished.
func (l *Listener) Serve(ctx context.Context, handler Handler) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	var sessions sync.WaitGroup
	for {
		session, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			l.logger.Error("accept failed", "error", err)
			continue
		}

		sessions.Add(1)
		go func() {
			defer sessions.Done()
			defer session.Close()
			l.Trace(session)
			handler(ctx, session)
		}()
	}

	sessions.Wait()
	return nil
}

// Close stops accepting clients and removes the socket file.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.ln.Close()
	})
	return l.closeErr
}

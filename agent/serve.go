package agent

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/joncooperworks/secretagent/socket"
)

// ServeSession answers the session's frames in order until the client
// disconnects or ctx is cancelled. It matches socket.Handler.
func (a *Agent) ServeSession(ctx context.Context, session *socket.Session) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.metrics.SessionStarted()
	logger := a.logger.With("pid", session.PID())
	logger.Debug("session started", "origin", session.Provenance().Origin().DisplayName())

	var limiter *rate.Limiter
	if a.requestsPerSecond > 0 {
		burst := a.burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(a.requestsPerSecond), burst)
	}

	for frame := range session.Frames(ctx) {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}
		response := a.Handle(ctx, frame, session.Provenance())
		if err := session.Write(response); err != nil {
			if !socket.IsExpectedCloseError(err) {
				logger.Warn("failed to write response", "error", err)
			}
			break
		}
	}

	err := session.Err()
	if err != nil {
		logger.Warn("session ended", "error", err)
	} else {
		logger.Debug("session ended")
	}
	a.metrics.SessionEnded(err != nil)
}

package jarust

import (
	"context"

	"github.com/koefmatt/jarust/internal/keepalive"
	"github.com/koefmatt/jarust/internal/router"
	"github.com/koefmatt/jarust/transport"
)

// Session is a cheap value object carrying a server-issued session id and
// a reference to the shared transport it was opened through. Dropping a
// Session does not destroy the server-side session; call Destroy.
type Session struct {
	id        uint64
	transport transport.Transport
	root      *router.Receiver
	keepAlive *keepalive.Scheduler
}

// ID returns the server-issued session id.
func (s *Session) ID() uint64 {
	return s.id
}

// Events returns the receiver for session-scoped root events that have no
// handle to route through (Timeout, Keepalive).
func (s *Session) Events() *router.Receiver {
	return s.root
}

// Attach opens a new handle bound to pluginID within this session.
func (s *Session) Attach(ctx context.Context, pluginID string) (*Handle, error) {
	handleID, rx, err := s.transport.Attach(ctx, s.id, pluginID)
	if err != nil {
		return nil, err
	}
	return &Handle{
		sessionID: s.id,
		id:        handleID,
		transport: s.transport,
		events:    rx,
	}, nil
}

// Destroy tears down the session server-side and stops its keep-alive
// scheduler, if one was started.
func (s *Session) Destroy(ctx context.Context) {
	if s.keepAlive != nil {
		s.keepAlive.Stop()
	}
	s.transport.Destroy(ctx, s.id)
}

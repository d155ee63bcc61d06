// Package jarust is a transport-abstracted client for the Janus WebRTC
// signaling server. A Connection wraps either a WebSocket or REST
// long-poll transport behind one interface; Sessions and Handles opened
// through it are cheap value objects that carry their ids and a reference
// back to that shared transport.
package jarust

import (
	"context"
	"fmt"
	"time"

	"github.com/koefmatt/jarust/internal/config"
	"github.com/koefmatt/jarust/internal/keepalive"
	"github.com/koefmatt/jarust/japrotocol"
	"github.com/koefmatt/jarust/transport"
	"github.com/koefmatt/jarust/transport/rest"
	"github.com/koefmatt/jarust/transport/ws"
)

// Mode selects which concrete transport Dial constructs.
type Mode int

const (
	// ModeWebSocket dials the persistent, event-capable WebSocket transport.
	ModeWebSocket Mode = iota
	// ModeREST dials the HTTP long-poll transport.
	ModeREST
)

// Connection holds a transport.Transport by interface and never branches
// on which concrete implementation it was handed.
type Connection struct {
	transport transport.Transport
}

// NewConnection wraps an already-constructed transport. Library users who
// want to supply a hand-built transport.Transport (a test double, or a
// transport this package does not know about) use this directly instead
// of Dial.
func NewConnection(t transport.Transport) *Connection {
	return &Connection{transport: t}
}

// Dial validates cfg, builds the requested transport, and wraps it in a
// Connection. It is a thin convenience over NewConnection for the two
// transports this module ships.
func Dial(ctx context.Context, cfg *config.ConnectionConfig, mode Mode) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	params := transport.ConnectionParams{
		URL:               cfg.URL,
		APISecret:         cfg.APISecret,
		Namespace:         cfg.ServerRoot,
		Capacity:          cfg.Capacity,
		TransactionLength: cfg.TransactionLength,
	}

	var t transport.Transport
	var err error
	switch mode {
	case ModeWebSocket:
		t, err = ws.Dial(ctx, params)
	case ModeREST:
		t, err = rest.Dial(ctx, params)
	default:
		return nil, fmt.Errorf("jarust: unknown transport mode %d", mode)
	}
	if err != nil {
		return nil, err
	}
	return NewConnection(t), nil
}

// ServerInfo fetches the server's static capability description.
func (c *Connection) ServerInfo(ctx context.Context) (*japrotocol.ServerInfoRsp, error) {
	return c.transport.ServerInfo(ctx)
}

// CreateSession opens a new session and, if kaInterval is positive, starts
// a keep-alive scheduler probing it every kaInterval using probeTimeout as
// each probe's deadline.
func (c *Connection) CreateSession(ctx context.Context, kaInterval, probeTimeout time.Duration) (*Session, error) {
	sessionID, root, err := c.transport.Create(ctx)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:        sessionID,
		transport: c.transport,
		root:      root,
	}
	if kaInterval > 0 {
		s.keepAlive = keepalive.Start(sessionID, kaInterval, probeTimeout, c.transport)
	}
	return s, nil
}

// Close cancels every background task the underlying transport owns and
// invalidates every Session and Handle opened through this Connection.
func (c *Connection) Close() error {
	return c.transport.Close()
}

// Package transport defines the uniform contract (§4.F) every concrete
// transport (WebSocket, REST long-poll) implements, plus the request
// envelopes passed to its send operations. The façade in the root package
// holds a Transport by interface and never branches on which concrete
// implementation it was handed.
package transport

import (
	"context"
	"time"

	"github.com/koefmatt/jarust/internal/router"
	"github.com/koefmatt/jarust/japrotocol"
)

// ConnectionParams configures a transport at construction time.
type ConnectionParams struct {
	URL               string
	APISecret         string
	Namespace         string // server_root, e.g. "janus"
	Capacity          int
	TransactionLength int
}

// HandleMessage is a fire-and-forget request body scoped to a handle.
type HandleMessage struct {
	SessionID uint64
	HandleID  uint64
	Body      map[string]interface{}
}

// HandleMessageWithTimeout adds the caller's deadline to HandleMessage for
// the two SendWaitOn* operations.
type HandleMessageWithTimeout struct {
	HandleMessage
	Timeout time.Duration
}

// HandleMessageWithEstablishment adds a JSEP or RTP establishment payload
// to a fire-and-forget request.
type HandleMessageWithEstablishment struct {
	HandleMessage
	Establishment japrotocol.Establishment
}

// HandleMessageWithEstablishmentAndTimeout combines both extensions for the
// SendWaitOnAckWithEst operation.
type HandleMessageWithEstablishmentAndTimeout struct {
	HandleMessageWithEstablishment
	Timeout time.Duration
}

// Transport is the uniform contract described in §4.F. Every operation
// accepts a context.Context for cancellation/timeout in place of the
// distilled core's bare timeout parameter, which is the idiomatic Go
// equivalent.
type Transport interface {
	// ServerInfo fetches the server's static capability description.
	ServerInfo(ctx context.Context) (*japrotocol.ServerInfoRsp, error)

	// Create opens a new session and returns its server-issued id plus the
	// receiver for session-scoped root events (Timeout, Keepalive) that
	// have no handle to route through.
	Create(ctx context.Context) (uint64, *router.Receiver, error)

	// Attach opens a new handle bound to pluginID within sessionID, and
	// returns its id plus the receiver for its asynchronous events.
	Attach(ctx context.Context, sessionID uint64, pluginID string) (uint64, *router.Receiver, error)

	// Destroy tears down a session server-side. Best-effort: transport
	// errors are logged and ignored, matching §7.
	Destroy(ctx context.Context, sessionID uint64)

	// KeepAlive sends a single liveness probe for sessionID. REST
	// transports implement this as a no-op.
	KeepAlive(ctx context.Context, sessionID uint64, timeout time.Duration) error

	// FireAndForget sends a message without awaiting any reply.
	FireAndForget(ctx context.Context, msg HandleMessage) error

	// SendWaitOnAck sends a message and returns on the first synchronous
	// reply (an Ack, or a plugin Success for transports with no separate
	// ack phase). A Janus error reply is returned as the response value with
	// a nil error; the caller reads it through IsError and AsError.
	SendWaitOnAck(ctx context.Context, msg HandleMessageWithTimeout) (japrotocol.JaResponse, error)

	// SendWaitOnRsp sends a message and returns only on the terminal reply,
	// discarding any intermediate Ack. As with SendWaitOnAck, a Janus error
	// reply is returned as the response value, not as the error.
	SendWaitOnRsp(ctx context.Context, msg HandleMessageWithTimeout) (japrotocol.JaResponse, error)

	// FireAndForgetWithEst is FireAndForget with an establishment payload
	// merged into the request body.
	FireAndForgetWithEst(ctx context.Context, msg HandleMessageWithEstablishment) error

	// SendWaitOnAckWithEst is SendWaitOnAck with an establishment payload
	// merged into the request body.
	SendWaitOnAckWithEst(ctx context.Context, msg HandleMessageWithEstablishmentAndTimeout) (japrotocol.JaResponse, error)

	// Close cancels every background task the transport starts itself (the
	// WebSocket reader and writer, the REST long-poll loops) and waits for
	// them to exit. The WebSocket transport also fails every in-flight
	// waiter with a transport-closed error; REST requests already in flight
	// run on their caller's context and are not cancelled. Keep-alive
	// schedulers are started by the façade and are not stopped by Close.
	Close() error
}

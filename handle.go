package jarust

import (
	"context"
	"time"

	"github.com/koefmatt/jarust/internal/router"
	"github.com/koefmatt/jarust/japrotocol"
	"github.com/koefmatt/jarust/transport"
)

// Handle is a cheap value object carrying a server-issued handle id, its
// owning session id, and a reference to the shared transport it was
// opened through.
type Handle struct {
	sessionID uint64
	id        uint64
	transport transport.Transport
	events    *router.Receiver
}

// ID returns the server-issued handle id.
func (h *Handle) ID() uint64 {
	return h.id
}

// SessionID returns the id of the session this handle belongs to.
func (h *Handle) SessionID() uint64 {
	return h.sessionID
}

// Events returns the receiver for this handle's asynchronous events
// (Event, WebRTCUp, Media, SlowLink, HangUp, Trickle, Detached).
func (h *Handle) Events() *router.Receiver {
	return h.events
}

func (h *Handle) message(body map[string]interface{}) transport.HandleMessage {
	return transport.HandleMessage{SessionID: h.sessionID, HandleID: h.id, Body: body}
}

// FireAndForget sends a message without awaiting any reply.
func (h *Handle) FireAndForget(ctx context.Context, body map[string]interface{}) error {
	return h.transport.FireAndForget(ctx, h.message(body))
}

// SendWaitOnAck sends a message and returns on the first synchronous
// reply.
func (h *Handle) SendWaitOnAck(ctx context.Context, body map[string]interface{}, timeout time.Duration) (japrotocol.JaResponse, error) {
	return h.transport.SendWaitOnAck(ctx, transport.HandleMessageWithTimeout{
		HandleMessage: h.message(body),
		Timeout:       timeout,
	})
}

// SendWaitOnRsp sends a message and returns only on the terminal reply.
func (h *Handle) SendWaitOnRsp(ctx context.Context, body map[string]interface{}, timeout time.Duration) (japrotocol.JaResponse, error) {
	return h.transport.SendWaitOnRsp(ctx, transport.HandleMessageWithTimeout{
		HandleMessage: h.message(body),
		Timeout:       timeout,
	})
}

// FireAndForgetWithEst is FireAndForget with an establishment payload
// merged into the request body.
func (h *Handle) FireAndForgetWithEst(ctx context.Context, body map[string]interface{}, est japrotocol.Establishment) error {
	return h.transport.FireAndForgetWithEst(ctx, transport.HandleMessageWithEstablishment{
		HandleMessage: h.message(body),
		Establishment: est,
	})
}

// SendWaitOnAckWithEst is SendWaitOnAck with an establishment payload
// merged into the request body.
func (h *Handle) SendWaitOnAckWithEst(ctx context.Context, body map[string]interface{}, est japrotocol.Establishment, timeout time.Duration) (japrotocol.JaResponse, error) {
	return h.transport.SendWaitOnAckWithEst(ctx, transport.HandleMessageWithEstablishmentAndTimeout{
		HandleMessageWithEstablishment: transport.HandleMessageWithEstablishment{
			HandleMessage: h.message(body),
			Establishment: est,
		},
		Timeout: timeout,
	})
}

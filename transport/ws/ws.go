// Package ws implements the WebSocket transport (§4.G), the one transport
// capable of server-pushed asynchronous events and keep-alive probes. A
// single writer goroutine serializes outbound frames onto the socket and a
// single reader goroutine demultiplexes inbound frames through the decision
// table in §4.G, grounded on the same writePump/readPump split the teacher
// uses for its own control-plane WebSocket client.
package ws

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	jaerrors "github.com/koefmatt/jarust/internal/errors"
	"github.com/koefmatt/jarust/internal/napmap"
	"github.com/koefmatt/jarust/internal/router"
	"github.com/koefmatt/jarust/internal/txgen"
	"github.com/koefmatt/jarust/internal/txmanager"
	"github.com/koefmatt/jarust/japrotocol"
	"github.com/koefmatt/jarust/transport"
)

const subprotocol = "janus-protocol"

// outboundFrame is a queued write, delivered to the writer goroutine over
// writeCh so outbound frames are never interleaved on the socket.
type outboundFrame struct {
	body map[string]interface{}
	errc chan error
}

// Transport is the WebSocket implementation of transport.Transport.
type Transport struct {
	apiSecret string
	txGen     txgen.Generator

	cache  *napmap.NapMap[string, japrotocol.JaResponse]
	txMgr  *txmanager.Manager
	router *router.Router

	conn    *websocket.Conn
	writeCh chan outboundFrame

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	closeOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// Dial opens a WebSocket connection to params.URL, advertising the
// janus-protocol subprotocol, and starts the background writer and reader
// tasks.
func Dial(ctx context.Context, params transport.ConnectionParams) (*Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{subprotocol},
	}

	conn, _, err := dialer.DialContext(ctx, params.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jaerrors.ErrDial, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	group, runCtx := errgroup.WithContext(runCtx)

	t := &Transport{
		apiSecret: params.APISecret,
		txGen:     txgen.NewRandomGenerator(params.TransactionLength),
		cache:     napmap.New[string, japrotocol.JaResponse](params.Capacity),
		txMgr:     txmanager.New(params.Capacity),
		router:    router.New(),
		conn:      conn,
		writeCh:   make(chan outboundFrame, 32),
		ctx:       runCtx,
		cancel:    cancel,
		group:     group,
	}

	group.Go(func() error { return t.writePump() })
	group.Go(func() error { return t.readPump() })

	return t, nil
}

func (t *Transport) decorate(body map[string]interface{}) string {
	if t.apiSecret != "" {
		body["apisecret"] = t.apiSecret
	}
	tx := t.txGen.Generate()
	body["transaction"] = tx
	return tx
}

// send queues body for the writer goroutine and waits for the write itself
// to complete (not for any reply).
func (t *Transport) send(body map[string]interface{}) error {
	errc := make(chan error, 1)
	select {
	case t.writeCh <- outboundFrame{body: body, errc: errc}:
	case <-t.ctx.Done():
		return jaerrors.ErrTransportClosed
	}

	select {
	case err := <-errc:
		return err
	case <-t.ctx.Done():
		return jaerrors.ErrTransportClosed
	}
}

// sendAndAwait decorates body with a transaction, optionally registers it
// with the transaction manager (when session/handle are already known),
// writes the frame, and suspends on the cache until the first reply.
func (t *Transport) sendAndAwait(ctx context.Context, body map[string]interface{}, sessionID, handleID uint64, registerRoute bool) (japrotocol.JaResponse, error) {
	tx := t.decorate(body)
	if registerRoute {
		t.txMgr.Create(tx, sessionID, handleID)
	}

	if err := t.send(body); err != nil {
		return japrotocol.JaResponse{}, err
	}

	return t.cache.Get(ctx, tx)
}

func (t *Transport) writePump() error {
	for {
		select {
		case <-t.ctx.Done():
			return nil
		case frame := <-t.writeCh:
			err := t.conn.WriteJSON(frame.body)
			if err != nil {
				err = fmt.Errorf("%w: %v", jaerrors.ErrWriteFailed, err)
			}
			frame.errc <- err
		}
	}
}

func (t *Transport) readPump() error {
	defer t.teardown()

	for {
		var resp japrotocol.JaResponse
		err := t.conn.ReadJSON(&resp)
		if err != nil {
			if t.ctx.Err() != nil {
				return nil
			}
			return err
		}
		t.dispatch(resp)
	}
}

// dispatch implements the seven-rule inbound decision table of §4.G, plus
// one case that caches server_info replies under their transaction.
func (t *Transport) dispatch(resp japrotocol.JaResponse) {
	switch {
	case resp.Janus == japrotocol.KindAck && resp.Transaction != "":
		t.cache.Insert(resp.Transaction, resp)

	case resp.Janus == japrotocol.KindSuccess && resp.Transaction != "" && resp.PluginData == nil && resp.Sender == 0:
		t.cache.Insert(resp.Transaction, resp)
		t.txMgr.SuccessClose(resp.Transaction)

	case resp.Janus == japrotocol.KindSuccess && resp.Sender != 0 && resp.PluginData != nil:
		t.cache.Insert(resp.Transaction, resp)
		t.txMgr.SuccessClose(resp.Transaction)
		t.router.PubSubroute(resp.SessionID, resp.Sender, resp)

	case resp.Janus == japrotocol.KindError && resp.Transaction != "":
		t.cache.Insert(resp.Transaction, resp)
		t.txMgr.ErrorClose(resp.Transaction)
		if resp.Sender != 0 {
			t.router.PubSubroute(resp.SessionID, resp.Sender, resp)
		}

	case isAsyncEvent(resp.Janus) && resp.Sender != 0:
		t.router.PubSubroute(resp.SessionID, resp.Sender, resp)
		if resp.Transaction != "" {
			if _, ok := t.txMgr.Get(resp.Transaction); ok {
				t.cache.Insert(resp.Transaction, resp)
			}
		}

	case resp.Janus == japrotocol.KindServerInfo && resp.Transaction != "":
		t.cache.Insert(resp.Transaction, resp)

	case resp.SessionID != 0:
		t.router.PubRoot(resp.SessionID, resp)

	default:
		log.Printf("[ws] dropping unroutable frame: janus=%q transaction=%q", resp.Janus, resp.Transaction)
	}
}

func isAsyncEvent(kind string) bool {
	switch kind {
	case japrotocol.KindEvent, japrotocol.KindWebRTCUp, japrotocol.KindMedia,
		japrotocol.KindSlowLink, japrotocol.KindHangUp, japrotocol.KindTrickle, japrotocol.KindDetached:
		return true
	}
	return false
}

// teardown runs once the reader exits, by error or by Close. It fails every
// in-flight waiter, fires a Timeout to each registered session root, and
// closes every event sink.
func (t *Transport) teardown() {
	for _, session := range t.router.Sessions() {
		t.router.PubRoot(session, japrotocol.JaResponse{Janus: japrotocol.KindTimeout, SessionID: session})
	}
	t.cache.Close()
	t.router.CloseAll()
}

// ServerInfo fetches the server's static capability description.
func (t *Transport) ServerInfo(ctx context.Context) (*japrotocol.ServerInfoRsp, error) {
	body := map[string]interface{}{"janus": japrotocol.KindServerInfo}
	resp, err := t.sendAndAwait(ctx, body, 0, 0, false)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, resp.AsError()
	}
	return japrotocol.ParseServerInfo(resp)
}

// Create opens a new session and returns its server-issued id plus its root
// event receiver.
func (t *Transport) Create(ctx context.Context) (uint64, *router.Receiver, error) {
	body := map[string]interface{}{"janus": "create"}
	resp, err := t.sendAndAwait(ctx, body, 0, 0, false)
	if err != nil {
		return 0, nil, err
	}
	if resp.IsError() {
		return 0, nil, resp.AsError()
	}
	if resp.Data == nil {
		return 0, nil, jaerrors.ErrUnexpectedResponse
	}

	sessionID := resp.Data.ID
	rx := t.router.AddRoot(sessionID)
	return sessionID, rx, nil
}

// Attach opens a new handle bound to pluginID within sessionID.
func (t *Transport) Attach(ctx context.Context, sessionID uint64, pluginID string) (uint64, *router.Receiver, error) {
	body := map[string]interface{}{
		"janus":      "attach",
		"session_id": sessionID,
		"plugin":     pluginID,
	}
	resp, err := t.sendAndAwait(ctx, body, sessionID, 0, true)
	if err != nil {
		return 0, nil, err
	}
	if resp.IsError() {
		return 0, nil, resp.AsError()
	}
	if resp.Data == nil {
		return 0, nil, jaerrors.ErrUnexpectedResponse
	}

	handleID := resp.Data.ID
	rx := t.router.AddSubroute(sessionID, handleID)
	return handleID, rx, nil
}

// Destroy tears down a session server-side. Best-effort: any transport
// error is logged and swallowed, matching the teacher's shutdown handling.
func (t *Transport) Destroy(ctx context.Context, sessionID uint64) {
	body := map[string]interface{}{
		"janus":      "destroy",
		"session_id": sessionID,
	}
	if _, err := t.sendAndAwait(ctx, body, sessionID, 0, false); err != nil {
		log.Printf("[ws] session %d: destroy failed: %v", sessionID, err)
	}
	t.router.RemoveRoot(sessionID)
}

// KeepAlive sends a single liveness probe for sessionID and discards the
// acknowledgement. Called periodically by a keepalive.Scheduler owned by
// the façade, not by the transport itself.
func (t *Transport) KeepAlive(ctx context.Context, sessionID uint64, timeout time.Duration) error {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body := map[string]interface{}{
		"janus":      japrotocol.KindKeepAlive,
		"session_id": sessionID,
	}
	resp, err := t.sendAndAwait(probeCtx, body, sessionID, 0, false)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return resp.AsError()
	}
	return nil
}

// FireAndForget sends a message without awaiting any reply.
func (t *Transport) FireAndForget(ctx context.Context, msg transport.HandleMessage) error {
	body := t.messageBody(msg)
	t.decorate(body)
	return t.send(body)
}

// SendWaitOnAck sends a message and returns on the first synchronous reply.
func (t *Transport) SendWaitOnAck(ctx context.Context, msg transport.HandleMessageWithTimeout) (japrotocol.JaResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, msg.Timeout)
	defer cancel()

	body := t.messageBody(msg.HandleMessage)
	return t.sendAndAwait(ctx, body, msg.SessionID, msg.HandleID, true)
}

// SendWaitOnRsp sends a message and waits for the terminal reply, retrying
// the cache read when an intermediate Ack is observed first.
func (t *Transport) SendWaitOnRsp(ctx context.Context, msg transport.HandleMessageWithTimeout) (japrotocol.JaResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, msg.Timeout)
	defer cancel()

	body := t.messageBody(msg.HandleMessage)
	tx := t.decorate(body)
	t.txMgr.Create(tx, msg.SessionID, msg.HandleID)

	if err := t.send(body); err != nil {
		return japrotocol.JaResponse{}, err
	}

	version := 0
	for {
		resp, v, err := t.cache.GetAfter(ctx, tx, version)
		if err != nil {
			return japrotocol.JaResponse{}, err
		}
		if resp.IsTerminal() {
			return resp, nil
		}
		// An Ack arrived first; wait specifically for the next overwrite of
		// this key rather than re-reading the same Ack (§4.B
		// overwrite-on-insert).
		version = v
	}
}

// FireAndForgetWithEst is FireAndForget with an establishment payload merged
// into the request body.
func (t *Transport) FireAndForgetWithEst(ctx context.Context, msg transport.HandleMessageWithEstablishment) error {
	body := t.messageBody(msg.HandleMessage)
	if err := japrotocol.MergeEstablishment(body, &msg.Establishment); err != nil {
		return err
	}
	t.decorate(body)
	return t.send(body)
}

// SendWaitOnAckWithEst is SendWaitOnAck with an establishment payload merged
// into the request body.
func (t *Transport) SendWaitOnAckWithEst(ctx context.Context, msg transport.HandleMessageWithEstablishmentAndTimeout) (japrotocol.JaResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, msg.Timeout)
	defer cancel()

	body := t.messageBody(msg.HandleMessage)
	if err := japrotocol.MergeEstablishment(body, &msg.Establishment); err != nil {
		return japrotocol.JaResponse{}, err
	}
	return t.sendAndAwait(ctx, body, msg.SessionID, msg.HandleID, true)
}

func (t *Transport) messageBody(msg transport.HandleMessage) map[string]interface{} {
	body := map[string]interface{}{
		"janus":      "message",
		"session_id": msg.SessionID,
		"handle_id":  msg.HandleID,
	}
	if msg.Body != nil {
		body["body"] = msg.Body
	} else {
		body["body"] = map[string]interface{}{}
	}
	return body
}

// Close cancels the writer and reader tasks and waits for them to exit.
func (t *Transport) Close() error {
	var closeErr error
	t.closeOnce.Do(func() {
		t.cancel()
		_ = t.conn.Close()
		closeErr = t.group.Wait()
	})
	return closeErr
}

// Package rest implements the REST long-poll transport (§4.H). Unlike the
// WebSocket transport, a REST request's HTTP response body is itself the
// synchronous JaResponse: there is no separate ack phase, so this transport
// needs neither the rendezvous cache nor the transaction manager for
// correlation. The only background work is one long-poll loop per session,
// decoding the event array Janus returns and routing each entry by sender.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/segmentio/encoding/json"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	jaerrors "github.com/koefmatt/jarust/internal/errors"
	"github.com/koefmatt/jarust/internal/router"
	"github.com/koefmatt/jarust/internal/txgen"
	"github.com/koefmatt/jarust/japrotocol"
	"github.com/koefmatt/jarust/transport"
)

const defaultMaxEvents = 10

// Transport is the REST long-poll implementation of transport.Transport.
type Transport struct {
	client    *http.Client
	baseURL   string
	apiSecret string
	txGen     txgen.Generator
	router    *router.Router

	// limiter throttles retries of a broken long-poll loop so a dead
	// endpoint cannot spin a CPU core (§9 open question, resolved).
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu      sync.Mutex
	pollers map[uint64]context.CancelFunc

	closeOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// Dial constructs a REST transport. Unlike the WebSocket transport there is
// no handshake: the name is kept for symmetry with ws.Dial so callers can
// select a transport without branching on its construction shape.
func Dial(ctx context.Context, params transport.ConnectionParams) (*Transport, error) {
	if params.URL == "" {
		return nil, jaerrors.ErrMissingURL
	}

	runCtx, cancel := context.WithCancel(context.Background())
	group, runCtx := errgroup.WithContext(runCtx)

	t := &Transport{
		client:    &http.Client{},
		baseURL:   joinBase(params.URL, params.Namespace),
		apiSecret: params.APISecret,
		txGen:     txgen.NewRandomGenerator(params.TransactionLength),
		router:    router.New(),
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
		ctx:       runCtx,
		cancel:    cancel,
		group:     group,
		pollers:   make(map[uint64]context.CancelFunc),
	}
	return t, nil
}

func joinBase(url, namespace string) string {
	url = strings.TrimRight(url, "/")
	namespace = strings.Trim(namespace, "/")
	if namespace == "" {
		return url
	}
	return url + "/" + namespace
}

func (t *Transport) decorate(body map[string]interface{}) {
	if t.apiSecret != "" {
		body["apisecret"] = t.apiSecret
	}
	body["transaction"] = t.txGen.Generate()
}

// post issues a POST to path with body as the JSON request and decodes the
// response body as a JaResponse, which for this protocol model is already
// the terminal reply.
func (t *Transport) post(ctx context.Context, path string, body map[string]interface{}) (japrotocol.JaResponse, error) {
	t.decorate(body)

	encoded, err := json.Marshal(body)
	if err != nil {
		return japrotocol.JaResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return japrotocol.JaResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	return t.do(req)
}

func (t *Transport) get(ctx context.Context, path string) (japrotocol.JaResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return japrotocol.JaResponse{}, err
	}
	return t.do(req)
}

func (t *Transport) do(req *http.Request) (japrotocol.JaResponse, error) {
	rawResp, err := t.client.Do(req)
	if err != nil {
		return japrotocol.JaResponse{}, fmt.Errorf("%w: %v", jaerrors.ErrDial, err)
	}
	defer rawResp.Body.Close()

	data, err := io.ReadAll(rawResp.Body)
	if err != nil {
		return japrotocol.JaResponse{}, err
	}

	var resp japrotocol.JaResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return japrotocol.JaResponse{}, fmt.Errorf("%w: %v", jaerrors.ErrIncompletePacket, err)
	}
	return resp, nil
}

// ServerInfo fetches the server's static capability description.
func (t *Transport) ServerInfo(ctx context.Context) (*japrotocol.ServerInfoRsp, error) {
	resp, err := t.get(ctx, "/info")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, resp.AsError()
	}
	return japrotocol.ParseServerInfo(resp)
}

// Create opens a new session, returns its id and root receiver, and starts
// its long-poll loop.
func (t *Transport) Create(ctx context.Context) (uint64, *router.Receiver, error) {
	resp, err := t.post(ctx, "", map[string]interface{}{"janus": "create"})
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
	t.ensureSessionPoller(sessionID)
	return sessionID, rx, nil
}

// Attach opens a new handle bound to pluginID within sessionID.
func (t *Transport) Attach(ctx context.Context, sessionID uint64, pluginID string) (uint64, *router.Receiver, error) {
	path := fmt.Sprintf("/%d", sessionID)
	resp, err := t.post(ctx, path, map[string]interface{}{
		"janus":      "attach",
		"session_id": sessionID,
		"plugin":     pluginID,
	})
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
	t.ensureSessionPoller(sessionID) // idempotent: Create already started it
	return handleID, rx, nil
}

// Destroy tears down a session server-side and stops its long-poll loop.
// Best-effort: a transport error is logged and swallowed.
func (t *Transport) Destroy(ctx context.Context, sessionID uint64) {
	path := fmt.Sprintf("/%d", sessionID)
	resp, err := t.post(ctx, path, map[string]interface{}{
		"janus":      "destroy",
		"session_id": sessionID,
	})
	if err != nil {
		log.Printf("[rest] session %d: destroy failed: %v", sessionID, err)
	} else if resp.IsError() {
		log.Printf("[rest] session %d: destroy failed: %v", sessionID, resp.AsError())
	}

	t.stopSessionPoller(sessionID)
	t.router.RemoveRoot(sessionID)
}

// KeepAlive is a no-op on the REST transport: long-poll GETs already keep
// the session alive server-side (§4.H).
func (t *Transport) KeepAlive(ctx context.Context, sessionID uint64, timeout time.Duration) error {
	return nil
}

// FireAndForget sends a message and discards the HTTP response.
func (t *Transport) FireAndForget(ctx context.Context, msg transport.HandleMessage) error {
	_, err := t.post(ctx, t.messagePath(msg), t.messageBody(msg))
	return err
}

// SendWaitOnAck sends a message and returns the HTTP response, which for
// this transport's protocol model is already the terminal reply.
func (t *Transport) SendWaitOnAck(ctx context.Context, msg transport.HandleMessageWithTimeout) (japrotocol.JaResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, msg.Timeout)
	defer cancel()
	return t.post(ctx, t.messagePath(msg.HandleMessage), t.messageBody(msg.HandleMessage))
}

// SendWaitOnRsp is identical to SendWaitOnAck on this transport: there is no
// intermediate Ack to wait past over a REST POST (§4.H).
func (t *Transport) SendWaitOnRsp(ctx context.Context, msg transport.HandleMessageWithTimeout) (japrotocol.JaResponse, error) {
	return t.SendWaitOnAck(ctx, msg)
}

// FireAndForgetWithEst is FireAndForget with an establishment payload merged
// into the request body.
func (t *Transport) FireAndForgetWithEst(ctx context.Context, msg transport.HandleMessageWithEstablishment) error {
	body := t.messageBody(msg.HandleMessage)
	if err := japrotocol.MergeEstablishment(body, &msg.Establishment); err != nil {
		return err
	}
	_, err := t.post(ctx, t.messagePath(msg.HandleMessage), body)
	return err
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
	return t.post(ctx, t.messagePath(msg.HandleMessage), body)
}

func (t *Transport) messagePath(msg transport.HandleMessage) string {
	return fmt.Sprintf("/%d/%d", msg.SessionID, msg.HandleID)
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

func (t *Transport) ensureSessionPoller(sessionID uint64) {
	t.mu.Lock()
	if _, exists := t.pollers[sessionID]; exists {
		t.mu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(t.ctx)
	t.pollers[sessionID] = cancel
	t.mu.Unlock()

	t.group.Go(func() error {
		t.pollLoop(pollCtx, sessionID)
		return nil
	})
}

func (t *Transport) stopSessionPoller(sessionID uint64) {
	t.mu.Lock()
	cancel, ok := t.pollers[sessionID]
	if ok {
		delete(t.pollers, sessionID)
	}
	t.mu.Unlock()

	if ok {
		cancel()
	}
}

// pollLoop repeatedly GETs the session's long-poll URL and routes every
// decoded event by sender. A network error is retried after waiting on the
// rate limiter rather than spinning (§9 open question, resolved).
func (t *Transport) pollLoop(ctx context.Context, sessionID uint64) {
	path := fmt.Sprintf("/%d?maxev=%d", sessionID, defaultMaxEvents)

	for {
		if ctx.Err() != nil {
			return
		}

		events, err := t.longPoll(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[rest] session %d: long-poll error, backing off: %v", sessionID, err)
			if werr := t.limiter.Wait(ctx); werr != nil {
				return
			}
			continue
		}

		for _, resp := range events {
			t.routeEvent(resp)
		}
	}
}

func (t *Transport) longPoll(ctx context.Context, path string) ([]japrotocol.JaResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	rawResp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jaerrors.ErrDial, err)
	}
	defer rawResp.Body.Close()

	data, err := io.ReadAll(rawResp.Body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var events []japrotocol.JaResponse
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("%w: %v", jaerrors.ErrIncompletePacket, err)
	}
	return events, nil
}

func (t *Transport) routeEvent(resp japrotocol.JaResponse) {
	switch {
	case resp.Sender != 0:
		t.router.PubSubroute(resp.SessionID, resp.Sender, resp)
	case resp.SessionID != 0:
		t.router.PubRoot(resp.SessionID, resp)
	default:
		log.Printf("[rest] dropping unroutable long-poll event: janus=%q", resp.Janus)
	}
}

// Close cancels every session poller and waits for the background tasks to
// exit.
func (t *Transport) Close() error {
	var closeErr error
	t.closeOnce.Do(func() {
		t.cancel()
		closeErr = t.group.Wait()
		t.router.CloseAll()
	})
	return closeErr
}

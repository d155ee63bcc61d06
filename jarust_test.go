package jarust

import (
	"context"
	"testing"
	"time"

	"github.com/koefmatt/jarust/internal/router"
	"github.com/koefmatt/jarust/japrotocol"
	"github.com/koefmatt/jarust/transport"
)

// fakeTransport is a test double satisfying transport.Transport so the
// façade can be exercised without a real socket or HTTP server.
type fakeTransport struct {
	router *router.Router

	createCalls  int
	attachCalls  int
	destroyCalls int
	keepAlives   int

	sessionID uint64
	handleID  uint64

	serverInfo   *japrotocol.ServerInfoRsp
	keepAliveErr error

	lastSend transport.HandleMessage
	sendResp japrotocol.JaResponse
	sendErr  error

	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{router: router.New(), sessionID: 10, handleID: 20}
}

func (f *fakeTransport) ServerInfo(ctx context.Context) (*japrotocol.ServerInfoRsp, error) {
	return f.serverInfo, nil
}

func (f *fakeTransport) Create(ctx context.Context) (uint64, *router.Receiver, error) {
	f.createCalls++
	rx := f.router.AddRoot(f.sessionID)
	return f.sessionID, rx, nil
}

func (f *fakeTransport) Attach(ctx context.Context, sessionID uint64, pluginID string) (uint64, *router.Receiver, error) {
	f.attachCalls++
	rx := f.router.AddSubroute(sessionID, f.handleID)
	return f.handleID, rx, nil
}

func (f *fakeTransport) Destroy(ctx context.Context, sessionID uint64) {
	f.destroyCalls++
}

func (f *fakeTransport) KeepAlive(ctx context.Context, sessionID uint64, timeout time.Duration) error {
	f.keepAlives++
	return f.keepAliveErr
}

func (f *fakeTransport) FireAndForget(ctx context.Context, msg transport.HandleMessage) error {
	f.lastSend = msg
	return f.sendErr
}

func (f *fakeTransport) SendWaitOnAck(ctx context.Context, msg transport.HandleMessageWithTimeout) (japrotocol.JaResponse, error) {
	f.lastSend = msg.HandleMessage
	return f.sendResp, f.sendErr
}

func (f *fakeTransport) SendWaitOnRsp(ctx context.Context, msg transport.HandleMessageWithTimeout) (japrotocol.JaResponse, error) {
	f.lastSend = msg.HandleMessage
	return f.sendResp, f.sendErr
}

func (f *fakeTransport) FireAndForgetWithEst(ctx context.Context, msg transport.HandleMessageWithEstablishment) error {
	f.lastSend = msg.HandleMessage
	return f.sendErr
}

func (f *fakeTransport) SendWaitOnAckWithEst(ctx context.Context, msg transport.HandleMessageWithEstablishmentAndTimeout) (japrotocol.JaResponse, error) {
	f.lastSend = msg.HandleMessage
	return f.sendResp, f.sendErr
}

func (f *fakeTransport) Close() error {
	f.closed = true
	f.router.CloseAll()
	return nil
}

var _ transport.Transport = (*fakeTransport)(nil)

func TestCreateSessionAndAttach(t *testing.T) {
	ft := newFakeTransport()
	conn := NewConnection(ft)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	session, err := conn.CreateSession(ctx, 0, 0)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if session.ID() != ft.sessionID {
		t.Fatalf("session.ID() = %d, want %d", session.ID(), ft.sessionID)
	}
	if ft.createCalls != 1 {
		t.Fatalf("createCalls = %d, want 1", ft.createCalls)
	}

	handle, err := session.Attach(ctx, "janus.plugin.echotest")
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if handle.ID() != ft.handleID {
		t.Fatalf("handle.ID() = %d, want %d", handle.ID(), ft.handleID)
	}
	if handle.SessionID() != session.ID() {
		t.Fatalf("handle.SessionID() = %d, want %d", handle.SessionID(), session.ID())
	}
}

func TestCreateSessionStartsKeepAlive(t *testing.T) {
	ft := newFakeTransport()
	conn := NewConnection(ft)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	session, err := conn.CreateSession(ctx, 10*time.Millisecond, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	defer session.Destroy(ctx)

	time.Sleep(35 * time.Millisecond)
	if ft.keepAlives < 2 {
		t.Fatalf("expected at least 2 keep-alive probes, got %d", ft.keepAlives)
	}
}

func TestSessionDestroyCallsTransport(t *testing.T) {
	ft := newFakeTransport()
	conn := NewConnection(ft)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	session, err := conn.CreateSession(ctx, 0, 0)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	session.Destroy(ctx)

	if ft.destroyCalls != 1 {
		t.Fatalf("destroyCalls = %d, want 1", ft.destroyCalls)
	}
}

func TestHandleSendWaitOnRspReturnsTransportReply(t *testing.T) {
	ft := newFakeTransport()
	ft.sendResp = japrotocol.JaResponse{Janus: japrotocol.KindSuccess}
	conn := NewConnection(ft)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	session, err := conn.CreateSession(ctx, 0, 0)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	handle, err := session.Attach(ctx, "janus.plugin.echotest")
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	resp, err := handle.SendWaitOnRsp(ctx, map[string]interface{}{"request": "test"}, time.Second)
	if err != nil {
		t.Fatalf("SendWaitOnRsp() error = %v", err)
	}
	if resp.Janus != japrotocol.KindSuccess {
		t.Fatalf("Janus = %q, want %q", resp.Janus, japrotocol.KindSuccess)
	}
	if ft.lastSend.SessionID != handle.SessionID() || ft.lastSend.HandleID != handle.ID() {
		t.Fatalf("lastSend = %+v, want session %d handle %d", ft.lastSend, handle.SessionID(), handle.ID())
	}
}

func TestHandleEventsReceiver(t *testing.T) {
	ft := newFakeTransport()
	conn := NewConnection(ft)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	session, err := conn.CreateSession(ctx, 0, 0)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	handle, err := session.Attach(ctx, "janus.plugin.echotest")
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	ft.router.PubSubroute(session.ID(), handle.ID(), japrotocol.JaResponse{Janus: japrotocol.KindEvent, Sender: handle.ID()})

	got, err := handle.Events().Recv(ctx)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if got.Sender != handle.ID() {
		t.Fatalf("Sender = %d, want %d", got.Sender, handle.ID())
	}
}

func TestConnectionCloseClosesTransport(t *testing.T) {
	ft := newFakeTransport()
	conn := NewConnection(ft)

	if err := conn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !ft.closed {
		t.Fatal("expected underlying transport to be closed")
	}
}

package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koefmatt/jarust/japrotocol"
	"github.com/koefmatt/jarust/transport"
)

// fakeJanus is a minimal scripted Janus server: every inbound frame is
// handed to onMessage, which may reply over the same connection and/or push
// further spontaneous frames (simulating async events).
type fakeJanus struct {
	srv  *httptest.Server
	mu   sync.Mutex
	conn *websocket.Conn
}

func newFakeJanus(t *testing.T, onMessage func(conn *websocket.Conn, req map[string]interface{})) *fakeJanus {
	t.Helper()

	f := &fakeJanus{}
	upgrader := websocket.Upgrader{
		CheckOrigin:  func(*http.Request) bool { return true },
		Subprotocols: []string{subprotocol},
	}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()

		for {
			var req map[string]interface{}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if onMessage != nil {
				onMessage(conn, req)
			}
		}
	}))

	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeJanus) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeJanus) push(v interface{}) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	return conn.WriteJSON(v)
}

// closeConn drops the server side of the hijacked WebSocket connection
// directly. httptest.Server.Close alone does not touch hijacked connections
// (see net/http.Server.Close), so simulating an abrupt disconnect requires
// closing the underlying conn ourselves.
func (f *fakeJanus) closeConn() error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	return conn.Close()
}

func dial(t *testing.T, url string) *Transport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	tr, err := Dial(ctx, transport.ConnectionParams{URL: url, Capacity: 16, TransactionLength: 12})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestServerInfo(t *testing.T) {
	f := newFakeJanus(t, func(conn *websocket.Conn, req map[string]interface{}) {
		conn.WriteJSON(map[string]interface{}{
			"janus":          japrotocol.KindServerInfo,
			"transaction":    req["transaction"],
			"name":           "janus",
			"version":        100,
			"version_string": "1.0.0",
		})
	})

	tr := dial(t, f.url())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	info, err := tr.ServerInfo(ctx)
	if err != nil {
		t.Fatalf("ServerInfo() error = %v", err)
	}
	if info.Name != "janus" {
		t.Fatalf("Name = %q, want %q", info.Name, "janus")
	}
}

func TestCreateSessionAssignsID(t *testing.T) {
	f := newFakeJanus(t, func(conn *websocket.Conn, req map[string]interface{}) {
		if req["janus"] != "create" {
			return
		}
		conn.WriteJSON(map[string]interface{}{
			"janus":       japrotocol.KindSuccess,
			"transaction": req["transaction"],
			"data":        map[string]interface{}{"id": 1234},
		})
	})

	tr := dial(t, f.url())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sessionID, _, err := tr.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sessionID != 1234 {
		t.Fatalf("sessionID = %d, want 1234", sessionID)
	}
}

func TestAttachHandleReturnsWorkingReceiver(t *testing.T) {
	f := newFakeJanus(t, func(conn *websocket.Conn, req map[string]interface{}) {
		switch req["janus"] {
		case "create":
			conn.WriteJSON(map[string]interface{}{
				"janus": japrotocol.KindSuccess, "transaction": req["transaction"],
				"data": map[string]interface{}{"id": 1},
			})
		case "attach":
			conn.WriteJSON(map[string]interface{}{
				"janus": japrotocol.KindSuccess, "transaction": req["transaction"],
				"data": map[string]interface{}{"id": 99},
			})
		}
	})

	tr := dial(t, f.url())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sessionID, _, err := tr.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	handleID, rx, err := tr.Attach(ctx, sessionID, "janus.plugin.echotest")
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if handleID != 99 {
		t.Fatalf("handleID = %d, want 99", handleID)
	}

	if err := f.push(map[string]interface{}{
		"janus": japrotocol.KindEvent, "session_id": sessionID, "sender": handleID,
		"plugindata": map[string]interface{}{"plugin": "janus.plugin.echotest", "data": map[string]interface{}{"result": "ok"}},
	}); err != nil {
		t.Fatalf("push() error = %v", err)
	}

	got, err := rx.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if got.Sender != handleID {
		t.Fatalf("Sender = %d, want %d", got.Sender, handleID)
	}
}

func TestSendWaitOnRspSkipsIntermediateAck(t *testing.T) {
	f := newFakeJanus(t, func(conn *websocket.Conn, req map[string]interface{}) {
		switch req["janus"] {
		case "message":
			tx := req["transaction"]
			conn.WriteJSON(map[string]interface{}{"janus": japrotocol.KindAck, "transaction": tx})
			go func() {
				time.Sleep(10 * time.Millisecond)
				conn.WriteJSON(map[string]interface{}{
					"janus": japrotocol.KindSuccess, "transaction": tx,
					"session_id": req["session_id"], "sender": req["handle_id"],
					"plugindata": map[string]interface{}{"plugin": "janus.plugin.echotest", "data": map[string]interface{}{"result": "ok"}},
				})
			}()
		}
	})

	tr := dial(t, f.url())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := tr.SendWaitOnRsp(ctx, transport.HandleMessageWithTimeout{
		HandleMessage: transport.HandleMessage{SessionID: 1, HandleID: 2, Body: map[string]interface{}{"request": "test"}},
		Timeout:       time.Second,
	})
	if err != nil {
		t.Fatalf("SendWaitOnRsp() error = %v", err)
	}
	if !resp.IsTerminal() {
		t.Fatalf("expected terminal reply, got janus=%q", resp.Janus)
	}
	if resp.Janus != japrotocol.KindSuccess {
		t.Fatalf("Janus = %q, want %q", resp.Janus, japrotocol.KindSuccess)
	}
}

func TestSendWaitOnAckReturnsOnFirstReply(t *testing.T) {
	f := newFakeJanus(t, func(conn *websocket.Conn, req map[string]interface{}) {
		if req["janus"] == "message" {
			conn.WriteJSON(map[string]interface{}{"janus": japrotocol.KindAck, "transaction": req["transaction"]})
		}
	})

	tr := dial(t, f.url())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := tr.SendWaitOnAck(ctx, transport.HandleMessageWithTimeout{
		HandleMessage: transport.HandleMessage{SessionID: 1, HandleID: 2, Body: map[string]interface{}{}},
		Timeout:       time.Second,
	})
	if err != nil {
		t.Fatalf("SendWaitOnAck() error = %v", err)
	}
	if !resp.IsAck() {
		t.Fatalf("expected ack, got janus=%q", resp.Janus)
	}
}

func TestSendWaitOnAckMapsErrorReply(t *testing.T) {
	f := newFakeJanus(t, func(conn *websocket.Conn, req map[string]interface{}) {
		if req["janus"] == "message" {
			conn.WriteJSON(map[string]interface{}{
				"janus": japrotocol.KindError, "transaction": req["transaction"],
				"error": map[string]interface{}{"code": 458, "reason": "unknown request"},
			})
		}
	})

	tr := dial(t, f.url())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := tr.SendWaitOnAck(ctx, transport.HandleMessageWithTimeout{
		HandleMessage: transport.HandleMessage{SessionID: 1, HandleID: 2, Body: map[string]interface{}{}},
		Timeout:       time.Second,
	})
	if err != nil {
		t.Fatalf("SendWaitOnAck() error = %v", err)
	}
	if !resp.IsError() {
		t.Fatalf("expected an error reply, got janus=%q", resp.Janus)
	}

	janusErr := resp.AsError()
	if janusErr == nil {
		t.Fatal("AsError() = nil, want a *JanusError")
	}
	if janusErr.Code != 458 || janusErr.Reason != "unknown request" {
		t.Fatalf("JanusError = %+v, want code 458 reason %q", janusErr, "unknown request")
	}
}

func TestAbruptCloseFiresTimeoutToRootSinks(t *testing.T) {
	f := newFakeJanus(t, func(conn *websocket.Conn, req map[string]interface{}) {
		if req["janus"] == "create" {
			conn.WriteJSON(map[string]interface{}{
				"janus": japrotocol.KindSuccess, "transaction": req["transaction"],
				"data": map[string]interface{}{"id": 7},
			})
		}
	})

	tr := dial(t, f.url())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, root, err := tr.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := f.closeConn(); err != nil {
		t.Fatalf("closeConn() error = %v", err)
	}

	deadline, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()

	got, err := root.Recv(deadline)
	if err != nil {
		t.Fatalf("expected a root Timeout event after abrupt close, got error: %v", err)
	}
	if got.Janus != japrotocol.KindTimeout {
		t.Fatalf("Janus = %q, want %q", got.Janus, japrotocol.KindTimeout)
	}
}

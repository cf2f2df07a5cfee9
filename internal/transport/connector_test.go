package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crewsight/crewsight/internal/backoff"
	"github.com/crewsight/crewsight/internal/observability"
	"github.com/crewsight/crewsight/internal/session"
	"github.com/crewsight/crewsight/internal/wire"
)

// testServer accepts monitoring connections and records what the client sent.
type testServer struct {
	httpServer *httptest.Server
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	cookies []string
	hellos  []wire.Hello
	conns   chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{conns: make(chan *websocket.Conn, 8)}
	s.httpServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie := ""
		if c, err := r.Cookie("connect.sid"); err == nil {
			cookie = c.Value
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		// First frame is the hello.
		var frame wire.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			_ = conn.Close()
			return
		}
		var hello wire.Hello
		_ = json.Unmarshal(frame.Payload, &hello)

		s.mu.Lock()
		s.cookies = append(s.cookies, cookie)
		s.hellos = append(s.hellos, hello)
		s.mu.Unlock()

		s.conns <- conn
	}))
	t.Cleanup(s.httpServer.Close)
	return s
}

func (s *testServer) socketURL() string {
	return "ws://" + strings.TrimPrefix(s.httpServer.URL, "http://")
}

func (s *testServer) lastCookie() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cookies) == 0 {
		return ""
	}
	return s.cookies[len(s.cookies)-1]
}

func (s *testServer) push(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := wire.NewFrame(event, payload)
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("push frame: %v", err)
	}
}

func (s *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection arrived")
		return nil
	}
}

func fastBackoff() backoff.Policy {
	return backoff.Policy{InitialMs: 5, MaxMs: 20, Factor: 2, Jitter: 0}
}

func newTestConnector(t *testing.T, server *testServer, store *session.Store) *Connector {
	t.Helper()
	c := NewConnector(Config{SocketURL: server.socketURL(), Backoff: fastBackoff()},
		store, observability.NopLogger(), nil)
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestConnectCarriesCredentials(t *testing.T) {
	server := newTestServer(t)
	store := session.NewStore()
	store.SetPushToken("push-xyz")
	connector := newTestConnector(t, server, store)

	connector.Start()
	if connector.State() != Disconnected {
		t.Error("connected with no token")
	}

	store.SetToken("tok-1")
	conn := server.accept(t)
	defer conn.Close()

	waitFor(t, func() bool { return connector.State() == Connected })

	if got := server.lastCookie(); got != "tok-1" {
		t.Errorf("session cookie = %q, want tok-1", got)
	}
	server.mu.Lock()
	hello := server.hellos[len(server.hellos)-1]
	server.mu.Unlock()
	if hello.PushToken != "push-xyz" {
		t.Errorf("hello push token = %q, want push-xyz", hello.PushToken)
	}
}

func TestSubscribersReceiveEventsInOrder(t *testing.T) {
	server := newTestServer(t)
	store := session.NewStore()
	connector := newTestConnector(t, server, store)

	var mu sync.Mutex
	var got []string
	connector.Subscribe(wire.EventOnlineCheck, func(payload json.RawMessage) {
		var members []wire.Member
		_ = json.Unmarshal(payload, &members)
		mu.Lock()
		got = append(got, members[0].ID)
		mu.Unlock()
	})

	connector.Start()
	store.SetToken("tok-1")
	conn := server.accept(t)
	defer conn.Close()

	server.push(t, conn, wire.EventOnlineCheck, []wire.Member{{ID: "w1"}})
	server.push(t, conn, wire.EventOnlineCheck, []wire.Member{{ID: "w2"}})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "w1" || got[1] != "w2" {
		t.Errorf("events arrived as %v, want [w1 w2]", got)
	}
}

func TestNetworkDropReconnects(t *testing.T) {
	server := newTestServer(t)
	store := session.NewStore()
	connector := newTestConnector(t, server, store)

	deliberate := false
	connector.OnDeliberateClose(func(string) { deliberate = true })

	connector.Start()
	store.SetToken("tok-1")
	first := server.accept(t)

	waitFor(t, func() bool { return connector.State() == Connected })

	// Drop the connection without a disconnect frame: a pure network failure.
	_ = first.Close()

	second := server.accept(t)
	defer second.Close()
	waitFor(t, func() bool { return connector.State() == Connected })

	if deliberate {
		t.Error("network drop escalated as deliberate close")
	}
	if store.Token() != "tok-1" {
		t.Error("network drop touched the session token")
	}
}

func TestDeliberateCloseStopsReconnectAndEscalates(t *testing.T) {
	server := newTestServer(t)
	store := session.NewStore()
	connector := newTestConnector(t, server, store)

	reasonCh := make(chan string, 1)
	connector.OnDeliberateClose(func(reason string) { reasonCh <- reason })

	connector.Start()
	store.SetToken("tok-1")
	conn := server.accept(t)
	defer conn.Close()

	waitFor(t, func() bool { return connector.State() == Connected })

	server.push(t, conn, wire.EventDisconnect, wire.ReasonServerClose)

	select {
	case reason := <-reasonCh:
		if reason != wire.ReasonServerClose {
			t.Errorf("reason = %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("deliberate close not escalated")
	}

	waitFor(t, func() bool { return connector.State() == Disconnected })

	// No reconnect attempt follows a deliberate close.
	select {
	case extra := <-server.conns:
		_ = extra.Close()
		t.Fatal("connector reconnected after deliberate close")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestTransientDisconnectNoticeIgnored(t *testing.T) {
	server := newTestServer(t)
	store := session.NewStore()
	connector := newTestConnector(t, server, store)

	deliberate := false
	connector.OnDeliberateClose(func(string) { deliberate = true })

	connector.Start()
	store.SetToken("tok-1")
	conn := server.accept(t)
	defer conn.Close()

	waitFor(t, func() bool { return connector.State() == Connected })

	server.push(t, conn, wire.EventDisconnect, "ping timeout")
	time.Sleep(50 * time.Millisecond)

	if deliberate {
		t.Error("transient disconnect reason escalated")
	}
	if connector.State() != Connected {
		t.Error("transient disconnect notice dropped the connection")
	}
}

func TestTokenChangeReKeysConnection(t *testing.T) {
	server := newTestServer(t)
	store := session.NewStore()
	connector := newTestConnector(t, server, store)

	connector.Start()
	store.SetToken("tok-1")
	first := server.accept(t)
	defer first.Close()

	store.SetToken("tok-2")
	second := server.accept(t)
	defer second.Close()

	waitFor(t, func() bool { return server.lastCookie() == "tok-2" })
}

func TestClearTokenDisconnects(t *testing.T) {
	server := newTestServer(t)
	store := session.NewStore()
	connector := newTestConnector(t, server, store)

	connector.Start()
	store.SetToken("tok-1")
	conn := server.accept(t)
	defer conn.Close()

	waitFor(t, func() bool { return connector.State() == Connected })

	store.Clear()
	waitFor(t, func() bool { return connector.State() == Disconnected })

	select {
	case extra := <-server.conns:
		_ = extra.Close()
		t.Fatal("connection exists with empty token")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendWhileDisconnectedIsSilent(t *testing.T) {
	server := newTestServer(t)
	store := session.NewStore()
	connector := newTestConnector(t, server, store)

	connector.Start()
	connector.Send(wire.EventEmployeeLoggedOut, nil) // must not panic or error
}

func TestSendReachesServer(t *testing.T) {
	server := newTestServer(t)
	store := session.NewStore()
	connector := newTestConnector(t, server, store)

	connector.Start()
	store.SetToken("tok-1")
	conn := server.accept(t)
	defer conn.Close()

	waitFor(t, func() bool { return connector.State() == Connected })

	connector.Send(wire.EventDeleteNotification, wire.DeleteNotificationRequest{NotificationID: "n1"})

	var frame wire.Frame
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if frame.Event != wire.EventDeleteNotification {
		t.Errorf("event = %q", frame.Event)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	server := newTestServer(t)
	store := session.NewStore()
	connector := newTestConnector(t, server, store)

	var count sync.Map
	unsubscribe := connector.Subscribe(wire.EventMessages, func(json.RawMessage) {
		count.Store("hit", true)
	})
	unsubscribe()

	connector.Start()
	store.SetToken("tok-1")
	conn := server.accept(t)
	defer conn.Close()

	server.push(t, conn, wire.EventMessages, wire.Notification{ID: "n1"})
	time.Sleep(50 * time.Millisecond)

	if _, hit := count.Load("hit"); hit {
		t.Error("unsubscribed handler still invoked")
	}
}

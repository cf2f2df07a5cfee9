package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crewsight/crewsight/internal/config"
	"github.com/crewsight/crewsight/internal/observability"
	"github.com/crewsight/crewsight/internal/transport"
	"github.com/crewsight/crewsight/internal/wire"
)

// fakeBackend serves both halves of the protocol: the websocket endpoint at
// /socket and the plain request endpoints the attendance client calls.
type fakeBackend struct {
	httpServer *httptest.Server
	upgrader   websocket.Upgrader

	mu          sync.Mutex
	logoutCalls int
	sent        []wire.Frame
	conns       chan *websocket.Conn
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{conns: make(chan *websocket.Conn, 4)}

	mux := http.NewServeMux()
	mux.HandleFunc("/socket", func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Swallow the hello, then record everything else the client sends.
		var hello wire.Frame
		if err := conn.ReadJSON(&hello); err != nil {
			_ = conn.Close()
			return
		}
		go func() {
			for {
				var frame wire.Frame
				if err := conn.ReadJSON(&frame); err != nil {
					return
				}
				b.mu.Lock()
				b.sent = append(b.sent, frame)
				b.mu.Unlock()
			}
		}()
		b.conns <- conn
	})
	mux.HandleFunc("/manager/get-clock-events", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"success": true,
			"clockEvents": []map[string]any{
				{
					"id": "ce-1", "name": "Dana Reyes", "department": "Field",
					"status": "clocked in", "clockInTime": time.Now().Format(time.RFC3339),
					"clockInLocation": "Yard",
				},
			},
		})
	})
	mux.HandleFunc("/manager/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"success": true, "name": "Morgan Avery"})
	})
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.logoutCalls++
		b.mu.Unlock()
		writeJSON(w, map[string]any{"success": true})
	})

	b.httpServer = httptest.NewServer(mux)
	t.Cleanup(b.httpServer.Close)
	return b
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (b *fakeBackend) testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.BaseURL = b.httpServer.URL
	cfg.Server.SocketURL = "ws://" + strings.TrimPrefix(b.httpServer.URL, "http://") + "/socket"
	cfg.Session.PollInterval = 20 * time.Millisecond
	cfg.Session.SweepInterval = 20 * time.Millisecond
	cfg.Session.Staleness = 50 * time.Millisecond
	cfg.Reconnect.InitialMs = 5
	cfg.Reconnect.MaxMs = 20
	return cfg
}

func (b *fakeBackend) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-b.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection arrived")
		return nil
	}
}

func (b *fakeBackend) push(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := wire.NewFrame(event, payload)
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("push frame: %v", err)
	}
}

func (b *fakeBackend) sentEvents() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := make([]string, 0, len(b.sent))
	for _, f := range b.sent {
		events = append(events, f.Event)
	}
	return events
}

type recordingNav struct {
	mu            sync.Mutex
	notifications int
	entry         int
}

func (n *recordingNav) NavigateToNotifications() {
	n.mu.Lock()
	n.notifications++
	n.mu.Unlock()
}

func (n *recordingNav) NavigateToEntry() {
	n.mu.Lock()
	n.entry++
	n.mu.Unlock()
}

func (n *recordingNav) entryCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.entry
}

func newTestMonitor(t *testing.T, b *fakeBackend) (*Monitor, *recordingNav) {
	t.Helper()
	nav := &recordingNav{}
	m := New(b.testConfig(), nav, observability.NopLogger(), nil)
	t.Cleanup(m.Close)
	m.Start()
	return m, nav
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
	t.Fatal("condition not met in time")
}

func TestMonitorFeedsFollowConnection(t *testing.T) {
	backend := newFakeBackend(t)
	m, _ := newTestMonitor(t, backend)

	m.Authenticate("sess-1")
	conn := backend.accept(t)

	backend.push(t, conn, wire.EventOnlineCheck, []wire.Member{
		{ID: "u1", FirstName: "Ada", LastName: "Byrne"},
		{ID: "u2", FirstName: "Lev", LastName: "Okafor"},
	})
	waitFor(t, func() bool { return len(m.OnlineMembers()) == 2 })

	backend.push(t, conn, wire.EventMessages, wire.Notification{
		ID: "n1", Sender: "dispatch", Message: "Crew B is short-handed",
	})
	waitFor(t, func() bool { return m.BadgeCount() == 1 })

	backend.push(t, conn, wire.EventUserLocation, wire.WorkerLocation{
		User: "Ada Byrne",
		Location: wire.Location{
			Latitude: 52.1, Longitude: 4.3, Address: "Dock 9",
			Timestamp: time.Now().UnixMilli(),
		},
	})
	waitFor(t, func() bool { return len(m.WorkerLocations()) == 1 })

	if got := m.Notifications()[0].ID; got != "n1" {
		t.Fatalf("notification id = %q, want n1", got)
	}
}

func TestMonitorAttendanceAndProfile(t *testing.T) {
	backend := newFakeBackend(t)
	m, _ := newTestMonitor(t, backend)

	m.Authenticate("sess-1")
	backend.accept(t)

	waitFor(t, func() bool { return len(m.ClockSnapshot().In) == 1 })
	waitFor(t, func() bool { return m.DisplayName() == "Morgan Avery" })

	if got := m.ClockSnapshot().In[0].Name; got != "Dana Reyes" {
		t.Fatalf("clocked-in name = %q, want Dana Reyes", got)
	}
}

func TestMonitorMutatorsReachServer(t *testing.T) {
	backend := newFakeBackend(t)
	m, _ := newTestMonitor(t, backend)

	m.Authenticate("sess-1")
	backend.accept(t)
	waitFor(t, func() bool { return m.ConnectionState() == transport.Connected })

	m.SendLocation(wire.Location{Latitude: 52.0, Longitude: 4.0, Address: "HQ"})
	m.DeleteNotification("n1")
	m.DeleteAllNotifications()

	waitFor(t, func() bool { return len(backend.sentEvents()) == 3 })
	want := []string{wire.EventUserLocation, wire.EventDeleteNotification, wire.EventDeleteAllNotifications}
	got := backend.sentEvents()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sent[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if m.LastSelfReport() == nil || m.LastSelfReport().Address != "HQ" {
		t.Fatal("last self report not recorded")
	}
	if m.LastSelfReport().Timestamp == nil {
		t.Fatal("self report timestamp not stamped")
	}
}

func TestMonitorLogoutClearsEverything(t *testing.T) {
	backend := newFakeBackend(t)
	m, _ := newTestMonitor(t, backend)

	m.Authenticate("sess-1")
	conn := backend.accept(t)
	backend.push(t, conn, wire.EventMessages, wire.Notification{ID: "n1"})
	waitFor(t, func() bool { return m.BadgeCount() == 1 })

	m.Logout(context.Background())

	waitFor(t, func() bool { return !m.SessionActive() })
	waitFor(t, func() bool { return m.BadgeCount() == 0 })
	waitFor(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.logoutCalls == 1
	})
	if len(m.OnlineMembers()) != 0 || len(m.WorkerLocations()) != 0 {
		t.Fatal("feeds not cleared after logout")
	}
}

func TestMonitorServerForcedLogout(t *testing.T) {
	backend := newFakeBackend(t)
	m, nav := newTestMonitor(t, backend)

	m.Authenticate("sess-1")
	conn := backend.accept(t)
	waitFor(t, func() bool { return m.ConnectionState() == transport.Connected })

	backend.push(t, conn, wire.EventDisconnect, wire.ReasonServerClose)

	waitFor(t, func() bool { return !m.SessionActive() })
	waitFor(t, func() bool { return nav.entryCount() == 1 })

	// The dead token must not trigger a reconnect.
	select {
	case <-backend.conns:
		t.Fatal("reconnected after a server-initiated close")
	case <-time.After(100 * time.Millisecond):
	}
}

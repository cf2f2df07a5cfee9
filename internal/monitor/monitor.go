// Package monitor assembles the real-time monitoring session: session store,
// transport connector, the three live feeds, the attendance poller, and the
// lifecycle coordinator, built once per running client and torn down as one
// unit.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/crewsight/crewsight/internal/attendance"
	"github.com/crewsight/crewsight/internal/backoff"
	"github.com/crewsight/crewsight/internal/config"
	"github.com/crewsight/crewsight/internal/geo"
	"github.com/crewsight/crewsight/internal/lifecycle"
	"github.com/crewsight/crewsight/internal/notify"
	"github.com/crewsight/crewsight/internal/observability"
	"github.com/crewsight/crewsight/internal/presence"
	"github.com/crewsight/crewsight/internal/session"
	"github.com/crewsight/crewsight/internal/transport"
	"github.com/crewsight/crewsight/internal/wire"
)

// Monitor is the one handle the embedding app (or the CLI) holds. External
// consumers read state or call the narrow mutators; collections are never
// mutated directly.
type Monitor struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	store       *session.Store
	connector   *transport.Connector
	presence    *presence.Feed
	inbox       *notify.Feed
	locations   *geo.Feed
	api         *attendance.Client
	poller      *attendance.Poller
	coordinator *lifecycle.Coordinator

	mu       sync.Mutex
	started  bool
	unsubs   []func()
	lastSelf *wire.Location
}

// New wires a monitoring session from configuration. Nothing runs until
// Start; nav receives the coordinator's navigation calls.
func New(cfg *config.Config, nav lifecycle.Navigator, logger *slog.Logger, metrics *observability.Metrics) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}

	store := session.NewStore()
	connector := transport.NewConnector(transport.Config{
		SocketURL: cfg.Server.SocketURL,
		Backoff: backoff.Policy{
			InitialMs: cfg.Reconnect.InitialMs,
			MaxMs:     cfg.Reconnect.MaxMs,
			Factor:    cfg.Reconnect.Factor,
			Jitter:    cfg.Reconnect.Jitter,
		},
	}, store, observability.WithComponent(logger, "transport"), metrics)

	api := attendance.NewClient(cfg.Server.BaseURL, store.Token,
		observability.WithComponent(logger, "api"))

	m := &Monitor{
		logger:    logger,
		metrics:   metrics,
		store:     store,
		connector: connector,
		presence:  presence.NewFeed(observability.WithComponent(logger, "presence"), metrics),
		inbox:     notify.NewFeed(connector, observability.WithComponent(logger, "notify"), metrics),
		locations: geo.NewFeed(cfg.Session.Staleness, cfg.Session.SweepInterval,
			observability.WithComponent(logger, "geo"), metrics),
		api:    api,
		poller: attendance.NewPoller(api, cfg.Session.PollInterval, observability.WithComponent(logger, "attendance"), metrics),
	}
	m.coordinator = lifecycle.New(store, connector, api.Logout, nav, cfg.Session.TapCooldown,
		observability.WithComponent(logger, "lifecycle"))
	return m
}

// Start subscribes the feeds to the connection and begins tracking the
// session token. Idempotent.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true

	m.unsubs = append(m.unsubs,
		m.connector.Subscribe(wire.EventOnlineCheck, m.presence.HandleSnapshot),
		m.connector.Subscribe(wire.EventMessages, m.inbox.HandleMessages),
		m.connector.Subscribe(wire.EventUserLocation, m.locations.HandleLocation),
		m.connector.Subscribe(wire.EventNotificationDeleted, m.inbox.HandleDeleted),
		m.connector.Subscribe(wire.EventAllNotificationsDeleted, func(json.RawMessage) {
			m.inbox.HandleClearedAll()
		}),
		m.store.OnTokenChange(m.handleToken),
	)
	m.connector.OnDeliberateClose(m.coordinator.HandleDeliberateClose)
	m.mu.Unlock()

	m.coordinator.Start()
	m.connector.Start()

	if m.store.Active() {
		m.poller.Start()
	}
}

// Close tears the session down: polling, sweeps, the connection, and every
// subscription. The monitor cannot be restarted.
func (m *Monitor) Close() {
	m.mu.Lock()
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	m.poller.Stop()
	m.coordinator.Stop()
	m.connector.Close()
	m.locations.Reset()
}

// handleToken gates the poller and clears feed state when the session ends.
func (m *Monitor) handleToken(token string) {
	if token == "" {
		m.poller.Stop()
		m.poller.Reset()
		m.presence.Reset()
		m.inbox.Reset()
		m.locations.Reset()
		return
	}

	m.poller.Start()
	go m.seedDisplayName()
}

// seedDisplayName fills the store from the profile endpoint, best-effort.
func (m *Monitor) seedDisplayName() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name, err := m.api.FetchProfile(ctx)
	if err != nil {
		m.logger.Debug("profile fetch failed", "error", err)
		return
	}
	m.store.SetDisplayName(name)
}

// Authenticate installs a session token obtained from the login flow. The
// connection, feeds, and poller all follow from it.
func (m *Monitor) Authenticate(token string) {
	m.store.SetToken(token)
}

// SetPushToken records the device push token used as auxiliary auth
// metadata on the next connection.
func (m *Monitor) SetPushToken(token string) {
	m.store.SetPushToken(token)
}

// Logout runs the explicit logout path: disconnect, best-effort logout
// call, token cleared regardless.
func (m *Monitor) Logout(ctx context.Context) {
	m.coordinator.Logout(ctx)
}

// NotificationTapped reports that the user activated the app from a
// notification.
func (m *Monitor) NotificationTapped() {
	m.coordinator.NotificationTapped()
}

// SendLocation reports the manager's own position outward. A zero Timestamp
// is stamped with the current epoch milliseconds. Dropped silently while
// disconnected.
func (m *Monitor) SendLocation(loc wire.Location) {
	if loc.Timestamp == nil {
		loc.Timestamp = time.Now().UnixMilli()
	}

	m.mu.Lock()
	m.lastSelf = &loc
	m.mu.Unlock()

	m.connector.Send(wire.EventUserLocation, loc)
}

// LastSelfReport returns the most recent self-position report, or nil.
func (m *Monitor) LastSelfReport() *wire.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastSelf == nil {
		return nil
	}
	out := *m.lastSelf
	return &out
}

// DeleteNotification requests removal of one notification.
func (m *Monitor) DeleteNotification(id string) {
	m.inbox.Delete(id)
}

// DeleteAllNotifications requests removal of every notification.
func (m *Monitor) DeleteAllNotifications() {
	m.inbox.DeleteAll()
}

// ConnectionState returns the transport state.
func (m *Monitor) ConnectionState() transport.State {
	return m.connector.State()
}

// SessionActive reports whether a session token is present.
func (m *Monitor) SessionActive() bool {
	return m.store.Active()
}

// SessionState returns the coordinator's state.
func (m *Monitor) SessionState() lifecycle.State {
	return m.coordinator.State()
}

// DisplayName returns the manager's display name, when known.
func (m *Monitor) DisplayName() string {
	return m.store.DisplayName()
}

// OnlineMembers returns the current presence set.
func (m *Monitor) OnlineMembers() []wire.Member {
	return m.presence.Members()
}

// Notifications returns the inbox, newest-known-first.
func (m *Monitor) Notifications() []wire.Notification {
	return m.inbox.Notifications()
}

// BadgeCount is the live inbox length.
func (m *Monitor) BadgeCount() int {
	return m.inbox.BadgeCount()
}

// WorkerLocations returns the live worker position map.
func (m *Monitor) WorkerLocations() map[string]geo.Entry {
	return m.locations.Locations()
}

// ClockSnapshot returns today's clock activity.
func (m *Monitor) ClockSnapshot() attendance.Snapshot {
	return m.poller.Snapshot()
}

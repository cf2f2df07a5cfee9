// Package transport owns the persistent monitoring connection.
//
// The connector keeps exactly one websocket per non-empty session token. A
// token change tears down the old connection before the new one opens; an
// empty token means zero connections. Transient network loss is handled here
// with jittered exponential backoff; only an explicit deliberate-close signal
// from the server stops the reconnect loop and escalates to the lifecycle
// coordinator.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crewsight/crewsight/internal/backoff"
	"github.com/crewsight/crewsight/internal/observability"
	"github.com/crewsight/crewsight/internal/session"
	"github.com/crewsight/crewsight/internal/wire"
)

// State is the connection state visible to consumers.
type State int

const (
	// Disconnected means no live connection exists right now.
	Disconnected State = iota
	// Connected means the websocket is established and authenticated.
	Connected
)

// String implements fmt.Stringer.
func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

const (
	defaultPingInterval = 15 * time.Second
	defaultPongWait     = 45 * time.Second
	defaultWriteWait    = 10 * time.Second
)

// Handler receives the payload of one inbound named event. Handlers run
// synchronously on the read loop, so inbound events are processed strictly
// in arrival order.
type Handler func(payload json.RawMessage)

// Config configures a Connector.
type Config struct {
	// SocketURL is the websocket endpoint.
	SocketURL string

	// Backoff is the reconnect policy. Zero value means ReconnectPolicy.
	Backoff backoff.Policy

	// PingInterval, PongWait, and WriteWait tune keepalive behavior and
	// default sensibly when zero.
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
}

// Connector multiplexes the live feeds over one reconnecting websocket.
type Connector struct {
	config  Config
	store   *session.Store
	logger  *slog.Logger
	metrics *observability.Metrics
	dialer  *websocket.Dialer

	mu           sync.RWMutex
	state        State
	conn         *websocket.Conn
	handlers     map[string][]subscription
	nextSubID    int
	onDeliberate func(reason string)

	writeMu sync.Mutex

	runMu       sync.Mutex
	activeToken string
	cancel      context.CancelFunc
	doneCh      chan struct{}
	unsubscribe func()
	closed      bool
}

type subscription struct {
	id      int
	handler Handler
}

// NewConnector creates a connector bound to the session store. It opens
// nothing until Start.
func NewConnector(config Config, store *session.Store, logger *slog.Logger, metrics *observability.Metrics) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Backoff == (backoff.Policy{}) {
		config.Backoff = backoff.ReconnectPolicy()
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaultPingInterval
	}
	if config.PongWait <= 0 {
		config.PongWait = defaultPongWait
	}
	if config.WriteWait <= 0 {
		config.WriteWait = defaultWriteWait
	}
	return &Connector{
		config:   config,
		store:    store,
		logger:   logger,
		metrics:  metrics,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		handlers: make(map[string][]subscription),
	}
}

// OnDeliberateClose registers the hook invoked when the server (or this
// client) intentionally terminates the session. Must be set before Start.
func (c *Connector) OnDeliberateClose(fn func(reason string)) {
	c.mu.Lock()
	c.onDeliberate = fn
	c.mu.Unlock()
}

// Start begins tracking the session token: the connector opens a connection
// for the current token (if any) and re-keys on every change.
func (c *Connector) Start() {
	c.runMu.Lock()
	if c.closed || c.unsubscribe != nil {
		c.runMu.Unlock()
		return
	}
	c.unsubscribe = c.store.OnTokenChange(c.applyToken)
	c.runMu.Unlock()

	c.applyToken(c.store.Token())
}

// Close tears everything down: the token subscription, any live connection,
// and any pending reconnect attempt. The connector cannot be restarted.
func (c *Connector) Close() {
	c.runMu.Lock()
	if c.closed {
		c.runMu.Unlock()
		return
	}
	c.closed = true
	unsubscribe := c.unsubscribe
	c.runMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.applyToken("")
}

// State returns the current connection state.
func (c *Connector) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Subscribe registers a handler for an inbound named event. The returned
// function removes the subscription.
func (c *Connector) Subscribe(event string, handler Handler) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.handlers[event] = append(c.handlers[event], subscription{id: id, handler: handler})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		subs := c.handlers[event]
		for i, s := range subs {
			if s.id == id {
				c.handlers[event] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
	}
}

// Send emits a named event outbound. While disconnected it is a silent
// no-op: logged and counted, never queued, never an error to the caller.
func (c *Connector) Send(event string, payload any) {
	c.mu.RLock()
	conn := c.conn
	connected := c.state == Connected
	c.mu.RUnlock()

	if !connected || conn == nil {
		c.metrics.EmitDropped(event)
		c.logger.Debug("dropping outbound event while disconnected", "event", event)
		return
	}

	frame, err := wire.NewFrame(event, payload)
	if err != nil {
		c.logger.Warn("dropping unencodable outbound event", "event", event, "error", err)
		return
	}

	if err := c.writeFrame(conn, frame); err != nil {
		c.logger.Debug("outbound event write failed", "event", event, "error", err)
	}
}

// writeFrame serializes writes; gorilla connections allow one writer at a time.
func (c *Connector) writeFrame(conn *websocket.Conn, frame wire.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait)) //nolint:errcheck // deadline errors surface on write
	return conn.WriteMessage(websocket.TextMessage, data)
}

// applyToken re-keys the connection: tear down whatever exists, then open a
// session loop for the new token if it is non-empty. Serialized so rapid
// token churn cannot interleave setups.
func (c *Connector) applyToken(token string) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel != nil {
		c.cancel()
		<-c.doneCh
		c.cancel = nil
		c.doneCh = nil
	}
	c.activeToken = token

	if token == "" || c.closed {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.doneCh = make(chan struct{})

	go c.runSession(ctx, token, c.store.PushToken(), c.doneCh)
}

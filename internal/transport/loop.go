package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/crewsight/crewsight/internal/backoff"
	"github.com/crewsight/crewsight/internal/wire"
)

// Disconnect tears down any live connection and pending reconnect attempts
// without touching the session token. The connector stays bound to the
// store, so a later token change reconnects.
func (c *Connector) Disconnect() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		c.cancel()
		<-c.doneCh
		c.cancel = nil
		c.doneCh = nil
	}
}

// runSession keeps one token's connection alive until the context is
// cancelled or the server deliberately closes the session. Network loss is
// retried with backoff; a deliberate close stops the loop and escalates.
func (c *Connector) runSession(ctx context.Context, token, pushToken string, doneCh chan struct{}) {
	defer close(doneCh)

	for attempt := 1; ; attempt++ {
		conn, connID, err := c.dial(ctx, token, pushToken)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("dial failed, backing off", "attempt", attempt, "error", err)
			if backoff.SleepAttempt(ctx, c.config.Backoff, attempt) != nil {
				return
			}
			continue
		}

		attempt = 0 // established; next failure backs off from scratch

		reason, deliberate := c.serve(ctx, conn, connID)
		if ctx.Err() != nil {
			return
		}
		if deliberate {
			c.metrics.Disconnected("deliberate")
			c.logger.Info("session terminated by deliberate close", "reason", reason, "conn_id", connID)
			c.mu.RLock()
			hook := c.onDeliberate
			c.mu.RUnlock()
			if hook != nil {
				// A fresh goroutine: the hook clears the session token,
				// which synchronously waits for this loop to finish.
				go hook(reason)
			}
			return
		}

		c.metrics.Disconnected("network")
		c.logger.Info("connection lost, reconnecting", "conn_id", connID)
	}
}

// dial opens and authenticates one websocket. The session token travels as a
// cookie credential on the handshake; the push token follows in the hello
// frame as auxiliary auth metadata.
func (c *Connector) dial(ctx context.Context, token, pushToken string) (*websocket.Conn, string, error) {
	header := http.Header{}
	header.Set("Cookie", "connect.sid="+token)

	conn, resp, err := c.dialer.DialContext(ctx, c.config.SocketURL, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close() //nolint:errcheck // best-effort cleanup
		}
		return nil, "", err
	}

	frame, err := wire.NewFrame(wire.EventConnect, wire.Hello{PushToken: pushToken})
	if err == nil {
		err = c.writeFrame(conn, frame)
	}
	if err != nil {
		_ = conn.Close() //nolint:errcheck // best-effort cleanup
		return nil, "", err
	}

	return conn, uuid.NewString(), nil
}

// serve runs one established connection until it drops. Returns the
// disconnect reason and whether it was a deliberate close.
func (c *Connector) serve(ctx context.Context, conn *websocket.Conn, connID string) (string, bool) {
	c.mu.Lock()
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	c.metrics.Connected()
	c.logger.Info("monitoring connection established", "conn_id", connID)
	c.dispatch(wire.EventConnect, nil)

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.state = Disconnected
		c.mu.Unlock()
	}()

	// Close the socket when the session context ends so the blocked read
	// returns; also drives the keepalive pings.
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go c.keepalive(pingCtx, conn)

	_ = conn.SetReadDeadline(time.Now().Add(c.config.PongWait)) //nolint:errcheck // deadline errors surface on read
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close() //nolint:errcheck // best-effort cleanup
			if ctx.Err() != nil {
				return "", false
			}
			c.logger.Debug("read failed", "conn_id", connID, "error", err)
			return "", false
		}

		var frame wire.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("discarding unparsable frame", "conn_id", connID, "error", err)
			continue
		}

		c.metrics.EventReceived(frame.Event)

		if frame.Event == wire.EventDisconnect {
			var reason string
			_ = json.Unmarshal(frame.Payload, &reason) //nolint:errcheck // empty reason reads as network drop
			if wire.DeliberateClose(reason) {
				_ = conn.Close() //nolint:errcheck // best-effort cleanup
				return reason, true
			}
			c.logger.Debug("transient disconnect notice", "conn_id", connID, "reason", reason)
			continue
		}

		c.dispatch(frame.Event, frame.Payload)
	}
}

// keepalive pings until the connection's context ends, then closes the
// socket to unblock the reader.
func (c *Connector) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close() //nolint:errcheck // best-effort cleanup
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// dispatch fans one inbound event out to its subscribers, in subscription
// order, on the read loop goroutine.
func (c *Connector) dispatch(event string, payload json.RawMessage) {
	c.mu.RLock()
	subs := make([]subscription, len(c.handlers[event]))
	copy(subs, c.handlers[event])
	c.mu.RUnlock()

	for _, s := range subs {
		s.handler(payload)
	}
}

// Package lifecycle coordinates session state with the transport, the
// logout call, and navigation.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/crewsight/crewsight/internal/session"
	"github.com/crewsight/crewsight/internal/wire"
)

// State is the coordinator's view of the session.
type State int

const (
	// NoSession means no token is present; feeds are quiet.
	NoSession State = iota
	// Active means a token is present and the monitoring session runs.
	Active
	// TerminatingByServer is the transient step while a server-initiated
	// close is unwound into NoSession.
	TerminatingByServer
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case TerminatingByServer:
		return "terminating-by-server"
	default:
		return "no-session"
	}
}

// Transport is the slice of the connector the coordinator drives.
type Transport interface {
	Send(event string, payload any)
	Disconnect()
}

// Navigator moves the UI between routes. Implemented by the embedding app;
// the CLI fakes it.
type Navigator interface {
	// NavigateToNotifications opens the notification inbox.
	NavigateToNotifications()
	// NavigateToEntry returns to the unauthenticated entry point.
	NavigateToEntry()
}

// LogoutFunc destroys the server-side session. Best-effort: the coordinator
// proceeds with local teardown whether or not it succeeds.
type LogoutFunc func(ctx context.Context) error

// Coordinator reacts to forced disconnects and unrecoverable auth failures
// by invalidating the session store, and reconciles notification taps that
// arrive before authentication completes.
type Coordinator struct {
	store     *session.Store
	transport Transport
	logout    LogoutFunc
	nav       Navigator
	logger    *slog.Logger
	now       func() time.Time
	cooldown  time.Duration

	mu          sync.Mutex
	state       State
	pendingTap  bool
	lastNavAt   time.Time
	unsubscribe func()
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock injects the time source, for cooldown tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator. cooldown is the window during which duplicate
// tap deliveries are suppressed after a navigation.
func New(store *session.Store, transport Transport, logout LogoutFunc, nav Navigator,
	cooldown time.Duration, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		store:     store,
		transport: transport,
		logout:    logout,
		nav:       nav,
		logger:    logger,
		now:       time.Now,
		cooldown:  cooldown,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins tracking the session token. The current token is applied
// immediately, so a coordinator started against a logged-in store comes up
// Active.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.unsubscribe == nil {
		c.unsubscribe = c.store.OnTokenChange(c.handleToken)
	}
	c.mu.Unlock()

	c.handleToken(c.store.Token())
}

// Stop removes the token subscription.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// State returns the coordinator's current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Logout performs the explicit, manager-initiated logout: announce it on the
// wire, disconnect, then issue the logout call and clear the token whatever
// the call's outcome.
func (c *Coordinator) Logout(ctx context.Context) {
	c.transport.Send(wire.EventEmployeeLoggedOut, nil)
	c.transport.Disconnect()

	if err := c.logout(ctx); err != nil {
		c.logger.Warn("logout call failed, clearing session anyway", "error", err)
	}
	c.store.Clear()
}

// HandleDeliberateClose is the forced-logout path, wired to the transport's
// deliberate-close hook. Best-effort logout, clear the token, return to the
// unauthenticated entry point.
func (c *Coordinator) HandleDeliberateClose(reason string) {
	c.mu.Lock()
	c.state = TerminatingByServer
	c.mu.Unlock()

	c.logger.Info("session terminated by server", "reason", reason)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.logout(ctx); err != nil {
		c.logger.Debug("best-effort logout failed", "error", err)
	}

	c.store.Clear()
	c.nav.NavigateToEntry()
}

// NotificationTapped handles a notification-activation event. With no
// session it records the tap for after login; with an active session it
// navigates, suppressing duplicate deliveries inside the cooldown window.
func (c *Coordinator) NotificationTapped() {
	c.mu.Lock()
	if c.state != Active {
		c.pendingTap = true
		c.mu.Unlock()
		c.logger.Debug("notification tap deferred until login")
		return
	}

	fire := c.armNavigationLocked()
	c.mu.Unlock()

	if fire {
		c.nav.NavigateToNotifications()
	} else {
		c.logger.Debug("duplicate notification tap suppressed")
	}
}

// handleToken applies a token change from the store.
func (c *Coordinator) handleToken(token string) {
	c.mu.Lock()
	if token == "" {
		c.state = NoSession
		c.mu.Unlock()
		return
	}

	c.state = Active
	fire := false
	if c.pendingTap {
		// Consume the pending tap exactly once on the first transition
		// into Active.
		c.pendingTap = false
		fire = c.armNavigationLocked()
	}
	c.mu.Unlock()

	if fire {
		c.logger.Info("session ready, fulfilling pending notification tap")
		c.nav.NavigateToNotifications()
	}
}

// armNavigationLocked applies the cooldown guard: at most one navigation per
// window. Must be called with c.mu held.
func (c *Coordinator) armNavigationLocked() bool {
	now := c.now()
	if !c.lastNavAt.IsZero() && now.Sub(c.lastNavAt) < c.cooldown {
		return false
	}
	c.lastNavAt = now
	return true
}

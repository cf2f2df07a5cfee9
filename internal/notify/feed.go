// Package notify maintains the manager's notification inbox.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/crewsight/crewsight/internal/observability"
	"github.com/crewsight/crewsight/internal/wire"
)

// Sender emits a named event outbound. Emissions while disconnected are
// dropped silently by the transport, so callers never see an error here.
type Sender interface {
	Send(event string, payload any)
}

// Feed consumes inbound notification events and exposes the delete
// round-trips. Local removal always happens on the server's confirmation
// event, never optimistically, so a deletion pushed by the server for another
// device session applies the same way.
type Feed struct {
	logger  *slog.Logger
	metrics *observability.Metrics
	sender  Sender

	mu            sync.RWMutex
	notifications []wire.Notification
}

// NewFeed creates an empty notification feed.
func NewFeed(sender Sender, logger *slog.Logger, metrics *observability.Metrics) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{logger: logger, metrics: metrics, sender: sender}
}

// HandleMessages applies one inbound messages payload, which carries either a
// single notification or a list. Incoming entries are prepended and the
// combined collection deduplicated by id, first occurrence winning: a freshly
// arrived copy takes the new position and the stored duplicate is dropped.
func (f *Feed) HandleMessages(payload json.RawMessage) {
	incoming, err := normalize(payload)
	if err != nil {
		f.logger.Warn("discarding malformed messages payload", "error", err)
		return
	}
	if len(incoming) == 0 {
		return
	}

	f.mu.Lock()
	combined := make([]wire.Notification, 0, len(incoming)+len(f.notifications))
	combined = append(combined, incoming...)
	combined = append(combined, f.notifications...)

	seen := make(map[string]struct{}, len(combined))
	deduped := combined[:0]
	for _, n := range combined {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		deduped = append(deduped, n)
	}
	f.notifications = deduped
	count := len(deduped)
	f.mu.Unlock()

	f.metrics.SetNotificationBadge(count)
	f.logger.Debug("notifications updated", "incoming", len(incoming), "total", count)
}

// HandleDeleted removes one notification by id on the server's confirmation.
func (f *Feed) HandleDeleted(payload json.RawMessage) {
	var id string
	if err := json.Unmarshal(payload, &id); err != nil {
		f.logger.Warn("discarding malformed deletion event", "error", err)
		return
	}

	f.mu.Lock()
	kept := f.notifications[:0]
	for _, n := range f.notifications {
		if n.ID != id {
			kept = append(kept, n)
		}
	}
	f.notifications = kept
	count := len(kept)
	f.mu.Unlock()

	f.metrics.SetNotificationBadge(count)
}

// HandleClearedAll empties the inbox on the server's confirmation.
func (f *Feed) HandleClearedAll() {
	f.mu.Lock()
	f.notifications = nil
	f.mu.Unlock()
	f.metrics.SetNotificationBadge(0)
}

// Delete requests removal of one notification. The local copy stays until
// the server confirms with a notification_deleted event.
func (f *Feed) Delete(id string) {
	f.sender.Send(wire.EventDeleteNotification, wire.DeleteNotificationRequest{NotificationID: id})
}

// DeleteAll requests removal of every notification.
func (f *Feed) DeleteAll() {
	f.sender.Send(wire.EventDeleteAllNotifications, nil)
}

// Notifications returns a copy of the inbox, newest-known-first.
func (f *Feed) Notifications() []wire.Notification {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]wire.Notification, len(f.notifications))
	copy(out, f.notifications)
	return out
}

// BadgeCount is the live inbox length, recomputed on every read.
func (f *Feed) BadgeCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.notifications)
}

// Reset empties the inbox, used when the session ends.
func (f *Feed) Reset() {
	f.mu.Lock()
	f.notifications = nil
	f.mu.Unlock()
	f.metrics.SetNotificationBadge(0)
}

// normalize decodes the polymorphic messages payload into a uniform list.
func normalize(payload json.RawMessage) ([]wire.Notification, error) {
	var list []wire.Notification
	if err := json.Unmarshal(payload, &list); err == nil {
		return list, nil
	}

	var single wire.Notification
	if err := json.Unmarshal(payload, &single); err != nil {
		return nil, err
	}
	return []wire.Notification{single}, nil
}

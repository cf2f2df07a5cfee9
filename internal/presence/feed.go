// Package presence maintains the set of currently-online members.
package presence

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/crewsight/crewsight/internal/observability"
	"github.com/crewsight/crewsight/internal/wire"
)

// Feed consumes presence snapshots from the connection. Every snapshot
// wholesale-replaces the set; the server is trusted to have deduplicated and
// ordered it, so there is no client-side merge.
type Feed struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	members []wire.Member
}

// NewFeed creates an empty presence feed.
func NewFeed(logger *slog.Logger, metrics *observability.Metrics) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{logger: logger, metrics: metrics}
}

// HandleSnapshot applies one presence snapshot payload. A malformed payload
// is logged and ignored, leaving the previous set in place.
func (f *Feed) HandleSnapshot(payload json.RawMessage) {
	var members []wire.Member
	if err := json.Unmarshal(payload, &members); err != nil {
		f.logger.Warn("discarding malformed presence snapshot", "error", err)
		return
	}

	f.mu.Lock()
	f.members = members
	f.mu.Unlock()

	f.metrics.SetOnlineMembers(len(members))
	f.logger.Debug("presence snapshot applied", "online", len(members))
}

// Members returns a copy of the current set, in the order last received.
func (f *Feed) Members() []wire.Member {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]wire.Member, len(f.members))
	copy(out, f.members)
	return out
}

// Len returns the current set size.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.members)
}

// Reset empties the set, used when the session ends.
func (f *Feed) Reset() {
	f.mu.Lock()
	f.members = nil
	f.mu.Unlock()
	f.metrics.SetOnlineMembers(0)
}

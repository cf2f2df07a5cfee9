// Package geo maintains live worker positions and expires silent reporters.
package geo

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/crewsight/crewsight/internal/observability"
	"github.com/crewsight/crewsight/internal/wire"
)

// overlapOffset is the perturbation span in degrees (~11m) applied when two
// distinct workers report exactly the same coordinate. Cosmetic only: the map
// must keep both markers visually distinguishable, the perturbed value is not
// the true position.
const overlapOffset = 1e-4

// Entry is one worker's last known position, keyed by display name.
type Entry struct {
	Latitude  float64
	Longitude float64
	Address   string
	// Timestamp is the report time as received on the wire: an integer
	// epoch in milliseconds or a date string. Interpreted by the sweep.
	Timestamp any
}

// Feed consumes worker location events. Entries live until the staleness
// sweep removes them; the sweep runs only while the map is non-empty.
type Feed struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	staleness     time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	randFloat     func() float64

	mu      sync.Mutex
	entries map[string]Entry

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Feed.
type Option func(*Feed)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Feed) { f.now = now }
}

// WithRand injects the perturbation randomness source, for tests.
// The function must return values in [0.0, 1.0).
func WithRand(fn func() float64) Option {
	return func(f *Feed) { f.randFloat = fn }
}

// NewFeed creates an empty geo feed. staleness is the age past which an entry
// expires; sweepInterval is how often expiry is evaluated.
func NewFeed(staleness, sweepInterval time.Duration, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Feed{
		logger:        logger,
		metrics:       metrics,
		staleness:     staleness,
		sweepInterval: sweepInterval,
		now:           time.Now,
		randFloat:     rand.Float64, // #nosec G404 -- cosmetic marker offset, not security material
		entries:       make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// HandleLocation applies one inbound worker location event. If the reported
// coordinate exactly matches another worker's stored coordinate, the new
// report is perturbed before storage; a worker re-reporting their own spot is
// left untouched.
func (f *Feed) HandleLocation(payload json.RawMessage) {
	var ev wire.WorkerLocation
	if err := json.Unmarshal(payload, &ev); err != nil {
		f.logger.Warn("discarding malformed location event", "error", err)
		return
	}
	if ev.User == "" {
		f.logger.Warn("discarding location event without user")
		return
	}

	lat := float64(ev.Location.Latitude)
	lon := float64(ev.Location.Longitude)

	f.mu.Lock()
	if f.collidesLocked(ev.User, lat, lon) {
		lat += f.perturb()
		lon += f.perturb()
		f.logger.Debug("overlapping coordinate perturbed", "user", ev.User)
	}
	f.entries[ev.User] = Entry{
		Latitude:  lat,
		Longitude: lon,
		Address:   ev.Location.Address,
		Timestamp: ev.Location.Timestamp,
	}
	count := len(f.entries)
	f.mu.Unlock()

	f.metrics.SetWorkerLocations(count)
	f.startSweep()
}

// collidesLocked reports whether another worker currently occupies exactly
// (lat, lon). Must be called with f.mu held.
func (f *Feed) collidesLocked(user string, lat, lon float64) bool {
	for name, e := range f.entries {
		if name == user {
			continue
		}
		if e.Latitude == lat && e.Longitude == lon {
			return true
		}
	}
	return false
}

// perturb returns a nonzero offset in (-overlapOffset/2, overlapOffset/2).
func (f *Feed) perturb() float64 {
	o := (f.randFloat() - 0.5) * overlapOffset
	if o == 0 {
		o = overlapOffset / 2
	}
	return o
}

// Locations returns a copy of the current map.
func (f *Feed) Locations() map[string]Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]Entry, len(f.entries))
	for name, e := range f.entries {
		out[name] = e
	}
	return out
}

// Len returns the number of live entries.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Reset empties the map and stops the sweep, used when the session ends.
func (f *Feed) Reset() {
	f.mu.Lock()
	f.entries = make(map[string]Entry)
	f.mu.Unlock()
	f.metrics.SetWorkerLocations(0)
	f.stopSweep()
}

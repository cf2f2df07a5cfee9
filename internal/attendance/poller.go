package attendance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/crewsight/crewsight/internal/observability"
)

// Poller periodically pulls the clock-event snapshot while the session is
// active. One immediate fetch on activation, then a fixed interval. A failed
// or malformed poll leaves the previous snapshot untouched and is logged, not
// escalated.
//
// A tick that fires while the previous fetch is still in flight starts an
// independent fetch; whichever response lands last is the snapshot kept.
type Poller struct {
	client   *Client
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu       sync.RWMutex
	snapshot Snapshot

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
}

// NewPoller creates a poller; it does nothing until Start.
func NewPoller(client *Client, interval time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client:   client,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Start begins polling: one immediate fetch, then one per interval.
// Starting while already running is a no-op.
func (p *Poller) Start() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return
	}
	p.running = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	wg := &sync.WaitGroup{}
	p.wg = wg

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.pollOnce(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				wg.Add(1)
				go func() {
					defer wg.Done()
					p.pollOnce(ctx)
				}()
			}
		}
	}()
}

// Stop halts polling, cancels any in-flight fetch, and waits for every
// outstanding goroutine. Stopping while stopped is a no-op.
func (p *Poller) Stop() {
	p.runMu.Lock()
	if !p.running {
		p.runMu.Unlock()
		return
	}
	p.running = false
	cancel, wg := p.cancel, p.wg
	p.runMu.Unlock()

	cancel()
	wg.Wait()
	p.logger.Debug("attendance polling stopped")
}

// Snapshot returns the last successfully fetched snapshot.
func (p *Poller) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// Reset drops the stored snapshot, used when the session ends.
func (p *Poller) Reset() {
	p.mu.Lock()
	p.snapshot = Snapshot{}
	p.mu.Unlock()
}

// pollOnce performs one fetch-build-replace cycle.
func (p *Poller) pollOnce(ctx context.Context) {
	start := p.now()
	events, err := p.client.FetchClockEvents(ctx)
	elapsed := p.now().Sub(start)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.metrics.RecordPoll("error", elapsed.Seconds())
		p.logger.Debug("clock event poll failed, keeping previous snapshot", "error", err)
		return
	}

	snap := BuildSnapshot(events, p.now())

	p.mu.Lock()
	p.snapshot = snap
	p.mu.Unlock()

	p.metrics.RecordPoll("success", elapsed.Seconds())
	p.logger.Debug("clock snapshot replaced",
		"clocked_in", len(snap.In), "clocked_out", len(snap.Out))
}

package geo

import (
	"strconv"
	"time"
)

// startSweep launches the staleness sweep if it is not already running.
// Starting while running is a no-op, so every location event may call it.
func (f *Feed) startSweep() {
	f.runMu.Lock()
	defer f.runMu.Unlock()
	if f.running {
		return
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})

	go f.run(f.stopCh, f.doneCh)
}

// stopSweep halts the sweep and waits for the loop to exit.
func (f *Feed) stopSweep() {
	f.runMu.Lock()
	if !f.running {
		f.runMu.Unlock()
		return
	}
	f.running = false
	stopCh, doneCh := f.stopCh, f.doneCh
	f.runMu.Unlock()

	close(stopCh)
	<-doneCh
}

func (f *Feed) run(stopCh, doneCh chan struct{}) {
	ticker := time.NewTicker(f.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			close(doneCh)
			return
		case <-ticker.C:
			f.sweepOnce()

			// Self-terminate once the map empties; the next location
			// event restarts the sweep. The identity check keeps a loop
			// that was stopped and superseded from touching the new
			// loop's state.
			f.runMu.Lock()
			if f.running && f.stopCh == stopCh && f.Len() == 0 {
				f.running = false
				f.runMu.Unlock()
				close(doneCh)
				return
			}
			f.runMu.Unlock()
		}
	}
}

// sweepOnce removes every expired entry and returns the remaining count.
// An entry whose timestamp cannot be interpreted is treated as already
// expired rather than retained forever.
func (f *Feed) sweepOnce() int {
	now := f.now()

	f.mu.Lock()
	for name, e := range f.entries {
		reported, ok := parseTimestamp(e.Timestamp)
		switch {
		case !ok:
			delete(f.entries, name)
			f.metrics.SweepRemoved("unparsable")
			f.logger.Info("removed worker location", "user", name, "reason", "unparsable timestamp")
		case now.Sub(reported) > f.staleness:
			delete(f.entries, name)
			f.metrics.SweepRemoved("stale")
			f.logger.Info("removed worker location", "user", name,
				"stale_for", now.Sub(reported).Round(time.Second).String())
		}
	}
	count := len(f.entries)
	f.mu.Unlock()

	f.metrics.SetWorkerLocations(count)
	return count
}

// parseTimestamp interprets a wire timestamp: an integer epoch in
// milliseconds (JSON numbers decode as float64) or a date string.
func parseTimestamp(v any) (time.Time, bool) {
	switch ts := v.(type) {
	case float64:
		return time.UnixMilli(int64(ts)), true
	case int64:
		return time.UnixMilli(ts), true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, ts); err == nil {
				return t, true
			}
		}
		if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
			return time.UnixMilli(ms), true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

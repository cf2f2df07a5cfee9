package attendance

import (
	"sort"
	"time"
)

// Snapshot is today's clock activity split into two ordered lists, both
// sorted ascending by clock-in time.
type Snapshot struct {
	In  []ClockEvent
	Out []ClockEvent
}

// clockInLayouts are the formats the server emits for clock-in times.
var clockInLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"}

// BuildSnapshot filters events down to those whose clock-in date equals
// today's device-local date, sorts them ascending by clock-in time, and
// splits them by status. Events with a missing or unparsable clock-in time
// are excluded.
func BuildSnapshot(events []ClockEvent, today time.Time) Snapshot {
	type timed struct {
		event ClockEvent
		at    time.Time
	}

	todayStr := today.Format("2006-01-02")
	kept := make([]timed, 0, len(events))
	for _, ev := range events {
		if ev.ClockInTime == "" {
			continue
		}
		at, ok := parseClockTime(ev.ClockInTime)
		if !ok {
			continue
		}
		if at.In(today.Location()).Format("2006-01-02") != todayStr {
			continue
		}
		kept = append(kept, timed{event: ev, at: at})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].at.Before(kept[j].at)
	})

	var snap Snapshot
	for _, it := range kept {
		switch it.event.Status {
		case StatusClockedIn:
			snap.In = append(snap.In, it.event)
		case StatusClockedOut:
			snap.Out = append(snap.Out, it.event)
		}
	}
	return snap
}

func parseClockTime(s string) (time.Time, bool) {
	for _, layout := range clockInLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

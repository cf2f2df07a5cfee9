package attendance

import (
	"testing"
	"time"
)

func TestBuildSnapshotFiltersToToday(t *testing.T) {
	today := time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC)
	yesterday := today.Add(-24 * time.Hour)

	events := []ClockEvent{
		{ID: "e1", Name: "Ada", Status: StatusClockedIn, ClockInTime: today.Add(-5 * time.Hour).Format(time.RFC3339)},
		{ID: "e2", Name: "Ben", Status: StatusClockedOut, ClockInTime: yesterday.Format(time.RFC3339)},
		{ID: "e3", Name: "Chi", Status: StatusClockedOut, ClockInTime: today.Add(-2 * time.Hour).Format(time.RFC3339)},
	}

	snap := BuildSnapshot(events, today)

	if len(snap.In) != 1 || snap.In[0].ID != "e1" {
		t.Errorf("in list = %v, want [e1]", snap.In)
	}
	if len(snap.Out) != 1 || snap.Out[0].ID != "e3" {
		t.Errorf("out list = %v, want [e3]", snap.Out)
	}
}

func TestBuildSnapshotSortsAscendingByClockIn(t *testing.T) {
	today := time.Date(2026, 8, 28, 18, 0, 0, 0, time.UTC)

	events := []ClockEvent{
		{ID: "late", Status: StatusClockedIn, ClockInTime: today.Add(-1 * time.Hour).Format(time.RFC3339)},
		{ID: "early", Status: StatusClockedIn, ClockInTime: today.Add(-9 * time.Hour).Format(time.RFC3339)},
		{ID: "mid", Status: StatusClockedIn, ClockInTime: today.Add(-4 * time.Hour).Format(time.RFC3339)},
	}

	snap := BuildSnapshot(events, today)

	if len(snap.In) != 3 {
		t.Fatalf("in list len = %d, want 3", len(snap.In))
	}
	wantOrder := []string{"early", "mid", "late"}
	for i, want := range wantOrder {
		if snap.In[i].ID != want {
			t.Errorf("in[%d] = %s, want %s", i, snap.In[i].ID, want)
		}
	}
}

func TestBuildSnapshotExcludesBadTimes(t *testing.T) {
	today := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	events := []ClockEvent{
		{ID: "none", Status: StatusClockedIn},
		{ID: "bad", Status: StatusClockedIn, ClockInTime: "around noon"},
		{ID: "ok", Status: StatusClockedIn, ClockInTime: today.Format(time.RFC3339)},
	}

	snap := BuildSnapshot(events, today)

	if len(snap.In) != 1 || snap.In[0].ID != "ok" {
		t.Errorf("in list = %v, want [ok]", snap.In)
	}
}

func TestBuildSnapshotIgnoresUnknownStatus(t *testing.T) {
	today := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	events := []ClockEvent{
		{ID: "weird", Status: "on break", ClockInTime: today.Format(time.RFC3339)},
	}

	snap := BuildSnapshot(events, today)
	if len(snap.In) != 0 || len(snap.Out) != 0 {
		t.Errorf("snapshot = %+v, want empty", snap)
	}
}

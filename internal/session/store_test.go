package session

import (
	"testing"
)

func TestSetTokenNotifiesOnChange(t *testing.T) {
	store := NewStore()

	var got []string
	store.OnTokenChange(func(token string) {
		got = append(got, token)
	})

	store.SetToken("tok-1")
	store.SetToken("tok-1") // unchanged, no callback
	store.SetToken("tok-2")
	store.Clear()

	want := []string{"tok-1", "tok-2", ""}
	if len(got) != len(want) {
		t.Fatalf("callbacks = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("callback %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClearDropsIdentityKeepsPushToken(t *testing.T) {
	store := NewStore()
	store.SetToken("tok-1")
	store.SetPushToken("push-abc")
	store.SetDisplayName("Ada Obi")

	store.Clear()

	if store.Active() {
		t.Error("store still active after Clear")
	}
	if store.DisplayName() != "" {
		t.Errorf("display name survived Clear: %q", store.DisplayName())
	}
	if store.PushToken() != "push-abc" {
		t.Errorf("push token = %q, want push-abc", store.PushToken())
	}
}

func TestClearWhileInactiveIsSilent(t *testing.T) {
	store := NewStore()

	calls := 0
	store.OnTokenChange(func(string) { calls++ })

	store.Clear()
	if calls != 0 {
		t.Errorf("Clear on empty store fired %d callbacks", calls)
	}
}

func TestUnsubscribeStopsCallbacks(t *testing.T) {
	store := NewStore()

	calls := 0
	unsubscribe := store.OnTokenChange(func(string) { calls++ })

	store.SetToken("tok-1")
	unsubscribe()
	unsubscribe() // second call is a no-op
	store.SetToken("tok-2")

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

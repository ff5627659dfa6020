package store

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()

	want := []time.Duration{
		5 * time.Second,
		7500 * time.Millisecond,
		11250 * time.Millisecond,
		16875 * time.Millisecond,
		25312500 * time.Microsecond,
	}
	for i, w := range want {
		if got := p.Delay(i); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i, got, w)
		}
	}
	for i := 0; i < len(want)-1; i++ {
		if p.Delay(i+1) != time.Duration(float64(p.Delay(i))*1.5) {
			t.Errorf("Delay(%d) is not 1.5x Delay(%d)", i+1, i)
		}
	}
}

func reconnectFixture(t *testing.T, maxAttempts int) *fixture {
	t.Helper()
	return newFixture(t, Config{
		DebounceWindow: 10 * time.Millisecond,
		Retry:          RetryPolicy{BaseDelay: 2 * time.Millisecond, Multiplier: 1.5, MaxAttempts: maxAttempts},
	})
}

func TestHandleDisconnect_ReconnectsWithLastCWD(t *testing.T) {
	f := reconnectFixture(t, 5)
	view, _ := f.store.OpenRemote(RemoteConfig{Host: "dev", User: "alice"}, "/home/alice/proj")
	oldPane := view.Panes[0]
	f.drain()

	var mu sync.Mutex
	var reopenedCWD string
	f.sessions.openRemoteFn = func(sessionID, cwd string, cols, rows int) (string, error) {
		mu.Lock()
		reopenedCWD = cwd
		mu.Unlock()
		return "ch_new", nil
	}

	f.store.HandleDisconnect("sess_1")

	waitFor(t, time.Second, "reconnect to finish", func() bool {
		got, ok := f.store.Tab(view.ID)
		return ok && got.Reconnect == nil && len(got.Panes) == 1 && got.Panes[0] != oldPane
	})

	mu.Lock()
	cwd := reopenedCWD
	mu.Unlock()
	if cwd != "/home/alice/proj" {
		t.Errorf("expected the last known directory, got %q", cwd)
	}

	got, _ := f.store.Tab(view.ID)
	if got.Layout == nil || got.Layout.Kind != "leaf" {
		t.Errorf("reconnect rebuilds a single pane, got %+v", got.Layout)
	}
	if got.PrimaryPane != got.Panes[0] {
		t.Errorf("new pane must be primary, got %q", got.PrimaryPane)
	}
}

func TestHandleDisconnect_DuplicateSignalIsNoOp(t *testing.T) {
	f := reconnectFixture(t, 5)
	view, _ := f.store.OpenRemote(RemoteConfig{Host: "dev", User: "alice"}, "")
	f.drain()

	block := make(chan struct{})
	var mu sync.Mutex
	connects := 0
	f.sessions.connectFn = func(cfg RemoteConfig) (string, error) {
		mu.Lock()
		connects++
		mu.Unlock()
		<-block
		return "sess_new", nil
	}

	f.store.HandleDisconnect("sess_1")
	f.store.HandleDisconnect("sess_1")
	f.store.HandleDisconnect("sess_1")

	waitFor(t, time.Second, "first attempt to start", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects >= 1
	})
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	got := connects
	mu.Unlock()
	if got != 1 {
		t.Errorf("duplicate disconnect signals must not stack attempts, got %d", got)
	}

	close(block)
	waitFor(t, time.Second, "reconnect to finish", func() bool {
		v, ok := f.store.Tab(view.ID)
		return ok && v.Reconnect == nil && len(v.Panes) == 1
	})
}

func TestHandleDisconnect_ExhaustionClosesTab(t *testing.T) {
	f := reconnectFixture(t, 3)
	view, _ := f.store.OpenRemote(RemoteConfig{Host: "dev", User: "alice"}, "")
	f.drain()

	var mu sync.Mutex
	attempts := 0
	f.sessions.connectFn = func(cfg RemoteConfig) (string, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		return "", fmt.Errorf("no route to host")
	}

	f.store.HandleDisconnect("sess_1")

	waitFor(t, time.Second, "tab to close after exhaustion", func() bool {
		_, ok := f.store.Tab(view.ID)
		return !ok
	})

	mu.Lock()
	got := attempts
	mu.Unlock()
	if got != 3 {
		t.Errorf("expected exactly MaxAttempts connect attempts, got %d", got)
	}

	var failureNotice bool
	for {
		var e Event
		select {
		case e = <-f.store.Events():
		default:
			if !failureNotice {
				t.Error("expected a failure notice")
			}
			return
		}
		if n, ok := e.(Notice); ok && n.Level == "error" {
			failureNotice = true
		}
	}
}

func TestHandleDisconnect_DisabledClosesImmediately(t *testing.T) {
	f := reconnectFixture(t, 5)
	view, _ := f.store.OpenRemote(RemoteConfig{Host: "dev", User: "alice"}, "")
	f.drain()

	// Simulate the per-tab setting being switched off.
	f.store.mu.Lock()
	f.store.tabs[view.ID].ReconnectEnabled = false
	f.store.mu.Unlock()

	var mu sync.Mutex
	connects := 0
	f.sessions.connectFn = func(cfg RemoteConfig) (string, error) {
		mu.Lock()
		connects++
		mu.Unlock()
		return "sess_new", nil
	}

	f.store.HandleDisconnect("sess_1")

	if _, ok := f.store.Tab(view.ID); ok {
		t.Error("tab should close immediately when reconnection is off")
	}
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	got := connects
	mu.Unlock()
	if got != 0 {
		t.Errorf("expected no reconnect attempts, got %d", got)
	}
}

func TestCancelReconnect(t *testing.T) {
	f := reconnectFixture(t, 5)
	// A long base delay keeps the first attempt pending.
	f.store.cfg.Retry.BaseDelay = time.Hour
	view, _ := f.store.OpenRemote(RemoteConfig{Host: "dev", User: "alice"}, "")
	f.drain()

	var mu sync.Mutex
	connects := 0
	f.sessions.connectFn = func(cfg RemoteConfig) (string, error) {
		mu.Lock()
		connects++
		mu.Unlock()
		return "sess_new", nil
	}

	f.store.HandleDisconnect("sess_1")

	got, _ := f.store.Tab(view.ID)
	if got.Reconnect == nil {
		t.Fatal("expected a pending reconnection")
	}

	if err := f.store.CancelReconnect(view.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := f.store.Tab(view.ID); ok {
		t.Error("cancelling must close the tab")
	}
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	attempted := connects
	mu.Unlock()
	if attempted != 0 {
		t.Errorf("cancelled reconnection must not attempt, got %d", attempted)
	}
}

func TestHandleDisconnect_BackoffGrows(t *testing.T) {
	f := reconnectFixture(t, 3)
	if _, err := f.store.OpenRemote(RemoteConfig{Host: "dev", User: "alice"}, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.drain()

	var mu sync.Mutex
	var stamps []time.Time
	f.sessions.connectFn = func(cfg RemoteConfig) (string, error) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		return "", fmt.Errorf("refused")
	}

	f.store.HandleDisconnect("sess_1")
	waitFor(t, 2*time.Second, "all attempts", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(stamps) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	gap1 := stamps[1].Sub(stamps[0])
	gap2 := stamps[2].Sub(stamps[1])
	// Scheduled waits are 3ms then 4.5ms; timer slack only ever adds.
	if gap1 < 3*time.Millisecond {
		t.Errorf("second attempt came before its backoff: %v", gap1)
	}
	if gap2 < 4*time.Millisecond {
		t.Errorf("third attempt came before its backoff: %v", gap2)
	}
}

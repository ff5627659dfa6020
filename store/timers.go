package store

import (
	"sync"
	"time"
)

// timerMap holds at most one pending timer per key. Scheduling for a
// key cancels any timer already pending for it, so a stale timer never
// fires alongside its successor.
type timerMap struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newTimerMap() *timerMap {
	return &timerMap{timers: make(map[string]*time.Timer)}
}

func (m *timerMap) Schedule(key string, d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.timers[key]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		m.mu.Lock()
		if m.timers[key] != t {
			// Superseded or cancelled between firing and running.
			m.mu.Unlock()
			return
		}
		delete(m.timers, key)
		m.mu.Unlock()
		fn()
	})
	m.timers[key] = t
}

func (m *timerMap) Cancel(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.timers[key]
	if !ok {
		return false
	}
	t.Stop()
	delete(m.timers, key)
	return true
}

func (m *timerMap) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, t := range m.timers {
		t.Stop()
		delete(m.timers, key)
	}
}

package service

import "sync"

// stampedeTracker counts in-progress misses per cache key. More than one
// active miss on a key means concurrent callers are all about to hit upstream.
type stampedeTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{active: make(map[string]int)}
}

// Begin registers a miss on key and returns the number of misses now in
// progress for it, including this one. Call done once the fetch resolves.
func (st *stampedeTracker) Begin(key string) (concurrent int, done func()) {
	st.mu.Lock()
	st.active[key]++
	concurrent = st.active[key]
	st.mu.Unlock()

	var once sync.Once
	return concurrent, func() {
		once.Do(func() { st.end(key) })
	}
}

func (st *stampedeTracker) end(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.active[key] <= 1 {
		delete(st.active, key)
		return
	}
	st.active[key]--
}

// inProgress returns the active miss count for key.
func (st *stampedeTracker) inProgress(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active[key]
}

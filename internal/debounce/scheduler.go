// Package debounce coalesces bursts of triggers per key into one deferred call.
package debounce

import (
	"sync"
	"time"
)

// Scheduler runs at most one deferred action per key. Re-scheduling a key
// replaces its action and restarts its delay; different keys never delay each
// other.
//
// The scheduler does not track actions after they start running, so a key can
// be scheduled again while its previous action is still executing.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*pending
	seq    uint64
}

type pending struct {
	timer  *time.Timer
	gen    uint64
	action func()
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		timers: make(map[string]*pending),
	}
}

// Schedule arms key to run action after delay, cancelling whatever was armed
// for key before.
func (s *Scheduler) Schedule(key string, delay time.Duration, action func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.timers[key]; ok {
		p.timer.Stop()
	}

	s.seq++
	gen := s.seq
	p := &pending{gen: gen, action: action}
	p.timer = time.AfterFunc(delay, func() { s.fire(key, gen) })
	s.timers[key] = p
}

// fire runs the action armed under gen. A timer whose Stop came too late
// finds a newer generation (or nothing) and returns without running.
func (s *Scheduler) fire(key string, gen uint64) {
	s.mu.Lock()
	p, ok := s.timers[key]
	if !ok || p.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	s.mu.Unlock()

	p.action()
}

// Cancel discards the action armed for key. It reports whether one existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.timers[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(s.timers, key)
	return true
}

// CancelAll discards every armed action and returns how many there were.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.timers)
	for key, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, key)
	}
	return n
}

// Flush runs the action armed for key right away on the calling goroutine.
func (s *Scheduler) Flush(key string) bool {
	s.mu.Lock()
	p, ok := s.timers[key]
	if ok {
		p.timer.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()

	if ok {
		p.action()
	}
	return ok
}

// FlushAll runs every armed action right away, each on its own goroutine,
// waits for all of them and returns how many ran.
func (s *Scheduler) FlushAll() int {
	s.mu.Lock()
	actions := make([]func(), 0, len(s.timers))
	for key, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, key)
		actions = append(actions, p.action)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, action := range actions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			action()
		}()
	}
	wg.Wait()
	return len(actions)
}

func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

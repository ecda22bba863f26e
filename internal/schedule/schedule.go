// Package schedule runs one-shot tasks keyed by K. Scheduling under a key
// that already has a pending task replaces it. Every task carries a
// generation so a callback that raced with a replacement or a cancel can be
// recognised as stale by whoever consumes it.
package schedule

import (
	"sync"
	"time"
)

type task struct {
	timer *time.Timer
	gen   uint64
}

type Scheduler[K comparable] struct {
	mu    sync.Mutex
	tasks map[K]*task
	gen   uint64
}

func New[K comparable]() *Scheduler[K] {
	return &Scheduler[K]{tasks: make(map[K]*task)}
}

// Schedule arms fn to run once after d and returns the task generation.
// fn runs on its own goroutine; it should hand the key and generation to
// the owner of the state, which then calls Complete.
func (s *Scheduler[K]) Schedule(key K, d time.Duration, fn func(key K, gen uint64)) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.tasks[key]; ok {
		old.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.tasks[key] = &task{
		gen:   gen,
		timer: time.AfterFunc(d, func() { fn(key, gen) }),
	}
	return gen
}

// Complete retires the task for key if gen is still its live generation.
// It returns false for a task that was cancelled, replaced or already
// completed.
func (s *Scheduler[K]) Complete(key K, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if !ok || t.gen != gen {
		return false
	}
	delete(s.tasks, key)
	return true
}

// Cancel is safe on keys that never had a task or whose task already fired.
func (s *Scheduler[K]) Cancel(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, key)
	return true
}

// CancelFunc cancels every pending task whose key satisfies match.
func (s *Scheduler[K]) CancelFunc(match func(K) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, t := range s.tasks {
		if match(key) {
			t.timer.Stop()
			delete(s.tasks, key)
			n++
		}
	}
	return n
}

func (s *Scheduler[K]) Pending(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

func (s *Scheduler[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels everything.
func (s *Scheduler[K]) Stop() {
	s.CancelFunc(func(K) bool { return true })
}

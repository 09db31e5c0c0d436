package concurrency

import (
	"context"
	mathrand "math/rand"
	"sync"
	"time"
)

// Jitter returns the duration +/- 5% to keep periodic loops from
// synchronizing across workers.
func Jitter(duration time.Duration) time.Duration {
	maxJitter := int64(duration) * int64(5) / 100
	if maxJitter == 0 {
		return duration
	}
	return duration + time.Duration(mathrand.Int63n(maxJitter*2)-maxJitter)
}

// Cell holds a single value shared between goroutines and notifies watchers
// when it changes. The zero value is ready to use.
//
// It backs the station's command inbox (the operator channel or the local
// API deposits one request, the command executor takes it) and the status
// snapshot handed to reporting workers.
type Cell[T any] struct {
	lock     sync.Mutex
	current  T
	watchers map[any]chan struct{}
}

func (s *Cell[T]) Get() T {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.current
}

// Swap stores val and returns the previous value. Passing the zero value
// doubles as "take": the command executor uses it to consume the inbox.
func (s *Cell[T]) Swap(val T) T {
	s.lock.Lock()
	defer s.lock.Unlock()
	prev := s.current
	s.current = val
	s.bumpUnlocked()
	return prev
}

// Bump notifies watchers without changing the value.
func (s *Cell[T]) Bump() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.bumpUnlocked()
}

func (s *Cell[T]) bumpUnlocked() {
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch returns a channel that receives a signal whenever the value is
// swapped or bumped. The channel is closed when ctx is canceled.
func (s *Cell[T]) Watch(ctx context.Context) <-chan struct{} {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.watchers == nil {
		s.watchers = map[any]chan struct{}{}
	}

	ch := make(chan struct{}, 1)
	go func() {
		<-ctx.Done()

		s.lock.Lock()
		defer s.lock.Unlock()

		delete(s.watchers, ctx)
		close(ch)
	}()

	s.watchers[ctx] = ch
	return ch
}

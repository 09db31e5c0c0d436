package config

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// FileLockName guards the on-disk configuration file. Every Dynamic source
// shares it with the distributor so a reader never observes a half-adopted
// file.
const FileLockName = "config"

// NamedLock is a context-aware mutex. Acquisition can be abandoned when the
// caller's context is canceled, which matters for workers holding their stop
// signal in a context.
type NamedLock struct {
	sem *semaphore.Weighted
}

func newNamedLock() *NamedLock {
	return &NamedLock{sem: semaphore.NewWeighted(1)}
}

func (l *NamedLock) Lock(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// MustLock acquires the lock without a cancellation point.
func (l *NamedLock) MustLock() {
	// Acquire with Background cannot fail.
	_ = l.sem.Acquire(context.Background(), 1)
}

func (l *NamedLock) Unlock() {
	l.sem.Release(1)
}

// LockSet hands out named locks, creating them on first use. One instance is
// shared per process between the configuration sources and the distributor.
type LockSet struct {
	mu    sync.Mutex
	locks map[string]*NamedLock
}

func NewLockSet() *LockSet {
	return &LockSet{locks: map[string]*NamedLock{}}
}

func (s *LockSet) Get(name string) *NamedLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[name]
	if !ok {
		lock = newNamedLock()
		s.locks[name] = lock
	}
	return lock
}

// FileLock returns the lock guarding the configuration file.
func (s *LockSet) FileLock() *NamedLock {
	return s.Get(FileLockName)
}

// Package mysync provides typed wrappers around the sync package.
package mysync

import (
	"sync"
)

// Mutex guards a value of type T. The value is only reachable while holding the lock, which makes check-then-act
// sequences such as lookup-then-insert atomic by construction.
type Mutex[T any] struct {
	mu sync.RWMutex
	v  T
}

type MutexUnlock struct {
	mu *sync.RWMutex
}

type MutexRUnlock struct {
	mu *sync.RWMutex
}

func NewMutex[T any](v T) *Mutex[T] {
	return &Mutex[T]{v: v}
}

func (mu *Mutex[T]) Lock() (T, MutexUnlock) {
	mu.mu.Lock()
	return mu.v, MutexUnlock{&mu.mu}
}

func (mu *Mutex[T]) RLock() (T, MutexRUnlock) {
	mu.mu.RLock()
	return mu.v, MutexRUnlock{&mu.mu}
}

// Do runs fn with the write lock held.
func (mu *Mutex[T]) Do(fn func(v T)) {
	v, u := mu.Lock()
	defer u.Unlock()
	fn(v)
}

// View runs fn with the read lock held.
func (mu *Mutex[T]) View(fn func(v T)) {
	v, u := mu.RLock()
	defer u.RUnlock()
	fn(v)
}

func (u MutexUnlock) Unlock()   { u.mu.Unlock() }
func (u MutexRUnlock) RUnlock() { u.mu.RUnlock() }

package collections

import (
	"sync"
	"sync/atomic"
)

// Memo is a compute-once cell. The first successful Get runs compute under a
// lock and publishes the value; every later Get returns the same value
// without locking. A failed compute publishes nothing and may be retried.
type Memo[T any] struct {
	mu    sync.Mutex
	value atomic.Pointer[T]
}

// Get returns the cached value, computing it on first use.
func (m *Memo[T]) Get(compute func() (T, error)) (T, error) {
	if v := m.value.Load(); v != nil {
		return *v, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if v := m.value.Load(); v != nil {
		return *v, nil
	}
	v, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}
	m.value.Store(&v)
	return v, nil
}

// MustGet is Get for computations that cannot fail.
func (m *Memo[T]) MustGet(compute func() T) T {
	v, _ := m.Get(func() (T, error) { return compute(), nil })
	return v
}

// Peek returns the cached value if it has been computed.
func (m *Memo[T]) Peek() (T, bool) {
	if v := m.value.Load(); v != nil {
		return *v, true
	}
	var zero T
	return zero, false
}

// Reset drops the cached value.
func (m *Memo[T]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value.Store(nil)
}

// Package signal provides an observable value: a current value plus change
// subscriptions.
package signal

import "sync"

// Value holds a current value of type T and notifies subscribers on Set.
// Subscribers are called synchronously, in subscription order, outside the
// internal lock, so a subscriber may read the value or unsubscribe itself.
type Value[T any] struct {
	mu     sync.RWMutex
	value  T
	subs   map[uint64]func(T)
	order  []uint64
	nextID uint64
	closed bool
}

// New creates a Value holding initial.
func New[T any](initial T) *Value[T] {
	return &Value[T]{
		value: initial,
		subs:  make(map[uint64]func(T)),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set stores value and notifies every subscriber. Set on a closed Value
// only updates the stored value.
func (v *Value[T]) Set(value T) {
	v.mu.Lock()
	v.value = value
	if v.closed {
		v.mu.Unlock()
		return
	}
	fns := make([]func(T), 0, len(v.order))
	for _, id := range v.order {
		if fn, ok := v.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	v.mu.Unlock()

	for _, fn := range fns {
		fn(value)
	}
}

// Subscribe registers fn for future changes. The returned function removes
// the subscription and is safe to call more than once.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed || fn == nil {
		return func() {}
	}

	id := v.nextID
	v.nextID++
	v.subs[id] = fn
	v.order = append(v.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { v.remove(id) })
	}
}

// Close drops every subscriber; later subscriptions are ignored.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.subs = make(map[uint64]func(T))
	v.order = nil
}

// Closed reports whether Close has been called.
func (v *Value[T]) Closed() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.closed
}

// Subscribers returns the number of live subscriptions.
func (v *Value[T]) Subscribers() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.subs)
}

func (v *Value[T]) remove(id uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.subs[id]; !ok {
		return
	}
	delete(v.subs, id)
	for i, existing := range v.order {
		if existing == id {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
}

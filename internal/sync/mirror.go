package sync

import (
	"context"
	"sync"
)

// Mirror is the collection a synchronizer exposes to views.
//
// A mirror is a value replaced as a whole: List returns a copy, and
// every change stores a new slice. Only the owning synchronizer writes
// to it.
type Mirror[T any] struct {
	mu    sync.RWMutex
	items []T
	clone func(T) T

	// notifyMu keeps listener calls in the order changes were made.
	notifyMu  sync.Mutex
	listeners map[int]func([]T)
	nextID    int
}

// NewMirror returns an empty mirror. clone deep-copies one element; nil
// means elements are plain values.
func NewMirror[T any](clone func(T) T) *Mirror[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &Mirror[T]{
		clone:     clone,
		listeners: make(map[int]func([]T)),
	}
}

// List returns a copy of the current items.
func (m *Mirror[T]) List() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyOf(m.items)
}

// Len returns the number of items.
func (m *Mirror[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Find returns a copy of the first item matching match.
func (m *Mirror[T]) Find(match func(T) bool) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, item := range m.items {
		if match(item) {
			return m.clone(item), true
		}
	}
	var zero T
	return zero, false
}

// Replace swaps in items as the new contents.
func (m *Mirror[T]) Replace(items []T) {
	m.set(func([]T) ([]T, bool) { return m.copyOf(items), true })
}

// Apply replaces the contents with fn's result. fn receives a copy it
// may modify freely.
func (m *Mirror[T]) Apply(fn func(items []T) []T) {
	m.set(func(current []T) ([]T, bool) { return fn(m.copyOf(current)), true })
}

// OnChange registers fn to receive the contents after every change.
// fn must not write to the mirror. The returned func unregisters it.
func (m *Mirror[T]) OnChange(fn func(items []T)) (remove func()) {
	m.notifyMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.notifyMu.Unlock()

	return func() {
		m.notifyMu.Lock()
		delete(m.listeners, id)
		m.notifyMu.Unlock()
	}
}

// Mutation is an optimistic change: a local edit applied to the mirror
// before a remote effect, undone if the effect fails.
type Mutation[T any] struct {
	// Apply edits a copy of the items. An error aborts the mutation
	// before anything changes.
	Apply func(items []T) ([]T, error)

	// Remote performs the store write.
	Remote func(ctx context.Context) error

	// Revert computes the contents after a failed Remote. When nil the
	// snapshot taken before Apply is restored.
	Revert func(snapshot, current []T) []T
}

func (m *Mutation[T]) run(ctx context.Context, mirror *Mirror[T]) error {
	var (
		snapshot []T
		applyErr error
	)
	mirror.set(func(current []T) ([]T, bool) {
		snapshot = current
		next, err := m.Apply(mirror.copyOf(current))
		if err != nil {
			applyErr = err
			return current, false
		}
		return next, true
	})
	if applyErr != nil {
		return applyErr
	}

	if err := m.Remote(ctx); err != nil {
		if m.Revert != nil {
			mirror.Apply(func(current []T) []T { return m.Revert(snapshot, current) })
		} else {
			mirror.Replace(snapshot)
		}
		return err
	}
	return nil
}

// Mutate runs mut against the mirror: snapshot, local change, remote
// effect, and restore on failure. The local change is visible to
// readers and listeners before Remote is called. The Remote error is
// returned unchanged.
func (m *Mirror[T]) Mutate(ctx context.Context, mut Mutation[T]) error {
	return mut.run(ctx, m)
}

// set stores fn's result and notifies listeners. Listener calls happen
// outside the item lock so they may read the mirror.
func (m *Mirror[T]) set(fn func(current []T) ([]T, bool)) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	next, changed := fn(m.items)
	if !changed {
		m.mu.Unlock()
		return
	}
	m.items = next
	view := m.copyOf(next)
	m.mu.Unlock()

	for _, fn := range m.listeners {
		fn(view)
	}
}

func (m *Mirror[T]) copyOf(items []T) []T {
	out := make([]T, len(items))
	for i := range items {
		out[i] = m.clone(items[i])
	}
	return out
}

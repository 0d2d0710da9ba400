package sync

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Mschirtzinger/taskboard/internal/docstore"
)

// feed keeps a mirror fed from a push subscription ordered by a
// timestamp field, descending. If the store rejects the ordered query
// for lack of an index, the feed tears it down, subscribes without the
// order and sorts each snapshot itself. The fallback is sticky.
type feed[T any] struct {
	name   string
	store  Store
	query  docstore.Query
	order  string
	newer  func(a, b T) bool
	mirror *Mirror[T]
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards the subscription state. It is never held while the
	// mirror notifies listeners, since listeners read back into the
	// synchronizer.
	mu     sync.Mutex
	unsub  docstore.Unsubscribe
	closed bool
	gen    uint64

	// replaceMu orders mirror replacement between snapshots and close.
	replaceMu sync.Mutex

	ordered atomic.Bool

	ready     chan struct{}
	readyOnce sync.Once
	err       error
}

func newFeed[T any](ctx context.Context, name string, store Store, q docstore.Query, order string, newer func(a, b T) bool, mirror *Mirror[T], logger *log.Logger) *feed[T] {
	ctx, cancel := context.WithCancel(ctx)
	f := &feed[T]{
		name:   name,
		store:  store,
		query:  q,
		order:  order,
		newer:  newer,
		mirror: mirror,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
	}
	f.ordered.Store(true)
	return f
}

// start opens the ordered subscription.
func (f *feed[T]) start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeLocked()
}

func (f *feed[T]) subscribeLocked() error {
	f.gen++
	gen := f.gen
	ordered := f.ordered.Load()

	q := f.query
	if ordered {
		q = q.OrderByField(f.order, true)
	}

	unsub, err := f.store.Subscribe(f.ctx, q,
		func(docs []*docstore.Document) { f.onSnapshot(gen, ordered, docs) },
		func(err error) { f.onError(gen, err) },
	)
	if err != nil {
		return err
	}
	f.unsub = unsub
	return nil
}

func (f *feed[T]) onSnapshot(gen uint64, ordered bool, docs []*docstore.Document) {
	items := decodeAll[T](docs, f.logger)
	if !ordered {
		sort.SliceStable(items, func(i, j int) bool { return f.newer(items[i], items[j]) })
	}

	f.replaceMu.Lock()
	defer f.replaceMu.Unlock()

	f.mu.Lock()
	stale := f.closed || gen != f.gen
	f.mu.Unlock()
	if stale {
		return
	}
	f.mirror.Replace(items)
	f.markReady(nil)
}

func (f *feed[T]) onError(gen uint64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || gen != f.gen {
		return
	}

	if f.ordered.Load() && errors.Is(err, docstore.ErrIndexRequired) {
		f.logger.Printf("Index required for ordered %s query; falling back to client-side sorting. "+
			"Register an index on %s (descending) to serve this order from the store.", f.name, f.order)
		if f.unsub != nil {
			f.unsub()
		}
		f.ordered.Store(false)
		if err := f.subscribeLocked(); err != nil {
			f.logger.Printf("Error subscribing to %s: %v", f.name, err)
			f.markReady(err)
		}
		return
	}

	f.logger.Printf("Error in %s subscription: %v", f.name, err)
	f.markReady(err)
}

func (f *feed[T]) markReady(err error) {
	f.readyOnce.Do(func() {
		f.err = err
		close(f.ready)
	})
}

// waitReady blocks until the first snapshot or a terminal subscription
// error.
func (f *feed[T]) waitReady(ctx context.Context) error {
	select {
	case <-f.ready:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isOrdered reports whether the store is still serving the order.
func (f *feed[T]) isOrdered() bool {
	return f.ordered.Load()
}

// close ends the subscription and empties the mirror. Snapshots that
// arrive afterwards are dropped. It must not be called from a mirror
// listener.
func (f *feed[T]) close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	if f.unsub != nil {
		f.unsub()
	}
	f.cancel()
	f.mu.Unlock()

	f.replaceMu.Lock()
	f.mirror.Replace(nil)
	f.replaceMu.Unlock()
	f.markReady(ErrClosed)
}

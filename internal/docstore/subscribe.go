package docstore

import (
	"context"
	"fmt"
)

// SnapshotFunc receives the complete result set of a subscribed query.
type SnapshotFunc func(docs []*Document)

// ErrorFunc receives the error that ended a subscription.
type ErrorFunc func(err error)

// Unsubscribe stops a subscription. It is safe to call more than once
// and from inside the subscription's own callbacks.
type Unsubscribe func()

type subscription struct {
	query  Query
	onSnap SnapshotFunc
	onErr  ErrorFunc
	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// Subscribe delivers the result set of q now and after every write to
// q's collection. Callbacks run on a goroutine owned by the
// subscription, one at a time; bursts of writes coalesce into a single
// snapshot.
//
// A query failure (ErrIndexRequired, ErrPermissionDenied, ...) is passed
// to onErr once and ends the subscription. The context carries the actor
// for access rules and cancels the subscription when done.
func (db *DB) Subscribe(ctx context.Context, q Query, onSnap SnapshotFunc, onErr ErrorFunc) (Unsubscribe, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if onSnap == nil {
		return nil, fmt.Errorf("%w: snapshot callback is required", ErrInvalidQuery)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		query:  q,
		onSnap: onSnap,
		onErr:  onErr,
		wake:   make(chan struct{}, 1),
		ctx:    subCtx,
		cancel: cancel,
	}

	db.subsMu.Lock()
	if db.closed {
		db.subsMu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	db.nextSub++
	id := db.nextSub
	db.subs[id] = sub
	db.wg.Add(1)
	db.subsMu.Unlock()

	sub.wake <- struct{}{}
	go db.runSubscription(id, sub)

	return func() {
		cancel()
		db.removeSubscription(id)
	}, nil
}

func (db *DB) runSubscription(id uint64, sub *subscription) {
	defer db.wg.Done()
	defer db.removeSubscription(id)

	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-sub.wake:
		}

		docs, err := db.Query(sub.ctx, sub.query)
		if sub.ctx.Err() != nil {
			return
		}
		if err != nil {
			db.logger.Printf("Subscription ended (%s): %v", sub.query, err)
			if sub.onErr != nil {
				sub.onErr(err)
			}
			return
		}
		sub.onSnap(docs)
	}
}

func (db *DB) removeSubscription(id uint64) {
	db.subsMu.Lock()
	delete(db.subs, id)
	db.subsMu.Unlock()
}

// notify wakes every subscription on collection without blocking.
func (db *DB) notify(collection string) {
	db.subsMu.Lock()
	defer db.subsMu.Unlock()

	for _, sub := range db.subs {
		if sub.query.Collection != collection {
			continue
		}
		select {
		case sub.wake <- struct{}{}:
		default:
			// a snapshot is already pending
		}
	}
}

// SubscriptionCount returns the number of live subscriptions.
func (db *DB) SubscriptionCount() int {
	db.subsMu.Lock()
	defer db.subsMu.Unlock()
	return len(db.subs)
}

// Package notify delivers live views of store data to observers.
//
// The store publishes one Change per committed transaction. Every matching
// subscription recomputes its view on its own goroutine, so a writer never
// waits for a reader. If a reader lags, changes coalesce and the reader gets
// the latest view on its next receive.
package notify

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/cryptostore/internal/logging"
)

// Entity names the kind of data a change touched.
type Entity int

const (
	EntityDevices Entity = iota + 1
	EntityCrossSigning
	// EntityAll matches every subscription (store wipe).
	EntityAll
)

// Change describes one committed write. Empty UserIDs means every user.
type Change struct {
	Entity  Entity
	UserIDs []string
}

// Affects reports whether the change can alter a view of entity restricted
// to users (nil users means all users).
func (c Change) Affects(entity Entity, users []string) bool {
	if c.Entity != EntityAll && c.Entity != entity {
		return false
	}
	if len(c.UserIDs) == 0 || len(users) == 0 {
		return true
	}
	for _, changed := range c.UserIDs {
		for _, watched := range users {
			if changed == watched {
				return true
			}
		}
	}
	return false
}

type subscriber struct {
	match func(Change) bool
	dirty chan struct{}
	done  chan struct{}
	once  sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Notifier fans changes out to subscriptions.
type Notifier struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
	wg     sync.WaitGroup
	log    logging.Logger
}

func New(log logging.Logger) *Notifier {
	return &Notifier{subs: make(map[uint64]*subscriber), log: log}
}

// Publish marks every matching subscription dirty. It never blocks.
func (n *Notifier) Publish(changes ...Change) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, s := range n.subs {
		for _, c := range changes {
			if s.match(c) {
				select {
				case s.dirty <- struct{}{}:
				default:
				}
				break
			}
		}
	}
}

// Close ends every subscription and waits for their goroutines.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	subs := n.subs
	n.subs = make(map[uint64]*subscriber)
	n.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	n.wg.Wait()
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	s, ok := n.subs[id]
	delete(n.subs, id)
	n.mu.Unlock()
	if ok {
		s.stop()
	}
}

// Subscription is a live view. C yields the initial value, then a fresh
// value after changes; it is closed when the subscription ends.
type Subscription[T any] struct {
	C     <-chan T
	close func()
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.close()
}

// Subscribe registers a view computed by query and refreshed on changes
// accepted by match. The subscription ends when ctx is done, when Close is
// called, or when the notifier closes.
func Subscribe[T any](ctx context.Context, n *Notifier, match func(Change) bool, query func(ctx context.Context) (T, error)) *Subscription[T] {
	out := make(chan T)
	s := &subscriber{
		match: match,
		dirty: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	s.dirty <- struct{}{} // initial value

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(out)
		return &Subscription[T]{C: out, close: func() {}}
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = s
	n.wg.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.wg.Done()
		defer close(out)
		defer n.remove(id)

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-s.dirty:
			}

			v, err := query(ctx)
			if err != nil {
				n.log.Warn(ctx, "failed to refresh subscription", "err", err)
				continue
			}

			select {
			case out <- v:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}()

	return &Subscription[T]{C: out, close: func() { n.remove(id) }}
}

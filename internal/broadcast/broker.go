// Package broadcast fans key changes out to every interested client, in process or
// across service instances.
package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/okbozin/okboz-crm-sub003/internal/kv"
	"go.uber.org/zap"
)

// ErrClosed is returned by Publish after the broker has been closed.
var ErrClosed = errors.New("broadcast: broker closed")

// Handler receives one change. Handlers run on the subscriber's own goroutine.
type Handler func(change kv.Change)

// Broker delivers published changes to subscribers of the changed key.
type Broker interface {
	kv.Publisher
	// Subscribe registers h for changes of key.
	Subscribe(key string, h Handler) *Subscription
	// SubscribeAll registers h for changes of every key.
	SubscribeAll(h Handler) *Subscription
	Close() error
}

// Subscription is one registered handler. Changes reach it in publish order.
type Subscription struct {
	key     string
	all     bool
	handler Handler
	log     *zap.Logger

	mu    sync.Mutex
	queue []kv.Change
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once

	detach func(*Subscription)
}

func (s *Subscription) matches(key string) bool {
	return s.all || s.key == key
}

func (s *Subscription) enqueue(change kv.Change) {
	s.mu.Lock()
	s.queue = append(s.queue, change)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			change := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.deliver(change)
		}
	}
}

func (s *Subscription) deliver(change kv.Change) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Change handler panicked",
				zap.String("key", change.Key),
				zap.String("origin", change.Origin),
				zap.Any("panic", r))
		}
	}()
	s.handler(change)
}

// Close stops delivery. Pending changes are dropped. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.detach != nil {
			s.detach(s)
		}
	})
}

// LocalBroker delivers changes within the process.
type LocalBroker struct {
	log *zap.Logger

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

func NewLocalBroker(log *zap.Logger) *LocalBroker {
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalBroker{log: log, subs: make(map[*Subscription]struct{})}
}

// Publish queues change for every matching subscriber and returns without waiting for delivery.
func (b *LocalBroker) Publish(_ context.Context, change kv.Change) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for s := range b.subs {
		if s.matches(change.Key) {
			s.enqueue(change)
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(key string, h Handler) *Subscription {
	return b.add(&Subscription{key: key, handler: h})
}

func (b *LocalBroker) SubscribeAll(h Handler) *Subscription {
	return b.add(&Subscription{all: true, handler: h})
}

func (b *LocalBroker) add(s *Subscription) *Subscription {
	s.log = b.log
	s.wake = make(chan struct{}, 1)
	s.done = make(chan struct{})
	s.detach = b.remove

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.once.Do(func() { close(s.done) })
		return s
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.run()
	return s
}

func (b *LocalBroker) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Close stops every subscription.
func (b *LocalBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}

// SubscriberCount reports the number of active subscriptions.
func (b *LocalBroker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

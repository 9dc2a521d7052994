package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/yourusername/offline-go/internal/domain"
)

// Handler receives events delivered to a subscription
type Handler func(event domain.Event)

// Dispatcher is an in-process publish/subscribe channel for orchestrator
// events. Publish never blocks: every subscriber owns an unbounded queue
// drained by its own goroutine, so delivery order per subscriber matches
// publish order.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	logger *zap.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		subs:   make(map[uint64]*Subscription),
		logger: logger,
	}
}

// Publish enqueues the event for every current subscriber
func (d *Dispatcher) Publish(event domain.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}

	d.logger.Debug("Publishing event",
		zap.String("kind", string(event.Kind)),
		zap.String("subject", event.Subject()),
		zap.Int("subscribers", len(d.subs)))

	for _, sub := range d.subs {
		sub.enqueue(event)
	}
}

// Subscribe registers a handler. Events published before Subscribe returns
// are not delivered to it.
func (d *Dispatcher) Subscribe(handler Handler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	sub := &Subscription{
		id:         d.nextID,
		dispatcher: d,
		handler:    handler,
		done:       make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)

	if d.closed {
		sub.closed = true
		close(sub.done)
		return sub
	}

	d.subs[sub.id] = sub
	go sub.run()
	return sub
}

// SubscriberCount returns the number of live subscriptions
func (d *Dispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

// Close stops delivery to every subscriber. Queued events are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	subs := d.subs
	d.subs = make(map[uint64]*Subscription)
	d.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

func (d *Dispatcher) remove(id uint64) {
	d.mu.Lock()
	delete(d.subs, id)
	d.mu.Unlock()
}

// Subscription is a registered handler with its pending event queue
type Subscription struct {
	id         uint64
	dispatcher *Dispatcher
	handler    Handler

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []domain.Event
	closed bool
	done   chan struct{}
}

// Unsubscribe stops delivery and waits for an in-flight handler call to return.
// It must not be called from inside the subscription's own handler.
func (s *Subscription) Unsubscribe() {
	s.dispatcher.remove(s.id)
	s.stop()
	<-s.done
}

// Done is closed once the delivery goroutine has exited
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) enqueue(event domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, event)
	s.cond.Signal()
}

func (s *Subscription) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	s.cond.Broadcast()
}

func (s *Subscription) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		event := s.queue[0]
		s.queue[0] = domain.Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.handler(event)
	}
}

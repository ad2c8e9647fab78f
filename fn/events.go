package fn

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the default size to use for concurrent queues.
const DefaultQueueSize = 10

// ErrUnknownSubscriber is returned when removing a receiver that was never
// registered.
var ErrUnknownSubscriber = errors.New("unknown subscriber")

// lastReceiverID is the ID of the most recently created receiver.
var lastReceiverID atomic.Uint64

// EventReceiver is one subscription to the events of a publisher. Events are
// buffered without bound so a slow reader never stalls the publisher.
type EventReceiver[T any] struct {
	id uint64

	// Updates carries the events in the order they were published.
	Updates *ConcurrentQueue[T]
}

// NewEventReceiver creates a started receiver whose output channel holds
// queueSize events before spilling into the overflow list.
func NewEventReceiver[T any](queueSize int) *EventReceiver[T] {
	updates := NewConcurrentQueue[T](queueSize)
	updates.Start()

	return &EventReceiver[T]{
		id:      lastReceiverID.Add(1),
		Updates: updates,
	}
}

// ID returns the process-unique ID of the receiver.
func (e *EventReceiver[T]) ID() uint64 {
	return e.id
}

// Stop stops the receiver. Buffered events are dropped.
func (e *EventReceiver[T]) Stop() {
	e.Updates.Stop()
}

// EventPublisher is implemented by components that offer event
// subscriptions.
type EventPublisher[T any, Q any] interface {
	// RegisterSubscriber adds a new receiver. If deliverExisting is set
	// the current state matching deliverFrom is replayed to the receiver
	// before any later event.
	RegisterSubscriber(receiver *EventReceiver[T], deliverExisting bool,
		deliverFrom Q) error

	// RemoveSubscriber unregisters and stops the receiver.
	RemoveSubscriber(receiver *EventReceiver[T]) error
}

// Subscribers is the receiver set of a publisher.
type Subscribers[T any] struct {
	mu        sync.RWMutex
	receivers map[uint64]*EventReceiver[T]
}

// NewSubscribers creates an empty receiver set.
func NewSubscribers[T any]() *Subscribers[T] {
	return &Subscribers[T]{
		receivers: make(map[uint64]*EventReceiver[T]),
	}
}

// Add registers a receiver. The backlog, if not nil, is computed while no
// event can be published, so the receiver sees it strictly before the events
// that follow.
func (s *Subscribers[T]) Add(r *EventReceiver[T], backlog func() []T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.receivers[r.ID()] = r

	if backlog == nil {
		return
	}
	for _, event := range backlog() {
		r.Updates.ChanIn() <- event
	}
}

// Remove unregisters and stops a receiver.
func (s *Subscribers[T]) Remove(r *EventReceiver[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.receivers[r.ID()]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSubscriber, r.ID())
	}

	r.Stop()
	delete(s.receivers, r.ID())

	return nil
}

// Publish hands an event to every registered receiver.
func (s *Subscribers[T]) Publish(event T) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.receivers {
		r.Updates.ChanIn() <- event
	}
}

// StopAll unregisters and stops every receiver.
func (s *Subscribers[T]) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.receivers {
		r.Stop()
		delete(s.receivers, id)
	}
}

// Len returns the number of registered receivers.
func (s *Subscribers[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.receivers)
}

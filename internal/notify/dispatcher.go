package notify

import (
	"context"
	"sync"
)

const defaultStreamBuffer = 16

// Dispatcher fans alerts out to per-owner stream subscribers.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*streamSubscriber
	nextID      int64
	bufferSize  int
}

type streamSubscriber struct {
	id     int64
	stream chan Alert
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*streamSubscriber),
		bufferSize:  defaultStreamBuffer,
	}
}

// Subscribe returns a stream of alerts for owner. The stream closes when ctx ends, cleanup
// runs, or CloseOwner is called for owner. An empty owner gets an already closed stream.
func (d *Dispatcher) Subscribe(ctx context.Context, owner string) (<-chan Alert, func()) {
	if owner == "" {
		closed := make(chan Alert)
		close(closed)
		return closed, func() {}
	}
	subscriber := &streamSubscriber{stream: make(chan Alert, d.bufferSize)}
	d.registerSubscriber(owner, subscriber)

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(owner, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Notify publishes the alert to the owner's subscribers without blocking.
// A subscriber whose buffer is full misses the alert.
func (d *Dispatcher) Notify(_ context.Context, alert Alert) error {
	if alert.Owner == "" {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, subscriber := range d.subscribers[alert.Owner] {
		select {
		case subscriber.stream <- alert:
		default:
		}
	}
	return nil
}

// CloseOwner ends every stream open for owner and returns how many were closed.
func (d *Dispatcher) CloseOwner(owner string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[owner]
	for _, subscriber := range subscribers {
		close(subscriber.stream)
	}
	delete(d.subscribers, owner)
	return len(subscribers)
}

// Subscribers reports how many streams are open for owner.
func (d *Dispatcher) Subscribers(owner string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[owner])
}

// registerSubscriber assigns the subscriber its id and files it under owner.
// The id and the insert share one critical section.
func (d *Dispatcher) registerSubscriber(owner string, subscriber *streamSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	subscriber.id = d.nextID
	owned, ok := d.subscribers[owner]
	if !ok {
		owned = make(map[int64]*streamSubscriber)
		d.subscribers[owner] = owned
	}
	owned[subscriber.id] = subscriber
}

// unregisterSubscriber closes the stream only if it is still registered; CloseOwner may
// have closed it already. Empty owner entries are dropped.
func (d *Dispatcher) unregisterSubscriber(owner string, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	owned := d.subscribers[owner]
	subscriber, ok := owned[subscriberID]
	if !ok {
		return
	}
	close(subscriber.stream)
	delete(owned, subscriberID)
	if len(owned) == 0 {
		delete(d.subscribers, owner)
	}
}

package paging

import (
	"context"
	"sync"
	"time"
)

// SubscribeAllOrigins subscribes to change events for every origin.
const SubscribeAllOrigins = "*"

// ChangeEvent announces that an origin's materialized result set changed
// after a committed merge or invalidation.
type ChangeEvent struct {
	OriginKey  string
	Section    string
	EntityKeys []string
	Timestamp  time.Time
}

// Dispatcher fans committed change events out to read-model observers.
// Publish never blocks; slow subscribers miss events instead of stalling the
// sync path.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*dispatcherSubscriber
	nextID      int64
	bufferSize  int
}

type dispatcherSubscriber struct {
	id     int64
	stream chan ChangeEvent
}

// NewDispatcher constructs a Dispatcher with a small per-subscriber buffer.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*dispatcherSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers an observer for one origin key, or for all origins
// when originKey is SubscribeAllOrigins. The returned cancel function must
// be called when the observer goes away; cancellation of ctx does the same.
func (d *Dispatcher) Subscribe(ctx context.Context, originKey string) (<-chan ChangeEvent, func()) {
	if originKey == "" {
		ch := make(chan ChangeEvent)
		close(ch)
		return ch, func() {}
	}
	subscriber := &dispatcherSubscriber{
		id:     d.nextSequence(),
		stream: make(chan ChangeEvent, d.bufferSize),
	}
	d.registerSubscriber(originKey, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(originKey, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the event to subscribers of its origin key and to
// wildcard subscribers.
func (d *Dispatcher) Publish(event ChangeEvent) {
	if event.OriginKey == "" {
		return
	}
	d.mu.RLock()
	copies := make([]*dispatcherSubscriber, 0)
	for _, subscriber := range d.subscribers[event.OriginKey] {
		copies = append(copies, subscriber)
	}
	for _, subscriber := range d.subscribers[SubscribeAllOrigins] {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) registerSubscriber(originKey string, subscriber *dispatcherSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[originKey]; !ok {
		d.subscribers[originKey] = make(map[int64]*dispatcherSubscriber)
	}
	d.subscribers[originKey][subscriber.id] = subscriber
}

func (d *Dispatcher) unregisterSubscriber(originKey string, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	remaining, ok := d.subscribers[originKey]
	if !ok {
		return
	}
	delete(remaining, subscriberID)
	if len(remaining) == 0 {
		delete(d.subscribers, originKey)
	}
}

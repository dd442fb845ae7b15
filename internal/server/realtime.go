package server

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	eventHeartbeat           = "heartbeat"
	defaultHeartbeatInterval = 20 * time.Second
	subscriberBufferSize     = 16
	defaultDeliveryTimeout   = 5 * time.Second
)

// ErrDeliveryTimeout reports that a subscribed stream did not accept an event in time.
var ErrDeliveryTimeout = errors.New("server: event delivery timed out")

// WindowEvent is one notification addressed to a window.
type WindowEvent struct {
	Label     string
	Event     string
	Payload   any
	Timestamp time.Time
}

// EventDispatcher fans window events out to the event streams opened by that window.
// Publish never blocks: a subscriber whose buffer is full misses the event. Deliver
// waits for every open stream to accept the event.
type EventDispatcher struct {
	mu              sync.RWMutex
	subscribers     map[string]map[int64]*eventSubscriber
	nextID          int64
	bufferSize      int
	deliveryTimeout time.Duration
	clock           func() time.Time
}

type eventSubscriber struct {
	id     int64
	stream chan WindowEvent
	done   chan struct{}
}

// NewEventDispatcher constructs an empty EventDispatcher.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		subscribers:     make(map[string]map[int64]*eventSubscriber),
		bufferSize:      subscriberBufferSize,
		deliveryTimeout: defaultDeliveryTimeout,
		clock:           time.Now,
	}
}

// Subscribe opens a stream of events for label. The subscription ends when ctx is
// done or the returned cleanup runs.
func (d *EventDispatcher) Subscribe(ctx context.Context, label string) (<-chan WindowEvent, func()) {
	if label == "" {
		ch := make(chan WindowEvent)
		close(ch)
		return ch, func() {}
	}
	subscriber := &eventSubscriber{
		id:     d.nextSequence(),
		stream: make(chan WindowEvent, d.bufferSize),
		done:   make(chan struct{}),
	}
	d.registerSubscriber(label, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(label, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers event to every stream subscribed under label.
func (d *EventDispatcher) Publish(label, event string, payload any) {
	if label == "" || event == "" {
		return
	}
	subscribers := d.snapshot(label)
	if len(subscribers) == 0 {
		return
	}

	message := WindowEvent{Label: label, Event: event, Payload: payload, Timestamp: d.clock().UTC()}
	for _, subscriber := range subscribers {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// Deliver hands event to every stream subscribed under label, waiting for each one
// to accept it. A stream that closes while Deliver waits is skipped. With no stream
// open Deliver succeeds: a shell that connects later resynchronizes from the window
// table.
func (d *EventDispatcher) Deliver(label, event string, payload any) error {
	if label == "" || event == "" {
		return nil
	}
	subscribers := d.snapshot(label)
	if len(subscribers) == 0 {
		return nil
	}

	message := WindowEvent{Label: label, Event: event, Payload: payload, Timestamp: d.clock().UTC()}
	timer := time.NewTimer(d.deliveryTimeout)
	defer timer.Stop()
	for _, subscriber := range subscribers {
		select {
		case subscriber.stream <- message:
		case <-subscriber.done:
		case <-timer.C:
			return ErrDeliveryTimeout
		}
	}
	return nil
}

// Subscribers reports how many streams are open for label.
func (d *EventDispatcher) Subscribers(label string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[label])
}

func (d *EventDispatcher) snapshot(label string) []*eventSubscriber {
	d.mu.RLock()
	defer d.mu.RUnlock()
	subscribers := d.subscribers[label]
	copies := make([]*eventSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	return copies
}

func (d *EventDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *EventDispatcher) registerSubscriber(label string, subscriber *eventSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[label]; !ok {
		d.subscribers[label] = make(map[int64]*eventSubscriber)
	}
	d.subscribers[label][subscriber.id] = subscriber
}

func (d *EventDispatcher) unregisterSubscriber(label string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[label]
	if subscriber, ok := subscribers[subscriberID]; ok {
		close(subscriber.done)
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, label)
		}
	}
	d.mu.Unlock()
}

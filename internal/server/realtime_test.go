package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/hoverthought/internal/auth"
	"github.com/MarcoPoloResearchLab/hoverthought/internal/windows"
)

func TestEventDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "note-1")
	defer cleanup()

	dispatcher.Publish("note-1", windows.EventOpacityUpdated, 0.6)

	select {
	case received := <-stream:
		if received.Event != windows.EventOpacityUpdated {
			t.Fatalf("expected event %s, got %s", windows.EventOpacityUpdated, received.Event)
		}
		if received.Payload != 0.6 {
			t.Fatalf("expected payload 0.6, got %v", received.Payload)
		}
		if received.Timestamp.IsZero() {
			t.Fatalf("expected timestamp to be set")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event within deadline")
	}
}

func TestEventDispatcherIsolatedByWindow(t *testing.T) {
	dispatcher := NewEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	firstStream, firstCleanup := dispatcher.Subscribe(ctx, "note-1")
	defer firstCleanup()
	secondStream, secondCleanup := dispatcher.Subscribe(ctx, "note-2")
	defer secondCleanup()

	dispatcher.Publish("note-2", windows.EventOpacityUpdated, 0.4)

	select {
	case <-firstStream:
		t.Fatal("did not expect event for unrelated window")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case msg := <-secondStream:
		if msg.Label != "note-2" {
			t.Fatalf("expected note-2, received %s", msg.Label)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event for subscribed window")
	}
}

func TestEventDispatcherDropsWhenBufferFull(t *testing.T) {
	dispatcher := NewEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "note-1")
	defer cleanup()

	for index := 0; index < subscriberBufferSize+5; index++ {
		dispatcher.Publish("note-1", windows.EventOpacityUpdated, index)
	}
	if len(stream) != subscriberBufferSize {
		t.Fatalf("expected %d buffered events, got %d", subscriberBufferSize, len(stream))
	}
}

func TestEventDispatcherUnsubscribesOnCancel(t *testing.T) {
	dispatcher := NewEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx, "note-1")
	defer cleanup()
	if dispatcher.Subscribers("note-1") != 1 {
		t.Fatalf("expected one subscriber")
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for dispatcher.Subscribers("note-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected subscriber to be removed after cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEventDispatcherDeliverWaitsForSlowStream(t *testing.T) {
	dispatcher := NewEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := dispatcher.Subscribe(ctx, auth.ShellSubject)
	defer cleanup()

	total := subscriberBufferSize + 4
	delivered := make(chan error, 1)
	go func() {
		for index := 0; index < total; index++ {
			if err := dispatcher.Deliver(auth.ShellSubject, EventWindowHide, index); err != nil {
				delivered <- err
				return
			}
		}
		delivered <- nil
	}()

	for index := 0; index < total; index++ {
		event := receiveEvent(t, stream)
		if event.Payload != index {
			t.Fatalf("expected payload %d, got %v", index, event.Payload)
		}
	}
	if err := <-delivered; err != nil {
		t.Fatalf("unexpected delivery error: %v", err)
	}
}

func TestEventDispatcherDeliverTimesOutOnStalledStream(t *testing.T) {
	dispatcher := NewEventDispatcher()
	dispatcher.deliveryTimeout = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, cleanup := dispatcher.Subscribe(ctx, auth.ShellSubject)
	defer cleanup()

	for index := 0; index < subscriberBufferSize; index++ {
		if err := dispatcher.Deliver(auth.ShellSubject, EventWindowHide, index); err != nil {
			t.Fatalf("unexpected error filling the buffer: %v", err)
		}
	}
	if err := dispatcher.Deliver(auth.ShellSubject, EventWindowHide, "overflow"); !errors.Is(err, ErrDeliveryTimeout) {
		t.Fatalf("expected delivery timeout, got %v", err)
	}
}

func TestEventDispatcherDeliverSkipsClosedStream(t *testing.T) {
	dispatcher := NewEventDispatcher()
	dispatcher.deliveryTimeout = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, cleanup := dispatcher.Subscribe(ctx, auth.ShellSubject)

	for index := 0; index < subscriberBufferSize; index++ {
		_ = dispatcher.Deliver(auth.ShellSubject, EventWindowHide, index)
	}
	delivered := make(chan error, 1)
	go func() {
		delivered <- dispatcher.Deliver(auth.ShellSubject, EventWindowHide, "pending")
	}()
	cleanup()

	select {
	case err := <-delivered:
		if err != nil {
			t.Fatalf("expected closed stream to be skipped, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected delivery to return once the stream closed")
	}
	if err := dispatcher.Deliver(auth.ShellSubject, EventWindowHide, "unheard"); err != nil {
		t.Fatalf("expected delivery without a shell to succeed, got %v", err)
	}
}

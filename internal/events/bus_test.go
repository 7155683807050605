/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"testing"
	"time"
)

func TestBusPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventSongCreated)

	bus.Publish(EventSongCreated, Payload{"song_id": "song-1"})

	select {
	case payload := <-sub:
		if payload["song_id"] != "song-1" {
			t.Errorf("unexpected payload: %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusPublishSkipsOtherEventTypes(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventSongCreated)

	bus.Publish(EventVoteCast, Payload{"song_id": "song-1"})

	select {
	case payload := <-sub:
		t.Fatalf("expected no delivery, got %v", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventSongUpdated)

	// Channel capacity is 8; overfill it and make sure Publish returns.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			bus.Publish(EventSongUpdated, Payload{"n": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on full subscriber")
	}
	_ = sub
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventMemberJoined)
	bus.Unsubscribe(EventMemberJoined, sub)

	if _, open := <-sub; open {
		t.Error("expected closed channel after Unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(EventMemberJoined, Payload{})
}

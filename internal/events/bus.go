/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventSongCreated   EventType = "song.created"
	EventSongUpdated   EventType = "song.updated"
	EventSongDeleted   EventType = "song.deleted"
	EventSongApproved  EventType = "song.approved"
	EventSongRehearsed EventType = "song.rehearsed"

	EventProgressUpdated EventType = "progress.updated"
	EventVoteCast        EventType = "vote.cast"
	EventVoteRemoved     EventType = "vote.removed"

	EventBandCreated        EventType = "band.created"
	EventMemberJoined       EventType = "member.joined"
	EventMemberLeft         EventType = "member.left"
	EventInvitationCreated  EventType = "invitation.created"
	EventInvitationAccepted EventType = "invitation.accepted"
	EventInvitationExpired  EventType = "invitation.expired"

	EventSetlistGenerated  EventType = "setlist.generated"
	EventPreferencesUpdate EventType = "preferences.updated"

	// Cache invalidation events
	EventCacheBandSongs   EventType = "cache.band_songs"
	EventCachePreferences EventType = "cache.preferences"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Dispatcher is the pubsub surface shared by the in-process bus and the
// Redis and NATS backed buses.
type Dispatcher interface {
	Subscribe(eventType EventType) Subscriber
	Publish(eventType EventType, payload Payload)
	Unsubscribe(eventType EventType, sub Subscriber)
}

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers drop events rather
// than block the publisher.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}

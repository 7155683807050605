/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"sync"
	"time"

	"github.com/backlinehq/backline/internal/events"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSBus implements a NATS-backed event bus. Subjects are the event type
// strings, one subscription per event type. Like the Redis bus it keeps an
// in-memory fallback for same-node delivery and for when the connection is
// lost.
type NATSBus struct {
	conn     *nats.Conn
	logger   zerolog.Logger
	fallback *events.Bus
	nodeID   string

	mu   sync.RWMutex
	subs map[events.EventType][]events.Subscriber
	nsub map[events.EventType]*nats.Subscription
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL            string
	ConnectTimeout time.Duration
	MaxReconnects  int
	ReconnectWait  time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		ConnectTimeout: 5 * time.Second,
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
	}
}

// NewNATSBus creates a NATS-backed event bus. Falls back to an in-memory bus
// if the server is unreachable at startup.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSBus, error) {
	nb := &NATSBus{
		logger:   logger,
		fallback: events.NewBus(),
		nodeID:   nodeID,
		subs:     make(map[events.EventType][]events.Subscriber),
		nsub:     make(map[events.EventType]*nats.Subscription),
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		logger.Warn().Err(err).Msg("NATS connection failed, using in-memory fallback")
		return nb, nil
	}

	nb.conn = conn
	logger.Info().Str("url", cfg.URL).Msg("NATS event bus initialized")
	return nb, nil
}

// Subscribe registers a subscriber for an event type.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	if nb.conn == nil {
		return nb.fallback.Subscribe(eventType)
	}

	sub := make(events.Subscriber, 100)
	nb.subs[eventType] = append(nb.subs[eventType], sub)

	if _, exists := nb.nsub[eventType]; !exists {
		natsSub, err := nb.conn.Subscribe(string(eventType), func(msg *nats.Msg) {
			nb.deliver(eventType, msg.Data)
		})
		if err != nil {
			nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to subscribe on NATS")
		} else {
			nb.nsub[eventType] = natsSub
		}
	}

	return sub
}

func (nb *NATSBus) deliver(eventType events.EventType, data []byte) {
	busMsg, err := unmarshalMessage(data)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to unmarshal NATS message")
		return
	}

	// Skip messages from ourselves (prevent echo)
	if busMsg.NodeID == nb.nodeID {
		return
	}

	nb.mu.RLock()
	subs := nb.subs[eventType]
	nb.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub <- busMsg.Payload:
		default:
			nb.logger.Warn().Str("event_type", string(eventType)).Msg("subscriber channel full, dropping event")
		}
	}
}

// Publish sends an event payload to all subscribers (local and remote).
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.fallback.Publish(eventType, payload)

	if nb.conn == nil {
		return
	}

	data, err := marshalMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to marshal NATS message")
		return
	}

	if err := nb.conn.Publish(string(eventType), data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to NATS")
	}
}

// Unsubscribe removes a subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	if nb.conn == nil {
		nb.fallback.Unsubscribe(eventType, sub)
		return
	}

	subs := nb.subs[eventType]
	for i, s := range subs {
		if s == sub {
			nb.subs[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	close(sub)

	if len(nb.subs[eventType]) == 0 {
		if natsSub, exists := nb.nsub[eventType]; exists {
			_ = natsSub.Unsubscribe()
			delete(nb.nsub, eventType)
			nb.logger.Debug().Str("event_type", string(eventType)).Msg("closed NATS subscription")
		}
	}
}

// Close drains the NATS connection.
func (nb *NATSBus) Close() error {
	nb.logger.Info().Msg("closing NATS event bus")

	nb.mu.Lock()
	for eventType, natsSub := range nb.nsub {
		_ = natsSub.Unsubscribe()
		nb.logger.Debug().Str("event_type", string(eventType)).Msg("closed NATS subscription")
	}
	nb.nsub = make(map[events.EventType]*nats.Subscription)
	nb.mu.Unlock()

	if nb.conn != nil {
		if err := nb.conn.Drain(); err != nil {
			nb.logger.Error().Err(err).Msg("failed to drain NATS connection")
			nb.conn.Close()
			return err
		}
	}

	nb.logger.Info().Msg("NATS event bus closed")
	return nil
}

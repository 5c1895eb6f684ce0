/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus fans events out to sibling instances over NATS, falling
// back to the in-process bus when NATS is unavailable.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/vidar_tv/internal/events"
)

const subjectPrefix = "vidar.events."

// message is the wire envelope for cross-instance events.
type message struct {
	NodeID  string         `json:"node_id"`
	Type    string         `json:"type"`
	Payload events.Payload `json:"payload"`
	SentAt  time.Time      `json:"sent_at"`
}

// NATSBus wraps the in-process bus with NATS publication. Local subscribers
// always receive events; remote fanout is best-effort.
type NATSBus struct {
	local  *events.Bus
	conn   *nats.Conn
	logger zerolog.Logger
	nodeID string
}

// NewNATSBus connects to NATS and wraps the given local bus. An empty URL or
// a failed connection yields a bus that only publishes locally.
func NewNATSBus(url string, local *events.Bus, logger zerolog.Logger) *NATSBus {
	b := &NATSBus{
		local:  local,
		logger: logger.With().Str("component", "eventbus").Logger(),
		nodeID: uuid.NewString(),
	}

	if url == "" {
		return b
	}

	conn, err := nats.Connect(url,
		nats.Name("vidar-tv"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		b.logger.Warn().Err(err).Msg("NATS unavailable, events stay in-process")
		return b
	}

	b.conn = conn
	b.logger.Info().Str("url", url).Msg("NATS event fanout connected")
	return b
}

// Publish delivers locally and mirrors to NATS when connected.
func (b *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	b.local.Publish(eventType, payload)

	if b.conn == nil {
		return
	}

	data, err := json.Marshal(message{
		NodeID:  b.nodeID,
		Type:    string(eventType),
		Payload: payload,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return
	}

	subject := fmt.Sprintf("%s%s", subjectPrefix, eventType)
	if err := b.conn.Publish(subject, data); err != nil {
		b.logger.Debug().Err(err).Str("subject", subject).Msg("NATS publish failed")
	}
}

// Subscribe registers a local subscriber and, when connected, relays matching
// remote events from other nodes into it.
func (b *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := b.local.Subscribe(eventType)

	if b.conn != nil {
		subject := subjectPrefix + string(eventType)
		_, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
			var msg message
			if err := json.Unmarshal(m.Data, &msg); err != nil {
				return
			}
			if msg.NodeID == b.nodeID {
				return
			}
			select {
			case sub <- msg.Payload:
			default:
			}
		})
		if err != nil {
			b.logger.Debug().Err(err).Str("subject", subject).Msg("NATS subscribe failed")
		}
	}

	return sub
}

// Close drains the NATS connection.
func (b *NATSBus) Close() {
	if b.conn != nil {
		_ = b.conn.Drain()
	}
}

package provision

import (
	"encoding/json"
	"time"

	"github.com/harbourdeck/callpoint-core/internal/infrastructure/logging"
	"github.com/harbourdeck/callpoint-core/internal/infrastructure/mqtt"
)

// EventType identifies a provisioning domain event.
type EventType string

// Domain events emitted by the Coordinator on every committed state
// transition. Observers (the dashboard websocket hub, the core event
// topic) receive them through an injected EventSink; there is no global
// emitter.
const (
	EventTokenIssued    EventType = "token_issued"
	EventTokenClaimed   EventType = "token_claimed"
	EventTokenActivated EventType = "token_activated"
	EventTokenExpired   EventType = "token_expired"
	EventTokenCancelled EventType = "token_cancelled"
	EventTokenDeleted   EventType = "token_deleted"
)

// Event is one provisioning domain event.
type Event struct {
	Type      EventType   `json:"type"`
	Token     string      `json:"token"`
	Room      string      `json:"room"`
	DeviceID  string      `json:"device_id,omitempty"`
	Status    TokenStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventSink receives domain events. Emit must not block: the Coordinator
// calls it synchronously inside claim handling.
type EventSink interface {
	Emit(event Event)
}

// NopSink discards events. Used when no observer is wired.
type NopSink struct{}

// Emit discards the event.
func (NopSink) Emit(Event) {}

// TransportSink republishes domain events on the core event topic so
// out-of-process observers can follow provisioning without a dashboard
// session. Publish failures are logged and swallowed: the transition has
// already committed and event delivery is best-effort.
type TransportSink struct {
	Transport Transport
	Logger    *logging.Logger

	topics mqtt.Topics
}

// Emit publishes the event as JSON on callpoint/core/event/<type>.
func (s *TransportSink) Emit(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	topic := s.topics.CoreEvent(string(event.Type))
	if err := s.Transport.Publish(topic, payload, s.Transport.DefaultQoS(), false); err != nil {
		if s.Logger != nil {
			s.Logger.Warn("failed to publish domain event", "topic", topic, "error", err)
		}
	}
}

// MultiSink fans one event out to several sinks in order.
type MultiSink []EventSink

// Emit delivers the event to every sink.
func (m MultiSink) Emit(event Event) {
	for _, sink := range m {
		sink.Emit(event)
	}
}

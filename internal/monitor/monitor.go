// Package monitor observes the device topic space: it confirms tokens
// ACTIVE when a claimed device's first telemetry arrives, and feeds
// telemetry and status traffic into time-series storage.
//
// The monitor is a passive consumer. It never publishes, and a failure
// to record a point never disturbs the devices or the coordinator.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/harbourdeck/callpoint-core/internal/infrastructure/logging"
	"github.com/harbourdeck/callpoint-core/internal/infrastructure/mqtt"
	"github.com/harbourdeck/callpoint-core/internal/provision"
)

// Subscriber is the transport surface the monitor needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	DefaultQoS() byte
}

// Activator confirms a device's token ACTIVE. Satisfied by
// *provision.Coordinator.
type Activator interface {
	ActivateDevice(ctx context.Context, deviceID string) error
}

// TelemetrySink records observed device traffic. Satisfied by
// *influxdb.Client; nil disables recording.
type TelemetrySink interface {
	WriteDeviceTelemetry(deviceID, deviceType, site, room string, battery, signal float64)
	WriteDeviceStatus(deviceID, site, room string, online bool)
}

// Monitor watches the wildcard telemetry and status topics.
type Monitor struct {
	transport Subscriber
	activator Activator
	sink      TelemetrySink
	logger    *logging.Logger
	topics    mqtt.Topics

	// resolved caches device IDs whose token no longer needs
	// activation, so steady-state telemetry skips the store.
	mu       sync.Mutex
	resolved map[string]bool
}

// New creates a monitor. sink may be nil.
func New(transport Subscriber, activator Activator, sink TelemetrySink, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Monitor{
		transport: transport,
		activator: activator,
		sink:      sink,
		logger:    logger.With("component", "monitor"),
		resolved:  make(map[string]bool),
	}
}

// Start subscribes the wildcard device topics.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.transport.Subscribe(m.topics.AllDeviceTelemetry(), m.transport.DefaultQoS(), m.handleTelemetry); err != nil {
		return fmt.Errorf("monitor: subscribing telemetry: %w", err)
	}
	if err := m.transport.Subscribe(m.topics.AllDeviceStatus(), m.transport.DefaultQoS(), m.handleStatus); err != nil {
		return fmt.Errorf("monitor: subscribing status: %w", err)
	}
	m.logger.Info("telemetry monitor started")
	return nil
}

// telemetryFields is the subset of a telemetry message the monitor
// cares about. Extra archetype fields pass through untouched.
type telemetryFields struct {
	Type    string  `json:"type"`
	Battery float64 `json:"battery"`
	Signal  float64 `json:"signal"`
}

// handleTelemetry processes one telemetry message: the first publish
// from a claimed device is the "device confirmed reachable" signal that
// moves its token to ACTIVE.
func (m *Monitor) handleTelemetry(topic string, payload []byte) error {
	site, room, deviceID, _, ok := mqtt.ParseDeviceTopic(topic)
	if !ok {
		return nil
	}

	var fields telemetryFields
	if err := json.Unmarshal(payload, &fields); err != nil {
		m.logger.Warn("discarding malformed telemetry", "topic", topic, "error", err)
		return nil
	}

	m.maybeActivate(deviceID)

	if m.sink != nil {
		m.sink.WriteDeviceTelemetry(deviceID, fields.Type, site, room, fields.Battery, fields.Signal)
	}
	return nil
}

// handleStatus records heartbeat and command-ack traffic.
func (m *Monitor) handleStatus(topic string, payload []byte) error {
	site, room, deviceID, _, ok := mqtt.ParseDeviceTopic(topic)
	if !ok {
		return nil
	}

	var fields struct {
		Online *bool `json:"online"`
	}
	if err := json.Unmarshal(payload, &fields); err != nil {
		m.logger.Warn("discarding malformed status", "topic", topic, "error", err)
		return nil
	}
	if fields.Online == nil {
		// Command acks and other status events carry no online flag.
		return nil
	}

	if m.sink != nil {
		m.sink.WriteDeviceStatus(deviceID, site, room, *fields.Online)
	}
	return nil
}

// maybeActivate confirms the device's token once, then caches the
// outcome so later telemetry from the same device skips the store.
func (m *Monitor) maybeActivate(deviceID string) {
	m.mu.Lock()
	done := m.resolved[deviceID]
	m.mu.Unlock()
	if done {
		return
	}

	err := m.activator.ActivateDevice(context.Background(), deviceID)
	switch {
	case err == nil:
		m.logger.Info("device confirmed active", "device_id", deviceID)
	case errors.Is(err, provision.ErrNotFound):
		// Not a provisioned device; nothing to confirm.
	default:
		var stateErr *provision.InvalidStateError
		if !errors.As(err, &stateErr) {
			// Transient store trouble: leave the device unresolved so
			// the next telemetry retries.
			m.logger.Warn("failed to activate device", "device_id", deviceID, "error", err)
			return
		}
		// Cancelled or deleted after claim; there is nothing more the
		// monitor can do with this device.
	}

	m.mu.Lock()
	m.resolved[deviceID] = true
	m.mu.Unlock()
}

package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harbourdeck/callpoint-core/internal/infrastructure/logging"
	"github.com/harbourdeck/callpoint-core/internal/infrastructure/mqtt"
)

// Transport is the pub/sub surface a simulated device needs. Satisfied
// by *mqtt.Client; tests substitute a fake.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	DefaultQoS() byte
}

// Device is the common lifecycle contract across archetypes.
type Device interface {
	ID() string
	Type() string
	Start(ctx context.Context) error
	Stop()
	Status() Status
}

// Status is a point-in-time snapshot of a simulated device.
type Status struct {
	DeviceID string  `json:"device_id"`
	Type     string  `json:"type"`
	Site     string  `json:"site"`
	Room     string  `json:"room"`
	Battery  float64 `json:"battery"`
	Signal   float64 `json:"signal"`
	Online   bool    `json:"online"`
}

// Config describes one simulated device instance.
type Config struct {
	// DeviceID is optional; a standalone device without a claim
	// generates one.
	DeviceID string

	Site string
	Room string

	Transport Transport
	Logger    *logging.Logger

	// TelemetryInterval is the tick between telemetry publishes.
	// Default 5s.
	TelemetryInterval time.Duration

	// StatusInterval is the slower heartbeat cadence. Default 30s.
	StatusInterval time.Duration

	// BatteryDecayPerHour is percentage points lost per hour of
	// runtime. Default 2.0. Repeaters multiply this (radio always on).
	BatteryDecayPerHour float64

	// RepeaterDecayFactor overrides the multiplier repeaters apply to
	// BatteryDecayPerHour. Zero means the built-in default.
	RepeaterDecayFactor float64

	// InitialBattery/InitialSignal seed the gauges. Zero means 100
	// battery, 75 signal.
	InitialBattery float64
	InitialSignal  float64

	// Claim, when non-nil, makes the device unprovisioned: Start runs
	// the provisioning handshake before the loop begins.
	Claim *ClaimConfig
}

const (
	defaultTelemetryInterval = 5 * time.Second
	defaultStatusInterval    = 30 * time.Second
	defaultBatteryDecay      = 2.0
	defaultInitialSignal     = 75.0

	// signalStep bounds the random walk per tick.
	signalStep = 5.0

	// publishAttempts and retryBackoff bound the retry on a failed
	// telemetry publish. Failures are never fatal to the loop.
	publishAttempts = 3
	retryBackoff    = 100 * time.Millisecond
)

// base carries the state and loop shared by every archetype.
type base struct {
	deviceType string
	decayScale float64

	site      string
	room      string
	transport Transport
	logger    *logging.Logger
	builders  mqtt.Topics

	telemetryInterval time.Duration
	statusInterval    time.Duration
	decayPerHour      float64
	claim             *ClaimConfig

	mu       sync.Mutex
	id       string
	topics   mqtt.TopicSet
	battery  float64
	signal   float64
	online   bool
	dead     bool
	lastTick time.Time
	started  time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// extraTelemetry contributes archetype fields to each telemetry
	// message. Called with b.mu held.
	extraTelemetry func() map[string]any

	// command handles an archetype command, returning the outcome and
	// whether the command was recognised. Called with b.mu held.
	command func(cmd string) (string, bool)
}

func newBase(deviceType string, decayScale float64, cfg Config) *base {
	b := &base{
		deviceType:        deviceType,
		decayScale:        decayScale,
		site:              cfg.Site,
		room:              cfg.Room,
		transport:         cfg.Transport,
		logger:            cfg.Logger,
		telemetryInterval: cfg.TelemetryInterval,
		statusInterval:    cfg.StatusInterval,
		decayPerHour:      cfg.BatteryDecayPerHour,
		claim:             cfg.Claim,
		id:                cfg.DeviceID,
		battery:           cfg.InitialBattery,
		signal:            cfg.InitialSignal,
		done:              make(chan struct{}),
	}

	if b.telemetryInterval <= 0 {
		b.telemetryInterval = defaultTelemetryInterval
	}
	if b.statusInterval <= 0 {
		b.statusInterval = defaultStatusInterval
	}
	if b.decayPerHour <= 0 {
		b.decayPerHour = defaultBatteryDecay
	}
	if b.battery <= 0 {
		b.battery = 100
	}
	if b.signal <= 0 {
		b.signal = defaultInitialSignal
	}
	if b.logger == nil {
		b.logger = logging.Default()
	}
	if b.id == "" && b.claim == nil {
		b.id = "sim-" + uuid.NewString()[:8]
	}
	if b.id != "" {
		b.topics = b.builders.DeviceSet(b.site, b.room, b.id)
	}
	b.logger = b.logger.With("component", "simulator", "device_type", deviceType)

	return b
}

func (b *base) ID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.id
}

func (b *base) Type() string { return b.deviceType }

// Status returns a snapshot of the device's gauges.
func (b *base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		DeviceID: b.id,
		Type:     b.deviceType,
		Site:     b.site,
		Room:     b.room,
		Battery:  b.battery,
		Signal:   b.signal,
		Online:   b.online,
	}
}

// Start claims (if unprovisioned), subscribes the command topic, and
// launches the telemetry loop.
func (b *base) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.online {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	b.mu.Unlock()

	if b.claim != nil {
		if err := b.performClaim(ctx); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.online = true
	b.started = time.Now()
	b.lastTick = b.started
	commandTopic := b.topics.Command
	b.mu.Unlock()

	if err := b.transport.Subscribe(commandTopic, b.transport.DefaultQoS(), b.onCommand); err != nil {
		b.mu.Lock()
		b.online = false
		b.mu.Unlock()
		return fmt.Errorf("simulator: subscribing command topic: %w", err)
	}

	b.wg.Add(1)
	go b.run(ctx)

	b.logger.Info("device started", "device_id", b.ID(), "room", b.room)
	return nil
}

// Stop signals the loop to finish its current tick and waits for it.
// Safe to call multiple times, and legal even after battery death.
func (b *base) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
		b.mu.Lock()
		b.online = false
		b.mu.Unlock()
		b.logger.Info("device stopped", "device_id", b.ID())
	})
}

// run is the device loop: telemetry each tick, heartbeat at the slower
// cadence. The loop checks for shutdown only at tick boundaries so a
// publish is never cut off mid-flight.
func (b *base) run(ctx context.Context) {
	defer b.wg.Done()

	telemetry := time.NewTicker(b.telemetryInterval)
	defer telemetry.Stop()
	heartbeat := time.NewTicker(b.statusInterval)
	defer heartbeat.Stop()

	// First tick immediately so observers see the device without
	// waiting a full interval.
	b.tick()
	b.publishHeartbeat()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-telemetry.C:
			b.tick()
		case <-heartbeat.C:
			b.publishHeartbeat()
		}
	}
}

// tick advances the simulation one step and publishes telemetry.
func (b *base) tick() {
	b.mu.Lock()

	now := time.Now()
	elapsed := now.Sub(b.lastTick)
	b.lastTick = now

	if !b.dead {
		b.battery -= b.decayPerHour * b.decayScale * elapsed.Hours()
		if b.battery <= 0 {
			b.battery = 0
			b.dead = true
			b.logger.Info("battery depleted", "device_id", b.id)
		}
	}

	b.signal += (rand.Float64()*2 - 1) * signalStep
	b.signal = clamp(b.signal, 0, 100)

	if b.dead {
		// A dead device transmits nothing.
		b.mu.Unlock()
		return
	}

	msg := map[string]any{
		"deviceId":  b.id,
		"type":      b.deviceType,
		"battery":   round1(b.battery),
		"signal":    round1(b.signal),
		"timestamp": now.UTC().Format(time.RFC3339),
	}
	if b.extraTelemetry != nil {
		for k, v := range b.extraTelemetry() {
			msg[k] = v
		}
	}
	topic := b.topics.Telemetry
	b.mu.Unlock()

	b.publishWithRetry(topic, msg)
}

// publishHeartbeat publishes the slower status message.
func (b *base) publishHeartbeat() {
	b.mu.Lock()
	if b.dead {
		b.mu.Unlock()
		return
	}
	msg := map[string]any{
		"deviceId":  b.id,
		"type":      b.deviceType,
		"online":    true,
		"battery":   round1(b.battery),
		"uptime":    int(time.Since(b.started).Seconds()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	topic := b.topics.Status
	b.mu.Unlock()

	b.publishWithRetry(topic, msg)
}

// onCommand reacts to a message on the device's command topic and
// acknowledges it with a status publish. Unknown commands are
// acknowledged with a rejected outcome, never dropped, and never kill
// the loop.
func (b *base) onCommand(_ string, payload []byte) error {
	var cmd struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("discarding malformed command", "device_id", b.ID(), "error", err)
		return nil
	}

	b.mu.Lock()
	outcome := "rejected"
	switch cmd.Command {
	case "reset":
		// A reset is the one recharge event in the simulation.
		b.battery = 100
		b.dead = false
		outcome = "accepted"
	default:
		if b.command != nil {
			if result, handled := b.command(cmd.Command); handled {
				outcome = result
			}
		}
	}

	ack := map[string]any{
		"deviceId":  b.id,
		"event":     "command_ack",
		"command":   cmd.Command,
		"outcome":   outcome,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	topic := b.topics.Status
	b.mu.Unlock()

	b.publishWithRetry(topic, ack)
	return nil
}

// publishWithRetry publishes with bounded backoff. Transport failures
// are logged and swallowed; the loop carries on.
func (b *base) publishWithRetry(topic string, msg map[string]any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to marshal publish", "topic", topic, "error", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-b.done:
				return
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}
		if lastErr = b.transport.Publish(topic, payload, b.transport.DefaultQoS(), false); lastErr == nil {
			return
		}
	}
	b.logger.Warn("publish failed after retries", "topic", topic, "error", lastErr)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

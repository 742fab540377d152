package simulator

import (
	"time"
)

// Button simulates a call button: quiet between presses, with a
// momentary press event on demand.
type Button struct {
	*base

	pressCount int
}

// NewButton creates a button simulator.
func NewButton(cfg Config) *Button {
	btn := &Button{base: newBase("button", 1.0, cfg)}

	btn.base.extraTelemetry = func() map[string]any {
		return map[string]any{"pressCount": btn.pressCount}
	}
	btn.base.command = func(cmd string) (string, bool) {
		if cmd == "press" {
			btn.pressCount++
			return "accepted", true
		}
		return "", false
	}

	return btn
}

// Press publishes a momentary press event on the telemetry topic, the
// way a resident pressing the physical button would.
func (b *Button) Press() {
	b.mu.Lock()
	if b.dead || !b.online {
		b.mu.Unlock()
		return
	}
	b.pressCount++
	msg := map[string]any{
		"deviceId":   b.id,
		"type":       b.deviceType,
		"event":      "press",
		"pressCount": b.pressCount,
		"battery":    round1(b.battery),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	topic := b.topics.Telemetry
	b.mu.Unlock()

	b.publishWithRetry(topic, msg)
}

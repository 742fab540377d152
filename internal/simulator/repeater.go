package simulator

import "math/rand"

// repeaterDecayFactor reflects a radio that never sleeps: repeaters
// drain faster than battery-conserving end devices.
const repeaterDecayFactor = 3.0

// Repeater simulates a signal repeater: continuous relay status with a
// connected-client count.
type Repeater struct {
	*base

	connectedClients int
}

// NewRepeater creates a repeater simulator.
func NewRepeater(cfg Config) *Repeater {
	factor := cfg.RepeaterDecayFactor
	if factor <= 0 {
		factor = repeaterDecayFactor
	}
	r := &Repeater{
		base:             newBase("repeater", factor, cfg),
		connectedClients: 4,
	}

	r.base.extraTelemetry = func() map[string]any {
		// Clients drift by one as devices roam between repeaters.
		r.connectedClients += rand.Intn(3) - 1
		if r.connectedClients < 0 {
			r.connectedClients = 0
		}
		return map[string]any{"connectedClients": r.connectedClients}
	}

	return r
}

package simulator

import "math/rand"

// Wearable simulates a crew wearable: vitals-style telemetry plus
// acknowledgment of paging commands.
type Wearable struct {
	*base

	heartRate     float64
	pagesReceived int
}

// NewWearable creates a wearable simulator.
func NewWearable(cfg Config) *Wearable {
	w := &Wearable{
		base:      newBase("wearable", 1.0, cfg),
		heartRate: 72,
	}

	w.base.extraTelemetry = func() map[string]any {
		// Heart rate wanders inside a resting band.
		w.heartRate = clamp(w.heartRate+(rand.Float64()*2-1)*3, 55, 110)
		return map[string]any{
			"heartRate":     int(w.heartRate),
			"pagesReceived": w.pagesReceived,
		}
	}
	w.base.command = func(cmd string) (string, bool) {
		if cmd == "page" {
			w.pagesReceived++
			return "accepted", true
		}
		return "", false
	}

	return w
}

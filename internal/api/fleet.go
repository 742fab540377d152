package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/harbourdeck/callpoint-core/internal/simulator"
)

// createSimulatorRequest is the body of POST /fleet/simulators.
type createSimulatorRequest struct {
	Type string `json:"type"`

	// Room places a pre-provisioned simulator. Ignored when Token is
	// set: a claiming device learns its room from the handshake ack.
	Room string `json:"room,omitempty"`

	// DeviceID pins the identity of a pre-provisioned simulator.
	// Empty means a generated one.
	DeviceID string `json:"device_id,omitempty"`

	// Token makes the simulator unprovisioned: it redeems the token
	// over the shared provisioning request topic before its loop
	// begins, exactly as real hardware would.
	Token     string `json:"token,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`

	InitialBattery float64 `json:"initial_battery,omitempty"`
	InitialSignal  float64 `json:"initial_signal,omitempty"`
}

// handleCreateSimulator builds, starts and registers a simulated device.
//
// The claim handshake (when a token is supplied) runs synchronously, so
// the response reports the assigned device identity or the rejection.
func (s *Server) handleCreateSimulator(w http.ResponseWriter, r *http.Request) {
	if s.fleet == nil || s.transport == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "fleet control is not configured")
		return
	}

	var req createSimulatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Token == "" && req.Room == "" {
		writeBadRequest(w, "room is required unless a provisioning token is supplied")
		return
	}

	cfg := simulator.Config{
		DeviceID:            req.DeviceID,
		Site:                s.site,
		Room:                req.Room,
		Transport:           s.transport,
		Logger:              s.logger,
		TelemetryInterval:   time.Duration(s.simCfg.TelemetryInterval) * time.Second,
		StatusInterval:      time.Duration(s.simCfg.StatusInterval) * time.Second,
		BatteryDecayPerHour: s.simCfg.BatteryDecayPerHour,
		RepeaterDecayFactor: s.simCfg.RepeaterDecayFactor,
		InitialBattery:      req.InitialBattery,
		InitialSignal:       req.InitialSignal,
	}
	if req.Token != "" {
		cfg.Claim = &simulator.ClaimConfig{
			Token:     req.Token,
			IPAddress: req.IPAddress,
			Timeout:   time.Duration(s.simCfg.ClaimTimeout) * time.Second,
		}
	}

	dev, err := simulator.New(req.Type, cfg)
	if err != nil {
		writeFleetError(w, err)
		return
	}

	// The loop outlives this request; it is bounded by the server's
	// lifetime, not the client's connection.
	if err := dev.Start(s.backgroundContext()); err != nil {
		writeFleetError(w, err)
		return
	}

	if err := s.fleet.Add(dev); err != nil {
		dev.Stop()
		writeFleetError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, dev.Status())
}

// handleListSimulators returns a snapshot of every fleet device.
func (s *Server) handleListSimulators(w http.ResponseWriter, _ *http.Request) {
	if s.fleet == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "fleet control is not configured")
		return
	}

	statuses := s.fleet.Statuses()
	writeJSON(w, http.StatusOK, map[string]any{
		"simulators": statuses,
		"count":      len(statuses),
	})
}

// simulatorCommandRequest is the body of POST /fleet/simulators/{id}/command.
type simulatorCommandRequest struct {
	Command string `json:"command"`
}

// handleSimulatorCommand relays a command to a fleet device over its
// MQTT command topic. Delivery is fire-and-forget: the device
// acknowledges on its status topic.
func (s *Server) handleSimulatorCommand(w http.ResponseWriter, r *http.Request) {
	if s.fleet == nil || s.transport == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "fleet control is not configured")
		return
	}

	var req simulatorCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	dev, err := s.fleet.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeFleetError(w, err)
		return
	}

	st := dev.Status()
	topic := s.topics.DeviceCommand(st.Site, st.Room, st.DeviceID)
	payload, err := json.Marshal(map[string]string{"command": req.Command})
	if err != nil {
		writeInternalError(w, "internal server error")
		return
	}
	if err := s.transport.Publish(topic, payload, s.transport.DefaultQoS(), false); err != nil {
		writeInternalError(w, "publishing command failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": st.DeviceID,
		"command":   req.Command,
		"topic":     topic,
	})
}

// handleDeleteSimulator stops a fleet device and removes it.
func (s *Server) handleDeleteSimulator(w http.ResponseWriter, r *http.Request) {
	if s.fleet == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "fleet control is not configured")
		return
	}

	if err := s.fleet.Remove(chi.URLParam(r, "id")); err != nil {
		writeFleetError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// backgroundContext is the lifetime context for work started by a
// handler that must outlive the request.
func (s *Server) backgroundContext() context.Context {
	if s.srvCtx != nil {
		return s.srvCtx
	}
	return context.Background()
}

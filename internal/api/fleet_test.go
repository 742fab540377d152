package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestCreateSimulatorPreProvisioned(t *testing.T) {
	h := newTestServer(t)

	status, resp := h.do(http.MethodPost, "/api/v1/fleet/simulators", map[string]any{
		"type":      "button",
		"room":      "cabin-12",
		"device_id": "btn-test01",
	})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", status, resp)
	}
	if resp["device_id"] != "btn-test01" {
		t.Errorf("expected device_id btn-test01, got %v", resp["device_id"])
	}
	if resp["online"] != true {
		t.Errorf("expected device online, got %v", resp["online"])
	}
	if resp["room"] != "cabin-12" {
		t.Errorf("expected room cabin-12, got %v", resp["room"])
	}

	// The device loop publishes telemetry on its derived topic.
	telemetryTopic := "callpoint/mv-aurora/cabin-12/btn-test01/telemetry"
	waitFor(t, 2*time.Second, func() bool {
		return len(h.transport.messagesOn(telemetryTopic)) > 0
	}, "first telemetry publish")

	status, resp = h.do(http.MethodGet, "/api/v1/fleet/simulators", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 listing fleet, got %d", status)
	}
	if resp["count"] != float64(1) {
		t.Errorf("expected one simulator, got %v", resp["count"])
	}

	status, _ = h.do(http.MethodDelete, "/api/v1/fleet/simulators/btn-test01", nil)
	if status != http.StatusNoContent {
		t.Fatalf("expected 204 removing simulator, got %d", status)
	}

	status, resp = h.do(http.MethodGet, "/api/v1/fleet/simulators", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200 listing fleet, got %d", status)
	}
	if resp["count"] != float64(0) {
		t.Errorf("expected empty fleet after removal, got %v", resp["count"])
	}
}

func TestCreateSimulatorValidation(t *testing.T) {
	h := newTestServer(t)

	// Without a token the simulator needs a room to live in.
	status, resp := h.do(http.MethodPost, "/api/v1/fleet/simulators", map[string]any{
		"type": "button",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 without room or token, got %d: %v", status, resp)
	}

	status, resp = h.do(http.MethodPost, "/api/v1/fleet/simulators", map[string]any{
		"type": "toaster",
		"room": "galley",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown device type, got %d", status)
	}
	msg, _ := resp["message"].(string)
	if !strings.Contains(msg, "toaster") {
		t.Errorf("expected message to name the bad type, got %q", msg)
	}
}

func TestCreateSimulatorDuplicateConflict(t *testing.T) {
	h := newTestServer(t)

	body := map[string]any{"type": "wearable", "room": "deck-3", "device_id": "wrb-dup"}
	if status, resp := h.do(http.MethodPost, "/api/v1/fleet/simulators", body); status != http.StatusCreated {
		t.Fatalf("first create failed: %d %v", status, resp)
	}

	status, resp := h.do(http.MethodPost, "/api/v1/fleet/simulators", body)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate device, got %d: %v", status, resp)
	}
	if resp["code"] != ErrCodeConflict {
		t.Errorf("expected conflict code, got %v", resp["code"])
	}
}

func TestCreateSimulatorWithToken(t *testing.T) {
	h := newTestServer(t)

	issued := issueToken(t, h, "cabin-9", nil)
	token := issued["token"].(string)

	// The handshake runs synchronously against the coordinator over the
	// loopback transport, so the response carries the assigned identity.
	status, resp := h.do(http.MethodPost, "/api/v1/fleet/simulators", map[string]any{
		"type":       "button",
		"token":      token,
		"ip_address": "10.40.0.21",
	})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", status, resp)
	}

	deviceID, _ := resp["device_id"].(string)
	if !strings.HasPrefix(deviceID, "btn-") {
		t.Errorf("expected assigned btn- device ID, got %q", deviceID)
	}
	if resp["room"] != "cabin-9" {
		t.Errorf("expected room adopted from the claim ack, got %v", resp["room"])
	}

	// The token is now consumed.
	status, tok := h.do(http.MethodGet, "/api/v1/provision/tokens/"+token, nil)
	if status != http.StatusOK {
		t.Fatalf("fetching token failed: %d", status)
	}
	if tok["status"] != "claimed" {
		t.Errorf("expected claimed token after handshake, got %v", tok["status"])
	}
	if tok["device_id"] != deviceID {
		t.Errorf("expected token bound to %q, got %v", deviceID, tok["device_id"])
	}
}

func TestCreateSimulatorClaimRejected(t *testing.T) {
	h := newTestServer(t)

	status, resp := h.do(http.MethodPost, "/api/v1/fleet/simulators", map[string]any{
		"type":  "repeater",
		"token": "tok-never-issued",
	})
	if status != http.StatusConflict {
		t.Fatalf("expected 409 for rejected claim, got %d: %v", status, resp)
	}
	msg, _ := resp["message"].(string)
	if !strings.Contains(msg, "not_found") {
		t.Errorf("expected rejection reason in message, got %q", msg)
	}

	// Nothing joined the fleet.
	status, resp = h.do(http.MethodGet, "/api/v1/fleet/simulators", nil)
	if status != http.StatusOK {
		t.Fatalf("listing fleet failed: %d", status)
	}
	if resp["count"] != float64(0) {
		t.Errorf("expected empty fleet, got %v", resp["count"])
	}
}

func TestSimulatorCommandEndpoint(t *testing.T) {
	h := newTestServer(t)

	if status, resp := h.do(http.MethodPost, "/api/v1/fleet/simulators", map[string]any{
		"type":      "wearable",
		"room":      "deck-2",
		"device_id": "wrb-cmd01",
	}); status != http.StatusCreated {
		t.Fatalf("creating simulator failed: %d %v", status, resp)
	}

	status, resp := h.do(http.MethodPost, "/api/v1/fleet/simulators/wrb-cmd01/command",
		map[string]any{"command": "page"})
	if status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %v", status, resp)
	}
	commandTopic := "callpoint/mv-aurora/deck-2/wrb-cmd01/command"
	if resp["topic"] != commandTopic {
		t.Errorf("expected command topic %q, got %v", commandTopic, resp["topic"])
	}

	// The device acknowledges on its status topic.
	statusTopic := "callpoint/mv-aurora/deck-2/wrb-cmd01/status"
	waitFor(t, 2*time.Second, func() bool {
		for _, payload := range h.transport.messagesOn(statusTopic) {
			var msg map[string]any
			if json.Unmarshal(payload, &msg) == nil && msg["event"] == "command_ack" && msg["command"] == "page" {
				return true
			}
		}
		return false
	}, "command acknowledgement")

	// Validation and lookup failures.
	status, _ = h.do(http.MethodPost, "/api/v1/fleet/simulators/wrb-cmd01/command", map[string]any{})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty command, got %d", status)
	}

	status, _ = h.do(http.MethodPost, "/api/v1/fleet/simulators/wrb-ghost/command",
		map[string]any{"command": "page"})
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown simulator, got %d", status)
	}
}

func TestDeleteSimulatorNotFound(t *testing.T) {
	h := newTestServer(t)

	status, resp := h.do(http.MethodDelete, "/api/v1/fleet/simulators/btn-ghost", nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %v", status, resp)
	}
	if resp["code"] != ErrCodeNotFound {
		t.Errorf("expected not_found code, got %v", resp["code"])
	}
}

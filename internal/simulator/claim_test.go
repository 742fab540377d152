package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harbourdeck/callpoint-core/internal/infrastructure/mqtt"
	"github.com/harbourdeck/callpoint-core/internal/provision"
)

// respondToClaims wires the fake transport to answer claims the way the
// coordinator would.
func respondToClaims(t *testing.T, transport *fakeTransport, respond func(claim provision.ClaimMessage) any) {
	t.Helper()
	topics := mqtt.Topics{}
	err := transport.Subscribe(topics.ProvisionRequest(), 1, func(_ string, payload []byte) error {
		var claim provision.ClaimMessage
		if err := json.Unmarshal(payload, &claim); err != nil {
			t.Errorf("malformed claim from device: %v", err)
			return nil
		}
		reply, err := json.Marshal(respond(claim))
		if err != nil {
			t.Errorf("marshalling reply: %v", err)
			return nil
		}
		return transport.Publish(claim.ReplyTopic, reply, 1, false)
	})
	if err != nil {
		t.Fatalf("subscribing fake coordinator: %v", err)
	}
}

func TestUnprovisionedStartAdoptsAckIdentity(t *testing.T) {
	transport := newFakeTransport()
	topics := mqtt.Topics{}

	respondToClaims(t, transport, func(claim provision.ClaimMessage) any {
		if claim.Token != "tok-claim-me" {
			t.Errorf("expected device to send its token, got %q", claim.Token)
		}
		if claim.DeviceType != "wearable" {
			t.Errorf("expected wearable claim, got %q", claim.DeviceType)
		}
		return provision.AckMessage{
			Token:    claim.Token,
			Status:   provision.ReplyStatusAck,
			DeviceID: "wrb-granted",
			ClientID: "callpoint-wearable-wrb-granted",
			Username: "device-wrb-granted",
			Password: "secret-from-coordinator-24",
			Topics:   topics.DeviceSet("mv-aurora", "deck-3", "wrb-granted"),
		}
	})

	w := NewWearable(Config{
		Site:              "mv-aurora",
		Room:              "deck-3",
		Transport:         transport,
		TelemetryInterval: 5 * time.Millisecond,
		StatusInterval:    time.Hour,
		Claim: &ClaimConfig{
			Token:     "tok-claim-me",
			IPAddress: "10.40.0.21",
			Timeout:   time.Second,
		},
	})

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if w.ID() != "wrb-granted" {
		t.Errorf("expected device to adopt assigned ID, got %q", w.ID())
	}

	// Telemetry flows on the assigned topics from the ack.
	time.Sleep(30 * time.Millisecond)
	if transport.countOn("callpoint/mv-aurora/deck-3/wrb-granted/telemetry") == 0 {
		t.Error("expected telemetry on the assigned topic after claim")
	}
}

func TestUnprovisionedStartFailsOnReject(t *testing.T) {
	transport := newFakeTransport()

	respondToClaims(t, transport, func(claim provision.ClaimMessage) any {
		return provision.RejectMessage{
			Token:  claim.Token,
			Status: provision.ReplyStatusReject,
			Reason: provision.ReasonExpired,
		}
	})

	btn := NewButton(Config{
		Site:      "mv-aurora",
		Room:      "cabin-9",
		Transport: transport,
		Claim: &ClaimConfig{
			Token:   "tok-too-late",
			Timeout: time.Second,
		},
	})

	err := btn.Start(context.Background())
	if !errors.Is(err, ErrClaimRejected) {
		t.Fatalf("expected ErrClaimRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), provision.ReasonExpired) {
		t.Errorf("expected error to carry the reject reason, got %q", err)
	}

	// The loop never began: nothing on any device topic.
	if btn.Status().Online {
		t.Error("expected device offline after rejected claim")
	}
	time.Sleep(20 * time.Millisecond)
	transport.mu.Lock()
	defer transport.mu.Unlock()
	for _, m := range transport.published {
		if strings.Contains(m.topic, "/cabin-9/") {
			t.Errorf("expected no device publishes after rejected claim, saw %s", m.topic)
		}
	}
}

func TestUnprovisionedStartTimesOut(t *testing.T) {
	transport := newFakeTransport() // nobody answers

	btn := NewButton(Config{
		Site:      "mv-aurora",
		Room:      "cabin-9",
		Transport: transport,
		Claim: &ClaimConfig{
			Token:   "tok-silence",
			Timeout: 20 * time.Millisecond,
		},
	})

	if err := btn.Start(context.Background()); !errors.Is(err, ErrClaimTimeout) {
		t.Fatalf("expected ErrClaimTimeout, got %v", err)
	}
}

package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harbourdeck/callpoint-core/internal/infrastructure/mqtt"
	"github.com/harbourdeck/callpoint-core/internal/provision"
)

// ClaimConfig makes a device unprovisioned: it must redeem a token over
// the shared provisioning request topic before its loop may begin.
type ClaimConfig struct {
	// Token is the provisioning token from a scanned QR payload.
	Token string

	// RequestTopic overrides the shared request topic. Empty means the
	// well-known callpoint/provision/request.
	RequestTopic string

	// ReplyTopic is where the coordinator answers. Empty means a
	// generated callpoint/provision/reply/<claimId> topic.
	ReplyTopic string

	// IPAddress is reported in the claim descriptor.
	IPAddress string

	// Timeout bounds the wait for a reply. Default 10s.
	Timeout time.Duration
}

const defaultClaimTimeout = 10 * time.Second

// performClaim runs the provisioning handshake: subscribe the reply
// topic, publish the claim, wait for ack or reject. On ack the device
// adopts its assigned identity and topic set.
func (b *base) performClaim(ctx context.Context) error {
	cc := b.claim

	requestTopic := cc.RequestTopic
	if requestTopic == "" {
		requestTopic = b.builders.ProvisionRequest()
	}
	replyTopic := cc.ReplyTopic
	if replyTopic == "" {
		replyTopic = b.builders.ProvisionReply("claim-" + uuid.NewString()[:8])
	}
	timeout := cc.Timeout
	if timeout <= 0 {
		timeout = defaultClaimTimeout
	}

	replies := make(chan []byte, 1)
	err := b.transport.Subscribe(replyTopic, b.transport.DefaultQoS(), func(_ string, payload []byte) error {
		select {
		case replies <- payload:
		default:
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("simulator: subscribing claim reply topic: %w", err)
	}

	b.mu.Lock()
	claim := provision.ClaimMessage{
		Token:      cc.Token,
		DeviceType: b.deviceType,
		Battery:    round1(b.battery),
		Signal:     round1(b.signal),
		IPAddress:  cc.IPAddress,
		ReplyTopic: replyTopic,
	}
	b.mu.Unlock()

	payload, err := json.Marshal(claim)
	if err != nil {
		return fmt.Errorf("simulator: marshalling claim: %w", err)
	}
	if err := b.transport.Publish(requestTopic, payload, b.transport.DefaultQoS(), false); err != nil {
		return fmt.Errorf("simulator: publishing claim: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("%w: no reply on %s after %s", ErrClaimTimeout, replyTopic, timeout)
	case reply := <-replies:
		return b.adoptClaimReply(reply)
	}
}

// adoptClaimReply applies an ack to the device, or surfaces a reject.
func (b *base) adoptClaimReply(payload []byte) error {
	var probe struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return fmt.Errorf("simulator: malformed claim reply: %w", err)
	}

	switch probe.Status {
	case provision.ReplyStatusAck:
		var ack provision.AckMessage
		if err := json.Unmarshal(payload, &ack); err != nil {
			return fmt.Errorf("simulator: malformed claim ack: %w", err)
		}
		b.mu.Lock()
		b.id = ack.DeviceID
		b.topics = ack.Topics
		// The ack's topic set carries the site and room the token was
		// bound to; adopt them so status snapshots report the truth.
		if site, room, _, _, ok := mqtt.ParseDeviceTopic(ack.Topics.Command); ok {
			b.site = site
			b.room = room
		}
		b.mu.Unlock()
		b.logger.Info("claim acknowledged", "device_id", ack.DeviceID)
		return nil

	case provision.ReplyStatusReject:
		var reject provision.RejectMessage
		if err := json.Unmarshal(payload, &reject); err != nil {
			return fmt.Errorf("simulator: malformed claim reject: %w", err)
		}
		return fmt.Errorf("%w: %s", ErrClaimRejected, reject.Reason)

	default:
		return fmt.Errorf("simulator: claim reply with unknown status %q", probe.Status)
	}
}

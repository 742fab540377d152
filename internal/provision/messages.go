package provision

import (
	"strings"

	"github.com/harbourdeck/callpoint-core/internal/infrastructure/mqtt"
)

// QRPayload is the handshake descriptor encoded into the QR code shown
// to the installer. The topics it carries use a placeholder device slot;
// the final set arrives in the claim ack.
type QRPayload struct {
	Token    string        `json:"token"`
	MQTTHost string        `json:"mqttHost"`
	MQTTPort int           `json:"mqttPort"`
	Topics   mqtt.TopicSet `json:"topics"`
}

// ClaimMessage is a device's claim published on the shared provisioning
// request topic.
type ClaimMessage struct {
	Token      string  `json:"token"`
	DeviceType string  `json:"deviceType"`
	Battery    float64 `json:"battery"`
	Signal     float64 `json:"signal"`
	IPAddress  string  `json:"ipAddress"`
	ReplyTopic string  `json:"replyTopic"`
}

// Validate checks the claim message on ingress. Malformed claims are
// rejected before they touch the token store.
func (m *ClaimMessage) Validate() error {
	if m.Token == "" {
		return &ValidationError{Field: "token", Reason: "must not be empty"}
	}
	if !ValidDeviceType(m.DeviceType) {
		return &ValidationError{Field: "deviceType", Reason: "must be button, wearable or repeater"}
	}
	if m.Battery < 0 || m.Battery > 100 {
		return &ValidationError{Field: "battery", Reason: "must be between 0 and 100"}
	}
	if m.Signal < 0 || m.Signal > 100 {
		return &ValidationError{Field: "signal", Reason: "must be between 0 and 100"}
	}
	if m.ReplyTopic == "" {
		return &ValidationError{Field: "replyTopic", Reason: "must not be empty"}
	}
	if strings.ContainsAny(m.ReplyTopic, "+#") {
		return &ValidationError{Field: "replyTopic", Reason: "must not contain wildcards"}
	}
	return nil
}

// Reply status values.
const (
	ReplyStatusAck    = "ack"
	ReplyStatusReject = "reject"
)

// Reject reason codes.
const (
	ReasonExpired        = "expired"
	ReasonAlreadyClaimed = "already_claimed"
	ReasonNotFound       = "not_found"
	ReasonInvalid        = "invalid"
)

// AckMessage is the successful claim reply, published on the claimant's
// reply topic. It carries the plaintext password exactly once.
type AckMessage struct {
	Token    string        `json:"token"`
	Status   string        `json:"status"`
	DeviceID string        `json:"deviceId"`
	ClientID string        `json:"clientId"`
	Username string        `json:"username"`
	Password string        `json:"password"`
	Topics   mqtt.TopicSet `json:"topics"`
}

// RejectMessage is the failed claim reply.
type RejectMessage struct {
	Token  string `json:"token"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

package provision

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harbourdeck/callpoint-core/internal/infrastructure/mqtt"
)

// TokenStatus is the lifecycle state of a provisioning token.
type TokenStatus string

// Token lifecycle states. PENDING is the initial state; ACTIVE is the
// terminal success state; EXPIRED, CANCELLED and DELETED are terminal
// failure states. DELETED is reachable from any non-DELETED state.
const (
	StatusPending   TokenStatus = "pending"
	StatusClaimed   TokenStatus = "claimed"
	StatusActive    TokenStatus = "active"
	StatusExpired   TokenStatus = "expired"
	StatusCancelled TokenStatus = "cancelled"
	StatusDeleted   TokenStatus = "deleted"
)

// Valid reports whether s is a known token status.
func (s TokenStatus) Valid() bool {
	switch s {
	case StatusPending, StatusClaimed, StatusActive, StatusExpired, StatusCancelled, StatusDeleted:
		return true
	}
	return false
}

// Device archetypes accepted in claim messages.
const (
	DeviceTypeButton   = "button"
	DeviceTypeWearable = "wearable"
	DeviceTypeRepeater = "repeater"
)

// ValidDeviceType reports whether t is a known device archetype.
func ValidDeviceType(t string) bool {
	switch t {
	case DeviceTypeButton, DeviceTypeWearable, DeviceTypeRepeater:
		return true
	}
	return false
}

// ProvisionToken is one provisioning attempt: a single-use, time-limited
// token bound to a room, plus the QR payload handed to the installer.
//
// Rows are never physically deleted. UsedAt is set exactly when the token
// passes through CLAIMED, and DeviceID is set exactly when UsedAt is.
type ProvisionToken struct { //nolint:revive // provision.ProvisionToken is clearer than provision.Token in calling code
	Token     string      `json:"token"`
	Room      string      `json:"room"`
	Status    TokenStatus `json:"status"`
	DeviceID  string      `json:"device_id,omitempty"`
	QRPayload QRPayload   `json:"qr_payload"`
	ExpiresAt time.Time   `json:"expires_at"`
	UsedAt    *time.Time  `json:"used_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Expired reports whether the token's deadline has passed at the given
// instant. Expiry is a read-time predicate: the stored status only
// catches up when an operation observes it (see Coordinator).
func (t *ProvisionToken) Expired(now time.Time) bool {
	return t.Status == StatusPending && now.After(t.ExpiresAt)
}

// newToken generates a cryptographically unguessable token string.
func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("provision: generating token: %w", err)
	}
	return "tok-" + hex.EncodeToString(buf), nil
}

// deviceIDFor generates a device identifier with a type-specific prefix,
// assigned at claim time.
func deviceIDFor(deviceType string) string {
	prefix := map[string]string{
		DeviceTypeButton:   "btn",
		DeviceTypeWearable: "wrb",
		DeviceTypeRepeater: "rpt",
	}[deviceType]
	return prefix + "-" + uuid.NewString()[:8]
}

// placeholderDeviceID is the device slot used in QR payload topics before
// a claim binds a real identity. The final topic set is recomputed and
// returned in the ack.
func placeholderDeviceID() string {
	return "unclaimed-" + uuid.NewString()[:8]
}

// topicGrants lists the topics a claimed device may use, in the order
// command, telemetry, status.
func topicGrants(set mqtt.TopicSet) []string {
	return []string{set.Command, set.Telemetry, set.Status}
}

package mqtt

import (
	"fmt"
	"strings"
)

// Topic namespaces for the Callpoint MQTT hierarchy.
//
// Per-device topics use the scheme:
//
//	callpoint/{site}/{room}/{deviceId}/{command|telemetry|status}
//
// Provisioning uses a single shared request topic, because a device does
// not know its own identity before it claims a token. Replies go to a
// claimant-supplied reply topic.
const (
	// TopicNamespace is the base for all Callpoint topics.
	TopicNamespace = "callpoint"

	// TopicPrefixCore is the base for core-emitted topics.
	TopicPrefixCore = "callpoint/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "callpoint/system"

	// TopicPrefixProvision is the base for provisioning handshake topics.
	TopicPrefixProvision = "callpoint/provision"
)

// ChannelCommand, ChannelTelemetry and ChannelStatus are the per-device
// channel names (the final topic segment).
const (
	ChannelCommand   = "command"
	ChannelTelemetry = "telemetry"
	ChannelStatus    = "status"
)

// deviceTopicSegments is the segment count of a per-device topic:
// namespace/site/room/deviceId/channel.
const deviceTopicSegments = 5

// TopicSet is the derived set of per-device topics handed to a device at
// claim time and embedded in QR payloads. It is never persisted; it is
// recomputed from {site, room, deviceId} whenever needed.
type TopicSet struct {
	Command   string `json:"command"`
	Telemetry string `json:"telemetry"`
	Status    string `json:"status"`
}

// Topics provides builders for Callpoint MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	t := topics.DeviceTelemetry("mv-aurora", "cabin-12", "btn-a1b2")
//	// Returns: "callpoint/mv-aurora/cabin-12/btn-a1b2/telemetry"
type Topics struct{}

// ProvisionRequest returns the single well-known topic shared by every
// pending claim.
//
// Example: callpoint/provision/request
func (Topics) ProvisionRequest() string {
	return fmt.Sprintf("%s/request", TopicPrefixProvision)
}

// ProvisionReply returns the conventional reply topic for a claim attempt.
// The coordinator replies wherever the claimant asks; this builder is the
// convention simulators use for their replyTopic field.
//
// Example: callpoint/provision/reply/claim-9f3c21aa
func (Topics) ProvisionReply(claimID string) string {
	return fmt.Sprintf("%s/reply/%s", TopicPrefixProvision, claimID)
}

// DeviceCommand returns the inbound command topic for a device.
//
// Example: callpoint/mv-aurora/cabin-12/btn-a1b2/command
func (Topics) DeviceCommand(site, room, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", TopicNamespace, site, room, deviceID, ChannelCommand)
}

// DeviceTelemetry returns the telemetry topic for a device.
//
// Example: callpoint/mv-aurora/cabin-12/btn-a1b2/telemetry
func (Topics) DeviceTelemetry(site, room, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", TopicNamespace, site, room, deviceID, ChannelTelemetry)
}

// DeviceStatus returns the status heartbeat topic for a device.
//
// Example: callpoint/mv-aurora/cabin-12/btn-a1b2/status
func (Topics) DeviceStatus(site, room, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", TopicNamespace, site, room, deviceID, ChannelStatus)
}

// DeviceSet returns the full topic set for a device.
func (t Topics) DeviceSet(site, room, deviceID string) TopicSet {
	return TopicSet{
		Command:   t.DeviceCommand(site, room, deviceID),
		Telemetry: t.DeviceTelemetry(site, room, deviceID),
		Status:    t.DeviceStatus(site, room, deviceID),
	}
}

// CoreEvent returns the topic for coordinator domain events.
//
// Example: callpoint/core/event/token_claimed
func (Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// SystemStatus returns the system status topic used for the online/offline
// LWT of Core itself.
//
// Example: callpoint/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceTelemetry returns a pattern matching every device's telemetry.
//
// Pattern: callpoint/+/+/+/telemetry
func (Topics) AllDeviceTelemetry() string {
	return fmt.Sprintf("%s/+/+/+/%s", TopicNamespace, ChannelTelemetry)
}

// AllDeviceStatus returns a pattern matching every device's status heartbeat.
//
// Pattern: callpoint/+/+/+/status
func (Topics) AllDeviceStatus() string {
	return fmt.Sprintf("%s/+/+/+/%s", TopicNamespace, ChannelStatus)
}

// AllCoreEvents returns a pattern matching all coordinator domain events.
//
// Pattern: callpoint/core/event/+
func (Topics) AllCoreEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefixCore)
}

// ParseDeviceTopic splits a per-device topic into its components.
// Returns ok=false for topics outside the per-device scheme (provisioning,
// core, system).
func ParseDeviceTopic(topic string) (site, room, deviceID, channel string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != deviceTopicSegments || parts[0] != TopicNamespace {
		return "", "", "", "", false
	}
	switch parts[4] {
	case ChannelCommand, ChannelTelemetry, ChannelStatus:
	default:
		return "", "", "", "", false
	}
	// Reserved prefixes are not sites.
	switch parts[1] {
	case "core", "system", "provision":
		return "", "", "", "", false
	}
	return parts[1], parts[2], parts[3], parts[4], true
}

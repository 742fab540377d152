package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
//
// All of these are transient transport errors: callers that can retry
// (for example a simulator's telemetry loop) should do so with bounded
// backoff rather than treating them as fatal.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or invalid topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)

// IsTransient reports whether err is a transport error that may succeed on
// retry. State and validation errors from higher layers are never transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrPublishFailed) ||
		errors.Is(err, ErrSubscribeFailed) ||
		errors.Is(err, ErrUnsubscribeFailed) ||
		errors.Is(err, ErrConnectionFailed)
}

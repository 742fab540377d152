package simulator

import "errors"

var (
	// ErrAlreadyRunning indicates Start was called on a running device.
	ErrAlreadyRunning = errors.New("simulator: device already running")

	// ErrClaimRejected indicates the provisioning handshake was
	// rejected; the telemetry loop never began.
	ErrClaimRejected = errors.New("simulator: claim rejected")

	// ErrClaimTimeout indicates no reply arrived within the claim
	// window.
	ErrClaimTimeout = errors.New("simulator: claim timed out")

	// ErrFleetFull indicates the fleet is at its configured size limit.
	ErrFleetFull = errors.New("simulator: fleet at maximum size")

	// ErrDuplicateDevice indicates a device with the same ID is already
	// in the fleet.
	ErrDuplicateDevice = errors.New("simulator: device already in fleet")

	// ErrDeviceNotFound indicates no such device in the fleet.
	ErrDeviceNotFound = errors.New("simulator: device not found")

	// ErrUnknownDeviceType indicates an unrecognised archetype.
	ErrUnknownDeviceType = errors.New("simulator: unknown device type")
)

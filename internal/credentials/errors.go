package credentials

import "errors"

var (
	// ErrNotFound indicates no credentials exist for the device.
	ErrNotFound = errors.New("credentials: device credentials not found")

	// ErrAlreadyIssued indicates credentials were already issued for
	// the device. Credentials are issued once per device identity;
	// re-provisioning requires a new token and a new device ID.
	ErrAlreadyIssued = errors.New("credentials: credentials already issued for device")
)

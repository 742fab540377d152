package credentials

import (
	"context"
	"fmt"
)

// Credentials is what the claiming device receives: broker identity plus
// the one-time plaintext password and the topics it may use.
type Credentials struct {
	DeviceID    string   `json:"device_id"`
	ClientID    string   `json:"client_id"`
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	TopicGrants []string `json:"topic_grants"`
}

// Issuer generates per-device broker credentials and persists their
// verifier-at-rest form.
type Issuer struct {
	repo Repository
}

// NewIssuer creates a credential issuer backed by the given repository.
func NewIssuer(repo Repository) *Issuer {
	return &Issuer{repo: repo}
}

// Issue generates credentials for a device and stores the Argon2id
// verifier. The returned Credentials carry the plaintext password; this
// is the only time it exists outside the claiming device.
//
// clientID and username are derived deterministically from the device
// type and ID so broker-side logs correlate with the provisioning record.
func (i *Issuer) Issue(ctx context.Context, deviceID, deviceType string, topicGrants []string) (*Credentials, error) {
	password, err := GeneratePassword()
	if err != nil {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	creds := &Credentials{
		DeviceID:    deviceID,
		ClientID:    fmt.Sprintf("callpoint-%s-%s", deviceType, deviceID),
		Username:    fmt.Sprintf("device-%s", deviceID),
		Password:    password,
		TopicGrants: topicGrants,
	}

	rec := &Record{
		DeviceID:     deviceID,
		ClientID:     creds.ClientID,
		Username:     creds.Username,
		PasswordHash: hash,
		TopicGrants:  topicGrants,
	}
	if err := i.repo.Save(ctx, rec); err != nil {
		return nil, err
	}

	return creds, nil
}

// Verify checks a plaintext password against the stored verifier for a
// device. Intended for a broker auth hook; the provisioning flow itself
// never needs the password back.
func (i *Issuer) Verify(ctx context.Context, deviceID, password string) (bool, error) {
	rec, err := i.repo.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return false, err
	}
	return VerifyPassword(password, rec.PasswordHash)
}

// Package credentials issues per-device broker credentials at claim time.
//
// The issuer derives a deterministic client identifier and username from
// the device type and device ID, generates a random password from a
// cryptographically strong source, and persists only an Argon2id verifier.
// The plaintext password leaves this package exactly once, inside the
// claim acknowledgement, and cannot be recovered afterwards.
//
// Topic grants are stored alongside the verifier so a broker-side auth
// plugin can enforce per-device topic ACLs from the same table.
package credentials

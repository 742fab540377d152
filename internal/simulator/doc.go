// Package simulator provides protocol-compatible virtual devices for
// load and integration testing of the Callpoint fleet.
//
// Three archetypes are implemented over a common lifecycle:
//
//   - button: momentary press events, a Press() trigger, low traffic
//   - wearable: periodic vitals-style telemetry, answers paging commands
//   - repeater: continuous relay status with a connected-client count,
//     radio always on so its battery decays faster
//
// Each device owns an independent timer-driven loop: per tick it applies
// battery decay from elapsed wall time, jitters signal strength within a
// bounded random walk, and publishes telemetry, with a status heartbeat
// at a slower cadence. There is no shared scheduler; a fleet is just a
// collection of independently owned loops, so one device failing never
// touches another.
//
// A device constructed with a ClaimConfig is unprovisioned: Start runs
// the provisioning handshake against the shared request topic first and
// only enters the telemetry loop once the claim is acknowledged. A
// rejected claim fails Start with the broker's reason.
//
// Stop is cooperative and idempotent: the loop checks the stop signal at
// tick boundaries and is never interrupted mid-publish.
package simulator

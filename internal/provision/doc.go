// Package provision implements the device provisioning state machine.
//
// A provisioning attempt is a single-use, time-limited token bound to a
// room. An operator issues a token, the resulting payload is shown as a
// QR code, and the device redeems it by publishing a claim on the shared
// provisioning request topic. The Coordinator validates the claim,
// issues broker credentials, and answers on the claimant's reply topic.
//
// # Token lifecycle
//
//	PENDING ──claim──▶ CLAIMED ──first telemetry──▶ ACTIVE
//	   │                  │
//	   ├──deadline──▶ EXPIRED
//	   └──cancel────▶ CANCELLED (also from CLAIMED)
//
//	any non-DELETED ──softDelete──▶ DELETED
//
// ACTIVE is the terminal success state. EXPIRED, CANCELLED and DELETED
// are terminal; no operation ever moves a token backwards, and rows are
// never physically removed.
//
// # Concurrency
//
// Transitions serialize per token at the database row: every state
// change is an UPDATE guarded by the expected current status, and the
// row count tells the caller whether it won. Two claims racing for the
// same PENDING token resolve to exactly one ack and one already_claimed
// reject, with no lock shared across tokens.
//
// # Expiry
//
// There is no expiry timer. A PENDING token past its deadline is treated
// as expired by every read, and the first operation to observe it
// persists the EXPIRED status, so the transition is recorded exactly
// once by whichever caller gets there first.
//
// # Events
//
// Every committed transition emits a typed Event to the injected
// EventSink. The API layer fans these out to dashboard websockets;
// TransportSink republishes them on the core event topic.
package provision

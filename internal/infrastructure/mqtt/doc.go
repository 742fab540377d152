// Package mqtt provides MQTT client connectivity for Callpoint Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Topic naming for the whole Callpoint hierarchy (Topics{})
//
// # Architecture
//
// MQTT is the only channel between Core and devices, real or simulated.
// The provisioning coordinator subscribes one shared request topic and
// replies point-to-point; every onboarded device then publishes on its own
// derived topic set:
//
//	callpoint/{site}/{room}/{deviceId}/{command|telemetry|status}
//
// Delivery is at-least-once (QoS 1) and unordered across publishers;
// per-publisher order is preserved. Nothing in this package or its callers
// may assume global ordering across devices.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.ProvisionRequest(), 1,
//	    func(topic string, payload []byte) error {
//	        return coordinator.HandleClaim(ctx, payload)
//	    })
package mqtt

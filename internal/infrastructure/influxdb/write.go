package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceTelemetry records one telemetry tick for a device.
//
// The write is non-blocking; points are batched and sent asynchronously.
// Tags carry the device's topic coordinates so dashboards can group by
// site, room, or archetype.
//
// Example:
//
//	client.WriteDeviceTelemetry("btn-a1b2", "button", "mv-aurora", "cabin-12", 87.5, 62.0)
func (c *Client) WriteDeviceTelemetry(deviceID, deviceType, site, room string, battery, signal float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_telemetry",
		map[string]string{
			"device_id":   deviceID,
			"device_type": deviceType,
			"site":        site,
			"room":        room,
		},
		map[string]interface{}{
			"battery": battery,
			"signal":  signal,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceStatus records a status heartbeat observation.
func (c *Client) WriteDeviceStatus(deviceID, site, room string, online bool) {
	if !c.IsConnected() {
		return
	}

	onlineVal := 0
	if online {
		onlineVal = 1
	}

	point := write.NewPoint(
		"device_status",
		map[string]string{
			"device_id": deviceID,
			"site":      site,
			"room":      room,
		},
		map[string]interface{}{
			"online": onlineVal,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

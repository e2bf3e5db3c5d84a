package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceMetric records one numeric device attribute, tagged by
// device and attribute name. The write is batched and asynchronous.
func (c *Client) WriteDeviceMetric(deviceID string, attribute string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_metrics",
		map[string]string{
			"device_id": deviceID,
			"attribute": attribute,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteAmbientReading records one decoded ambient sensor sample at its
// original capture time. Cameras report these in batches, so the
// timestamp comes from the device, not the wall clock.
func (c *Client) WriteAmbientReading(deviceID string, temperature, humidity, airQuality float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"ambient",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"temperature": temperature,
			"humidity":    humidity,
			"air_quality": airQuality,
		},
		ts,
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point for measurements the helpers do not
// cover.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with an explicit timestamp,
// for data that arrives delayed.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}

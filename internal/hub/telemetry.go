package hub

import (
	"strings"
	"time"

	"github.com/reedholm/skymirror/internal/device"
	"github.com/reedholm/skymirror/internal/infrastructure/influxdb"
	"github.com/reedholm/skymirror/internal/storage"
)

// numericAttrs are the attributes forwarded to the time-series sink.
var numericAttrs = map[string]struct{}{
	device.KeyBattery:        {},
	device.KeySignalStrength: {},
	device.KeyTemperature:    {},
	device.KeyHumidity:       {},
	device.KeyAirQuality:     {},
	device.KeyBrightness:     {},
	device.KeyCapturedToday:  {},
}

// telemetry forwards numeric attribute changes to InfluxDB. Everything
// is best-effort; a down sink never blocks the mirror.
type telemetry struct {
	hub  *Controller
	sink *influxdb.Client
}

// startTelemetry connects the sink and hooks the store. Disabled or
// unreachable sinks just log and bail.
func (h *Controller) startTelemetry() {
	sink, err := influxdb.Connect(h.cfg.InfluxDB)
	if err != nil {
		if h.cfg.InfluxDB.Enabled {
			h.log.Warn("telemetry sink unavailable", "error", err)
		}
		return
	}
	sink.SetOnError(func(err error) {
		h.log.Warn("telemetry write failed", "error", err)
	})

	t := &telemetry{hub: h, sink: sink}
	h.store.OnAnyChange(t.record)
	h.telemetry = t
	h.log.Info("telemetry sink connected", "url", h.cfg.InfluxDB.URL)
}

func (t *telemetry) close() {
	t.sink.Close()
}

// record forwards one store change. Ambient readings are written as a
// combined point when the air quality lands, since the camera stores the
// triple in temperature, humidity, airQuality order.
func (t *telemetry) record(key storage.Key, value any) {
	attr := strings.Join(key.Attr, "/")

	if attr == device.KeyAirQuality {
		temp, tok := toFloat(t.hub.store.Get(storage.K(key.Class, key.ID, device.KeyTemperature), nil))
		hum, hok := toFloat(t.hub.store.Get(storage.K(key.Class, key.ID, device.KeyHumidity), nil))
		air, aok := toFloat(value)
		if tok && hok && aok {
			t.sink.WriteAmbientReading(key.ID, temp, hum, air, time.Now())
			return
		}
	}

	if _, ok := numericAttrs[attr]; !ok {
		return
	}
	if v, ok := toFloat(value); ok {
		t.sink.WriteDeviceMetric(key.ID, attr, v)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

package hub

import (
	"errors"
	"fmt"
	"strings"

	"github.com/reedholm/skymirror/internal/backend"
	"github.com/reedholm/skymirror/internal/device"
)

// discoverLocations fetches the account's location list. Most accounts
// have none or one; only multi-location accounts arm per location.
func (h *Controller) discoverLocations() {
	data := h.be.Get(fmt.Sprintf(backend.LocationsPathFormat, h.be.UserID()))

	var records []any
	switch v := data.(type) {
	case map[string]any:
		records, _ = v["locations"].([]any)
	case []any:
		records = v
	}

	var locations []*device.Location
	for _, r := range records {
		attrs, ok := r.(map[string]any)
		if !ok {
			continue
		}
		loc := device.NewLocation(h, attrs)
		if loc.ID() == "" {
			continue
		}
		locations = append(locations, loc)
	}

	h.mu.Lock()
	h.locations = locations
	h.mu.Unlock()
	if len(locations) > 0 {
		h.log.Info("discovered locations", "count", len(locations))
	}
}

// discoverDevices fetches the registered device list and builds the
// mirrored device set. Only provisioned devices are mirrored.
func (h *Controller) discoverDevices() error {
	records, ok := h.be.Get(backend.DevicesPath).([]any)
	if !ok {
		return errors.New("hub: device discovery failed: " + h.be.LastError())
	}
	h.classify(records)

	h.mu.Lock()
	total := len(h.devices)
	bases := len(h.bases)
	h.mu.Unlock()
	h.log.Info("discovered devices", "total", total, "bases", bases)
	if bases == 0 && total > 0 {
		return errors.New("hub: no base stations in device list")
	}
	return nil
}

func (h *Controller) classify(records []any) {
	var (
		devices   []device.Device
		bases     []*device.Base
		cameras   []*device.Camera
		doorbells []*device.Doorbell
		lights    []*device.Light
		sensors   []*device.Sensor
		cloudIDs  []string
		seenCloud = map[string]bool{}
		seenBase  = map[string]bool{}
	)

	addCloudID := func(attrs map[string]any) {
		if id, _ := attrs[device.KeyXCloudID].(string); id != "" && !seenCloud[id] {
			seenCloud[id] = true
			cloudIDs = append(cloudIDs, id)
		}
	}
	addBase := func(attrs map[string]any) {
		b := device.NewBase(h, attrs, h.multiLocation)
		if seenBase[b.DeviceID()] {
			return
		}
		seenBase[b.DeviceID()] = true
		bases = append(bases, b)
		devices = append(devices, b)
	}

	for _, r := range records {
		attrs, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if state, _ := attrs["deviceState"].(string); state != "provisioned" {
			h.log.Debug("skipping unprovisioned device", "id", attrs[device.KeyDeviceID])
			continue
		}
		dtype, _ := attrs[device.KeyDeviceType].(string)
		model, _ := attrs["modelId"].(string)

		switch dtype {
		case "basestation", "arlobridge":
			addBase(attrs)
			addCloudID(attrs)

		case "camera", "arloq", "arloqs":
			c := device.NewCamera(h, attrs)
			cameras = append(cameras, c)
			devices = append(devices, c)
			addCloudID(attrs)
			// Cameras that talk to the cloud directly double as their
			// own base so arming has somewhere to go.
			if c.IsOwnParent() {
				addBase(attrs)
			}

		case "doorbell":
			d := device.NewDoorbell(h, attrs)
			doorbells = append(doorbells, d)
			devices = append(devices, d)
			addCloudID(attrs)
			// Video doorbells carry a full camera behind the button.
			if strings.HasPrefix(model, "AVD") {
				c := device.NewCamera(h, attrs)
				cameras = append(cameras, c)
				devices = append(devices, c)
				if c.IsOwnParent() {
					addBase(attrs)
				}
			}

		case "lights":
			l := device.NewLight(h, attrs)
			lights = append(lights, l)
			devices = append(devices, l)
			addCloudID(attrs)

		case "sensors":
			s := device.NewSensor(h, attrs)
			sensors = append(sensors, s)
			devices = append(devices, s)
			addCloudID(attrs)

		default:
			h.log.Debug("ignoring unsupported device type", "type", dtype, "model", model)
		}
	}

	h.mu.Lock()
	h.devices = devices
	h.bases = bases
	h.cameras = cameras
	h.doorbells = doorbells
	h.lights = lights
	h.sensors = sensors
	h.xCloudIDs = cloudIDs
	h.mu.Unlock()
}

// reloadDevices re-reads the device list and refreshes the attributes of
// every device we already mirror. New or removed hardware is only picked
// up at restart; mid-flight identity churn is not worth the state loss.
func (h *Controller) reloadDevices() {
	records, ok := h.be.Get(backend.DevicesPath).([]any)
	if !ok {
		h.log.Warn("device reload failed", "error", h.be.LastError())
		return
	}
	for _, r := range records {
		attrs, ok := r.(map[string]any)
		if !ok {
			continue
		}
		id, _ := attrs[device.KeyDeviceID].(string)
		if d := h.LookupDevice(id); d != nil {
			if refreshable, ok := d.(interface{ RefreshAttrs(map[string]any) }); ok {
				refreshable.RefreshAttrs(attrs)
			}
		}
	}
}

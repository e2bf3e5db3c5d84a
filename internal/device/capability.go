package device

import "strings"

// Capability names a feature a device model may or may not carry.
type Capability int

const (
	CapConnection Capability = iota
	CapBattery
	CapMotion
	CapAudio
	CapSiren
	CapSpotlight
	CapNightlight
	CapFloodlight
	CapTemperature
	CapHumidity
	CapAirQuality
	CapButtonPressed
	CapSilentMode
	CapContact
	CapWater
	CapAmbientLight
	CapTamper
	CapRecentActivity
	CapPing
	CapResourceQuery
)

var capabilityNames = map[Capability]string{
	CapConnection:     "connection",
	CapBattery:        "battery",
	CapMotion:         "motion",
	CapAudio:          "audio",
	CapSiren:          "siren",
	CapSpotlight:      "spotlight",
	CapNightlight:     "nightlight",
	CapFloodlight:     "floodlight",
	CapTemperature:    "temperature",
	CapHumidity:       "humidity",
	CapAirQuality:     "airQuality",
	CapButtonPressed:  "buttonPressed",
	CapSilentMode:     "silentMode",
	CapContact:        "contact",
	CapWater:          "water",
	CapAmbientLight:   "ambientLight",
	CapTamper:         "tamper",
	CapRecentActivity: "recentActivity",
	CapPing:           "ping",
	CapResourceQuery:  "resourceQuery",
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return "unknown"
}

// Model id prefixes. Capability rules key off these because the server
// does not report features directly.
const (
	ModelHub              = "SH1001"
	ModelHD               = "VMC3030"
	ModelPro2             = "VMC4030"
	ModelPro3             = "VMC4040"
	ModelPro4             = "VMC4041"
	ModelPro3Floodlight   = "FB1001"
	ModelUltra            = "VMC5040"
	ModelBaby             = "ABC1000"
	ModelEssential        = "VMC2030"
	ModelEssentialIndoor  = "VMC2040"
	ModelWiredDoorbell    = "AVD1001"
	ModelWirefreeDoorbell = "AVD2001"
	ModelGo               = "VML4030"
	ModelAllInOneSensor   = "MS1001"
)

func modelIs(modelID string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(modelID, p) {
			return true
		}
	}
	return false
}

// baseHas answers capability checks for base stations.
func baseHas(modelID, deviceType string, isOwnParent, isCorded, hasCharger, usingWiFi bool, cap Capability) bool {
	switch cap {
	case CapConnection:
		return true
	case CapTemperature, CapHumidity, CapAirQuality:
		return modelIs(modelID, ModelBaby)
	case CapSiren:
		return modelIs(modelID, "VMB400", "VMB450") || modelID == ModelGo
	case CapPing:
		if modelIs(modelID, ModelBaby, ModelWiredDoorbell) {
			return true
		}
		if modelIs(modelID, ModelWirefreeDoorbell, ModelEssential, ModelPro3Floodlight, ModelPro4) {
			return false
		}
		// Pinging battery devices on WiFi drains them fast.
		if isOwnParent && !isCorded && !hasCharger && usingWiFi {
			return false
		}
		return true
	case CapResourceQuery:
		return !modelIs(modelID, ModelWirefreeDoorbell, ModelEssential)
	default:
		_ = deviceType
		return false
	}
}

// cameraHas answers capability checks for cameras.
func cameraHas(modelID, deviceType, parentID, deviceID string, cap Capability) bool {
	switch cap {
	case CapBattery:
		return !modelIs(modelID, ModelEssentialIndoor)
	case CapMotion, CapRecentActivity:
		return true
	case CapAudio:
		if modelIs(modelID, ModelEssential, ModelEssentialIndoor, ModelPro2, ModelPro3,
			ModelPro3Floodlight, ModelPro4, ModelUltra, ModelGo, ModelBaby) {
			return true
		}
		return strings.HasPrefix(deviceType, "arloq")
	case CapSiren:
		return modelIs(modelID, ModelEssential, ModelEssentialIndoor, ModelPro3,
			ModelPro3Floodlight, ModelPro4, ModelUltra, ModelWirefreeDoorbell)
	case CapSpotlight:
		return modelIs(modelID, ModelEssential, ModelPro3, ModelPro4, ModelUltra)
	case CapTemperature, CapHumidity, CapAirQuality, CapNightlight:
		return modelIs(modelID, ModelBaby)
	case CapFloodlight:
		return modelIs(modelID, ModelPro3Floodlight)
	case CapConnection:
		// Own-base cameras report connectivity at the base level already.
		if parentID == deviceID && modelIs(modelID, ModelBaby, ModelPro3Floodlight,
			ModelPro4, ModelEssential, ModelWiredDoorbell, ModelWirefreeDoorbell,
			ModelEssentialIndoor, ModelGo) {
			return false
		}
		return deviceType != "arloq" && deviceType != "arloqs"
	default:
		return false
	}
}

// doorbellHas answers capability checks for doorbells; video doorbells
// surface camera-style keys through their camera twin instead.
func doorbellHas(modelID, parentID, deviceID string, cap Capability) bool {
	switch cap {
	case CapButtonPressed, CapSilentMode:
		return true
	case CapMotion, CapBattery:
		return !modelIs(modelID, ModelWiredDoorbell)
	case CapConnection:
		if modelIs(modelID, ModelWiredDoorbell) && parentID == deviceID {
			return false
		}
		return true
	default:
		return false
	}
}

// sensorHas answers capability checks for the all-in-one sensor.
func sensorHas(cap Capability) bool {
	switch cap {
	case CapAmbientLight, CapBattery, CapContact, CapMotion, CapTamper,
		CapTemperature, CapWater, CapConnection:
		return true
	default:
		return false
	}
}

// lightHas answers capability checks for standalone lights.
func lightHas(cap Capability) bool {
	switch cap {
	case CapBattery, CapMotion, CapConnection:
		return true
	default:
		return false
	}
}

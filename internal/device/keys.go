package device

// Attribute keys, verbatim from the cloud API. Keys outside the allow
// lists below are never stored speculatively.
const (
	KeyActivityState   = "activityState"
	KeyAirQuality      = "airQuality"
	KeyALSState        = "alsState"
	KeyAudioDetected   = "audioDetected"
	KeyBattery         = "batteryLevel"
	KeyBatteryTech     = "batteryTech"
	KeyBrightness      = "brightness"
	KeyButtonPressed   = "buttonPressed"
	KeyCharger         = "chargerTech"
	KeyCharging        = "chargingState"
	KeyConnection      = "connectionState"
	KeyContactState    = "contactState"
	KeyFloodlight      = "floodlight"
	KeyHumidity        = "humidity"
	KeyLampState       = "lampState"
	KeyLightBrightness = "lightBrightness"
	KeyLightMode       = "lightMode"
	KeyMotionDetected  = "motionDetected"
	KeyMotionState     = "motionState"
	KeyPowerSave       = "powerSaveMode"
	KeyPrivacy         = "privacyActive"
	KeySignalStrength  = "signalStrength"
	KeySilentMode      = "silentMode"
	KeySirenState      = "sirenState"
	KeySpotlight       = "spotlight"
	KeySpotlightLevel  = "spotlightBrightness"
	KeyTamperState     = "tamperState"
	KeyTemperature     = "temperature"
	KeyTimezone        = "olsonTimeZone"
	KeyWaterState      = "waterState"
	KeyNightlight      = "nightLight"

	KeyDeviceID   = "deviceId"
	KeyDeviceName = "deviceName"
	KeyDeviceType = "deviceType"
	KeyMediaCount = "mediaObjectCount"
	KeyParentID   = "parentId"
	KeyUniqueID   = "uniqueId"
	KeyUserID     = "userId"
	KeyXCloudID   = "xCloudId"

	KeyLastImage      = "presignedLastImageUrl"
	KeySnapshot       = "presignedFullFrameSnapshotUrl"
	KeyStreamSnapshot = "presignedContentUrl"

	// Locally derived keys, never sent by the server.
	KeyCapturedToday  = "capturedToday"
	KeyLastCapture    = "lastCapture"
	KeyLastImageData  = "presignedLastImageData"
	KeyLastImageSrc   = "lastImageSource"
	KeyRecentActivity = "recentActivity"
	KeyMediaUpload    = "mediaUploadNotification"

	KeyMode         = "activeMode"
	KeyModeRevision = "activeModeRevision"
	KeyModeNameToID = "modeNameToId"
	KeyModeIDToName = "modeIdToName"
	KeyModeSchedule = "modeIsSchedule"
	KeySchedule     = "activeSchedule"

	KeyRecordingStopped = "recordingStopped"
)

// resourceKeys are extracted from full resource payloads (device list
// rows, resource get responses).
var resourceKeys = []string{
	KeyActivityState, KeyAirQuality, KeyAudioDetected, KeyBattery,
	KeyBatteryTech, KeyBrightness, KeyConnection, KeyCharger, KeyCharging,
	KeyHumidity, KeyLampState, KeyLightBrightness, KeyLightMode,
	KeyMotionDetected, KeyPowerSave, KeyPrivacy, KeySignalStrength,
	KeySirenState, KeyTemperature,
}

// resourceUpdateKeys are extracted from incremental property updates.
var resourceUpdateKeys = []string{
	KeyActivityState, KeyAirQuality, KeyALSState, KeyAudioDetected,
	KeyBattery, KeyBatteryTech, KeyCharger, KeyCharging, KeyConnection,
	KeyContactState, KeyFloodlight, KeyHumidity, KeyLampState,
	KeyMotionDetected, KeyMotionState, KeyPrivacy, KeySignalStrength,
	KeySilentMode, KeySirenState, KeyTamperState, KeyTemperature,
}

// recentActivityKeys trip a camera's recently-active flag.
var recentActivityKeys = []string{KeyAudioDetected, KeyMotionDetected}

// deviceKeys are copied from the discovery record at construction.
var deviceKeys = []string{
	KeyActivityState, KeyDeviceID, KeyDeviceName, KeyDeviceType,
	KeyLastImage, KeyMediaCount, KeyParentID, KeySnapshot, KeyUniqueID,
	KeyUserID, KeyXCloudID,
}

package backend

// Cloud API paths. These are fixed by the server; only the hosts are
// configurable.
const (
	DevicesPath      = "/hmsweb/v2/users/devices"
	DefinitionsPath  = "/hmsweb/users/automation/definitions"
	AutomationPath   = "/hmsweb/users/devices/automation/active"
	LibraryPath      = "/hmsweb/users/library"
	LoginPath        = "/hmsweb/login/v2"
	LogoutPath       = "/hmsweb/logout"
	SessionPath      = "/hmsweb/users/session/v3"
	NotifyPath       = "/hmsweb/users/devices/notify/"
	SubscribePath    = "/hmsweb/client/subscribe"
	UnsubscribePath  = "/hmsweb/client/unsubscribe"
	RecordStartPath  = "/hmsweb/users/devices/startRecord"
	RecordStopPath   = "/hmsweb/users/devices/stopRecord"
	RestartPath      = "/hmsweb/users/devices/restart"
	StreamSnapPath   = "/hmsweb/users/devices/takeSnapshot"
	StreamStartPath  = "/hmsweb/users/devices/startStream"
	IdleSnapshotPath = "/hmsweb/users/devices/fullFrameSnapshot"

	// Location (mode API v3) variants. Format arguments are noted inline.
	LocationsPathFormat      = "/hmsdevicemanagement/users/%s/locations"          // user id
	LocationModesPathFormat  = "/hmsweb/automation/v3/modes?locationId=%s"        // location id
	LocationActiveModeFormat = "/hmsweb/automation/v3/activeMode?locationId=%s"   // location id

	// Auth endpoints live on a separate host (see config cloud.auth_host).
	AuthPath       = "/api/auth"
	AuthStartPath  = "/api/startAuth"
	AuthFinishPath = "/api/finishAuth"

	MQTTPath = "/mqtt"

	transIDPrefix = "web"
)

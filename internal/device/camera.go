package device

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/reedholm/skymirror/internal/backend"
)

// Activity tags. Host callers pick their own tags; these are the ones the
// camera itself uses.
const (
	tagSnapshot  = "snapshot"
	tagStreaming = "streaming"
	tagRecording = "recording"

	// tagRemote is synthesized when the server reports an activity this
	// process never requested, so the single-stop invariant still holds.
	tagRemote = "remote"
)

// Camera mirrors one camera and coordinates its single video pipeline.
//
// The hardware runs at most one activity at a time, so overlapping
// demands (stream + snapshot + recording) are ref-counted: three tag sets
// under one lock track what callers asked for (userRequests), which local
// callers hold the stream (localUsers) and what the server says is
// running (remoteUsers). The underlying stream starts on the first local
// user and the idle command is sent exactly once, when the last one
// leaves.
type Camera struct {
	child

	mu   sync.Mutex
	cond *sync.Cond

	userRequests map[string]bool
	localUsers   map[string]bool
	remoteUsers  map[string]bool
	streamURL    string

	snapshotCancel string
	recentCancel   string
}

func NewCamera(owner Owner, attrs map[string]any) *Camera {
	c := &Camera{
		child:        newChild("camera", owner, attrs, "cameras"),
		userRequests: map[string]bool{},
		localUsers:   map[string]bool{},
		remoteUsers:  map[string]bool{},
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *Camera) Has(cap Capability) bool {
	return cameraHas(c.model, c.kind, c.ParentID(), c.id, cap)
}

// State reports the camera lifecycle from its last activity report.
func (c *Camera) State() string {
	if c.IsUnavailable() {
		return "unavailable"
	}
	switch c.load(KeyActivityState, "idle") {
	case "userStreamActive":
		return "streaming"
	case "alertStreamActive":
		return "recording"
	case "fullFrameSnapshot":
		return "taking snapshot"
	}
	if c.WasRecentlyActive() {
		return "recently active"
	}
	return "idle"
}

// WasRecentlyActive reports whether motion or audio fired within the
// configured recent-activity window.
func (c *Camera) WasRecentlyActive() bool {
	v, _ := c.load(KeyRecentActivity, false).(bool)
	return v
}

// Activity set helpers. All callers hold c.mu.

func (c *Camera) hasUserRequestLocked(tag string) bool { return c.userRequests[tag] }

func (c *Camera) clearUserRequest(tag string) {
	c.mu.Lock()
	delete(c.userRequests, tag)
	c.cond.Broadcast()
	c.mu.Unlock()
}

// StartStream acquires the video stream for the given tag and returns the
// playback URL. Only the first concurrent user triggers the server
// request; later tags share the running stream. Empty string on failure.
func (c *Camera) StartStream(tag string) string {
	c.mu.Lock()
	if len(c.localUsers) > 0 {
		c.localUsers[tag] = true
		c.userRequests[tag] = true
		url := c.streamURL
		c.mu.Unlock()
		return url
	}
	c.localUsers[tag] = true
	c.userRequests[tag] = true
	c.mu.Unlock()

	base := c.BaseStation()
	if base == nil {
		c.releaseTag(tag)
		return ""
	}
	body := map[string]any{
		"action":          "set",
		"from":            c.WebID(),
		"publishResponse": true,
		"properties":      map[string]any{"activityState": "startUserStream", "cameraId": c.id},
		"resource":        c.ResourceID(),
		"responseUrl":     "",
		"to":              base.DeviceID(),
		"transId":         backend.GenTransID(),
	}
	data := c.owner.Backend().PostWithHeaders(backend.StreamStartPath, body,
		map[string]string{"xcloudId": c.XCloudID()})
	resp, _ := data.(map[string]any)
	url, _ := resp["url"].(string)
	if url == "" {
		c.log().Warn("stream start failed", "camera", c.name)
		c.releaseTag(tag)
		return ""
	}

	// The server hands out rtsp URLs but only serves TLS.
	url = strings.Replace(url, "rtsp://", "rtsps://", 1)
	c.mu.Lock()
	c.streamURL = url
	c.mu.Unlock()
	return url
}

func (c *Camera) releaseTag(tag string) {
	c.mu.Lock()
	delete(c.localUsers, tag)
	delete(c.userRequests, tag)
	c.cond.Broadcast()
	c.mu.Unlock()
}

// StopStream releases one tag's claim on the stream. The idle command is
// sent only when the last local user leaves, so overlapping users never
// kill each other's stream.
func (c *Camera) StopStream(tag string) {
	c.mu.Lock()
	delete(c.localUsers, tag)
	delete(c.userRequests, tag)
	empty := len(c.localUsers) == 0
	c.cond.Broadcast()
	c.mu.Unlock()
	if empty {
		c.stopActivity()
	}
}

// StreamURL returns the current playback URL, empty when not streaming.
func (c *Camera) StreamURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamURL
}

// stopActivity tells the camera to go idle and reconciles local state on
// acknowledgement.
func (c *Camera) stopActivity() {
	resp := c.notify(map[string]any{
		"action":          "set",
		"resource":        c.ResourceID(),
		"publishResponse": true,
		"properties":      map[string]any{"activityState": "idle"},
	}, backend.WaitResponse)
	if resp != nil {
		c.markAsIdle()
	}
}

// markAsIdle is the single place activity state collapses: media refresh
// queued, recent-activity asserted, every tag set cleared and all waiters
// woken.
func (c *Camera) markAsIdle() {
	c.mu.Lock()
	hadUsers := len(c.localUsers) > 0
	c.localUsers = map[string]bool{}
	c.remoteUsers = map[string]bool{}
	c.userRequests = map[string]bool{}
	c.streamURL = ""
	c.cond.Broadcast()
	c.mu.Unlock()

	if hadUsers {
		c.queueMediaRetries()
		c.markRecentlyActive()
	}
}

// queueMediaRetries schedules library reloads on the configured retry
// ladder, covering servers that drop upload notifications.
func (c *Camera) queueMediaRetries() {
	schedule := c.owner.Config().Media.RetrySchedule
	if len(schedule) == 0 {
		schedule = []int{5, 15, 30}
	}
	for _, secs := range schedule {
		c.owner.QueueMediaRefresh(c.id, time.Duration(secs)*time.Second)
	}
}

// markRecentlyActive asserts the recent-activity flag and re-arms its
// timed clear.
func (c *Camera) markRecentlyActive() {
	c.saveAndNotify(KeyRecentActivity, true)
	c.mu.Lock()
	prev := c.recentCancel
	c.mu.Unlock()
	if prev != "" {
		c.owner.Scheduler().Cancel(prev)
	}
	window := time.Duration(c.owner.Config().Timeouts.RecentActivity) * time.Second
	token := c.owner.Scheduler().RunIn("recent-clear-"+c.id, window, func() {
		c.saveAndNotify(KeyRecentActivity, false)
	})
	c.mu.Lock()
	c.recentCancel = token
	c.mu.Unlock()
}

// RequestSnapshot asks for a fresh still. With a live stream it grabs a
// frame from the stream; idle cameras use the slower full-frame path. A
// fallback timer clears the request if no image ever arrives, so waiters
// cannot hang past the snapshot timeout.
func (c *Camera) RequestSnapshot() {
	c.mu.Lock()
	if c.userRequests[tagSnapshot] {
		c.mu.Unlock()
		return
	}
	c.userRequests[tagSnapshot] = true
	streaming := len(c.localUsers) > 0
	c.mu.Unlock()

	base := c.BaseStation()
	if base == nil {
		c.clearUserRequest(tagSnapshot)
		return
	}
	body := map[string]any{
		"action":          "set",
		"from":            c.WebID(),
		"publishResponse": true,
		"resource":        c.ResourceID(),
		"responseUrl":     "",
		"to":              base.DeviceID(),
		"transId":         backend.GenTransID(),
	}
	path := backend.IdleSnapshotPath
	if streaming {
		path = backend.StreamSnapPath
		body["properties"] = map[string]any{"activityState": "startSnapshot"}
	} else {
		body["properties"] = map[string]any{"activityState": "fullFrameSnapshot"}
	}
	c.owner.Backend().PostWithHeaders(path, body, map[string]string{"xcloudId": c.XCloudID()})

	for _, secs := range c.owner.Config().Media.SnapshotChecks {
		c.owner.QueueMediaRefresh(c.id, time.Duration(secs)*time.Second)
	}

	c.mu.Lock()
	prev := c.snapshotCancel
	c.mu.Unlock()
	if prev != "" {
		c.owner.Scheduler().Cancel(prev)
	}
	token := c.owner.Scheduler().RunIn("snapshot-timeout-"+c.id,
		c.owner.Config().SnapshotTimeout(), c.stopSnapshot)
	c.mu.Lock()
	c.snapshotCancel = token
	c.mu.Unlock()
}

// stopSnapshot is the fallback when no snapshot ever arrives.
func (c *Camera) stopSnapshot() {
	c.mu.Lock()
	outstanding := c.userRequests[tagSnapshot]
	delete(c.userRequests, tagSnapshot)
	empty := len(c.localUsers) == 0
	c.cond.Broadcast()
	c.mu.Unlock()
	if !outstanding {
		return
	}
	c.log().Debug("snapshot timed out", "camera", c.name)
	if empty {
		c.stopActivity()
	}
}

// GetSnapshot requests a snapshot and blocks until it lands or the
// timeout passes, then returns the best image available, which may be an
// older cached one.
func (c *Camera) GetSnapshot(timeout time.Duration) []byte {
	c.RequestSnapshot()

	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	c.mu.Lock()
	for c.hasUserRequestLocked(tagSnapshot) && time.Now().Before(deadline) {
		c.cond.Wait()
	}
	c.mu.Unlock()

	img, _ := c.load(KeyLastImageData, nil).([]byte)
	return img
}

// WaitForUserStream blocks until the server confirms the user stream is
// active, then holds a short settle delay before returning. False when
// the confirmation never came.
func (c *Camera) WaitForUserStream(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	c.mu.Lock()
	for !c.remoteUsers[tagStreaming] && time.Now().Before(deadline) {
		c.cond.Wait()
	}
	active := c.remoteUsers[tagStreaming]
	c.mu.Unlock()

	if active {
		time.Sleep(time.Duration(c.owner.Config().Timeouts.UserStreamDelay) * time.Second)
	}
	return active
}

// StartRecording saves the live stream to the cloud library. The stream
// must already be running; recording cannot start one.
func (c *Camera) StartRecording(duration time.Duration) bool {
	c.mu.Lock()
	if len(c.localUsers) == 0 {
		c.mu.Unlock()
		c.log().Warn("recording needs an active stream", "camera", c.name)
		return false
	}
	c.localUsers[tagRecording] = true
	c.userRequests[tagRecording] = true
	c.mu.Unlock()

	c.owner.Backend().PostWithHeaders(backend.RecordStartPath, map[string]any{
		"parentId":      c.ParentID(),
		"deviceId":      c.id,
		"olsonTimeZone": c.Timezone(),
	}, map[string]string{"xcloudId": c.XCloudID()})

	if duration > 0 {
		c.owner.Scheduler().RunIn("record-stop-"+c.id, duration, c.StopRecording)
	}
	return true
}

// StopRecording ends a cloud recording; the stream itself is released a
// beat later so the tail of the clip is not cut off.
func (c *Camera) StopRecording() {
	c.owner.Backend().PostWithHeaders(backend.RecordStopPath, map[string]any{
		"parentId": c.ParentID(),
		"deviceId": c.id,
	}, map[string]string{"xcloudId": c.XCloudID()})

	c.owner.Scheduler().RunIn("record-release-"+c.id, time.Second, func() {
		c.StopStream(tagRecording)
	})
}

// HandleEvent routes channel messages for this camera. Anything touching
// the network is handed to the scheduler.
func (c *Camera) HandleEvent(resource string, event map[string]any) {
	switch resource {
	case c.ResourceID():
		c.handleOwnEvent(event)
	case c.ResourceID() + "/ambientSensors/history":
		c.handleAmbientHistory(event)
	case KeyMediaUpload:
		if str(event, KeyDeviceID) != c.id {
			return
		}
		c.owner.Scheduler().RunNow("media-upload-"+c.id, func() {
			c.handleMediaUpload(event)
		})
	}
}

func (c *Camera) handleOwnEvent(event map[string]any) {
	props := mapField(event, "properties")

	switch str(props, KeyActivityState) {
	case "idle":
		c.markAsIdle()
	case "fullFrameSnapshot":
		// Server-side snapshot in progress; mirror it so state reads right.
		c.mu.Lock()
		c.remoteUsers[tagSnapshot] = true
		c.mu.Unlock()
	case "alertStreamActive":
		c.mu.Lock()
		c.remoteUsers[tagRecording] = true
		// Only tag a remote holder when nobody local owns the stream;
		// otherwise the tag would outlive every real local user and
		// block the idle transition.
		if len(c.localUsers) == 0 {
			c.localUsers[tagRemote] = true
		}
		c.cond.Broadcast()
		c.mu.Unlock()
	case "userStreamActive":
		c.mu.Lock()
		c.remoteUsers[tagStreaming] = true
		if len(c.localUsers) == 0 {
			c.localUsers[tagRemote] = true
		}
		c.cond.Broadcast()
		c.mu.Unlock()
	}

	switch str(event, "action") {
	case "fullFrameSnapshotAvailable", "lastImageSnapshotAvailable":
		if url := str(props, KeySnapshot); url != "" {
			c.owner.Scheduler().RunNow("snapshot-fetch-"+c.id, func() {
				c.updateLastImage(url, "snapshot")
				c.clearUserRequest(tagSnapshot)
			})
		}
	}

	for _, key := range recentActivityKeys {
		if active, ok := props[key].(bool); ok && active {
			c.markRecentlyActive()
			break
		}
	}

	c.handleGenericEvent(event)
}

// handleMediaUpload digests a library upload notice: recordings queue a
// library reload, snapshots resolve any blocked snapshot waiters.
func (c *Camera) handleMediaUpload(event map[string]any) {
	if url := str(event, KeyStreamSnapshot); url != "" {
		if strings.Contains(url, "/snapshots/") {
			c.updateLastImage(url, "snapshot")
			c.clearUserRequest(tagSnapshot)
		} else {
			c.saveAndNotify(KeyLastCapture, time.Now().Format(time.RFC1123))
			c.owner.QueueMediaRefresh(c.id, 2*time.Second)
		}
	}
	if url := str(event, KeyLastImage); url != "" {
		c.updateLastImage(url, "capture")
	}
	if count, ok := event[KeyMediaCount]; ok {
		c.saveAndNotify(KeyCapturedToday, count)
	}
	if boolField(event, KeyRecordingStopped) {
		c.owner.QueueMediaRefresh(c.id, 2*time.Second)
	}
}

// updateLastImage downloads a presigned image and stores the bytes so
// hosts read images from the store, never the cloud.
func (c *Camera) updateLastImage(url, source string) {
	c.save(url, KeyLastImage)
	img, err := c.owner.Backend().GetRaw(url)
	if err != nil {
		c.log().Warn("image download failed", "camera", c.name, "error", err)
		return
	}
	c.save(source, KeyLastImageSrc)
	c.saveAndNotify(KeyLastImageData, img)
}

// LastImage returns the cached image bytes, nil when none was ever
// captured.
func (c *Camera) LastImage() []byte {
	img, _ := c.load(KeyLastImageData, nil).([]byte)
	return img
}

// handleAmbientHistory decodes a baby-cam sensor history push and stores
// the newest reading.
func (c *Camera) handleAmbientHistory(event map[string]any) {
	props := mapField(event, "properties")
	parts, _ := props["payload"].([]any)
	var b64 strings.Builder
	for _, p := range parts {
		if s, ok := p.(string); ok {
			b64.WriteString(s)
		}
	}
	reading, ok := decodeAmbientPayload(b64.String())
	if !ok {
		return
	}
	c.saveAndNotify(KeyTemperature, reading.temperature)
	c.saveAndNotify(KeyHumidity, reading.humidity)
	c.saveAndNotify(KeyAirQuality, reading.airQuality)
}

// RequestAmbientHistory asks a sensor-carrying camera to push its
// recorded readings; the decoded result arrives as a history event.
// No-op for cameras without sensors.
func (c *Camera) RequestAmbientHistory() {
	if !c.Has(CapTemperature) {
		return
	}
	c.notify(map[string]any{
		"action":          "get",
		"resource":        c.ResourceID() + "/ambientSensors/history",
		"publishResponse": false,
	}, backend.WaitNone)
}

type ambientReading struct {
	timestamp   int64 // ms
	temperature float64
	humidity    float64
	airQuality  float64
}

// decodeAmbientPayload unpacks the base64+zlib sensor history blob. The
// payload is fixed 22-byte records; values are big-endian signed shorts
// scaled by ten. Returns the last (newest) record.
func decodeAmbientPayload(payload string) (ambientReading, bool) {
	if payload == "" {
		return ambientReading{}, false
	}
	compressed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return ambientReading{}, false
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return ambientReading{}, false
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return ambientReading{}, false
	}

	var last ambientReading
	found := false
	for i := 0; i+22 <= len(data); i += 22 {
		last = ambientReading{
			timestamp:   int64(binary.BigEndian.Uint32(data[i:])) * 1000,
			temperature: float64(int16(binary.BigEndian.Uint16(data[i+8:]))) / 10,
			humidity:    float64(int16(binary.BigEndian.Uint16(data[i+14:]))) / 10,
			airQuality:  float64(int16(binary.BigEndian.Uint16(data[i+20:]))) / 10,
		}
		found = true
	}
	return last, found
}

// Accessory property setters. All are fire-and-forget notifies through
// the base; the confirmed value comes back as a property event.

func (c *Camera) setAccessory(props map[string]any) {
	c.notify(map[string]any{
		"action":          "set",
		"resource":        c.ResourceID(),
		"publishResponse": true,
		"properties":      props,
	}, backend.WaitResponse)
}

// SetNightlight switches the baby-cam nightlight.
func (c *Camera) SetNightlight(on bool) {
	c.setAccessory(map[string]any{KeyNightlight: map[string]any{"enabled": on}})
}

// SetNightlightBrightness sets the nightlight level, 0-255.
func (c *Camera) SetNightlightBrightness(level int) {
	c.setAccessory(map[string]any{KeyNightlight: map[string]any{"brightness": level}})
}

// SetSpotlight switches the integrated spotlight.
func (c *Camera) SetSpotlight(on bool) {
	c.setAccessory(map[string]any{KeySpotlight: map[string]any{"enabled": on}})
}

// SetSpotlightBrightness sets the spotlight level, 0-100.
func (c *Camera) SetSpotlightBrightness(level int) {
	// The wire scale runs 0-255.
	c.setAccessory(map[string]any{KeySpotlight: map[string]any{"brightness": level * 255 / 100}})
}

// SetFloodlight switches a floodlight camera's lamp.
func (c *Camera) SetFloodlight(on bool) {
	c.setAccessory(map[string]any{KeyFloodlight: map[string]any{"on": on}})
}

// SirenOn sounds the camera's own siren, for models that carry one.
func (c *Camera) SirenOn(duration, volume int) {
	c.notify(map[string]any{
		"action":          "set",
		"resource":        "siren/" + c.id,
		"publishResponse": true,
		"properties": map[string]any{
			"sirenState": "on",
			"duration":   duration,
			"volume":     volume,
			"pattern":    "alarm",
		},
	}, backend.WaitResponse)
}

// SirenOff silences the camera's siren.
func (c *Camera) SirenOff() {
	c.notify(map[string]any{
		"action":          "set",
		"resource":        "siren/" + c.id,
		"publishResponse": true,
		"properties":      map[string]any{"sirenState": "off", "duration": 0, "volume": 0, "pattern": "alarm"},
	}, backend.WaitResponse)
}

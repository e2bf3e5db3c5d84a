package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reedholm/skymirror/internal/backend"
	"github.com/reedholm/skymirror/internal/background"
	"github.com/reedholm/skymirror/internal/device"
	"github.com/reedholm/skymirror/internal/hub"
	"github.com/reedholm/skymirror/internal/infrastructure/config"
	"github.com/reedholm/skymirror/internal/infrastructure/logging"
	"github.com/reedholm/skymirror/internal/storage"
)

// testOwner backs real device values with a store, scheduler and a
// backend client pointed at a local test server.
type testOwner struct {
	store *storage.Store
	be    *backend.Client
	sched *background.Scheduler
	cfg   *config.Config
	bases []*device.Base
}

func (o *testOwner) Store() *storage.Store               { return o.store }
func (o *testOwner) Backend() *backend.Client            { return o.be }
func (o *testOwner) Scheduler() *background.Scheduler    { return o.sched }
func (o *testOwner) Config() *config.Config              { return o.cfg }
func (o *testOwner) Logger() device.Logger               { return logging.Default() }
func (o *testOwner) BaseStations() []*device.Base        { return o.bases }
func (o *testOwner) QueueMediaRefresh(string, time.Duration) {}

func newTestOwner(t *testing.T, host string) *testOwner {
	t.Helper()
	cfg := &config.Config{}
	cfg.Cloud.Host = host
	cfg.Cloud.UserAgent = "test"
	cfg.Timeouts.Request = 5
	cfg.Timeouts.RecentActivity = 60
	cfg.Timeouts.Snapshot = 60

	sched := background.New(2)
	sched.Start()
	t.Cleanup(sched.Stop)

	return &testOwner{
		store: storage.New(),
		be:    backend.New(cfg, sched, nil),
		sched: sched,
		cfg:   cfg,
	}
}

// fakeMirror satisfies Mirror with fixed device slices.
type fakeMirror struct {
	store      *storage.Store
	devices    []device.Device
	cameras    []*device.Camera
	bases      []*device.Base
	locations  []*device.Location
	recordings []hub.Recording
}

func (m *fakeMirror) ConnectionState() string { return "connected" }
func (m *fakeMirror) LastError() string       { return "" }

func (m *fakeMirror) Devices() []device.Device        { return m.devices }
func (m *fakeMirror) Cameras() []*device.Camera       { return m.cameras }
func (m *fakeMirror) BaseStations() []*device.Base    { return m.bases }
func (m *fakeMirror) Locations() []*device.Location   { return m.locations }

func (m *fakeMirror) LookupDevice(id string) device.Device {
	for _, d := range m.devices {
		if d.DeviceID() == id {
			return d
		}
	}
	return nil
}

func (m *fakeMirror) LookupCamera(idOrName string) *device.Camera {
	for _, c := range m.cameras {
		if c.DeviceID() == idOrName || c.Name() == idOrName {
			return c
		}
	}
	return nil
}

func (m *fakeMirror) LookupBase(idOrName string) *device.Base {
	for _, b := range m.bases {
		if b.DeviceID() == idOrName || b.Name() == idOrName {
			return b
		}
	}
	return nil
}

func (m *fakeMirror) Recordings() []hub.Recording { return m.recordings }

func (m *fakeMirror) RecordingsFor(cameraID string) []hub.Recording {
	var out []hub.Recording
	for _, r := range m.recordings {
		if r.CameraID == cameraID {
			out = append(out, r)
		}
	}
	return out
}

func (m *fakeMirror) Store() *storage.Store { return m.store }

func cameraAttrs(id, parent string) map[string]any {
	return map[string]any{
		device.KeyDeviceID:   id,
		device.KeyDeviceName: "Camera " + id,
		device.KeyDeviceType: "camera",
		"modelId":            "VMC4030P",
		device.KeyParentID:   parent,
		device.KeyUniqueID:   "U-" + id,
		device.KeyXCloudID:   "X-" + id,
		device.KeyUserID:     "user-1",
	}
}

func baseAttrs(id string) map[string]any {
	return map[string]any{
		device.KeyDeviceID:   id,
		device.KeyDeviceName: "Base " + id,
		device.KeyDeviceType: "basestation",
		"modelId":            "VMB4000",
		device.KeyUniqueID:   "U-" + id,
		device.KeyXCloudID:   "X-" + id,
		device.KeyUserID:     "user-1",
	}
}

// newTestAPI builds the router against a fake mirror with one base and
// one camera, backed by a backend test server that accepts everything.
func newTestAPI(t *testing.T) (*Server, *fakeMirror, *testOwner, *httptest.Server) {
	t.Helper()

	cloud := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{}})
	}))
	t.Cleanup(cloud.Close)

	owner := newTestOwner(t, cloud.URL)
	b := device.NewBase(owner, baseAttrs("B1"), func() bool { return false })
	owner.bases = []*device.Base{b}
	c := device.NewCamera(owner, cameraAttrs("C1", "B1"))

	mirror := &fakeMirror{
		store:   owner.store,
		devices: []device.Device{b, c},
		cameras: []*device.Camera{c},
		bases:   []*device.Base{b},
	}

	s := New(Deps{
		Config: config.APIConfig{Enabled: true, Host: "127.0.0.1"},
		Logger: logging.Default(),
		Mirror: mirror,
	})
	api := httptest.NewServer(s.buildRouter())
	t.Cleanup(api.Close)
	return s, mirror, owner, api
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthAndStatus(t *testing.T) {
	_, _, _, api := newTestAPI(t)

	var health map[string]string
	if code := getJSON(t, api.URL+"/api/v1/health", &health); code != http.StatusOK {
		t.Fatalf("health status = %d", code)
	}
	if health["status"] != "ok" {
		t.Errorf("health body = %v", health)
	}

	var status map[string]any
	if code := getJSON(t, api.URL+"/api/v1/status", &status); code != http.StatusOK {
		t.Fatalf("status status = %d", code)
	}
	if status["connection"] != "connected" {
		t.Errorf("connection = %v", status["connection"])
	}
	if status["cameras"] != float64(1) || status["bases"] != float64(1) {
		t.Errorf("counts = %v cameras / %v bases", status["cameras"], status["bases"])
	}
}

func TestDeviceListingAndLookup(t *testing.T) {
	_, _, _, api := newTestAPI(t)

	var devices []map[string]any
	if code := getJSON(t, api.URL+"/api/v1/devices/", &devices); code != http.StatusOK {
		t.Fatalf("list devices status = %d", code)
	}
	if len(devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(devices))
	}

	var cam map[string]any
	if code := getJSON(t, api.URL+"/api/v1/cameras/C1", &cam); code != http.StatusOK {
		t.Fatalf("get camera status = %d", code)
	}
	if cam["name"] != "Camera C1" || cam["model"] != "VMC4030P" {
		t.Errorf("camera summary = %v", cam)
	}

	if code := getJSON(t, api.URL+"/api/v1/cameras/nope", nil); code != http.StatusNotFound {
		t.Errorf("unknown camera status = %d, want 404", code)
	}
}

func TestSnapshotServing(t *testing.T) {
	_, _, owner, api := newTestAPI(t)

	// No image captured yet.
	if code := getJSON(t, api.URL+"/api/v1/cameras/C1/snapshot", nil); code != http.StatusNotFound {
		t.Fatalf("empty snapshot status = %d, want 404", code)
	}

	img := append([]byte("\xff\xd8\xff"), bytes.Repeat([]byte{0}, 16)...)
	owner.store.Set(storage.K("camera", "C1", device.KeyLastImageData), img)

	resp, err := http.Get(api.URL + "/api/v1/cameras/C1/snapshot")
	if err != nil {
		t.Fatalf("GET snapshot: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("snapshot status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		t.Errorf("content type = %q, want image/*", ct)
	}
}

func TestRequestSnapshotAccepted(t *testing.T) {
	_, _, _, api := newTestAPI(t)

	resp, err := http.Post(api.URL+"/api/v1/cameras/C1/snapshot", "application/json", nil)
	if err != nil {
		t.Fatalf("POST snapshot: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("request snapshot status = %d, want 202", resp.StatusCode)
	}
}

func TestSetBaseModeValidation(t *testing.T) {
	_, _, _, api := newTestAPI(t)

	resp, err := http.Post(api.URL+"/api/v1/bases/B1/mode", "application/json",
		strings.NewReader(`{"mode":"armed"}`))
	if err != nil {
		t.Fatalf("POST mode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("set mode status = %d, want 202", resp.StatusCode)
	}

	resp, err = http.Post(api.URL+"/api/v1/bases/B1/mode", "application/json",
		strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST empty mode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty mode status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Post(api.URL+"/api/v1/bases/nope/mode", "application/json",
		strings.NewReader(`{"mode":"armed"}`))
	if err != nil {
		t.Fatalf("POST unknown base: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown base status = %d, want 404", resp.StatusCode)
	}
}

func TestRecordingsEndpoints(t *testing.T) {
	_, mirror, _, api := newTestAPI(t)
	now := time.Now().UTC()
	mirror.recordings = []hub.Recording{
		{CameraID: "C1", Created: now, ContentType: "video/mp4", ObjectName: "a.mp4", URL: "http://x/a"},
		{CameraID: "C2", Created: now.Add(-time.Hour), ContentType: "video/mp4", ObjectName: "b.mp4"},
	}

	var all []recordingDTO
	if code := getJSON(t, api.URL+"/api/v1/recordings", &all); code != http.StatusOK {
		t.Fatalf("recordings status = %d", code)
	}
	if len(all) != 2 {
		t.Fatalf("recordings = %d, want 2", len(all))
	}

	var forC1 []recordingDTO
	if code := getJSON(t, api.URL+"/api/v1/cameras/C1/recordings", &forC1); code != http.StatusOK {
		t.Fatalf("camera recordings status = %d", code)
	}
	if len(forC1) != 1 || forC1[0].Object != "a.mp4" {
		t.Errorf("camera recordings = %v", forC1)
	}
}

func TestWebSocketStateFeed(t *testing.T) {
	s, _, _, api := newTestAPI(t)
	s.wsHub = NewHub(logging.Default())

	wsURL := "ws" + strings.TrimPrefix(api.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	defer conn.Close()

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{ChannelState}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("reading subscribe ack: %v", err)
	}
	if ack.Type != WSTypeResponse {
		t.Fatalf("ack type = %q", ack.Type)
	}

	// Image bytes never hit the feed; the next change does.
	s.broadcastChange(storage.K("camera", "C1", device.KeyLastImageData), []byte{1})
	s.broadcastChange(storage.K("camera", "C1", device.KeyBattery), 80)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event WSMessage
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != ChannelState {
		t.Fatalf("event = %+v", event)
	}
	payload, ok := event.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T", event.Payload)
	}
	if payload["attr"] != device.KeyBattery || payload["value"] != float64(80) {
		t.Errorf("payload = %v", payload)
	}
}

package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/reedholm/skymirror/internal/device"
	"github.com/reedholm/skymirror/internal/infrastructure/config"
	"github.com/reedholm/skymirror/internal/infrastructure/logging"
)

func testConfig(host string) *config.Config {
	cfg := &config.Config{}
	cfg.Cloud.Host = host
	cfg.Cloud.UserAgent = "test"
	cfg.Timeouts.Request = 5
	cfg.Worker.Pool = 1
	return cfg
}

func newTestHub(t *testing.T, host string) *Controller {
	t.Helper()
	return New(testConfig(host), logging.Default())
}

func deviceRecord(id, dtype, model, parent string) map[string]any {
	return map[string]any{
		"deviceId":    id,
		"deviceName":  "Device " + id,
		"deviceType":  dtype,
		"modelId":     model,
		"parentId":    parent,
		"deviceState": "provisioned",
		"uniqueId":    "U-" + id,
		"xCloudId":    "X-" + parent,
		"userId":      "user-1",
	}
}

func TestClassify(t *testing.T) {
	h := newTestHub(t, "http://unused.invalid")

	records := []any{
		deviceRecord("B1", "basestation", "VMB4000", "B1"),
		deviceRecord("C1", "camera", "VMC4030P", "B1"),
		deviceRecord("C2", "camera", "VMC2030", "C2"), // own parent
		deviceRecord("D1", "doorbell", "AVD2001A", "D1"),
		deviceRecord("L1", "lights", "AL1101", "B1"),
		deviceRecord("S1", "sensors", "MS1001", "B1"),
		func() map[string]any {
			r := deviceRecord("C9", "camera", "VMC4030P", "B1")
			r["deviceState"] = "synced" // not provisioned
			return r
		}(),
		deviceRecord("X1", "unknown-widget", "ZZZ", "B1"),
	}
	h.classify(records)

	// C2 and D1 are their own parents, so they each add a synthetic base.
	if got := len(h.BaseStations()); got != 3 {
		t.Fatalf("bases: got %d, want 3", got)
	}
	// C1, C2, plus the video doorbell's camera twin.
	if got := len(h.Cameras()); got != 3 {
		t.Fatalf("cameras: got %d, want 3", got)
	}
	if got := len(h.Doorbells()); got != 1 {
		t.Fatalf("doorbells: got %d, want 1", got)
	}
	if got := len(h.Lights()); got != 1 {
		t.Fatalf("lights: got %d, want 1", got)
	}
	if got := len(h.Sensors()); got != 1 {
		t.Fatalf("sensors: got %d, want 1", got)
	}

	if h.LookupCamera("C9") != nil {
		t.Error("unprovisioned camera was mirrored")
	}
	if h.LookupDevice("X1") != nil {
		t.Error("unsupported device type was mirrored")
	}

	// A child resolves its controlling base through the hub.
	cam := h.LookupCamera("C1")
	if cam == nil {
		t.Fatal("C1 not mirrored")
	}
	if got := cam.BaseStation().DeviceID(); got != "B1" {
		t.Errorf("C1 base: got %q, want B1", got)
	}

	// xCloudIds are deduplicated for the push channel subscriptions.
	ids := h.cloudIDs()
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Errorf("duplicate xCloudId %q", id)
		}
		seen[id] = true
	}
}

func TestDiscoverLocations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"locations": []any{
					map[string]any{"locationId": "L1", "locationName": "Home"},
					map[string]any{"locationId": "L2", "locationName": "Cabin"},
				},
			},
		})
	}))
	defer srv.Close()

	h := newTestHub(t, srv.URL)
	h.discoverLocations()

	locs := h.Locations()
	if len(locs) != 2 {
		t.Fatalf("locations: got %d, want 2", len(locs))
	}
	if locs[0].Name() != "Home" {
		t.Errorf("location name: got %q, want Home", locs[0].Name())
	}
	if !h.multiLocation() {
		t.Error("two locations should select location-scoped arming")
	}
}

func TestParseRecordings(t *testing.T) {
	older := time.Date(2026, 8, 27, 10, 0, 0, 0, time.Local)
	newer := time.Date(2026, 8, 28, 9, 0, 0, 0, time.Local)
	records := []any{
		map[string]any{
			"deviceId":            "C1",
			"localCreatedDate":    float64(older.UnixMilli()),
			"contentType":         "video/mp4",
			"name":                "rec-1",
			"presignedContentUrl": "https://media.example/rec-1",
		},
		map[string]any{
			"deviceId":              "C1",
			"localCreatedDate":      float64(newer.UnixMilli()),
			"contentType":           "video/mp4",
			"name":                  "rec-2",
			"presignedContentUrl":   "https://media.example/rec-2",
			"presignedThumbnailUrl": "https://media.example/rec-2.jpg",
		},
		map[string]any{
			"deviceId":         "C2",
			"localCreatedDate": float64(older.UnixMilli()),
			"contentType":      "video/mp4",
			"name":             "rec-3",
		},
		map[string]any{"name": "no-device"},
	}

	videos := parseRecordings(records)
	if len(videos) != 3 {
		t.Fatalf("recordings: got %d, want 3", len(videos))
	}
	if videos[0].ObjectName != "rec-2" {
		t.Errorf("newest first: got %q, want rec-2", videos[0].ObjectName)
	}
	if videos[0].ThumbnailURL == "" {
		t.Error("thumbnail url dropped")
	}
}

func TestLibrary_VideosForAndCounts(t *testing.T) {
	h := newTestHub(t, "http://unused.invalid")
	h.classify([]any{
		deviceRecord("B1", "basestation", "VMB4000", "B1"),
		deviceRecord("C1", "camera", "VMC4030P", "B1"),
		deviceRecord("C2", "camera", "VMC4030P", "B1"),
	})

	now := time.Now()
	videos := []Recording{
		{CameraID: "C1", Created: now.Add(-time.Minute), ObjectName: "today-1"},
		{CameraID: "C1", Created: now.AddDate(0, 0, -2), ObjectName: "old-1"},
		{CameraID: "C2", Created: now.AddDate(0, 0, -1), ObjectName: "old-2"},
	}
	h.media.mu.Lock()
	h.media.videos = videos
	h.media.mu.Unlock()
	h.media.updateCameraCounts(videos, now)

	if got := len(h.media.VideosFor("C1")); got != 2 {
		t.Fatalf("C1 videos: got %d, want 2", got)
	}

	c1 := h.LookupCamera("C1")
	if got := c1.Attribute(device.KeyCapturedToday, 0); got != 1 {
		t.Errorf("C1 captured today: got %v, want 1", got)
	}
	c2 := h.LookupCamera("C2")
	if got := c2.Attribute(device.KeyCapturedToday, 0); got != 0 {
		t.Errorf("C2 captured today: got %v, want 0", got)
	}
}

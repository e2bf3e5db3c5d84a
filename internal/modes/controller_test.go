package modes

import (
	"testing"
	"time"

	"github.com/reedholm/skymirror/internal/backend"
	"github.com/reedholm/skymirror/internal/storage"
)

// fakeTransport records calls and serves scripted responses.
type fakeTransport struct {
	gets     []string
	puts     []string
	posts    []string
	notifies []map[string]any

	getResp    map[string]any
	putResp    any
	postResps  []map[string]any
	notifyResp any
}

func (f *fakeTransport) Get(path string) any {
	f.gets = append(f.gets, path)
	return f.getResp[path]
}

func (f *fakeTransport) Put(path string, body any) any {
	f.puts = append(f.puts, path)
	return f.putResp
}

func (f *fakeTransport) PostFull(path string, body any) map[string]any {
	f.posts = append(f.posts, path)
	if len(f.postResps) == 0 {
		return nil
	}
	resp := f.postResps[0]
	f.postResps = f.postResps[1:]
	return resp
}

func (f *fakeTransport) Notify(hubID string, body map[string]any, wait backend.Wait) any {
	f.notifies = append(f.notifies, body)
	return f.notifyResp
}

// inlineScheduler runs queued work immediately, which makes async retry
// paths deterministic under test.
type inlineScheduler struct{}

func (inlineScheduler) RunNow(name string, fn func()) bool {
	fn()
	return true
}

func newController(t *testing.T, ft *fakeTransport, opts Options) *Controller {
	t.Helper()
	store := storage.New()
	target := Target{
		Class:      "base",
		ID:         "B1",
		DeviceID:   "B1",
		UniqueID:   "U-B1",
		ModelID:    "VMB4000",
		DeviceType: "basestation",
		LocationID: "L1",
	}
	return New(store, target, opts, ft, inlineScheduler{}, nil)
}

func seedModeTables(c *Controller) {
	c.ParseModes([]any{
		map[string]any{"id": "mode0", "name": "disarmed"},
		map[string]any{"id": "mode1", "name": "armed"},
	})
}

func TestVersionDetection(t *testing.T) {
	ft := &fakeTransport{}

	c := newController(t, ft, Options{Forced: "v1"})
	if got := c.Version(); got != V1 {
		t.Fatalf("forced v1: got %v", got)
	}

	c = newController(t, ft, Options{MultiLocation: func() bool { return true }})
	if got := c.Version(); got != V3 {
		t.Fatalf("multi-location: got %v, want V3", got)
	}

	store := storage.New()
	legacy := New(store, Target{Class: "base", ID: "B2", ModelID: "ABC1000A"}, Options{}, ft, inlineScheduler{}, nil)
	if got := legacy.Version(); got != V1 {
		t.Fatalf("legacy hardware: got %v, want V1", got)
	}

	modern := New(store, Target{Class: "base", ID: "B3", ModelID: "VMB4540"}, Options{}, ft, inlineScheduler{}, nil)
	if got := modern.Version(); got != V2 {
		t.Fatalf("modern hub: got %v, want V2", got)
	}
}

func TestSetMode_ResolvesNameAndID(t *testing.T) {
	ft := &fakeTransport{postResps: []map[string]any{
		{"success": true}, {"success": true},
	}}
	c := newController(t, ft, Options{Forced: "v2", Synchronous: true})
	seedModeTables(c)

	c.SetMode("armed")
	if len(ft.posts) != 1 {
		t.Fatalf("posts after name set: got %d, want 1", len(ft.posts))
	}

	// Force the stored mode back so the id form is a change again.
	c.saveAndNotify(KeyMode, "disarmed")
	c.SetMode("mode1")
	if len(ft.posts) != 2 {
		t.Fatalf("posts after id set: got %d, want 2", len(ft.posts))
	}
}

func TestSetMode_UnknownModeMakesNoCalls(t *testing.T) {
	ft := &fakeTransport{}
	c := newController(t, ft, Options{Forced: "v2", Synchronous: true})
	seedModeTables(c)

	c.SetMode("holiday")
	if len(ft.posts)+len(ft.gets)+len(ft.puts)+len(ft.notifies) != 0 {
		t.Fatalf("unknown mode triggered network calls")
	}
}

func TestSetMode_AlreadyActiveIsNoOp(t *testing.T) {
	ft := &fakeTransport{}
	c := newController(t, ft, Options{Forced: "v2", Synchronous: true})
	seedModeTables(c)
	c.saveAndNotify(KeyMode, "armed")

	c.SetMode("armed")
	c.SetMode("mode1") // id form of the same mode
	if len(ft.posts) != 0 {
		t.Fatalf("no-op set made %d posts", len(ft.posts))
	}
}

func TestSetMode_V2RetriesThenSucceeds(t *testing.T) {
	ft := &fakeTransport{postResps: []map[string]any{
		{"unexpected": true},
		nil,
		{"resource": "activeAutomations"},
	}}
	c := newController(t, ft, Options{Forced: "v2", Synchronous: true})
	seedModeTables(c)

	c.SetMode("armed")

	if len(ft.posts) != 3 {
		t.Fatalf("attempts: got %d, want 3", len(ft.posts))
	}
	// Each ambiguous acknowledgement refetches the device list.
	if len(ft.gets) != 2 {
		t.Fatalf("device refetches: got %d, want 2", len(ft.gets))
	}
	for _, path := range ft.gets {
		if path != backend.DevicesPath {
			t.Errorf("unexpected refetch path %q", path)
		}
	}
}

func TestSetMode_V2GivesUpAfterMaxAttempts(t *testing.T) {
	ft := &fakeTransport{postResps: []map[string]any{
		{}, {}, {}, {}, {}, {},
	}}
	c := newController(t, ft, Options{Forced: "v2", Synchronous: true})
	seedModeTables(c)

	c.SetMode("armed")

	if len(ft.posts) != maxSetAttempts {
		t.Fatalf("attempts: got %d, want %d", len(ft.posts), maxSetAttempts)
	}
}

func TestSetMode_V3StoresRevisionAndMode(t *testing.T) {
	ft := &fakeTransport{putResp: map[string]any{"revision": float64(7)}}
	c := newController(t, ft, Options{Forced: "v3"})
	seedModeTables(c)

	c.SetMode("armed")

	if len(ft.puts) != 1 {
		t.Fatalf("puts: got %d, want 1", len(ft.puts))
	}
	if got := c.Mode(); got != "armed" {
		t.Errorf("mode: got %q, want armed", got)
	}
	if rev := intAttr(c.load(0, KeyModeRevision), 0); rev != 7 {
		t.Errorf("revision: got %d, want 7", rev)
	}
}

func TestAvailableModes_FallbackWhenUnreported(t *testing.T) {
	c := newController(t, &fakeTransport{}, Options{Forced: "v2"})

	got := c.AvailableModes()
	if got["disarmed"] != "mode0" || got["armed"] != "mode1" {
		t.Fatalf("fallback modes: got %v", got)
	}

	seedModeTables(c)
	c.ParseModes([]any{map[string]any{"id": "mode2", "name": "Night"}})
	got = c.AvailableModes()
	if got["Night"] != "mode2" {
		t.Fatalf("parsed modes: got %v", got)
	}
}

func TestScheduleToModes(t *testing.T) {
	c := newController(t, &fakeTransport{}, Options{Forced: "v2"})
	c.ParseSchedules([]any{
		map[string]any{
			"id":      "schedule.1",
			"name":    "workweek",
			"enabled": true,
			"schedule": []any{
				map[string]any{
					"days":         []any{"Mo", "Tu", "We", "Th", "Fr"},
					"startTime":    float64(9 * 60),
					"duration":     float64(8 * 60),
					"startActions": map[string]any{"enableModes": []any{"mode1"}},
				},
			},
		},
	})

	// A Monday at noon falls inside the window.
	inside := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	if got := c.scheduleToModes(inside); len(got) != 1 || got[0] != "mode1" {
		t.Fatalf("inside window: got %v, want [mode1]", got)
	}

	// Same day after hours falls back to disarmed.
	outside := time.Date(2026, 8, 24, 20, 0, 0, 0, time.UTC)
	if got := c.scheduleToModes(outside); len(got) != 1 || got[0] != "mode0" {
		t.Fatalf("outside window: got %v, want [mode0]", got)
	}

	// Saturday is not in the day list at all.
	weekend := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	if got := c.scheduleToModes(weekend); len(got) != 1 || got[0] != "mode0" {
		t.Fatalf("weekend: got %v, want [mode0]", got)
	}
}

func TestHandleEvent_ActiveAutomations(t *testing.T) {
	c := newController(t, &fakeTransport{}, Options{Forced: "v2"})
	seedModeTables(c)

	handled := c.HandleEvent("activeAutomations", map[string]any{
		"activeModes":     []any{"mode1"},
		"activeSchedules": []any{},
	})
	if !handled {
		t.Fatal("activeAutomations not handled")
	}
	if got := c.Mode(); got != "armed" {
		t.Errorf("mode: got %q, want armed", got)
	}
	if got := c.Schedule(); got != "" {
		t.Errorf("schedule: got %q, want empty", got)
	}
}

func TestHandleEvent_ScheduleOnlyDerivesMode(t *testing.T) {
	c := newController(t, &fakeTransport{}, Options{Forced: "v2"})
	seedModeTables(c)
	c.ParseSchedules([]any{
		map[string]any{"id": "schedule.1", "name": "workweek", "enabled": true},
	})

	// No window matches, so the derived mode is the disarmed fallback.
	c.HandleEvent("activeAutomations", map[string]any{
		"activeSchedules": []any{"schedule.1"},
	})
	if got := c.Schedule(); got != "workweek" {
		t.Errorf("schedule: got %q, want workweek", got)
	}
	if got := c.Mode(); got != "disarmed" {
		t.Errorf("mode: got %q, want disarmed", got)
	}
}

func TestHandleEvent_ModesResource(t *testing.T) {
	c := newController(t, &fakeTransport{}, Options{Forced: "v1"})

	c.HandleEvent("modes", map[string]any{
		"properties": map[string]any{
			"modes": []any{
				map[string]any{"id": "mode0", "name": "disarmed"},
				map[string]any{"id": "mode1", "name": "armed"},
			},
			"active": "mode1",
		},
	})
	if got := c.Mode(); got != "armed" {
		t.Fatalf("mode: got %q, want armed", got)
	}
}

func TestHandleEvent_UnrelatedResourceIgnored(t *testing.T) {
	c := newController(t, &fakeTransport{}, Options{Forced: "v2"})
	if c.HandleEvent("cameras/C1", map[string]any{}) {
		t.Fatal("camera resource claimed by mode controller")
	}
}

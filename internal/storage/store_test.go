package storage

import (
	"reflect"
	"testing"
)

func TestStore_SetGet(t *testing.T) {
	s := New()

	s.Set(K("camera", "C1", "batteryLevel"), float64(88))

	if got := s.Get(K("camera", "C1", "batteryLevel"), nil); got != float64(88) {
		t.Errorf("Get() = %v, want 88", got)
	}
}

func TestStore_GetMissingReturnsDefault(t *testing.T) {
	s := New()

	if got := s.Get(K("camera", "C1", "missing"), "fallback"); got != "fallback" {
		t.Errorf("Get() = %v, want fallback", got)
	}
	if got := s.Get(K("camera", "C1", "missing"), nil); got != nil {
		t.Errorf("Get() = %v, want nil", got)
	}
}

func TestStore_SetAndNotify_SuppressesDuplicates(t *testing.T) {
	s := New()
	calls := 0
	s.OnChange("camera", "C1", "motionDetected", func(id, attr string, value any) {
		calls++
		if id != "C1" || attr != "motionDetected" || value != true {
			t.Errorf("callback got (%q, %q, %v)", id, attr, value)
		}
	})

	if changed := s.SetAndNotify(K("camera", "C1", "motionDetected"), true); !changed {
		t.Error("first SetAndNotify() = false, want true")
	}
	if changed := s.SetAndNotify(K("camera", "C1", "motionDetected"), true); changed {
		t.Error("duplicate SetAndNotify() = true, want false")
	}

	if calls != 1 {
		t.Errorf("callback fired %d times, want 1", calls)
	}
}

func TestStore_SetAndNotify_DeepEquality(t *testing.T) {
	s := New()
	calls := 0
	s.OnChange("camera", "C1", "lightMode", func(string, string, any) { calls++ })

	mode := map[string]any{"mode": "rgb", "rgb": map[string]any{"red": float64(255)}}
	s.SetAndNotify(K("camera", "C1", "lightMode"), mode)

	// Equal by value, different map instance.
	same := map[string]any{"mode": "rgb", "rgb": map[string]any{"red": float64(255)}}
	s.SetAndNotify(K("camera", "C1", "lightMode"), same)

	if calls != 1 {
		t.Errorf("callback fired %d times, want 1", calls)
	}
}

func TestStore_WildcardCallback(t *testing.T) {
	s := New()
	var seen []string
	s.OnChange("base", "B1", "*", func(_, attr string, _ any) {
		seen = append(seen, attr)
	})

	s.SetAndNotify(K("base", "B1", "activeMode"), "armed")
	s.SetAndNotify(K("base", "B1", "sirenState"), "off")
	// Different entity must not fire.
	s.SetAndNotify(K("base", "B2", "activeMode"), "armed")

	if !reflect.DeepEqual(seen, []string{"activeMode", "sirenState"}) {
		t.Errorf("seen = %v, want [activeMode sirenState]", seen)
	}
}

func TestStore_CallbackRegistrationOrder(t *testing.T) {
	s := New()
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		s.OnChange("camera", "C1", "activityState", func(string, string, any) {
			order = append(order, i)
		})
	}

	s.SetAndNotify(K("camera", "C1", "activityState"), "idle")

	if !reflect.DeepEqual(order, []int{1, 2, 3}) {
		t.Errorf("order = %v, want [1 2 3]", order)
	}
}

func TestStore_GetMatching(t *testing.T) {
	s := New()
	s.Set(K("base", "B1", "modeNameToId", "armed"), "mode1")
	s.Set(K("base", "B1", "modeNameToId", "disarmed"), "mode0")
	s.Set(K("base", "B1", "modeIdToName", "mode0"), "disarmed")
	s.Set(K("base", "B2", "modeNameToId", "armed"), "modeX")

	entries := s.GetMatching(K("base", "B1", "modeNameToId", "*"))
	if len(entries) != 2 {
		t.Fatalf("GetMatching() returned %d entries, want 2", len(entries))
	}

	got := map[string]any{}
	for _, e := range entries {
		got[e.Key.Attr[len(e.Key.Attr)-1]] = e.Value
	}
	want := map[string]any{"armed": "mode1", "disarmed": "mode0"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetMatching() = %v, want %v", got, want)
	}
}

func TestStore_CallbackMayReadStore(t *testing.T) {
	s := New()
	done := make(chan any, 1)
	s.OnChange("camera", "C1", "activeMode", func(string, string, any) {
		// Reading from inside a callback must not deadlock.
		done <- s.Get(K("camera", "C1", "activeMode"), nil)
	})

	s.SetAndNotify(K("camera", "C1", "activeMode"), "armed")

	select {
	case v := <-done:
		if v != "armed" {
			t.Errorf("callback read %v, want armed", v)
		}
	default:
		t.Fatal("callback did not run synchronously")
	}
}

package storage

import (
	"path/filepath"
	"testing"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	snap, err := OpenSnapshot(path)
	if err != nil {
		t.Fatalf("OpenSnapshot() error = %v", err)
	}

	s := New()
	s.Set(K("camera", "C1", "batteryLevel"), float64(72))
	s.Set(K("base", "B1", "modeNameToId", "armed"), "mode1")
	s.Set(K("camera", "C1", "lightMode"), map[string]any{"mode": "temperature"})

	if err := snap.Save(s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := snap.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Reopen and reload into a fresh store.
	snap, err = OpenSnapshot(path)
	if err != nil {
		t.Fatalf("OpenSnapshot() reopen error = %v", err)
	}
	defer snap.Close()

	restored := New()
	if err := snap.Load(restored); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := restored.Get(K("camera", "C1", "batteryLevel"), nil); got != float64(72) {
		t.Errorf("batteryLevel = %v, want 72", got)
	}
	if got := restored.Get(K("base", "B1", "modeNameToId", "armed"), nil); got != "mode1" {
		t.Errorf("modeNameToId/armed = %v, want mode1", got)
	}
}

func TestSnapshot_CorruptRowsSkipped(t *testing.T) {
	snap, err := OpenSnapshot(":memory:")
	if err != nil {
		t.Fatalf("OpenSnapshot() error = %v", err)
	}
	defer snap.Close()

	// One good row, one row that is not valid JSON.
	if _, err := snap.db.Exec(
		`INSERT INTO attributes (key, value) VALUES (?, ?), (?, ?)`,
		"camera/C1/batteryLevel", "55",
		"camera/C1/broken", "{not json",
	); err != nil {
		t.Fatalf("seeding rows: %v", err)
	}

	s := New()
	if err := snap.Load(s); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := s.Get(K("camera", "C1", "batteryLevel"), nil); got != float64(55) {
		t.Errorf("batteryLevel = %v, want 55", got)
	}
	if got := s.Get(K("camera", "C1", "broken"), "absent"); got != "absent" {
		t.Errorf("broken = %v, want absent", got)
	}
}

func TestSnapshot_SaveReplacesPrevious(t *testing.T) {
	snap, err := OpenSnapshot(":memory:")
	if err != nil {
		t.Fatalf("OpenSnapshot() error = %v", err)
	}
	defer snap.Close()

	s := New()
	s.Set(K("camera", "C1", "old"), "value")
	if err := snap.Save(s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	s2 := New()
	s2.Set(K("camera", "C1", "new"), "value")
	if err := snap.Save(s2); err != nil {
		t.Fatalf("Save() replace error = %v", err)
	}

	restored := New()
	if err := snap.Load(restored); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := restored.Get(K("camera", "C1", "old"), "gone"); got != "gone" {
		t.Errorf("old key survived replace: %v", got)
	}
	if got := restored.Get(K("camera", "C1", "new"), nil); got != "value" {
		t.Errorf("new = %v, want value", got)
	}
}

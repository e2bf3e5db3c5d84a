package device

import "github.com/reedholm/skymirror/internal/modes"

// Location is an armable account location on multi-location accounts.
// It is not hardware; it groups devices server-side and owns the v3
// arming state for them. Accounts with one location never see these.
type Location struct {
	id    string
	name  string
	owner Owner
	modes *modes.Controller
}

// NewLocation builds a location from its account record.
func NewLocation(owner Owner, attrs map[string]any) *Location {
	id := str(attrs, "locationId")
	l := &Location{
		id:    id,
		name:  str(attrs, "locationName"),
		owner: owner,
	}
	l.modes = modes.New(
		owner.Store(),
		modes.Target{
			Class:      "location",
			ID:         id,
			LocationID: id,
		},
		modes.Options{
			Forced:      "v3",
			Synchronous: owner.Config().Cloud.Synchronous,
		},
		owner.Backend(),
		owner.Scheduler(),
		owner.Logger(),
	)
	return l
}

func (l *Location) ID() string   { return l.id }
func (l *Location) Name() string { return l.name }

// Modes exposes the arming controller.
func (l *Location) Modes() *modes.Controller { return l.modes }

// Mode returns the active mode name.
func (l *Location) Mode() string { return l.modes.Mode() }

// SetMode arms the location; name or server id.
func (l *Location) SetMode(nameOrID string) { l.modes.SetMode(nameOrID) }

// AvailableModes maps mode names to server ids.
func (l *Location) AvailableModes() map[string]string { return l.modes.AvailableModes() }

// HandleEvent consumes the v3 automation resources. Location events carry
// a locationId; mismatches are ignored.
func (l *Location) HandleEvent(resource string, event map[string]any) {
	if lid, ok := event["locationId"].(string); ok && lid != "" && lid != l.id {
		return
	}
	props := mapField(event, "properties")

	switch resource {
	case "automation/activeMode":
		inner := mapField(props, "properties")
		if mode := str(inner, "mode"); mode != "" {
			l.modes.ApplyActiveMode(mode, props["revision"])
		}
	case "automation/modes":
		l.modes.ParseModeMap(props)
	case "states":
		states := mapField(props, "states")
		if mode := str(states, KeyMode); mode != "" {
			l.modes.ApplyActiveMode(mode, nil)
		}
	}
}

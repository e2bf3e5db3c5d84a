package device

import (
	"github.com/reedholm/skymirror/internal/backend"
	"github.com/reedholm/skymirror/internal/modes"
)

// Base is a base station: the hub hardware that owns child devices and the
// arming state. Cameras that talk to the cloud directly get a synthetic
// Base of their own so arming always goes through one.
type Base struct {
	Core
	modes *modes.Controller
}

// NewBase builds a base station from its discovery record. multiLocation
// feeds protocol detection and is queried at call time.
func NewBase(owner Owner, attrs map[string]any, multiLocation func() bool) *Base {
	b := &Base{Core: newCore("base", owner, attrs)}
	cfg := owner.Config()
	b.modes = modes.New(
		owner.Store(),
		modes.Target{
			Class:      b.class,
			ID:         b.id,
			DeviceID:   b.id,
			UniqueID:   b.UniqueID(),
			ModelID:    b.model,
			DeviceType: b.kind,
		},
		modes.Options{
			Forced:        cfg.Cloud.ModeAPI,
			Synchronous:   cfg.Cloud.Synchronous,
			MultiLocation: multiLocation,
		},
		owner.Backend(),
		owner.Scheduler(),
		owner.Logger(),
	)
	return b
}

// ResourceID for a base is its bare device id.
func (b *Base) ResourceID() string { return b.id }

func (b *Base) Has(cap Capability) bool {
	return baseHas(b.model, b.kind, b.IsOwnParent(), b.IsCorded(), b.HasCharger(), b.UsingWiFi(), cap)
}

// State reports available or unavailable from the last connection event.
func (b *Base) State() string {
	if b.IsUnavailable() {
		return "unavailable"
	}
	return "available"
}

// Modes exposes the arming controller for the hub and host surfaces.
func (b *Base) Modes() *modes.Controller { return b.modes }

// Mode returns the active mode name.
func (b *Base) Mode() string { return b.modes.Mode() }

// SetMode arms the base; the argument may be a mode name or server id.
func (b *Base) SetMode(nameOrID string) { b.modes.SetMode(nameOrID) }

// AvailableModes maps mode names to server ids.
func (b *Base) AvailableModes() map[string]string { return b.modes.AvailableModes() }

// HandleEvent routes mode resources to the arming controller and events
// addressed to this base to the generic extractor. Runs on the channel
// goroutine; anything slow is queued.
func (b *Base) HandleEvent(resource string, event map[string]any) {
	if !b.ownEvent(event) {
		return
	}
	switch resource {
	case "modes", "activeAutomations", "automationRevisionUpdate":
		b.owner.Scheduler().RunNow("mode-event", func() {
			b.modes.HandleEvent(resource, event)
		})
	case "states":
		// Rate-limited inside the controller, but the refresh itself hits
		// the network, so it never runs on the channel goroutine.
		b.owner.Scheduler().RunNow("mode-states", func() {
			b.modes.HandleEvent(resource, event)
		})
	case b.id:
		b.handleGenericEvent(event)
	case "subscriptions":
		// Ping acknowledgements when not correlated to a waiter.
		b.handleConnectionState(event)
	}
}

// ownEvent filters broadcast resources to this base. Events carry either
// a "from" device id or a "uniqueId"; absence means broadcast.
func (b *Base) ownEvent(event map[string]any) bool {
	if from, ok := event["from"].(string); ok && from != "" && from != b.id {
		return false
	}
	if uid, ok := event["uniqueId"].(string); ok && uid != "" && uid != b.UniqueID() {
		return false
	}
	return true
}

func (b *Base) handleConnectionState(event map[string]any) {
	props := mapField(event, "properties")
	if devices, ok := props["devices"].([]any); ok {
		for _, d := range devices {
			if id, _ := d.(string); id == b.id {
				b.saveAndNotify(KeyConnection, "available")
				return
			}
		}
	}
}

// Ping checks the base is reachable by re-asserting the event
// subscription. The result lands in the connection attribute.
func (b *Base) Ping() {
	resp := b.owner.Backend().Notify(b.id, map[string]any{
		"action":          "set",
		"resource":        "subscriptions/" + b.WebID(),
		"publishResponse": false,
		"properties":      map[string]any{"devices": []any{b.id}},
	}, backend.WaitResponse)

	state := "unavailable"
	if resp != nil {
		state = "available"
	}
	b.saveAndNotify(KeyConnection, state)
}

// UpdateStates asks older hub firmware to push a fresh state report for
// every child over the event channel. Newer models reject the query.
func (b *Base) UpdateStates() {
	if !b.Has(CapResourceQuery) {
		return
	}
	b.owner.Backend().Notify(b.id, map[string]any{
		"action":          "get",
		"resource":        "devices",
		"publishResponse": false,
	}, backend.WaitNone)
}

// SirenOn sounds the siren. Duration in seconds, volume 1-8.
func (b *Base) SirenOn(duration, volume int) {
	b.owner.Backend().Notify(b.id, map[string]any{
		"action":          "set",
		"resource":        "siren",
		"publishResponse": true,
		"properties": map[string]any{
			"sirenState": "on",
			"duration":   duration,
			"volume":     volume,
			"pattern":    "alarm",
		},
	}, backend.WaitResponse)
}

// SirenOff silences the siren.
func (b *Base) SirenOff() {
	b.owner.Backend().Notify(b.id, map[string]any{
		"action":          "set",
		"resource":        "siren",
		"publishResponse": true,
		"properties":      map[string]any{"sirenState": "off", "duration": 0, "volume": 0, "pattern": "alarm"},
	}, backend.WaitResponse)
}

// Restart reboots the base station.
func (b *Base) Restart() {
	b.owner.Backend().Post(backend.RestartPath, map[string]any{"deviceId": b.id})
}

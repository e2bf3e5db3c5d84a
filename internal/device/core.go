package device

import (
	"sync"
	"time"

	"github.com/reedholm/skymirror/internal/backend"
	"github.com/reedholm/skymirror/internal/background"
	"github.com/reedholm/skymirror/internal/infrastructure/config"
	"github.com/reedholm/skymirror/internal/storage"
)

// Logger defines the logging interface used by devices.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Owner is what a device needs from the hub that created it. The hub
// exclusively owns the device list; devices hold this back-reference for
// shared services and cross-device lookups.
type Owner interface {
	Store() *storage.Store
	Backend() *backend.Client
	Scheduler() *background.Scheduler
	Config() *config.Config
	Logger() Logger

	// BaseStations returns every known base, used by child devices to
	// find their controlling hub.
	BaseStations() []*Base

	// QueueMediaRefresh asks the media library to reload for a camera
	// after a delay, typically because activity just ended.
	QueueMediaRefresh(cameraID string, delay time.Duration)
}

// Device is the behaviour every mirrored device shares.
type Device interface {
	Name() string
	DeviceID() string
	DeviceType() string
	UniqueID() string
	ModelID() string
	ParentID() string

	// ResourceID is the event routing id: bare device id for bases,
	// "<type>/<id>" for children.
	ResourceID() string

	Has(cap Capability) bool

	// Attribute answers host queries: live store value first, then the
	// discovery record, then the default.
	Attribute(attr string, def any) any

	// HandleEvent receives every channel message; the device ignores
	// resources that are not its own. Runs on the channel goroutine and
	// must not block.
	HandleEvent(resource string, event map[string]any)

	State() string
}

// Core is the shared identity and attribute plumbing embedded by every
// concrete device type.
type Core struct {
	class string
	name  string
	id    string
	kind  string
	uid   string
	model string
	// parent is empty for devices that are their own parent.
	parent string
	attrs  *attrRecord
	owner  Owner
}

// attrRecord guards the discovery record. Refreshes replace the whole
// map, never mutate it in place, so readers only need the pointer read
// to be synchronized. Held by pointer so embedding Core by value stays
// copy-safe.
type attrRecord struct {
	mu sync.RWMutex
	m  map[string]any
}

func (r *attrRecord) get() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.m
}

func (r *attrRecord) set(m map[string]any) {
	r.mu.Lock()
	r.m = m
	r.mu.Unlock()
}

func newCore(class string, owner Owner, attrs map[string]any) Core {
	c := Core{
		class:  class,
		name:   str(attrs, KeyDeviceName),
		id:     strDefault(attrs, KeyDeviceID, "unknown"),
		kind:   strDefault(attrs, KeyDeviceType, "unknown"),
		uid:    str(attrs, KeyUniqueID),
		model:  str(attrs, "modelId"),
		parent: str(attrs, KeyParentID),
		attrs:  &attrRecord{m: attrs},
		owner:  owner,
	}

	// Seed the store from the discovery record: identity keys at the top
	// level, state keys nested under properties.
	for _, key := range deviceKeys {
		if v, ok := attrs[key]; ok {
			c.save(v, key)
		}
	}
	props := mapField(attrs, "properties")
	for _, key := range append(append([]string{}, resourceKeys...), resourceUpdateKeys...) {
		if v, ok := props[key]; ok {
			c.save(v, key)
		}
	}
	return c
}

func (c *Core) Name() string       { return c.name }
func (c *Core) DeviceID() string   { return c.id }
func (c *Core) DeviceType() string { return c.kind }
func (c *Core) ModelID() string    { return c.model }

func (c *Core) UniqueID() string {
	if c.uid == "" {
		return c.kind + "-" + c.id
	}
	return c.uid
}

// ParentID returns the controlling device id; devices without a recorded
// parent are their own.
func (c *Core) ParentID() string {
	if c.parent == "" {
		return c.id
	}
	return c.parent
}

func (c *Core) IsOwnParent() bool { return c.ParentID() == c.id }

func (c *Core) XCloudID() string {
	if v, ok := c.load(KeyXCloudID, nil).(string); ok {
		return v
	}
	return "UNKNOWN"
}

func (c *Core) UserID() string { return str(c.attrs.get(), KeyUserID) }

func (c *Core) WebID() string { return c.UserID() + "_web" }

func (c *Core) log() Logger { return c.owner.Logger() }

// save writes without firing callbacks.
func (c *Core) save(value any, attr ...string) {
	c.owner.Store().Set(storage.K(c.class, c.id, attr...), value)
}

// saveAndNotify writes and fires callbacks when the value changed.
func (c *Core) saveAndNotify(attr string, value any) {
	if c.owner.Store().SetAndNotify(storage.K(c.class, c.id, attr), value) {
		c.log().Debug("attribute changed", "device", c.name, "attr", attr)
	}
}

func (c *Core) load(attr string, def any) any {
	return c.owner.Store().Get(storage.K(c.class, c.id, attr), def)
}

func (c *Core) loadSub(def any, attr ...string) any {
	return c.owner.Store().Get(storage.K(c.class, c.id, attr...), def)
}

func (c *Core) loadMatching(attr ...string) []storage.Entry {
	return c.owner.Store().GetMatching(storage.K(c.class, c.id, attr...))
}

// OnChange registers an attribute callback; pattern "*" matches all.
func (c *Core) OnChange(pattern string, fn storage.Callback) {
	c.owner.Store().OnChange(c.class, c.id, pattern, fn)
}

// Attribute answers host queries: store first, then the discovery record,
// then the record's properties, then the default.
func (c *Core) Attribute(attr string, def any) any {
	if v := c.load(attr, nil); v != nil {
		return v
	}
	record := c.attrs.get()
	if v, ok := record[attr]; ok {
		return v
	}
	if v, ok := mapField(record, "properties")[attr]; ok {
		return v
	}
	return def
}

// RefreshAttrs absorbs a fresh discovery record for an already-mirrored
// device: identity keys are re-seeded quietly, state keys fire change
// callbacks like any other update.
func (c *Core) RefreshAttrs(attrs map[string]any) {
	c.attrs.set(attrs)
	for _, key := range deviceKeys {
		if v, ok := attrs[key]; ok {
			c.save(v, key)
		}
	}
	c.updateResources(mapField(attrs, "properties"))
}

// updateResources copies allow-listed keys from an event's properties into
// the store. Unknown keys are dropped.
func (c *Core) updateResources(props map[string]any) {
	for _, key := range resourceKeys {
		if v, ok := props[key]; ok {
			c.saveAndNotify(key, v)
		}
	}
	for _, key := range resourceUpdateKeys {
		if v, ok := props[key]; ok {
			c.saveAndNotify(key, v)
		}
	}
}

// handleGenericEvent is the fallback handler every subtype delegates to,
// so generic key extraction runs even for specialized resources. The
// properties either sit under "properties" or the event is the payload.
func (c *Core) handleGenericEvent(event map[string]any) {
	if props := mapField(event, "properties"); len(props) > 0 {
		c.updateResources(props)
		return
	}
	c.updateResources(event)
}

// Shared state accessors.

func (c *Core) BatteryLevel() int {
	return intAttr(c.load(KeyBattery, nil), 100)
}

func (c *Core) SignalStrength() int {
	return intAttr(c.load(KeySignalStrength, nil), 3)
}

func (c *Core) BatteryTech() string {
	if v, ok := c.load(KeyBatteryTech, nil).(string); ok {
		return v
	}
	return "None"
}

func (c *Core) HasBatteries() bool { return c.BatteryTech() != "None" }

func (c *Core) ChargerType() string {
	if v, ok := c.load(KeyCharger, nil).(string); ok {
		return v
	}
	return "None"
}

func (c *Core) HasCharger() bool { return c.ChargerType() != "None" }

func (c *Core) IsCorded() bool { return !c.HasBatteries() && !c.HasCharger() }

func (c *Core) UsingWiFi() bool {
	conn := mapField(c.attrs.get(), "connectivity")
	t, _ := conn["type"].(string)
	return t == "wifi"
}

func (c *Core) IsUnavailable() bool {
	return c.load(KeyConnection, "unknown") == "unavailable"
}

func (c *Core) Timezone() string {
	if v, ok := c.load(KeyTimezone, nil).(string); ok {
		return v
	}
	return str(mapField(c.attrs.get(), "properties"), KeyTimezone)
}

// Helpers for the loosely typed payloads.

func str(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func strDefault(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

func mapField(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func intAttr(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

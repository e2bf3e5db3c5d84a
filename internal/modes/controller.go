package modes

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/reedholm/skymirror/internal/backend"
	"github.com/reedholm/skymirror/internal/storage"
)

// Attribute keys the controller owns in its target's store namespace.
const (
	KeyMode         = "activeMode"
	KeyModeRevision = "activeModeRevision"
	KeySchedule     = "activeSchedule"

	keyNameToID   = "modeNameToId"
	keyIDToName   = "modeIdToName"
	keyIsSchedule = "modeIsSchedule"
)

// v2 gives up after this many attempts total.
const maxSetAttempts = 4

// statesUpdateInterval rate-limits mode refreshes triggered by per-device
// "states" events, which arrive in bursts.
const statesUpdateInterval = 2 * time.Second

// defaultModes covers hubs that never report a mode list.
var defaultModes = map[string]string{"disarmed": "mode0", "armed": "mode1"}

var dayOfWeek = [...]string{"Su", "Mo", "Tu", "We", "Th", "Fr", "Sa"}

// Version is the arming protocol generation.
type Version int

const (
	V1 Version = 1
	V2 Version = 2
	V3 Version = 3
)

// Transport is the slice of the backend the controller calls.
type Transport interface {
	Get(path string) any
	Put(path string, body any) any
	PostFull(path string, body any) map[string]any
	Notify(hubID string, body map[string]any, wait backend.Wait) any
}

// Scheduler re-queues asynchronous retry attempts.
type Scheduler interface {
	RunNow(name string, fn func()) bool
}

// Logger defines the logging interface used by the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Target identifies what is being armed and how to detect its protocol.
type Target struct {
	// Class and ID locate the target's store namespace.
	Class string
	ID    string

	// DeviceID and UniqueID identify the hub to the server. LocationID is
	// set for v3 location targets instead.
	DeviceID   string
	UniqueID   string
	ModelID    string
	DeviceType string
	LocationID string
}

// Options control protocol selection and retry behaviour.
type Options struct {
	// Forced pins the protocol: "v1", "v2", "v3", or "auto".
	Forced string

	// Synchronous makes v2 retries run inline in the caller instead of
	// re-queueing on the scheduler.
	Synchronous bool

	// MultiLocation reports whether the account has several locations,
	// which implies v3. Checked at call time because discovery may not
	// have finished when the controller is built.
	MultiLocation func() bool
}

// Controller arms one base station or location.
type Controller struct {
	store     *storage.Store
	target    Target
	opts      Options
	transport Transport
	sched     Scheduler
	logger    Logger

	mu          sync.Mutex
	schedules   []any
	lastRefresh time.Time
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// New creates a controller for one armable target. A nil logger is
// replaced with a no-op one.
func New(store *storage.Store, target Target, opts Options, transport Transport, sched Scheduler, logger Logger) *Controller {
	if opts.MultiLocation == nil {
		opts.MultiLocation = func() bool { return false }
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Controller{
		store:     store,
		target:    target,
		opts:      opts,
		transport: transport,
		sched:     sched,
		logger:    logger,
	}
}

// Version resolves the protocol generation: forced override first, then
// multi-location accounts, then the legacy hardware list.
func (c *Controller) Version() Version {
	switch strings.ToLower(c.opts.Forced) {
	case "v1":
		return V1
	case "v2":
		return V2
	case "v3":
		return V3
	}
	if c.target.LocationID != "" || c.opts.MultiLocation() {
		return V3
	}
	if strings.HasPrefix(c.target.ModelID, "ABC1000") ||
		strings.HasPrefix(c.target.ModelID, "VML4030") ||
		c.target.DeviceType == "arloq" || c.target.DeviceType == "arloqs" {
		return V1
	}
	return V2
}

func (c *Controller) save(value any, attr ...string) {
	c.store.Set(storage.K(c.target.Class, c.target.ID, attr...), value)
}

func (c *Controller) load(def any, attr ...string) any {
	return c.store.Get(storage.K(c.target.Class, c.target.ID, attr...), def)
}

func (c *Controller) saveAndNotify(attr string, value any) {
	c.store.SetAndNotify(storage.K(c.target.Class, c.target.ID, attr), value)
}

// IDToName resolves a server mode id to its display name, "" if unknown.
func (c *Controller) IDToName(modeID string) string {
	v, _ := c.load(nil, keyIDToName, modeID).(string)
	return v
}

// NameToID resolves a display name to its server mode id, "" if unknown.
func (c *Controller) NameToID(modeName string) string {
	v, _ := c.load(nil, keyNameToID, strings.ToLower(modeName)).(string)
	return v
}

func (c *Controller) idIsSchedule(modeID string) bool {
	v, _ := c.load(false, keyIsSchedule, strings.ToLower(modeID)).(bool)
	return v
}

// Mode returns the current mode name, "unknown" before the first report.
func (c *Controller) Mode() string {
	v, _ := c.load("unknown", KeyMode).(string)
	return v
}

// Schedule returns the active schedule name, "" when none.
func (c *Controller) Schedule() string {
	v, _ := c.load(nil, KeySchedule).(string)
	return v
}

// AvailableModes maps mode names to server ids, falling back to the stock
// disarmed/armed pair when the hub never reported a list.
func (c *Controller) AvailableModes() map[string]string {
	// The id-to-name table keeps the display case; the name-to-id table
	// is lowercased for lookup only.
	found := map[string]string{}
	for _, entry := range c.store.GetMatching(storage.K(c.target.Class, c.target.ID, keyIDToName, "*")) {
		id := entry.Key.Attr[len(entry.Key.Attr)-1]
		if name, ok := entry.Value.(string); ok {
			found[name] = id
		}
	}
	if len(found) == 0 {
		for name, id := range defaultModes {
			found[name] = id
		}
	}
	return found
}

// ParseModes rebuilds the bidirectional mode tables from a server list.
func (c *Controller) ParseModes(modes []any) {
	for _, item := range modes {
		mode, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := mode["id"].(string)
		name, _ := mode["name"].(string)
		if name == "" {
			name, _ = mode["type"].(string)
		}
		if name == "" {
			name = id
		}
		if id == "" || name == "" {
			continue
		}
		c.save(name, keyIDToName, id)
		c.save(id, keyNameToID, strings.ToLower(name))
		c.save(false, keyIsSchedule, strings.ToLower(id))
		c.save(false, keyIsSchedule, strings.ToLower(name))
	}
}

// ParseSchedules records schedule definitions; schedule ids resolve like
// mode names but flag as schedules so SetMode posts them correctly.
func (c *Controller) ParseSchedules(schedules []any) {
	c.mu.Lock()
	c.schedules = schedules
	c.mu.Unlock()
	for _, item := range schedules {
		schedule, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := schedule["id"].(string)
		name, _ := schedule["name"].(string)
		if name == "" {
			name = id
		}
		if id == "" || name == "" {
			continue
		}
		c.save(name, keyIDToName, id)
		c.save(id, keyNameToID, strings.ToLower(name))
		c.save(true, keyIsSchedule, strings.ToLower(id))
		c.save(true, keyIsSchedule, strings.ToLower(name))
	}
}

// scheduleToModes resolves the active schedule windows to the mode they
// enable right now. Used when the server reports a schedule with no mode.
func (c *Controller) scheduleToModes(now time.Time) []string {
	c.mu.Lock()
	schedules := c.schedules
	c.mu.Unlock()

	day := dayOfWeek[now.Weekday()]
	minute := now.Hour()*60 + now.Minute()
	for _, item := range schedules {
		schedule, ok := item.(map[string]any)
		if !ok || !boolField(schedule, "enabled") {
			continue
		}
		actions, _ := schedule["schedule"].([]any)
		for _, a := range actions {
			action, ok := a.(map[string]any)
			if !ok {
				continue
			}
			if !containsString(action["days"], day) {
				continue
			}
			start := intField(action, "startTime", 1<<16)
			duration := intField(action, "duration", 0)
			if minute < start || minute >= start+duration {
				continue
			}
			starts, _ := action["startActions"].(map[string]any)
			if modes := stringSlice(starts["enableModes"]); len(modes) > 0 {
				return modes
			}
		}
	}
	// Nothing scheduled right now means disarmed.
	return []string{"mode0"}
}

// SetMode arms the target. The argument may be a mode name or a raw
// server id; both are resolved before deciding whether a change is even
// needed, and setting the already-active mode is a no-op with zero
// network calls. Failures are logged, never returned.
func (c *Controller) SetMode(nameOrID string) {
	version := c.Version()

	// Resolve whichever form we were given to both forms.
	modeID := ""
	modeName := nameOrID
	if real := c.IDToName(nameOrID); real != "" {
		modeID = nameOrID
		modeName = real
	}
	if c.Mode() == modeName {
		c.logger.Debug("no mode change needed", "mode", modeName)
		return
	}
	if modeID == "" {
		modeID = c.NameToID(modeName)
	}
	if modeID == "" {
		c.logger.Warn("unrecognised mode", "target", c.target.ID, "mode", nameOrID)
		return
	}
	if c.Mode() == modeID {
		c.logger.Debug("no mode change needed", "mode", modeID)
		return
	}

	c.logger.Debug("setting mode", "target", c.target.ID, "mode", modeName, "id", modeID, "version", int(version))
	switch version {
	case V1:
		c.markScheduleFor(modeID, modeName)
		c.setModeV1(modeID)
	case V2:
		active, inactive := c.markScheduleFor(modeID, modeName)
		c.setModeV2(modeID, active, inactive, 1)
	case V3:
		c.setModeV3(modeID, modeName)
	}
}

// markScheduleFor updates the schedule attribute for a pending change and
// returns the v2 active/inactive record field names.
func (c *Controller) markScheduleFor(modeID, modeName string) (active, inactive string) {
	if c.idIsSchedule(modeID) {
		c.saveAndNotify(KeySchedule, modeName)
		return "activeSchedules", "activeModes"
	}
	c.saveAndNotify(KeySchedule, nil)
	return "activeModes", "activeSchedules"
}

// setModeV1 notifies the hub directly. Single attempt, legacy hardware.
func (c *Controller) setModeV1(modeID string) {
	c.transport.Notify(c.target.DeviceID, map[string]any{
		"action":          "set",
		"resource":        "modes",
		"publishResponse": true,
		"properties":      map[string]any{"active": modeID},
	}, backend.WaitEvent)
}

// setModeV2 posts an automation record. Ambiguous acknowledgements
// re-fetch the device list (nudging server session state) and retry up to
// maxSetAttempts total, inline when synchronous, re-queued otherwise.
func (c *Controller) setModeV2(modeID, active, inactive string, attempt int) {
	if attempt > maxSetAttempts {
		c.logger.Error("failed to set mode, giving up", "target", c.target.ID, "mode", modeID, "attempts", maxSetAttempts)
		return
	}

	body := map[string]any{
		"activeAutomations": []any{
			map[string]any{
				"deviceId":  c.target.DeviceID,
				"timestamp": time.Now().UnixMilli(),
				active:      []any{modeID},
				inactive:    []any{},
			},
		},
	}
	resp := c.transport.PostFull(backend.AutomationPath, body)
	if acknowledged(resp) {
		return
	}

	c.logger.Warn("ambiguous mode acknowledgement, retrying", "target", c.target.ID, "attempt", attempt)
	c.transport.Get(backend.DevicesPath)
	if c.opts.Synchronous {
		c.setModeV2(modeID, active, inactive, attempt+1)
		return
	}
	c.sched.RunNow("mode-set-retry", func() {
		c.setModeV2(modeID, active, inactive, attempt+1)
	})
}

// acknowledged decides whether a v2 response is a clear success.
func acknowledged(resp map[string]any) bool {
	if resp == nil {
		return false
	}
	if ok, _ := resp["success"].(bool); ok {
		return true
	}
	resource, _ := resp["resource"].(string)
	return resource == "modes" || resource == "activeAutomations"
}

// setModeV3 puts the location's new mode with the stored revision. A
// stale revision is rejected server-side; we log it and refresh so the
// next call carries a fresh revision.
func (c *Controller) setModeV3(modeID, modeName string) {
	revision := intAttr(c.load(1, KeyModeRevision), 1)
	path := fmt.Sprintf(backend.LocationActiveModeFormat, c.target.LocationID) +
		fmt.Sprintf("&revision=%d", revision)

	data := c.transport.Put(path, map[string]any{"mode": modeID})
	resp, ok := data.(map[string]any)
	if !ok {
		c.logger.Warn("mode change rejected, likely stale revision", "location", c.target.LocationID, "revision", revision)
		c.UpdateMode()
		return
	}

	if rev, ok := resp["revision"]; ok {
		c.save(rev, KeyModeRevision)
	}
	c.saveAndNotify(KeyMode, modeName)
}

// UpdateMode re-reads the active mode from the server.
func (c *Controller) UpdateMode() {
	switch c.Version() {
	case V3:
		data, ok := c.transport.Get(fmt.Sprintf(backend.LocationActiveModeFormat, c.target.LocationID)).(map[string]any)
		if !ok {
			return
		}
		props, _ := data["properties"].(map[string]any)
		if mode, ok := props["mode"].(string); ok {
			name := c.IDToName(mode)
			if name == "" {
				name = mode
			}
			c.saveAndNotify(KeyMode, name)
		}
		if rev, ok := data["revision"]; ok {
			c.save(rev, KeyModeRevision)
		}
	default:
		records, ok := c.transport.Get(backend.AutomationPath).([]any)
		if !ok {
			return
		}
		for _, item := range records {
			record, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if uid, _ := record["uniqueId"].(string); uid == c.target.UniqueID {
				c.applyModeOrSchedule(record)
			}
		}
	}
}

// UpdateModes re-reads the available mode and schedule definitions.
func (c *Controller) UpdateModes() {
	switch c.Version() {
	case V1:
		resp, ok := c.transport.Notify(c.target.DeviceID, map[string]any{
			"action":          "get",
			"resource":        "modes",
			"publishResponse": false,
		}, backend.WaitEvent).(map[string]any)
		if !ok {
			c.logger.Error("unable to read modes, consider forcing v2", "target", c.target.ID)
			return
		}
		props, _ := resp["properties"].(map[string]any)
		modes, _ := props["modes"].([]any)
		c.ParseModes(modes)
	case V2:
		data, ok := c.transport.Get(backend.DefinitionsPath + "?uniqueIds=" + c.target.UniqueID).(map[string]any)
		if !ok {
			c.logger.Error("failed to read mode definitions", "target", c.target.ID)
			return
		}
		definitions, _ := data[c.target.UniqueID].(map[string]any)
		modes, _ := definitions["modes"].([]any)
		schedules, _ := definitions["schedules"].([]any)
		c.ParseModes(modes)
		c.ParseSchedules(schedules)
	case V3:
		data, ok := c.transport.Get(fmt.Sprintf(backend.LocationModesPathFormat, c.target.LocationID)).(map[string]any)
		if !ok {
			c.logger.Error("failed to read location modes", "location", c.target.LocationID)
			return
		}
		c.ParseModeMap(data["properties"])
	}
}

// ApplyActiveMode records a server-reported active mode, with the v3
// revision when one came along.
func (c *Controller) ApplyActiveMode(modeID string, revision any) {
	if revision != nil {
		c.save(revision, KeyModeRevision)
	}
	name := c.IDToName(modeID)
	if name == "" {
		name = modeID
	}
	c.saveAndNotify(KeyMode, name)
}

// ParseModeMap handles the v3 mode-table shape: a map of mode id to
// record rather than a list.
func (c *Controller) ParseModeMap(raw any) {
	byID, ok := raw.(map[string]any)
	if !ok {
		return
	}
	for id, item := range byID {
		record, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := record["name"].(string)
		if name == "" {
			continue
		}
		c.save(name, keyIDToName, id)
		c.save(id, keyNameToID, strings.ToLower(name))
	}
}

// HandleEvent consumes the mode-related resources. Returns false when the
// resource is not mode related so the caller can keep dispatching.
func (c *Controller) HandleEvent(resource string, event map[string]any) bool {
	switch resource {
	case "modes":
		props, _ := event["properties"].(map[string]any)
		if modes, ok := props["modes"].([]any); ok {
			c.ParseModes(modes)
		}
		if id, ok := props["activeMode"].(string); ok {
			c.saveAndNotify(KeyMode, c.IDToName(id))
		} else if id, ok := props["active"].(string); ok {
			c.saveAndNotify(KeyMode, c.IDToName(id))
		}
	case "states":
		// Per-device state bursts; refresh at most once per interval.
		c.mu.Lock()
		now := time.Now()
		if now.Sub(c.lastRefresh) < statesUpdateInterval {
			c.mu.Unlock()
			return true
		}
		c.lastRefresh = now
		c.mu.Unlock()
		c.UpdateModes()
		c.UpdateMode()
	case "activeAutomations":
		c.applyModeOrSchedule(event)
	case "automationRevisionUpdate":
		c.UpdateModes()
	default:
		return false
	}
	return true
}

// applyModeOrSchedule digests an activeAutomations record: schedule flag
// first, then the mode, deriving the mode from schedule windows when the
// server reports only a schedule.
func (c *Controller) applyModeOrSchedule(event map[string]any) {
	scheduleIDs := stringSlice(event["activeSchedules"])
	if len(scheduleIDs) > 0 {
		c.saveAndNotify(KeySchedule, c.IDToName(scheduleIDs[0]))
	} else {
		c.saveAndNotify(KeySchedule, nil)
	}

	modeIDs := stringSlice(event["activeModes"])
	if len(modeIDs) == 0 && len(scheduleIDs) > 0 {
		modeIDs = c.scheduleToModes(time.Now())
	}
	if len(modeIDs) > 0 {
		c.saveAndNotify(KeyMode, c.IDToName(modeIDs[0]))
	}
}

// Payload helpers.

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func intField(m map[string]any, key string, def int) int {
	return intAttr(m[key], def)
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

func containsString(raw any, want string) bool {
	for _, s := range stringSlice(raw) {
		if s == want {
			return true
		}
	}
	return false
}

func stringSlice(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

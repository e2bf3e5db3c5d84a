package device

import (
	"time"

	"github.com/reedholm/skymirror/internal/backend"
)

// Doorbell mirrors a chime doorbell. Video doorbells also register a
// Camera twin under the same device id; this type carries only the
// button, motion and silent-mode surface.
//
// The server reports a button press but never a release, so the pressed
// attribute is cleared by a local timer. A second press re-arms it.
type Doorbell struct {
	child

	pressCancel  string
	motionCancel string
}

func NewDoorbell(owner Owner, attrs map[string]any) *Doorbell {
	return &Doorbell{child: newChild("doorbell", owner, attrs, "doorbells")}
}

func (d *Doorbell) Has(cap Capability) bool {
	return doorbellHas(d.model, d.ParentID(), d.id, cap)
}

func (d *Doorbell) HandleEvent(resource string, event map[string]any) {
	if resource != d.ResourceID() {
		return
	}
	props := mapField(event, "properties")

	if pressed, ok := props[KeyButtonPressed].(bool); ok && pressed {
		d.buttonPressed()
	}
	if motion, ok := props[KeyMotionDetected].(bool); ok && motion {
		d.motionDetected()
	}
	d.handleGenericEvent(event)
}

// buttonPressed asserts the press and re-arms its synthetic release.
func (d *Doorbell) buttonPressed() {
	d.saveAndNotify(KeyButtonPressed, true)
	if d.pressCancel != "" {
		d.owner.Scheduler().Cancel(d.pressCancel)
	}
	ding := time.Duration(d.owner.Config().Timeouts.DoorbellDing) * time.Second
	d.pressCancel = d.owner.Scheduler().RunIn("doorbell-release-"+d.id, ding, func() {
		d.saveAndNotify(KeyButtonPressed, false)
	})
}

// motionDetected mirrors buttonPressed for motion, which the hardware
// also never clears.
func (d *Doorbell) motionDetected() {
	d.saveAndNotify(KeyMotionDetected, true)
	if d.motionCancel != "" {
		d.owner.Scheduler().Cancel(d.motionCancel)
	}
	window := time.Duration(d.owner.Config().Timeouts.DoorbellMotion) * time.Second
	d.motionCancel = d.owner.Scheduler().RunIn("doorbell-motion-clear-"+d.id, window, func() {
		d.saveAndNotify(KeyMotionDetected, false)
	})
}

// IsSilenced reports whether chime and call forwarding are muted.
func (d *Doorbell) IsSilenced() bool {
	mode, _ := d.load(KeySilentMode, nil).(map[string]any)
	return boolField(mode, "active")
}

func (d *Doorbell) setSilentMode(mode map[string]any) {
	d.notify(map[string]any{
		"action":          "set",
		"resource":        d.ResourceID(),
		"publishResponse": true,
		"properties":      map[string]any{KeySilentMode: mode},
	}, backend.WaitResponse)
}

// SilenceOn mutes the chime and blocks call forwarding.
func (d *Doorbell) SilenceOn() {
	d.setSilentMode(map[string]any{"active": true, "block_call": true, "block_siren": true})
}

// SilenceOff restores normal chime behaviour.
func (d *Doorbell) SilenceOff() {
	d.setSilentMode(map[string]any{"active": false})
}

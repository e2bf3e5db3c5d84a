package device

import "github.com/reedholm/skymirror/internal/backend"

// Light mirrors a standalone security light.
type Light struct {
	child
}

func NewLight(owner Owner, attrs map[string]any) *Light {
	return &Light{child: newChild("light", owner, attrs, "lights")}
}

func (l *Light) Has(cap Capability) bool { return lightHas(cap) }

func (l *Light) HandleEvent(resource string, event map[string]any) {
	if resource != l.ResourceID() {
		return
	}
	l.handleGenericEvent(event)
}

// IsOn reports the lamp state from the last property event.
func (l *Light) IsOn() bool {
	return l.load(KeyLampState, "off") == "on"
}

func (l *Light) setLamp(props map[string]any) {
	l.notify(map[string]any{
		"action":          "set",
		"resource":        l.ResourceID(),
		"publishResponse": true,
		"properties":      props,
	}, backend.WaitResponse)
}

// TurnOn switches the lamp on.
func (l *Light) TurnOn() { l.setLamp(map[string]any{KeyLampState: "on"}) }

// TurnOff switches the lamp off.
func (l *Light) TurnOff() { l.setLamp(map[string]any{KeyLampState: "off"}) }

// SetBrightness sets the lamp level, 0-255.
func (l *Light) SetBrightness(level int) {
	l.setLamp(map[string]any{KeyBrightness: level})
}

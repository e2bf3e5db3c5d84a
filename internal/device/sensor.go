package device

// Sensor mirrors the all-in-one sensor: contact, motion, water, ambient
// light, temperature and tamper in one unit. It is read-only; every
// attribute arrives as property events and lands in the store through the
// generic extractor.
type Sensor struct {
	child
}

func NewSensor(owner Owner, attrs map[string]any) *Sensor {
	return &Sensor{child: newChild("sensor", owner, attrs, "sensors")}
}

func (s *Sensor) Has(cap Capability) bool { return sensorHas(cap) }

func (s *Sensor) HandleEvent(resource string, event map[string]any) {
	if resource != s.ResourceID() {
		return
	}
	s.handleGenericEvent(event)
}

// IsOpen reports the contact state.
func (s *Sensor) IsOpen() bool {
	return s.load(KeyContactState, "closed") == "open"
}

// HasMotion reports whether motion is currently asserted.
func (s *Sensor) HasMotion() bool {
	v, _ := s.load(KeyMotionDetected, false).(bool)
	return v
}

// IsWet reports the water-leak state.
func (s *Sensor) IsWet() bool {
	return s.load(KeyWaterState, "dry") == "wet"
}

// IsBright reports the ambient light sensor state.
func (s *Sensor) IsBright() bool {
	return s.load(KeyALSState, "dark") == "bright"
}

// IsTampered reports whether the unit has been opened or detached.
func (s *Sensor) IsTampered() bool {
	return s.load(KeyTamperState, "clear") == "tampered"
}

// Temperature returns the last reading in degrees Celsius; ok is false
// before the first report.
func (s *Sensor) Temperature() (float64, bool) {
	switch v := s.load(KeyTemperature, nil).(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// State summarises the sensor for status surfaces.
func (s *Sensor) State() string {
	switch {
	case s.IsUnavailable():
		return "unavailable"
	case s.IsTampered():
		return "tampered"
	case s.IsOpen():
		return "open"
	case s.IsWet():
		return "wet"
	case s.HasMotion():
		return "motion"
	default:
		return "idle"
	}
}

package device

import "github.com/reedholm/skymirror/internal/backend"

// child is the shared behaviour of devices owned by a base station.
// Commands route through the controlling base's notify endpoint and
// events arrive under a "<type>/<id>" resource.
type child struct {
	Core
	resourceType string
}

func newChild(class string, owner Owner, attrs map[string]any, resourceType string) child {
	return child{
		Core:         newCore(class, owner, attrs),
		resourceType: resourceType,
	}
}

// ResourceID is the routing id events for this device carry.
func (c *child) ResourceID() string { return c.resourceType + "/" + c.id }

// BaseStation finds the controlling base: the parent when known, the only
// base otherwise. Nil when discovery produced no bases at all, which the
// hub treats as a fatal inventory problem.
func (c *child) BaseStation() *Base {
	bases := c.owner.BaseStations()
	for _, b := range bases {
		if b.DeviceID() == c.ParentID() {
			return b
		}
	}
	if len(bases) > 0 {
		c.log().Warn("no parent base station found, using first", "device", c.name, "parent", c.ParentID())
		return bases[0]
	}
	c.log().Error("no base stations known", "device", c.name)
	return nil
}

// notify sends a command for this device through its base.
func (c *child) notify(body map[string]any, wait backend.Wait) any {
	base := c.BaseStation()
	if base == nil {
		return nil
	}
	return c.owner.Backend().Notify(base.DeviceID(), body, wait)
}

// State reports the generic child lifecycle.
func (c *child) State() string {
	if c.IsUnavailable() {
		return "unavailable"
	}
	return "idle"
}

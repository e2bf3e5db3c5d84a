// Package device holds the mirrored device models.
//
// Every registered cloud device becomes one of Base, Camera, Doorbell,
// Light or Sensor, all built on the shared Core. A device is the sole
// reader and writer of its own attribute-store namespace: inbound channel
// events land in HandleEvent, which extracts the allow-listed attribute
// keys into the store and fires change callbacks; commands go out through
// the hub's notify endpoint.
//
// Capability checks are table driven per model-id prefix, so host code can
// ask Has(CapSiren) instead of knowing which hardware generations carry a
// siren.
//
// The camera additionally runs the activity coordinator: three tag sets
// (user requests, local users, remote users) under one mutex/cond pair
// that ref-count overlapping stream demands and decide when the single
// underlying video pipeline actually starts and stops.
package device

// Package hub wires the whole mirror together.
//
// The Controller owns the only device list in the process: it logs in,
// discovers locations and devices, classifies each discovery record into
// a concrete device type, then fans every channel event out to all of
// them. It also runs the periodic refresh cycles (fast housekeeping,
// slow state polls, device and mode reloads) on a cron schedule and
// carries the media library that mirrors the cloud recording index.
//
// Devices reach shared services through the device.Owner interface,
// which the Controller implements.
package hub

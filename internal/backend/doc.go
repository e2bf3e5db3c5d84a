// Package backend owns the authenticated cloud session.
//
// One Client holds the login state, issues synchronous HTTP calls against
// the cloud API, and runs the single long-lived event channel (SSE or
// MQTT, chosen by the server) that delivers asynchronous resource events.
// Request/response style commands that the server acknowledges over the
// event channel are correlated back to their blocked caller through a
// client-generated transaction id.
//
// The HTTP verbs follow a best-effort contract: transport faults and
// non-2xx responses return nil and record a last-error string instead of
// returning an error, so device code can keep running on last known state.
// Connection lifecycle is a small state machine:
//
//	Disconnected -> Authenticating -> Subscribing -> Connected
//	Connected -> Reconnecting (channel loss) -> Authenticating
//	any -> LoggedOut (explicit logout)
//
// Reconnects never replay missed events; the hub re-polls device state
// after each successful reconnect.
package backend

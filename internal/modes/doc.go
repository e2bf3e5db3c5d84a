// Package modes arms and disarms a base station or location.
//
// The cloud has shipped three incompatible arming protocols and all three
// are still live in the field: v1 notifies the hub device directly over
// the event channel, v2 posts an automation record against the account
// and needs babysitting through ambiguous acknowledgements, v3 is
// location-scoped with an optimistic-concurrency revision. The Controller
// hides all three behind Mode/SetMode/UpdateModes; the generation is
// auto-detected per target from the account shape and hardware model,
// with a config override.
//
// Arming failure is never an error to the caller. The controller retries
// per protocol policy, then logs and leaves the last known mode standing.
package modes

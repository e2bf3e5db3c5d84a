// Package background provides the shared job scheduler.
//
// Everything that must not block an event callback runs here: device
// commands queued from callbacks, delayed state resets (doorbell ding
// expiry, snapshot fallbacks), and periodic maintenance. A fixed pool of
// worker goroutines drains a single queue, so job ordering is FIFO per
// queue but jobs may execute concurrently across workers.
//
// Delayed and periodic jobs return an opaque token; Cancel with that token
// prevents any future execution. Cancelling a token that already fired, or
// was never issued, is a no-op. Every job runs under panic recovery so a
// misbehaving callback cannot take down a worker.
package background

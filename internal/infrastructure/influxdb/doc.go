// Package influxdb provides the optional time-series sink.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, non-blocking batched writes and health monitoring. The
// mirror feeds it ambient sensor readings and numeric device telemetry;
// nothing in the process depends on it being up.
//
// Write operations never block. Batch errors are delivered via the
// SetOnError callback; connection and health check errors are returned
// directly.
package influxdb

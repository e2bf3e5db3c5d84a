package backend

import "errors"

var (
	// ErrAuthFailed indicates the login exchange was rejected.
	ErrAuthFailed = errors.New("backend: authentication failed")

	// ErrTFAFailed indicates no two-factor code could be obtained.
	ErrTFAFailed = errors.New("backend: two-factor verification failed")

	// ErrNotConnected indicates the event channel is not established.
	ErrNotConnected = errors.New("backend: not connected")

	// ErrChannelClosed indicates the event channel dropped mid-read.
	ErrChannelClosed = errors.New("backend: event channel closed")
)

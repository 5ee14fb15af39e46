package health

import "errors"

var (
	// ErrNodeNotReachable is returned when a node has no endpoint or is offline.
	ErrNodeNotReachable = errors.New("node not reachable")
	// ErrMonitorFailed is returned when a node status report could not be fetched.
	ErrMonitorFailed = errors.New("node monitoring failed")
)

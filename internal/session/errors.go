package session

import "errors"

var (
	// ErrDiscoveryTimeout means no device matched within the scan window.
	ErrDiscoveryTimeout = errors.New("session: no device found")
	// ErrConnect wraps transport connect failures and timeouts.
	ErrConnect = errors.New("session: connect failed")
	// ErrSubscribe wraps failures while setting up a fresh connection.
	ErrSubscribe = errors.New("session: subscription failed")
	// ErrChunkTimeout means a data chunk did not arrive within the per-chunk bound.
	ErrChunkTimeout = errors.New("session: chunk timeout")
	// ErrLinkLost means the transport reported the connection gone.
	ErrLinkLost = errors.New("session: link lost")
)

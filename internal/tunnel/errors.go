package tunnel

import "errors"

// ErrReadinessTimeout is raised when the local forward never accepts a
// connection within the bounded probe window.
var ErrReadinessTimeout = errors.New("tunnel: readiness probe timed out")

// ErrLocalPortInUse is raised when the configured local_port stays blocked
// after one attribution-based kill-and-retry.
var ErrLocalPortInUse = errors.New("tunnel: local port still in use after retry")

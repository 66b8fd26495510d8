package constants

import "time"

// Shared duration vocabulary used by timeouts, polling and retry checks.
// Keep these centralized to simplify client-wide timing tuning.
const (
	Duration100Milliseconds = 100 * time.Millisecond
	Duration500Milliseconds = 500 * time.Millisecond

	Duration1Second   = 1 * time.Second
	Duration2Seconds  = 2 * time.Second
	Duration5Seconds  = 5 * time.Second
	Duration10Seconds = 10 * time.Second
	Duration30Seconds = 30 * time.Second
)

// Transport-level timeout constants.
const (
	HTTPRequestTimeout        = Duration30Seconds
	WebsocketHandshakeTimeout = Duration10Seconds
	WebsocketWriteTimeout     = Duration5Seconds
	WebsocketCloseTimeout     = Duration2Seconds
)

// Update channel and polling cadence.
const (
	// ReadinessPollInterval is how often the reconnect loop checks whether
	// the current update socket has closed.
	ReadinessPollInterval = Duration500Milliseconds
	// DefaultRetryTimeout is the delay between update socket reconnects.
	DefaultRetryTimeout = Duration5Seconds
	// UpdatePollInterval is the GetUpdate cadence used while waiting for
	// an Update to complete.
	UpdatePollInterval = Duration1Second
)

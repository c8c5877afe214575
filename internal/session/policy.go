package session

import (
	"time"
)

// Decision is what the reconnection policy says to do after a failure.
type Decision int

const (
	Retry Decision = iota
	GiveUp
)

func (d Decision) String() string {
	if d == GiveUp {
		return "give up"
	}
	return "retry"
}

// Policy is a bounded retry budget with a fixed delay between attempts.
type Policy struct {
	// Consecutive failures tolerated before the session fails.
	MaxAttempts int

	// Pause before each reconnection attempt.
	Delay time.Duration
}

const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = 5 * time.Second
)

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultRetryDelay}
}

// Next decides, given the number of consecutive failures so far (including
// the one just observed), whether to reconnect and after how long.
func (p Policy) Next(failures int) (Decision, time.Duration) {
	if failures >= p.MaxAttempts {
		return GiveUp, 0
	}
	return Retry, p.Delay
}

// EndOfStreamPolicy selects what happens when a decoder closes its output
// cleanly between frames.
type EndOfStreamPolicy string

const (
	// Treat the end like any other failure. RTSP sources are expected to be
	// always on, so a closed stream is abnormal.
	EndOfStreamReconnect EndOfStreamPolicy = "reconnect"

	// Treat the end as completion: the session ends without an error.
	EndOfStreamStop EndOfStreamPolicy = "stop"
)

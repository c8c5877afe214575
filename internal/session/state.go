package session

// State of a session's pipeline.
type State int

const (
	Idle State = iota
	Connecting
	Streaming
	Reconnecting
	Failed
	Stopped

	// The source ended and the end-of-stream policy is EndOfStreamStop.
	Completed
)

var stateNames = [...]string{
	Idle:         "idle",
	Connecting:   "connecting",
	Streaming:    "streaming",
	Reconnecting: "reconnecting",
	Failed:       "failed",
	Stopped:      "stopped",
	Completed:    "completed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no pipeline runs in this state.
func (s State) Terminal() bool {
	switch s {
	case Idle, Failed, Stopped, Completed:
		return true
	}
	return false
}

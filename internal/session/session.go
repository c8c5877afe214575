package session

import (
	"sync"

	"github.com/lanikai/rtsprelay/internal/decoder"
)

// Session is the state of one relayed stream. All fields are guarded by mu.
//
// Each call to Start begins a new generation, identified by its quit channel.
// A pipeline goroutine only touches the session while its generation is
// current, so a goroutine still unwinding after Stop cannot clobber a newer
// run or leave a process behind.
type Session struct {
	ID string

	mu       sync.Mutex
	uri      string
	running  bool
	state    State
	failures int
	lastErr  string
	frames   uint64
	proc     Process

	quit chan struct{}
	done chan struct{}
}

// Status is a point-in-time copy of a session's state.
type Status struct {
	ID        string
	URI       string
	State     State
	Running   bool
	Failures  int
	LastError string
	Frames    uint64

	// Pid of the live decoder, or 0.
	Pid int
}

func (s *Session) status() Status {
	st := Status{
		ID:        s.ID,
		URI:       s.uri,
		State:     s.state,
		Running:   s.running,
		Failures:  s.failures,
		LastError: s.lastErr,
		Frames:    s.frames,
	}
	if s.proc != nil {
		st.Pid = s.proc.Pid()
	}
	return st
}

// current reports whether quit identifies the running generation. Callers
// hold s.mu.
func (s *Session) current(quit chan struct{}) bool {
	return s.running && s.quit == quit
}

func (s *Session) setState(quit chan struct{}, state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(quit) {
		return false
	}
	s.state = state
	return true
}

// attach records a freshly spawned process. It fails if the generation was
// stopped while the process was starting, in which case the caller must kill
// the process itself.
func (s *Session) attach(quit chan struct{}, p Process) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(quit) {
		return false
	}
	s.proc = p
	s.state = Streaming
	return true
}

// release detaches and kills p, unless Stop already did.
func (s *Session) release(quit chan struct{}, p Process) decoder.KillResult {
	s.mu.Lock()
	if s.current(quit) && s.proc == p {
		s.proc = nil
	}
	s.mu.Unlock()
	return p.Kill()
}

// publish runs send under the session lock if the generation is current, so
// nothing is published once Stop has returned. A published frame resets the
// failure count; the previous count is returned.
func (s *Session) publish(quit chan struct{}, send func()) (prevFailures int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(quit) {
		return 0, false
	}
	send()
	prevFailures = s.failures
	s.failures = 0
	s.frames++
	return prevFailures, true
}

// fail counts a failure and moves to Reconnecting.
func (s *Session) fail(quit chan struct{}, err error) (failures int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(quit) {
		return 0, false
	}
	s.failures++
	s.lastErr = err.Error()
	s.state = Reconnecting
	return s.failures, true
}

// finish ends the generation from inside the pipeline.
func (s *Session) finish(quit chan struct{}, state State, lastErr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current(quit) {
		return false
	}
	s.running = false
	s.state = state
	if lastErr != "" {
		s.lastErr = lastErr
	}
	s.proc = nil
	return true
}

//////////////////////////////////////////////////////////////////////////////
//
// Session controller
//
// The controller owns every session and runs one pipeline goroutine per
// started session:
//
//	spawn decoder -> { read frame -> encode -> publish -> pause } -> ...
//
// Any spawn, read, encode or end-of-stream failure is counted against the
// session's reconnection budget. When the budget is spent, one error is
// published and the session fails. Stop kills the decoder, which unblocks a
// pending read; the pipeline then notices it was stopped and exits on its own.
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package session

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/rtsprelay/internal/decoder"
	"github.com/lanikai/rtsprelay/internal/logging"
	"github.com/lanikai/rtsprelay/internal/media"
)

var log = logging.DefaultLogger.WithTag("session")

// Process is a running decoder.
type Process interface {
	Stdout() io.Reader
	Kill() decoder.KillResult
	Pid() int
}

// Spawner starts decoders.
type Spawner interface {
	Spawn(uri string, transport decoder.Transport) (Process, error)
}

type supervisorSpawner struct {
	*decoder.Supervisor
}

func (s supervisorSpawner) Spawn(uri string, transport decoder.Transport) (Process, error) {
	p, err := s.Supervisor.Spawn(uri, transport)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FromSupervisor adapts a decoder.Supervisor to a Spawner.
func FromSupervisor(s *decoder.Supervisor) Spawner {
	return supervisorSpawner{s}
}

// Publisher delivers a session's output to its subscribers.
type Publisher interface {
	PublishFrame(streamID string, f media.EncodedFrame)
	PublishError(streamID, message string)
}

// StatusRecorder persists a session's last error and failure count.
type StatusRecorder interface {
	RecordStatus(streamID, lastError string, attempts int) error
}

// Prober reports the real picture size of a source.
type Prober interface {
	Probe(uri string) (width, height int, err error)
}

type Options struct {
	Spawner   Spawner
	Publisher Publisher

	// Returns a new encoder for each pipeline run. Defaults to JPEG at
	// media.DefaultQuality.
	NewEncoder func() media.Encoder

	// Optional.
	Status StatusRecorder
	Prober Prober

	// Fail sessions whose probed size differs from Format, instead of
	// letting the decoder scale.
	StrictGeometry bool

	Format    media.Format
	Transport decoder.Transport
	Policy    Policy

	// Pause after each published frame.
	FrameInterval time.Duration

	EndOfStream EndOfStreamPolicy
}

// Controller starts and stops sessions. It is safe for concurrent use.
type Controller struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
}

var errStopped = errors.New("session stopped")

func NewController(opts Options) *Controller {
	if opts.NewEncoder == nil {
		opts.NewEncoder = func() media.Encoder {
			return media.NewJPEGEncoder(media.DefaultQuality)
		}
	}
	if opts.Transport == "" {
		opts.Transport = decoder.TCP
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy.MaxAttempts = DefaultMaxAttempts
	}
	if opts.EndOfStream == "" {
		opts.EndOfStream = EndOfStreamReconnect
	}
	return &Controller{
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// session returns the registry entry for id, creating it if needed. Entries
// are never removed, so all callers for an id share one lock.
func (c *Controller) session(id string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sessions[id]
	if s == nil {
		s = &Session{ID: id}
		c.sessions[id] = s
	}
	return s
}

func (c *Controller) lookup(id string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[id]
}

// Start relays uri as session id. It does nothing and returns false if the
// session is already running.
func (c *Controller) Start(id, uri string) bool {
	s := c.session(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		log.Debug("Session %s already running", id)
		return false
	}

	// A previous run may still be unwinding after Stop. It kills its own
	// decoder before exiting, so waiting for it keeps a single live process.
	prev := s.done
	quit := make(chan struct{})
	done := make(chan struct{})
	s.uri = uri
	s.running = true
	s.state = Connecting
	s.failures = 0
	s.lastErr = ""
	s.frames = 0
	s.quit = quit
	s.done = done

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		c.run(s, uri, quit)
	}()

	log.Info("Session %s started", id)
	return true
}

// Stop ends session id. It is safe to call at any time, any number of times.
// It kills the decoder synchronously but does not wait for the pipeline
// goroutine to exit.
func (c *Controller) Stop(id string) {
	s := c.lookup(id)
	if s == nil {
		return
	}

	s.mu.Lock()
	wasRunning := s.running
	hadFailures := s.failures > 0
	if s.running {
		close(s.quit)
		s.running = false
		s.state = Stopped
	}
	proc := s.proc
	s.proc = nil
	s.failures = 0
	if proc != nil {
		if r := proc.Kill(); !r.OK() {
			log.Warn("Session %s: decoder pid %d: %v", id, proc.Pid(), r)
		}
	}
	s.mu.Unlock()

	if wasRunning {
		log.Info("Session %s stopped", id)
	}
	if hadFailures {
		c.recordStatus(id, "", 0)
	}
}

// StopAll stops every session.
func (c *Controller) StopAll() {
	for _, st := range c.Sessions() {
		c.Stop(st.ID)
	}
}

// Wait blocks until the pipeline goroutine of the latest run of id exits.
func (c *Controller) Wait(id string) {
	s := c.lookup(id)
	if s == nil {
		return
	}
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Snapshot returns the status of session id.
func (c *Controller) Snapshot(id string) (Status, bool) {
	s := c.lookup(id)
	if s == nil {
		return Status{ID: id}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status(), true
}

// Sessions returns the status of every known session, ordered by id.
func (c *Controller) Sessions() []Status {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, s.status())
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Controller) run(s *Session, uri string, quit chan struct{}) {
	log := log.WithSuffix(s.ID)
	enc := c.opts.NewEncoder()

	for {
		err := c.connectAndStream(s, uri, quit, enc, log)
		if err == errStopped {
			return
		}

		if err == media.ErrEndOfStream && c.opts.EndOfStream == EndOfStreamStop {
			if s.finish(quit, Completed, "") {
				log.Info("Source ended, session complete")
			}
			return
		}

		var gerr *GeometryError
		if errors.As(err, &gerr) {
			c.terminate(s, quit, err, 0, log)
			return
		}

		failures, ok := s.fail(quit, err)
		if !ok {
			return
		}
		c.recordStatus(s.ID, err.Error(), failures)

		decision, delay := c.opts.Policy.Next(failures)
		if decision == GiveUp {
			c.terminate(s, quit, &MaxAttemptsError{Attempts: failures, Last: err}, failures, log)
			return
		}

		log.Warn("%v; reconnecting in %v (attempt %d of %d)", err, delay, failures+1, c.opts.Policy.MaxAttempts)
		if !sleep(quit, delay) {
			return
		}
	}
}

// terminate fails the session and publishes err, exactly once.
func (c *Controller) terminate(s *Session, quit chan struct{}, err error, failures int, log *logging.Logger) {
	if !s.finish(quit, Failed, err.Error()) {
		return
	}
	log.Error("Session failed: %v", err)
	c.recordStatus(s.ID, err.Error(), failures)
	c.opts.Publisher.PublishError(s.ID, err.Error())
}

// connectAndStream runs one decoder until it fails or the session stops.
// It returns errStopped when the session was stopped.
func (c *Controller) connectAndStream(s *Session, uri string, quit chan struct{}, enc media.Encoder, log *logging.Logger) error {
	if !s.setState(quit, Connecting) {
		return errStopped
	}

	if err := c.checkGeometry(uri, log); err != nil {
		return err
	}

	proc, err := c.opts.Spawner.Spawn(uri, c.opts.Transport)
	if err != nil {
		return err
	}
	if !s.attach(quit, proc) {
		proc.Kill()
		return errStopped
	}
	log.Debug("Streaming from decoder pid %d", proc.Pid())

	err = c.stream(s, quit, proc, enc)
	if r := s.release(quit, proc); !r.OK() {
		log.Warn("Decoder pid %d: %v", proc.Pid(), r)
	}
	return err
}

func (c *Controller) stream(s *Session, quit chan struct{}, proc Process, enc media.Encoder) error {
	fr := media.NewFrameReader(proc.Stdout(), c.opts.Format)
	for {
		raw, err := fr.Read()
		if stopped(quit) {
			return errStopped
		}
		if err != nil {
			return err
		}

		ef, err := enc.Encode(raw)
		if err != nil {
			return err
		}

		prev, ok := s.publish(quit, func() {
			c.opts.Publisher.PublishFrame(s.ID, ef)
		})
		if !ok {
			return errStopped
		}
		if prev > 0 {
			c.recordStatus(s.ID, "", 0)
		}

		if !sleep(quit, c.opts.FrameInterval) {
			return errStopped
		}
	}
}

func (c *Controller) checkGeometry(uri string, log *logging.Logger) error {
	if c.opts.Prober == nil {
		return nil
	}
	w, h, err := c.opts.Prober.Probe(uri)
	if err != nil {
		log.Debug("Probe failed, not checking geometry: %v", err)
		return nil
	}
	f := c.opts.Format
	if w == f.Width && h == f.Height {
		return nil
	}
	if !c.opts.StrictGeometry {
		log.Info("Source is %dx%d, decoder scales to %dx%d", w, h, f.Width, f.Height)
		return nil
	}
	return &GeometryError{Want: f, Width: w, Height: h}
}

func (c *Controller) recordStatus(id, lastErr string, attempts int) {
	if c.opts.Status == nil {
		return
	}
	if err := c.opts.Status.RecordStatus(id, lastErr, attempts); err != nil {
		log.Warn("Session %s: recording status: %v", id, err)
	}
}

func stopped(quit <-chan struct{}) bool {
	select {
	case <-quit:
		return true
	default:
		return false
	}
}

// sleep waits for d, returning false if quit closes first.
func sleep(quit <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return !stopped(quit)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-quit:
		return false
	}
}

package session

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lanikai/rtsprelay/internal/decoder"
	"github.com/lanikai/rtsprelay/internal/media"
)

var (
	tiny      = media.Format{Width: 2, Height: 2, PixelFormat: media.RGB24}
	errKilled = errors.New("killed")
	errRefuse = errors.New("connection refused")
)

// An attempt scripts one decoder run: spawn fails with err, or the process
// writes frames and then either closes its output (eof) or hangs until killed.
type attempt struct {
	err    error
	frames int
	eof    bool
}

var (
	refuse  = attempt{err: errRefuse}
	forever = attempt{frames: -1}
)

type fakeProcess struct {
	pid    int
	r      *io.PipeReader
	w      *io.PipeWriter
	killed int32
	onKill func()
}

func (p *fakeProcess) Stdout() io.Reader { return p.r }
func (p *fakeProcess) Pid() int          { return p.pid }

func (p *fakeProcess) Kill() decoder.KillResult {
	if atomic.CompareAndSwapInt32(&p.killed, 0, 1) {
		p.w.CloseWithError(errKilled)
		p.onKill()
	}
	return decoder.KillOK
}

func (p *fakeProcess) isKilled() bool {
	return atomic.LoadInt32(&p.killed) == 1
}

// fakeSpawner plays attempts in order, repeating the last one. It tracks how
// many processes are alive at once.
type fakeSpawner struct {
	// If set, Spawn reports on entered and then blocks until gate closes.
	entered chan struct{}
	gate    chan struct{}

	mu       sync.Mutex
	attempts []attempt
	spawned  []*fakeProcess
	calls    int
	alive    int
	maxAlive int
}

func newSpawner(attempts ...attempt) *fakeSpawner {
	return &fakeSpawner{attempts: attempts}
}

func (s *fakeSpawner) Spawn(uri string, transport decoder.Transport) (Process, error) {
	if s.gate != nil {
		s.entered <- struct{}{}
		<-s.gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.attempts[len(s.attempts)-1]
	if s.calls < len(s.attempts) {
		a = s.attempts[s.calls]
	}
	s.calls++
	if a.err != nil {
		return nil, a.err
	}

	r, w := io.Pipe()
	p := &fakeProcess{pid: 1000 + s.calls, r: r, w: w}
	p.onKill = func() {
		s.mu.Lock()
		s.alive--
		s.mu.Unlock()
	}
	s.spawned = append(s.spawned, p)
	s.alive++
	if s.alive > s.maxAlive {
		s.maxAlive = s.alive
	}

	go func() {
		frame := make([]byte, tiny.FrameSize())
		for i := 0; a.frames < 0 || i < a.frames; i++ {
			if _, err := w.Write(frame); err != nil {
				return
			}
		}
		if a.eof {
			w.Close()
		}
	}()
	return p, nil
}

func (s *fakeSpawner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeSpawner) MaxAlive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxAlive
}

func (s *fakeSpawner) Process(i int) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawned[i]
}

type recorder struct {
	mu     sync.Mutex
	frames map[string]int
	errors map[string][]string
}

func newRecorder() *recorder {
	return &recorder{frames: map[string]int{}, errors: map[string][]string{}}
}

func (r *recorder) PublishFrame(id string, f media.EncodedFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.Data == "" {
		panic("empty frame published")
	}
	r.frames[id]++
}

func (r *recorder) PublishError(id, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[id] = append(r.errors[id], message)
}

func (r *recorder) Frames(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[id]
}

func (r *recorder) Errors(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors[id]...)
}

type statusCall struct {
	lastError string
	attempts  int
}

type statusLog struct {
	mu    sync.Mutex
	calls []statusCall
}

func (l *statusLog) RecordStatus(id, lastError string, attempts int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, statusCall{lastError, attempts})
	return nil
}

func (l *statusLog) Last() statusCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.calls) == 0 {
		return statusCall{attempts: -1}
	}
	return l.calls[len(l.calls)-1]
}

var errCorrupt = errors.New("corrupt frame")

type failingEncoder struct{}

func (failingEncoder) Encode(f media.RawFrame) (media.EncodedFrame, error) {
	return media.EncodedFrame{}, &media.EncodeError{Format: f.Format, Size: len(f.Data), Err: errCorrupt}
}

type fixedProber struct {
	w, h int
	err  error
}

func (p fixedProber) Probe(uri string) (int, int, error) {
	return p.w, p.h, p.err
}

func testOptions(sp Spawner, pub Publisher) Options {
	return Options{
		Spawner:       sp,
		Publisher:     pub,
		Format:        tiny,
		Policy:        Policy{MaxAttempts: 3, Delay: time.Millisecond},
		FrameInterval: time.Millisecond,
	}
}

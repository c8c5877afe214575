//////////////////////////////////////////////////////////////////////////////
//
// Supervision of external decoder processes
//
// A decoder is an ffmpeg process that pulls an RTSP source and writes raw,
// fixed-size frames to its stdout. The supervisor starts it in its own
// process group and kills the whole group on request.
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package decoder

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/lanikai/rtsprelay/internal/logging"
	"github.com/lanikai/rtsprelay/internal/media"
)

var log = logging.DefaultLogger.WithTag("decoder")

// Logs from the decoder's own stderr.
var ffmpegLog = logging.DefaultLogger.WithTag("ffmpeg")

// Transport selects how the decoder pulls RTP from the RTSP source.
type Transport string

const (
	TCP Transport = "tcp"
	UDP Transport = "udp"
)

func ParseTransport(s string) (Transport, error) {
	switch t := Transport(s); t {
	case TCP, UDP:
		return t, nil
	}
	return "", errors.Errorf("unknown RTSP transport %q", s)
}

type Config struct {
	// Path or name of the ffmpeg binary.
	Command string

	// Output geometry. Every frame on stdout is Format.FrameSize() bytes
	// provided the source matches it, or Scale is set.
	Format media.Format

	// Have the decoder scale every picture to Format's width and height.
	Scale bool

	// Extra arguments inserted before "-i" and before the output spec.
	InputArgs  []string
	OutputArgs []string

	// Longest stderr line forwarded to the log.
	MaxLogLine int
}

const DefaultCommand = "ffmpeg"

// Supervisor starts decoder processes.
type Supervisor struct {
	config Config
}

func NewSupervisor(config Config) *Supervisor {
	if config.Command == "" {
		config.Command = DefaultCommand
	}
	if config.MaxLogLine <= 0 {
		config.MaxLogLine = 512
	}
	return &Supervisor{config: config}
}

// Args returns the decoder command line for uri, without the command itself.
func (s *Supervisor) Args(uri string, transport Transport) []string {
	f := s.config.Format
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, "-rtsp_transport", string(transport))
	args = append(args, s.config.InputArgs...)
	args = append(args, "-i", uri, "-an")
	args = append(args, s.config.OutputArgs...)
	args = append(args, "-f", "rawvideo", "-pix_fmt", string(f.PixelFormat))
	if s.config.Scale {
		args = append(args, "-s", strconv.Itoa(f.Width)+"x"+strconv.Itoa(f.Height))
	}
	return append(args, "pipe:1")
}

// Spawn starts a decoder for uri. The returned process must eventually be
// killed; Kill also reaps it.
func (s *Supervisor) Spawn(uri string, transport Transport) (*Process, error) {
	cmd := exec.Command(s.config.Command, s.Args(uri, transport)...)
	setProcessGroup(cmd)

	// A plain pipe rather than cmd.StdoutPipe: Wait must not close the read
	// end while frames are still buffered in it.
	stdout, w, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{URI: uri, Err: err}
	}
	cmd.Stdout = w
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		w.Close()
		return nil, &SpawnError{URI: uri, Err: err}
	}

	err = cmd.Start()
	w.Close()
	if err != nil {
		stdout.Close()
		return nil, &SpawnError{URI: uri, Err: err}
	}

	p := &Process{
		cmd:    cmd,
		stdout: stdout,
		exited: make(chan struct{}),
	}
	p.reader.f = stdout
	log.Debug("Started decoder pid %d for %s", p.Pid(), redact(uri))

	// Drain stderr before Wait, as required by os/exec.
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		forwardLog(stderr, p.Pid(), s.config.MaxLogLine)
	}()
	go func() {
		<-stderrDone
		p.waitErr = cmd.Wait()
		close(p.exited)
		log.Debug("Decoder pid %d exited: %v", p.Pid(), p.waitErr)
	}()

	return p, nil
}

func forwardLog(r io.Reader, pid, maxLine int) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) > maxLine {
			line = line[:maxLine] + "..."
		}
		ffmpegLog.Debug("[%d] %s", pid, line)
	}
}

// KillResult is the outcome of a best-effort kill.
type KillResult struct {
	Err error
}

var KillOK = KillResult{}

func (r KillResult) OK() bool {
	return r.Err == nil
}

func (r KillResult) String() string {
	if r.Err == nil {
		return "ok"
	}
	return fmt.Sprintf("kill failed: %v", r.Err)
}

// eofReader notes when the frame pipe reaches end of file, meaning every
// process that could write to it is gone.
type eofReader struct {
	f   *os.File
	eof atomic.Bool
}

func (r *eofReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if err == io.EOF {
		r.eof.Store(true)
	}
	return n, err
}

// Process is one running decoder.
type Process struct {
	cmd    *exec.Cmd
	stdout *os.File
	reader eofReader

	// Closed once the process has been reaped; waitErr is valid after that.
	exited  chan struct{}
	waitErr error

	killOnce sync.Once
	killed   KillResult

	// Whether Kill sent a signal to the process group.
	signaled bool
}

func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Stdout is the raw frame stream.
func (p *Process) Stdout() io.Reader {
	return &p.reader
}

// Exited is closed when the process has terminated and been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Wait blocks until the process exits and returns its exit status.
func (p *Process) Wait() error {
	<-p.exited
	return p.waitErr
}

// Kill terminates the decoder and everything in its process group, then
// releases the frame pipe, which unblocks any pending read. It is idempotent
// and never fails because the process already exited.
func (p *Process) Kill() KillResult {
	p.killOnce.Do(func() {
		defer p.stdout.Close()
		if p.gone() {
			p.killed = KillOK
			return
		}
		p.signaled = true
		if err := killProcessGroup(p.cmd.Process); err != nil {
			p.killed = KillResult{Err: err}
			return
		}
		p.killed = KillOK
	})
	return p.killed
}

// gone reports whether nothing is left to kill: the leader was reaped and
// the frame pipe hit EOF, so no member of the group still holds it. A group
// whose leader exited while members keep the pipe open still exists, and its
// id cannot be reused until they exit, so signaling it is safe.
func (p *Process) gone() bool {
	select {
	case <-p.exited:
		return p.reader.eof.Load()
	default:
		return false
	}
}

// redact hides credentials embedded in an RTSP URL.
func redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.User == nil {
		return uri
	}
	return u.Redacted()
}

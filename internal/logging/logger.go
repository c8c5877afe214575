package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

const timestampFormat = "2006-01-02 15:04:05.000"

type Logger struct {
	// Tag used to filter and classify log messages.
	Tag string

	// Tag whose directives decide the level, if not Tag itself. Set for
	// loggers derived with WithSuffix.
	levelTag string

	// Level pinned with SetLevel, if any. Otherwise the level is looked up
	// by tag on every call, so LOGLEVEL directives and flags apply at any
	// time.
	pinned atomic.Value

	out io.Writer

	// Mutex to prevent messages from different goroutines from interleaving.
	// Shared by all derived loggers.
	mu *sync.Mutex
}

// Write to stderr by default.
var DefaultLogger = &Logger{out: os.Stderr, mu: new(sync.Mutex)}

// Override the destination for this logger and loggers derived from it later.
func (log *Logger) SetDestination(out io.Writer) {
	log.mu.Lock()
	log.out = out
	log.mu.Unlock()
}

// Pin this logger to a fixed level, ignoring tag directives. Safe to call
// while other goroutines log.
func (log *Logger) SetLevel(level Level) {
	log.pinned.Store(level)
}

// Level returns the level at which this logger currently logs.
func (log *Logger) Level() Level {
	if level, ok := log.pinned.Load().(Level); ok {
		return level
	}
	return determineLevel(log.lookupTag())
}

func (log *Logger) lookupTag() string {
	if log.levelTag != "" {
		return log.levelTag
	}
	return log.Tag
}

// Derive a new logger with the given tag.
func (log *Logger) WithTag(tag string) *Logger {
	return &Logger{Tag: tag, out: log.out, mu: log.mu}
}

// Derive a new logger whose tag is extended with a suffix, e.g. a session id.
// Its level follows the parent's tag, or the parent's pinned level.
func (log *Logger) WithSuffix(suffix string) *Logger {
	l := &Logger{
		Tag:      log.Tag + ":" + suffix,
		levelTag: log.lookupTag(),
		out:      log.out,
		mu:       log.mu,
	}
	if level, ok := log.pinned.Load().(Level); ok {
		l.pinned.Store(level)
	}
	return l
}

// Wrapper for []byte that implements io.Writer. Simpler and cheaper than
// bytes.Buffer.
type buffer []byte

func (b *buffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

func (b *buffer) writeByte(c byte) {
	*b = append(*b, c)
}

// A global buffer pool, shared across all loggers.
var bufPool = sync.Pool{
	New: func() interface{} {
		return make(buffer, 0, 256)
	},
}

// Log a message at the given level. Include the file and line number from
// 'calldepth' steps up the call stack.
func (log *Logger) Log(level Level, calldepth int, format string, a ...interface{}) {
	if level > log.Level() {
		return
	}

	buf := bufPool.Get().(buffer)
	defer func() { bufPool.Put(buf[:0]) }()

	buf = time.Now().AppendFormat(buf, timestampFormat)

	prefix := fmt.Sprintf("%c/%s", level.letter(), log.Tag)
	fmt.Fprintf(&buf, " %s", level.color().Sprint(prefix))

	_, file, line, ok := runtime.Caller(calldepth + 1)
	if !ok {
		file = "?"
	}
	fmt.Fprintf(&buf, "[%s:%d] ", filepath.Base(file), line)

	fmt.Fprintf(&buf, format, a...)

	if n := len(buf); n == 0 || buf[n-1] != '\n' {
		buf.writeByte('\n')
	}

	log.mu.Lock()
	_, err := log.out.Write(buf)
	log.mu.Unlock()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: write to %v failed: %v\n", log.out, err)
	}
}

func (log *Logger) Error(format string, a ...interface{}) {
	log.Log(Error, 1, format, a...)
}

func (log *Logger) Warn(format string, a ...interface{}) {
	log.Log(Warn, 1, format, a...)
}

func (log *Logger) Info(format string, a ...interface{}) {
	log.Log(Info, 1, format, a...)
}

func (log *Logger) Debug(format string, a ...interface{}) {
	log.Log(Debug, 1, format, a...)
}

func (log *Logger) Trace(n int, format string, a ...interface{}) {
	log.Log(Level(n), 1, format, a...)
}

// Fatalf logs at error level and exits. Only for use in main packages.
func (log *Logger) Fatalf(format string, a ...interface{}) {
	log.Log(Error, 1, format, a...)
	os.Exit(1)
}

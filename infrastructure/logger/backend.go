package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jrick/logrotate/rotator"
	"github.com/pkg/errors"
)

// defaultFlags is read from the LOGFLAGS environment variable. It is a
// package-level variable rather than an init() assignment because other
// package-level variables are initialized from it.
var defaultFlags = flagsFromEnv()

// Flags that modify a Backend's output.
const (
	// LogFlagLongFile includes the full path and line number of the
	// logging callsite, e.g. /a/b/c/main.go:123.
	LogFlagLongFile uint32 = 1 << iota

	// LogFlagShortFile includes the file name and line number of the
	// logging callsite, e.g. main.go:123. Takes precedence over LogFlagLongFile.
	LogFlagShortFile
)

func flagsFromEnv() (flags uint32) {
	for _, f := range strings.Split(os.Getenv("LOGFLAGS"), ",") {
		switch strings.TrimSpace(f) {
		case "longfile":
			flags |= LogFlagLongFile
		case "shortfile":
			flags |= LogFlagShortFile
		}
	}
	return flags
}

const logEntriesBuffer = 256

const (
	defaultThresholdKB = 50 * 1000 // 50 MB per file before rolling
	defaultMaxRolls    = 8
)

type logEntry struct {
	line  []byte
	level Level
}

type logWriter interface {
	io.WriteCloser
	MinLevel() Level
}

type leveledWriter struct {
	io.WriteCloser
	minLevel Level
}

func (w leveledWriter) MinLevel() Level {
	return w.minLevel
}

// nopCloser lets process-owned streams such as os.Stdout be added as writers
// without the backend closing them on shutdown.
type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Backend is the shared sink of every subsystem Logger. Entries are queued
// on a channel and written by a single goroutine, so writers never see
// interleaved lines.
type Backend struct {
	flags     uint32
	isRunning uint32
	writers   []logWriter
	entries   chan logEntry
	done      sync.WaitGroup
	closeOnce sync.Once
}

// NewBackend creates a backend using the flags from LOGFLAGS.
func NewBackend() *Backend {
	return NewBackendWithFlags(defaultFlags)
}

// NewBackendWithFlags creates a backend using the given flags instead of the
// ones from LOGFLAGS.
func NewBackendWithFlags(flags uint32) *Backend {
	return &Backend{flags: flags, entries: make(chan logEntry, logEntriesBuffer)}
}

// AddLogFile adds a rotated log file receiving entries at logLevel and above.
func (b *Backend) AddLogFile(logFile string, logLevel Level) error {
	return b.AddLogFileWithCustomRotator(logFile, logLevel, defaultThresholdKB, defaultMaxRolls)
}

// AddLogFileWithCustomRotator is AddLogFile with explicit rotation settings.
// The file and its directory are created if missing.
func (b *Backend) AddLogFileWithCustomRotator(logFile string, logLevel Level, thresholdKB int64, maxRolls int) error {
	if b.IsRunning() {
		return errors.New("cannot add a log file to a running backend")
	}
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		err := os.MkdirAll(logDir, 0700)
		if err != nil {
			return errors.Wrapf(err, "failed to create log directory %s", logDir)
		}
	}
	r, err := rotator.New(logFile, thresholdKB, false, maxRolls)
	if err != nil {
		return errors.Wrapf(err, "failed to create file rotator for %s", logFile)
	}
	b.writers = append(b.writers, leveledWriter{WriteCloser: r, minLevel: logLevel})
	return nil
}

// AddLogWriter adds an arbitrary writer receiving entries at logLevel and above.
func (b *Backend) AddLogWriter(writer io.Writer, logLevel Level) error {
	if b.IsRunning() {
		return errors.New("cannot add a log writer to a running backend")
	}
	writeCloser, ok := writer.(io.WriteCloser)
	if !ok || writer == os.Stdout || writer == os.Stderr {
		writeCloser = nopCloser{writer}
	}
	b.writers = append(b.writers, leveledWriter{WriteCloser: writeCloser, minLevel: logLevel})
	return nil
}

// Run starts the writing goroutine. It may only be called once.
func (b *Backend) Run() error {
	if !atomic.CompareAndSwapUint32(&b.isRunning, 0, 1) {
		return errors.New("the logger backend is already running")
	}
	b.done.Add(1)
	go func() {
		defer b.done.Done()
		defer func() {
			if err := recover(); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "Fatal error in logger.Backend goroutine: %+v\n", err)
				_, _ = fmt.Fprintf(os.Stderr, "Goroutine stacktrace: %s\n", debug.Stack())
			}
		}()
		for entry := range b.entries {
			for _, writer := range b.writers {
				if entry.level >= writer.MinLevel() {
					_, _ = writer.Write(entry.line)
				}
			}
		}
	}()
	return nil
}

// IsRunning reports whether Run was called and Close was not.
func (b *Backend) IsRunning() bool {
	return atomic.LoadUint32(&b.isRunning) != 0
}

// Close flushes the queued entries and closes every writer.
func (b *Backend) Close() {
	b.closeOnce.Do(func() {
		close(b.entries)
		b.done.Wait()
		atomic.StoreUint32(&b.isRunning, 0)
		for _, writer := range b.writers {
			_ = writer.Close()
		}
	})
}

// write drops entries while the backend is not running so that packages can
// log freely from tests and tools that never initialize logging.
func (b *Backend) write(level Level, line []byte) {
	if !b.IsRunning() {
		return
	}
	defer func() {
		// The entries channel may be closed concurrently during shutdown.
		_ = recover()
	}()
	b.entries <- logEntry{line: line, level: level}
}

// Logger returns a new logger for the given subsystem tag. Loggers start at
// LevelInfo.
func (b *Backend) Logger(subsystemTag string) *Logger {
	return &Logger{level: uint32(LevelInfo), tag: subsystemTag, backend: b}
}

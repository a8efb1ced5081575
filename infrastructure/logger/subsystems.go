package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// BackendLog is the backend every registered subsystem writes to.
var BackendLog = NewBackend()

var (
	subsystemLoggers     = make(map[string]*Logger)
	subsystemLoggersLock sync.RWMutex
)

// RegisterSubSystem returns the logger of the given subsystem tag, creating
// it on first use.
func RegisterSubSystem(subsystem string) *Logger {
	subsystemLoggersLock.Lock()
	defer subsystemLoggersLock.Unlock()

	logger, exists := subsystemLoggers[subsystem]
	if !exists {
		logger = BackendLog.Logger(subsystem)
		subsystemLoggers[subsystem] = logger
	}
	return logger
}

// Get returns the logger of a registered subsystem.
func Get(subsystem string) (logger *Logger, ok bool) {
	subsystemLoggersLock.RLock()
	defer subsystemLoggersLock.RUnlock()

	logger, ok = subsystemLoggers[subsystem]
	return logger, ok
}

// InitLog attaches the rotated log files to BackendLog and starts it.
// errLogFile receives only warnings and above.
func InitLog(logFile, errLogFile string) {
	err := BackendLog.AddLogFile(logFile, LevelTrace)
	if err != nil {
		stderrLogger("Error adding log file %s as log rotator for level %s: %s", logFile, LevelTrace, err)
		os.Exit(1)
	}
	err = BackendLog.AddLogFile(errLogFile, LevelWarn)
	if err != nil {
		stderrLogger("Error adding log file %s as log rotator for level %s: %s", errLogFile, LevelWarn, err)
		os.Exit(1)
	}
	InitLogStdout(LevelInfo)
}

// InitLogStdout adds standard output at the given level and starts
// BackendLog. Tools and tests use it directly.
func InitLogStdout(logLevel Level) {
	InitLogWriter(os.Stdout, logLevel)
}

// InitLogWriter adds the writer at the given level and starts BackendLog if
// it is not running yet.
func InitLogWriter(writer io.Writer, logLevel Level) {
	if BackendLog.IsRunning() {
		return
	}
	err := BackendLog.AddLogWriter(writer, logLevel)
	if err != nil {
		stderrLogger("Error adding log writer: %s", err)
		os.Exit(1)
	}
	err = BackendLog.Run()
	if err != nil {
		stderrLogger("Error starting the logger: %s", err)
		os.Exit(1)
	}
}

// SetLogLevel sets the level of one subsystem. Unknown subsystems are ignored.
func SetLogLevel(subsystemID string, logLevel string) {
	logger, ok := Get(subsystemID)
	if !ok {
		return
	}
	level, _ := LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets every registered subsystem to the given level.
func SetLogLevels(logLevel string) {
	for _, subsystemID := range SupportedSubsystems() {
		SetLogLevel(subsystemID, logLevel)
	}
}

// SupportedSubsystems returns the sorted tags of all registered subsystems.
func SupportedSubsystems() []string {
	subsystemLoggersLock.RLock()
	defer subsystemLoggersLock.RUnlock()

	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsystem := range subsystemLoggers {
		subsystems = append(subsystems, subsystem)
	}
	sort.Strings(subsystems)
	return subsystems
}

// ParseAndSetDebugLevels accepts either a single level applied to every
// subsystem or a comma separated list of subsystem=level pairs.
func ParseAndSetDebugLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if _, ok := LevelFromString(debugLevel); !ok {
			return errors.Errorf("the specified debug level [%s] is invalid", debugLevel)
		}
		SetLogLevels(debugLevel)
		return nil
	}

	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			return errors.Errorf("the specified debug level contains an invalid subsystem/level pair [%s]",
				logLevelPair)
		}
		fields := strings.SplitN(logLevelPair, "=", 2)
		subsystemID, logLevel := strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1])

		if _, exists := Get(subsystemID); !exists {
			return errors.Errorf("the specified subsystem [%s] is invalid -- supported subsystems %s",
				subsystemID, SupportedSubsystems())
		}
		if _, ok := LevelFromString(logLevel); !ok {
			return errors.Errorf("the specified debug level [%s] is invalid", logLevel)
		}
		SetLogLevel(subsystemID, logLevel)
	}
	return nil
}

// LogClosure defers the formatting of expensive debug output until the
// logger actually prints it.
type LogClosure func() string

func (c LogClosure) String() string {
	return c()
}

// NewLogClosure wraps c so it can be passed as a %s argument.
func NewLogClosure(c func() string) LogClosure {
	return c
}

// ensure LogClosure satisfies fmt.Stringer
var _ fmt.Stringer = LogClosure(nil)

package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/go-socks/socks"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/infrastructure/logger"
	"github.com/voltgrid/relayd/version"
)

const (
	defaultConfigFilename = "relayd.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "relayd.log"
	defaultErrLogFilename = "relayd_err.log"
	defaultDefaultPolicy  = "forward"
	defaultListener       = ":8180"

	// DefaultRequestTimeout is the timeout of requests whose frames carry none.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultConnectTimeout is the timeout when dialing the uplink.
	DefaultConnectTimeout = 30 * time.Second

	defaultJournalRetention = 7 * 24 * time.Hour
)

var (
	// DefaultAppDir is the default home directory for relayd.
	DefaultAppDir = appDataDir("relayd")

	defaultConfigFile = filepath.Join(DefaultAppDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(DefaultAppDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(DefaultAppDir, defaultLogDirname)
)

// Flags defines the configuration options for relayd.
//
// See LoadConfig for details on the configuration load process.
type Flags struct {
	ShowVersion      bool          `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile       string        `short:"C" long:"configfile" description:"Path to configuration file"`
	AppDir           string        `short:"b" long:"appdir" description:"Directory to store data"`
	LogDir           string        `long:"logdir" description:"Directory to log output."`
	DebugLevel       string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	DefaultPolicy    string        `long:"defaultpolicy" description:"What to do with requests no filter decided on {forward, reject, drop}"`
	PolicyFile       string        `long:"policyfile" description:"TOML file with the signing and verification rules"`
	RequestTimeout   time.Duration `long:"requesttimeout" description:"How long to wait for the response to a forwarded request. Valid time units are {ms, s, m, h}"`
	Listeners        []string      `long:"listen" description:"Add an interface/port to listen for websocket connections (default :8180)"`
	GRPCListeners    []string      `long:"grpclisten" description:"Add an interface/port to listen for gRPC connections"`
	DisableListen    bool          `long:"nolisten" description:"Do not accept connections from other nodes"`
	DisableLoopCheck bool          `long:"noloopcheck" description:"Forward requests that already passed this node"`
	NoJournal        bool          `long:"nojournal" description:"Do not record forwarding decisions"`
	JournalRetention time.Duration `long:"journalretention" description:"How long recorded decisions are kept"`
	Proxy            string        `long:"proxy" description:"Connect to the uplink via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser        string        `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass        string        `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	Profile          string        `long:"profile" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65536"`
	NodeFlags
}

// Config defines the configuration options for relayd.
//
// See LoadConfig for details on the configuration load process.
type Config struct {
	*Flags
	Dial func(network, address string, timeout time.Duration) (net.Conn, error)
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(DefaultAppDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// appDataDir returns the per user directory of the application: $HOME/.name
// on POSIX systems and %LOCALAPPDATA%\Name on Windows.
func appDataDir(name string) string {
	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		return filepath.Join(localAppData, strings.Title(name))
	}
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "." + name
	}
	return filepath.Join(homeDir, "."+name)
}

func defaultFlags() *Flags {
	return &Flags{
		ConfigFile:       defaultConfigFile,
		AppDir:           defaultDataDir,
		LogDir:           defaultLogDir,
		DebugLevel:       defaultLogLevel,
		DefaultPolicy:    defaultDefaultPolicy,
		RequestTimeout:   DefaultRequestTimeout,
		JournalRetention: defaultJournalRetention,
		NodeFlags: NodeFlags{
			UplinkNodeID: "CSMS",
		},
	}
}

// DefaultConfig returns the configuration LoadConfig starts from.
func DefaultConfig() *Config {
	return &Config{Flags: defaultFlags(), Dial: net.DialTimeout}
}

// LoadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in relayd functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options. Command line options always take
// precedence.
func LoadConfig(args []string) (*Config, []string, error) {
	cfgFlags := defaultFlags()

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified. Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := *cfgFlags
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version.Version())
		os.Exit(0)
	}

	parser := flags.NewParser(cfgFlags, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %s\n", err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		var flagsErr *flags.Error
		if !errors.As(err, &flagsErr) || flagsErr.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, nil, err
	}

	cfg := &Config{Flags: cfgFlags, Dial: net.DialTimeout}
	err = cfg.validate(parser)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", logger.SupportedSubsystems())
		os.Exit(0)
	}

	return cfg, remainingArgs, nil
}

func (cfg *Config) validate(parser *flags.Parser) error {
	funcName := "loadConfig"

	err := cfg.ResolveNode(parser)
	if err != nil {
		return err
	}

	cfg.AppDir = cleanAndExpandPath(cfg.AppDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	if cfg.PolicyFile != "" {
		cfg.PolicyFile = cleanAndExpandPath(cfg.PolicyFile)
	}

	switch strings.ToLower(cfg.DefaultPolicy) {
	case "forward", "reject", "drop":
		cfg.DefaultPolicy = strings.ToLower(cfg.DefaultPolicy)
	default:
		return errors.Errorf("%s: The default policy must be one of forward, reject or drop -- parsed [%s]",
			funcName, cfg.DefaultPolicy)
	}

	if cfg.RequestTimeout <= 0 {
		return errors.Errorf("%s: The requesttimeout option must be positive -- parsed [%s]",
			funcName, cfg.RequestTimeout)
	}
	if !cfg.NoJournal && cfg.JournalRetention < time.Minute {
		return errors.Errorf("%s: The journalretention option may not be less than 1m -- parsed [%s]",
			funcName, cfg.JournalRetention)
	}

	if cfg.Profile != "" {
		profilePort, err := strconv.Atoi(cfg.Profile)
		if err != nil || profilePort < 1024 || profilePort > 65535 {
			return errors.Errorf("%s: The profile port must be between 1024 and 65535", funcName)
		}
	}

	if cfg.DisableListen {
		cfg.Listeners = nil
		cfg.GRPCListeners = nil
	} else if len(cfg.Listeners) == 0 && len(cfg.GRPCListeners) == 0 {
		cfg.Listeners = []string{defaultListener}
	}
	for _, listener := range append(append([]string{}, cfg.Listeners...), cfg.GRPCListeners...) {
		_, _, err := net.SplitHostPort(listener)
		if err != nil {
			return errors.Errorf("%s: Invalid listen address %q: %s", funcName, listener, err)
		}
	}

	if cfg.Proxy != "" {
		_, _, err := net.SplitHostPort(cfg.Proxy)
		if err != nil {
			return errors.Errorf("%s: Proxy address '%s' is invalid: %s", funcName, cfg.Proxy, err)
		}
		if cfg.UplinkTransport() == TransportGRPC {
			return errors.Errorf("%s: --proxy is only supported for websocket uplinks", funcName)
		}

		proxy := &socks.Proxy{
			Addr:     cfg.Proxy,
			Username: cfg.ProxyUser,
			Password: cfg.ProxyPass,
		}
		cfg.Dial = proxy.DialTimeout
	}

	return nil
}

// InitLog initializes log rotation in the configured log directory and
// applies the debug levels. After it returns the subsystem loggers write to
// the log files.
func (cfg *Config) InitLog() error {
	logger.InitLog(filepath.Join(cfg.LogDir, defaultLogFilename), filepath.Join(cfg.LogDir, defaultErrLogFilename))
	err := logger.ParseAndSetDebugLevels(cfg.DebugLevel)
	if err != nil {
		return errors.Wrap(err, "loadConfig")
	}
	return nil
}

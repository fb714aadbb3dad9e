// Copyright (c) 2025-2026 The Kolibri developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/Manuelgonzalesabc/kolibri/internal/version"
	"github.com/Manuelgonzalesabc/kolibri/sampleconfig"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "kolibrid.conf"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "kolibrid.log"
	defaultDebugLevel     = "info"
	defaultDeviceName     = "kolibri"
	defaultProbeTimeout   = 5 * time.Second
	defaultAliveInterval  = 30 * time.Second
	defaultWorkers        = 4
)

var (
	defaultHomeDir    = appDataDir("kolibrid")
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config defines the configuration options for kolibrid.
//
// See loadConfig for details on the configuration load process.
type config struct {
	AliveInterval time.Duration `long:"aliveinterval" description:"Interval between repeated presence announcements on the local network"`
	BaseURL       string        `long:"baseurl" description:"Base URL peers should use to reach this device (required unless --nobroadcast)"`
	ConfigFile    string        `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir       string        `short:"b" long:"datadir" description:"Directory to store data"`
	DebugLevel    string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	DeviceName    string        `long:"devicename" description:"Human-readable name to advertise for this device"`
	HomeDir       string        `short:"A" long:"appdata" description:"Path to application home directory"`
	Listen        string        `long:"listen" description:"Serve the device info endpoint for peers on the given address (eg. :8080)"`
	LogDir        string        `long:"logdir" description:"Directory to log output"`
	CPUProfile    string        `long:"cpuprofile" description:"Write CPU profile to the specified file"`
	MemProfile    string        `long:"memprofile" description:"Write mem profile to the specified file"`
	NoBroadcast   bool          `long:"nobroadcast" description:"Disable local-network advertisement and peer discovery"`
	NoFileLogging bool          `long:"nofilelogging" description:"Disable file logging"`
	Profile       string        `long:"profile" description:"Enable HTTP profiling on given [addr:]port -- NOTE port must be between 1024 and 65535"`
	ProbeTimeout  time.Duration `long:"probetimeout" description:"Maximum duration a single peer probe may take"`
	Proxy         string        `long:"proxy" description:"Route peer probes through a SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyPass     string        `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	ProxyUser     string        `long:"proxyuser" description:"Username for proxy server"`
	ShowVersion   bool          `short:"V" long:"version" description:"Display version information and exit"`
	StaticPeers   []string      `long:"peer" description:"Base URL of a static peer to keep probing (may be specified multiple times)"`
	SubsetOfUsers bool          `long:"subsetofusers" description:"Declare this device as holding data for a restricted subset of users only"`
	Workers       int           `long:"workers" description:"Number of concurrent job workers"`
}

// errSuppressUsage signifies that an error that happened while loading the
// configuration should not show the usage message.
type errSuppressUsage string

// Error implements the error interface.
func (e errSuppressUsage) Error() string {
	return string(e)
}

// appDataDir returns an operating system specific data directory for the
// provided application name.  On Windows the local application data
// directory is used, on macOS the application support directory, and a
// dotted directory in the user's home directory everywhere else.
func appDataDir(appName string) string {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		// Fall back to the current directory when the environment does
		// not provide a home directory.
		return "."
	}

	// The convention on Windows and macOS is to capitalize the first letter
	// of the application name.
	capitalized := strings.ToUpper(appName[:1]) + appName[1:]

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("LOCALAPPDATA"); appData != "" {
			return filepath.Join(appData, capitalized)
		}
		return filepath.Join(homeDir, capitalized)

	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support",
			capitalized)

	default:
		return filepath.Join(homeDir, "."+appName)
	}
}

// cleanAndExpandPath expands environment variables and leading ~ in the passed
// path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Nothing to do when no path is given.
	if path == "" {
		return path
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but the variables can still be expanded via POSIX-style
	// $VARIABLE.
	path = os.ExpandEnv(path)

	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path)
	}

	// Expand an initial ~ to the current user's home directory.
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		homeDir = filepath.Dir(defaultHomeDir)
	}
	return filepath.Join(homeDir, path[1:])
}

// validateBaseURL ensures the provided string parses as an absolute URL
// suitable for peers to probe.
func validateBaseURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", rawURL)
	}
	return nil
}

// createDefaultConfigFile copies the sample config to the given destination
// path.
func createDefaultConfigFile(destPath string) error {
	// Create the destination directory if it does not exist.
	err := os.MkdirAll(filepath.Dir(destPath), 0700)
	if err != nil {
		return err
	}

	return os.WriteFile(destPath, []byte(sampleconfig.Kolibrid()), 0644)
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in kolibrid functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take precedence.
//
// The loadConfig function also initializes logging and configures it
// accordingly.
func loadConfig(appName string) (*config, []string, error) {
	// Default config.
	cfg := config{
		AliveInterval: defaultAliveInterval,
		ConfigFile:    defaultConfigFile,
		DataDir:       defaultDataDir,
		DebugLevel:    defaultDebugLevel,
		DeviceName:    defaultDeviceName,
		HomeDir:       defaultHomeDir,
		LogDir:        defaultLogDir,
		ProbeTimeout:  defaultProbeTimeout,
		Workers:       defaultWorkers,
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		cfg.DeviceName = hostname
	}

	// Pre-parse the command line options to see if an alternative config file
	// or the version flag was specified.  Any errors aside from the help
	// message error can be ignored here since they will be caught by the final
	// parse below.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
	}

	// Show the version and exit if the version flag was specified.
	if preCfg.ShowVersion {
		fmt.Printf("%s version %s (Go version %s %s/%s)\n", appName,
			version.String(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	// Update the home directory for kolibrid if specified.  Since the home
	// directory is updated, other variables need to be updated to reflect the
	// new location.
	if preCfg.HomeDir != defaultHomeDir {
		homeDir := cleanAndExpandPath(preCfg.HomeDir)

		if preCfg.ConfigFile == defaultConfigFile {
			preCfg.ConfigFile = filepath.Join(homeDir, defaultConfigFilename)
		}
		if preCfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(homeDir, defaultDataDirname)
		}
		if preCfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(homeDir, defaultLogDirname)
		}
	}

	// Create a default config file when one does not exist and the user did
	// not specify an override.
	configFilePath := cleanAndExpandPath(preCfg.ConfigFile)
	if preCfg.ConfigFile == defaultConfigFile {
		if _, err := os.Stat(configFilePath); os.IsNotExist(err) {
			err := createDefaultConfigFile(configFilePath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating a default config "+
					"file: %v\n", err)
			}
		}
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(configFilePath)
	if err != nil {
		var e *os.PathError
		if !errors.As(err, &e) {
			return nil, nil, fmt.Errorf("error parsing config file: %w", err)
		}
		// A missing config file at the default location is fine, but note
		// it for a warning once logging is configured.
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
		return nil, nil, err
	}

	// Create the home directory if it doesn't already exist.
	funcName := "loadConfig"
	err = os.MkdirAll(cfg.HomeDir, 0700)
	if err != nil {
		str := "%s: failed to create home directory: %v"
		return nil, nil, errSuppressUsage(fmt.Sprintf(str, funcName, err))
	}

	// Expand and create the data and log directories.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	for _, dir := range []string{cfg.DataDir, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			str := "%s: failed to create directory %s: %v"
			return nil, nil, errSuppressUsage(fmt.Sprintf(str, funcName, dir,
				err))
		}
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After the log rotation has been initialized,
	// the logger variables may be used.
	if !cfg.NoFileLogging {
		initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		str := "%s: %v"
		return nil, nil, fmt.Errorf(str, funcName, err)
	}

	// The probe timeout must be positive.
	if cfg.ProbeTimeout <= 0 {
		str := "%s: invalid probe timeout %v"
		return nil, nil, errSuppressUsage(fmt.Sprintf(str, funcName,
			cfg.ProbeTimeout))
	}

	// The worker pool must have at least one worker.
	if cfg.Workers < 1 {
		str := "%s: workers must be at least 1"
		return nil, nil, errSuppressUsage(fmt.Sprintf(str, funcName))
	}

	// The advertised base URL is required unless broadcasting is disabled,
	// since peers could otherwise never reach this device.
	if cfg.NoBroadcast {
		if cfg.BaseURL != "" {
			str := "%s: --baseurl has no effect with --nobroadcast"
			return nil, nil, errSuppressUsage(fmt.Sprintf(str, funcName))
		}
	} else {
		if cfg.BaseURL == "" {
			str := "%s: --baseurl is required unless --nobroadcast is set"
			return nil, nil, errSuppressUsage(fmt.Sprintf(str, funcName))
		}
		if err := validateBaseURL(cfg.BaseURL); err != nil {
			str := "%s: invalid base URL: %v"
			return nil, nil, errSuppressUsage(fmt.Sprintf(str, funcName, err))
		}
	}

	// Every configured static peer must be an absolute URL, and duplicates
	// are collapsed.
	seenPeers := make(map[string]struct{}, len(cfg.StaticPeers))
	uniquePeers := cfg.StaticPeers[:0]
	for _, peer := range cfg.StaticPeers {
		if err := validateBaseURL(peer); err != nil {
			str := "%s: invalid peer URL: %v"
			return nil, nil, errSuppressUsage(fmt.Sprintf(str, funcName, err))
		}
		normalized := strings.TrimRight(peer, "/")
		if _, ok := seenPeers[normalized]; ok {
			continue
		}
		seenPeers[normalized] = struct{}{}
		uniquePeers = append(uniquePeers, normalized)
	}
	cfg.StaticPeers = uniquePeers
	sort.Strings(cfg.StaticPeers)

	// Warn about missing config file only after all other configuration is
	// done.  This prevents the warning on help messages and invalid options.
	if configFileError != nil {
		kolibridLog.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}

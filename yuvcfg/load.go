package yuvcfg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/akitamiabtc/yuvln"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btclog"
	"github.com/jessevdk/go-flags"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/lncfg"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/verrpc"
	"github.com/lightningnetwork/lnd/signal"
)

const defaultLndMacaroon = "admin.macaroon"

var (
	// defaultLndDir is where lnd keeps its tls certificate and macaroons.
	defaultLndDir = btcutil.AppDataDir("lnd", false)

	// defaultLndMacaroonPath is the admin macaroon of lnd on the default
	// network.
	defaultLndMacaroonPath = lndMacaroonPath(defaultNetwork)

	// minimalCompatibleVersion is the oldest lnd we can run against.
	// Custom peer messages need 0.14, the sub-servers need their build
	// tags.
	minimalCompatibleVersion = &verrpc.Version{
		AppMajor: 0,
		AppMinor: 14,
		AppPatch: 0,
		BuildTags: []string{
			"signrpc", "walletrpc", "chainrpc", "invoicesrpc",
		},
	}
)

// lndMacaroonPath returns the admin macaroon of lnd for a network.
func lndMacaroonPath(network string) string {
	return filepath.Join(
		defaultLndDir, "data", "chain", "bitcoin", network,
		defaultLndMacaroon,
	)
}

// usageError marks a configuration error caused by bad flags. The caller
// prints the usage hint for it.
type usageError struct {
	err error
}

// Error returns the error string.
//
// NOTE: This is part of the error interface.
func (u *usageError) Error() string {
	return u.err.Error()
}

// Unwrap returns the wrapped error.
func (u *usageError) Unwrap() error {
	return u.err
}

// LoadConfig builds the configuration from the defaults, the config file and
// the command line, where later sources win. The result is validated and the
// loggers are set up before it is returned.
func LoadConfig(interceptor signal.Interceptor) (*Config, btclog.Logger, error) {
	// The first pass only looks for --version and the config file
	// location.
	preCfg := DefaultConfig()
	if _, err := flags.Parse(&preCfg); err != nil {
		return nil, nil, err
	}

	appName := strings.TrimSuffix(
		filepath.Base(os.Args[0]), filepath.Ext(os.Args[0]),
	)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", yuvln.Version())
		os.Exit(0)
	}

	configFile, err := resolveConfigFile(preCfg.YuvDir, preCfg.ConfigFile)
	if err != nil {
		return nil, nil, err
	}

	cfg := preCfg
	iniErr := flags.NewIniParser(
		flags.NewParser(&cfg, flags.Default),
	).ParseFile(configFile)

	var malformed *flags.IniError
	if errors.As(iniErr, &malformed) {
		return nil, nil, iniErr
	}

	// Flags are parsed again so they take precedence over the file.
	if _, err := flags.NewParser(&cfg, flags.Default).Parse(); err != nil {
		return nil, nil, err
	}

	cleanCfg, cfgLogger, err := ValidateConfig(cfg, interceptor)
	if err != nil {
		reportConfigError(appName, cfgLogger, err)
		return nil, nil, err
	}

	// A missing config file is only worth a warning once the flags turned
	// out fine.
	if iniErr != nil {
		cfgLogger.Warnf("%v", iniErr)
	}

	return cleanCfg, cfgLogger, nil
}

// resolveConfigFile picks the config file. A custom yuvdir moves the default
// file along with it, while an explicit config file must exist.
func resolveConfigFile(yuvDir, configFile string) (string, error) {
	dir := lncfg.CleanAndExpandPath(yuvDir)
	file := lncfg.CleanAndExpandPath(configFile)

	switch {
	case file != DefaultConfigFile:
		if !lnrpc.FileExists(file) {
			return "", fmt.Errorf("specified config file does not "+
				"exist in %s", file)
		}

	case dir != DefaultYuvDir:
		file = filepath.Join(dir, defaultConfigFileName)
	}

	return file, nil
}

// reportConfigError writes a validation error to stderr and, once logging is
// up, to the log.
func reportConfigError(appName string, log btclog.Logger, err error) {
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		hint := fmt.Sprintf("Use %s -h to show usage", appName)
		_, _ = fmt.Fprintln(os.Stderr, hint)
		if log != nil {
			log.Warnf("Incorrect usage: %v", hint)
		}
	}

	_, _ = fmt.Fprintln(os.Stderr, err.Error())
	if log != nil {
		log.Warnf("Error validating config: %v", err)
	}
}

// ValidateConfig checks the given configuration, normalizes its paths and
// creates the directories it needs. It also initializes logging, so the
// returned logger is ready for use.
func ValidateConfig(cfg Config, interceptor signal.Interceptor) (*Config,
	btclog.Logger, error) {

	mkErr := func(format string, args ...interface{}) error {
		return fmt.Errorf("ValidateConfig: "+format, args...)
	}

	yuvDir := lncfg.CleanAndExpandPath(cfg.YuvDir)
	if yuvDir != DefaultYuvDir {
		cfg.DataDir = filepath.Join(yuvDir, defaultDataDirname)
		cfg.LogDir = filepath.Join(yuvDir, defaultLogDirname)
	}
	cfg.DataDir = lncfg.CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = lncfg.CleanAndExpandPath(cfg.LogDir)

	params, err := networkParams(cfg.ChainConf)
	if err != nil {
		return nil, nil, mkErr("%v", err)
	}
	cfg.ActiveNetParams = params
	network := lncfg.NormalizeNetwork(params.Name)

	if err := cfg.Router.Validate(); err != nil {
		return nil, nil, &usageError{mkErr("%w", err)}
	}

	if cfg.Profile != "" {
		cfg.Profile, err = profileAddr(cfg.Profile)
		if err != nil {
			return nil, nil, &usageError{mkErr("%w", err)}
		}
	}

	cfg.networkDir = filepath.Join(cfg.DataDir, network)
	if cfg.Sqlite.DatabaseFileName == defaultSqlitePath {
		cfg.Sqlite.DatabaseFileName = filepath.Join(
			cfg.networkDir, defaultDBFileName,
		)
	}

	if err := cfg.Lnd.normalize(cfg.ChainConf.Network); err != nil {
		return nil, nil, mkErr("%v", err)
	}

	for _, dir := range []string{yuvDir, cfg.DataDir, cfg.networkDir} {
		if err := makeDirectory(dir); err != nil {
			return nil, nil, mkErr("%v", err)
		}
	}

	// Logs are kept per network, like the data.
	cfg.LogDir = filepath.Join(cfg.LogDir, network)

	cfgLog, err := cfg.setupLogging(interceptor)
	if err != nil {
		return nil, cfgLog, mkErr("%w", err)
	}

	return &cfg, cfgLog, nil
}

// normalize expands the macaroon path. The default macaroon path follows the
// selected network.
func (l *LndConfig) normalize(network string) error {
	switch {
	case l.MacaroonPath == "":
		return errors.New("must specify --lnd.macaroonpath")

	case l.MacaroonPath == defaultLndMacaroonPath:
		l.MacaroonPath = lndMacaroonPath(network)

	default:
		l.MacaroonPath = lncfg.CleanAndExpandPath(l.MacaroonPath)
	}

	if l.TLSPath != "" {
		l.TLSPath = lncfg.CleanAndExpandPath(l.TLSPath)
	}

	return nil
}

// makeDirectory creates dir and its parents. A dangling symlink is named in
// the error, it usually points at an unmounted drive.
func makeDirectory(dir string) error {
	err := os.MkdirAll(dir, 0700)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && os.IsExist(err) {
		if link, lerr := os.Readlink(pathErr.Path); lerr == nil {
			err = fmt.Errorf("is symlink %s -> %s mounted?",
				pathErr.Path, link)
		}
	}

	return fmt.Errorf("failed to create yuvd directory '%s': %w", dir, err)
}

// setupLogging registers the sub-loggers, starts log rotation and applies
// the debug levels. The returned logger is the one of the config subsystem.
func (c *Config) setupLogging(interceptor signal.Interceptor) (btclog.Logger,
	error) {

	if c.LogWriter == nil {
		return nil, errors.New("log writer missing in config")
	}

	if c.DebugLevel == "show" {
		fmt.Println("Supported subsystems",
			c.LogWriter.SupportedSubsystems())
		os.Exit(0)
	}

	yuvln.SetupLoggers(c.LogWriter, interceptor)
	err := c.LogWriter.InitLogRotator(
		filepath.Join(c.LogDir, defaultLogFilename),
		c.MaxLogFileSize, c.MaxLogFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("log rotation setup failed: %w", err)
	}

	cfgLog := c.LogWriter.GenSubLogger("CONF", nil)

	err = build.ParseAndSetDebugLevels(c.DebugLevel, c.LogWriter)
	if err != nil {
		return cfgLog, &usageError{
			fmt.Errorf("error parsing debug level: %w", err),
		}
	}

	return cfgLog, nil
}

// getLnd connects to lnd. It blocks until lnd is unlocked and synced to its
// chain backend, or until shutdown is requested.
func getLnd(network string, cfg *LndConfig,
	interceptor signal.Interceptor) (*lndclient.GrpcLndServices, error) {

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-interceptor.ShutdownChannel():
			cancel()

		case <-ctx.Done():
		}
	}()

	return lndclient.NewLndServices(&lndclient.LndServicesConfig{
		LndAddress:            cfg.Host,
		Network:               lndclient.Network(network),
		CustomMacaroonPath:    cfg.MacaroonPath,
		TLSPath:               cfg.TLSPath,
		CheckVersion:          minimalCompatibleVersion,
		BlockUntilChainSynced: true,
		BlockUntilUnlocked:    true,
		CallerCtx:             ctx,
	})
}

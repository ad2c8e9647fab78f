package yuvcfg

import (
	"encoding/hex"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/akitamiabtc/yuvln"
	"github.com/akitamiabtc/yuvln/invoices"
	"github.com/akitamiabtc/yuvln/payments"
	"github.com/akitamiabtc/yuvln/yuvdb"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/lncfg"
)

const (
	// DatabaseBackendSqlite selects the embedded sqlite database.
	DatabaseBackendSqlite = "sqlite"

	// DatabaseBackendPostgres selects a postgres server.
	DatabaseBackendPostgres = "postgres"

	defaultNetwork = "testnet"

	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultConfigFileName = "yuvd.conf"
	defaultLogFilename    = "yuvd.log"
	defaultDBFileName     = "yuvd.db"

	defaultLogLevel       = "info"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10

	// Router defaults. Amounts are in the unit of the routed dimension
	// unless the name says otherwise.
	defaultMinShardFloor   = 1_000
	defaultHtlcCarrierMsat = 1_000
	defaultRiskFactor      = 15

	// Forwarding policy we announce for our own channels.
	defaultBaseFee     = 1_000
	defaultFeeRate     = 1
	defaultExpiryDelta = 40
	defaultMinHTLC     = 1
)

var (
	// DefaultYuvDir is the per-user application data directory of yuvd,
	// for example ~/.yuvd on Linux.
	DefaultYuvDir = btcutil.AppDataDir("yuvd", false)

	// DefaultConfigFile is the config file read when none is given.
	DefaultConfigFile = filepath.Join(DefaultYuvDir, defaultConfigFileName)

	defaultDataDir = filepath.Join(DefaultYuvDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultYuvDir, defaultLogDirname)

	// defaultSqlitePath is replaced by the path in the directory of the
	// active network during validation.
	defaultSqlitePath = filepath.Join(
		defaultDataDir, defaultNetwork, defaultDBFileName,
	)
)

// ChainConfig selects the bitcoin network.
type ChainConfig struct {
	Network string `long:"network" description:"network to run on" choice:"mainnet" choice:"regtest" choice:"testnet" choice:"simnet" choice:"signet"`

	SigNetChallenge string `long:"signetchallenge" description:"Connect to a custom signet network defined by this challenge instead of using the global default signet test network"`
}

// LndConfig points at the lnd node that carries our messages and signs our
// commitment updates.
type LndConfig struct {
	Host string `long:"host" description:"The host:port of the lnd gRPC interface"`

	// MacaroonPath needs the permissions of every lnd sub-server we use.
	MacaroonPath string `long:"macaroonpath" description:"The full path to the single macaroon to use, either the admin.macaroon or a custom baked one."`

	TLSPath string `long:"tlspath" description:"The path to the TLS certificate of lnd"`
}

// RouterConfig holds the tunables of the payment router.
type RouterConfig struct {
	MaxPaths         int           `long:"maxpaths" description:"The number of candidate paths requested per payment round"`
	MinShardFloor    uint64        `long:"minshardfloor" description:"The smallest amount a payment is split into"`
	MaxRetryRounds   int           `long:"maxretryrounds" description:"The number of rounds made for the shortfall of failed shards"`
	FinalExpiryDelta uint32        `long:"finalexpirydelta" description:"The expiry delta in blocks granted to the payment destination"`
	HtlcCarrierMsat  uint64        `long:"htlccarriermsat" description:"The base currency amount in msat locked on every hop of an asset payment"`
	RiskFactor       uint64        `long:"riskfactor" description:"The weight of one block of expiry delta when comparing paths"`
	MppTimeout       time.Duration `long:"mpptimeout" description:"How long an incomplete set of received shards is held before it is failed"`
	Relay            bool          `long:"relay" description:"Acknowledge HTLCs without a matching invoice so the node can serve as an intermediate hop"`
}

// GossipConfig holds the channel announcement options.
type GossipConfig struct {
	NumConfs    uint32 `long:"numconfs" description:"The confirmations of a funding transaction before an announced channel is used, 0 trusts announcements right away"`
	BaseFee     uint64 `long:"basefee" description:"The base fee we charge for forwarding over our channels"`
	FeeRate     uint64 `long:"feerate" description:"The proportional fee in parts per million we charge for forwarding"`
	ExpiryDelta uint16 `long:"expirydelta" description:"The expiry delta we require for forwarding"`
	MinHTLC     uint64 `long:"minhtlc" description:"The smallest HTLC we forward"`
}

// Config is the full configuration of yuvd, filled from defaults, the config
// file and the command line in that order.
type Config struct {
	ShowVersion bool `long:"version" description:"Display version information and exit"`

	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	YuvDir     string `long:"yuvdir" description:"The base directory that contains yuvd's data, logs, configuration file, etc."`
	ConfigFile string `long:"configfile" description:"The path of the configuration file"`

	DataDir        string `long:"datadir" description:"The directory to store yuvd's data within"`
	LogDir         string `long:"logdir" description:"The directory log files are written to"`
	MaxLogFiles    int    `long:"maxlogfiles" description:"The number of rotated log files to keep, 0 disables rotation"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"The size in MB a log file grows to before it is rotated"`

	CPUProfile string `long:"cpuprofile" description:"Write a CPU profile to the given file"`
	Profile    string `long:"profile" description:"Serve pprof on either a port or host:port"`

	Console bool `long:"console" description:"Read commands from stdin"`

	ChainConf *ChainConfig  `group:"chain" namespace:"chain"`
	Lnd       *LndConfig    `group:"lnd" namespace:"lnd"`
	Router    *RouterConfig `group:"router" namespace:"router"`
	Gossip    *GossipConfig `group:"gossip" namespace:"gossip"`

	DatabaseBackend string                `long:"databasebackend" description:"The database backend to use for storing all router data." choice:"sqlite" choice:"postgres"`
	Sqlite          *yuvdb.SqliteConfig   `group:"sqlite" namespace:"sqlite"`
	Postgres        *yuvdb.PostgresConfig `group:"postgres" namespace:"postgres"`

	// LogWriter hosts the sub-loggers of every package.
	LogWriter *build.RotatingLogWriter

	// networkDir holds the data of the active network.
	networkDir string

	// ActiveNetParams are the parameters of the selected network.
	ActiveNetParams chaincfg.Params
}

// DefaultConfig returns the configuration used for every option that is not
// set explicitly.
func DefaultConfig() Config {
	return Config{
		YuvDir:         DefaultYuvDir,
		ConfigFile:     DefaultConfigFile,
		DataDir:        defaultDataDir,
		LogDir:         defaultLogDir,
		DebugLevel:     defaultLogLevel,
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		ChainConf: &ChainConfig{
			Network: defaultNetwork,
		},
		Lnd: &LndConfig{
			Host:         "localhost:10009",
			MacaroonPath: defaultLndMacaroonPath,
		},
		Router: &RouterConfig{
			MaxPaths:         payments.DefaultMaxPaths,
			MinShardFloor:    defaultMinShardFloor,
			MaxRetryRounds:   payments.DefaultMaxRetryRounds,
			FinalExpiryDelta: payments.DefaultFinalExpiryDelta,
			HtlcCarrierMsat:  defaultHtlcCarrierMsat,
			RiskFactor:       defaultRiskFactor,
			MppTimeout:       invoices.DefaultMppTimeout,
		},
		Gossip: &GossipConfig{
			NumConfs:    yuvln.DefaultNumConfs,
			BaseFee:     defaultBaseFee,
			FeeRate:     defaultFeeRate,
			ExpiryDelta: defaultExpiryDelta,
			MinHTLC:     defaultMinHTLC,
		},
		DatabaseBackend: DatabaseBackendSqlite,
		Sqlite: &yuvdb.SqliteConfig{
			DatabaseFileName: defaultSqlitePath,
		},
		Postgres: &yuvdb.PostgresConfig{
			Host:               "localhost",
			Port:               5432,
			MaxOpenConnections: 10,
		},
		LogWriter: build.NewRotatingLogWriter(),
	}
}

// Validate checks the router tunables.
func (r *RouterConfig) Validate() error {
	switch {
	case r.MaxPaths <= 0:
		return fmt.Errorf("maxpaths must be positive")

	case r.MaxRetryRounds < 0:
		return fmt.Errorf("maxretryrounds must not be negative")

	case r.FinalExpiryDelta == 0:
		return fmt.Errorf("finalexpirydelta must be positive")

	case r.MppTimeout <= 0:
		return fmt.Errorf("mpptimeout must be positive")
	}

	return nil
}

// networkParams returns the parameters of the configured network.
func networkParams(cfg *ChainConfig) (chaincfg.Params, error) {
	switch cfg.Network {
	case "mainnet":
		return chaincfg.MainNetParams, nil
	case "testnet":
		return chaincfg.TestNet3Params, nil
	case "regtest":
		return chaincfg.RegressionNetParams, nil
	case "simnet":
		return chaincfg.SimNetParams, nil
	case "signet":
		challenge := chaincfg.DefaultSignetChallenge
		if cfg.SigNetChallenge != "" {
			var err error
			challenge, err = hex.DecodeString(cfg.SigNetChallenge)
			if err != nil {
				return chaincfg.Params{}, fmt.Errorf("invalid "+
					"signet challenge: %w", err)
			}
		}

		return chaincfg.CustomSignetParams(
			challenge, chaincfg.DefaultSignetDNSSeeds,
		), nil

	default:
		return chaincfg.Params{}, fmt.Errorf("invalid network: %v",
			cfg.Network)
	}
}

// profileAddr turns the profile option into a listen address. A bare port is
// served on localhost.
func profileAddr(profile string) (string, error) {
	host, port, err := net.SplitHostPort(profile)
	if err != nil {
		host, port = "127.0.0.1", profile
	}

	profilePort, err := strconv.Atoi(port)
	if err != nil || profilePort < 1024 || profilePort > 65535 {
		return "", fmt.Errorf("the profile port must be between 1024 " +
			"and 65535")
	}

	return net.JoinHostPort(host, port), nil
}

// NetworkParams returns the chain parameters of a network name without a
// custom signet challenge.
func NetworkParams(network string) (chaincfg.Params, error) {
	return networkParams(&ChainConfig{Network: network})
}

// SqliteDatabasePath returns the default location of the sqlite database
// below the given yuvd directory.
func SqliteDatabasePath(yuvDir string, params *chaincfg.Params) string {
	return filepath.Join(
		lncfg.CleanAndExpandPath(yuvDir), defaultDataDirname,
		lncfg.NormalizeNetwork(params.Name),
		defaultDBFileName,
	)
}

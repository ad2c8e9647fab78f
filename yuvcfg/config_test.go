package yuvcfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/stretchr/testify/require"
)

func TestRouterConfigValidate(t *testing.T) {
	t.Parallel()

	valid := *DefaultConfig().Router
	require.NoError(t, valid.Validate())

	testCases := []struct {
		name   string
		modify func(*RouterConfig)
	}{{
		name:   "no paths",
		modify: func(r *RouterConfig) { r.MaxPaths = 0 },
	}, {
		name:   "negative retries",
		modify: func(r *RouterConfig) { r.MaxRetryRounds = -1 },
	}, {
		name:   "no final delta",
		modify: func(r *RouterConfig) { r.FinalExpiryDelta = 0 },
	}, {
		name:   "no mpp timeout",
		modify: func(r *RouterConfig) { r.MppTimeout = 0 },
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid
			tc.modify(&cfg)
			require.Error(t, cfg.Validate())
		})
	}

	// Zero retry rounds disable retries but are valid.
	noRetry := valid
	noRetry.MaxRetryRounds = 0
	require.NoError(t, noRetry.Validate())
}

func TestNetworkParams(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		network   string
		challenge string
		name      string
		valid     bool
	}{
		{network: "mainnet", name: chaincfg.MainNetParams.Name, valid: true},
		{network: "testnet", name: chaincfg.TestNet3Params.Name, valid: true},
		{network: "regtest", name: chaincfg.RegressionNetParams.Name, valid: true},
		{network: "simnet", name: chaincfg.SimNetParams.Name, valid: true},
		{network: "signet", name: chaincfg.SigNetParams.Name, valid: true},
		{network: "signet", challenge: "zz"},
		{network: "litecoin"},
	}

	for _, tc := range testCases {
		params, err := networkParams(&ChainConfig{
			Network:         tc.network,
			SigNetChallenge: tc.challenge,
		})
		if !tc.valid {
			require.Error(t, err, tc.network)
			continue
		}

		require.NoError(t, err, tc.network)
		require.Equal(t, tc.name, params.Name)
	}
}

func TestValidateConfig(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.YuvDir = dir
	cfg.ChainConf.Network = "regtest"
	cfg.Router.MppTimeout = 30 * time.Second

	clean, cfgLog, err := ValidateConfig(cfg, signal.Interceptor{})
	require.NoError(t, err)
	require.NotNil(t, cfgLog)
	t.Cleanup(func() {
		require.NoError(t, clean.LogWriter.Close())
	})

	require.Equal(t, chaincfg.RegressionNetParams.Name,
		clean.ActiveNetParams.Name)
	require.Equal(t, filepath.Join(dir, "data"), clean.DataDir)
	require.Equal(t, filepath.Join(dir, "logs", "regtest"), clean.LogDir)
	require.Equal(
		t, filepath.Join(dir, "data", "regtest", "yuvd.db"),
		clean.Sqlite.DatabaseFileName,
	)
	require.DirExists(t, filepath.Join(dir, "data", "regtest"))

	// The lnd macaroon follows the selected network.
	require.Contains(t, clean.Lnd.MacaroonPath, "regtest")
	require.Equal(t, 30*time.Second, clean.Router.MppTimeout)
}

func TestValidateConfigErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.YuvDir = t.TempDir()
	cfg.Router.MaxPaths = 0

	_, _, err := ValidateConfig(cfg, signal.Interceptor{})
	require.ErrorContains(t, err, "maxpaths")

	var usageErr *usageError
	require.ErrorAs(t, err, &usageErr)

	cfg = DefaultConfig()
	cfg.YuvDir = t.TempDir()
	cfg.Lnd.MacaroonPath = ""

	_, _, err = ValidateConfig(cfg, signal.Interceptor{})
	require.ErrorContains(t, err, "macaroonpath")
}

func TestResolveConfigFile(t *testing.T) {
	// Defaults stay untouched.
	file, err := resolveConfigFile(DefaultYuvDir, DefaultConfigFile)
	require.NoError(t, err)
	require.Equal(t, DefaultConfigFile, file)

	// A custom yuvdir carries the default config file along.
	dir := t.TempDir()
	file, err = resolveConfigFile(dir, DefaultConfigFile)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "yuvd.conf"), file)

	// An explicit config file must exist.
	custom := filepath.Join(dir, "custom.conf")
	_, err = resolveConfigFile(dir, custom)
	require.ErrorContains(t, err, "does not exist")

	require.NoError(t, os.WriteFile(custom, []byte("[router]\n"), 0600))
	file, err = resolveConfigFile(DefaultYuvDir, custom)
	require.NoError(t, err)
	require.Equal(t, custom, file)
}

func TestLndConfigNormalize(t *testing.T) {
	t.Setenv("YUV_TEST_DIR", "/srv/lnd")

	cfg := LndConfig{
		MacaroonPath: "$YUV_TEST_DIR/custom.macaroon",
		TLSPath:      "$YUV_TEST_DIR/tls.cert",
	}
	require.NoError(t, cfg.normalize("regtest"))
	require.Equal(t, "/srv/lnd/custom.macaroon", cfg.MacaroonPath)
	require.Equal(t, "/srv/lnd/tls.cert", cfg.TLSPath)

	cfg = LndConfig{MacaroonPath: defaultLndMacaroonPath}
	require.NoError(t, cfg.normalize("signet"))
	require.Equal(t, lndMacaroonPath("signet"), cfg.MacaroonPath)

	cfg = LndConfig{}
	require.ErrorContains(t, cfg.normalize("regtest"), "macaroonpath")
}

func TestProfileAddr(t *testing.T) {
	testCases := []struct {
		profile string
		addr    string
		valid   bool
	}{
		{"9736", "127.0.0.1:9736", true},
		{"0.0.0.0:6060", "0.0.0.0:6060", true},
		{"80", "", false},
		{"localhost:70000", "", false},
		{"nope", "", false},
	}

	for _, tc := range testCases {
		addr, err := profileAddr(tc.profile)
		if !tc.valid {
			require.Error(t, err, tc.profile)
			continue
		}

		require.NoError(t, err)
		require.Equal(t, tc.addr, addr)
	}
}

func TestSqliteDatabasePath(t *testing.T) {
	params, err := NetworkParams("regtest")
	require.NoError(t, err)

	dbPath := SqliteDatabasePath("/tmp/yuvd", &params)
	require.Equal(t, "/tmp/yuvd/data/regtest/yuvd.db", dbPath)

	_, err = NetworkParams("moonnet")
	require.Error(t, err)
}

package yuvcfg

import (
	"database/sql"
	"fmt"

	"github.com/akitamiabtc/yuvln"
	"github.com/akitamiabtc/yuvln/fn"
	"github.com/akitamiabtc/yuvln/graph"
	"github.com/akitamiabtc/yuvln/htlcswitch"
	"github.com/akitamiabtc/yuvln/invoices"
	"github.com/akitamiabtc/yuvln/ledger"
	"github.com/akitamiabtc/yuvln/payments"
	"github.com/akitamiabtc/yuvln/yuvdb"
	"github.com/btcsuite/btclog"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/lightningnetwork/lnd/signal"
)

// openDatabase opens the configured database backend.
func openDatabase(cfg *Config, cfgLogger btclog.Logger) (*yuvdb.BaseDB,
	error) {

	switch cfg.DatabaseBackend {
	case DatabaseBackendSqlite:
		cfgLogger.Infof("Opening sqlite3 database at: %v",
			cfg.Sqlite.DatabaseFileName)

		db, err := yuvdb.NewSqliteStore(cfg.Sqlite)
		if err != nil {
			return nil, err
		}
		return db.BaseDB, nil

	case DatabaseBackendPostgres:
		cfgLogger.Infof("Opening postgres database at: %v",
			cfg.Postgres.DSN(true))

		db, err := yuvdb.NewPostgresStore(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return db.BaseDB, nil

	default:
		return nil, fmt.Errorf("unknown database backend: %s",
			cfg.DatabaseBackend)
	}
}

// NewDatabaseConfig creates the stores of the daemon on top of an open
// database.
func NewDatabaseConfig(db *yuvdb.BaseDB,
	clock clock.Clock) *yuvln.DatabaseConfig {

	channelDB := yuvdb.NewTransactionExecutor[yuvdb.ChannelQueries](
		db, func(tx *sql.Tx) yuvdb.ChannelQueries {
			return db.WithTx(tx)
		},
	)
	policyDB := yuvdb.NewTransactionExecutor[yuvdb.PolicyQueries](
		db, func(tx *sql.Tx) yuvdb.PolicyQueries {
			return db.WithTx(tx)
		},
	)
	paymentDB := yuvdb.NewTransactionExecutor[yuvdb.PaymentQueries](
		db, func(tx *sql.Tx) yuvdb.PaymentQueries {
			return db.WithTx(tx)
		},
	)
	invoiceDB := yuvdb.NewTransactionExecutor[yuvdb.InvoiceQueries](
		db, func(tx *sql.Tx) yuvdb.InvoiceQueries {
			return db.WithTx(tx)
		},
	)

	return &yuvln.DatabaseConfig{
		ChannelStore: yuvdb.NewChannelStore(channelDB, clock),
		PolicyStore:  yuvdb.NewPolicyStore(policyDB),
		PaymentStore: yuvdb.NewPaymentStore(paymentDB),
		InvoiceStore: yuvdb.NewInvoiceStore(invoiceDB),
	}
}

// ChainBridge is the chain access of every router component.
type ChainBridge interface {
	payments.ChainBridge
	yuvln.FundingNotifier
}

// Signer signs our commitment updates and verifies the ones of our peers.
type Signer interface {
	payments.Signer
	invoices.CommitmentVerifier
}

// Collaborators are the lnd-backed services the router components use.
type Collaborators struct {
	Messenger htlcswitch.PeerMessenger
	Chain     ChainBridge
	Signer    Signer
	Decoder   payments.InvoiceDecoder

	// ErrChan receives critical errors of the components. It may be nil.
	ErrChan chan<- error
}

// NewServerConfig wires the router components given the stores and the
// external collaborators.
func NewServerConfig(cfg *Config, self route.Vertex,
	dbCfg *yuvln.DatabaseConfig, c *Collaborators) *yuvln.Config {

	mailbox := htlcswitch.NewMailbox(&htlcswitch.MailboxConfig{
		Messenger: c.Messenger,
		SendRetry: fn.DefaultRetryConfig(),
		ErrChan:   c.ErrChan,
	})
	channelLedger := ledger.New(&ledger.Config{
		Store:        dbCfg.ChannelStore,
		StoreTimeout: yuvdb.DefaultStoreTimeout,
	})

	policy := graph.Policy{
		BaseFee:     cfg.Gossip.BaseFee,
		FeeRate:     cfg.Gossip.FeeRate,
		ExpiryDelta: cfg.Gossip.ExpiryDelta,
		MinHTLC:     cfg.Gossip.MinHTLC,
	}
	view := graph.NewView(&graph.ViewConfig{
		Channels:      channelLedger,
		Store:         dbCfg.PolicyStore,
		DefaultPolicy: policy,
		StoreTimeout:  yuvdb.DefaultStoreTimeout,
	})

	registry := invoices.NewRegistry(&invoices.RegistryConfig{
		Store: dbCfg.InvoiceStore,
	})

	// Without required confirmations announced channels are used right
	// away.
	var fundingNotifier yuvln.FundingNotifier
	if cfg.Gossip.NumConfs > 0 {
		fundingNotifier = c.Chain
	}

	return &yuvln.Config{
		DebugLevel:  cfg.DebugLevel,
		ChainParams: &cfg.ActiveNetParams,
		Self:        self,
		Mailbox:     mailbox,
		Ledger:      channelLedger,
		Topology:    view,
		Gossiper: yuvln.NewGossiper(&yuvln.GossiperConfig{
			Self:     self,
			Mailbox:  mailbox,
			Ledger:   channelLedger,
			Topology: view,
			Chain:    fundingNotifier,
			NumConfs: cfg.Gossip.NumConfs,
			Policy:   policy,
		}),
		InvoiceRegistry: registry,
		Receiver: invoices.NewReceiver(&invoices.ReceiverConfig{
			Registry:   registry,
			Mailbox:    mailbox,
			Chain:      c.Chain,
			Verifier:   c.Signer,
			MppTimeout: cfg.Router.MppTimeout,
			Relay:      cfg.Router.Relay,
		}),
		Coordinator: payments.NewCoordinator(&payments.Config{
			Self:             self,
			Ledger:           channelLedger,
			Topology:         view,
			Mailbox:          mailbox,
			Chain:            c.Chain,
			Signer:           c.Signer,
			Store:            dbCfg.PaymentStore,
			Decoder:          c.Decoder,
			MaxPaths:         cfg.Router.MaxPaths,
			MinShardFloor:    cfg.Router.MinShardFloor,
			MaxRetryRounds:   cfg.Router.MaxRetryRounds,
			FinalExpiryDelta: cfg.Router.FinalExpiryDelta,
			HtlcCarrierMsat:  cfg.Router.HtlcCarrierMsat,
			RiskFactor:       cfg.Router.RiskFactor,
		}),
		Console:        cfg.Console,
		LogWriter:      cfg.LogWriter,
		DatabaseConfig: dbCfg,
	}
}

// CreateServerFromConfig creates a new yuv router server from the given CLI
// config. Critical errors of the running components are sent to
// mainErrChan.
func CreateServerFromConfig(cfg *Config, cfgLogger btclog.Logger,
	shutdownInterceptor signal.Interceptor,
	mainErrChan chan<- error) (*yuvln.Server, error) {

	db, err := openDatabase(cfg, cfgLogger)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %v", err)
	}
	dbCfg := NewDatabaseConfig(db, clock.NewDefaultClock())

	cfgLogger.Infof("Attempting to establish connection to lnd...")
	lndConn, err := getLnd(
		cfg.ChainConf.Network, cfg.Lnd, shutdownInterceptor,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to lnd node: %v", err)
	}
	lndServices := &lndConn.LndServices

	cfgLogger.Infof("lnd connection initialized, node key %x",
		lndServices.NodePubkey[:])

	cfgLogger.Debugf("Router config: %v, gossip config: %v",
		spew.Sdump(cfg.Router), spew.Sdump(cfg.Gossip))

	serverCfg := NewServerConfig(
		cfg, lndServices.NodePubkey, dbCfg, &Collaborators{
			Messenger: yuvln.NewLndPeerMessenger(lndServices),
			Chain:     yuvln.NewLndChainBridge(lndServices),
			Signer:    yuvln.NewLndRpcSigner(lndServices),
			Decoder:   yuvln.NewLndInvoiceDecoder(lndServices),
			ErrChan:   mainErrChan,
		},
	)
	serverCfg.Lnd = lndServices
	serverCfg.SignalInterceptor = shutdownInterceptor

	return yuvln.NewServer(serverCfg), nil
}

package yuvln

import (
	"github.com/akitamiabtc/yuvln/graph"
	"github.com/akitamiabtc/yuvln/htlcswitch"
	"github.com/akitamiabtc/yuvln/invoices"
	"github.com/akitamiabtc/yuvln/ledger"
	"github.com/akitamiabtc/yuvln/payments"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/lightningnetwork/lnd/signal"
)

// DatabaseConfig is the set of stores the daemon persists its state in.
type DatabaseConfig struct {
	ChannelStore ledger.Store

	PolicyStore graph.PolicyStore

	PaymentStore payments.Store

	InvoiceStore invoices.Store
}

// Config is the main config of the yuv router server.
type Config struct {
	DebugLevel string

	ChainParams *chaincfg.Params

	Lnd *lndclient.LndServices

	SignalInterceptor signal.Interceptor

	// Self is the identity key of the lnd node we run on.
	Self route.Vertex

	Mailbox *htlcswitch.Mailbox

	Ledger *ledger.Ledger

	Topology *graph.View

	Gossiper *Gossiper

	InvoiceRegistry *invoices.Registry

	Receiver *invoices.Receiver

	Coordinator *payments.Coordinator

	// Console enables the interactive command console on stdin.
	Console bool

	// LogWriter is the root logger that all of the daemon's subloggers are
	// hooked up to.
	LogWriter *build.RotatingLogWriter

	*DatabaseConfig
}

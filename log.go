package yuvln

import (
	"github.com/akitamiabtc/yuvln/graph"
	"github.com/akitamiabtc/yuvln/htlcswitch"
	"github.com/akitamiabtc/yuvln/invoices"
	"github.com/akitamiabtc/yuvln/ledger"
	"github.com/akitamiabtc/yuvln/pathfind"
	"github.com/akitamiabtc/yuvln/payments"
	"github.com/akitamiabtc/yuvln/splitter"
	"github.com/akitamiabtc/yuvln/yuvdb"
	"github.com/btcsuite/btclog"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/signal"
)

// replaceableLogger is a thin wrapper around a logger that is used so the
// logger can be replaced easily without some black pointer magic.
type replaceableLogger struct {
	btclog.Logger
	subsystem string
}

// Loggers can not be used before the log rotator has been initialized with a
// log file. This must be performed early during application startup by
// calling InitLogRotator() on the main log writer instance in the config.
var (
	// yuvPkgLoggers is a list of all root package level loggers that are
	// registered. They are tracked here so they can be replaced once the
	// SetupLoggers function is called with the final root logger.
	yuvPkgLoggers []*replaceableLogger

	// addYuvPkgLogger is a helper function that creates a new replaceable
	// root package level logger and adds it to the list of loggers that
	// are replaced again later, once the final root logger is ready.
	addYuvPkgLogger = func(subsystem string) *replaceableLogger {
		l := &replaceableLogger{
			Logger:    build.NewSubLogger(subsystem, nil),
			subsystem: subsystem,
		}
		yuvPkgLoggers = append(yuvPkgLoggers, l)
		return l
	}

	// Loggers of the root package. We declare all loggers so we never run
	// into a nil reference if they are used early.
	yuvLog  = addYuvPkgLogger("YUVL")
	srvrLog = addYuvPkgLogger("SRVR")
	gspLog  = addYuvPkgLogger("GOSP")
)

// genSubLogger creates a logger for a subsystem. We provide an instance of a
// signal.Interceptor to be able to shutdown in the case of a critical error.
func genSubLogger(root *build.RotatingLogWriter,
	interceptor signal.Interceptor) func(string) btclog.Logger {

	// Create a shutdown function which will request shutdown from our
	// interceptor if it is listening.
	shutdown := func() {
		if !interceptor.Listening() {
			return
		}

		interceptor.RequestShutdown()
	}

	return func(tag string) btclog.Logger {
		return root.GenSubLogger(tag, shutdown)
	}
}

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.RotatingLogWriter,
	interceptor signal.Interceptor) {

	genLogger := genSubLogger(root, interceptor)

	for _, l := range yuvPkgLoggers {
		l.Logger = build.NewSubLogger(l.subsystem, genLogger)
		SetSubLogger(root, l.subsystem, l.Logger)
	}

	signal.UseLogger(yuvLog)

	AddSubLogger(root, ledger.Subsystem, interceptor, ledger.UseLogger)
	AddSubLogger(root, graph.Subsystem, interceptor, graph.UseLogger)
	AddSubLogger(root, pathfind.Subsystem, interceptor, pathfind.UseLogger)
	AddSubLogger(root, splitter.Subsystem, interceptor, splitter.UseLogger)
	AddSubLogger(
		root, htlcswitch.Subsystem, interceptor, htlcswitch.UseLogger,
	)
	AddSubLogger(root, payments.Subsystem, interceptor, payments.UseLogger)
	AddSubLogger(root, invoices.Subsystem, interceptor, invoices.UseLogger)
	AddSubLogger(root, yuvdb.Subsystem, interceptor, yuvdb.UseLogger)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.RotatingLogWriter, subsystem string,
	interceptor signal.Interceptor, useLoggers ...func(btclog.Logger)) {

	genLogger := genSubLogger(root, interceptor)

	// Create and register just a single logger to prevent them from
	// overwriting each other internally.
	logger := build.NewSubLogger(subsystem, genLogger)
	SetSubLogger(root, subsystem, logger, useLoggers...)
}

// SetSubLogger is a helper method to conveniently register the logger of a sub
// system.
func SetSubLogger(root *build.RotatingLogWriter, subsystem string,
	logger btclog.Logger, useLoggers ...func(btclog.Logger)) {

	root.RegisterSubLogger(subsystem, logger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}

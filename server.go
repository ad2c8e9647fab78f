package yuvln

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/akitamiabtc/yuvln/fn"
)

// subsystem is a component with the usual start/stop lifecycle.
type subsystem interface {
	Start() error
	Stop() error
}

// namedSubsystem pairs a subsystem with the name it is logged under.
type namedSubsystem struct {
	name string
	subsystem
}

// Server is the main daemon construct of the yuv router. It starts every
// component in dependency order and stops them in reverse.
type Server struct {
	started  int32
	shutdown int32

	cfg *Config

	// running is the list of started subsystems, in start order.
	running []namedSubsystem

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewServer creates a new server given the passed config.
func NewServer(cfg *Config) *Server {
	return &Server{
		cfg:  cfg,
		quit: make(chan struct{}, 1),
	}
}

// subsystems returns the components in the order they need to be started.
func (s *Server) subsystems() []namedSubsystem {
	return []namedSubsystem{
		{"mailbox", s.cfg.Mailbox},
		{"topology view", s.cfg.Topology},
		{"gossiper", s.cfg.Gossiper},
		{"invoice registry", s.cfg.InvoiceRegistry},
		{"receiver", s.cfg.Receiver},
		{"coordinator", s.cfg.Coordinator},
	}
}

// start loads the ledger and starts every subsystem. If one fails, the ones
// already started are stopped again.
func (s *Server) start(ctx context.Context) error {
	if err := s.cfg.Ledger.Load(ctx); err != nil {
		return fmt.Errorf("unable to load channel ledger: %w", err)
	}

	for _, sub := range s.subsystems() {
		srvrLog.Debugf("Starting %v", sub.name)

		if err := sub.Start(); err != nil {
			s.stopSubsystems()
			return fmt.Errorf("unable to start %v: %w", sub.name,
				err)
		}
		s.running = append(s.running, sub)
	}

	return nil
}

// stopSubsystems stops the started subsystems in reverse order.
func (s *Server) stopSubsystems() {
	for i := len(s.running) - 1; i >= 0; i-- {
		sub := s.running[i]
		if err := sub.Stop(); err != nil {
			srvrLog.Errorf("Unable to stop %v: %v", sub.name, err)
		}
	}
	s.running = nil
}

// RunUntilShutdown runs the main yuv router loop until a signal is received
// to shut down the process.
func (s *Server) RunUntilShutdown(mainErrChan <-chan error) error {
	if atomic.AddInt32(&s.started, 1) != 1 {
		return nil
	}

	defer func() {
		srvrLog.Info("Shutdown complete\n")
		if s.cfg.LogWriter == nil {
			return
		}

		err := s.cfg.LogWriter.Close()
		if err != nil {
			srvrLog.Errorf("Could not close log rotator: %v", err)
		}
	}()

	mkErr := func(format string, args ...interface{}) error {
		logFormat := strings.ReplaceAll(format, "%w", "%v")
		srvrLog.Errorf("Shutting down because error in main "+
			"method: "+logFormat, args...)
		return fmt.Errorf(format, args...)
	}

	srvrLog.Infof("Version: %s, build=%s", Version(), GoVersion)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.start(ctx); err != nil {
		return mkErr("unable to start server: %w", err)
	}
	defer s.stopSubsystems()

	if s.cfg.Console {
		console := NewConsole(&ConsoleConfig{
			Self:            s.cfg.Self,
			ChainParams:     s.cfg.ChainParams,
			Ledger:          s.cfg.Ledger,
			Coordinator:     s.cfg.Coordinator,
			InvoiceRegistry: s.cfg.InvoiceRegistry,
			In:              os.Stdin,
			Out:             os.Stdout,
		})

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			if err := console.Run(ctx); err != nil {
				srvrLog.Errorf("Console stopped: %v", err)
			}
		}()
	}

	srvrLog.Infof("Yuv router daemon fully active!")

	// Wait for shutdown signal from either a graceful server stop or from
	// the interrupt handler.
	select {
	case <-s.cfg.SignalInterceptor.ShutdownChannel():
		srvrLog.Infof("Received SIGINT (Ctrl+C). Shutting down...")

	case err := <-mainErrChan:
		if err == nil {
			srvrLog.Debug("Main err chan closed")
			return nil
		}

		// We'll report the error to the main daemon, but only if this
		// isn't a context cancel.
		if fn.IsCanceled(err) {
			srvrLog.Debugf("Got context canceled error: %v", err)
			return nil
		}

		return mkErr("received critical error from subsystem: %w", err)

	case <-s.quit:
	}

	return nil
}

// Stop signals that the main yuv server should attempt a graceful shutdown.
func (s *Server) Stop() error {
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		return nil
	}

	srvrLog.Infof("Stopping Main Server")

	close(s.quit)

	return nil
}

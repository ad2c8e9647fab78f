package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof" // nolint:gosec
	"os"
	"runtime/pprof"

	"github.com/akitamiabtc/yuvln/fn"
	"github.com/akitamiabtc/yuvln/yuvcfg"
	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/signal"
)

func main() {
	shutdownInterceptor, err := signal.Intercept()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Logging is set up as part of loading the config.
	cfg, cfgLogger, err := yuvcfg.LoadConfig(shutdownInterceptor)
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			err = fmt.Errorf("failed to load config: %w", err)
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		os.Exit(0)
	}

	if cfg.Profile != "" {
		go func() {
			profileRedirect := http.RedirectHandler("/debug/pprof",
				http.StatusSeeOther)
			http.Handle("/", profileRedirect)
			cfgLogger.Infof("Pprof listening on %v", cfg.Profile)
			//nolint:gosec
			fmt.Println(http.ListenAndServe(cfg.Profile, nil))
		}()
	}

	if cfg.CPUProfile != "" {
		f, err := os.Create(cfg.CPUProfile)
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		_ = pprof.StartCPUProfile(f)
		defer f.Close()
		defer pprof.StopCPUProfile()
	}

	// Components report fatal runtime errors here. The queue never blocks
	// the sender while it is running.
	errQueue := fn.NewConcurrentQueue[error](fn.DefaultQueueSize)
	errQueue.Start()
	defer errQueue.Stop()

	server, err := yuvcfg.CreateServerFromConfig(
		cfg, cfgLogger, shutdownInterceptor, errQueue.ChanIn(),
	)
	if err != nil {
		err := fmt.Errorf("error creating server: %w", err)
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	err = server.RunUntilShutdown(errQueue.ChanOut())
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

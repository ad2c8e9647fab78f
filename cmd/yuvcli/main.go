package main

import (
	"fmt"
	"os"

	"github.com/akitamiabtc/yuvln"
	"github.com/akitamiabtc/yuvln/yuvcfg"
	"github.com/urfave/cli"
)

const (
	// Environment variables names that can be used to set the global flags.
	envVarYuvDir  = "YUVCLI_YUVDIR"
	envVarNetwork = "YUVCLI_NETWORK"
	envVarDBFile  = "YUVCLI_DBFILE"
)

// newApp creates the yuvcli app with all the available commands.
func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "yuvcli"
	app.Version = yuvln.Version()
	app.Usage = "inspect the stored state of a yuv router (yuvd)"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:      "yuvdir",
			Value:     yuvcfg.DefaultYuvDir,
			Usage:     "The path to yuvd's base directory.",
			TakesFile: true,
			EnvVar:    envVarYuvDir,
		},
		cli.StringFlag{
			Name: "network, n",
			Usage: "The network yuvd is running on, e.g. " +
				"mainnet, testnet, etc.",
			Value:  "testnet",
			EnvVar: envVarNetwork,
		},
		cli.StringFlag{
			Name: "dbfile",
			Usage: "The full path to the sqlite database, " +
				"overrides the location derived from " +
				"--yuvdir and --network.",
			TakesFile: true,
			EnvVar:    envVarDBFile,
		},
	}
	app.Commands = []cli.Command{
		listChannelsCommand,
		listPoliciesCommand,
		listPaymentsCommand,
		listInvoicesCommand,
		decodePixelCommand,
	}

	return app
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "[yuvcli] %v\n", err)
	os.Exit(1)
}

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

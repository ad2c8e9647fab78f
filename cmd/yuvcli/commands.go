package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/akitamiabtc/yuvln"
	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/akitamiabtc/yuvln/yuvcfg"
	"github.com/akitamiabtc/yuvln/yuvdb"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/urfave/cli"
)

func chainParams(ctx *cli.Context) (*chaincfg.Params, error) {
	params, err := yuvcfg.NetworkParams(ctx.GlobalString("network"))
	if err != nil {
		return nil, err
	}

	return &params, nil
}

// openStores opens the database of the daemon. The database must exist, the
// cli never creates one.
func openStores(ctx *cli.Context) (*yuvln.DatabaseConfig, func(), error) {
	dbFile := ctx.GlobalString("dbfile")
	if dbFile == "" {
		params, err := chainParams(ctx)
		if err != nil {
			return nil, nil, err
		}

		dbFile = yuvcfg.SqliteDatabasePath(
			ctx.GlobalString("yuvdir"), params,
		)
	}

	if _, err := os.Stat(dbFile); err != nil {
		return nil, nil, fmt.Errorf("unable to find database: %w", err)
	}

	db, err := yuvdb.NewSqliteStore(&yuvdb.SqliteConfig{
		DatabaseFileName: dbFile,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open database: %w", err)
	}

	cleanUp := func() {
		_ = db.Close()
	}

	return yuvcfg.NewDatabaseConfig(db.BaseDB, clock.NewDefaultClock()),
		cleanUp, nil
}

func printJSON(ctx *cli.Context, resp interface{}) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	var out bytes.Buffer
	_ = json.Indent(&out, b, "", "\t")
	out.WriteString("\n")
	_, err = out.WriteTo(ctx.App.Writer)

	return err
}

// storeAction wraps a command that reads from the database.
func storeAction(f func(context.Context, *cli.Context,
	*yuvln.DatabaseConfig) error) cli.ActionFunc {

	return func(ctx *cli.Context) error {
		dbCfg, cleanUp, err := openStores(ctx)
		if err != nil {
			return err
		}
		defer cleanUp()

		ctxt, cancel := context.WithTimeout(
			context.Background(), yuvdb.DefaultStoreTimeout,
		)
		defer cancel()

		return f(ctxt, ctx, dbCfg)
	}
}

var listChannelsCommand = cli.Command{
	Name:  "listchannels",
	Usage: "List the known channels and their balances.",
	Action: storeAction(func(ctxt context.Context, ctx *cli.Context,
		dbCfg *yuvln.DatabaseConfig) error {

		states, err := dbCfg.ChannelStore.FetchChannels(ctxt)
		if err != nil {
			return fmt.Errorf("unable to fetch channels: %w", err)
		}

		return printJSON(ctx, yuvln.NewChannelsResp(states))
	}),
}

var listPoliciesCommand = cli.Command{
	Name:  "listpolicies",
	Usage: "List the latest forwarding policy of every channel direction.",
	Action: storeAction(func(ctxt context.Context, ctx *cli.Context,
		dbCfg *yuvln.DatabaseConfig) error {

		updates, err := dbCfg.PolicyStore.FetchPolicies(ctxt)
		if err != nil {
			return fmt.Errorf("unable to fetch policies: %w", err)
		}

		return printJSON(ctx, yuvln.NewPoliciesResp(updates))
	}),
}

var listPaymentsCommand = cli.Command{
	Name:  "listpayments",
	Usage: "List the outbound payments and their shards.",
	Action: storeAction(func(ctxt context.Context, ctx *cli.Context,
		dbCfg *yuvln.DatabaseConfig) error {

		list, err := dbCfg.PaymentStore.FetchPayments(ctxt)
		if err != nil {
			return fmt.Errorf("unable to fetch payments: %w", err)
		}

		return printJSON(ctx, yuvln.NewPaymentsResp(list))
	}),
}

var listInvoicesCommand = cli.Command{
	Name:  "listinvoices",
	Usage: "List the invoices.",
	Action: storeAction(func(ctxt context.Context, ctx *cli.Context,
		dbCfg *yuvln.DatabaseConfig) error {

		list, err := dbCfg.InvoiceStore.FetchInvoices(ctxt)
		if err != nil {
			return fmt.Errorf("unable to fetch invoices: %w", err)
		}

		return printJSON(ctx, yuvln.NewInvoicesResp(list))
	}),
}

var decodePixelCommand = cli.Command{
	Name:      "decodepixel",
	Usage:     "Decode a pixel of the form <luma>:<chroma>.",
	ArgsUsage: "pixel",
	Description: `
	Decode a pixel and print its amount and asset. The chroma can be given
	as a hex encoded x-only key or as a taproot address of the network.
	`,
	Action: decodePixel,
}

func decodePixel(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "decodepixel")
	}

	params, err := chainParams(ctx)
	if err != nil {
		return err
	}

	pixel, err := chroma.ParsePixel(ctx.Args().First(), params)
	if err != nil {
		return err
	}

	addr, err := pixel.Chroma.Address(params)
	if err != nil {
		return err
	}

	return printJSON(ctx, map[string]interface{}{
		"luma":    pixel.Luma,
		"chroma":  pixel.Chroma.String(),
		"address": addr,
	})
}

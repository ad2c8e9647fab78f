package yuvln

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/akitamiabtc/yuvln/invoices"
	"github.com/akitamiabtc/yuvln/ledger"
	"github.com/akitamiabtc/yuvln/payments"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/urfave/cli"
)

// DefaultPaymentTimeout bounds payments started from the console.
const DefaultPaymentTimeout = time.Minute

// ConsoleConfig holds the collaborators of the console.
type ConsoleConfig struct {
	Self route.Vertex

	ChainParams *chaincfg.Params

	Ledger *ledger.Ledger

	Coordinator *payments.Coordinator

	InvoiceRegistry *invoices.Registry

	// PaymentTimeout is the deadline of payments started from the
	// console.
	PaymentTimeout time.Duration

	In  io.Reader
	Out io.Writer
}

// Console reads one command per line and executes it against the running
// node.
type Console struct {
	cfg *ConsoleConfig
}

// NewConsole creates a new console.
func NewConsole(cfg *ConsoleConfig) *Console {
	if cfg.PaymentTimeout == 0 {
		cfg.PaymentTimeout = DefaultPaymentTimeout
	}

	return &Console{cfg: cfg}
}

// Run executes commands until the input is exhausted or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	errChan := make(chan error, 1)
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(c.cfg.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errChan <- scanner.Err()
	}()

	c.prompt()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return <-errChan
			}

			if err := c.Exec(ctx, line); err != nil {
				fmt.Fprintf(c.cfg.Out, "ERROR: %v\n", err)
			}
			c.prompt()

		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Console) prompt() {
	fmt.Fprint(c.cfg.Out, "> ")
}

// Exec executes a single command line.
func (c *Console) Exec(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}

	app := cli.NewApp()
	app.Name = "yuvln"
	app.HideVersion = true
	app.Writer = c.cfg.Out
	app.ErrWriter = c.cfg.Out
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.CommandNotFound = func(_ *cli.Context, cmd string) {
		fmt.Fprintf(c.cfg.Out, "Unknown command %q, try help\n", cmd)
	}
	app.Commands = c.commands(ctx)

	return app.Run(append([]string{app.Name}, args...))
}

func (c *Console) commands(ctx context.Context) []cli.Command {
	return []cli.Command{{
		Name:      "sendpayment",
		Usage:     "Pay a payment request.",
		ArgsUsage: "payreq",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name: "pixel",
				Usage: "pay the invoice in an asset, given " +
					"as <amount>:<chroma>",
			},
		},
		Action: func(cliCtx *cli.Context) error {
			return c.sendPayment(ctx, cliCtx)
		},
	}, {
		Name:      "payhash",
		Usage:     "Pay an amount to a node for a known payment hash.",
		ArgsUsage: "dest amount hash",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "chroma",
				Usage: "the asset to pay in",
			},
		},
		Action: func(cliCtx *cli.Context) error {
			return c.payHash(ctx, cliCtx)
		},
	}, {
		Name:      "keysend",
		Usage:     "Pay an amount to a node without an invoice.",
		ArgsUsage: "dest amount",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "chroma",
				Usage: "the asset to pay in",
			},
		},
		Action: func(cliCtx *cli.Context) error {
			return c.keysend(ctx, cliCtx)
		},
	}, {
		Name:      "cancelpayment",
		Usage:     "Cancel an active payment.",
		ArgsUsage: "hash",
		Action: func(cliCtx *cli.Context) error {
			hash, err := lntypes.MakeHashFromStr(cliCtx.Args().First())
			if err != nil {
				return err
			}

			return c.cfg.Coordinator.CancelPayment(hash)
		},
	}, {
		Name:      "getinvoice",
		Usage:     "Create an invoice.",
		ArgsUsage: "amount",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "chroma",
				Usage: "the asset to request",
			},
			cli.DurationFlag{
				Name:  "expiry",
				Usage: "the validity of the invoice",
			},
		},
		Action: func(cliCtx *cli.Context) error {
			return c.getInvoice(ctx, cliCtx)
		},
	}, {
		Name:      "cancelinvoice",
		Usage:     "Cancel an open invoice.",
		ArgsUsage: "hash",
		Action: func(cliCtx *cli.Context) error {
			hash, err := lntypes.MakeHashFromStr(cliCtx.Args().First())
			if err != nil {
				return err
			}

			return c.cfg.InvoiceRegistry.CancelInvoice(ctx, hash)
		},
	}, {
		Name:  "listchannels",
		Usage: "List the known channels and their balances.",
		Action: func(*cli.Context) error {
			return c.printJSON(NewChannelsResp(c.cfg.Ledger.Channels()))
		},
	}, {
		Name:  "listpayments",
		Usage: "List the outbound payments.",
		Action: func(*cli.Context) error {
			return c.printJSON(
				NewPaymentsResp(c.cfg.Coordinator.ListPayments()),
			)
		},
	}, {
		Name:  "listinvoices",
		Usage: "List the invoices.",
		Action: func(*cli.Context) error {
			return c.printJSON(NewInvoicesResp(
				c.cfg.InvoiceRegistry.ListInvoices(),
			))
		},
	}, {
		Name:  "nodeinfo",
		Usage: "Show the identity of the node.",
		Action: func(*cli.Context) error {
			return c.printJSON(map[string]string{
				"pubkey":  hex.EncodeToString(c.cfg.Self[:]),
				"version": Version(),
			})
		},
	}}
}

func (c *Console) sendPayment(ctx context.Context, cliCtx *cli.Context) error {
	if cliCtx.NArg() != 1 {
		return fmt.Errorf("payment request required")
	}

	var pixel *chroma.Pixel
	if cliCtx.IsSet("pixel") {
		p, err := chroma.ParsePixel(
			cliCtx.String("pixel"), c.cfg.ChainParams,
		)
		if err != nil {
			return err
		}
		pixel = &p
	}

	outcome, err := c.cfg.Coordinator.PayInvoice(
		ctx, cliCtx.Args().First(), pixel,
		time.Now().Add(c.cfg.PaymentTimeout),
	)
	if outcome != nil {
		if printErr := c.printJSON(NewOutcomeResp(outcome)); printErr != nil {
			return printErr
		}
	}

	return err
}

func (c *Console) payHash(ctx context.Context, cliCtx *cli.Context) error {
	args := cliCtx.Args()
	if len(args) != 3 {
		return fmt.Errorf("dest, amount and hash required")
	}

	dest, err := route.NewVertexFromStr(args[0])
	if err != nil {
		return fmt.Errorf("invalid dest: %w", err)
	}

	var amount uint64
	if _, err := fmt.Sscan(args[1], &amount); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}

	hash, err := lntypes.MakeHashFromStr(args[2])
	if err != nil {
		return fmt.Errorf("invalid hash: %w", err)
	}

	tag, err := c.parseChroma(cliCtx)
	if err != nil {
		return err
	}

	outcome, err := c.cfg.Coordinator.SendPayment(ctx, payments.Request{
		Dest:     dest,
		Amount:   amount,
		Chroma:   tag,
		Hash:     hash,
		Deadline: time.Now().Add(c.cfg.PaymentTimeout),
	})
	if outcome != nil {
		if printErr := c.printJSON(NewOutcomeResp(outcome)); printErr != nil {
			return printErr
		}
	}

	return err
}

func (c *Console) keysend(ctx context.Context, cliCtx *cli.Context) error {
	args := cliCtx.Args()
	if len(args) != 2 {
		return fmt.Errorf("dest and amount required")
	}

	dest, err := route.NewVertexFromStr(args[0])
	if err != nil {
		return fmt.Errorf("invalid dest: %w", err)
	}

	var amount uint64
	if _, err := fmt.Sscan(args[1], &amount); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}

	tag, err := c.parseChroma(cliCtx)
	if err != nil {
		return err
	}

	outcome, err := c.cfg.Coordinator.Keysend(
		ctx, dest, amount, tag, time.Now().Add(c.cfg.PaymentTimeout),
	)
	if outcome != nil {
		if printErr := c.printJSON(NewOutcomeResp(outcome)); printErr != nil {
			return printErr
		}
	}

	return err
}

func (c *Console) getInvoice(ctx context.Context, cliCtx *cli.Context) error {
	if cliCtx.NArg() != 1 {
		return fmt.Errorf("amount required")
	}

	var amount uint64
	if _, err := fmt.Sscan(cliCtx.Args().First(), &amount); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}

	tag, err := c.parseChroma(cliCtx)
	if err != nil {
		return err
	}

	inv, err := c.cfg.InvoiceRegistry.AddInvoice(
		ctx, amount, tag, cliCtx.Duration("expiry"),
	)
	if err != nil {
		return err
	}

	return c.printJSON(NewInvoiceResp(inv))
}

func (c *Console) parseChroma(cliCtx *cli.Context) (chroma.Chroma, error) {
	if !cliCtx.IsSet("chroma") {
		return chroma.None, nil
	}

	return chroma.Parse(cliCtx.String("chroma"), c.cfg.ChainParams)
}

func (c *Console) printJSON(resp any) error {
	b, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(c.cfg.Out, "%s\n", b)
	return err
}

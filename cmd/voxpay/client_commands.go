package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/voxpay/client"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "Send payments through a running voxpay server",
		Subcommands: []*cli.Command{
			clientPayCommand(),
			clientStatusCommand(),
			clientAwaitCommand(),
			clientAccountCommand(),
		},
	}
}

func newAPIClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}
	return client.NewClient(serverURL, nil, setupLogger(c)), nil
}

func clientPayCommand() *cli.Command {
	return &cli.Command{
		Name:      "pay",
		Usage:     "Ask the server to send a payment",
		ArgsUsage: "[TEXT]",
		Flags: []cli.Flag{
			&cli.Float64Flag{
				Name:    "amount",
				Aliases: []string{"a"},
				Usage:   "Amount in whole tokens",
			},
			&cli.StringFlag{
				Name:  "to",
				Usage: "Recipient SS58 address or contact name",
			},
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Skip the confirmation prompt",
			},
			&cli.BoolFlag{
				Name:  "async",
				Usage: "Run the payment in the background and print the workflow id",
			},
		},
		Action: func(c *cli.Context) error {
			text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if text == "" && !c.IsSet("amount") {
				return fmt.Errorf("either TEXT or --amount and --to are required")
			}
			if text != "" && (c.IsSet("amount") || c.IsSet("to")) {
				return fmt.Errorf("TEXT cannot be combined with --amount or --to")
			}

			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}
			ctx := c.Context

			amount, recipient := c.Float64("amount"), c.String("to")
			if text != "" {
				preview, err := cl.ParseIntent(ctx, text)
				if err != nil {
					return err
				}
				amount, recipient = preview.Amount, preview.Recipient
			}

			confirmed := true
			if !c.Bool("yes") {
				confirmed, err = promptConfirmer(c.App.Reader, c.App.ErrWriter, "").Confirm(ctx, amount, recipient)
				if err != nil {
					return err
				}
			}

			if c.Bool("async") {
				if !confirmed {
					fmt.Fprintln(c.App.Writer, "Transaction cancelled.")
					return nil
				}
				run, err := cl.PayAsync(ctx, amount, recipient)
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return outputJSON(c.App.Writer, run)
				}
				fmt.Fprintf(c.App.Writer, "Started %s (%s)\n", run.WorkflowID, run.Status)
				return nil
			}

			var p *client.Payment
			if text != "" {
				p, err = cl.PayText(ctx, text, confirmed)
			} else {
				p, err = cl.Pay(ctx, amount, recipient, confirmed)
			}
			if p == nil {
				return err
			}

			if c.Bool("json") {
				if jerr := outputJSON(c.App.Writer, p); jerr != nil {
					return jerr
				}
			} else {
				fmt.Fprintln(c.App.Writer, p.Status)
			}
			if errors.Is(err, client.ErrPaymentFailed) {
				return cli.Exit("", 1)
			}
			return err
		},
	}
}

func clientStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the state of a background payment",
		ArgsUsage: "WORKFLOW_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("WORKFLOW_ID is required")
			}
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			run, err := cl.Workflow(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, run)
			}

			w := newTabWriter(c.App.Writer)
			fmt.Fprintf(w, "Workflow:\t%s\n", run.WorkflowID)
			fmt.Fprintf(w, "Run:\t%s\n", run.RunID)
			fmt.Fprintf(w, "Status:\t%s\n", run.Status)
			if len(run.Result) > 0 {
				fmt.Fprintf(w, "Result:\t%s\n", run.Result)
			}
			if run.Error != "" {
				fmt.Fprintf(w, "Error:\t%s\n", run.Error)
			}
			return w.Flush()
		},
	}
}

func clientAwaitCommand() *cli.Command {
	return &cli.Command{
		Name:  "await",
		Usage: "Block until a finished payment matching the criteria is streamed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "signer",
				Usage: "Only payments signed by this address",
			},
			&cli.StringFlag{
				Name:  "recipient",
				Usage: "Only payments to this address",
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "Only payments that ended in this state",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait",
			},
		},
		Action: func(c *cli.Context) error {
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}

			recipient, state := c.String("recipient"), c.String("state")
			match := func(e *client.PaymentEvent) bool {
				if recipient != "" && e.Recipient != recipient {
					return false
				}
				return state == "" || e.State == state
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			ev, err := cl.Await(ctx, c.String("signer"), match)
			if err != nil {
				return fmt.Errorf("failed to await payment: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, ev)
			}
			fmt.Fprintf(c.App.Writer, "%s %s: %s\n", ev.PaymentID, ev.State, ev.Status)
			return nil
		},
	}
}

func clientAccountCommand() *cli.Command {
	return &cli.Command{
		Name:  "account",
		Usage: "Show the server signer's address and balance",
		Action: func(c *cli.Context) error {
			cl, err := newAPIClient(c)
			if err != nil {
				return err
			}
			acct, err := cl.Account(c.Context)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, acct)
			}

			w := newTabWriter(c.App.Writer)
			fmt.Fprintf(w, "Address:\t%s\n", acct.Address)
			fmt.Fprintf(w, "Balance:\t%s\n", acct.Balance)
			fmt.Fprintf(w, "Endpoint:\t%s\n", acct.Endpoint)
			return w.Flush()
		},
	}
}

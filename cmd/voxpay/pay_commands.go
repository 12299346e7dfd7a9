package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/voxpay/service/config"
	"github.com/brojonat/voxpay/service/intent"
	"github.com/brojonat/voxpay/service/pipeline"
	"github.com/brojonat/voxpay/service/substrate"
)

func payCommand() *cli.Command {
	return &cli.Command{
		Name:      "pay",
		Usage:     "Send a payment, either from a sentence or from explicit flags",
		ArgsUsage: "[TEXT]",
		Description: `Examples:
   voxpay pay "send 1.5 DOT to bob"
   voxpay pay --amount 1.5 --to 5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty

The transfer is shown for confirmation before anything is signed.`,
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
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Print every state transition",
			},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(c)
			ctx := c.Context

			text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if text == "" && !c.IsSet("amount") {
				return fmt.Errorf("either TEXT or --amount and --to are required")
			}
			if text != "" && (c.IsSet("amount") || c.IsSet("to")) {
				return fmt.Errorf("TEXT cannot be combined with --amount or --to")
			}

			opts := pipeline.Options{}
			if c.Bool("verbose") {
				opts.Observer = pipeline.ObserverFunc(func(_ context.Context, _ string, t pipeline.Transition) {
					fmt.Fprintf(c.App.ErrWriter, "%s  %s -> %s\n", t.At.Format("15:04:05.000"), t.From, t.To)
				})
			}

			local, err := buildService(c, opts, logger)
			if err != nil {
				return err
			}
			defer local.Close()
			svc := local.Service

			var confirmer pipeline.Confirmer = pipeline.AutoConfirm
			if !c.Bool("yes") {
				confirmer = promptConfirmer(c.App.Reader, c.App.ErrWriter, local.Config.TokenSymbol)
			}

			var req substrate.TransactionRequest
			if text != "" {
				ri, err := svc.ResolveIntent(ctx, text)
				if err != nil {
					return err
				}
				if ri.Contact != "" {
					fmt.Fprintf(c.App.ErrWriter, "Resolved %s to %s\n", ri.Contact, ri.Recipient)
				}
				req = ri.Request()
			} else {
				req = substrate.TransactionRequest{Amount: c.Float64("amount"), Recipient: c.String("to")}
				if req.Recipient != "" && substrate.ValidateAddress(req.Recipient) != nil {
					addr, found, err := local.Resolver.Resolve(ctx, req.Recipient)
					if err != nil {
						return err
					}
					if found {
						fmt.Fprintf(c.App.ErrWriter, "Resolved %s to %s\n", req.Recipient, addr)
						req.Recipient = addr
					}
				}
			}

			// failed runs still carry an outcome to report
			outcome, err := svc.Execute(ctx, req, confirmer)
			if outcome == nil {
				return err
			}

			if c.Bool("json") {
				if err := outputJSON(c.App.Writer, outcome); err != nil {
					return err
				}
			} else {
				printOutcome(c.App.Writer, outcome)
			}

			if !outcome.Succeeded() {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func parseCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "Show the amount and recipient extracted from a sentence",
		ArgsUsage: "TEXT",
		Action: func(c *cli.Context) error {
			text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if text == "" {
				return fmt.Errorf("TEXT is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			parsed := intent.NewRuleParser(cfg.TokenSymbol).Parse(text)
			result := parseResult{Text: text, Ready: parsed.Ready()}
			if parsed.Amount != nil {
				result.Amount = *parsed.Amount
			}
			if parsed.Recipient != nil {
				result.Recipient = *parsed.Recipient
				if substrate.ValidateAddress(result.Recipient) != nil {
					if addr, ok, _ := cfg.Contacts.Resolve(c.Context, result.Recipient); ok {
						result.Contact = result.Recipient
						result.Recipient = addr
					}
				}
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, result)
			}

			w := newTabWriter(c.App.Writer)
			fmt.Fprintf(w, "Text:\t%s\n", result.Text)
			if parsed.Amount != nil {
				fmt.Fprintf(w, "Amount:\t%v %s\n", result.Amount, cfg.TokenSymbol)
			} else {
				fmt.Fprintf(w, "Amount:\t(missing)\n")
			}
			switch {
			case result.Contact != "":
				fmt.Fprintf(w, "Recipient:\t%s (%s)\n", result.Recipient, result.Contact)
			case result.Recipient != "":
				fmt.Fprintf(w, "Recipient:\t%s\n", result.Recipient)
			default:
				fmt.Fprintf(w, "Recipient:\t(missing)\n")
			}
			fmt.Fprintf(w, "Ready:\t%t\n", result.Ready)
			return w.Flush()
		},
	}
}

type parseResult struct {
	Text      string  `json:"text"`
	Amount    float64 `json:"amount,omitempty"`
	Recipient string  `json:"recipient,omitempty"`
	Contact   string  `json:"contact,omitempty"`
	Ready     bool    `json:"ready"`
}

func addressCommand() *cli.Command {
	return &cli.Command{
		Name:  "address",
		Usage: "Print the signer's SS58 address",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.RequireSigner(); err != nil {
				return err
			}
			identity, err := substrate.DeriveIdentity(cfg.SecretPhrase, cfg.SS58Prefix)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]interface{}{
					"address":     identity.Address(),
					"ss58_prefix": identity.Prefix(),
				})
			}
			fmt.Fprintln(c.App.Writer, identity.Address())
			return nil
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "Read the signer's free balance from the first reachable node",
		Action: func(c *cli.Context) error {
			logger := setupLogger(c)

			local, err := buildService(c, pipeline.Options{}, logger)
			if err != nil {
				return err
			}
			defer local.Close()

			acct, err := local.Service.Account(c.Context)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, acct)
			}

			w := newTabWriter(c.App.Writer)
			fmt.Fprintf(w, "Address:\t%s\n", acct.Address)
			fmt.Fprintf(w, "Balance:\t%s %s\n", acct.Balance, local.Config.TokenSymbol)
			fmt.Fprintf(w, "Planck:\t%s\n", acct.Planck)
			if !acct.Exists {
				fmt.Fprintf(w, "Note:\taccount not found on chain\n")
			}
			fmt.Fprintf(w, "Endpoint:\t%s\n", acct.Endpoint)
			return w.Flush()
		},
	}
}

// newDialer builds the node dialer for local commands.
var newDialer = substrate.NewRPCDialer

// localService is a payment service that dials real nodes from this
// process.
type localService struct {
	Service  *pipeline.Service
	Resolver intent.Resolver
	Config   *config.Config
	Close    func()
}

// buildService loads configuration and assembles a local payment service.
// Stored contacts and history are used when a database is configured.
func buildService(c *cli.Context, opts pipeline.Options, logger *slog.Logger) (*localService, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	components, err := pipeline.NewComponents(cfg, newDialer(logger), nil, logger)
	if err != nil {
		return nil, err
	}

	resolvers := intent.Chain{cfg.Contacts}
	closer := func() {}
	if c.String("database-url") != "" {
		store, closeStore, err := getStore(c)
		if err != nil {
			return nil, err
		}
		resolvers = append(resolvers, intent.ResolverFunc(store.ResolveContact))
		opts.Recorder = store
		closer = closeStore
	}

	opts.Endpoints = cfg.NodeEndpoints
	opts.WaitForInclusion = cfg.WaitForInclusion
	opts.Parser = intent.NewRuleParser(cfg.TokenSymbol)
	opts.Resolver = resolvers

	return &localService{
		Service:  pipeline.NewService(components, opts, logger),
		Resolver: resolvers,
		Config:   cfg,
		Close:    closer,
	}, nil
}

// promptConfirmer asks on out and reads a yes/no answer from in. Anything
// other than y or yes declines.
func promptConfirmer(in io.Reader, out io.Writer, symbol string) pipeline.Confirmer {
	reader := bufio.NewReader(in)
	return pipeline.ConfirmFunc(func(ctx context.Context, amount float64, recipient string) (bool, error) {
		fmt.Fprintf(out, "Send %s to %s? [y/N]: ", strings.TrimSpace(fmt.Sprintf("%v %s", amount, symbol)), recipient)

		type answer struct {
			line string
			err  error
		}
		ch := make(chan answer, 1)
		go func() {
			line, err := reader.ReadString('\n')
			ch <- answer{line, err}
		}()

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case a := <-ch:
			if a.err != nil && a.err != io.EOF {
				return false, fmt.Errorf("read confirmation: %w", a.err)
			}
			switch strings.ToLower(strings.TrimSpace(a.line)) {
			case "y", "yes":
				return true, nil
			default:
				return false, nil
			}
		}
	})
}

func printOutcome(w io.Writer, o *pipeline.Outcome) {
	fmt.Fprintln(w, o.Status)
	if o.Succeeded() && o.Receipt != nil {
		tw := newTabWriter(w)
		fmt.Fprintf(tw, "Payment:\t%s\n", o.ID)
		fmt.Fprintf(tw, "Recipient:\t%s\n", o.Request.Recipient)
		fmt.Fprintf(tw, "Planck:\t%s\n", o.Planck)
		fmt.Fprintf(tw, "Extrinsic:\t%s\n", o.Receipt.ExtrinsicHash)
		fmt.Fprintf(tw, "Endpoint:\t%s\n", o.Receipt.Endpoint)
		fmt.Fprintf(tw, "Duration:\t%s\n", o.Duration().Round(time.Millisecond))
		tw.Flush()
	}
}

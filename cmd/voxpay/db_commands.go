package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/itchyny/gojq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/voxpay/service/db"
	"github.com/brojonat/voxpay/service/substrate"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recorded payments (newest first)",
		Description: `Reads payment outcomes from the database.

jq filters run against each payment's JSON form and must all be truthy:
   voxpay history --jq '.state == "failed"' --jq '.amount > 1'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "signer",
				Usage: "Only payments signed by this address",
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "Only payments in this terminal state (confirmed or failed)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Value: 50,
				Usage: "Maximum number of payments to read",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of payments to skip",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter applied to each payment (repeatable, all must match)",
			},
		},
		Action: func(c *cli.Context) error {
			filters, err := compileFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
			defer cancel()

			payments, err := store.ListPayments(ctx, db.ListPaymentsParams{
				Signer: c.String("signer"),
				State:  c.String("state"),
				Limit:  int32(c.Int("limit")),
				Offset: int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list payments: %w", err)
			}

			payments, err = filterPayments(payments, filters)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, payments)
			}
			if len(payments) == 0 {
				fmt.Fprintln(c.App.Writer, "No payments found")
				return nil
			}

			w := newTabWriter(c.App.Writer)
			fmt.Fprintln(w, "ID\tSTATE\tAMOUNT\tRECIPIENT\tKIND\tFINISHED")
			for _, p := range payments {
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\t%s\n",
					p.ID,
					p.State,
					p.Amount,
					p.Recipient,
					stringOr(p.ErrorKind, "-"),
					p.FinishedAt.Format(time.RFC3339),
				)
			}
			return w.Flush()
		},
	}
}

func contactsCommands() *cli.Command {
	return &cli.Command{
		Name:  "contacts",
		Usage: "Manage the address book used to resolve spoken names",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add or update a contact",
				ArgsUsage: "NAME ADDRESS",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("NAME and ADDRESS are required")
					}
					name, address := c.Args().Get(0), c.Args().Get(1)
					if err := substrate.ValidateAddress(address); err != nil {
						return err
					}

					store, closer, err := getStore(c)
					if err != nil {
						return err
					}
					defer closer()

					contact, err := store.UpsertContact(c.Context, name, address)
					if err != nil {
						return fmt.Errorf("failed to save contact: %w", err)
					}
					if c.Bool("json") {
						return outputJSON(c.App.Writer, contact)
					}
					fmt.Fprintf(c.App.Writer, "Saved %s -> %s\n", contact.Name, contact.Address)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List contacts",
				Action: func(c *cli.Context) error {
					store, closer, err := getStore(c)
					if err != nil {
						return err
					}
					defer closer()

					contacts, err := store.ListContacts(c.Context)
					if err != nil {
						return fmt.Errorf("failed to list contacts: %w", err)
					}
					if c.Bool("json") {
						return outputJSON(c.App.Writer, contacts)
					}
					if len(contacts) == 0 {
						fmt.Fprintln(c.App.Writer, "No contacts found")
						return nil
					}

					w := newTabWriter(c.App.Writer)
					fmt.Fprintln(w, "NAME\tADDRESS\tUPDATED")
					for _, ct := range contacts {
						fmt.Fprintf(w, "%s\t%s\t%s\n", ct.Name, ct.Address, ct.UpdatedAt.Format(time.RFC3339))
					}
					return w.Flush()
				},
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Remove a contact",
				ArgsUsage: "NAME",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("NAME is required")
					}

					store, closer, err := getStore(c)
					if err != nil {
						return err
					}
					defer closer()

					if err := store.DeleteContact(c.Context, c.Args().First()); err != nil {
						return fmt.Errorf("failed to remove contact: %w", err)
					}
					fmt.Fprintf(c.App.Writer, "Removed %s\n", c.Args().First())
					return nil
				},
			},
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply (or with --down, roll back) the database schema",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "down",
				Usage: "Roll back every migration",
			},
		},
		Action: func(c *cli.Context) error {
			dbURL := c.String("database-url")
			if dbURL == "" {
				return fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
			}
			logger := setupLogger(c)
			if c.Bool("down") {
				return db.MigrateDown(dbURL, logger)
			}
			return db.Migrate(dbURL, logger)
		},
	}
}

// compileFilters parses and compiles jq expressions.
func compileFilters(exprs []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, 0, len(exprs))
	for _, expr := range exprs {
		query, err := gojq.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid jq filter %q: %w", expr, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// filterPayments keeps the payments for which every filter yields a truthy
// first result. A filter that errors on a payment excludes it.
func filterPayments(payments []*db.Payment, filters []*gojq.Code) ([]*db.Payment, error) {
	if len(filters) == 0 {
		return payments, nil
	}

	var kept []*db.Payment
	for _, p := range payments {
		// gojq only walks plain JSON values
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payment %s: %w", p.ID, err)
		}
		var doc interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode payment %s: %w", p.ID, err)
		}

		if matchesAll(doc, filters) {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

func matchesAll(doc interface{}, filters []*gojq.Code) bool {
	for _, code := range filters {
		v, ok := code.Run(doc).Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// getStore opens a pool for the global --database-url flag. The caller
// must invoke the returned closer.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db.NewStore(pool, nil), pool.Close, nil
}

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func stringOr(s *string, fallback string) string {
	if s != nil && *s != "" {
		return *s
	}
	return fallback
}

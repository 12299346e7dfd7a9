package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "voxpay",
		Usage: "Turn a spoken or typed payment intent into a Substrate transfer",
		Description: `A command-line tool for sending payments and inspecting the voxpay service.

Local commands (pay, parse, address, balance) sign with SECRET_PHRASE and talk
to the nodes in NODE_ENDPOINTS directly. The client commands go through a
running voxpay server instead.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			payCommand(),
			parseCommand(),
			addressCommand(),
			balanceCommand(),
			historyCommand(),
			contactsCommands(),
			clientCommands(),
			eventsCommands(),
			{
				Name:  "db",
				Usage: "Database maintenance commands",
				Subcommands: []*cli.Command{
					migrateCommand(),
				},
			},
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL (enables history and stored contacts)",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "voxpay server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "warn",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}

// setupLogger creates a structured logger on stderr so stdout stays
// reserved for command output.
func setupLogger(c *cli.Context) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(c.String("log-level")),
	}
	return slog.New(slog.NewJSONHandler(c.App.ErrWriter, opts))
}

func parseLogLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

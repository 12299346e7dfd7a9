package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/brojonat/voxpay/service/nats"
)

func natsURLFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "nats-url",
		Usage:   "NATS server URL",
		EnvVars: []string{"NATS_URL"},
		Value:   "nats://localhost:4222",
	}
}

func eventsCommands() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Payment event stream commands (NATS JetStream)",
		Subcommands: []*cli.Command{
			subscribeCommand(),
			inspectStreamCommand(),
		},
	}
}

func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Print finished payments as they are published",
		ArgsUsage: "[SIGNER_ADDRESS]",
		Description: `Events are published to the subject payments.{signer_address}.
Without an address every signer is streamed.

Example:
   voxpay events subscribe 5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY --all`,
		Flags: []cli.Flag{
			natsURLFlag(),
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay every retained event before following new ones",
			},
			&cli.StringFlag{
				Name:  "durable",
				Usage: "Durable consumer name (resumes where it left off)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Stop after this long (0 runs until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			subject := natspkg.StreamSubjects
			if c.NArg() > 0 {
				subject = natspkg.SubjectPrefix + c.Args().First()
			}

			nc, js, err := natspkg.Connect(c.String("nats-url"), "voxpay-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			ctx := c.Context
			if d := c.Duration("timeout"); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
				DeliverPolicy: jetstream.DeliverNewPolicy,
			}
			if c.Bool("all") {
				consumerConfig.DeliverPolicy = jetstream.DeliverAllPolicy
			}
			if name := c.String("durable"); name != "" {
				consumerConfig.Durable = name
				consumerConfig.Name = name
			}

			cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			if !c.Bool("json") {
				fmt.Fprintf(c.App.ErrWriter, "Subscribed to %s (Ctrl-C to exit)\n", subject)
			}

			msgChan := make(chan jetstream.Msg, 10)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-ctx.Done():
				}
			})
			if err != nil {
				return fmt.Errorf("failed to start consuming: %w", err)
			}
			defer cc.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case msg := <-msgChan:
					var event natspkg.PaymentEvent
					if err := json.Unmarshal(msg.Data(), &event); err != nil {
						fmt.Fprintf(c.App.ErrWriter, "skipping malformed event: %v\n", err)
						msg.Ack()
						continue
					}
					if err := printEvent(c.App.Writer, &event, c.Bool("json")); err != nil {
						return err
					}
					msg.Ack()
				}
			}
		},
	}
}

func printEvent(w io.Writer, e *natspkg.PaymentEvent, asJSON bool) error {
	if asJSON {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	fmt.Fprintf(w, "%s  %s  %v -> %s\n", e.FinishedAt.Format(time.RFC3339), e.State, e.Amount, e.Recipient)
	fmt.Fprintf(w, "   %s\n", e.Status)
	if e.ExtrinsicHash != "" {
		fmt.Fprintf(w, "   Extrinsic: %s\n", e.ExtrinsicHash)
	}
	_, err := fmt.Fprintln(w)
	return err
}

func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the PAYMENTS JetStream stream",
		Flags: []cli.Flag{
			natsURLFlag(),
		},
		Action: func(c *cli.Context) error {
			nc, js, err := natspkg.Connect(c.String("nats-url"), "voxpay-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}
			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, info)
			}

			w := newTabWriter(c.App.Writer)
			fmt.Fprintf(w, "Stream:\t%s\n", info.Config.Name)
			fmt.Fprintf(w, "Subjects:\t%v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:\t%d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:\t%d\n", info.State.Bytes)
			fmt.Fprintf(w, "First Seq:\t%d\n", info.State.FirstSeq)
			fmt.Fprintf(w, "Last Seq:\t%d\n", info.State.LastSeq)
			fmt.Fprintf(w, "Consumers:\t%d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:\t%s\n", info.Config.MaxAge)
			fmt.Fprintf(w, "Storage:\t%s\n", info.Config.Storage)
			return w.Flush()
		},
	}
}

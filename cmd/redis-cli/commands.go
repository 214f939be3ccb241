package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pior/redis"
	"github.com/pior/redis/resp"
	"github.com/urfave/cli/v2"
)

func execCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Aliases:   []string{"x"},
		Usage:     "Send one command and print its reply",
		ArgsUsage: "<command> [args...]",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return errors.New("usage: redis-cli exec <command> [args...]")
			}

			client, err := dial(c)
			if err != nil {
				return err
			}
			defer client.Close()

			args := c.Args().Slice()
			reply, err := client.Do(c.Context, args[0], stringArgs(args[1:])...)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, reply)
			return nil
		},
	}
}

func pipelineCommand() *cli.Command {
	return &cli.Command{
		Name:  "pipeline",
		Usage: "Send the commands read from stdin, one per line, in a single round trip",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "tx",
				Usage: "wrap the commands in MULTI/EXEC",
			},
		},
		Action: func(c *cli.Context) error {
			client, err := dial(c)
			if err != nil {
				return err
			}
			defer client.Close()

			p := client.Pipeline()
			if c.Bool("tx") {
				p = client.Tx()
			}

			scanner := bufio.NewScanner(c.App.Reader)
			for scanner.Scan() {
				fields := strings.Fields(scanner.Text())
				if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
					continue
				}
				p.Do(c.Context, fields[0], stringArgs(fields[1:])...)
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("reading commands: %w", err)
			}

			replies, err := p.Flush(c.Context)
			if err != nil {
				return err
			}
			for i, reply := range replies {
				fmt.Fprintf(c.App.Writer, "%d) %s\n", i+1, reply)
			}
			return nil
		},
	}
}

func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Print the messages published to channels",
		ArgsUsage: "<channel> [channel...]",
		Flags:     []cli.Flag{countFlag()},
		Action: func(c *cli.Context) error {
			return listen(c, func(ctx context.Context, client *redis.Client, names []string) (*redis.Subscription, error) {
				return client.Subscribe(ctx, names...)
			})
		},
	}
}

func psubscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "psubscribe",
		Usage:     "Print the messages published to channels matching patterns",
		ArgsUsage: "<pattern> [pattern...]",
		Flags:     []cli.Flag{countFlag()},
		Action: func(c *cli.Context) error {
			return listen(c, func(ctx context.Context, client *redis.Client, names []string) (*redis.Subscription, error) {
				return client.PSubscribe(ctx, names...)
			})
		},
	}
}

func countFlag() cli.Flag {
	return &cli.IntFlag{
		Name:  "count",
		Usage: "exit after this many messages, 0 for no limit",
	}
}

type subscribeFunc func(ctx context.Context, client *redis.Client, names []string) (*redis.Subscription, error)

func listen(c *cli.Context, subscribe subscribeFunc) error {
	if c.NArg() == 0 {
		return errors.New("at least one channel or pattern is required")
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := dial(c)
	if err != nil {
		return err
	}

	sub, err := subscribe(ctx, client, c.Args().Slice())
	if err != nil {
		client.Close()
		return err
	}
	defer sub.Close()

	limit := c.Int("count")
	received := 0
	for msg, err := range sub.Messages(ctx) {
		if err != nil {
			if ctx.Err() != nil && c.Context.Err() == nil {
				// interrupted
				return nil
			}
			return err
		}

		if msg.Pattern != "" {
			fmt.Fprintf(c.App.Writer, "%s %s %s\n", msg.Pattern, msg.Channel, msg.Payload)
		} else {
			fmt.Fprintf(c.App.Writer, "%s %s\n", msg.Channel, msg.Payload)
		}

		received++
		if limit > 0 && received >= limit {
			return nil
		}
	}
	return nil
}

func publishCommand() *cli.Command {
	return &cli.Command{
		Name:      "publish",
		Usage:     "Publish a message and print the number of receivers",
		ArgsUsage: "<channel> <message>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return errors.New("usage: redis-cli publish <channel> <message>")
			}

			client, err := dial(c)
			if err != nil {
				return err
			}
			defer client.Close()

			reply, err := client.Do(c.Context, "PUBLISH", c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, reply)
			return nil
		},
	}
}

func pingCommand() *cli.Command {
	return &cli.Command{
		Name:  "ping",
		Usage: "Check the server and print the round-trip time",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "count",
				Usage: "number of pings",
				Value: 1,
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "delay between pings",
				Value: time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			client, err := dial(c)
			if err != nil {
				return err
			}
			defer client.Close()

			for i := range c.Int("count") {
				if i > 0 {
					time.Sleep(c.Duration("interval"))
				}

				start := time.Now()
				reply, err := client.Do(c.Context, "PING")
				if err != nil {
					return err
				}
				if reply.Kind != resp.KindSimpleString {
					return fmt.Errorf("unexpected reply: %s", reply)
				}
				fmt.Fprintf(c.App.Writer, "%s %s time=%v\n", reply, client.Addr(), time.Since(start).Round(time.Microsecond))
			}
			return nil
		},
	}
}

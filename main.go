package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"tcpchat/internal/chat"
	"tcpchat/internal/client"
	"tcpchat/internal/console"
	"tcpchat/internal/tui"
)

func main() {
	app := &cli.Command{
		Name:      "tcpchat",
		Usage:     "Real-time TCP chat server and client",
		UsageText: "tcpchat [global options] command [command options]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (debug, info, warn, error)",
				Sources: cli.EnvVars("TCPCHAT_LOG_LEVEL"),
				Value:   "info",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			joinCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("tcpchat failed")
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the chat server with an operator console",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "port",
				Usage:   "TCP port to listen on",
				Sources: cli.EnvVars("TCPCHAT_PORT"),
				Value:   chat.DefaultPort,
			},
			&cli.StringFlag{
				Name:    "nick",
				Usage:   "operator nickname",
				Sources: cli.EnvVars("TCPCHAT_NICK"),
			},
			&cli.DurationFlag{
				Name:  "idle-timeout",
				Usage: "drop connections idle for this long (0 disables)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := setupLogger(c.String("log-level")); err != nil {
				return err
			}

			nick := c.String("nick")
			if nick == "" {
				var err error
				if nick, err = promptFor("Enter your nickname: ", "Server"); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := chat.NewServer(chat.Config{
				Port:        c.String("port"),
				Nickname:    nick,
				IdleTimeout: c.Duration("idle-timeout"),
			}, log.Logger)

			go console.Run(ctx, srv.Events(), os.Stdout)
			go srv.RunConsole(ctx, console.ReadLines(os.Stdin))

			return srv.Start(ctx)
		},
	}
}

func joinCommand() *cli.Command {
	return &cli.Command{
		Name:  "join",
		Usage: "Join a chat server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "server address",
				Sources: cli.EnvVars("TCPCHAT_ADDR"),
			},
			&cli.StringFlag{
				Name:    "port",
				Usage:   "server TCP port",
				Sources: cli.EnvVars("TCPCHAT_PORT"),
				Value:   chat.DefaultPort,
			},
			&cli.StringFlag{
				Name:    "nick",
				Usage:   "nickname to join with",
				Sources: cli.EnvVars("TCPCHAT_NICK"),
			},
			&cli.BoolFlag{
				Name:  "ui",
				Usage: "use the full-screen terminal UI",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			// Keep the chat console readable: warnings only unless asked.
			level := c.String("log-level")
			if !c.IsSet("log-level") {
				level = "warn"
			}
			if err := setupLogger(level); err != nil {
				return err
			}

			nick := c.String("nick")
			if nick == "" {
				var err error
				if nick, err = promptFor("Enter your nickname: ", "Anonymous"); err != nil {
					return err
				}
			}
			addr := c.String("addr")
			if addr == "" {
				var err error
				if addr, err = promptFor("Enter server address: ", "127.0.0.1"); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			cl, err := client.Dial(ctx, client.Config{
				Addr:     addr,
				Port:     c.String("port"),
				Nickname: nick,
			}, log.Logger)
			if err != nil {
				return err
			}
			defer cl.Close()

			if c.Bool("ui") {
				ui, err := tui.New(cl, fmt.Sprintf("Connected to %s as %s | Ctrl-H: Help", addr, nick))
				if err != nil {
					return err
				}
				defer ui.Close()

				go cl.Run(ctx)
				return ui.Run()
			}

			go func() {
				for line := range console.ReadLines(os.Stdin) {
					cl.Submit(line)
				}
				cl.Close()
			}()
			go console.Run(ctx, cl.Events(), os.Stdout)

			return cl.Run(ctx)
		},
	}
}

func setupLogger(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(parsed)
	return nil
}

func promptFor(label, fallback string) (string, error) {
	value, err := console.Prompt(os.Stdout, bufio.NewReader(os.Stdin), label)
	if err != nil {
		return "", fmt.Errorf("prompt: %w", err)
	}
	if value == "" {
		value = fallback
	}
	return value, nil
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/structflow/structflow/internal/app"
	"github.com/structflow/structflow/internal/calendar"
	"github.com/structflow/structflow/internal/config"
	"github.com/structflow/structflow/internal/conversation"
	"github.com/structflow/structflow/internal/logger"
	"github.com/structflow/structflow/internal/pipeline"
	"github.com/structflow/structflow/internal/version"
)

// appFactory builds the App for a command; tests replace it.
var appFactory = func(cfg *config.Config, c *cli.Context) (*app.App, error) {
	log, err := logger.New(c.App.ErrWriter, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return app.New(cfg, log)
}

func newCLI() *cli.App {
	return &cli.App{
		Name:    "structflow",
		Usage:   "extract structured data from text with chat-completion models",
		Version: version.Get().String(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to the YAML config", EnvVars: []string{"STRUCTFLOW_CONFIG"}},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-format", Usage: "text or json"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on this address"},
		},
		Commands: []*cli.Command{
			{
				Name:      "calendar",
				Usage:     "create or update a calendar event from a request",
				ArgsUsage: "TEXT",
				Action: withApp(func(ctx context.Context, a *app.App, c *cli.Context) error {
					router, err := a.Router(ctx)
					if err != nil {
						return err
					}
					out, err := router.Execute(ctx, text(c))
					if err != nil {
						return err
					}
					return printOutcome(c.App.Writer, out)
				}),
			},
			{
				Name:      "confirm",
				Usage:     "extract an event and write a confirmation",
				ArgsUsage: "TEXT",
				Action: withApp(func(ctx context.Context, a *app.App, c *cli.Context) error {
					chain, err := a.Chain()
					if err != nil {
						return err
					}
					out, err := chain.Execute(ctx, text(c))
					if err != nil {
						return err
					}
					return printOutcome(c.App.Writer, out)
				}),
			},
			{
				Name:      "meeting",
				Usage:     "parse the date, place and participants of a meeting",
				ArgsUsage: "TEXT",
				Action: withApp(func(ctx context.Context, a *app.App, c *cli.Context) error {
					m, err := calendar.ParseMeeting(ctx, a.Client(), text(c))
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, m)
				}),
			},
			{
				Name:      "weather",
				Usage:     "answer a weather question using the get_weather tool",
				ArgsUsage: "QUESTION",
				Action: withApp(func(ctx context.Context, a *app.App, c *cli.Context) error {
					ag, err := a.WeatherAgent()
					if err != nil {
						return err
					}
					res, err := ag.Ask(ctx, text(c))
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, res)
				}),
			},
			{
				Name:      "faq",
				Usage:     "answer a store question from the knowledge base",
				ArgsUsage: "QUESTION",
				Action: withApp(func(ctx context.Context, a *app.App, c *cli.Context) error {
					ag, err := a.FAQAgent()
					if err != nil {
						return err
					}
					res, err := ag.Ask(ctx, text(c))
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, res)
				}),
			},
			{
				Name:  "chat",
				Usage: "read requests from stdin, one per line",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "flow", Value: "chat", Usage: "chat, calendar, confirm, weather or faq"},
				},
				Action: withApp(chat),
			},
			{
				Name:  "db",
				Usage: "manage the event store",
				Subcommands: []*cli.Command{
					{
						Name:  "init",
						Usage: "create or migrate the event store",
						Flags: []cli.Flag{&cli.BoolFlag{Name: "seed", Usage: "insert a sample event into an empty store"}},
						Action: withApp(func(ctx context.Context, a *app.App, c *cli.Context) error {
							events, err := a.Events(ctx)
							if err != nil {
								return err
							}
							if c.Bool("seed") {
								if err := events.Seed(ctx); err != nil {
									return err
								}
							}
							fmt.Fprintln(c.App.Writer, "event store ready")
							return nil
						}),
					},
					{
						Name:  "list",
						Usage: "print all events",
						Action: withApp(func(ctx context.Context, a *app.App, c *cli.Context) error {
							events, err := a.Events(ctx)
							if err != nil {
								return err
							}
							list, err := events.List(ctx)
							if err != nil {
								return err
							}
							return printJSON(c.App.Writer, list)
						}),
					},
				},
			},
			{
				Name:  "version",
				Usage: "print version information",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, version.Get())
					return nil
				},
			},
		},
	}
}

// loadConfig applies the global flags on top of the file and environment.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := c.String("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if v := c.String("metrics-addr"); v != "" {
		cfg.Metrics.Addr = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%w", err)
	}
	return cfg, nil
}

type action func(ctx context.Context, a *app.App, c *cli.Context) error

func withApp(fn action) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		a, err := appFactory(cfg, c)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		ctx, cancel := context.WithCancel(logger.Set(c.Context, a.Logger()))
		defer cancel()
		if cfg.Metrics.Addr != "" {
			go func() {
				if err := a.Metrics().Serve(ctx, cfg.Metrics.Addr); err != nil {
					a.Logger().Error("metrics server", "error", err)
				}
			}()
		}
		return fn(ctx, a, c)
	}
}

func text(c *cli.Context) string {
	return strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printOutcome(w io.Writer, out *pipeline.Outcome) error {
	if !out.Accepted {
		_, err := fmt.Fprintf(w, "request not handled at stage %s: %s\n", out.Stage, out.Reason)
		return err
	}
	return printJSON(w, out.Result)
}

func chat(ctx context.Context, a *app.App, c *cli.Context) error {
	handle, err := chatFlow(ctx, a, c.String("flow"))
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(c.App.Reader)
	for {
		fmt.Fprint(c.App.Writer, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.App.Writer)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := handle(line, c.App.Writer); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(c.App.ErrWriter, "error: %v\n", err)
		}
	}
}

func chatFlow(ctx context.Context, a *app.App, flow string) (func(line string, w io.Writer) error, error) {
	switch flow {
	case "chat":
		ag, err := a.ChatAgent(ctx)
		if err != nil {
			return nil, err
		}
		var conv *conversation.Conversation
		return func(line string, w io.Writer) error {
			if conv == nil {
				conv = ag.NewConversation(line)
			} else {
				conv.Append(conversation.User(line))
			}
			answer, err := ag.Reply(ctx, conv)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(w, answer)
			return err
		}, nil
	case "calendar":
		router, err := a.Router(ctx)
		if err != nil {
			return nil, err
		}
		return func(line string, w io.Writer) error {
			out, err := router.Execute(ctx, line)
			if err != nil {
				return err
			}
			return printOutcome(w, out)
		}, nil
	case "confirm":
		chain, err := a.Chain()
		if err != nil {
			return nil, err
		}
		return func(line string, w io.Writer) error {
			out, err := chain.Execute(ctx, line)
			if err != nil {
				return err
			}
			return printOutcome(w, out)
		}, nil
	case "weather", "faq":
		ag, err := a.WeatherAgent()
		if flow == "faq" {
			ag, err = a.FAQAgent()
		}
		if err != nil {
			return nil, err
		}
		return func(line string, w io.Writer) error {
			res, err := ag.Ask(ctx, line)
			if err != nil {
				return err
			}
			return printJSON(w, res)
		}, nil
	}
	return nil, fmt.Errorf("unknown flow %q", flow)
}

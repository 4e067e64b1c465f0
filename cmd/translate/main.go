package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/tjfontaine/pmdev-translator/internal/config"
	"github.com/tjfontaine/pmdev-translator/internal/consumer"
	"github.com/tjfontaine/pmdev-translator/internal/relay"
	"github.com/tjfontaine/pmdev-translator/internal/tui"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:      "translate",
		Usage:     "translate between product requirements and technical descriptions",
		ArgsUsage: "[content]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   config.DefaultPath,
				Usage:   "YAML config file; missing is fine",
				Sources: cli.EnvVars("TRANSLATOR_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "direction",
				Aliases: []string{"d"},
				Value:   string(relay.PMToDev),
				Usage:   "pm-to-dev or dev-to-pm",
			},
			&cli.StringFlag{
				Name:  "base-url",
				Usage: "relay address; overrides client.base_url",
			},
			&cli.StringFlag{
				Name:  "origin",
				Value: "localhost",
				Usage: "host the relay address is chosen for",
			},
			&cli.BoolFlag{
				Name:  "plain",
				Usage: "stream one translation to stdout instead of opening the UI",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "write diagnostics here; overrides client.log_file",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.LoadFile(cmd.String("config"))
	if err != nil {
		return err
	}
	if v := cmd.String("base-url"); v != "" {
		cfg.Client.BaseURL = v
	}
	if v := cmd.String("log-file"); v != "" {
		cfg.Client.LogFile = v
	}

	direction := relay.Direction(cmd.String("direction"))
	if !direction.Valid() {
		return fmt.Errorf("%w: %q", consumer.ErrUnknownDirection, direction)
	}

	logger, closeLog, err := newLogger(cfg.Client.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	client := consumer.NewClient(cfg.Client.ResolveBaseURL(cmd.String("origin")))
	logger.Info("using relay", slog.String("base_url", client.BaseURL()))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd.Bool("plain") {
		content := strings.Join(cmd.Args().Slice(), " ")
		if content == "" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			content = string(data)
		}
		return translatePlain(ctx, client, direction, content, os.Stdout, logger)
	}

	app := tui.New(logger)
	session := consumer.NewSession(client, app,
		consumer.WithRenderer(tui.NewMarkdownRenderer()),
		consumer.WithLogger(logger),
		consumer.WithDirection(direction),
		consumer.WithScrollThreshold(tui.ScrollThreshold),
	)
	app.Bind(session)
	return app.Run(ctx)
}

// translatePlain streams one translation to w as raw markdown.
func translatePlain(ctx context.Context, t consumer.Translator, d relay.Direction, content string, w io.Writer, logger *slog.Logger) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.New(consumer.EmptyInputMessage)
	}

	body, err := t.Translate(ctx, relay.TranslateRequest{Content: content, Direction: d})
	if err != nil {
		return errors.New(consumer.FailurePrefix + err.Error())
	}
	defer body.Close()

	err = consumer.Stream(ctx, body, func(delta string) {
		io.WriteString(w, delta)
	}, consumer.WithStreamLogger(logger))
	fmt.Fprintln(w)
	if err != nil {
		return errors.New(consumer.FailurePrefix + err.Error())
	}
	return nil
}

// newLogger returns a text logger writing to path, or a discarding logger
// when path is empty. The terminal belongs to the UI.
func newLogger(path string) (*slog.Logger, func(), error) {
	if path == "" {
		return slog.New(slog.DiscardHandler), func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() { f.Close() }, nil
}

// Command chat is an interactive terminal client for OpenAI-compatible and
// Anthropic chat models.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/petasbytes/go-chat/internal/config"
	"github.com/petasbytes/go-chat/internal/logging"
	"github.com/petasbytes/go-chat/internal/provider"
	"github.com/petasbytes/go-chat/internal/session"
	"github.com/petasbytes/go-chat/internal/storage"
	"github.com/petasbytes/go-chat/internal/telemetry"
	"github.com/petasbytes/go-chat/internal/ui"
	"github.com/petasbytes/go-chat/internal/windowing"
)

const checkTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	appConfig    string
	modelsConfig string
	model        string
	role         string
	check        bool
	history      int
	show         string
	printSchema  bool
	noColor      bool
	help         bool
}

func parseFlags(args []string, usage io.Writer) (options, error) {
	var o options
	fs := pflag.NewFlagSet("chat", pflag.ContinueOnError)
	fs.SetOutput(usage)
	fs.StringVar(&o.appConfig, "config", config.DefaultAppConfigPath, "application config file")
	fs.StringVar(&o.modelsConfig, "models", config.DefaultModelsConfigPath, "models and roles config file")
	fs.StringVarP(&o.model, "model", "m", "", "model id to use (default: first model id in sorted order)")
	fs.StringVarP(&o.role, "role", "r", "default", "system role id")
	fs.BoolVar(&o.check, "check", false, "probe the backend and exit")
	fs.IntVar(&o.history, "history", 0, "list the N most recent saved conversations and exit")
	fs.StringVar(&o.show, "show", "", "print the saved conversation at `location` (from --history) and exit")
	fs.BoolVar(&o.printSchema, "print-schema", false, "print the JSON Schema of both config files and exit")
	fs.BoolVar(&o.noColor, "no-color", false, "disable coloured output")
	fs.BoolVarP(&o.help, "help", "h", false, "show help")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			o.help = true
			return o, nil
		}
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	if o.help {
		fmt.Fprintf(usage, "Usage: chat [flags]\n\nFlags:\n%s", fs.FlagUsages())
	}
	return o, nil
}

func run(args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil || opts.help {
		return err
	}

	if opts.printSchema {
		b, err := config.Schema()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, string(b))
		return err
	}

	cfg, err := config.Load(opts.appConfig, opts.modelsConfig)
	if err != nil {
		return err
	}
	logger, logCloser, err := logging.New(cfg.App.Logging, os.Stderr)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	modelID := opts.model
	if modelID == "" {
		modelID = cfg.ModelIDs()[0]
	}
	newBackend := func(m config.Model) (provider.Backend, error) {
		return provider.New(m, provider.WithLogger(logger))
	}

	if opts.check {
		return check(stdout, cfg, modelID, newBackend)
	}

	store, err := storage.New(cfg.App.Storage, logger)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	term := ui.New(stdout, opts.noColor)
	if opts.history > 0 || opts.show != "" {
		return browse(store, term, opts)
	}

	counter := windowing.NewCounter(cfg.App.Memory.Tokenizer, cfg.App.Memory.CharsPerToken, logger)
	ctrl := session.New(session.Options{
		Models:     cfg,
		Roles:      cfg.Roles(),
		NewBackend: newBackend,
		Sink:       store,
		Display:    term,
		Counter:    counter,
		TokenLimit: cfg.App.Memory.MaxContextTokens,
		Recorder:   telemetry.NewRecorder(cfg.App.Telemetry.EventsFile, logger),
		Logger:     logger,
	})
	if err := ctrl.Start(modelID, opts.role); err != nil {
		return err
	}

	// Ctrl-C (SIGINT) / SIGTERM cancel the session; an in-flight stream is
	// interrupted and the transcript flushed.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigch)
	go func() {
		<-sigch
		cancel()
	}()

	// stdin reader goroutine -> lines into channel
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lines := make(chan string)
	go func() {
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Warn("stdin read error", "error", err)
		}
		close(lines)
	}()

	return ctrl.Run(ctx, lines)
}

// browse serves --history and --show against the configured store.
func browse(store storage.Store, term *ui.Terminal, opts options) error {
	ctx := context.Background()
	if opts.show != "" {
		rec, err := store.Load(ctx, opts.show)
		if err != nil {
			return err
		}
		term.Replay(rec)
		return nil
	}
	list, err := store.List(ctx, opts.history)
	if err != nil {
		return err
	}
	term.History(list)
	return nil
}

// check probes the selected model's backend once.
func check(stdout io.Writer, cfg *config.Config, modelID string, newBackend session.BackendFactory) error {
	m, err := cfg.Model(modelID)
	if err != nil {
		return err
	}
	b, err := newBackend(m)
	if err != nil {
		return err
	}
	checker, ok := b.(provider.Checker)
	if !ok {
		return fmt.Errorf("provider %s cannot be probed", m.Provider)
	}
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	if err := checker.Ping(ctx); err != nil {
		return fmt.Errorf("%s (%s): %w", modelID, m.Provider, err)
	}
	fmt.Fprintf(stdout, "%s (%s, %s): reachable\n", modelID, m.Provider, m.ModelName)
	return nil
}

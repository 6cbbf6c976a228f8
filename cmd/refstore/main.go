package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/chzyer/readline"

	"github.com/eigerco/refstore/pkg/log"
	"github.com/eigerco/refstore/pkg/refstore"
)

// main starts an interactive shell over a refstore host.
// go run ./cmd/refstore -config refstore.json
func main() {
	configPath := flag.String("config", "", "JSON config file")
	logLevel := flag.String("loglevel", "", "log level (debug, info, warn, error), overrides the config")
	jsonLogs := flag.Bool("json-logs", false, "write logs as JSON")
	workers := flag.Int("workers", 0, "prefetch workers, overrides the config")
	flag.Parse()

	cfg := refstore.DefaultConfig()
	if *configPath != "" {
		loaded, err := refstore.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *jsonLogs {
		cfg.JSONLogs = true
	}
	if *workers > 0 {
		cfg.PrefetchWorkers = *workers
	}

	level, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	logType := log.ConsoleLogger
	if cfg.JSONLogs {
		logType = log.JSONLogger
	}
	log.Init(log.Options{LogLevel: level, Type: logType, Output: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	host := refstore.NewHost(cfg.PrefetchWorkers)
	sh := newShell(host, os.Stdout, cfg)
	if cfg.Path != "" {
		sh.exec(ctx, "OPEN "+cfg.Path)
	}

	if err := run(ctx, sh); err != nil {
		log.Shell.Error().Err(err).Msg("shell stopped")
	}
	if err := host.CloseAll(); err != nil {
		log.Shell.Error().Err(err).Msg("closing handles")
		os.Exit(1)
	}
}

func run(ctx context.Context, sh *shell) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "refstore> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".refstore_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close() //nolint:errcheck

	fmt.Fprintln(sh.out, "Enter .help for usage hints.")
	for ctx.Err() == nil {
		line, err := rl.Readline()
		switch {
		case err == readline.ErrInterrupt:
			if len(line) == 0 {
				return nil
			}
			continue
		case err == io.EOF:
			return nil
		case err != nil:
			return err
		}

		if sh.exec(ctx, line) {
			return nil
		}
	}
	return ctx.Err()
}

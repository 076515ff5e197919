// Package main provides a command-line client for NotebookLM's batch RPC
// interface, driven through an authenticated headless browser.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/entrhq/notebooklm/pkg/auth"
	"github.com/entrhq/notebooklm/pkg/browser"
	"github.com/entrhq/notebooklm/pkg/config"
	"github.com/entrhq/notebooklm/pkg/logging"
	"github.com/entrhq/notebooklm/pkg/notebooks"
	"github.com/entrhq/notebooklm/pkg/session"
	"github.com/entrhq/notebooklm/pkg/telemetry"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile  string
	AuthFile    string
	Timeout     time.Duration
	Headless    bool
	Metrics     bool
	ShowVersion bool
	Args        []string

	headlessSet bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("notebooklm v%s\n", version)
		return
	}
	if len(cli.Args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if err := run(ctx, cli); err != nil {
		stop()
		log.Printf("notebooklm: %v", err)
		os.Exit(1)
	}
	stop()
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to configuration file (YAML or TOML)")
	flag.StringVar(&cli.AuthFile, "auth", "", "Path to stored credentials (default ~/.notebooklm/auth.json)")
	flag.DurationVar(&cli.Timeout, "timeout", 0, "Overall command timeout (0 for none)")
	flag.BoolVar(&cli.Headless, "headless", true, "Run the browser without a window")
	flag.BoolVar(&cli.Metrics, "metrics", false, "Print collected metrics to stderr on exit")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "notebooklm - NotebookLM batch RPC client\n\n")
		fmt.Fprintf(os.Stderr, "Usage: notebooklm [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		for _, c := range commands {
			fmt.Fprintf(os.Stderr, "  %-28s %s\n", c.usage, c.help)
		}
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  notebooklm auth-check\n")
		fmt.Fprintf(os.Stderr, "  notebooklm -timeout 1m list\n")
		fmt.Fprintf(os.Stderr, "  notebooklm rpc wXbhsf '[null,1,null,[2]]'\n\n")
	}

	flag.Parse()
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "headless" {
			cli.headlessSet = true
		}
	})
	cli.Args = flag.Args()
	return cli
}

// applyLogLevel sets the configured level unless the environment already
// chose one.
func applyLogLevel(logger *logging.Logger, level string) error {
	if _, ok := os.LookupEnv(logging.EnvLogLevel); ok || level == "" {
		return nil
	}
	return logger.SetLevel(level)
}

// run wires configuration, credentials, browser and session, then
// dispatches the requested command.
func run(ctx context.Context, cli *CLIConfig) error {
	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return err
	}
	if cli.AuthFile != "" {
		cfg.Auth.File = cli.AuthFile
	}
	if cli.headlessSet {
		cfg.Browser.Headless = cli.Headless
	}
	logger, err := logging.NewLogger("cli")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()
	if err := applyLogLevel(logger, cfg.Logging.Level); err != nil {
		return err
	}

	cmd, err := lookupCommand(cli.Args[0])
	if err != nil {
		return err
	}

	authPath, err := cfg.AuthFile()
	if err != nil {
		return err
	}
	store, err := auth.NewFileStore(authPath, logger.Component("auth"))
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}

	if cmd.offline {
		return cmd.run(ctx, &env{cfg: cfg, store: store, out: os.Stdout}, cli.Args[1:])
	}

	detector, err := cfg.AuthDetector()
	if err != nil {
		return err
	}

	var metrics *telemetry.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Telemetry.Enabled || cli.Metrics {
		metrics = telemetry.New(registry)
	}

	pool := browser.NewPool(cfg.Browser.MaxContexts, logger.Component("browser"))
	defer func() {
		if err := pool.Shutdown(); err != nil {
			logger.Warnf("Browser shutdown failed: %v", err)
		}
	}()

	transport := browser.NewTransport(cfg.BrowserOptions(),
		browser.WithLauncher(pool),
		browser.WithAuthDetector(detector),
		browser.WithLogger(logger.Component("transport")),
	)
	sess := session.New(transport, store,
		session.WithPolicy(cfg.Policy()),
		session.WithAuthDetector(detector),
		session.WithMetrics(metrics),
		session.WithLogger(logger.Component("session")),
		session.WithAutoRefresh(cfg.Auth.AutoRefresh),
		session.WithStreamingTimeout(cfg.Browser.StreamingTimeout),
	)
	defer sess.Close()

	if cli.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cli.Timeout)
		defer cancel()
	}

	start := time.Now()
	err = cmd.run(ctx, &env{
		cfg:       cfg,
		store:     store,
		session:   sess,
		notebooks: notebooks.NewClient(sess, logger.Component("notebooks")),
		out:       os.Stdout,
	}, cli.Args[1:])
	logger.Timed("Command "+cmd.name, start)

	if cli.Metrics {
		st := sess.Stats()
		fmt.Fprintf(os.Stderr, "calls=%d failures=%d retries=%d refreshes=%d\n",
			st.Calls, st.Failures, st.Retries, st.Refreshes)
		if derr := telemetry.Dump(os.Stderr, registry); derr != nil {
			logger.Warnf("Metrics dump failed: %v", derr)
		}
	}
	return err
}

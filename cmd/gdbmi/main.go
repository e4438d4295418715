// Package main is the entry point for the gdbmi debug runner.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/dshills/gdbmi/internal/adapter"
	"github.com/dshills/gdbmi/internal/config"
	"github.com/dshills/gdbmi/internal/launch"
	"github.com/dshills/gdbmi/internal/session"
	"github.com/dshills/gdbmi/internal/watcher"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	configPath string
	launchPath string
	launchName string
	overrides  overrideList
	logLevel   string
	watch      bool
	program    string
	args       []string
}

// overrideList collects repeated -set key=value flags.
type overrideList []string

func (o *overrideList) String() string { return strings.Join(*o, ",") }

func (o *overrideList) Set(value string) error {
	if !strings.Contains(value, "=") {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	*o = append(*o, value)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}
	statusColor := color.New(color.FgGreen)
	errorColor := color.New(color.FgRed)

	settings, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		return 1
	}
	if opts.logLevel != "" {
		settings.LogLevel = opts.logLevel
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: settings.Level(),
	}))

	params, err := startParams(opts, settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// Root context ends the session on the second interrupt; the first is
	// forwarded to the inferior below.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		sess := session.New(settings, params, os.Stdout, logger)

		stop := forwardSignals(sess, cancel)
		statusColor.Fprintf(os.Stderr, "gdbmi: running %s under %s\n", params.Executable, params.BackendPath)

		err := sess.Run(ctx)
		stop()

		if err != nil {
			if ctx.Err() != nil {
				return 130
			}
			errorColor.Fprintf(os.Stderr, "gdbmi: session failed: %v\n", err)
			return 1
		}

		code := sess.ExitCode()
		statusColor.Fprintf(os.Stderr, "gdbmi: inferior exited (code %d)\n", code)

		if !opts.watch {
			if code > 0 {
				return code
			}
			return 0
		}

		statusColor.Fprintf(os.Stderr, "gdbmi: watching %s for rebuilds\n", params.Executable)
		if err := awaitRebuild(ctx, params.Executable, logger); err != nil {
			if ctx.Err() != nil {
				return 0
			}
			errorColor.Fprintf(os.Stderr, "gdbmi: watch failed: %v\n", err)
			return 1
		}
		statusColor.Fprintf(os.Stderr, "gdbmi: %s rebuilt, restarting\n", params.Executable)
	}
}

// forwardSignals delivers the first SIGINT to the inferior and cancels the
// session on the second (or on SIGTERM). The returned func stops forwarding.
func forwardSignals(sess *session.Session, cancel context.CancelFunc) func() {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		interrupted := false
		for {
			select {
			case sig := <-signals:
				if sig == syscall.SIGINT && !interrupted {
					interrupted = true
					sess.Adapter().InterruptInferior()
					continue
				}
				cancel()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(signals)
		close(done)
	}
}

// awaitRebuild blocks until the executable is rewritten on disk.
func awaitRebuild(ctx context.Context, path string, logger *slog.Logger) error {
	changed := make(chan struct{}, 1)
	w, err := watcher.New(path, func(watcher.Event) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer w.Close()

	logger.Debug("watching executable", "path", path)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-changed:
		return nil
	}
}

// startParams resolves the program to debug from either a launch document
// or positional arguments, layered over the configured defaults.
func startParams(opts options, settings config.Settings) (adapter.StartParams, error) {
	if opts.launchPath != "" {
		doc, err := launch.Load(opts.launchPath)
		if err != nil {
			return adapter.StartParams{}, fmt.Errorf("load %s: %w", opts.launchPath, err)
		}
		for _, kv := range opts.overrides {
			key, value, _ := strings.Cut(kv, "=")
			if err := doc.Override(opts.launchName, key, value); err != nil {
				return adapter.StartParams{}, fmt.Errorf("override %s: %w", key, err)
			}
		}
		cfg, err := doc.Select(opts.launchName)
		if err != nil {
			return adapter.StartParams{}, err
		}
		if err := cfg.Validate(); err != nil {
			return adapter.StartParams{}, err
		}
		return cfg.StartParams(settings.BackendPath, settings.BackendArgs), nil
	}

	if opts.program == "" {
		return adapter.StartParams{}, fmt.Errorf("no program given (pass one as an argument or use -launch)")
	}
	return adapter.StartParams{
		BackendPath: settings.BackendPath,
		BackendArgs: settings.BackendArgs,
		Executable:  opts.program,
		ProcessArgs: opts.args,
		Environment: settings.Environment,
	}, nil
}

func parseFlags() options {
	var opts options
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file (TOML or YAML)")
	flag.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.launchPath, "launch", "", "Path to a launch.json document")
	flag.StringVar(&opts.launchPath, "l", "", "Path to a launch.json document (shorthand)")
	flag.StringVar(&opts.launchName, "name", "", "Launch configuration name (default: first)")
	flag.StringVar(&opts.launchName, "n", "", "Launch configuration name (shorthand)")
	flag.Var(&opts.overrides, "set", "Override a launch configuration field (key=value, repeatable)")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&opts.watch, "watch", false, "Restart the session when the program is rebuilt")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "gdbmi - run programs under a GDB/MI backend\n\n")
		fmt.Fprintf(os.Stderr, "Usage: gdbmi [options] [program [args...]]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  gdbmi ./a.out arg1 arg2        Run a program under gdb\n")
		fmt.Fprintf(os.Stderr, "  gdbmi -l launch.json -n debug  Run a launch configuration\n")
		fmt.Fprintf(os.Stderr, "  gdbmi -watch ./a.out           Restart when a.out is rebuilt\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("gdbmi %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	if opts.logLevel != "" {
		switch opts.logLevel {
		case "debug", "info", "warn", "error":
			// Valid
		default:
			fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.logLevel)
			os.Exit(1)
		}
	}

	if args := flag.Args(); len(args) > 0 {
		opts.program = args[0]
		opts.args = args[1:]
	}

	return opts
}

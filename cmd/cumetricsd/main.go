package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gxo-labs/cumetrics/internal/config"
	"github.com/gxo-labs/cumetrics/internal/events"
	"github.com/gxo-labs/cumetrics/internal/ingest"
	"github.com/gxo-labs/cumetrics/internal/logger"
	"github.com/gxo-labs/cumetrics/internal/metrics"
	"github.com/gxo-labs/cumetrics/internal/registry"
	"github.com/gxo-labs/cumetrics/internal/scrape"
	"github.com/gxo-labs/cumetrics/internal/tracing"
	cmerrors "github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/errors"
	cmlog "github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/log"
)

const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitUsageError  = 2
	ExitSigIntBase  = 128
	ExitSigInt      = ExitSigIntBase + int(syscall.SIGINT)
	ExitSigTerm     = ExitSigIntBase + int(syscall.SIGTERM)
	shutdownTimeout = 5 * time.Second
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "validate" {
		os.Exit(runValidateCommand(os.Args[2:], os.Stderr))
	}
	if len(os.Args) == 2 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		printVersion(os.Stdout)
		os.Exit(ExitSuccess)
	}
	os.Exit(runServeCommand(os.Args[1:]))
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "cumetricsd version %s\n", version)
	fmt.Fprintf(w, "commit: %s\n", commit)
	fmt.Fprintf(w, "built: %s\n", buildDate)
	fmt.Fprintf(w, "go version: %s\n", runtime.Version())
	fmt.Fprintf(w, "os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func runValidateCommand(args []string, stderr io.Writer) int {
	validateFlags := flag.NewFlagSet("validate", flag.ContinueOnError)
	validateFlags.SetOutput(stderr)
	configPath := validateFlags.String("config", "", "Path to the configuration YAML file to validate (required)")
	logLevel := validateFlags.String("log-level", config.DefaultLogLevel, "Log level for validation output (debug, info, warn, error)")

	if err := validateFlags.Parse(args); err != nil {
		return ExitUsageError
	}
	if *configPath == "" {
		fmt.Fprintln(stderr, "Error: -config flag is required for validation")
		validateFlags.Usage()
		return ExitUsageError
	}

	log := logger.NewLogger(*logLevel, "text", stderr)
	log.Infof("Validating configuration: %s", *configPath)
	if _, err := config.LoadFromFile(*configPath); err != nil {
		var validationErr *cmerrors.ValidationError
		if errors.As(err, &validationErr) {
			log.Errorf("Configuration validation failed:\n%s", validationErr.Error())
		} else {
			log.Errorf("Failed to load configuration: %v", err)
		}
		return ExitFailure
	}
	log.Infof("Configuration validation successful: %s", *configPath)
	return ExitSuccess
}

// serveOptions carries the command-line overrides for a config file.
type serveOptions struct {
	configPath        string
	listenAddress     string
	metricsPath       string
	reportsPath       string
	namespace         string
	logLevel          string
	logFormat         string
	workers           string
	eventBufferSize   int
	runtimeCollectors bool
	showVersion       bool
}

// buildConfig loads the config file (or defaults) and applies only the flags
// that were set explicitly.
func buildConfig(fs *flag.FlagSet, opts *serveOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.LoadFromFile(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen-address":
			cfg.ListenAddress = opts.listenAddress
		case "metrics-path":
			cfg.MetricsPath = opts.metricsPath
		case "reports-path":
			cfg.ReportsPath = opts.reportsPath
		case "namespace":
			cfg.Namespace = opts.namespace
		case "log-level":
			cfg.LogLevel = opts.logLevel
		case "log-format":
			cfg.LogFormat = opts.logFormat
		case "event-buffer-size":
			size := opts.eventBufferSize
			cfg.EventBufferSize = &size
		case "runtime-collectors":
			cfg.RuntimeCollectors = opts.runtimeCollectors
		case "workers":
			cfg.Workers = splitWorkers(opts.workers)
		}
	})

	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, cmerrors.NewValidationError("", "invalid command-line configuration", errors.Join(errs...))
	}
	return cfg, nil
}

func splitWorkers(s string) []string {
	var out []string
	for _, w := range strings.Split(s, ",") {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func runServeCommand(args []string) int {
	opts := &serveOptions{}
	fs := flag.NewFlagSet("cumetricsd", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to the configuration YAML file")
	fs.StringVar(&opts.listenAddress, "listen-address", config.DefaultListenAddress, "Address the scrape endpoint listens on")
	fs.StringVar(&opts.metricsPath, "metrics-path", config.DefaultMetricsPath, "HTTP path of the scrape endpoint")
	fs.StringVar(&opts.reportsPath, "reports-path", config.DefaultReportsPath, "HTTP path accepting reports from the allocation and execution subsystems")
	fs.StringVar(&opts.namespace, "namespace", "", "Optional prefix for every metric name")
	fs.StringVar(&opts.logLevel, "log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&opts.logFormat, "log-format", config.DefaultLogFormat, "Log format (text, json)")
	fs.StringVar(&opts.workers, "workers", "", "Comma-separated worker ids to initialize at startup")
	fs.IntVar(&opts.eventBufferSize, "event-buffer-size", config.DefaultEventBufferSize, "Pending registry reports before producers wait (query reports are dropped)")
	fs.BoolVar(&opts.runtimeCollectors, "runtime-collectors", false, "Expose Go runtime and process metrics")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version information and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags...]\n       %s validate -config <path>\n\n", os.Args[0], os.Args[0])
		fmt.Fprintln(os.Stderr, "Collects compute-unit and query-duration reports and serves them for scraping.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return ExitUsageError
	}
	if opts.showVersion {
		printVersion(os.Stdout)
		return ExitSuccess
	}

	cfg, err := buildConfig(fs, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitUsageError
	}

	log := logger.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr).With("cumetrics_version", version)
	log.Infof("cumetricsd v%s starting...", version)
	log.Debugf("Listen address: %s, metrics path: %s", cfg.ListenAddress, cfg.MetricsPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var receivedSignal os.Signal
	var sigMu sync.Mutex
	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			sigMu.Lock()
			receivedSignal = sig
			sigMu.Unlock()
			cancel()
		case <-ctx.Done():
		}
	}()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Errorf("Failed to listen on %s: %v", cfg.ListenAddress, err)
		return ExitFailure
	}
	if err := serve(ctx, cfg, listener, log); err != nil {
		log.Errorf("cumetricsd stopped with error: %v", err)
		return ExitFailure
	}

	sigMu.Lock()
	defer sigMu.Unlock()
	return exitCodeForSignal(receivedSignal)
}

// serve wires the registry, event bus, tracing, report ingest and scrape
// endpoint, then blocks until ctx is done or the HTTP server fails. Reports
// accepted before shutdown are applied before serve returns.
func serve(ctx context.Context, cfg *config.Config, listener net.Listener, log cmlog.Logger) error {
	regOpts := []registry.Option{registry.WithLogger(log)}
	if cfg.Namespace != "" {
		regOpts = append(regOpts, registry.WithNamespace(cfg.Namespace))
	}
	reg, err := registry.New(regOpts...)
	if err != nil {
		return err
	}
	reg.InitializeWorkers(cfg.Workers)
	if len(cfg.Workers) > 0 {
		log.Infof("Initialized %d workers", len(cfg.Workers))
	}

	provider := metrics.NewPrometheusRegistryProvider(reg)
	if cfg.RuntimeCollectors {
		if err := provider.RegisterRuntimeCollectors(); err != nil {
			return fmt.Errorf("register runtime collectors: %w", err)
		}
	}

	bus := events.NewChannelEventBus(cfg.GetEventBufferSize(), log)
	if err := provider.Register(bus.Collector()); err != nil {
		return fmt.Errorf("register event bus metrics: %w", err)
	}
	// The listener outlives ctx so it can drain the bus after the HTTP
	// server stops; the bus closing is what ends it.
	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		events.NewRegistryEventListener(bus, reg, log).Start(context.Background())
	}()
	defer func() {
		bus.Close()
		<-listenerDone
	}()

	tracerProvider, err := tracing.NewProviderFromEnv(ctx, log)
	if err != nil {
		log.Warnf("Failed to initialize tracing from environment: %v. Using NoOp tracer.", err)
		tracerProvider = tracing.NewNoOpProvider()
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, scrape.NewHandler(reg, tracerProvider, log))
	mux.Handle(cfg.ReportsPath, ingest.NewHandler(bus, tracerProvider, log))
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("Serving metrics on %s%s, accepting reports on %s", listener.Addr(), cfg.MetricsPath, cfg.ReportsPath)
		serveErr <- server.Serve(listener)
	}()

	var runErr error
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	case <-ctx.Done():
		log.Warnf("Shutdown requested, stopping scrape endpoint...")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Error shutting down HTTP server: %v", err)
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Error shutting down tracer provider: %v", err)
	}
	return runErr
}

// exitCodeForSignal maps the signal that ended the run, if any, to the
// conventional 128+signo exit code.
func exitCodeForSignal(sig os.Signal) int {
	switch sig {
	case nil:
		return ExitSuccess
	case syscall.SIGINT:
		return ExitSigInt
	case syscall.SIGTERM:
		return ExitSigTerm
	default:
		return ExitFailure
	}
}

// Command bunnyctl declares queues, publishes and consumes messages from the
// command line.
//
//	bunnyctl [-config file] [-metrics addr] declare <queue> [-durable] [-no-ack] ...
//	bunnyctl [-config file] publish <queue> [message ...]
//	bunnyctl [-config file] consume <queue> [-count n] [-no-ack]
//
// Queues listed under "queues:" in the configuration file are declared
// before the command runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Thejuampi/bunnymq-client-go/bunny"
	"github.com/Thejuampi/bunnymq-client-go/internal/config"
	"github.com/Thejuampi/bunnymq-client-go/internal/logging"
)

var version = "dev"

var errUsage = errors.New("usage: bunnyctl [flags] declare|publish|consume <queue> [args]")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run parses args, connects, and executes one command.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("bunnyctl", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "YAML configuration file")
	metricsAddr := flags.String("metrics", "", "serve Prometheus metrics on this address")
	timeout := flags.Duration("timeout", 10*time.Second, "timeout for connecting and for each command")
	logLevel := flags.String("log-level", "", "debug, info, warn or error")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "Usage: bunnyctl [flags] <command>")
		fmt.Fprintln(stderr, "\nCommands:")
		names := make([]string, 0, len(commands))
		for name := range commands {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(stderr, "  %s\n", commands[name].usage)
		}
		fmt.Fprintln(stderr, "\nFlags:")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() < 1 {
		return errUsage
	}
	cmd, ok := commands[flags.Arg(0)]
	if !ok {
		return fmt.Errorf("unknown command %q: %w", flags.Arg(0), errUsage)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = *metricsAddr
	}

	logger := logging.NewWithWriter(cfg.Logging, stderr, "bunnyctl", version)

	var metrics *bunny.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		metrics = bunny.NewMetrics(cfg.Metrics.Namespace)
		if err := metrics.Register(registry); err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
	}

	client, err := bunny.NewClient(cfg.Client,
		bunny.WithLogger(logger.With("component", "client").Logger),
		bunny.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	defer client.Close()

	client.SetErrorHandler(func(err error) {
		logger.Error("client failed", "error", err)
	})
	client.AddConnectionStateListener(bunny.ConnectionStateListenerFunc(func(state bunny.ConnectionState) {
		logger.Debug("connection state", "state", state.String())
	}))

	env := &environment{
		client:  client,
		stdin:   stdin,
		stdout:  stdout,
		logger:  logger,
		timeout: *timeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	commandCtx, commandDone := context.WithCancel(groupCtx)

	if cfg.Metrics.Enabled {
		server := &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           metricsHandler(cfg.Metrics, registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			logger.Info("metrics listening", "address", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving metrics: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-commandCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	group.Go(func() error {
		defer commandDone()
		if err := env.connect(commandCtx, cfg.Queues); err != nil {
			return err
		}
		return cmd.run(commandCtx, env, flags.Args()[1:])
	})

	return group.Wait()
}

func metricsHandler(cfg config.MetricsConfig, registry *prometheus.Registry) http.Handler {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}

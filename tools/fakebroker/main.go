// Command fakebroker is a deterministic in-memory broker for integration
// testing of the client. It serves the wire protocol over TCP and, when
// configured, over WebSocket, with queues, a single consumer per queue,
// acknowledgements, heartbeats and user:password authentication.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Thejuampi/bunnymq-client-go/internal/broker"
	"github.com/Thejuampi/bunnymq-client-go/internal/config"
	"github.com/Thejuampi/bunnymq-client-go/internal/logging"
)

var version = "dev"

var (
	flagConfig    = flag.String("config", "", "YAML configuration file")
	flagAddr      = flag.String("addr", "", "TCP listen address (overrides broker.address)")
	flagWSAddr    = flag.String("ws-addr", "", "WebSocket listen address")
	flagWSPath    = flag.String("ws-path", "", "WebSocket upgrade path")
	flagAdmin     = flag.String("admin", "", "admin REST API listen address (e.g. ':8085')")
	flagAuth      = flag.String("auth", "", "require credentials: 'user1:pass1,user2:pass2'")
	flagHeartbeat = flag.Duration("heartbeat", 0, "heartbeat interval (0 disables)")
	flagLogLevel  = flag.String("log-level", "", "debug, info, warn or error")
	flagLogFormat = flag.String("log-format", "", "json or text")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fakebroker - in-memory broker for client testing\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		logging.Default("fakebroker").Error("loading configuration", "error", err)
		os.Exit(1)
	}
	if err := applyFlags(flag.CommandLine, cfg); err != nil {
		logging.Default("fakebroker").Error("parsing flags", "error", err)
		os.Exit(2)
	}

	logger := logging.New(cfg.Logging, "fakebroker", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg.Broker, logger); err != nil {
		logger.Error("fakebroker stopped", "error", err)
		os.Exit(1)
	}
}

// applyFlags copies the flags the user set over the loaded configuration.
func applyFlags(flagSet *flag.FlagSet, cfg *config.Config) error {
	var err error
	flagSet.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Broker.Address = *flagAddr
		case "ws-addr":
			cfg.Broker.WebSocketAddress = *flagWSAddr
		case "ws-path":
			cfg.Broker.WebSocketPath = *flagWSPath
		case "admin":
			cfg.Broker.AdminAddress = *flagAdmin
		case "heartbeat":
			cfg.Broker.HeartbeatInterval = *flagHeartbeat
		case "log-level":
			cfg.Logging.Level = *flagLogLevel
		case "log-format":
			cfg.Logging.Format = *flagLogFormat
		case "auth":
			var users map[string]string
			if users, err = config.ParseUsers(*flagAuth); err == nil {
				cfg.Broker.Users = users
			}
		}
	})
	return err
}

// run serves until ctx is done or a listener fails.
func run(ctx context.Context, cfg config.BrokerConfig, logger *logging.Logger) error {
	b := broker.New(broker.Options{
		Users:             cfg.Users,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            logger.With("component", "broker").Logger,
	})
	defer b.Close()

	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Address, err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return b.Serve(groupCtx, listener)
	})

	var servers []*http.Server
	if cfg.WebSocketAddress != "" {
		path := cfg.WebSocketPath
		if path == "" {
			path = "/"
		}
		mux := http.NewServeMux()
		mux.HandleFunc(path, b.ServeWebSocket)
		servers = append(servers, &http.Server{Addr: cfg.WebSocketAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
	}
	if cfg.AdminAddress != "" {
		servers = append(servers, &http.Server{Addr: cfg.AdminAddress, Handler: b.AdminHandler(), ReadHeaderTimeout: 5 * time.Second})
	}

	for _, server := range servers {
		group.Go(func() error {
			logger.Info("http listening", "address", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving %s: %w", server.Addr, err)
			}
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, server := range servers {
			_ = server.Shutdown(shutdownCtx)
		}
		return nil
	})

	logger.Info("fakebroker started",
		"address", cfg.Address,
		"websocket", cfg.WebSocketAddress,
		"admin", cfg.AdminAddress,
		"auth", len(cfg.Users) > 0,
		"heartbeat", cfg.HeartbeatInterval,
	)
	return group.Wait()
}

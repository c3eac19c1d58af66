package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/config"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("collector", pflag.ContinueOnError)
	configPath := flags.String("config", "", "YAML or TOML configuration file")
	port := flags.String("port", "", "HTTP port (overrides PORT)")
	tcpAddr := flags.String("tcp", "", "framed agent protocol address (overrides TCP_ADDR)")
	storeKind := flags.String("store", "", "chunk store: memory or sqlite (overrides STORE_KIND)")
	storePath := flags.String("store-path", "", "sqlite database path (overrides STORE_PATH)")
	authKey := flags.String("auth-key", "", "shared agent secret (overrides COLLECTOR_AUTH_KEY)")
	dev := flags.Bool("dev", false, "development mode (console logs, debug level)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if *port != "" {
		cfg.Server.Port = *port
	}
	if *tcpAddr != "" {
		cfg.Server.TCPAddr = *tcpAddr
	}
	if *storeKind != "" {
		cfg.Store.Kind = *storeKind
	}
	if *storePath != "" {
		cfg.Store.Path = *storePath
	}
	if *authKey != "" {
		cfg.Collector.AuthKey = *authKey
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development)
	defer logger.Sync()

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Error("Failed to create server", zap.Error(err))
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server error", zap.Error(err))
		return err
	}
	logger.Info("Shut down gracefully")
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/config"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/tracepipe/internal/output"
	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("tracegen", pflag.ContinueOnError)
	configPath := flags.String("config", "", "YAML or TOML configuration file")
	collectorURL := flags.String("collector", "", "collector URL or TCP address (overrides OUTPUT_URL)")
	transport := flags.String("transport", "", "http or tcp (overrides OUTPUT_TRANSPORT)")
	addr := flags.String("addr", "127.0.0.1:8090", "shop listen address")
	rps := flags.Float64("rps", 5, "generated requests per second; 0 serves without load")
	duration := flags.Duration("duration", 0, "stop after this long; 0 runs until interrupted")
	latency := flags.Duration("latency", 10*time.Millisecond, "simulated latency unit")
	failRate := flags.Float64("fail-rate", 0.1, "probability of a failed inventory check")
	minTrace := flags.Duration("min-trace", -1, "minimum trace duration (overrides TRACER_MIN_TRACE_TIME)")
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
	if *collectorURL != "" {
		cfg.Output.URL = *collectorURL
	}
	if *transport != "" {
		cfg.Output.Transport = *transport
	}
	if *minTrace >= 0 {
		cfg.Tracer.MinTraceTime = *minTrace
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

	agentID := "tracegen-" + string(id.NewAgentID())
	agent, err := output.NewAgent(agentID, cfg.Tracer, cfg.Output, nil, logger.Component("agent"))
	if err != nil {
		return err
	}
	agent.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Output.Timeout)
		defer cancel()
		if err := agent.Stop(ctx); err != nil {
			logger.Warn("Trace output did not drain", zap.Error(err))
		}
	}()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", *addr, err)
	}
	baseURL := "http://" + ln.Addr().String()

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	tracer := tracing.New(agent.Tracer(), logger.Component("tracing"))
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	newShop(tracer, baseURL, *latency, *failRate).routes(router)

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Shop server failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	logger.Info("Traced shop running",
		zap.String("addr", baseURL),
		zap.String("agent", agentID),
		zap.String("collector", cfg.Output.URL),
		zap.String("transport", cfg.Output.Transport),
		zap.Float64("rps", *rps),
	)

	var stats loadStats
	if *rps > 0 {
		go generateLoad(ctx, baseURL, *rps, &stats, logger.Logger)
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shop shutdown", zap.Error(err))
	}
	logger.Info("Load finished",
		zap.Int64("ok", stats.ok.Load()),
		zap.Int64("failed", stats.failed.Load()),
	)
	return nil
}

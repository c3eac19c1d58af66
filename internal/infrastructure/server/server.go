package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/GriffinCanCode/tracepipe/internal/api/http"
	"github.com/GriffinCanCode/tracepipe/internal/api/middleware"
	"github.com/GriffinCanCode/tracepipe/internal/api/tcp"
	"github.com/GriffinCanCode/tracepipe/internal/api/ws"
	"github.com/GriffinCanCode/tracepipe/internal/collector"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/config"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracepipe/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the collector and its listeners
type Server struct {
	config    *config.Config
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	store     store.Store
	collector *collector.Collector
	router    *gin.Engine
	tcp       *tcp.Listener
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development)
	}

	logger.Info("Initializing tracepipe collector",
		zap.String("port", cfg.Server.Port),
		zap.String("tcp_addr", cfg.Server.TCPAddr),
		zap.String("store", cfg.Store.Kind),
	)

	metrics := monitoring.NewMetrics()

	st, err := openStore(cfg.Store, logger.Component("store"))
	if err != nil {
		return nil, err
	}
	compression, err := store.ParseCompression(cfg.Store.Compression)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("invalid store compression: %w", err)
	}

	col := collector.New(st, collector.Options{
		AuthKey:        cfg.Collector.AuthKey,
		SessionTimeout: cfg.Collector.SessionTimeout,
		Compression:    compression,
		Metrics:        metrics,
		Logger:         logger.Component("collector"),
	})

	s := &Server{
		config:    cfg,
		logger:    logger,
		metrics:   metrics,
		store:     st,
		collector: col,
	}
	s.router = s.newRouter()
	s.tcp = tcp.NewListener(col, metrics, tcp.Config{
		MaxFrame:    int(cfg.Collector.MaxPayload),
		IdleTimeout: cfg.Collector.SessionTimeout,
	}, logger.Logger)

	logger.Info("Server initialized successfully")
	return s, nil
}

func openStore(cfg config.StoreConfig, logger *zap.Logger) (store.Store, error) {
	switch cfg.Kind {
	case "sqlite":
		st, err := store.OpenSQLite(cfg.Path, cfg.MaxSize, cfg.DeleteSize, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open chunk store: %w", err)
		}
		logger.Info("Opened sqlite chunk store", zap.String("path", cfg.Path))
		return st, nil
	case "memory", "":
		return store.NewMemoryStore(cfg.MaxSize, cfg.DeleteSize, logger), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}

func (s *Server) newRouter() *gin.Engine {
	cfg := s.config
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.RequestLogger(s.logger.Component("http"), "/health", "/metrics"))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			KeyFunc:           middleware.AgentKey,
		}))
	}

	handlers := apihttp.NewHandlers(s.collector, s.metrics, cfg.Collector.MaxPayload, s.logger.Component("api"))
	handlers.Register(router)

	wsHandler := ws.NewHandler(s.collector.Feed(), s.metrics, s.logger.Component("feed"))
	router.GET("/stream", wsHandler.HandleConnection)

	router.GET("/metrics", monitoring.Handler(s.metrics))
	return router
}

// Handler returns the HTTP handler of the collector
func (s *Server) Handler() http.Handler { return s.router }

// Collector returns the collector behind the listeners
func (s *Server) Collector() *collector.Collector { return s.collector }

// Run listens on the configured addresses and serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	httpLn, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	var tcpLn net.Listener
	if s.config.Server.TCPAddr != "" {
		tcpLn, err = net.Listen("tcp", s.config.Server.TCPAddr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("listen %s: %w", s.config.Server.TCPAddr, err)
		}
	}
	return s.Serve(ctx, httpLn, tcpLn)
}

// Serve serves HTTP on httpLn and, when given, the framed protocol on
// tcpLn. It returns after ctx is done and both listeners have drained, or
// when either fails.
func (s *Server) Serve(ctx context.Context, httpLn, tcpLn net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", httpLn.Addr().String()))
		if err := srv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if tcpLn != nil {
		g.Go(func() error {
			return s.tcp.Serve(ctx, tcpLn)
		})
	}

	g.Go(func() error {
		s.collector.Run(ctx, s.config.Collector.SweepInterval)
		return nil
	})

	return g.Wait()
}

// Close releases the store and flushes the logger
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	var err error
	if cerr := s.store.Close(); cerr != nil {
		s.logger.Error("Failed to close chunk store", zap.Error(cerr))
		err = fmt.Errorf("failed to close chunk store: %w", cerr)
	}
	s.logger.Sync()
	return err
}

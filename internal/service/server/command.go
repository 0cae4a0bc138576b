package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/firewatch/fire-relay/internal/api/rest"
	"github.com/firewatch/fire-relay/internal/api/ws"
	"github.com/firewatch/fire-relay/internal/broadcast"
	"github.com/firewatch/fire-relay/internal/config"
	"github.com/firewatch/fire-relay/internal/logger"
	"github.com/firewatch/fire-relay/internal/push"
	"github.com/firewatch/fire-relay/internal/registry"
	"github.com/firewatch/fire-relay/internal/sensor"
)

// Options controls the fire-relay-server process and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the HTTP server.
	ListenAddress string
}

const (
	// shutdownTimeout bounds the graceful HTTP shutdown on termination.
	shutdownTimeout = 5 * time.Second

	// readHeaderTimeout guards against slow-header connections.
	readHeaderTimeout = 10 * time.Second
)

// Run starts the relay server and blocks until the context is canceled or a
// component fails. Configuration or push gateway failures at startup are
// fatal: the process must not start serving without them.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "fire-relay-server")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if level, ok := logger.ParseLogLevel(cfg.LogLevel); ok {
		logger.SetLevel(level)
	}

	listenAddress := cfg.HTTPAddress
	if opts.ListenAddress != "" {
		listenAddress = opts.ListenAddress
	}

	dispatcher, err := push.NewFCMDispatcher(ctx, cfg.FirebaseCredentialsFile)
	if err != nil {
		return fmt.Errorf("initialise push gateway: %w", err)
	}

	reg := registry.New()
	engine := broadcast.NewEngine(reg)
	svc := NewService(ctx, reg, engine, dispatcher)

	listener, err := sensor.NewListener(ctx, cfg.SensorUDPPort, svc)
	if err != nil {
		return fmt.Errorf("start sensor listener: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)

	router, err := rest.NewRouter(ctx, rest.Dependencies{
		Service:          svc,
		Sockets:          ws.NewHandler(ctx, svc),
		AdminCredentials: cfg.AdminCredentials,
		StaticDir:        cfg.StaticDir,
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	httpServer := &http.Server{
		Addr:              listenAddress,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// A component failure cancels the rest so Run can return.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 3)

	go func() { runErr <- svc.Run(runCtx) }()
	go func() { runErr <- listener.Run(runCtx) }()

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr <- fmt.Errorf("serve HTTP: %w", err)

			return
		}

		runErr <- nil
	}()

	logger.InfoKV(ctx, "Fire relay server listening",
		"http_addr", listenAddress, "sensor_udp_port", cfg.SensorUDPPort)

	// Done channel is closed after Shutdown finishes to ensure we block until
	// the HTTP server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-runCtx.Done()
		logger.Info(ctx, "Shutting down HTTP server")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Errorf(ctx, "HTTP server shutdown failed: %v", err)
		}

		close(done)
	}()

	var firstErr error

	for i := 0; i < 3; i++ {
		if err := <-runErr; err != nil {
			if firstErr == nil {
				firstErr = err
			}

			cancel()
		}
	}

	<-done
	logger.Info(ctx, "Fire relay server stopped")

	return firstErr
}

package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/In5al/pad-labs-onethree/internal/breaker"
	"github.com/In5al/pad-labs-onethree/internal/config"
	"github.com/In5al/pad-labs-onethree/internal/gateway"
	"github.com/In5al/pad-labs-onethree/internal/health"
	"github.com/In5al/pad-labs-onethree/internal/load"
	"github.com/In5al/pad-labs-onethree/internal/logging"
	"github.com/In5al/pad-labs-onethree/internal/metrics"
	"github.com/In5al/pad-labs-onethree/internal/registry"
	"github.com/In5al/pad-labs-onethree/internal/selector"
)

var configFile = flag.String("config", "", "Configuration file path")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	m, err := metrics.New()
	if err != nil {
		logger.Fatal("failed to create metrics", zap.Error(err))
	}

	reg, err := registry.New(&cfg.Registry, logger)
	if err != nil {
		logger.Fatal("failed to create registry client", zap.Error(err))
	}

	breakers := breaker.NewManager(cfg.Backend.ServiceTypes, &cfg.Breaker, logger)
	monitor := health.NewMonitor(reg, cfg, m, logger)
	sampler := load.NewSampler(cfg, logger)
	sel := selector.New(reg, monitor, sampler, logger)

	gw := gateway.New(cfg, reg, sel, monitor, breakers, m, logger)
	server := gateway.NewServer(&cfg.Server, gw)

	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	go monitor.Run(monitorCtx)

	go func() {
		logger.Info("gateway listening",
			zap.Int("port", cfg.Server.Port),
			zap.Strings("service_types", cfg.Backend.ServiceTypes))
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	cancelMonitor()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}

	if err := reg.Close(); err != nil {
		logger.Error("failed to close registry client", zap.Error(err))
	}

	logger.Info("gateway stopped")
}

// Command hedgewsd runs the embedded WebSocket server as a standalone
// process, mirroring go-server-3/cmd/odin-ws/main.go's wiring of config,
// logging, metrics and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/hedge-system/hedge-ws/internal/config"
	"github.com/hedge-system/hedge-ws/internal/eventbus"
	"github.com/hedge-system/hedge-ws/internal/logging"
	"github.com/hedge-system/hedge-ws/internal/metrics"
	"github.com/hedge-system/hedge-ws/internal/protocol"
	"github.com/hedge-system/hedge-ws/internal/wsmanager"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	reg := metrics.NewRegistry()

	var pub protocol.EventPublisher = eventbus.NoopPublisher{}
	if url := os.Getenv("HEDGEWS_NATS_URL"); url != "" {
		nc, err := eventbus.Dial(url, log)
		if err != nil {
			log.Warn("nats dial failed, falling back to noop publisher", zap.Error(err))
		} else {
			defer nc.Close()
			pub = nc
		}
	}

	mgr := wsmanager.New(cfg, log, reg, pub)
	if err := mgr.Start(wsmanager.StartOptions{}); err != nil {
		log.Fatal("failed to start server", zap.Error(err))
	}

	metricsSrv := runMetricsServer(cfg, reg, log)

	log.Info("hedgewsd started", zap.String("host", cfg.Server.Host), zap.Int("port", cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	mgr.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(ctx)
}

func runMetricsServer(cfg config.Config, reg *metrics.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Endpoint, reg.Handler())

	srv := &http.Server{
		Addr:    cfg.Metrics.ListenAddr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server exited", zap.Error(err))
		}
	}()
	return srv
}

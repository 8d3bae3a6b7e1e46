package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jwalitptl/secure-auth/internal/config"
	authService "github.com/jwalitptl/secure-auth/internal/service/auth"
	"github.com/jwalitptl/secure-auth/internal/worker"
	"github.com/jwalitptl/secure-auth/pkg/logger"
	redismsg "github.com/jwalitptl/secure-auth/pkg/messaging/redis"
)

const healthAddr = ":8081"

func setupHealthCheck(log *logger.Logger, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: healthAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err, "health check server failed")
		}
	}()
	return srv
}

func main() {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.NewLogger(nil).Fatal(err, "failed to load config")
	}

	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		JSON:       cfg.Log.JSON,
	}).WithFields(map[string]interface{}{"component": "event-worker"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := redismsg.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal(err, "failed to connect to Redis")
	}
	defer client.Close()

	broker := redismsg.NewRedisBroker(client, log.ZL)
	defer broker.Close()

	reg := prometheus.NewRegistry()
	health := setupHealthCheck(log, reg)

	consumer := worker.NewEventConsumer(broker, authService.EventsChannel, log, reg)
	if err := consumer.Run(ctx); err != nil {
		log.Error(err, "event consumer failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := health.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "health server forced to shutdown")
	}
	log.Info("worker exited")
}

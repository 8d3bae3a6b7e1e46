package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jwalitptl/secure-auth/internal/config"
	"github.com/jwalitptl/secure-auth/internal/email"
	"github.com/jwalitptl/secure-auth/internal/handler"
	authHandler "github.com/jwalitptl/secure-auth/internal/handler/auth"
	"github.com/jwalitptl/secure-auth/internal/lockout"
	"github.com/jwalitptl/secure-auth/internal/repository"
	"github.com/jwalitptl/secure-auth/internal/repository/memory"
	"github.com/jwalitptl/secure-auth/internal/repository/postgres"
	redisrepo "github.com/jwalitptl/secure-auth/internal/repository/redis"
	"github.com/jwalitptl/secure-auth/internal/router"
	authService "github.com/jwalitptl/secure-auth/internal/service/auth"
	"github.com/jwalitptl/secure-auth/pkg/logger"
	"github.com/jwalitptl/secure-auth/pkg/messaging"
	redismsg "github.com/jwalitptl/secure-auth/pkg/messaging/redis"
	"github.com/jwalitptl/secure-auth/pkg/metrics"
	"github.com/jwalitptl/secure-auth/pkg/security"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.NewLogger(nil).Fatal(err, "failed to load configuration")
	}

	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		JSON:       cfg.Log.JSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Storage and events
	repo, broker, cleanup, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal(err, "failed to initialize storage", "backend", cfg.Storage.Backend)
	}
	defer cleanup()

	hasher, err := security.NewHasher(cfg.Password.Algorithm, cfg.Password.BcryptCost, cfg.Password.Argon2)
	if err != nil {
		log.Fatal(err, "failed to initialize password hasher")
	}

	guard, err := lockout.NewGuard(cfg.Lockout, hasher)
	if err != nil {
		log.Fatal(err, "invalid lockout policy")
	}

	authSvc, err := authService.NewService(authService.Deps{
		Repo:           repo,
		Guard:          guard,
		Hasher:         hasher,
		Broker:         broker,
		Mailer:         email.NewSMTPService(cfg.Mail),
		Metrics:        metrics.New(reg, "secure_auth"),
		Logger:         log.WithFields(map[string]interface{}{"component": "auth"}),
		PasswordPolicy: cfg.Password.Policy,
	})
	if err != nil {
		log.Fatal(err, "failed to initialize auth service")
	}

	gin.SetMode(cfg.Server.Mode)
	r := router.NewRouter(
		authHandler.NewHandler(authSvc),
		handler.NewHandler(repo, reg),
		router.RouterConfig{
			RateLimit:    cfg.RateLimit,
			MaxBodyBytes: cfg.Server.MaxBodyBytes,
			Timeout:      cfg.Server.RequestTimeout,
			HSTSMaxAge:   cfg.Server.HSTSMaxAge,
			Registerer:   reg,
			Logger:       log.ZL,
		},
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server listening", "addr", srv.Addr, "backend", cfg.Storage.Backend,
			"lockout_threshold", cfg.Lockout.Threshold, "lockout_duration", cfg.Lockout.Duration.String())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err, "failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "server forced to shutdown")
		return
	}

	log.Info("server exited properly")
}

// openStorage connects the configured record store and, when events are
// enabled, a Redis broker. cleanup releases whatever was opened.
func openStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.SecurityRecordRepository, messaging.Broker, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Error(err, "failed to close resource")
			}
		}
	}

	broker := messaging.NopBroker()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var repo repository.SecurityRecordRepository
	if cfg.UsesRedis() {
		client, err := redismsg.NewClient(connectCtx, cfg.Redis)
		if err != nil {
			return nil, nil, cleanup, err
		}
		closers = append(closers, client.Close)

		if cfg.Storage.PublishEvents {
			broker = redismsg.NewRedisBroker(client, log.ZL)
			closers = append(closers, broker.Close)
		}
		if cfg.Storage.Backend == config.BackendRedis {
			repo = redisrepo.NewSecurityRecordRepository(client, cfg.Storage.KeyPrefix)
		}
	}

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		db, err := postgres.NewDB(connectCtx, cfg.Database)
		if err != nil {
			return nil, nil, cleanup, err
		}
		closers = append(closers, db.Close)

		if cfg.Storage.AutoMigrate {
			if err := postgres.Migrate(db); err != nil {
				return nil, nil, cleanup, err
			}
			log.Info("database migrations applied")
		}
		repo = postgres.NewSecurityRecordRepository(postgres.NewBaseRepository(db))
	case config.BackendMemory:
		log.Warn("using in-memory storage, lockout state is lost on restart")
		repo = memory.NewSecurityRecordRepository()
	}

	return repo, broker, cleanup, nil
}

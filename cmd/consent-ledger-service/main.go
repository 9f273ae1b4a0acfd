package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/medrex/consent-ledger/internal/access"
	"github.com/medrex/consent-ledger/internal/api"
	"github.com/medrex/consent-ledger/internal/consent"
	"github.com/medrex/consent-ledger/internal/registry"
	"github.com/medrex/consent-ledger/internal/store/leveldb"
	"github.com/medrex/consent-ledger/internal/store/memory"
	"github.com/medrex/consent-ledger/pkg/config"
	"github.com/medrex/consent-ledger/pkg/database"
	"github.com/medrex/consent-ledger/pkg/encryption"
	"github.com/medrex/consent-ledger/pkg/interfaces"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/monitoring"
	"github.com/medrex/consent-ledger/pkg/repository"
	"github.com/medrex/consent-ledger/pkg/service"
)

const (
	serviceName    = "consent-ledger"
	serviceVersion = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	log.WithField("version", serviceVersion).Info("Starting Consent Ledger Service")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("Consent Ledger Service failed")
		os.Exit(1)
	}
	log.Info("Consent Ledger Service stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := monitoring.NewHealthManager(serviceName, serviceVersion)

	store, err := openLedgerStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	records, closeRecords, err := openRecordStore(ctx, cfg, log, health)
	if err != nil {
		return err
	}
	defer closeRecords()

	metrics := monitoring.NewMetricsCollector(serviceName)

	tracing := monitoring.NewNoopTracingManager()
	if cfg.Monitoring.TracingEnabled {
		tracing, err = monitoring.NewTracingManager(&monitoring.TracingConfig{
			ServiceName:    serviceName,
			ServiceVersion: serviceVersion,
			JaegerEndpoint: cfg.Monitoring.JaegerEndpoint,
			Environment:    cfg.Monitoring.Environment,
			SamplingRate:   cfg.Monitoring.SamplingRate,
		})
		if err != nil {
			return err
		}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(shutdownCtx)
	}()

	svc := service.NewConsentLedgerService(store, records, service.Options{
		DefaultDurationDays: cfg.Consent.DefaultDurationDays,
		Detection: access.DetectorConfig{
			Threshold: cfg.Detection.Threshold,
			Window:    cfg.Detection.Window,
		},
		Metrics: metrics,
		Tracing: tracing,
		Logger:  log,
	})
	health.RegisterChecker("ledger", monitoring.FuncHealthChecker(svc.Health))

	if cfg.Bootstrap.SeedDemoData {
		if err := svc.Bootstrap(registry.DemoIdentities()); err != nil {
			return fmt.Errorf("failed to seed demo identities: %w", err)
		}
		if err := records.Put(ctx, repository.DemoRecord()); err != nil {
			return fmt.Errorf("failed to seed demo record: %w", err)
		}
		log.Info("Demo identities and record seeded")
	}

	sweeper := consent.NewSweeper(svc.Ledger(), cfg.Consent.ExpirySweepInterval, log)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	if detector := svc.Detector(); detector != nil {
		detector.Start(ctx)
		defer detector.Stop()
	}

	auth := api.NewTokenValidatorFromConfig(cfg.JWT)
	monitor := monitoring.NewMonitoringMiddleware(metrics, tracing, log)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	handlers := api.NewHandlers(svc, auth, log)
	if cfg.Server.RateLimit > 0 {
		limiter := api.NewRateLimiter(cfg.Server.RateLimit, time.Minute, nil)
		go limiter.Run(ctx, 10*time.Minute)
		handlers.WithRateLimiter(limiter)
	}
	publicRouter := api.NewRouter(handlers)

	adminRouter := mux.NewRouter()
	adminRouter.Use(monitor.HTTPMiddleware)
	api.NewAdminHandlers(svc, auth, metrics, health, log).RegisterRoutes(adminRouter)

	servers := []*http.Server{
		newServer(cfg.Server, monitor.HTTPMiddleware(publicRouter)),
		newServer(cfg.Admin, adminRouter),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, server := range servers {
		g.Go(func() error {
			log.WithField("address", server.Addr).Info("Starting HTTP server")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", server.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down Consent Ledger Service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var shutdownErr error
		for _, server := range servers {
			if err := server.Shutdown(shutdownCtx); err != nil {
				shutdownErr = errors.Join(shutdownErr, err)
			}
		}
		return shutdownErr
	})

	return g.Wait()
}

func newServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeout) * time.Second,
	}
}

func openLedgerStore(cfg config.StorageConfig) (interfaces.LedgerStore, error) {
	switch cfg.Driver {
	case "leveldb":
		return leveldb.Open(cfg.Path)
	default:
		return memory.New(), nil
	}
}

func openRecordStore(ctx context.Context, cfg *config.Config, log *logger.Logger, health *monitoring.HealthManager) (interfaces.RecordStore, func(), error) {
	if cfg.Records.Driver != "postgres" {
		return repository.NewMemoryRecordRepository(), func() {}, nil
	}

	db, err := database.NewConnection(&cfg.Database, log)
	if err != nil {
		return nil, nil, err
	}
	if err := db.CreateSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	health.RegisterChecker("database", monitoring.NewDatabaseHealthChecker(db.DB))

	var cipher encryption.Cipher = encryption.Plaintext{}
	if cfg.Records.EncryptionKey != "" {
		aes, err := encryption.NewAESEncryption(cfg.Records.EncryptionKey)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		cipher = aes
	} else {
		log.WithComponent("records").Warn("ENCRYPTION_KEY not set; patient records are stored unencrypted")
	}

	return repository.NewPatientRecordRepository(db.DB, cipher, log), func() { db.Close() }, nil
}

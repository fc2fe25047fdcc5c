package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/intelmesh/trustgw/pkg/trustgw/audit"
	"github.com/intelmesh/trustgw/pkg/trustgw/config"
	"github.com/intelmesh/trustgw/pkg/trustgw/server"
	"github.com/intelmesh/trustgw/pkg/trustgw/sharing"
	"github.com/intelmesh/trustgw/pkg/trustgw/store"
	"github.com/intelmesh/trustgw/pkg/trustgw/telemetry"
	"github.com/intelmesh/trustgw/pkg/trustgw/trust"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := config.SetupLogging(&cfg.Logging); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}

	levels := trust.NewLevelRegistry()
	for _, lc := range cfg.Trust.Levels {
		level := &trust.TrustLevel{
			Name:                 lc.Name,
			Rank:                 lc.Rank,
			DefaultAnonymization: trust.AnonymizationTier(lc.DefaultAnonymization),
			DefaultAccess:        trust.AccessTier(lc.DefaultAccess),
			Active:               true,
			SystemDefault:        lc.SystemDefault,
		}
		if err := levels.Register(level); err != nil {
			log.Fatal().Err(err).Str("level", lc.Name).Msg("Failed to register trust level")
		}
	}
	if _, err := levels.Default(); err != nil {
		log.Fatal().Err(err).Msg("Trust level catalog has no usable default")
	}

	st, closeStore, err := buildStore(cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create relationship store")
	}
	defer closeStore()

	auditStorage, closeAudit, err := buildAuditStorage(cfg.Audit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create audit storage")
	}
	defer closeAudit()

	auditSvc := audit.NewService(auditStorage, cfg.Audit.BufferSize)
	defer auditSvc.Shutdown()

	hooks := trust.NewDecisionHooks()
	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		metrics = telemetry.NewMetrics(cfg.Telemetry.Namespace)
		hooks.RegisterEmitter(metrics)
		auditSvc.SetDropHandler(metrics.ObserveAuditDrop)
	}

	resolver := trust.NewResolver(st, levels, hooks)
	sharingSvc := sharing.NewService(resolver, auditSvc)
	if metrics != nil {
		sharingSvc.SetMetrics(metrics)
	}

	apiServer, err := server.NewServer(cfg.Server, st, levels, resolver, sharingSvc, hooks)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create API server")
	}

	var metricsServer *http.Server
	if metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.Telemetry.Addr,
			Handler: metrics.Handler(cfg.Telemetry.ScrapeRatePerSec, cfg.Telemetry.ScrapeBurst),
		}
		go func() {
			log.Info().Str("addr", cfg.Telemetry.Addr).Msg("Starting metrics server")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	log.Info().Msg("Trust gateway started successfully")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	log.Info().Msg("Shutdown signal received, stopping server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := apiServer.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to stop API server cleanly")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to stop metrics server cleanly")
		}
	}

	log.Info().Msg("Server stopped, goodbye!")
}

func buildStore(cfg config.StoreConfig) (server.Store, func(), error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemory(), func() {}, nil
	case "postgres":
		pg, err := store.OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		return pg, func() { _ = pg.Close() }, nil
	default:
		log.Fatal().Str("backend", cfg.Backend).Msg("Unknown store backend")
		return nil, nil, nil
	}
}

func buildAuditStorage(cfg config.AuditConfig) (audit.Storage, func(), error) {
	switch cfg.Backend {
	case "file":
		fs, err := audit.NewFileStorage(cfg.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() { _ = fs.Close() }, nil
	case "", "memory":
		return audit.NewMemoryStorage(), func() {}, nil
	default:
		log.Fatal().Str("backend", cfg.Backend).Msg("Unknown audit backend")
		return nil, nil, nil
	}
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"kiro2api-go/internal/auth"
	"kiro2api-go/internal/billing"
	"kiro2api-go/internal/config"
	"kiro2api-go/internal/credential"
	"kiro2api-go/internal/logging"
	"kiro2api-go/internal/middleware"
	tracing "kiro2api-go/internal/monitoring/tracing"
	"kiro2api-go/internal/server"
	"kiro2api-go/internal/upstream/kiro"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg := config.LoadWithFile(*configPath)
	if cfg == nil {
		log.Fatal("Failed to load configuration")
	}
	if *debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}

	traceShutdown, err := tracing.Init(context.Background())
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	if traceShutdown != nil {
		defer func() {
			if err := traceShutdown(context.Background()); err != nil {
				log.WithError(err).Warn("failed to shutdown tracing")
			}
		}()
	}

	log.Infof("Starting kiro2api-go (config: %s)", *configPath)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := credential.Open(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open credential store")
	}
	defer store.Close()

	mgr := auth.NewManager(auth.Options{
		Store:            store,
		Region:           cfg.Upstream.Region,
		RefreshThreshold: cfg.Credentials.RefreshThreshold(),
		QuarantineWindow: cfg.Credentials.Quarantine(),
		OIDCFormEncoded:  cfg.Credentials.OIDCFormEncoded,
	})
	defer mgr.Close()
	if err := mgr.LoadCredentials(ctx); err != nil {
		log.WithError(err).Fatal("failed to load credentials")
	}
	log.WithField("accounts", mgr.PoolSize()).Info("credential pool loaded")

	if cfg.Credentials.WatchFile && cfg.Credentials.FilePath != "" {
		err := credential.WatchFile(ctx, cfg.Credentials.FilePath, func() {
			if err := mgr.LoadCredentials(ctx); err != nil {
				log.WithError(err).Warn("credential reload failed")
			}
		})
		if err != nil {
			log.WithError(err).Warn("credential file watch unavailable")
		}
	}
	if cfg.Credentials.BackgroundRefresh {
		middleware.SafeGo("token-refresh", func() {
			mgr.StartBackgroundRefresh(ctx, 0)
		})
	}

	client := kiro.New(cfg.Upstream, mgr)
	defer client.Close()
	cache := kiro.NewModelCache(0)

	var ledger billing.Ledger
	var engine *billing.Engine
	if cfg.Billing.Enabled || cfg.APIKeySource == "mongodb" {
		mongoLedger, err := billing.NewMongoLedger(ctx, cfg.Mongo)
		if err != nil {
			log.WithError(err).Fatal("failed to connect billing ledger")
		}
		defer mongoLedger.Close()
		ledger = mongoLedger
	}
	if cfg.Billing.Enabled {
		engine = billing.NewEngine(cfg.Billing, ledger)
	}

	eng := server.BuildEngine(cfg, server.Dependencies{
		Auth:    mgr,
		Client:  client,
		Cache:   cache,
		Billing: engine,
		Ledger:  ledger,
	})

	if err := server.Run(ctx, cfg, eng); err != nil {
		log.WithError(err).Fatal("http server failed")
	}
	log.Info("shutdown complete")
}

// Package main provides the entry point for the WordsToLink service.
//
//	@title			WordsToLink API
//	@version		1.0.0
//	@description	Keyword-addressed links with click analytics.
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT issued by the account service. Format: "Bearer {token}"
package main

import (
	"WordsToLink-Backend/internal/analytics"
	"WordsToLink-Backend/internal/auth"
	"WordsToLink-Backend/internal/config"
	"WordsToLink-Backend/internal/database"
	"WordsToLink-Backend/internal/dedup"
	"WordsToLink-Backend/internal/enrich"
	httpHandler "WordsToLink-Backend/internal/handler/http"
	"WordsToLink-Backend/internal/pathparser"
	"WordsToLink-Backend/internal/repository"
	"WordsToLink-Backend/internal/repository/cache"
	"WordsToLink-Backend/internal/repository/memory"
	"WordsToLink-Backend/internal/repository/postgres"
	"WordsToLink-Backend/internal/service"
	"WordsToLink-Backend/pkg/logger"
	"WordsToLink-Backend/pkg/useragent"
	"context"
	"errors"
	"fmt"
	lg "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	cfg := config.MustLoad()
	log := logger.New(cfg.Env)
	defer func() {
		if err := log.Sync(); err != nil {
			lg.Printf("ERROR: failed to sync zap logger: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("service stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("service stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("starting WordsToLink service",
		zap.String("env", cfg.Env),
		zap.String("version", version),
		zap.String("db_driver", cfg.Database.Driver),
	)

	store, closeStore, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var storage repository.Storage = store
	if cfg.Redis.Enabled {
		rdb, err := cache.Connect(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Error("failed to close redis client", zap.Error(err))
			}
		}()
		storage = cache.New(store, cache.NewGoRedis(rdb), cfg.Redis.CacheTTL, log)
		log.Info("resolution cache enabled", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.CacheTTL))
	}

	if cfg.Analytics.RebuildOnStart {
		rebuilt, err := store.RebuildVisitorWindows(ctx, time.Now().UTC(), cfg.Analytics.DedupWindow)
		if err != nil {
			return fmt.Errorf("failed to rebuild visitor windows: %w", err)
		}
		log.Info("visitor windows rebuilt", zap.Int64("entries", rebuilt))
	}

	uaParser, err := useragent.NewParser(cfg.UserAgent.RegexesPath, log)
	if err != nil {
		return fmt.Errorf("failed to initialize user agent parser: %w", err)
	}

	if cfg.Analytics.VisitorSalt == "change-me" {
		log.Warn("analytics.visitor_salt is the default value; visitor ids are predictable")
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwt_secret is empty; every dashboard request will be rejected")
	}

	processor := analytics.NewProcessor(store, log, analytics.ConfigFrom(&cfg.Analytics))
	if err := processor.Start(); err != nil {
		return fmt.Errorf("failed to start analytics processor: %w", err)
	}

	redirector := service.NewRedirector(
		pathparser.New(storage, cfg.Shortener.MaxKeywords),
		storage,
		enrich.New(cfg.Analytics.VisitorSalt, uaParser),
		processor,
		log,
	)
	links := service.NewLinkService(
		storage,
		storage,
		service.StaticQuota{MaxKeywords: cfg.Shortener.MaxKeywords, MaxIdentifiers: cfg.Shortener.MaxIdentifiers},
		analytics.NewAggregator(storage, log),
		log,
	)

	server := httpHandler.NewServer(
		links,
		redirector,
		storage,
		processor,
		auth.NewMiddleware(auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer), log),
		log,
		httpHandler.Options{
			BaseURL:        cfg.Shortener.BaseURL,
			AllowedOrigins: cfg.HTTPServer.AllowedOrigins,
			Version:        version,
		},
	)

	httpServer := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      server.SetupRoutes(),
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", cfg.HTTPServer.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return dedup.RunSweeper(gctx, store, cfg.Analytics.SweepInterval, log)
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case err := <-processor.Errors():
				log.Error("click lost", zap.Error(err), zap.Int64("dropped_total", processor.GetStats().Dropped))
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down WordsToLink service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPServer.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown http server: %w", err))
		} else {
			log.Info("HTTP server stopped")
		}

		// Redirects are drained first so no click is submitted after the queue closes.
		if err := processor.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop analytics processor: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// openStore returns the primary storage for the configured driver.
func openStore(cfg *config.Config, log *zap.Logger) (repository.Storage, func(), error) {
	if cfg.Database.Driver == "memory" {
		log.Warn("using in-memory storage; links and clicks are lost on restart")
		return memory.New(), func() {}, nil
	}

	db, err := database.NewConnection(&cfg.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	closeDB := func() {
		if err := database.Close(db, log); err != nil {
			log.Error("failed to close database connection", zap.Error(err))
		}
	}

	if cfg.Database.AutoMigrate {
		log.Info("running database migrations (auto_migrate: true)")
		if err := database.AutoMigrate(db, log); err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
	} else {
		log.Info("skipping database migrations (auto_migrate: false)")
	}

	return postgres.New(db, log, postgres.WithDedupWindow(cfg.Analytics.DedupWindow)), closeDB, nil
}

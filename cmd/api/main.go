package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"notable/api/internal/app"
	"notable/api/internal/config"
	"notable/api/internal/email"
	"notable/api/internal/filestore"
	"notable/api/internal/membercache"
	"notable/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)

	var cache *membercache.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err = membercache.New(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer cache.Close()
		logger.Info().Msg("member-set caching enabled")
	}

	var files *filestore.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		files, err = filestore.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			logger.Fatal().Err(err).Msg("object store connection failed")
		}
		logger.Info().Str("bucket", cfg.MinioBucket).Msg("attachment storage enabled")
	}

	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mail.IsConfigured() {
		logger.Info().Msg("invite mail enabled")
	}

	// A nil *Cache or *Store must not reach the service as a non-nil
	// interface, so the optional deps are assigned only when present.
	var cacheDep app.MemberCache
	if cache != nil {
		cacheDep = cache
	}
	var filesDep app.FileStore
	if files != nil {
		filesDep = files
	}
	service := app.NewWithDeps(cfg, dataStore, cacheDep, filesDep, mail, logger)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown failed")
	}
}

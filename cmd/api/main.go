package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pingin/api/internal/app"
	"pingin/api/internal/config"
	"pingin/api/internal/email"
	"pingin/api/internal/export"
	"pingin/api/internal/gitrepo"
	"pingin/api/internal/logging"
	"pingin/api/internal/search"
	"pingin/api/internal/session"
	"pingin/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.Init(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal(logger, "database connection failed", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
		fatal(logger, "migrations failed", err)
	}
	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		fatal(logger, "failed to create repos dir", err)
	}

	sessions, err := session.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		fatal(logger, "redis connection failed", err)
	}
	defer sessions.Close()

	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		index = meili
	}
	searchService := search.NewService(index, search.NewPgFTS(db), logger)
	go searchService.ReindexAll(ctx)

	exportOpts := []export.Option{export.WithLogger(logger)}
	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		archive, err := export.NewMinIOStore(ctx, export.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			logger.Warn("export archive disabled", "endpoint", cfg.MinIOEndpoint, "error", err)
		} else {
			exportOpts = append(exportOpts, export.WithArchive(archive))
		}
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		AppURL:   cfg.AppURL,
	})
	if !mailer.IsConfigured() {
		logger.Info("email notifications disabled")
	}

	service := app.New(cfg, store.NewPostgresStore(db), gitrepo.New(cfg.ReposDir), sessions,
		app.WithSearch(searchService),
		app.WithExporter(export.NewService(exportOpts...)),
		app.WithNotifier(mailer),
		app.WithLogger(logger),
	)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("pingin API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server failed", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	service.Wait()
	searchService.Wait()
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/media_downloader/internal/config"
	"github.com/italolelis/media_downloader/internal/downloader"
	"github.com/italolelis/media_downloader/internal/http/rest"
	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/media"
	"github.com/italolelis/media_downloader/internal/media/ytdlp"
	"github.com/italolelis/media_downloader/internal/notifier"
	"github.com/italolelis/media_downloader/internal/storage/sqlite"
	"github.com/italolelis/media_downloader/internal/telemetry"
	"github.com/italolelis/media_downloader/internal/tempfiles"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("media downloader starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}

	slog.Info("media downloader stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Media Engine
	if cfg.Engine.AutoInstall {
		if err := ytdlp.Install(ctx); err != nil {
			return err
		}
	}

	engine := media.NewInstrumentedEngine(ytdlp.NewClient(cfg.Engine.Verbose, cfg.Engine.FlatPlaylist), ytdlp.EngineName, tel)

	// =========================================================================
	// Start Temporary File Manager
	opts := []tempfiles.Option{tempfiles.WithTelemetry(tel)}

	if cfg.DBPath != "" {
		database, err := sqlite.InitDB(cfg.DBPath)
		if err != nil {
			logger.Error("DB error", "err", err)

			return err
		}
		defer closeDB(ctx, database)

		opts = append(opts, tempfiles.WithJournal(sqlite.NewInstrumentedFileRepository(database, tel), downloader.GenerateInstanceID()))
	}

	if cfg.DiscordWebhookURL != "" {
		opts = append(opts, tempfiles.WithAlerter(notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)))
	}

	files, err := tempfiles.New(tempfiles.Config{
		BaseDir:        cfg.TempFiles.BaseDir,
		TTL:            cfg.TempFiles.TTL,
		SweepInterval:  cfg.TempFiles.SweepInterval,
		DeleteAttempts: cfg.TempFiles.DeleteAttempts,
		RetryDelay:     cfg.TempFiles.RetryDelay,
	}, opts...)
	if err != nil {
		return err
	}

	if _, err := files.Reclaim(ctx); err != nil {
		logger.Warn("failed to reclaim files from previous runs", "err", err)
	}

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, cfg, tel, engine, files)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress, "temp_dir", files.Dir())

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		return files.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	err = g.Wait()

	// Deletions still in flight get the same deadline as the HTTP drain.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
	defer cancel()

	if shutdownErr := files.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("temporary files were not fully cleaned up", "err", shutdownErr)
	}

	return err
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	tel *telemetry.Telemetry,
	engine media.Engine,
	files *tempfiles.Manager,
) *http.Server {
	mHandler := rest.NewMediaHandler(engine, downloader.NewDownloader(engine, files, tel), files, tel)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(rest.Recoverer(tel))

	r.NotFound(rest.NotFound)
	r.MethodNotAllowed(rest.MethodNotAllowed)

	r.Get("/healthz", rest.Health)
	r.Method(http.MethodGet, "/metrics", tel.Handler())
	r.Mount("/", mHandler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "http.server"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func closeDB(ctx context.Context, db *sql.DB) {
	if err := db.Close(); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to close database", "err", err)
	}
}

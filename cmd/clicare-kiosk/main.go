package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clicare/kiosk/internal/config"
	"github.com/clicare/kiosk/internal/domain/qrintake"
	"github.com/clicare/kiosk/internal/domain/queueboard"
	"github.com/clicare/kiosk/internal/domain/registration"
	"github.com/clicare/kiosk/internal/platform/auth"
	"github.com/clicare/kiosk/internal/platform/backend"
	"github.com/clicare/kiosk/internal/platform/blobstore"
	"github.com/clicare/kiosk/internal/platform/cache"
	"github.com/clicare/kiosk/internal/platform/db"
	"github.com/clicare/kiosk/internal/platform/middleware"
	"github.com/clicare/kiosk/internal/platform/ocr"
	"github.com/clicare/kiosk/internal/platform/printing"
	"github.com/clicare/kiosk/internal/platform/reporting"
	"github.com/clicare/kiosk/internal/platform/session"
	"github.com/clicare/kiosk/internal/platform/telemetry"
	"github.com/clicare/kiosk/internal/platform/websocket"
)

var version = "0.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clicare-kiosk",
		Short: "CLICARE kiosk registration gateway",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(exportCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the kiosk API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.Modified {
						status = "modified"
					}
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export kiosk submissions to an Excel workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			out, _ := cmd.Flags().GetString("out")

			r, err := reporting.ParseRange(from, to, time.Now())
			if err != nil {
				return err
			}
			if out == "" {
				out = r.FileName()
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			f, err := reporting.BuildWorkbook(ctx, pool, r)
			if err != nil {
				return fmt.Errorf("build workbook: %w", err)
			}
			defer f.Close()
			if err := f.SaveAs(out); err != nil {
				return fmt.Errorf("save workbook: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().String("from", "", "First day to export (YYYY-MM-DD, default 7 days ago)")
	cmd.Flags().String("to", "", "Last day to export (YYYY-MM-DD, default today)")
	cmd.Flags().String("out", "", "Output file (default kiosk-submissions-FROM-TO.xlsx)")
	return cmd
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	jc := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
		Skipper:  auth.AuthSkipper,
	}
	if cfg.AuthSigningKey != "" {
		jc.SigningKey = []byte(cfg.AuthSigningKey)
	}
	return jc
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 {
		return middleware.DefaultRateLimitConfig()
	}
	return rl
}

func newRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	rdb, err := newRedis(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable at startup")
	}

	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName:    "clicare-kiosk",
		ServiceVersion: version,
		Environment:    cfg.Env,
	})

	backendClient := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout, logger)
	hub := websocket.NewHub(logger)
	images := blobstore.NewMemoryStore()
	printer := printing.NewManager(printing.NewHTTPSender(cfg.PrintURL, cfg.BackendTimeout), printing.NewTemplateEngine())

	svc := registration.NewService(registration.Config{
		DuplicateDebounce: cfg.DuplicateDebounce,
		QRScanInterval:    cfg.QRScanInterval,
		QRScanTimeout:     cfg.QRScanTimeout,
		SessionTTL:        cfg.SessionTTL,
		DefaultDepartment: cfg.DefaultDepartment,
	}, registration.Deps{
		Backend:     backendClient,
		Catalog:     cache.NewCatalog(backendClient, rdb, cfg.CatalogCacheTTL, logger),
		OCR:         ocr.NewClient(cfg.OCRURL, logger),
		Images:      images,
		Decoder:     qrintake.NewZXingDecoder(),
		Printer:     printer,
		Events:      hub,
		Submissions: registration.NewSubmissionRepo(pool),
		Handoffs:    session.NewRedisStore(rdb, cfg.HandoffTTL),
		Observer:    tp,
	}, logger)
	defer svc.Shutdown()

	refresher := queueboard.NewRefresher(backendClient, hub, queueboard.Config{
		Interval: cfg.QueueRefreshInterval,
		Token:    cfg.BackendServiceToken,
	}, logger)

	tp.GaugeFunc("active_sessions", "Registration sessions currently open.", func() float64 {
		return float64(svc.Active())
	})
	tp.GaugeFunc("websocket_clients", "Connected websocket clients.", func() float64 {
		return float64(hub.ClientCount())
	})
	tp.GaugeFunc("db_pool_acquired_conns", "Database connections currently in use.", func() float64 {
		return float64(pool.Stat().AcquiredConns())
	})
	tp.GaugeFunc("db_pool_idle_conns", "Idle database connections.", func() float64 {
		return float64(pool.Stat().IdleConns())
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M", "12M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(tp.MetricsMiddleware())

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(jwtConfig(cfg)))
	}

	apiV1 := e.Group("/api/v1")
	apiV1.Use(db.ConnMiddleware(pool))
	apiV1.Use(middleware.RateLimit(rateLimitConfig(cfg)))

	registration.NewHandler(svc).RegisterRoutes(apiV1)
	queueboard.NewHandler(refresher).RegisterRoutes(apiV1)
	reporting.NewHandler(pool).RegisterRoutes(apiV1)

	staff := apiV1.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	blobstore.NewHandler(images).RegisterRoutes(staff)
	printing.NewHandler(printer).RegisterRoutes(staff)

	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool, map[string]db.Pinger{
		"redis": db.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	}))
	e.GET("/metrics", tp.PrometheusHandler())

	go svc.Run(ctx)
	go blobstore.RunJanitor(ctx, images, 5*time.Minute, 2*max(cfg.SessionTTL, 30*time.Minute), logger)
	go func() {
		if err := refresher.Run(ctx); err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("queue refresher stopped")
		}
	}()

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Msg("starting kiosk gateway")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")
	refresher.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

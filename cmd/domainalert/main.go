package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/piowaw/domainalert/internal/api"
	"github.com/piowaw/domainalert/internal/auth"
	"github.com/piowaw/domainalert/internal/config"
	"github.com/piowaw/domainalert/internal/db"
	"github.com/piowaw/domainalert/internal/lookup"
	"github.com/piowaw/domainalert/internal/notifier"
	"github.com/piowaw/domainalert/internal/rdap"
	"github.com/piowaw/domainalert/internal/repositories"
	"github.com/piowaw/domainalert/internal/scheduler"
	"github.com/piowaw/domainalert/internal/whois"
	"github.com/piowaw/domainalert/internal/worker"
	"github.com/piowaw/domainalert/internal/ws"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const tokenIssuer = "domainalert"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:   "domainalert",
		Short: "DomainAlert — bulk domain registration monitoring",
		Long: `DomainAlert tracks the registration status of domain portfolios.
It imports names in bulk, resolves them via RDAP with a WHOIS fallback,
rescans expired and stale entries on a schedule, and alerts when a
tracked domain becomes available.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, fullServer)
		},
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newDaemonCmd(cfg))
	root.AddCommand(newMigrateCmd(cfg))

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.HTTPAddr, "http-addr", config.EnvOrDefault("DOMAINALERT_HTTP_ADDR", ":8080"), "HTTP API listen address")
	flags.StringVar(&cfg.DBDriver, "db-driver", config.EnvOrDefault("DOMAINALERT_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	flags.StringVar(&cfg.DBDSN, "db-dsn", config.EnvOrDefault("DOMAINALERT_DB_DSN", "./domainalert.db"), "Database DSN or file path for SQLite")
	flags.StringVar(&cfg.SecretKey, "secret-key", config.EnvOrDefault("DOMAINALERT_SECRET_KEY", ""), "HMAC key for signing access tokens (required)")
	flags.StringVar(&cfg.LogLevel, "log-level", config.EnvOrDefault("DOMAINALERT_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	flags.IntVar(&cfg.Concurrency, "concurrency", config.EnvOrDefaultInt("DOMAINALERT_CONCURRENCY", config.DefaultConcurrency), "Concurrent RDAP requests per batch")
	flags.IntVar(&cfg.Workers, "workers", config.EnvOrDefaultInt("DOMAINALERT_WORKERS", config.DefaultWorkers), "Worker loops and lookup engine shards")
	flags.IntVar(&cfg.FallbackCap, "fallback-cap", config.EnvOrDefaultInt("DOMAINALERT_FALLBACK_CAP", config.DefaultFallbackCap), "Max WHOIS fallback queries per batch")
	flags.StringVar(&cfg.BootstrapURL, "rdap-bootstrap-url", config.EnvOrDefault("DOMAINALERT_RDAP_BOOTSTRAP_URL", config.DefaultBootstrapURL), "IANA RDAP bootstrap service list URL")

	flags.IntVar(&cfg.BatchSize, "batch", config.EnvOrDefaultInt("DOMAINALERT_BATCH", config.DefaultBatchSize), "Payload slice claimed per worker iteration")
	flags.DurationVar(&cfg.PollInterval, "poll-interval", config.DefaultPollInterval, "Idle sleep between job queue polls")

	flags.DurationVar(&cfg.ScanInterval, "scan-interval", config.DefaultScanInterval, "Cadence of the expiry/stale scan")
	flags.DurationVar(&cfg.StaleAfter, "stale-after", config.DefaultStaleAfter, "Age after which a domain's status is rechecked")
	flags.IntVar(&cfg.StaleBatch, "stale-batch", config.EnvOrDefaultInt("DOMAINALERT_STALE_BATCH", config.DefaultStaleBatch), "Max stale domains scanned per tick")

	flags.StringVar(&cfg.NtfyServer, "ntfy-server", config.EnvOrDefault("DOMAINALERT_NTFY_SERVER", ""), "ntfy server base URL (empty disables push)")
	flags.StringVar(&cfg.NtfyTopic, "ntfy-topic", config.EnvOrDefault("DOMAINALERT_NTFY_TOPIC", "domainalert"), "ntfy topic for availability alerts")
	flags.StringVar(&cfg.SMTPHost, "smtp-host", config.EnvOrDefault("DOMAINALERT_SMTP_HOST", ""), "SMTP host (empty disables email)")
	flags.IntVar(&cfg.SMTPPort, "smtp-port", config.EnvOrDefaultInt("DOMAINALERT_SMTP_PORT", 587), "SMTP port")
	flags.StringVar(&cfg.SMTPUser, "smtp-user", config.EnvOrDefault("DOMAINALERT_SMTP_USER", ""), "SMTP username")
	flags.StringVar(&cfg.SMTPPass, "smtp-pass", config.EnvOrDefault("DOMAINALERT_SMTP_PASS", ""), "SMTP password")
	flags.StringVar(&cfg.SMTPFrom, "smtp-from", config.EnvOrDefault("DOMAINALERT_SMTP_FROM", ""), "From address for alert emails")

	flags.StringVar(&cfg.DefaultModel, "default-model", config.EnvOrDefault("DOMAINALERT_DEFAULT_MODEL", ""), "Default model forwarded to the assistant integration")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("domainalert %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// newDaemonCmd runs the pipeline without the HTTP API: worker loops,
// scheduler and notifier only. Useful for scaling lookup throughput in a
// separate process against a shared Postgres.
func newDaemonCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run worker loops and scheduler without the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, daemonOnly)
		},
	}
}

// newMigrateCmd applies pending migrations and exits. db.New migrates on
// open, so this is just an open-and-close.
func newMigrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			_, err = db.New(db.Config{
				Driver:   cfg.DBDriver,
				DSN:      cfg.DBDSN,
				Logger:   logger,
				LogLevel: gormlogger.Warn,
			})
			return err
		},
	}
}

// mode selects which components run starts.
type mode int

const (
	fullServer mode = iota
	daemonOnly
)

func run(ctx context.Context, cfg *config.Config, m mode) error {
	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Info("starting domainalert server",
		zap.String("version", version),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("db_driver", cfg.DBDriver),
		zap.Int("workers", cfg.Workers),
		zap.Int("concurrency", cfg.Concurrency),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if m == daemonOnly {
		logger.Info("daemon mode: http api disabled")
	}

	// Database and repositories.
	database, err := db.New(db.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		Logger:   logger,
		LogLevel: gormlogger.Warn,
	})
	if err != nil {
		return err
	}

	users := repositories.NewUserRepository(database)
	domains := repositories.NewDomainRepository(database)
	jobs := repositories.NewJobRepository(database)
	notifications := repositories.NewNotificationRepository(database)

	// Lookup engine: one shard per worker loop, all sharing the registry and
	// the HTTP/WHOIS clients.
	registry := rdap.NewRegistry(cfg.BootstrapURL, logger.Named("rdap_registry"))
	rdapClient := rdap.NewClient(logger.Named("rdap"))
	whoisClient := whois.NewClient(logger.Named("whois"))

	shards := make([]lookup.Engine, cfg.Workers)
	for i := range shards {
		shards[i] = lookup.New(lookup.Config{
			Resolver:    registry,
			RDAP:        rdapClient,
			WHOIS:       whoisClient,
			Concurrency: cfg.Concurrency,
			FallbackCap: cfg.FallbackCap,
			Logger:      logger.Named("lookup"),
		})
	}
	engine := lookup.NewSharded(shards)

	// Live updates and notifications.
	hub := ws.NewHub()
	go hub.Run(ctx)

	notifSvc := notifier.NewService(notifier.Config{
		NotifRepo: notifications,
		UserRepo:  users,
		Hub:       hub,
		Ntfy: notifier.NtfyConfig{
			Server: cfg.NtfyServer,
			Topic:  cfg.NtfyTopic,
		},
		SMTP: notifier.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.SMTPFrom,
		},
		Logger: logger,
	})
	go notifSvc.Run(ctx)

	// Worker pool.
	pool := worker.NewPool(worker.Config{
		Jobs:         jobs,
		Domains:      domains,
		Engine:       engine,
		Events:       notifSvc,
		Hub:          hub,
		Logger:       logger,
		BatchSize:    cfg.BatchSize,
		PollInterval: cfg.PollInterval,
		Loops:        cfg.Workers,
	})
	go pool.Run(ctx)

	// Periodic expiry/stale scan.
	sched, err := scheduler.New(scheduler.Config{
		Jobs:          jobs,
		Domains:       domains,
		Notifications: notifications,
		Logger:        logger,
		ScanInterval:  cfg.ScanInterval,
		StaleAfter:    cfg.StaleAfter,
		StaleBatch:    cfg.StaleBatch,
	})
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}

	// HTTP API.
	var srv *http.Server
	errCh := make(chan error, 1)
	if m == fullServer {
		manager, err := auth.NewManager(cfg.SecretKey, tokenIssuer)
		if err != nil {
			return err
		}

		router := api.NewRouter(api.RouterConfig{
			AuthService:   auth.NewService(users, manager),
			AuthManager:   manager,
			Pool:          pool,
			Engine:        engine,
			Hub:           hub,
			Logger:        logger,
			Users:         users,
			Domains:       domains,
			Jobs:          jobs,
			Notifications: notifications,
		})
		srv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		cancel()
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down domainalert server")

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", zap.Error(err))
		}
	}
	if err := sched.Stop(); err != nil {
		logger.Warn("scheduler shutdown incomplete", zap.Error(err))
	}
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

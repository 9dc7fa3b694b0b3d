// Package app wires every component into a running process: config,
// telemetry, storage, the pool manager's background loops, and the
// mTLS HTTP server, following the teacher's internal/app.Run shape
// generalized from an "api or worker" mode switch down to a single
// always-on KME process — replenishment, cleanup, and alert evaluation
// run as background goroutines alongside the HTTP server in the same
// process (spec.md §5's concurrency model has no separate worker mode).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/krich11/kme-sub000/internal/config"
	"github.com/krich11/kme-sub000/internal/httpapi"
	"github.com/krich11/kme-sub000/internal/mtls"
	"github.com/krich11/kme-sub000/internal/platform"
	"github.com/krich11/kme-sub000/internal/telemetry"
	"github.com/krich11/kme-sub000/pkg/alertsink"
	"github.com/krich11/kme-sub000/pkg/audit"
	"github.com/krich11/kme-sub000/pkg/etsimodel"
	"github.com/krich11/kme-sub000/pkg/keygen"
	"github.com/krich11/kme-sub000/pkg/keypool"
	"github.com/krich11/kme-sub000/pkg/keystore"
	"github.com/krich11/kme-sub000/pkg/kmeservice"
	"github.com/krich11/kme-sub000/pkg/saestore"
)

// Run is the process entry point: it connects to infrastructure, wires
// the domain packages, starts the background loops, and serves the
// mTLS HTTP API until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting kme", "kme_id", cfg.KMEID, "listen", cfg.ListenAddr())

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "kme", "0.1.0")
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn("redis unavailable, replenishment singleton lock disabled", "error", err)
		rdb = nil
	} else {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error("closing redis", "error", err)
			}
		}()
	}

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	masterKeyHex := cfg.MasterEncryptionKey
	if masterKeyHex == "" {
		masterKeyHex, err = keystore.GenerateMasterKeyHex()
		if err != nil {
			return fmt.Errorf("generating development master key: %w", err)
		}
		logger.Warn("KME_MASTER_KEY not set, using an auto-generated development key (data will not survive a restart with a different key)")
	}
	cipher, err := keystore.NewCipher(masterKeyHex)
	if err != nil {
		return fmt.Errorf("constructing key cipher: %w", err)
	}

	keyStore := keystore.NewStore(db, cipher)
	saeStore := saestore.NewStore(db)
	generator := keygen.NewRandomGenerator()

	limits := keypool.Limits{
		MaxKeyCount:         cfg.MaxKeyCount,
		MinKeyThreshold:     cfg.MinKeyThreshold,
		EmergencyBatchSize:  cfg.EmergencyBatchSize,
		KeyExpiry:           time.Duration(cfg.KeyExpirySeconds) * time.Second,
		ReplenishmentPeriod: time.Duration(cfg.ReplenishmentPeriodSeconds) * time.Second,
		DefaultKeySize:      cfg.DefaultKeySize,
	}
	pool := keypool.NewManager(keyStore, generator, rdb, limits, logger)

	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	alerts := alertsink.New(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)
	if alerts.IsEnabled() {
		logger.Info("slack alert delivery enabled", "channel", cfg.SlackAlertChannel)
	} else {
		logger.Info("slack alert delivery disabled (SLACK_BOT_TOKEN or SLACK_ALERT_CHANNEL not set)")
	}

	services := kmeservice.New(kmeservice.Config{
		Identity: kmeservice.Identity{KMEID: cfg.KMEID},
		Limits: etsimodel.Limits{
			DefaultKeySize:    cfg.DefaultKeySize,
			MinKeySize:        cfg.MinKeySize,
			MaxKeySize:        cfg.MaxKeySize,
			MaxKeysPerRequest: cfg.MaxKeysPerRequest,
			MaxSAEIDCount:     cfg.MaxSAEIDCount,
		},
		MaxKeyCount:         cfg.MaxKeyCount,
		MinKeyThreshold:     cfg.MinKeyThreshold,
		KeyExpirySecs:       cfg.KeyExpirySeconds,
		SingleUseKeys:       cfg.SingleUseKeys,
		SupportedExtensions: map[string]bool{},
	}, db, cipher, keyStore, pool, saeStore, generator, auditWriter, logger)

	// Replenishment, cleanup, and alert evaluation each run as their own
	// background task, not interleaved into one loop (REDESIGN FLAGS:
	// one explicit task per responsibility).
	go pool.RunReplenishmentLoop(ctx)
	go runCleanupLoop(ctx, keyStore, pool, time.Duration(cfg.CleanupIntervalSeconds)*time.Second, logger)
	go runAlertLoop(ctx, pool, alerts, time.Duration(cfg.ReplenishmentPeriodSeconds)*time.Second, logger)

	tlsConfig, err := mtls.BuildTLSConfig(mtls.Config{
		CertFile:     cfg.TLSCertFile,
		KeyFile:      cfg.TLSKeyFile,
		ClientCAFile: cfg.TLSClientCAFile,
	})
	if err != nil {
		return fmt.Errorf("building mTLS config: %w", err)
	}

	srv := httpapi.NewServer(logger, db, rdb, metricsReg, saeStore, services)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		TLSConfig:    tlsConfig,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("kme api listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down kme api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runCleanupLoop periodically soft-deletes expired key records, kept
// separate from replenishment per the redesign notes of spec.md §9
// (one explicit task per responsibility).
func runCleanupLoop(ctx context.Context, keyStore *keystore.Store, pool *keypool.Manager, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := keyStore.CleanupExpired(ctx)
			if err != nil {
				logger.Error("cleanup sweep", "error", err)
				continue
			}
			if n > 0 {
				pool.Invalidate()
				logger.Info("cleanup sweep complete", "expired", n)
			}
		}
	}
}

// runAlertLoop periodically evaluates pool alert conditions and hands
// any active alerts to the sink. Alerts are pure values (spec.md §4.4);
// this loop is the one place delivery happens.
func runAlertLoop(ctx context.Context, pool *keypool.Manager, alerts *alertsink.Sink, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := pool.Status(ctx)
			if err != nil {
				logger.Error("alert loop: reading pool status", "error", err)
				continue
			}
			for _, alert := range pool.CheckAlertConditions(status) {
				alerts.Post(ctx, alert)
			}
		}
	}
}

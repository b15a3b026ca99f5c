package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BrandonDHaskell/smartdoor/internal/config"
	"github.com/BrandonDHaskell/smartdoor/internal/db"
	"github.com/BrandonDHaskell/smartdoor/internal/grpcapi"
	"github.com/BrandonDHaskell/smartdoor/internal/httpapi"
	"github.com/BrandonDHaskell/smartdoor/internal/metrics"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/doorlink"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/recognition"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/service"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store/sqlite"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/vault"
)

func main() {
	logger := log.New(os.Stdout, "smartdoord ", log.LstdFlags|log.LUTC)

	fs := pflag.NewFlagSet("smartdoord", pflag.ExitOnError)
	configPath := fs.String("config", os.Getenv("SMARTDOOR_CONFIG"), "YAML config file (SMARTDOOR_CONFIG)")
	httpAddr := fs.String("http-addr", "", "HTTP listen address (overrides SMARTDOOR_HTTP_ADDR)")
	grpcAddr := fs.String("grpc-addr", "", "gRPC health listen address, empty to disable")
	serialPort := fs.String("serial-port", "", `door controller port or "AUTO"`)
	dbPath := fs.String("db", "", "SQLite database path")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if fs.Changed("http-addr") {
		cfg.HTTPAddr = *httpAddr
	}
	if fs.Changed("grpc-addr") {
		cfg.GRPCAddr = *grpcAddr
	}
	if fs.Changed("serial-port") {
		cfg.SerialPort = *serialPort
	}
	if fs.Changed("db") {
		cfg.DBPath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run(cfg config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	keyring, err := cfg.Vault()
	if err != nil {
		return err
	}
	logger.Printf("vault ready key_id=%s", keyring.ActiveKeyID())

	// Storage
	database, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return err
	}
	defer database.Close()
	writer := db.NewWorker(database)
	defer writer.Close()

	passcodes := sqlite.NewPasscodeStore(database, writer)
	templateStore := sqlite.NewTemplateStore(database, writer)
	attemptStore := sqlite.NewAccessAttemptStore(database, writer)
	settingsStore := sqlite.NewSettingsStore(database, writer)

	// Services
	creds := service.NewCredentialService(passcodes, keyring)
	if err := checkVault(ctx, creds, logger); err != nil {
		return err
	}
	if cfg.Env == "dev" {
		if err := seedDev(ctx, database, keyring, logger); err != nil {
			return err
		}
	}

	settings := service.NewSettingsService(settingsStore)
	templates := service.NewTemplateRegistry(templateStore)
	auth := service.NewAuthenticator(creds, templates, service.AuthenticatorConfig{
		FaceScorer:           recognition.NewCosineScorer(logger),
		FingerprintScorer:    recognition.NewSlotScorer(),
		FaceThreshold:        cfg.FaceThreshold,
		FingerprintThreshold: cfg.FingerprintThreshold,
		PasscodeRate:         rate.Limit(float64(cfg.PasscodeAttemptsPerMin) / 60),
		PasscodeBurst:        cfg.PasscodeBurst,
		Logger:               logger,
	})

	collector := metrics.New()
	health := grpcapi.NewServer(logger)

	// Door controller
	link := doorlink.New(openController(cfg, logger), doorlink.Config{
		Timeout: cfg.LinkTimeout(),
		Retries: cfg.LinkRetries,
		Logger:  logger,
		OnRetry: collector.LinkRetry,
	})
	defer link.Close()

	actuator := service.NewActuator(link)
	defer actuator.Close()

	accessLog := service.NewAccessLogger(attemptStore, service.AccessLoggerConfig{
		Backoff:   50 * time.Millisecond,
		SpoolPath: cfg.SpoolPath,
	}, logger)
	collector.RegisterSpoolGauge(accessLog.Pending)

	arbiter := service.NewArbiter(settings, actuator, accessLog, service.ArbiterConfig{
		Logger:           logger,
		Observer:         collector,
		ActuationTimeout: link.MaxLatency() + time.Second,
	})

	monitor := service.NewDoorMonitor(link, settings, service.MonitorConfig{
		Interval: cfg.MonitorInterval(),
		OnHealth: func(ok bool) {
			collector.SetLinkUp(ok)
			health.SetLinkUp(ok)
		},
	}, logger)
	pruner := service.NewCodePruner(creds, service.PrunerConfig{
		RetentionDays: cfg.CodeRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, logger)
	listener := service.NewControllerListener(link.Events(), auth, arbiter, settings, logger)

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:        logger,
		Addr:          cfg.HTTPAddr,
		AdminToken:    cfg.AdminToken,
		DeviceToken:   cfg.DeviceToken,
		Authenticator: auth,
		Arbiter:       arbiter,
		Credentials:   creds,
		Settings:      settings,
		AccessLog:     accessLog,
		Metrics:       collector.Handler(),
	})
	if cfg.AdminToken == "" {
		logger.Printf("WARNING: no admin token set; management routes are open (dev only)")
	}
	if cfg.DeviceToken == "" && cfg.AdminToken == "" {
		logger.Printf("WARNING: no device or admin token set; access routes are open (dev only)")
	}

	var grpcLis net.Listener
	if cfg.GRPCAddr != "" {
		if grpcLis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	accessLog.Start(gctx)
	monitor.Start(gctx)
	pruner.Start(gctx)
	listener.Start(gctx)

	g.Go(func() error {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if grpcLis != nil {
		g.Go(func() error { return health.Serve(grpcLis) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		health.Stop()
		return nil
	})

	err = g.Wait()

	listener.Stop()
	monitor.Stop()
	pruner.Stop()
	accessLog.Stop()
	logger.Printf("shutdown complete")
	return err
}

// checkVault refuses to start when stored passcodes were sealed with a
// key that is not configured, and re-seals records under retired keys.
func checkVault(ctx context.Context, creds *service.CredentialService, logger *log.Logger) error {
	rep, err := creds.CheckVault(ctx)
	if err != nil {
		return err
	}
	logger.Printf("vault check ok: records=%d", rep.Checked)
	if len(rep.Rewrap) > 0 {
		n, err := creds.Rewrap(ctx)
		if err != nil {
			return err
		}
		logger.Printf("vault rewrap: re-sealed %d records under the active key", n)
	}
	return nil
}

func seedDev(ctx context.Context, database *sql.DB, keyring *vault.Vault, logger *log.Logger) error {
	ct, err := keyring.Encrypt(db.DevMainCode)
	if err != nil {
		return err
	}
	seeded, err := db.SeedDev(ctx, database, db.SeedDevOptions{
		MainCodeID:    uuid.NewString(),
		CodeHash:      vault.Hash(db.DevMainCode),
		CodeMasked:    vault.Mask(db.DevMainCode),
		CodeEncrypted: ct,
	})
	if err != nil {
		return err
	}
	if seeded {
		logger.Printf("dev: seeded main code %s", vault.Mask(db.DevMainCode))
	}
	return nil
}

// openController opens the serial port.  Without one the daemon still
// serves the API; every actuation then fails with ErrPortUnavailable.
func openController(cfg config.Config, logger *log.Logger) io.ReadWriteCloser {
	rw, name, err := doorlink.OpenSerial(cfg.SerialPort, cfg.SerialBaud)
	if err != nil {
		logger.Printf("door controller unavailable port=%s: %v", cfg.SerialPort, err)
		return nil
	}
	logger.Printf("door controller connected port=%s baud=%d", name, cfg.SerialBaud)
	return rw
}

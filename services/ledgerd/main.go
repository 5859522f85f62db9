package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	ledgerconfig "arrayledger/config"
	"arrayledger/core"
	"arrayledger/core/events"
	"arrayledger/observability"
	"arrayledger/observability/logging"
	telemetry "arrayledger/observability/otel"
	"arrayledger/services/ledgerd/config"
	"arrayledger/services/ledgerd/journal"
	"arrayledger/services/ledgerd/middleware"
	"arrayledger/services/ledgerd/server"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "ledgerd.yaml", "path to ledgerd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ARRAY_ENV"))
	logger := logging.Setup("ledgerd", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Log.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}
		defer rotated.Close()
		logger = logging.New(io.MultiWriter(os.Stdout, rotated), "ledgerd", env, logging.ParseLevel(os.Getenv("ARRAY_LOG_LEVEL")))
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("ledgerd", env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	ledgerCfg, err := ledgerconfig.Load(cfg.LedgerConfig)
	if err != nil {
		log.Fatalf("load ledger config: %v", err)
	}
	hub := server.NewHub()
	defer hub.Close()
	ledger, db, err := core.Open(ledgerCfg,
		core.WithLogger(logger),
		core.WithEmitter(events.Multi{observability.Events(), hub}),
	)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	defer db.Close()

	if _, err := ledger.ProgramState(context.Background()); err != nil {
		logger.Warn("program state not initialised; run arrayctl init", slog.String("error", err.Error()))
	}

	opJournal, err := journal.Open(cfg.Journal.DSN)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	defer opJournal.Close()
	logger.Info("journal opened", logging.MaskField("journal_dsn", cfg.Journal.DSN))

	srv := server.New(server.Config{
		Ledger:  ledger,
		Journal: opJournal,
		Hub:     hub,
		Logger:  logger,
		Auth: middleware.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
	})

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if !cfg.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			log.Fatalf("plaintext ledgerd mode is restricted to loopback listeners or dev environment")
		}
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	if cfg.TLS.Enabled() {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err != nil {
			log.Fatalf("load tls keypair: %v", err)
		}
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("ledgerd listening", slog.String("address", cfg.ListenAddress), slog.Bool("tls", cfg.TLS.Enabled()))
		if httpServer.TLSConfig != nil {
			serverErr <- httpServer.ServeTLS(listener, "", "")
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.String("error", err.Error()))
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

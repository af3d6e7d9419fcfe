package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/psantana5/unit-provisioner/pkg/api"
	"github.com/psantana5/unit-provisioner/pkg/auth"
	"github.com/psantana5/unit-provisioner/pkg/config"
	"github.com/psantana5/unit-provisioner/pkg/ledger"
	"github.com/psantana5/unit-provisioner/pkg/logging"
	"github.com/psantana5/unit-provisioner/pkg/metrics"
	"github.com/psantana5/unit-provisioner/pkg/minter"
	"github.com/psantana5/unit-provisioner/pkg/provision"
	"github.com/psantana5/unit-provisioner/pkg/ratelimit"
	"github.com/psantana5/unit-provisioner/pkg/relay"
	"github.com/psantana5/unit-provisioner/pkg/shutdown"
	"github.com/psantana5/unit-provisioner/pkg/store"
	tlsutil "github.com/psantana5/unit-provisioner/pkg/tls"
	"github.com/psantana5/unit-provisioner/pkg/tracing"
	"github.com/psantana5/unit-provisioner/pkg/units"
	"github.com/psantana5/unit-provisioner/pkg/upstream"
)

func main() {
	// Command-line flags override the config file and environment
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "API port (overrides config)")
	metricsPort := flag.Int("metrics-port", -1, "Prometheus metrics port, 0 disables (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	storeType := flag.String("store", "", "Store backend: sqlite, postgres or memory (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")
	generateCert := flag.Bool("generate-cert", false, "Generate a self-signed certificate at the configured tls paths and exit")
	certHosts := flag.String("cert-hosts", "", "Comma-separated IPs and hostnames to include in the certificate SANs")
	generateKey := flag.Bool("generate-maintainer-key", false, "Print a new maintainer key and its bcrypt hash and exit")
	flag.Parse()

	if *generateKey {
		key, hash, err := auth.GenerateMaintainerKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate maintainer key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Maintainer key (give to operators): %s\n", key)
		fmt.Printf("Hash (set auth.maintainer_key_hash): %s\n", hash)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *metricsPort >= 0 {
		cfg.MetricsPort = *metricsPort
	}
	if *storeType != "" {
		cfg.Store.Type = *storeType
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	if *generateCert {
		var sans []string
		for _, host := range strings.Split(*certHosts, ",") {
			if host = strings.TrimSpace(host); host != "" {
				sans = append(sans, host)
			}
		}
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			fmt.Fprintln(os.Stderr, "tls.cert_file and tls.key_file must be configured")
			os.Exit(1)
		}
		if err := tlsutil.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, "unit-provisioner", sans...); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate certificate: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Certificate written to %s (key %s)\n", cfg.TLS.CertFile, cfg.TLS.KeyFile)
		return
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Provisioner failed", map[string]interface{}{"error": err.Error()})
	}
}

func newLogger(cfg config.LogConfig) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Level)
	if cfg.File {
		return logging.NewFileLogger("provisioner", "server", level, cfg.JSON)
	}
	return logging.NewLogger(level, cfg.JSON), nil
}

func run(cfg config.Config, logger *logging.Logger) error {
	ids, err := cfg.Identities()
	if err != nil {
		return err
	}
	shutdowns := shutdown.New(cfg.ShutdownTimeout, logger.WithField("component", "shutdown"))

	backend, err := store.NewBackend(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	shutdowns.Register("store", shutdown.CloseResource(backend, "store"))
	stores, err := provision.OpenStores(backend)
	if err != nil {
		return fmt.Errorf("failed to open partitions: %w", err)
	}
	logger.Info("Store opened", map[string]interface{}{
		"type": cfg.Store.Type,
		"path": cfg.Store.Path,
	})

	tracer, err := tracing.InitTracer(cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	shutdowns.Register("tracer", tracer.Shutdown)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(registry)

	timeout := cfg.Endpoints.Timeout
	payments := ledger.NewPayments(ledger.NewHTTPClient(cfg.Endpoints.Ledger, timeout), ids.Self, ids.Minter, cfg.Fees)
	conversion := minter.NewConversion(minter.NewHTTPClient(cfg.Endpoints.Minter, timeout), cfg.UnitCredits, cfg.Fees.Service)
	notifier := relay.NewNotifier(stores.Relay, cfg.Relay.Timeout, logger.WithField("component", "relay"), recorder)
	shutdowns.Register("relay", shutdown.Drain(notifier.Wait, "relay deliveries"))

	svc, err := provision.NewService(provision.Config{
		Self:        ids.Self,
		Maintainers: ids.Maintainers,
	}, provision.Dependencies{
		Stores:     stores,
		Payments:   payments,
		Conversion: conversion,
		Units:      units.NewHTTPManager(cfg.Endpoints.Units, timeout),
		Notifier:   notifier,
		Logger:     logger.WithField("component", "provision"),
		Metrics:    recorder,
		Tracer:     tracer,
	})
	if err != nil {
		return err
	}

	maintainerKey, err := auth.NewMaintainerKey(cfg.Auth.MaintainerKeyHash)
	if err != nil {
		return err
	}
	if !maintainerKey.Enabled() {
		logger.Warn("No maintainer key configured, admin routes rely on signatures only")
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.RPS > 0 {
		limiter = ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		go cleanupLimiter(limiter, shutdowns.Done())
	}

	handler := api.NewHandler(svc, backend, maintainerKey, logger.WithField("component", "api"))
	if cfg.Upstream.Interval > 0 {
		checker := upstream.NewChecker(upstream.Targets(map[string]string{
			"ledger": cfg.Endpoints.Ledger,
			"minter": cfg.Endpoints.Minter,
			"units":  cfg.Endpoints.Units,
		}, cfg.Upstream.Path, cfg.Upstream.Timeout), registry, logger.WithField("component", "upstream"))
		handler.WithUpstreams(checker)

		probeCtx, stopProbes := context.WithCancel(context.Background())
		shutdowns.Register("upstream probes", func(context.Context) error {
			stopProbes()
			return nil
		})
		go checker.Run(probeCtx, cfg.Upstream.Interval)
	}
	router := api.NewRouter(handler, api.RouterOptions{
		Verifier:     auth.NewVerifier(cfg.Auth.MaxSkew),
		MaxBodyBytes: cfg.Auth.MaxBodyBytes,
		Limiter:      limiter,
		Metrics:      recorder,
		Tracer:       tracer,
	})

	if cfg.MetricsPort > 0 {
		metricsRouter := mux.NewRouter()
		metricsRouter.Handle("/metrics", metrics.Handler(registry)).Methods("GET")
		metricsSrv := &http.Server{
			Addr:         ":" + strconv.Itoa(cfg.MetricsPort),
			Handler:      metricsRouter,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		shutdowns.Register("metrics server", shutdown.StopHTTPServer(metricsSrv, "metrics"))
		go func() {
			logger.Info("Metrics server listening", map[string]interface{}{"port": cfg.MetricsPort})
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	// Workflows wait on several external calls, so writes get a long timeout
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	useTLS := cfg.TLS.Enabled()
	if useTLS {
		tlsConfig, err := tlsutil.ServerConfig(cfg.TLS)
		if err != nil {
			return fmt.Errorf("failed to load TLS config: %w", err)
		}
		srv.TLSConfig = tlsConfig
	} else {
		logger.Warn("TLS disabled, signatures are still verified but traffic is plaintext")
	}
	shutdowns.Register("api server", shutdown.StopHTTPServer(srv, "api"))

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Provisioner listening", map[string]interface{}{
			"port":        cfg.Port,
			"tls":         useTLS,
			"self":        ids.Self.String(),
			"maintainers": len(ids.Maintainers),
		})
		var err error
		if useTLS {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case err := <-serveErr:
			logger.Error("API server error", map[string]interface{}{"error": err.Error()})
			cancel()
		case <-ctx.Done():
		}
	}()

	shutdowns.Wait(ctx)
	if failed := shutdowns.Shutdown(); failed > 0 {
		return fmt.Errorf("%d shutdown steps failed", failed)
	}
	return nil
}

func cleanupLimiter(limiter *ratelimit.Limiter, done <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			limiter.CleanupOldLimiters(time.Hour)
		case <-done:
			return
		}
	}
}

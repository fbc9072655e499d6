// Copyright (c) 2026 RNP
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rnp/cremerd/internal/autopause"
	"github.com/rnp/cremerd/internal/bus"
	"github.com/rnp/cremerd/internal/config"
	"github.com/rnp/cremerd/internal/counter"
	"github.com/rnp/cremerd/internal/domain/production/engine"
	"github.com/rnp/cremerd/internal/domain/production/store"
	"github.com/rnp/cremerd/internal/gpio"
	cdlog "github.com/rnp/cremerd/internal/log"
	"github.com/rnp/cremerd/internal/persistence/sqlite"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

// correlated stamps each request with a correlation ID, honoring one
// supplied by the caller.
func correlated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := cdlog.ContextWithCorrelationID(r.Context(), r.Header.Get("X-Correlation-ID"))
		w.Header().Set("X-Correlation-ID", cdlog.CorrelationIDFromContext(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cdlog.Configure(cdlog.Config{Level: "info", Service: "cremerd"})
	logger := cdlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config path: explicit flag, else ${CREMERD_DATA_DIR}/config.yaml
	// when it exists.
	effectivePath := strings.TrimSpace(*configPath)
	if effectivePath == "" {
		dataDir := strings.TrimSpace(os.Getenv("CREMERD_DATA_DIR"))
		if dataDir == "" {
			dataDir = "./data"
		}
		autoPath := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectivePath = autoPath
		}
	}

	cfg, err := config.Load(effectivePath)
	if err != nil {
		logger.Fatal().Err(err).Str("config_path", effectivePath).Msg("failed to load configuration")
	}
	cdlog.Configure(cdlog.Config{Level: cfg.LogLevel, Service: "cremerd"})

	db, err := sqlite.Open(cfg.DatabasePath(), sqlite.DefaultOptions())
	if err != nil {
		logger.Fatal().Err(err).Str("db_path", cfg.DatabasePath()).Msg("failed to open database")
	}

	st, err := store.New(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}
	defer func() { _ = st.Close() }()

	eventBus := bus.NewMemoryBus()
	eng := engine.New(st, eventBus, cfg.Location())

	link := gpio.New(gpio.Options{
		URL:              cfg.GPIO.URL,
		DeadAfter:        cfg.GPIO.HeartbeatDeadAfter,
		WatchdogInterval: cfg.GPIO.WatchdogInterval,
		ReconnectMin:     cfg.GPIO.ReconnectMin,
		ReconnectMax:     cfg.GPIO.ReconnectMax,
	})

	ingest := counter.New(eng, cfg.Counter.Pin)
	ingest.Attach(link)

	detector := autopause.New(eng, link, autopause.Config{
		PonderalPin:       cfg.Pause.PonderalPin,
		EtiquetaPin:       cfg.Pause.EtiquetaPin,
		OpenAfter:         cfg.Pause.OpenAfter,
		CloseAfter:        cfg.Pause.CloseAfter,
		Cooldown:          cfg.Pause.Cooldown,
		ReconcileInterval: cfg.Pause.ReconcileInterval,
		RearmInterval:     cfg.Pause.RearmInterval,
	})
	detector.Attach(link)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(correlated)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.DB().PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		link.Run(gctx)
		return nil
	})
	g.Go(func() error {
		ingest.Run(gctx)
		return nil
	})
	g.Go(func() error {
		detector.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("diagnostics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		link.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info().
		Str("version", version).
		Str("gpio_url", cfg.GPIO.URL).
		Int("counter_pin", cfg.Counter.Pin).
		Msg("cremerd started")

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("cremerd stopped")
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "go.uber.org/automaxprocs"

	"fieldroute/internal/api"
	"fieldroute/internal/assign"
	"fieldroute/internal/auth"
	"fieldroute/internal/autoassign"
	"fieldroute/internal/buildinfo"
	"fieldroute/internal/config"
	"fieldroute/internal/events"
	"fieldroute/internal/metrics"
	"fieldroute/internal/store"
	"fieldroute/internal/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	bi := buildinfo.Info()
	log.Info().Str("version", bi["version"]).Str("commit", bi["commit"]).Msg("starting fieldroute")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store
	var st store.Store
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
		st = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL, store.DefaultPoolConfig())
		if err != nil {
			log.Fatal().Err(err).Msg("connect postgres")
		}
		defer pg.Close()
		if cfg.DBMigrate {
			if err := pg.Migrate(ctx); err != nil {
				log.Fatal().Err(err).Msg("migrate")
			}
		}
		st = pg
	}

	// Broker
	var broker events.Broker = events.NewMemory()
	if cfg.RedisURL != "" {
		rb, err := events.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Error().Err(err).Msg("redis unavailable, events stay in process")
		} else {
			defer rb.Close()
			broker = rb
		}
	}

	if cfg.WebhookURL != "" {
		n := webhooks.NewNotifier(cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookMaxAttempts)
		go n.Run(ctx)
		broker = n.Wrap(broker)
	}

	metrics.RegisterDefault()

	opts, err := cfg.Engine.Options()
	if err != nil {
		log.Fatal().Err(err).Msg("engine options")
	}
	svc := assign.NewService(st, broker, opts, cfg.Engine.MaxRangeDays)

	var sched *autoassign.Scheduler
	if cfg.AutoAssignCron != "" {
		sched, err = autoassign.New(st, svc, cfg.AutoAssignCron, cfg.AutoAssignHorizonDays, opts.Location)
		if err != nil {
			log.Fatal().Err(err).Msg("auto-assign scheduler")
		}
		sched.Start()
	}

	verifier := auth.NewVerifier(cfg.Auth)
	defer verifier.Close()
	srv := api.NewServer(cfg, st, verifier, broker, svc)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", httpSrv.Addr).Msg("HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
}

func setupLogging(level, format string) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
}

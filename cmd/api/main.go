package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkowalczyk/sheethub/internal/config"
	"github.com/mkowalczyk/sheethub/internal/db"
	httpx "github.com/mkowalczyk/sheethub/internal/http"
	"github.com/mkowalczyk/sheethub/internal/notifications"
	"github.com/mkowalczyk/sheethub/internal/observability"
	"github.com/mkowalczyk/sheethub/internal/realtime"
	"github.com/mkowalczyk/sheethub/internal/redisclient"
)

func main() {
	// Load the config set up
	cfg := config.Load()

	// start up the observability logger
	log := observability.NewLogger(cfg.Env)

	if cfg.OtelEnabled {
		shutdownTracer, err := observability.InitTracer(context.Background(), "sheethub", cfg.OtelEndpoint)

		if err != nil {
			log.Error("tracer init failed", "err", err)
		} else {
			defer func() {
				ctx, cancel := config.WithTimeout(5 * time.Second)
				defer cancel()
				_ = shutdownTracer(ctx)
			}()
		}
	}

	// migrations before the pool starts serving traffic
	{
		ctx, cancel := config.WithTimeout(30 * time.Second)
		err := db.RunMigrations(ctx, cfg.DBURL)
		cancel()

		if err != nil {
			log.Error("migrations failed", "err", err)
			os.Exit(1)
		}
	}

	pool, err := db.NewPool(cfg.DBURL)

	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}

	defer pool.Close()

	{
		ctx, cancel := config.WithTimeout(10 * time.Second)
		err := db.EnsureGMUser(ctx, pool, cfg)
		cancel()

		if err != nil {
			log.Error("gm bootstrap failed", "err", err)
			os.Exit(1)
		}
	}

	// metrics registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	// realtime hub; a Redis bus fans updates out across processes when
	// REDIS_ADDR is set, otherwise everything stays in-process
	hub := realtime.NewHub(log, prom)
	go hub.Run()
	defer hub.Shutdown()

	var bus realtime.Broadcaster = realtime.NewLocalBus(hub)

	consumeCtx, stopConsume := context.WithCancel(context.Background())
	defer stopConsume()

	if cfg.RedisAddr != "" {
		rc := redisclient.New(redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		{
			ctx, cancel := config.WithTimeout(2 * time.Second)
			err := rc.Ping(ctx)
			cancel()

			if err != nil {
				log.Error("redis unreachable, falling back to local broadcast", "err", err)
			} else {
				defer rc.Close()

				redisBus := realtime.NewRedisBus(rc.Raw(), log)
				bus = redisBus
				go redisBus.Consume(consumeCtx, hub)
			}
		}
	}

	notifier := notifications.NewProtectedNotifier(notifications.NewLogNotifier(), notifications.ProtectedNotifierConfig{
		Timeout:          3 * time.Second,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMaxCalls: 2,
	})

	router := httpx.NewRouter(httpx.Deps{
		Cfg:      cfg,
		Log:      log,
		Pool:     pool,
		Prom:     prom,
		Bus:      bus,
		Hub:      hub,
		Notifier: notifier,
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("server shutting down")

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := config.WithTimeout(10 * time.Second)

		defer cancel()

		err := srv.Shutdown(ctx)

		if err != nil {
			log.Error("graceful shutdown failed", "err", err)

			return
		}
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}

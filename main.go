package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/linesmerrill/police-cad-dispatch/api/handlers"
	"github.com/linesmerrill/police-cad-dispatch/api/scheduler"
	"github.com/linesmerrill/police-cad-dispatch/config"
	"github.com/linesmerrill/police-cad-dispatch/notify"
	"github.com/linesmerrill/police-cad-dispatch/relay"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := handlers.App{Config: *cfg}
	if err := a.Initialize(ctx); err != nil { //initialize stores, bus and router
		zap.S().Fatalw("failed to initialize", "error", err)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		r := relay.New(client, a.Bus, cfg.RedisChannelPrefix, relay.WithInbound(a.Coordinator.Observe))
		a.Metrics.CounterFunc("relay_dropped_total", "Local events not queued for redis", func() float64 {
			return float64(r.Dropped())
		})
		go func() {
			if err := r.Run(ctx); err != nil {
				zap.S().Errorw("redis relay stopped", "error", err)
			}
		}()
	}

	if cfg.SendgridAPIKey != "" {
		n := notify.New(notify.NewSendgridSender(cfg.SendgridAPIKey, cfg.AlertFromEmail), cfg.AlertRecipientsFor, cfg.BaseURL)
		a.Bus.OnPublish(n.Observe)
		a.Metrics.CounterFunc("alerts_sent_total", "Code1 alerts delivered", func() float64 {
			return float64(n.Sent())
		})
		a.Metrics.CounterFunc("alerts_dropped_total", "Code1 alerts dropped on a full queue", func() float64 {
			return float64(n.Dropped())
		})
		go n.Run(ctx)
	}

	s := scheduler.NewScheduler(cfg.ReconcileSchedule, a.Calls, a.Coordinator)
	if err := s.Start(); err != nil {
		zap.S().Fatalw("failed to start scheduler", "error", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%v", cfg.Port),
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Fatalw("http server failed", "error", err)
		}
	}()
	zap.S().Infow("police-cad-dispatch is up and running",
		"port", cfg.Port,
		"url", cfg.BaseURL,
		"store", cfg.Store,
	)

	<-ctx.Done()
	zap.S().Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.S().Errorw("failed to shut down http server", "error", err)
	}
	s.Stop()
	a.Close(shutdownCtx)
	_ = zap.L().Sync()
}

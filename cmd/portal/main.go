package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"portal/internal/app"
	"portal/internal/config"
	"portal/internal/logging"
)

func main() {
	cfg := config.Load()
	log, err := logging.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup failed", "error", err)
	}
	service.Init(ctx)
	if !service.Configured() {
		log.Warn("no endpoint configured; assignments cannot be loaded or submitted", "env", "PORTAL_ENDPOINT_URL")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("portal listening", "addr", cfg.Addr, "profile", cfg.Profile, "store", cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		if err := service.Follow(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("change feed stopped", "error", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server stopped", "error", err)
	}
	// Pending drafts and a scheduled upload are written before exit.
	if err := service.Close(); err != nil {
		log.Error("close failed", "error", err)
	}
}

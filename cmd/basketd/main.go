// Package main runs the basket oracle daemon: time-series feeds, derived
// price oracles, rebalancing managers and the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	app "github.com/R3E-Network/basket_oracle/internal/app"
	"github.com/R3E-Network/basket_oracle/internal/app/httpapi"
	"github.com/R3E-Network/basket_oracle/internal/config"
	"github.com/R3E-Network/basket_oracle/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/basket.yaml", "Path to the YAML configuration")
	flag.Parse()

	if v := os.Getenv("BASKET_CONFIG"); v != "" {
		*configPath = v
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "basketd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Component: "basketd",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := app.OpenStores(ctx, cfg.Storage, log.Named("storage"))
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.WithError(err).Warn("close stores")
		}
	}()

	application, err := app.New(ctx, cfg, stores, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	api := httpapi.New(application, httpapi.Config{
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
	}, log.Named("httpapi"))
	api.StartCleanup(ctx)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTP.Addr).Info("HTTP API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
		if err := application.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop application: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"folhaponto/internal/auth"
	"folhaponto/internal/cache"
	"folhaponto/internal/cli"
	"folhaponto/internal/config"
	"folhaponto/internal/core"
	"folhaponto/internal/events"
	apphttp "folhaponto/internal/http"
	"folhaponto/internal/log"
	"folhaponto/internal/services"
	"folhaponto/internal/sigimage"
	"folhaponto/internal/signing"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(config.Load().LogLevel)
	if err := run(logger); err != nil {
		logger.Error("Server error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(logger *log.Logger) error {
	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateServer)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	res := cli.InitBackend(ctx, logger, cfg, false)
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	broker := events.NewBroker(16)
	var publisher events.Publisher = broker
	if res.AMQP != nil {
		publisher = events.Multi{broker, res.AMQP}
	}

	roster := cache.NewLRUCache[[]core.Employee](1, 5*time.Minute)
	caches := cache.NewManager()
	caches.Register(roster)
	caches.StartCleanup(time.Minute)
	defer caches.Stop()

	employees := services.NewEmployeeService(res.Store, services.WithRosterCache(roster))
	fichas := services.NewFichaService(res.Store)
	signer := signing.NewManager(res.Store, cfg.FrontendBaseURL,
		signing.WithTTL(cfg.SigningTokenTTL),
		signing.WithPublisher(publisher),
		signing.WithImageNormalizer(sigimage.Normalize),
	)
	authSvc, err := auth.NewService(res.Store, auth.Config{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}

	srv, err := apphttp.NewServer(apphttp.Options{
		Addr:           ":" + cfg.Port,
		RateLimit:      cfg.RateLimitPerMinute,
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: cfg.TrustedProxies,
		SecureCookies:  cfg.SecureCookies,
		ImageNormalize: sigimage.Normalize,
	}, apphttp.Deps{
		Employees: employees,
		Fichas:    fichas,
		Signing:   signer,
		Auth:      authSvc,
		Broker:    broker,
		Ready:     res.Store.Ping,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	}()

	logger.Info("Starting folhaponto server", "port", cfg.Port, "backend", cfg.DataBackend, "amqp", res.AMQP != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stop()
		<-done
		return fmt.Errorf("listen on port %s: %w", cfg.Port, err)
	}
	<-done
	return nil
}

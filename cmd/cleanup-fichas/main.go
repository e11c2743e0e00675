// Command cleanup-fichas removes every ficha whose employee no longer exists.
package main

import (
	"context"
	"time"

	"folhaponto/internal/cli"
	"folhaponto/internal/config"
	"folhaponto/internal/log"
	"folhaponto/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(config.Load().LogLevel)
	cfg := cli.LoadAndValidateConfig(logger, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	res := cli.InitBackend(ctx, logger, cfg, false)
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	n, err := services.NewFichaService(res.Store).SweepOrphans(ctx)
	if err != nil {
		logger.Error("Orphan sweep failed", log.FieldError, err)
		return
	}
	logger.Info("Orphan sweep finished", log.FieldCount, n, "backend", cfg.DataBackend)
}

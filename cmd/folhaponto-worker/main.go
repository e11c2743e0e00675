package main

import (
	"os"

	"folhaponto/internal/cli"
	"folhaponto/internal/config"
	"folhaponto/internal/log"
	"folhaponto/internal/services"
	"folhaponto/internal/sheets"
	gsheet "folhaponto/internal/sheets/google"
	memsheet "folhaponto/internal/sheets/memory"
	"folhaponto/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(config.Load().LogLevel)
	logger.Info("Starting folhaponto-worker")

	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateWorker)

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	res := cli.InitBackend(ctx, logger, cfg, true)
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	var writer sheets.SignedFichaWriter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.New(ctx, gsheet.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			logger.Fatal(ctx, "Failed to initialize Google Sheets client", log.FieldError, err)
		}
		writer = client
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		writer = memsheet.New()
		logger.Info("Google Sheets disabled, signed fichas are kept in memory")
	}

	fichas := services.NewFichaService(res.Store)
	sweep := services.NewSweepProcessor(fichas, services.SweepProcessorConfig{Interval: cfg.SweepInterval})
	w := worker.NewSignatureWorker(res.Store, writer, logger)

	if err := worker.Run(ctx, w, res.AMQP, sweep); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err)
		_ = res.Cleanup()
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}

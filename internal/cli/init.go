// Package cli holds the start-up steps shared by the binaries under cmd/.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"folhaponto/internal/backend"
	"folhaponto/internal/config"
	"folhaponto/internal/log"
)

// SetupLogger builds the root text logger at the given level name and
// installs it as the slog default.
func SetupLogger(level string) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Level = log.ParseLevel(level)
	cfg.Format = os.Getenv("LOG_FORMAT")
	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads .env (or the given files) for local development.
// A missing file is not an error.
func LoadEnvFile(files ...string) {
	_ = godotenv.Load(files...)
}

// LoadAndValidateConfig loads configuration and checks it with validate.
// It exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger, validate func(*config.Config) error) *config.Config {
	cfg := config.Load()
	if validate == nil {
		validate = (*config.Config).Validate
	}
	if err := validate(cfg); err != nil {
		logger.Fatal(context.Background(), "Configuration validation failed", log.FieldError, err)
	}
	return cfg
}

// InitBackend opens the configured record store and event bus. It exits the
// process on failure.
func InitBackend(ctx context.Context, logger *log.Logger, cfg *config.Config, requireAMQP bool) *backend.BackendResult {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Fatal(ctx, "Invalid backend configuration", log.FieldError, err)
	}
	bcfg.RequireAMQP = requireAMQP
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
	}
	return res
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received")
	}()
	return ctx, stop
}

// Command set-admin creates an administrator account, or promotes the
// existing account with the same e-mail.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"folhaponto/internal/auth"
	"folhaponto/internal/cli"
	"folhaponto/internal/config"
	"folhaponto/internal/log"
)

func main() {
	cli.LoadEnvFile()

	email := flag.String("email", os.Getenv("ADMIN_EMAIL"), "administrator e-mail")
	name := flag.String("name", os.Getenv("ADMIN_NAME"), "administrator name")
	password := flag.String("password", os.Getenv("ADMIN_PASSWORD"), "password for a new account")
	flag.Parse()

	logger := cli.SetupLogger(config.Load().LogLevel)
	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateServer)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if *email == "" {
		logger.Fatal(ctx, "An e-mail is required: pass -email or set ADMIN_EMAIL")
	}

	res := cli.InitBackend(ctx, logger, cfg, false)
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	svc, err := auth.NewService(res.Store, auth.Config{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
	})
	if err != nil {
		logger.Error("Failed to initialize auth service", log.FieldError, err)
		return
	}

	created, err := svc.EnsureAdmin(ctx, *email, *name, *password)
	if err != nil {
		logger.Error("Failed to set administrator", log.FieldError, err, "email", *email)
		return
	}
	if created {
		logger.Info("Administrator account created", "email", *email)
	} else {
		logger.Info("Account is an administrator", "email", *email)
	}
}

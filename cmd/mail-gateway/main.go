// Package main is the entry point for the mail gateway.
//
//	@title			Email Service API
//	@version		1.0
//	@description	Recebe pedidos de envio de email via HTTP e os entrega a um servidor SMTP.
//	@BasePath		/api
//
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						X-API-KEY
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/shineum/mail-gateway/internal/config"
	"github.com/shineum/mail-gateway/internal/logging"
	"github.com/shineum/mail-gateway/internal/provider"
	"github.com/shineum/mail-gateway/internal/provider/ses"
	"github.com/shineum/mail-gateway/internal/provider/smtp"
	"github.com/shineum/mail-gateway/internal/provider/stdout"
	"github.com/shineum/mail-gateway/internal/server"
	"github.com/shineum/mail-gateway/internal/tlsutil"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("mail-gateway stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
		SentryDSN:   cfg.Logging.SentryDSN,
		Environment: cfg.Service.Environment,
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	if err := cfg.Validate(); err != nil {
		return err
	}

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	prov, err := selectProvider(cfg, logger.Logger)
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		Config:   cfg,
		Provider: prov,
		Logger:   logger.Logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting mail-gateway",
		"port", cfg.Service.Port,
		"provider", prov.Name(),
		"environment", cfg.Service.Environment,
		"email_configured", cfg.EmailConfigured(),
	)

	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	logger.Info("mail-gateway stopped")
	return nil
}

// selectProvider builds the delivery backend named by MAIL_PROVIDER.
func selectProvider(cfg *config.Config, logger *slog.Logger) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderSMTP:
		tlsConfig, err := tlsutil.ClientConfig(cfg.SMTP.Server, cfg.SMTP.TLSCAFile, cfg.SMTP.TLSSkipVerify)
		if err != nil {
			return nil, fmt.Errorf("setup SMTP TLS: %w", err)
		}
		if cfg.SMTP.TLSSkipVerify {
			logger.Warn("SMTP certificate verification disabled")
		}
		logger.Info("using SMTP provider",
			"server", cfg.SMTP.Server,
			"port", cfg.SMTP.Port,
			"use_tls", cfg.SMTP.UseTLS,
		)
		return smtp.New(smtp.Config{
			Server:         cfg.SMTP.Server,
			Port:           cfg.SMTP.Port,
			Sender:         cfg.SMTP.Sender,
			Secret:         cfg.SMTP.Secret,
			UseTLS:         cfg.SMTP.UseTLS,
			HeloName:       cfg.SMTP.HeloName,
			ConnectTimeout: cfg.SMTP.ConnectTimeout,
			SessionTimeout: cfg.SMTP.SessionTimeout,
		}, smtp.WithTLSConfig(tlsConfig), smtp.WithLogger(logger)), nil

	case config.ProviderSES:
		if !cfg.SESConfigured() {
			return nil, fmt.Errorf("SES provider selected but SES_REGION and SES_SENDER are required")
		}
		logger.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		p, err := ses.New(context.Background(), ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
			Timeout:         cfg.SMTP.SessionTimeout,
		}, ses.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("create SES provider: %w", err)
		}
		return p, nil

	case config.ProviderStdout:
		logger.Info("using stdout provider")
		return stdout.New(cfg.SMTP.Sender), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

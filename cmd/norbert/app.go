// file: cmd/norbert/app.go
package main

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/auth"
	"github.com/dkoosis/norbert/internal/backend"
	"github.com/dkoosis/norbert/internal/config"
	"github.com/dkoosis/norbert/internal/logging"
	"github.com/dkoosis/norbert/internal/schema"
)

// app holds what every subcommand needs: configuration and a logger.
type app struct {
	cfg    *config.Config
	logger logging.Logger
}

// newApp loads configuration and sets up logging. A missing file at the
// default config path is not an error; defaults and environment apply.
func newApp(component string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if debugMode {
		level = "debug"
	}
	logging.SetupDefaultLogger(level)
	logger := logging.GetLogger(component)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Debug("Configuration loaded.", "path", configPath, "backend", cfg.Backend.URL)
	return &app{cfg: cfg, logger: logger}, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(expanded); errors.Is(statErr, os.ErrNotExist) && path == getDefaultConfigPath() {
		return config.DefaultConfig(), nil
	}
	return config.LoadFromFile(path)
}

// session opens token storage and wraps it in a Session.
func (a *app) session() (*auth.Session, auth.Storage, error) {
	storage, err := auth.NewStorage(a.cfg.Auth, logging.GetLogger("auth"))
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open token storage")
	}
	return auth.NewSession(storage, logging.GetLogger("auth")), storage, nil
}

// backendClient builds a backend client with schema validation of
// responses. The returned cleanup releases the validator.
func (a *app) backendClient(ctx context.Context, tokens backend.TokenSource) (*backend.Client, func(), error) {
	if err := a.cfg.RequireBackend(); err != nil {
		return nil, nil, err
	}

	validator := schema.NewValidator(a.cfg.Schema, logging.GetLogger("schema"))
	if err := validator.Initialize(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "failed to initialize response schema")
	}
	a.logger.Debug("Response schema ready.",
		"version", validator.GetSchemaVersion(),
		"load", validator.GetLoadDuration(),
		"compile", validator.GetCompileDuration())
	cleanup := func() {
		if err := validator.Shutdown(); err != nil {
			a.logger.Warn("Schema validator shutdown failed.", "error", err)
		}
	}

	b := a.cfg.Backend
	client, err := backend.NewClient(backend.Options{
		BaseURL:            b.URL,
		AnonKey:            b.AnonKey,
		ConnectFunction:    b.ConnectFunction,
		SendCodeFunction:   b.SendCodeFunction,
		VerifyCodeFunction: b.VerifyCodeFunction,
		ChannelsTable:      b.ChannelsTable,
		Timeout:            b.Timeout,
		ChannelPollRate:    b.ChannelPollRate,
		ChannelPollBurst:   b.ChannelPollBurst,
	}, tokens, validator, logging.GetLogger("backend"))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return client, cleanup, nil
}

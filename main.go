package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trading-dashboard/config"
	"trading-dashboard/internal/api"
	"trading-dashboard/internal/audit"
	"trading-dashboard/internal/auth"
	"trading-dashboard/internal/cache"
	"trading-dashboard/internal/database"
	"trading-dashboard/internal/logging"
	"trading-dashboard/internal/mode"
	"trading-dashboard/internal/stream"
	"trading-dashboard/internal/vault"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	hashPassword := flag.String("hash-password", "", "print a bcrypt hash for AUTH_PASSWORD_HASH and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := auth.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	})
	logger.Info().Msg("starting trading dashboard")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Mode service credential: Vault takes precedence, config/env fallback.
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("vault client initialization failed")
	}
	credential := cfg.ModeServiceConfig.Credential
	if cfg.VaultConfig.Enabled {
		stored, err := vaultClient.ModeServiceCredential(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to read mode service credential from vault")
		}
		if stored != "" {
			credential = stored
		}
	}

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("database migrations failed")
	}

	auditSink := audit.NewPostgresSink(db.Pool, logger)
	defer auditSink.Close()

	var modeCache *cache.ModeCache
	if cfg.RedisConfig.Enabled {
		modeCache, err = cache.NewModeCache(cfg.RedisConfig, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis initialization failed")
		}
		defer modeCache.Close()
	}

	modeService, err := mode.NewHTTPService(
		cfg.ModeServiceConfig.BaseURL,
		credential,
		cfg.ModeServiceConfig.RequestTimeout,
		logger,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("mode service client initialization failed")
	}

	var snapshot mode.Snapshotter
	if modeCache != nil {
		snapshot = modeCache
	}
	controller := mode.NewController(modeService, auditSink, snapshot, logger)

	var authService *auth.Service
	if cfg.AuthConfig.Enabled {
		authService = auth.NewService(
			cfg.AuthConfig.PasswordHash,
			cfg.AuthConfig.JWTSecret,
			cfg.AuthConfig.AccessTokenDuration,
		)
	} else {
		logger.Warn().Msg("authentication is disabled")
	}

	dispatcher := stream.NewDispatcher(logger)
	dialer := stream.NewWebsocketDialer(cfg.StreamConfig.PingInterval, cfg.StreamConfig.WriteTimeout)
	policy := stream.NewReconnectPolicy(cfg.StreamConfig.ReconnectBase)
	manager := stream.NewManager(cfg.StreamConfig.Endpoint, dialer, policy, dispatcher, logger)

	server := api.NewServer(api.ServerConfig{
		Host:           cfg.ServerConfig.Host,
		Port:           cfg.ServerConfig.Port,
		ProductionMode: cfg.ServerConfig.ProductionMode,
		AllowedOrigins: cfg.ServerConfig.AllowedOrigins,
	}, controller, manager, auditSink, modeCache, authService, logger)

	// Relay every stream event to connected dashboard clients.
	dispatcher.Subscribe(func(event stream.Event) {
		server.Hub().Broadcast(event)
	})

	err = manager.Connect(nil, func(err error) {
		logger.Error().Err(err).Msg("realtime channel error")
		server.Hub().Broadcast(stream.Event{
			Type:      stream.EventSessionUpdate,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"stream_state": manager.State().String(),
				"error":        err.Error(),
			},
		})
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start realtime channel")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
		}
	}

	manager.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	logger.Info().Msg("trading dashboard stopped")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chatrelay-backend/internal/config"
	"chatrelay-backend/internal/database"
	"chatrelay-backend/internal/handlers"
	"chatrelay-backend/internal/repository"
	"chatrelay-backend/internal/router"
	"chatrelay-backend/internal/services"
	"chatrelay-backend/internal/websocket"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "chatrelay",
		Short:        "Chat back-end relaying conversations to a completions API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve()
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrate()
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *zap.Logger {
	zapCfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	}
	if level, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zapCfg.Level = level
	}
	logger, err := zapCfg.Build()
	if err != nil {
		return zap.NewExample()
	}
	return logger
}

// openStore opens the configured chat store; closeFn releases its connections.
func openStore(cfg *config.Config, logger *zap.Logger) (store services.ChatStore, closeFn func(), err error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := database.NewPostgresPool(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connection failed: %w", err)
		}
		if err := database.RunPostgresMigrations(pool, logger); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("database migration failed: %w", err)
		}
		return repository.NewChatRepo(pool), pool.Close, nil

	case config.StoreDriverSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite open failed: %w", err)
		}
		return repository.NewSQLiteChatRepo(db), func() { db.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

func migrate() error {
	cfg := config.Load()
	logger := newLogger(cfg)
	defer logger.Sync()

	_, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	closeStore()
	logger.Info("migrations applied", zap.String("driver", cfg.StoreDriver))
	return nil
}

func serve() error {
	cfg := config.Load()
	logger := newLogger(cfg)
	defer logger.Sync()

	// ──── Storage ────
	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return err
	}
	defer closeStore()
	logger.Info("chat store ready", zap.String("driver", cfg.StoreDriver))

	// ──── Redis (optional) ────
	var (
		locker = services.NoopLocker
		events = services.NoopPublisher
		wsHub  *websocket.Hub
	)
	if cfg.RedisURL != "" {
		redisClients, err := database.NewRedisClients(cfg.RedisURL)
		if err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		defer redisClients.Close()

		// The lock outlives both completion attempts.
		lockTTL := 2*cfg.CompletionTimeout + 10*time.Second
		locker = services.NewRedisChatLocker(redisClients.Commands, lockTTL, cfg.ChatLockWait)
		events = services.NewRedisEventPublisher(redisClients.Commands)
		wsHub = websocket.NewHub(redisClients.PubSub, logger)
		logger.Info("redis connected: chat locking and events enabled")
	}

	// ──── Relay ────
	if cfg.APIKey == "" {
		logger.Warn("OPENROUTER_KEY is not set; chat replies will report a configuration error")
	}
	completer := services.NewOpenAICompleter(cfg.APIKey, cfg.CompletionsBaseURL, cfg.CompletionTimeout)
	relay := services.NewRelayService(services.RelayConfig{
		SystemPrompt:  cfg.SystemPrompt,
		MaxInputChars: cfg.MaxInputChars,
		HistoryWindow: cfg.HistoryWindow,
		Temperature:   cfg.Temperature,
		Standard:      services.ModelTier{Model: cfg.ModelPrimary, MaxTokens: cfg.MaxTokens},
		Premium:       services.ModelTier{Model: cfg.ModelPremium, MaxTokens: cfg.MaxTokensPremium},
		FallbackModel: cfg.ModelFallback,
		Timeout:       cfg.CompletionTimeout,
	}, store, completer, locker, events, logger)

	chatHandler := handlers.NewChatHandler(store, relay, events, cfg.DefaultChatTitle, logger)

	// ──── HTTP Server ────
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     router.New(logger, chatHandler, wsHub, cfg.FrontendURL),
		ReadTimeout: 15 * time.Second,
		// Room for the primary and fallback completion attempts.
		WriteTimeout: 2*cfg.CompletionTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.CompletionTimeout+5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	logger.Info("chat relay ready",
		zap.String("addr", server.Addr),
		zap.String("model", cfg.ModelPrimary),
		zap.String("fallback_model", cfg.ModelFallback))

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", zap.Error(err))
		return err
	}
	return nil
}

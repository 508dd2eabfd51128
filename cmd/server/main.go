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

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lovelink/realtime-relay/internal/api"
	"github.com/lovelink/realtime-relay/internal/auth"
	"github.com/lovelink/realtime-relay/internal/config"
	"github.com/lovelink/realtime-relay/internal/core"
	"github.com/lovelink/realtime-relay/internal/logger"
	"github.com/lovelink/realtime-relay/internal/store"
)

const serviceName = "realtime-relay"

func main() {
	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "Realtime presence, chat relay and AI responder",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and socket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "init-db",
		Short: "Create the document store schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInitDB()
		},
	})

	var tokenUser string
	var tokenTTL time.Duration
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a socket token for a user (needs JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.GenerateJWT(config.AppConfig.JWTSecret, tokenUser, tokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "User ID (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runInitDB() error {
	cfg := config.AppConfig
	log := newLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ds, err := store.Open(ctx, cfg.DBDriver, cfg.DatabaseURL, cfg.MongoDatabase)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer ds.Close()

	if err := ds.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	log.Info().Str("driver", cfg.DBDriver).Msg("schema initialized")
	return nil
}

func newLogger(cfg config.Config) zerolog.Logger {
	log := logger.New(serviceName, cfg.Env, cfg.LogLevel)
	if cfg.EnvFile == "" {
		log.Info().Msg("no .env file found, relying on environment variables")
	} else {
		log.Info().Str("file", cfg.EnvFile).Msg("loaded environment file")
	}
	return log
}

func newProvider(cfg config.Config, log zerolog.Logger) (core.Provider, func()) {
	keys := core.NewKeyPool(cfg.AIAPIKeys)
	if keys.Len() == 0 {
		log.Warn().Msg("no AI provider keys configured, every AI reply will use the fallback")
	}

	switch cfg.AIProvider {
	case "openai":
		return core.NewOpenAIProvider(keys, cfg.AIModel, cfg.AIBaseURL, cfg.AIProviderTimeout), func() {}
	default:
		p := core.NewGeminiProvider(keys, cfg.AIModel, cfg.AIProviderTimeout, log)
		return p, p.Close
	}
}

func runServer() error {
	cfg := config.AppConfig
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	ds, err := store.Open(openCtx, cfg.DBDriver, cfg.DatabaseURL, cfg.MongoDatabase)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer ds.Close()

	// SQLite and memory stores are local, so the schema is created on startup.
	if cfg.DBDriver == "sqlite" || cfg.DBDriver == "memory" {
		if err := ds.InitSchema(openCtx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		redisStore, err = store.NewRedisStore(openCtx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisStore.Close()
	}

	personas, err := core.NewPersonaSelector(cfg.AIPersonaOverride)
	if err != nil {
		return err
	}
	provider, closeProvider := newProvider(cfg, log)
	defer closeProvider()

	hub := api.NewHub(cfg.AllowedOrigins, cfg.JWTSecret, log)

	presence := core.NewPresenceService(
		core.NewRoster(),
		core.NewAIPresence(cfg.AIPresenceTTL),
		ds, hub, core.SystemClock{}, log,
	)
	presence.SetStoreTimeout(cfg.StoreTimeout)

	responder := core.NewResponder(core.ResponderOptions{
		Presence:     presence,
		Provider:     provider,
		Personas:     personas,
		Language:     core.NewLanguageDetector(cfg.AILocalKeywords),
		Messages:     ds,
		Matches:      ds,
		Emitter:      hub,
		Delays:       core.DefaultResponderDelays,
		StoreTimeout: cfg.StoreTimeout,
		Logger:       log,
	})

	dispatcher := core.NewDispatcher(presence, responder, ds, hub, log)
	dispatcher.SetStoreTimeout(cfg.StoreTimeout)
	if redisStore != nil && cfg.AIRateLimit > 0 {
		limit := cfg.AIRateLimit
		dispatcher.SetLimiter(core.SendLimiterFunc(func(ctx context.Context, userID string) (bool, error) {
			return redisStore.AllowAISend(ctx, userID, limit, time.Minute)
		}))
	}
	hub.Handle(dispatcher)

	var redisPinger api.Pinger
	if redisStore != nil {
		redisPinger = redisStore
	}
	apiHandler := api.NewAPIHandler(presence, ds, redisPinger, cfg.JWTSecret, log)
	router := api.NewRouter(apiHandler, hub, cfg.AllowedOrigins, log)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go presence.RunSweeper(sweepCtx, cfg.AISweepInterval)

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.DBDriver).Str("provider", provider.Name()).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("could not listen on %s: %w", srv.Addr, err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	stopSweeper()
	hub.Close()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server exited gracefully")
	return nil
}

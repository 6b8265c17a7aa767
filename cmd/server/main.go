package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/skillnest/realtime/internal/api"
	"github.com/skillnest/realtime/internal/auth"
	"github.com/skillnest/realtime/internal/broadcast"
	"github.com/skillnest/realtime/internal/chat"
	"github.com/skillnest/realtime/internal/config"
	"github.com/skillnest/realtime/internal/database"
	"github.com/skillnest/realtime/internal/logging"
	"github.com/skillnest/realtime/internal/meeting"
	"github.com/skillnest/realtime/internal/notify"
	"github.com/skillnest/realtime/internal/presence"
	"github.com/skillnest/realtime/internal/rooms"
	"github.com/skillnest/realtime/internal/server"
	"github.com/skillnest/realtime/internal/stats"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "skillnest-realtime",
		Short: "Realtime chat, presence, notification and meeting service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before reading the environment")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (postgres, sqlite)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database connection string or SQLite path")
	cmd.PersistentFlags().String("signing-key", "", "Base64 encoded access token signing key (overrides env)")
	cmd.PersistentFlags().String("cookie-name", defaults.GetString("auth.cookie_name"), "Cookie carrying the access token")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("cors.allowed_origins"), "Allowed CORS and websocket origins")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("broker", defaults.GetString("broker.backend"), "Broadcast backend (redis, memory)")
	cmd.PersistentFlags().String("redis-addr", defaults.GetString("broker.redis_addr"), "Redis address")
	cmd.PersistentFlags().String("node-id", "", "Identifier of this instance in group membership")
	cmd.PersistentFlags().String("nats-url", "", "NATS URL for domain events; empty disables the consumer")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "auth.signing_key", "signing-key")
	bindFlag(cmd, "auth.cookie_name", "cookie-name")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "broker.backend", "broker")
	bindFlag(cmd, "broker.redis_addr", "redis-addr")
	bindFlag(cmd, "broker.node_id", "node-id")
	bindFlag(cmd, "events.nats_url", "nats-url")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func openDatabase(cfg *config.Config, logger *zap.Logger) (*database.GormRepository, error) {
	if cfg.DatabaseDriver == config.DriverSQLite {
		return database.OpenSQLite(cfg.DatabaseDSN, logger)
	}
	return database.OpenPostgres(cfg.DatabaseDSN, logger)
}

func openBackend(ctx context.Context, cfg *config.Config) (broadcast.Backend, error) {
	if cfg.Broker == config.BrokerMemory {
		return broadcast.NewMemoryBackend(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return broadcast.NewRedisBackend(ctx, broadcast.RedisOptions{
		Addr:      cfg.RedisAddr,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		MemberTTL: cfg.MemberTTL,
	})
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := openDatabase(appConfig, logger)
	if err != nil {
		logger.Error("open database", zap.String("driver", appConfig.DatabaseDriver), zap.Error(err))
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("close database", zap.Error(err))
		}
	}()

	backend, err := openBackend(ctx, appConfig)
	if err != nil {
		logger.Error("open broadcast backend", zap.String("broker", appConfig.Broker), zap.Error(err))
		return err
	}

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	router := broadcast.NewRouter(backend, appConfig.NodeId, logger, statsUpdater)

	validator, err := auth.NewValidator(auth.ValidatorConfig{
		SigningKey: appConfig.SigningKey,
		CookieName: appConfig.CookieName,
	})
	if err != nil {
		router.Close()
		return err
	}
	meetingTokens, err := auth.NewMeetingTokens(auth.MeetingTokenConfig{
		AppId:  appConfig.MeetingAppId,
		Domain: appConfig.MeetingDomain,
		Secret: appConfig.MeetingSecret,
		TTL:    appConfig.MeetingTokenTTL,
	})
	if err != nil {
		router.Close()
		return err
	}

	registry := presence.NewRegistry(db, logger, time.Now)
	authorizer := rooms.NewAuthorizer(db, registry, logger)
	store := chat.NewStore(db, logger, chat.StoreOptions{
		PageSize:    appConfig.HistoryPageSize,
		MaxPageSize: appConfig.MaxHistoryPageSize,
		Clock:       time.Now,
	})
	notifier := notify.NewService(db, router, logger, statsUpdater)
	meetings := meeting.NewService(db, authorizer, router, meetingTokens, logger, statsUpdater)

	gateway := server.NewGateway(logger, validator, db, authorizer, router, registry, store, statsUpdater,
		server.GatewayOptions{
			AllowedOrigins: appConfig.AllowedOrigins,
			HistoryLimit:   appConfig.HistoryPageSize,
			InboundRate:    rate.Limit(appConfig.InboundRate),
			InboundBurst:   appConfig.InboundBurst,
		})

	app := api.NewGoChatApp(mux, logger, api.Services{
		DB:         db,
		Validator:  validator,
		Gateway:    gateway,
		Router:     router,
		Authorizer: authorizer,
		Store:      store,
		Meetings:   meetings,
		Notifier:   notifier,
	}, appConfig)

	var consumer *notify.EventConsumer
	if appConfig.NatsURL != "" {
		consumer, err = notify.NewEventConsumer(notify.ConsumerConfig{
			URL:     appConfig.NatsURL,
			Subject: appConfig.EventsTopic,
			Queue:   appConfig.EventsQueue,
		}, notifier, logger)
		if err != nil {
			logger.Error("start event consumer", zap.Error(err))
			router.Close()
			return err
		}
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()
	go gateway.RunHeartbeat(signalCtx, appConfig.HeartbeatInterval)

	var serveErr error
	select {
	case <-signalCtx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", zap.Error(err))
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", zap.Error(err))
	}
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown", zap.Error(err))
	}
	if err := consumer.Close(); err != nil {
		logger.Error("event consumer shutdown", zap.Error(err))
	}
	if err := router.Close(); err != nil {
		logger.Error("router shutdown", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return serveErr
}

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"readstate_backend/database"
	"readstate_backend/internal/auth"
	"readstate_backend/internal/config"
	"readstate_backend/internal/handlers"
	"readstate_backend/internal/logger"
	"readstate_backend/internal/middleware"
	"readstate_backend/internal/repositories"
	repoChat "readstate_backend/internal/repositories/chat"
	"readstate_backend/internal/routes"
	"readstate_backend/internal/services/delivery"
	"readstate_backend/internal/services/push"
	"readstate_backend/internal/services/unread"
	"readstate_backend/internal/validator"
	"readstate_backend/internal/workers"
	"readstate_backend/pkg/apperrors"
	"readstate_backend/ws"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// Container - собранные зависимости приложения
type Container struct {
	Config     *config.Config
	DB         *gorm.DB
	Store      repoChat.ParticipantStore
	Engine     *unread.Engine
	Hub        *ws.WebSocketManager
	Devices    repositories.DeviceTokenRepository
	Dispatcher *push.Dispatcher
	Events     *delivery.MessageEventService
	Worker     *workers.MessageEventWorker
	Verifier   auth.Verifier
	Validator  *validator.Validator

	closers []func() error
}

// Overrides подменяют внешние системы (тесты, локальный запуск)
type Overrides struct {
	DB       *gorm.DB
	Store    repoChat.ParticipantStore
	Provider push.Provider
	Redis    redis.UniversalClient
}

func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger.Init(cfg.Server.Env)
	logger.Info("Logger initialized", "env", cfg.Server.Env)

	apperrors.SetDebug(cfg.Server.Env == "development")
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := Build(ctx, cfg, Overrides{})
	if err != nil {
		return err
	}
	defer c.Close()

	go c.Hub.Run(ctx)
	if c.Worker != nil {
		c.Worker.Start(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           SetupRouter(c),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("🚀 Server starting on %s", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server startup error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

// Build собирает сервисы по конфигу
func Build(ctx context.Context, cfg *config.Config, o Overrides) (*Container, error) {
	c := &Container{
		Config:    cfg,
		Verifier:  auth.NewJWTVerifier(cfg.JWT.Secret),
		Validator: validator.New(),
	}

	if err := c.initStorage(o); err != nil {
		c.Close()
		return nil, err
	}

	c.Hub = ws.NewWebSocketManager()
	c.Engine = unread.NewEngine(c.Store, cfg.Unread.FanoutConcurrency, c.Hub)
	c.Devices = repositories.NewDeviceTokenRepository(c.DB)

	provider := o.Provider
	if provider == nil {
		provider = newProvider(ctx, cfg)
	}
	c.Dispatcher = push.NewDispatcher(provider, cfg.Push.MaxTokens)

	c.Events = delivery.NewMessageEventService(c.Engine, c.Devices, c.Dispatcher, c.newGuard(ctx, o.Redis), c.Validator)

	if cfg.Kafka.Enabled {
		reader := workers.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
		c.Worker = workers.NewMessageEventWorker(reader, c.Events)
		logger.Info("Kafka consumer configured", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	return c, nil
}

func (c *Container) initStorage(o Overrides) error {
	cfg := c.Config

	c.DB = o.DB
	if c.DB == nil {
		driver, dsn := DeviceDBTarget(cfg)
		logger.Info("Connecting to database...", "driver", driver)
		db, err := database.OpenGorm(driver, dsn)
		if err != nil {
			return err
		}
		c.DB = db
		c.closers = append(c.closers, func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
		if cfg.Server.Env != "production" {
			if err := database.AutoMigrate(db); err != nil {
				return err
			}
		}
		logger.Info("Database connected")
	}

	c.Store = o.Store
	if c.Store != nil {
		return nil
	}
	if cfg.Database.Driver == "badger" {
		kv, err := database.OpenBadger(cfg.Database.BadgerPath, logger.GetLogger())
		if err != nil {
			return err
		}
		c.closers = append(c.closers, kv.Close)
		c.Store = repoChat.NewBadgerParticipantStore(kv, logger.GetLogger())
		return nil
	}
	c.Store = repoChat.NewGormParticipantStore(c.DB)
	return nil
}

// DeviceDBTarget - куда ходит gorm. С badger участники живут в KV,
// а реестр токенов остается в sqlite рядом с ним.
func DeviceDBTarget(cfg *config.Config) (driver, dsn string) {
	if cfg.Database.Driver != "badger" {
		return cfg.Database.Driver, cfg.Database.DSN
	}
	return "sqlite", lo.CoalesceOrEmpty(cfg.Database.DSN, cfg.Database.BadgerPath+".devices.db")
}

func newProvider(ctx context.Context, cfg *config.Config) push.Provider {
	if cfg.Push.Provider == "fcm" {
		fcm, err := push.NewFCMProvider(ctx, cfg.Push.CredentialsFile, cfg.Push.LinkBaseURL)
		if err == nil {
			logger.Info("Push provider initialized", "provider", "fcm")
			return fcm
		}
		logger.Error("Failed to initialize FCM, falling back to logging provider", "error", err)
	}
	logger.Warn("--- Push-уведомления не отправляются, используется LoggingProvider ---")
	return push.NewLoggingProvider(logger.GetLogger())
}

func (c *Container) newGuard(ctx context.Context, client redis.UniversalClient) delivery.IdempotencyGuard {
	cfg := c.Config
	if client == nil {
		if cfg.Redis.Addr == "" {
			logger.Warn("redis.addr is empty, duplicate message events are not filtered")
			return delivery.NoopGuard{}
		}
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, rc.Close)
		client = rc
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// guard остается redis: события будут отклоняться, пока redis недоступен
		logger.Error("Redis unavailable at startup", "addr", cfg.Redis.Addr, "error", err)
	}
	return delivery.NewRedisGuard(client, time.Duration(cfg.Redis.EventTTLSeconds)*time.Second)
}

// Close освобождает ресурсы в обратном порядке
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
	c.closers = nil
}

func SetupRouter(c *Container) *gin.Engine {
	baseHandler := handlers.NewBaseHandler(c.Validator)
	authMiddleware := middleware.AuthMiddleware(c.Verifier)

	appHandlers := &handlers.AppHandlers{
		UnreadHandler:       handlers.NewUnreadHandler(baseHandler, c.Engine, authMiddleware),
		NotificationHandler: handlers.NewNotificationHandler(baseHandler, c.Dispatcher, c.Hub, authMiddleware),
		DeviceHandler:       handlers.NewDeviceHandler(baseHandler, c.Devices, authMiddleware),
		InternalHandler:     handlers.NewInternalHandler(baseHandler, c.Events, c.Engine, middleware.InternalKeyMiddleware(c.Config.Internal.APIKey)),
		HealthHandler:       handlers.NewHealthHandler(c.Engine),
	}
	wsHandler := ws.NewWebSocketHandler(c.Hub, c.Engine)

	ginRouter := initializeGinRouter()
	routes.RegisterRoutes(ginRouter, appHandlers, wsHandler, authMiddleware)
	return ginRouter
}

func initializeGinRouter() *gin.Engine {
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware())
	router.Use(middleware.MetricsMiddleware())
	return router
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cuonglevan23/taskflow-backend-sub003/internal/api"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/app"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/app/maintenance"
	iauth "github.com/cuonglevan23/taskflow-backend-sub003/internal/auth"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/cache"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/database"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/middleware"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/presence"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/realtime"
	"github.com/cuonglevan23/taskflow-backend-sub003/internal/services"
	"github.com/cuonglevan23/taskflow-backend-sub003/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Redis      cache.Store
	Hub        *realtime.Hub
	Registry   *presence.Registry
	Dispatcher *services.DispatchService
	Cleaner    *maintenance.Cleaner
	Router     *gin.Engine
}

// bootstrapRuntime initialises the database, cache, presence registry,
// realtime hub, services, and the HTTP router.
func bootstrapRuntime(_ context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	presenceStore := cache.Store(dbStore)
	if stack.Redis != nil {
		presenceStore = stack.Redis
	}

	stack.Registry, err = presence.NewRegistry(presenceStore, presence.Config{
		HeartbeatTTL: cfg.Realtime.HeartbeatTTL,
		GraceWindow:  cfg.Realtime.GraceWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise presence registry: %w", err)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	notificationSvc, err := services.NewNotificationService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise notification service: %w", err)
	}

	stack.Hub = realtime.NewHub()

	stack.Dispatcher, err = services.NewDispatchService(notificationSvc, stack.Registry, stack.Hub)
	if err != nil {
		return nil, fmt.Errorf("initialise dispatcher: %w", err)
	}

	syncSvc, err := services.NewSyncService(notificationSvc, stack.Registry, stack.Hub)
	if err != nil {
		return nil, fmt.Errorf("initialise sync service: %w", err)
	}

	lifecycleSvc, err := services.NewLifecycleService(stack.Registry, syncSvc, stack.Dispatcher)
	if err != nil {
		return nil, fmt.Errorf("initialise lifecycle service: %w", err)
	}
	stack.Hub.RegisterListener(lifecycleSvc)

	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(stack.DB, stack.Registry,
			maintenance.WithRetention(cfg.Maintenance.RetainDeletedFor),
			maintenance.WithPurgeSchedule(cfg.Maintenance.Schedule))
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	var rateStore middleware.RateStore
	switch {
	case stack.Redis != nil:
		rateStore = middleware.NewRedisRateStore(stack.Redis)
	default:
		rateStore = middleware.NewDatabaseRateStore(dbStore)
	}

	stack.Router, err = api.NewRouter(api.Deps{
		Config:     cfg,
		JWT:        jwtSvc,
		Hub:        stack.Hub,
		Store:      notificationSvc,
		Dispatcher: stack.Dispatcher,
		Syncer:     syncSvc,
		Sessions:   stack.Registry,
		RateStore:  rateStore,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Dispatcher != nil {
		s.Dispatcher.Close()
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if rc, ok := s.Redis.(*cache.RedisClient); ok && rc != nil {
		if err := rc.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.OpenAndMigrate(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	logger.WithModule("database").Info("database connected",
		zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}

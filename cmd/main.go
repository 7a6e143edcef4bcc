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

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/okbozin/okboz-crm-sub003/internal/aggregate"
	"github.com/okbozin/okboz-crm-sub003/internal/broadcast"
	"github.com/okbozin/okboz-crm-sub003/internal/cloud"
	"github.com/okbozin/okboz-crm-sub003/internal/corporate"
	"github.com/okbozin/okboz-crm-sub003/internal/handler"
	"github.com/okbozin/okboz-crm-sub003/internal/kv"
	"github.com/okbozin/okboz-crm-sub003/internal/model"
	"github.com/okbozin/okboz-crm-sub003/internal/storage"
	"github.com/okbozin/okboz-crm-sub003/pkg/config"
	"github.com/okbozin/okboz-crm-sub003/pkg/database"
	"github.com/okbozin/okboz-crm-sub003/pkg/jwtutil"
	"github.com/okbozin/okboz-crm-sub003/pkg/logger"
	"github.com/okbozin/okboz-crm-sub003/pkg/metrics"
	"github.com/okbozin/okboz-crm-sub003/pkg/middleware"
	"go.uber.org/zap"
)

const serviceName = "okboz-crm"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		// Can't use structured logger yet since it's not initialized
		panic("Failed to load configuration: " + err.Error())
	}

	if err := logger.InitLogger(&logger.LogConfig{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Env,
		ServiceName: cfg.ServiceName,
	}); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	defer log.Sync()

	log.Info("Starting "+serviceName, cfg.LogConfig()...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.Store.Backend == config.BackendRedis || cfg.Sync.Broker == config.BrokerRedis {
		redisClient, err = openRedis(ctx, &cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		log.Info("Redis connection established", zap.String("addr", cfg.Redis.Addr))
	}

	store, err := openStore(cfg, redisClient, log)
	if err != nil {
		log.Fatal("Failed to open store", zap.Error(err))
	}

	var cloudClient *cloud.Client
	if cfg.Cloud.Enabled() {
		cloudClient = cloud.NewClient(&cfg.Cloud, log)
		// hydrate the raw store so the restored keys are not mirrored straight back
		if _, err := cloudClient.Hydrate(ctx, store); err != nil {
			log.Warn("Cloud hydration failed, starting with local data", zap.Error(err))
		}
	}

	broker, err := openBroker(ctx, cfg, redisClient, log)
	if err != nil {
		log.Fatal("Failed to start change broker", zap.Error(err))
	}
	defer broker.Close()
	log.Info("Change broker started", zap.String("broker", cfg.Sync.Broker))

	acc := storage.NewAccessor(
		kv.NewObserved(store, broker, log),
		storage.WithGuard(storage.Guard{Threshold: cfg.Store.GuardThreshold}),
		storage.WithLogger(log),
	)
	corporates := storage.NewCollection[model.CorporateAccount](acc, storage.CorporateAccountsKey)
	staff := storage.NewCollection[model.Employee](acc, storage.StaffKey)

	var uploader handler.Uploader = handler.InlineUploader{}
	if cloudClient != nil {
		uploader = cloudClient
		autoSync := cloudClient.AutoSync(broker)
		defer autoSync.Close()
	}

	jwtUtil := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
		SigningKey:      cfg.JWT.SigningKey,
		ExpirationHours: cfg.JWT.ExpirationHours,
	})

	corporateSvc := corporate.NewService(corporates, log)

	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.Recover())
	e.Use(middleware.RequestIDMiddleware())
	e.Use(logger.Middleware())
	e.Use(metrics.NewHTTPMetrics(cfg.Metrics.Prefix).Middleware())

	handler.RegisterRoutes(e, jwtUtil, corporateSvc.CheckSession,
		handler.NewCollectionHandler(staff, aggregate.New(staff, corporates, log), broker),
		collectionRoutes[model.Vendor](acc, corporates, broker, storage.VendorKey, log),
		collectionRoutes[model.Document](acc, corporates, broker, storage.DocumentKey, log),
		collectionRoutes[model.LeaveType](acc, corporates, broker, storage.LeaveTypeKey, log),
		collectionRoutes[model.Holiday](acc, corporates, broker, storage.HolidayKey, log),
		collectionRoutes[model.Shift](acc, corporates, broker, storage.ShiftKey, log),
		collectionRoutes[model.Lead](acc, corporates, broker, storage.LeadKey, log),
		handler.NewCorporateHandler(corporateSvc),
		handler.NewAuthHandler(corporateSvc, jwtUtil),
		handler.NewStaffHandler(staff, uploader),
	)

	go func() {
		port := cfg.Server.Port
		log.Info("Starting server", zap.String("port", port))
		if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	if cloudClient != nil {
		if _, err := cloudClient.Backup(shutdownCtx, store); err != nil {
			log.Warn("Final cloud backup failed", zap.Error(err))
		}
	}
}

func collectionRoutes[T any](acc *storage.Accessor, corporates *storage.Collection[model.CorporateAccount], broker broadcast.Broker, baseKey string, log *zap.Logger) handler.Registrar {
	coll := storage.NewCollection[T](acc, baseKey)
	return handler.NewCollectionHandler(coll, aggregate.New(coll, corporates, log), broker)
}

func openRedis(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func openStore(cfg *config.Config, redisClient *redis.Client, log *zap.Logger) (kv.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		log.Warn("Using in-memory store; data is lost on restart unless cloud backup is configured")
		return kv.NewMemoryStore(), nil
	case config.BackendRedis:
		return kv.NewRedisStore(redisClient, cfg.Store.KeyPrefix), nil
	case config.BackendPostgres:
		db, err := database.InitDB(&cfg.DB, log)
		if err != nil {
			return nil, err
		}
		if err := database.MigrateModels(db, &kv.Entry{}); err != nil {
			return nil, err
		}
		return kv.NewGormStore(db), nil
	}
	return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
}

func openBroker(ctx context.Context, cfg *config.Config, redisClient *redis.Client, log *zap.Logger) (broadcast.Broker, error) {
	switch cfg.Sync.Broker {
	case config.BrokerLocal:
		return broadcast.NewLocalBroker(log), nil
	case config.BrokerRedis:
		b, err := broadcast.NewRedisBroker(ctx, redisClient, cfg.Sync.Channel, log)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BrokerMQTT:
		b, err := broadcast.NewMQTTBroker(&cfg.Sync.MQTT, log)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unsupported sync broker %q", cfg.Sync.Broker)
}

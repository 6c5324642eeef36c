package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/veloria/fraudguard/internal/api"
	"github.com/veloria/fraudguard/internal/config"
	"github.com/veloria/fraudguard/internal/fraud/assessor"
	"github.com/veloria/fraudguard/internal/fraud/audit"
	"github.com/veloria/fraudguard/internal/fraud/device"
	"github.com/veloria/fraudguard/internal/fraud/history"
	"github.com/veloria/fraudguard/internal/fraud/notify"
	"github.com/veloria/fraudguard/internal/fraud/response"
	"github.com/veloria/fraudguard/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Event history and audit storage.
	db, err := openDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("failed to open database", zap.Error(err))
	}

	store, err := history.NewGormStore(db)
	if err != nil {
		zapLogger.Fatal("failed to initialize event history", zap.Error(err))
	}

	var auditSink audit.Sink
	gormSink, err := audit.NewGormSink(db, zapLogger)
	if err != nil {
		zapLogger.Warn("audit storage unavailable, falling back to log sink", zap.Error(err))
		auditSink = audit.NewZapSink(zapLogger)
	} else {
		auditSink = gormSink
		defer gormSink.Close()
	}

	// Block store: redis when configured, in-memory otherwise.
	var blockStore response.BlockStore = response.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			zapLogger.Fatal("failed to connect to redis", zap.Error(err))
		}
		blockStore = response.NewRedisStore(client)
		zapLogger.Info("using redis block store", zap.String("addr", cfg.Redis.Addr))
	}

	// Alerts: kafka when configured, structured log otherwise.
	var channel notify.Channel = notify.NewLogChannel(zapLogger)
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaChannel := notify.NewKafkaChannel(cfg.Kafka.Brokers, cfg.Kafka.Topic, zapLogger)
		defer kafkaChannel.Close()
		channel = kafkaChannel
		zapLogger.Info("publishing alerts to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	riskAssessor := assessor.New(store, assessor.Config{
		PerCheckTimeout:   cfg.Fraud.PerCheckTimeout,
		HighRiskCountries: cfg.Fraud.HighRiskCountries,
	}, zapLogger)

	deviceValidator := device.NewValidator(zapLogger)

	engine := response.NewEngine(blockStore, auditSink, channel, response.Config{
		WhitelistIPs:   cfg.Fraud.WhitelistIPs,
		WhitelistUsers: cfg.Fraud.WhitelistUsers,
		SweepInterval:  cfg.Fraud.SweepInterval,
	}, zapLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	defer engine.Stop()

	handlers := api.NewHandlers(riskAssessor, deviceValidator, engine, store, zapLogger)
	router := api.NewRouter(handlers, zapLogger, cfg.Server.Mode)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		zapLogger.Info("fraudguard listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func openDatabase(cfg config.DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		dialector = sqlite.Open(cfg.DSN)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

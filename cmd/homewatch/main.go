package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"homewatch/internal/alert"
	"homewatch/internal/approval"
	"homewatch/internal/bot"
	"homewatch/internal/cache"
	"homewatch/internal/config"
	"homewatch/internal/consumer"
	"homewatch/internal/dedup"
	"homewatch/internal/detection"
	"homewatch/internal/housestate"
	"homewatch/internal/repository"
	"homewatch/internal/risk"
	"homewatch/internal/service"
	"homewatch/internal/simulator"
	"homewatch/internal/telegram"
	"homewatch/pkg/database"
	"homewatch/pkg/logger"
	"homewatch/pkg/mqtt"
	"homewatch/pkg/redis"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "homewatch")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer zapLogger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 初始化存储
	db, err := database.Connect(ctx, &cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database",
			zap.Error(err),
		)
	}
	defer database.Close(db)

	if err := repository.InitSchema(ctx, db, zapLogger); err != nil {
		zapLogger.Fatal("Failed to init schema",
			zap.Error(err),
		)
	}

	redisClient, err := redis.Connect(ctx, &cfg.Redis)
	if err != nil {
		zapLogger.Fatal("Failed to connect to Redis",
			zap.Error(err),
		)
	}
	defer redis.Close(redisClient)

	// 4. 仓库层
	eventsRepo := repository.NewEventsRepository(db, zapLogger)
	knownFacesRepo := repository.NewKnownFacesRepository(db, zapLogger)
	unknownFacesRepo := repository.NewUnknownFacesRepository(db, zapLogger)
	settingsRepo := repository.NewSettingsRepository(db, zapLogger)

	// 5. 引擎组件
	cacheManager := cache.NewManager(
		redisClient,
		cfg.Cache.RiskKey,
		cfg.Cache.HouseKey,
		cfg.Cache.SnapshotTTL,
		cfg.Cache.EventStream,
		zapLogger,
	)
	scorer := risk.NewScorer(
		eventsRepo,
		settingsRepo,
		time.Duration(cfg.Security.RiskWindowMinutes)*time.Minute,
		time.Duration(cfg.Security.BurstWindowMinutes)*time.Minute,
		zapLogger,
	)
	projector := housestate.NewProjector(
		eventsRepo,
		time.Duration(cfg.Security.HouseWindowMinutes)*time.Minute,
		zapLogger,
	)
	deduplicator := dedup.NewDeduplicator(unknownFacesRepo, cfg.Security.RecognitionThreshold, zapLogger)

	// 6. 告警通道（按配置启用）
	var dispatchers []alert.Dispatcher
	var telegramClient *telegram.Client
	var ownerChatID int64
	if cfg.Telegram.Token != "" {
		ownerChatID, err = strconv.ParseInt(cfg.Telegram.OwnerChatID, 10, 64)
		if err != nil {
			zapLogger.Fatal("Invalid TELEGRAM_OWNER_CHAT_ID",
				zap.Error(err),
			)
		}
		telegramClient = telegram.NewClient(cfg.Telegram.Token, zapLogger)
		dispatchers = append(dispatchers, alert.NewTelegramDispatcher(telegramClient, ownerChatID))
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Broker != "" {
		mqttClient, err = mqtt.NewClient(&cfg.MQTT)
		if err != nil {
			zapLogger.Fatal("Failed to connect to MQTT broker",
				zap.Error(err),
			)
		}
		defer mqttClient.Disconnect()
		dispatchers = append(dispatchers, alert.NewMQTTDispatcher(mqttClient, cfg.MQTT.AlertTopic))
	}

	notifier := alert.NewNotifier(settingsRepo, dispatchers, zapLogger)

	// 7. 服务层
	detectionService := detection.NewService(
		eventsRepo,
		knownFacesRepo,
		deduplicator,
		scorer,
		notifier,
		cacheManager,
		cfg.Security.RecognitionThreshold,
		zapLogger,
	)
	approvalService := approval.NewService(knownFacesRepo, unknownFacesRepo, eventsRepo, zapLogger)
	securityService := service.NewSecurityService(
		eventsRepo,
		knownFacesRepo,
		unknownFacesRepo,
		settingsRepo,
		scorer,
		projector,
		cacheManager,
		zapLogger,
	)
	sim := simulator.NewSimulator(
		eventsRepo,
		settingsRepo,
		scorer,
		notifier,
		cacheManager,
		cfg.Security.SimulateIntervalSec,
		zapLogger,
	)

	// 8. 输入通道
	if mqttClient != nil {
		detectionConsumer := consumer.NewDetectionConsumer(
			mqttClient,
			detectionService,
			cfg.MQTT.DetectionTopic,
			cfg.MQTT.QoS,
			zapLogger,
		)
		if err := detectionConsumer.Start(ctx); err != nil {
			zapLogger.Fatal("Failed to start detection consumer",
				zap.Error(err),
			)
		}
	}

	go sim.Run(ctx)

	if telegramClient != nil {
		commandBot := bot.NewBot(
			telegramClient,
			securityService,
			approvalService,
			sim,
			ownerChatID,
			cfg.Telegram.PollTimeout,
			zapLogger,
		)
		go commandBot.Run(ctx)
	}

	zapLogger.Info("HomeWatch service started")

	// 9. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down",
		zap.String("signal", sig.String()),
	)
	cancel()

	zapLogger.Info("HomeWatch service stopped")
}

package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"treeguard/internal/cache"
	"treeguard/internal/config"
	"treeguard/internal/consumer"
	"treeguard/internal/database"
	"treeguard/internal/dedup"
	"treeguard/internal/engine"
	"treeguard/internal/fanout"
	"treeguard/internal/httpapi"
	"treeguard/internal/mqttx"
	"treeguard/internal/presence"
	"treeguard/internal/redisx"
	"treeguard/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// IngestService 摄入服务（整合各层）
type IngestService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttx.Client
	logger      *zap.Logger

	// 各层组件
	readingsRepo *repository.ReadingsRepository
	statusRepo   *repository.DeviceStatusRepository
	alertsRepo   *repository.AlertsRepository
	settingsRepo *repository.SettingsRepository
	tracker      *presence.Tracker
	bus          *fanout.Bus
	engine       *engine.Engine
	mqttConsumer *consumer.MQTTConsumer
	httpServer   *http.Server
}

// NewIngestService 创建摄入服务
func NewIngestService(cfg *config.Config, logger *zap.Logger) (*IngestService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redisx.NewRedisClient(&cfg.Redis)
	ctx := context.Background()
	if err := redisx.Ping(ctx, redisClient); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT
	mqttClient, err := mqttx.NewClient(&cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	// 4. 创建 Repository 层
	readingsRepo := repository.NewReadingsRepository(db, logger)
	statusRepo := repository.NewDeviceStatusRepository(db, logger)
	alertsRepo := repository.NewAlertsRepository(db, logger)
	settingsRepo := repository.NewSettingsRepository(db, cfg.Ingest.DefaultSmokeThreshold, logger)

	// 5. 创建在线跟踪器、事件总线、去重器
	tracker := presence.NewTracker(cfg.LivenessTimeout(), logger)
	bus := fanout.NewBus(cfg.Ingest.SubscriberBuffer, logger)
	deduplicator := dedup.NewDeduplicator(
		alertsRepo,
		time.Duration(cfg.Ingest.SmokeSuppressMinutes)*time.Minute,
		time.Duration(cfg.Ingest.DefaultSuppressMinutes)*time.Minute,
		logger,
	)

	// 6. 事件发布器 + 最新读数缓存
	publisher := fanout.NewPublisher(bus, redisClient, cfg.Ingest.EventStream, logger)
	latestCache := cache.NewLatestReadingCache(
		redisClient,
		cfg.Ingest.CacheKeyPrefix,
		cfg.Ingest.CacheSuffix,
		cfg.LivenessTimeout()+cfg.DisplayGrace(),
		logger,
	)

	// 7. 摄入引擎
	ingestEngine := engine.NewEngine(
		cfg.Fleet.MinDeviceID,
		cfg.Fleet.MaxDeviceID,
		readingsRepo,
		statusRepo,
		alertsRepo,
		settingsRepo,
		deduplicator,
		publisher,
		tracker,
		latestCache,
		logger,
	)

	// 8. MQTT 消费者
	mqttConsumer := consumer.NewMQTTConsumer(cfg, mqttClient, ingestEngine, logger)

	// 9. HTTP 路由
	router := httpapi.NewRouter(logger)
	router.RegisterIngestRoutes(
		httpapi.NewIngestHandler(ingestEngine, logger),
		httpapi.NewDeviceHandler(tracker, latestCache, logger),
		httpapi.NewAlertHandler(alertsRepo, logger),
		httpapi.NewStreamHandler(bus, logger),
	)

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	return &IngestService{
		config:       cfg,
		db:           db,
		redisClient:  redisClient,
		mqttClient:   mqttClient,
		logger:       logger,
		readingsRepo: readingsRepo,
		statusRepo:   statusRepo,
		alertsRepo:   alertsRepo,
		settingsRepo: settingsRepo,
		tracker:      tracker,
		bus:          bus,
		engine:       ingestEngine,
		mqttConsumer: mqttConsumer,
		httpServer:   httpServer,
	}, nil
}

// Start 启动服务
func (s *IngestService) Start(ctx context.Context) error {
	s.logger.Info("Starting ingest service",
		zap.String("http_addr", s.config.HTTP.Addr),
		zap.String("data_topic", s.config.MQTTTopics.Data),
	)

	// 1. 用持久化的设备状态预热在线跟踪器
	// 重启后设备列表立即可查，在线判定照常基于 last_seen_at 计算
	if err := s.warmTracker(ctx); err != nil {
		s.logger.Warn("Failed to warm presence tracker from database", zap.Error(err))
	}

	// 2. 启动 MQTT 消费者
	if err := s.mqttConsumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}

	// 3. 启动 HTTP 服务器
	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return fmt.Errorf("http server error: %w", err)
	}
}

// warmTracker 从数据库加载设备状态到内存跟踪器
func (s *IngestService) warmTracker(ctx context.Context) error {
	statuses, err := s.statusRepo.ListDeviceStatuses(ctx)
	if err != nil {
		return err
	}

	for _, status := range statuses {
		s.tracker.Touch(status.DeviceID, status.LastSeenAt, status.LastHazard)
	}

	s.logger.Info("Presence tracker warmed",
		zap.Int("device_count", len(statuses)),
	)
	return nil
}

// Stop 停止服务
func (s *IngestService) Stop() error {
	s.logger.Info("Stopping ingest service")

	// 先停消息入口，再关出口和存储
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.mqttConsumer.Stop(shutdownCtx); err != nil {
		s.logger.Error("Failed to stop MQTT consumer", zap.Error(err))
	}
	s.mqttClient.Disconnect()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Failed to shutdown http server", zap.Error(err))
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}

	if err := redisx.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	return nil
}

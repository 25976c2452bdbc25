package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wisefido-threshold/common/database"
	mqttcommon "wisefido-threshold/common/mqtt"
	rediscommon "wisefido-threshold/common/redis"
	"wisefido-threshold/internal/config"
	"wisefido-threshold/internal/consumer"
	"wisefido-threshold/internal/dispatcher"
	"wisefido-threshold/internal/metrics"
	"wisefido-threshold/internal/repository"
	"wisefido-threshold/internal/sink"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ThresholdService 阈值报警服务（整合各层）
type ThresholdService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	logger      *zap.Logger

	// 各层组件
	dispatcher *dispatcher.Dispatcher
	consumer   *consumer.MQTTConsumer
	server     *Server
}

// NewThresholdService 创建服务：连接依赖、初始化数据库、组装各层
func NewThresholdService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ThresholdService, error) {
	s := &ThresholdService{config: cfg, logger: logger}

	// 1. 连接数据库并初始化
	db, err := database.NewPostgresDB(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	s.db = db

	if err := Bootstrap(ctx, db, cfg, logger); err != nil {
		s.closeConnections()
		return nil, err
	}

	// 2. 连接 Redis（仅在需要时）
	if cfg.NeedsRedis() {
		s.redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, s.redisClient); err != nil {
			s.closeConnections()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	}

	// 3. 连接 MQTT（client id 加实例后缀，避免多实例互踢）
	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = fmt.Sprintf("%s-%s", cfg.MQTT.ClientID, uuid.New().String()[:8])
	s.mqttClient, err = mqttcommon.NewClient(&mqttCfg, logger)
	if err != nil {
		s.closeConnections()
		return nil, err
	}

	// 4. 指标
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// 5. Repository 层
	ruleRepo := repository.NewRuleRepository(db, logger)
	stateRepo := repository.NewStateRepository(db, logger)
	historyRepo := repository.NewAlarmHistoryRepository(db, logger)

	var latest dispatcher.LatestStore
	switch cfg.Threshold.Latest.Backend {
	case config.LatestBackendRedis:
		latest = consumer.NewCacheManager(s.redisClient, cfg.Threshold.Latest.KeyPrefix, logger)
	default:
		latest = repository.NewLatestValueRepository(db, logger)
	}

	// 6. 报警出口
	notifiers := []sink.Notifier{
		sink.NewMQTTNotifier(s.mqttClient, cfg.Threshold.Topics.AlarmPrefix, cfg.MQTT.QoS, logger),
	}
	if cfg.Threshold.AlarmStream != "" {
		streamNotifier := sink.NewStreamNotifier(s.redisClient, cfg.Threshold.AlarmStream, logger)
		if group := cfg.Threshold.AlarmStreamGroup; group != "" {
			if err := streamNotifier.EnsureGroup(ctx, group); err != nil {
				s.closeConnections()
				return nil, err
			}
		}
		notifiers = append(notifiers, streamNotifier)
	}
	alarmSink := sink.NewAlarmSink(historyRepo, sink.NewMultiNotifier(m, logger, notifiers...), logger)

	// 7. 分发与消费
	s.dispatcher, err = dispatcher.New(dispatcher.Options{
		Workers:        cfg.Threshold.Workers,
		Capacity:       cfg.Threshold.Queue.Capacity,
		EnqueueTimeout: cfg.Threshold.Queue.EnqueueTimeout,
	}, ruleRepo, stateRepo, latest, alarmSink, m, logger)
	if err != nil {
		s.closeConnections()
		return nil, err
	}
	s.consumer = consumer.NewMQTTConsumer(cfg, s.mqttClient, s.dispatcher, m, logger)

	// 8. HTTP
	checks := map[string]HealthCheck{
		"postgres": db.PingContext,
		"mqtt": func(context.Context) error {
			if !s.mqttClient.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		},
	}
	if s.redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return rediscommon.Ping(ctx, s.redisClient)
		}
	}
	s.server = NewServer(cfg.HTTP.Addr, NewRouter(checks, historyRepo, registry, logger), logger)

	return s, nil
}

// Start 启动 worker、订阅遥测、启动 HTTP；返回的 channel 接收 HTTP 服务错误
func (s *ThresholdService) Start(ctx context.Context) (<-chan error, error) {
	s.logger.Info("Starting threshold service",
		zap.Int("workers", s.config.Threshold.Workers),
		zap.String("latest_backend", s.config.Threshold.Latest.Backend),
	)

	// worker 先于订阅启动
	s.dispatcher.Start(ctx)

	if err := s.consumer.Start(ctx); err != nil {
		s.dispatcher.Stop()
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Start(); err != nil {
			errCh <- err
		}
	}()
	return errCh, nil
}

// Stop 停止服务：先停入站，再等 worker 退出，最后关闭连接
func (s *ThresholdService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping threshold service")

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Error("Failed to stop consumer", zap.Error(err))
	}

	discarded := s.dispatcher.Stop()
	if discarded > 0 {
		s.logger.Warn("Discarded buffered readings on shutdown", zap.Int("count", discarded))
	}

	if err := s.server.Stop(ctx); err != nil {
		s.logger.Error("Failed to stop HTTP server", zap.Error(err))
	}

	s.closeConnections()
	return nil
}

func (s *ThresholdService) closeConnections() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		if err := rediscommon.Close(s.redisClient); err != nil {
			s.logger.Error("Failed to close redis", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}
}

package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqttcommon "wisefido-threshold/common/mqtt"
	"wisefido-threshold/internal/config"
	"wisefido-threshold/internal/dispatcher"
	"wisefido-threshold/internal/metrics"
	"wisefido-threshold/internal/models"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅接口（由 common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Enqueuer 读数入队接口（由 dispatcher.Dispatcher 实现）
type Enqueuer interface {
	Enqueue(reading models.Reading) error
}

// MQTTConsumer 遥测消息消费者
// 回调只做解析和入队，不访问存储
type MQTTConsumer struct {
	config  *config.Config
	client  Subscriber
	queue   Enqueuer
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	cfg *config.Config,
	client Subscriber,
	queue Enqueuer,
	m *metrics.Metrics,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:  cfg,
		client:  client,
		queue:   queue,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Start 订阅遥测主题
func (c *MQTTConsumer) Start(ctx context.Context) error {
	topic := c.config.Threshold.Topics.Telemetry
	if err := c.client.Subscribe(topic, c.config.MQTT.QoS, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to telemetry topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", topic),
		zap.Uint8("qos", c.config.MQTT.QoS),
	)
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.client.Unsubscribe(c.config.Threshold.Topics.Telemetry); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理遥测消息
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.metrics.ReadingsReceived.Inc()

	// 1. 解析
	reading, reason, err := parseReading(topic, payload, c.now())
	if err != nil {
		c.metrics.ReadingsRejected.WithLabelValues(reason).Inc()
		c.logger.Error("Rejected malformed reading",
			zap.String("topic", topic),
			zap.ByteString("payload", payload),
			zap.Error(err),
		)
		return err
	}

	// 2. 入队（满则丢弃）
	if err := c.queue.Enqueue(reading); err != nil {
		switch {
		case errors.Is(err, dispatcher.ErrQueueFull):
			c.metrics.ReadingsDropped.WithLabelValues(metrics.DropQueueFull).Inc()
			c.logger.Warn("Queue full, dropping reading",
				zap.String("device_id", reading.DeviceID),
				zap.String("sensor_id", reading.SensorID),
				zap.Float64("value", reading.Value),
			)
		case errors.Is(err, dispatcher.ErrStopped):
			c.metrics.ReadingsDropped.WithLabelValues(metrics.DropStopped).Inc()
			c.logger.Debug("Dispatcher stopped, dropping reading",
				zap.String("device_id", reading.DeviceID),
				zap.String("sensor_id", reading.SensorID),
			)
		default:
			c.logger.Error("Failed to enqueue reading", zap.Error(err))
		}
		return err
	}

	c.logger.Debug("Enqueued reading",
		zap.String("device_id", reading.DeviceID),
		zap.String("sensor_id", reading.SensorID),
		zap.Float64("value", reading.Value),
	)
	return nil
}

package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"wisefido-threshold/internal/models"

	"go.uber.org/zap"
)

// Publisher MQTT 发布接口（由 common/mqtt.Client 实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTNotifier 发布报警到 {prefix}/{device_id}/{sensor_id}
type MQTTNotifier struct {
	client Publisher
	prefix string
	qos    byte
	logger *zap.Logger
}

// NewMQTTNotifier 创建 MQTT 通知器
func NewMQTTNotifier(client Publisher, prefix string, qos byte, logger *zap.Logger) *MQTTNotifier {
	return &MQTTNotifier{
		client: client,
		prefix: prefix,
		qos:    qos,
		logger: logger,
	}
}

// Name 通知器名称
func (n *MQTTNotifier) Name() string { return "mqtt" }

// Topic 报警主题
func (n *MQTTNotifier) Topic(event *models.AlarmEvent) string {
	return fmt.Sprintf("%s/%s/%s", n.prefix, event.DeviceID, event.SensorID)
}

// Notify 发布报警
func (n *MQTTNotifier) Notify(ctx context.Context, event *models.AlarmEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alarm event: %w", err)
	}

	topic := n.Topic(event)
	if err := n.client.Publish(topic, n.qos, false, payload); err != nil {
		return fmt.Errorf("failed to publish alarm: %w", err)
	}

	n.logger.Debug("Published alarm",
		zap.String("topic", topic),
		zap.String("event_id", event.EventID),
	)
	return nil
}

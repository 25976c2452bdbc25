package consumer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"wisefido-threshold/internal/models"
)

// ErrMalformedReading 入站消息无法解析为读数
var ErrMalformedReading = errors.New("malformed reading")

// 拒绝原因（指标标签）
const (
	rejectTopic   = "topic"
	rejectPayload = "payload"
	rejectValue   = "value"
)

// telemetryPayload 遥测消息体，只关心 value
type telemetryPayload struct {
	Value *float64 `json:"value"`
}

// ParseReading 从主题和消息体解析读数
// 主题格式: telemetry/{device_id}/{sensor_id}，时间戳取接收时刻
func ParseReading(topic string, payload []byte, receivedAt time.Time) (models.Reading, error) {
	reading, _, err := parseReading(topic, payload, receivedAt)
	return reading, err
}

func parseReading(topic string, payload []byte, receivedAt time.Time) (models.Reading, string, error) {
	// 1. 主题中提取 device/sensor
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[1] == "" || parts[2] == "" {
		return models.Reading{}, rejectTopic, fmt.Errorf("%w: invalid topic format: %s", ErrMalformedReading, topic)
	}

	// 2. 解析消息体
	var msg telemetryPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return models.Reading{}, rejectPayload, fmt.Errorf("%w: %v", ErrMalformedReading, err)
	}
	if msg.Value == nil {
		return models.Reading{}, rejectValue, fmt.Errorf("%w: missing numeric value", ErrMalformedReading)
	}

	return models.Reading{
		DeviceID: parts[1],
		SensorID: parts[2],
		Value:    *msg.Value,
		TS:       receivedAt.UTC().Truncate(time.Microsecond),
	}, "", nil
}

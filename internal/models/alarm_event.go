package models

import "time"

// AlarmTriggeredMessage 报警触发消息
const AlarmTriggeredMessage = "ALARM TRIGGERED"

// AlarmEvent 报警事件（对应 alarm_history 表）
type AlarmEvent struct {
	EventID     string     `json:"event_id,omitempty"`
	RuleID      int64      `json:"rule_id"`
	DeviceID    string     `json:"device_id"`
	SensorID    string     `json:"sensor_id"`
	TriggeredAt time.Time  `json:"triggered_at"`
	ClearedAt   *time.Time `json:"cleared_at,omitempty"` // 目前不写入，清除只体现在 state
	Value       float64    `json:"value"`
	Message     string     `json:"message"`
}

package models

import "time"

// LatestValue 传感器最新读数（对应 latest_values 表）
type LatestValue struct {
	DeviceID string    `json:"device_id"`
	SensorID string    `json:"sensor_id"`
	Value    float64   `json:"value"`
	TS       time.Time `json:"ts"`
}

package models

import "time"

// Reading 入站遥测读数
type Reading struct {
	DeviceID string
	SensorID string
	Value    float64
	TS       time.Time // 接收时刻（UTC）
}

// Key 读数的 device/sensor 键
func (r Reading) Key() string {
	return r.DeviceID + "/" + r.SensorID
}

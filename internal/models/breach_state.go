package models

import "time"

// StateKey 状态行复合主键（secondary 字段无值时为空字符串）
type StateKey struct {
	RuleID            int64
	DeviceID          string
	SensorID          string
	SecondaryDeviceID string
	SecondarySensorID string
}

// BreachState 规则去抖状态（对应 state 表）
type BreachState struct {
	InAlarm     bool       `json:"in_alarm"`
	BreachStart *time.Time `json:"breach_start,omitempty"` // nil 表示当前未违反主条件
	LastEval    time.Time  `json:"last_eval"`
	LastValue   float64    `json:"last_value"`
}

// Breaching 是否处于违反阶段
func (s BreachState) Breaching() bool {
	return s.BreachStart != nil
}

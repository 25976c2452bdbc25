package models

import "fmt"

// 规则条件类型
const (
	ConditionThreshold   = "threshold"
	ConditionConditional = "conditional"
)

// 比较运算符
const (
	OpGreater        = ">"
	OpLess           = "<"
	OpGreaterOrEqual = ">="
	OpLessOrEqual    = "<="
	OpEqual          = "=="
)

// Rule 报警规则（对应 rules 表）
type Rule struct {
	ID              int64   `json:"id" yaml:"id" db:"id"`
	DeviceID        string  `json:"device_id" yaml:"device_id" db:"device_id"`
	SensorID        string  `json:"sensor_id" yaml:"sensor_id" db:"sensor_id"`
	ConditionType   string  `json:"condition_type" yaml:"condition_type" db:"condition_type"` // threshold, conditional
	Operator        string  `json:"operator" yaml:"operator" db:"operator"`
	ThresholdValue  float64 `json:"threshold_value" yaml:"threshold_value" db:"threshold_value"`
	DurationSeconds int     `json:"duration_seconds" yaml:"duration_seconds" db:"duration_seconds"`

	// 仅 conditional 规则使用
	SecondaryDeviceID string  `json:"secondary_device_id,omitempty" yaml:"secondary_device_id" db:"secondary_device_id"`
	SecondarySensorID string  `json:"secondary_sensor_id,omitempty" yaml:"secondary_sensor_id" db:"secondary_sensor_id"`
	SecondaryOperator string  `json:"secondary_operator,omitempty" yaml:"secondary_operator" db:"secondary_operator"`
	SecondaryValue    float64 `json:"secondary_value,omitempty" yaml:"secondary_value" db:"secondary_value"`

	Active bool `json:"active" yaml:"-" db:"active"`
}

// IsConditional 是否为条件规则
func (r Rule) IsConditional() bool {
	return r.ConditionType == ConditionConditional
}

// StateKey 规则对应的状态行主键
func (r Rule) StateKey() StateKey {
	return StateKey{
		RuleID:            r.ID,
		DeviceID:          r.DeviceID,
		SensorID:          r.SensorID,
		SecondaryDeviceID: r.SecondaryDeviceID,
		SecondarySensorID: r.SecondarySensorID,
	}
}

// Validate 校验规则配置
func (r Rule) Validate() error {
	if r.DeviceID == "" || r.SensorID == "" {
		return fmt.Errorf("rule %d: device_id and sensor_id are required", r.ID)
	}
	if r.DurationSeconds < 0 {
		return fmt.Errorf("rule %d: duration_seconds must not be negative", r.ID)
	}
	switch r.ConditionType {
	case ConditionThreshold:
	case ConditionConditional:
		if r.SecondaryDeviceID == "" || r.SecondarySensorID == "" || r.SecondaryOperator == "" {
			return fmt.Errorf("rule %d: conditional rule requires secondary device, sensor and operator", r.ID)
		}
	default:
		return fmt.Errorf("rule %d: unknown condition_type %q", r.ID, r.ConditionType)
	}
	return nil
}

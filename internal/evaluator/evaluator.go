package evaluator

import (
	"time"

	"wisefido-threshold/internal/models"
)

// Evaluate 对单条规则进行一次评估
//
// 纯函数：不做 I/O，只根据规则、当前读数、上一次状态和 secondary 最新值
// 计算新的状态，以及（仅在进入报警的那一刻）一个报警事件。
// prior 为 nil 表示该规则在此键下从未评估过；secondary 为 nil 表示 secondary 传感器尚无读数。
func Evaluate(rule models.Rule, value float64, prior *models.BreachState, secondary *float64, now time.Time) (models.BreachState, *models.AlarmEvent) {
	// 1. 条件规则：secondary 不满足时直接复位
	if rule.IsConditional() && secondary != nil {
		if !Compare(*secondary, rule.SecondaryOperator, rule.SecondaryValue) {
			return models.BreachState{
				InAlarm:     false,
				BreachStart: nil,
				LastEval:    now,
				LastValue:   value,
			}, nil
		}
	}

	next := models.BreachState{LastEval: now, LastValue: value}
	if prior != nil {
		next.InAlarm = prior.InAlarm
		if prior.BreachStart != nil {
			start := *prior.BreachStart
			next.BreachStart = &start
		}
	}

	// 2. 主条件不满足：清除违反和报警
	if !Compare(value, rule.Operator, rule.ThresholdValue) {
		next.InAlarm = false
		next.BreachStart = nil
		return next, nil
	}

	// 3. 首次违反：只记录开始时间
	if next.BreachStart == nil {
		start := now
		next.BreachStart = &start
		return next, nil
	}

	// 4. 持续违反达到时长且尚未报警：触发
	duration := time.Duration(rule.DurationSeconds) * time.Second
	if !next.InAlarm && now.Sub(*next.BreachStart) >= duration {
		next.InAlarm = true
		return next, &models.AlarmEvent{
			RuleID:      rule.ID,
			DeviceID:    rule.DeviceID,
			SensorID:    rule.SensorID,
			TriggeredAt: now,
			Value:       value,
			Message:     models.AlarmTriggeredMessage,
		}
	}

	return next, nil
}

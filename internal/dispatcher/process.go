package dispatcher

import (
	"context"
	"time"

	"wisefido-threshold/internal/evaluator"
	"wisefido-threshold/internal/metrics"
	"wisefido-threshold/internal/models"

	"go.uber.org/zap"
)

// processReading 处理单条读数：更新最新值，然后逐条规则评估
// 单条规则的错误只记录日志，不影响其它规则
func (d *Dispatcher) processReading(ctx context.Context, logger *zap.Logger, reading models.Reading) {
	start := time.Now()
	defer func() {
		d.metrics.ReadingsProcessed.Inc()
		d.metrics.ProcessDuration.Observe(time.Since(start).Seconds())
	}()

	logger = logger.With(
		zap.String("device_id", reading.DeviceID),
		zap.String("sensor_id", reading.SensorID),
	)

	// 1. 更新最新值
	if err := d.latest.Update(ctx, reading.DeviceID, reading.SensorID, reading.Value, reading.TS); err != nil {
		d.metrics.EvalErrors.WithLabelValues(metrics.StageLatest).Inc()
		logger.Error("Failed to update latest value", zap.Error(err))
		return
	}

	// 2. 查询规则
	rules, err := d.rules.RulesFor(ctx, reading.DeviceID, reading.SensorID)
	if err != nil {
		d.metrics.EvalErrors.WithLabelValues(metrics.StageRules).Inc()
		logger.Error("Failed to load rules", zap.Error(err))
		return
	}
	if len(rules) == 0 {
		return
	}

	// 3. 逐条评估
	for _, rule := range rules {
		d.evaluateRule(ctx, logger.With(zap.Int64("rule_id", rule.ID)), rule, reading)
	}
}

// evaluateRule 单条规则的 读状态 → 评估 → 写状态 → 报警
func (d *Dispatcher) evaluateRule(ctx context.Context, logger *zap.Logger, rule models.Rule, reading models.Reading) {
	key := rule.StateKey()

	prior, err := d.states.Get(ctx, key)
	if err != nil {
		d.metrics.EvalErrors.WithLabelValues(metrics.StageState).Inc()
		logger.Error("Failed to get breach state", zap.Error(err))
		return
	}

	var secondary *float64
	if rule.IsConditional() {
		v, ok, err := d.latest.Get(ctx, rule.SecondaryDeviceID, rule.SecondarySensorID)
		if err != nil {
			d.metrics.EvalErrors.WithLabelValues(metrics.StageSecondary).Inc()
			logger.Error("Failed to get secondary value",
				zap.String("secondary_device_id", rule.SecondaryDeviceID),
				zap.String("secondary_sensor_id", rule.SecondarySensorID),
				zap.Error(err),
			)
			return
		}
		if ok {
			secondary = &v
		}
	}

	next, alarm := evaluator.Evaluate(rule, reading.Value, prior, secondary, reading.TS)

	if err := d.states.Upsert(ctx, key, next); err != nil {
		d.metrics.EvalErrors.WithLabelValues(metrics.StageUpsert).Inc()
		logger.Error("Failed to upsert breach state", zap.Error(err))
		return
	}

	logTransition(logger, prior, next, reading.Value)

	if alarm == nil {
		return
	}

	d.metrics.AlarmsTriggered.Inc()
	logger.Warn("Alarm triggered",
		zap.Float64("value", alarm.Value),
		zap.Float64("threshold", rule.ThresholdValue),
		zap.String("operator", rule.Operator),
		zap.Time("triggered_at", alarm.TriggeredAt),
	)

	// 4. 先落库，再通知；通知失败不回滚历史
	if err := d.sink.Record(ctx, alarm); err != nil {
		d.metrics.EvalErrors.WithLabelValues(metrics.StageRecord).Inc()
		logger.Error("Failed to record alarm history", zap.Error(err))
		return
	}
	if err := d.sink.Notify(ctx, alarm); err != nil {
		logger.Error("Failed to notify alarm",
			zap.String("event_id", alarm.EventID),
			zap.Error(err),
		)
	}
}

// logTransition 记录状态迁移
func logTransition(logger *zap.Logger, prior *models.BreachState, next models.BreachState, value float64) {
	wasBreaching := prior != nil && prior.Breaching()
	wasAlarmed := prior != nil && prior.InAlarm

	switch {
	case !wasBreaching && next.Breaching():
		logger.Info("Breach started", zap.Float64("value", value))
	case wasAlarmed && !next.InAlarm:
		logger.Info("Alarm cleared", zap.Float64("value", value))
	case wasBreaching && !next.Breaching():
		logger.Debug("Breach cleared", zap.Float64("value", value))
	}
}

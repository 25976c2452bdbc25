package sink

import (
	"context"
	"errors"
	"fmt"

	"wisefido-threshold/internal/metrics"
	"wisefido-threshold/internal/models"

	"go.uber.org/zap"
)

// HistoryRecorder 报警历史（由 repository.AlarmHistoryRepository 实现）
type HistoryRecorder interface {
	Record(ctx context.Context, event *models.AlarmEvent) error
}

// Notifier 报警通知
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event *models.AlarmEvent) error
}

// AlarmSink 报警出口：先落库，再尽力通知
type AlarmSink struct {
	history  HistoryRecorder
	notifier Notifier
	logger   *zap.Logger
}

// NewAlarmSink 创建报警出口
func NewAlarmSink(history HistoryRecorder, notifier Notifier, logger *zap.Logger) *AlarmSink {
	return &AlarmSink{
		history:  history,
		notifier: notifier,
		logger:   logger,
	}
}

// Record 写入报警历史
func (s *AlarmSink) Record(ctx context.Context, event *models.AlarmEvent) error {
	if err := s.history.Record(ctx, event); err != nil {
		return err
	}
	s.logger.Info("Alarm recorded",
		zap.String("event_id", event.EventID),
		zap.Int64("rule_id", event.RuleID),
		zap.String("device_id", event.DeviceID),
		zap.String("sensor_id", event.SensorID),
	)
	return nil
}

// Notify 向外发布报警，失败不影响已落库的历史
func (s *AlarmSink) Notify(ctx context.Context, event *models.AlarmEvent) error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Notify(ctx, event)
}

// MultiNotifier 依次调用多个通知器，单个失败不影响其它
type MultiNotifier struct {
	notifiers []Notifier
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewMultiNotifier 创建组合通知器
func NewMultiNotifier(m *metrics.Metrics, logger *zap.Logger, notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{
		notifiers: notifiers,
		metrics:   m,
		logger:    logger,
	}
}

// Name 通知器名称
func (n *MultiNotifier) Name() string { return "multi" }

// Notify 通知全部通知器，返回合并后的错误
func (n *MultiNotifier) Notify(ctx context.Context, event *models.AlarmEvent) error {
	var errs []error
	for _, notifier := range n.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			n.metrics.NotifyFailures.WithLabelValues(notifier.Name()).Inc()
			n.logger.Error("Alarm notification failed",
				zap.String("notifier", notifier.Name()),
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

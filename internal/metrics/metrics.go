package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "threshold"

// 读数丢弃原因
const (
	DropQueueFull = "queue_full"
	DropStopped   = "stopped"
	DropShutdown  = "shutdown"
)

// 评估错误阶段
const (
	StageLatest    = "latest_update"
	StageRules     = "rules"
	StageState     = "state_get"
	StageSecondary = "secondary_get"
	StageUpsert    = "state_upsert"
	StageRecord    = "history_record"
)

// Metrics 阈值报警服务指标
type Metrics struct {
	ReadingsReceived  prometheus.Counter
	ReadingsRejected  *prometheus.CounterVec // reason
	ReadingsDropped   *prometheus.CounterVec // reason
	ReadingsProcessed prometheus.Counter
	EvalErrors        *prometheus.CounterVec // stage
	AlarmsTriggered   prometheus.Counter
	NotifyFailures    *prometheus.CounterVec // notifier
	QueueDepth        *prometheus.GaugeVec   // worker
	ProcessDuration   prometheus.Histogram
}

// New 创建并注册指标；reg 为 nil 时使用默认注册表
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		ReadingsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_received_total",
			Help:      "Total telemetry messages received from the broker",
		}),
		ReadingsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_rejected_total",
			Help:      "Total malformed readings rejected at ingestion",
		}, []string{"reason"}),
		ReadingsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_dropped_total",
			Help:      "Total readings dropped before evaluation",
		}, []string{"reason"}),
		ReadingsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_processed_total",
			Help:      "Total readings processed by dispatch workers",
		}),
		EvalErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_errors_total",
			Help:      "Total evaluation errors by pipeline stage",
		}, []string{"stage"}),
		AlarmsTriggered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_triggered_total",
			Help:      "Total alarms triggered",
		}),
		NotifyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Total failed alarm notifications by notifier",
		}, []string{"notifier"}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Buffered readings per dispatch worker",
		}, []string{"worker"}),
		ProcessDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reading_process_seconds",
			Help:      "Time spent processing one reading",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// NewNop 创建不注册到任何注册表的指标（测试用）
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"wisefido-threshold/internal/metrics"
	"wisefido-threshold/internal/models"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull 入队超时，读数被丢弃
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrStopped 分发器已停止
	ErrStopped = errors.New("dispatcher stopped")
)

// RuleStore 规则查询
type RuleStore interface {
	RulesFor(ctx context.Context, deviceID, sensorID string) ([]models.Rule, error)
}

// StateStore 去抖状态读写
type StateStore interface {
	Get(ctx context.Context, key models.StateKey) (*models.BreachState, error)
	Upsert(ctx context.Context, key models.StateKey, state models.BreachState) error
}

// LatestStore 最新值缓存
type LatestStore interface {
	Update(ctx context.Context, deviceID, sensorID string, value float64, ts time.Time) error
	Get(ctx context.Context, deviceID, sensorID string) (float64, bool, error)
}

// AlarmSink 报警落库与通知
type AlarmSink interface {
	Record(ctx context.Context, event *models.AlarmEvent) error
	Notify(ctx context.Context, event *models.AlarmEvent) error
}

// Options 分发器参数
type Options struct {
	Workers        int           // worker 数量
	Capacity       int           // 总队列容量，平均分给各 worker
	EnqueueTimeout time.Duration // 入队最长等待
}

// Dispatcher 读数分发器
// 按 device/sensor 哈希固定到单个 worker，同一键的读数按到达顺序串行评估
type Dispatcher struct {
	rules   RuleStore
	states  StateStore
	latest  LatestStore
	sink    AlarmSink
	metrics *metrics.Metrics
	logger  *zap.Logger

	queues         []chan models.Reading
	enqueueTimeout time.Duration

	stopCh    chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New 创建分发器
func New(opts Options, rules RuleStore, states StateStore, latest LatestStore, sink AlarmSink, m *metrics.Metrics, logger *zap.Logger) (*Dispatcher, error) {
	if opts.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", opts.Workers)
	}
	if opts.Capacity < 1 {
		return nil, fmt.Errorf("queue capacity must be at least 1, got %d", opts.Capacity)
	}
	if opts.EnqueueTimeout <= 0 {
		return nil, fmt.Errorf("enqueue timeout must be positive, got %s", opts.EnqueueTimeout)
	}

	perWorker := (opts.Capacity + opts.Workers - 1) / opts.Workers
	queues := make([]chan models.Reading, opts.Workers)
	for i := range queues {
		queues[i] = make(chan models.Reading, perWorker)
	}

	return &Dispatcher{
		rules:          rules,
		states:         states,
		latest:         latest,
		sink:           sink,
		metrics:        m,
		logger:         logger,
		queues:         queues,
		enqueueTimeout: opts.EnqueueTimeout,
		stopCh:         make(chan struct{}),
	}, nil
}

// Start 启动全部 worker
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		for i, q := range d.queues {
			d.wg.Add(1)
			go d.worker(ctx, i, q)
		}
		d.logger.Info("Dispatcher started",
			zap.Int("workers", len(d.queues)),
			zap.Int("queue_capacity_per_worker", cap(d.queues[0])),
		)
	})
}

// Stop 通知 worker 退出，等待在处理的读数完成；返回被丢弃的缓冲读数数量
func (d *Dispatcher) Stop() int {
	discarded := 0
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.wg.Wait()

		// 缓冲中未消费的读数不持久化，直接丢弃
		for i, q := range d.queues {
			n := len(q)
			for len(q) > 0 {
				<-q
			}
			discarded += n
			d.metrics.QueueDepth.WithLabelValues(strconv.Itoa(i)).Set(0)
		}
		if discarded > 0 {
			d.metrics.ReadingsDropped.WithLabelValues(metrics.DropShutdown).Add(float64(discarded))
		}

		d.logger.Info("Dispatcher stopped", zap.Int("discarded", discarded))
	})
	return discarded
}

// Enqueue 读数入队，队列满时最多等待 enqueueTimeout
func (d *Dispatcher) Enqueue(reading models.Reading) error {
	select {
	case <-d.stopCh:
		return ErrStopped
	default:
	}

	idx := d.partition(reading)
	q := d.queues[idx]

	// 快速路径
	select {
	case q <- reading:
		d.metrics.QueueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(q)))
		return nil
	default:
	}

	timer := time.NewTimer(d.enqueueTimeout)
	defer timer.Stop()

	select {
	case q <- reading:
		d.metrics.QueueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(q)))
		return nil
	case <-timer.C:
		return ErrQueueFull
	case <-d.stopCh:
		return ErrStopped
	}
}

// partition 计算读数所属 worker
func (d *Dispatcher) partition(reading models.Reading) int {
	return int(xxhash.Sum64String(reading.Key()) % uint64(len(d.queues)))
}

// worker 串行消费一个分区
func (d *Dispatcher) worker(ctx context.Context, id int, q chan models.Reading) {
	defer d.wg.Done()

	// 在处理的读数不因停止信号中断
	procCtx := context.WithoutCancel(ctx)
	label := strconv.Itoa(id)
	logger := d.logger.With(zap.Int("worker_id", id))

	for {
		// 停止信号优先
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case reading := <-q:
			d.metrics.QueueDepth.WithLabelValues(label).Set(float64(len(q)))
			d.processReading(procCtx, logger, reading)
		}
	}
}

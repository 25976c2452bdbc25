package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-threshold/internal/metrics"
	"wisefido-threshold/internal/models"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	d       *Dispatcher
	rules   *fakeRuleStore
	states  *fakeStateStore
	latest  *fakeLatestStore
	sink    *fakeSink
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, opts Options, rules ...models.Rule) *fixture {
	t.Helper()
	f := &fixture{
		rules:   &fakeRuleStore{rules: rules},
		states:  newFakeStateStore(),
		latest:  newFakeLatestStore(),
		sink:    &fakeSink{},
		metrics: metrics.NewNop(),
	}
	d, err := New(opts, f.rules, f.states, f.latest, f.sink, f.metrics, zap.NewNop())
	require.NoError(t, err)
	f.d = d
	return f
}

func defaultOptions() Options {
	return Options{Workers: 1, Capacity: 100, EnqueueTimeout: 50 * time.Millisecond}
}

func thresholdRule() models.Rule {
	return models.Rule{
		ID: 1, DeviceID: "sensor1", SensorID: "temperature",
		ConditionType: models.ConditionThreshold, Operator: ">", ThresholdValue: 24,
		DurationSeconds: 10, Active: true,
	}
}

func conditionalRule() models.Rule {
	return models.Rule{
		ID: 2, DeviceID: "sensor1", SensorID: "temperature",
		ConditionType: models.ConditionConditional, Operator: ">", ThresholdValue: 24,
		DurationSeconds: 5, Active: true,
		SecondaryDeviceID: "sensor2", SecondarySensorID: "current",
		SecondaryOperator: ">", SecondaryValue: 0,
	}
}

func reading(device, sensor string, value float64, sec int) models.Reading {
	return models.Reading{DeviceID: device, SensorID: sensor, Value: value, TS: t0.Add(time.Duration(sec) * time.Second)}
}

func (f *fixture) process(r models.Reading) {
	f.d.processReading(context.Background(), zap.NewNop(), r)
}

func TestNew_InvalidOptions(t *testing.T) {
	cases := []Options{
		{Workers: 0, Capacity: 10, EnqueueTimeout: time.Second},
		{Workers: 1, Capacity: 0, EnqueueTimeout: time.Second},
		{Workers: 1, Capacity: 10, EnqueueTimeout: 0},
	}
	for _, opts := range cases {
		_, err := New(opts, nil, nil, nil, nil, metrics.NewNop(), zap.NewNop())
		assert.Error(t, err)
	}
}

// ============================================
// 单条读数处理
// ============================================

func TestProcessReading_ScenarioA(t *testing.T) {
	f := newFixture(t, defaultOptions(), thresholdRule())

	f.process(reading("sensor1", "temperature", 25, 0))
	recorded, _ := f.sink.counts()
	assert.Equal(t, 0, recorded)

	state, ok := f.states.get(thresholdRule().StateKey())
	require.True(t, ok)
	require.NotNil(t, state.BreachStart)
	assert.True(t, state.BreachStart.Equal(t0))

	f.process(reading("sensor1", "temperature", 25, 11))
	recorded, notified := f.sink.counts()
	assert.Equal(t, 1, recorded)
	assert.Equal(t, 1, notified)
	assert.Equal(t, 25.0, f.sink.recorded[0].Value)
	assert.Equal(t, models.AlarmTriggeredMessage, f.sink.recorded[0].Message)

	state, _ = f.states.get(thresholdRule().StateKey())
	assert.True(t, state.InAlarm)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AlarmsTriggered))
}

func TestProcessReading_ConditionalWithoutSecondaryConfig(t *testing.T) {
	rule := conditionalRule()
	rule.SecondaryDeviceID = ""
	rule.SecondarySensorID = ""
	rule.SecondaryOperator = ""
	f := newFixture(t, defaultOptions(), rule)

	f.process(reading("sensor1", "temperature", 30, 0))
	f.process(reading("sensor1", "temperature", 30, 5))

	recorded, _ := f.sink.counts()
	assert.Equal(t, 1, recorded)
	state, ok := f.states.get(rule.StateKey())
	require.True(t, ok)
	assert.True(t, state.InAlarm)
}

func TestProcessReading_ScenarioB(t *testing.T) {
	f := newFixture(t, defaultOptions(), thresholdRule())

	f.process(reading("sensor1", "temperature", 25, 0))
	f.process(reading("sensor1", "temperature", 20, 5))

	recorded, _ := f.sink.counts()
	assert.Equal(t, 0, recorded)
	state, _ := f.states.get(thresholdRule().StateKey())
	assert.False(t, state.InAlarm)
	assert.Nil(t, state.BreachStart)
}

func TestProcessReading_ScenarioC(t *testing.T) {
	f := newFixture(t, defaultOptions(), conditionalRule())

	// current=0 期间持续超温，不报警
	f.process(reading("sensor2", "current", 0, 0))
	for _, sec := range []int{1, 4, 8, 12} {
		f.process(reading("sensor1", "temperature", 30, sec))
	}
	recorded, _ := f.sink.counts()
	assert.Equal(t, 0, recorded)
	state, _ := f.states.get(conditionalRule().StateKey())
	assert.Nil(t, state.BreachStart)

	// current=1 后开始计时，持续 duration 后报警
	f.process(reading("sensor2", "current", 1, 13))
	f.process(reading("sensor1", "temperature", 30, 14))
	f.process(reading("sensor1", "temperature", 30, 19))

	recorded, _ = f.sink.counts()
	assert.Equal(t, 1, recorded)
	assert.True(t, f.sink.recorded[0].TriggeredAt.Equal(t0.Add(19*time.Second)))
}

func TestProcessReading_ConditionalWithoutSecondaryData(t *testing.T) {
	f := newFixture(t, defaultOptions(), conditionalRule())

	f.process(reading("sensor1", "temperature", 30, 0))
	f.process(reading("sensor1", "temperature", 30, 5))

	recorded, _ := f.sink.counts()
	assert.Equal(t, 1, recorded)
}

func TestProcessReading_NoRulesOnlyUpdatesCache(t *testing.T) {
	f := newFixture(t, defaultOptions(), thresholdRule())

	f.process(reading("sensor9", "humidity", 80, 0))

	assert.Len(t, f.latest.snapshot(), 1)
	assert.Empty(t, f.states.data)
	recorded, _ := f.sink.counts()
	assert.Equal(t, 0, recorded)
}

func TestProcessReading_RuleErrorIsolated(t *testing.T) {
	cond := conditionalRule()
	f := newFixture(t, defaultOptions(), thresholdRule(), cond)
	f.states.getErr[1] = errors.New("store unavailable")

	f.process(reading("sensor1", "temperature", 30, 0))

	_, ok := f.states.get(thresholdRule().StateKey())
	assert.False(t, ok)
	_, ok = f.states.get(cond.StateKey())
	assert.True(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EvalErrors.WithLabelValues(metrics.StageState)))
}

func TestProcessReading_LatestFailureAbortsReading(t *testing.T) {
	f := newFixture(t, defaultOptions(), thresholdRule())
	f.latest.updateErr = errors.New("redis down")

	f.process(reading("sensor1", "temperature", 30, 0))

	assert.Equal(t, 0, f.rules.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EvalErrors.WithLabelValues(metrics.StageLatest)))
}

func TestProcessReading_RuleStoreFailure(t *testing.T) {
	f := newFixture(t, defaultOptions(), thresholdRule())
	f.rules.err = errors.New("db down")

	f.process(reading("sensor1", "temperature", 30, 0))
	f.rules.err = nil
	f.process(reading("sensor1", "temperature", 30, 1))

	// 第二条读数正常处理
	_, ok := f.states.get(thresholdRule().StateKey())
	assert.True(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EvalErrors.WithLabelValues(metrics.StageRules)))
}

func TestProcessReading_UpsertFailureSuppressesAlarm(t *testing.T) {
	rule := thresholdRule()
	rule.DurationSeconds = 0
	f := newFixture(t, defaultOptions(), rule)

	f.process(reading("sensor1", "temperature", 30, 0))
	f.states.upsertErr = errors.New("db down")
	f.process(reading("sensor1", "temperature", 30, 1))

	recorded, _ := f.sink.counts()
	assert.Equal(t, 0, recorded)
}

func TestProcessReading_NotifyFailureKeepsHistory(t *testing.T) {
	rule := thresholdRule()
	rule.DurationSeconds = 0
	f := newFixture(t, defaultOptions(), rule)
	f.sink.notifyErr = errors.New("broker down")

	f.process(reading("sensor1", "temperature", 30, 0))
	f.process(reading("sensor1", "temperature", 30, 1))

	recorded, notified := f.sink.counts()
	assert.Equal(t, 1, recorded)
	assert.Equal(t, 0, notified)
	state, _ := f.states.get(rule.StateKey())
	assert.True(t, state.InAlarm)
}

func TestProcessReading_RecordFailureSkipsNotify(t *testing.T) {
	rule := thresholdRule()
	rule.DurationSeconds = 0
	f := newFixture(t, defaultOptions(), rule)
	f.sink.recordErr = errors.New("db down")

	f.process(reading("sensor1", "temperature", 30, 0))
	f.process(reading("sensor1", "temperature", 30, 1))

	_, notified := f.sink.counts()
	assert.Equal(t, 0, notified)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EvalErrors.WithLabelValues(metrics.StageRecord)))
}

// ============================================
// 队列与 worker
// ============================================

func TestPartition_Stable(t *testing.T) {
	f := newFixture(t, Options{Workers: 4, Capacity: 8, EnqueueTimeout: time.Millisecond})

	for i := 0; i < 20; i++ {
		r := reading(fmt.Sprintf("dev%d", i), "temp", 1, 0)
		p := f.d.partition(r)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 4)
		r.Value = 99
		r.TS = t0.Add(time.Hour)
		assert.Equal(t, p, f.d.partition(r))
	}
	assert.Equal(t, 2, cap(f.d.queues[0]))
}

func TestEnqueue_QueueFull(t *testing.T) {
	f := newFixture(t, Options{Workers: 1, Capacity: 1, EnqueueTimeout: 10 * time.Millisecond})

	require.NoError(t, f.d.Enqueue(reading("sensor1", "temperature", 1, 0)))

	start := time.Now()
	err := f.d.Enqueue(reading("sensor1", "temperature", 2, 1))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestStop_DiscardsBufferedAndRejectsNew(t *testing.T) {
	f := newFixture(t, Options{Workers: 2, Capacity: 10, EnqueueTimeout: 10 * time.Millisecond})

	for i := 0; i < 3; i++ {
		require.NoError(t, f.d.Enqueue(reading("sensor1", "temperature", float64(i), i)))
	}

	assert.Equal(t, 3, f.d.Stop())
	assert.Equal(t, 0, f.d.Stop())
	assert.ErrorIs(t, f.d.Enqueue(reading("sensor1", "temperature", 1, 0)), ErrStopped)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.ReadingsDropped.WithLabelValues(metrics.DropShutdown)))
}

func TestWorkers_ProcessInArrivalOrder(t *testing.T) {
	f := newFixture(t, Options{Workers: 4, Capacity: 400, EnqueueTimeout: time.Second}, thresholdRule())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.d.Start(ctx)

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, f.d.Enqueue(reading("sensor1", "temperature", float64(i), i)))
	}

	require.Eventually(t, func() bool {
		return len(f.latest.snapshot()) == n
	}, 2*time.Second, 5*time.Millisecond)
	f.d.Stop()

	for i, r := range f.latest.snapshot() {
		assert.Equal(t, float64(i), r.Value)
	}
}

func TestWorkers_EndToEndAlarm(t *testing.T) {
	f := newFixture(t, Options{Workers: 2, Capacity: 10, EnqueueTimeout: time.Second}, thresholdRule())
	f.d.Start(context.Background())
	defer f.d.Stop()

	require.NoError(t, f.d.Enqueue(reading("sensor1", "temperature", 25, 0)))
	require.NoError(t, f.d.Enqueue(reading("sensor1", "temperature", 25, 11)))

	require.Eventually(t, func() bool {
		recorded, notified := f.sink.counts()
		return recorded == 1 && notified == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStop_WaitsForInFlightReading(t *testing.T) {
	f := newFixture(t, defaultOptions(), thresholdRule())
	f.rules.entered = make(chan struct{}, 1)
	f.rules.release = make(chan struct{})
	f.d.Start(context.Background())

	require.NoError(t, f.d.Enqueue(reading("sensor1", "temperature", 25, 0)))
	<-f.rules.entered

	stopped := make(chan struct{})
	go func() {
		f.d.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a reading was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.rules.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	_, ok := f.states.get(thresholdRule().StateKey())
	assert.True(t, ok)
}

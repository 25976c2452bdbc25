package dispatcher

import (
	"context"
	"sync"
	"time"

	"wisefido-threshold/internal/models"
)

// fakeRuleStore 内存规则表
type fakeRuleStore struct {
	mu    sync.Mutex
	rules []models.Rule
	err   error
	calls int

	entered chan struct{} // 非 nil 时，每次调用先通知
	release chan struct{} // 非 nil 时，阻塞直到关闭
}

func (f *fakeRuleStore) RulesFor(ctx context.Context, deviceID, sensorID string) ([]models.Rule, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Rule
	for _, r := range f.rules {
		if r.Active && r.DeviceID == deviceID && r.SensorID == sensorID {
			out = append(out, r)
		}
	}
	return out, nil
}

// fakeStateStore 内存状态表
type fakeStateStore struct {
	mu        sync.Mutex
	data      map[models.StateKey]models.BreachState
	getErr    map[int64]error
	upsertErr error
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{
		data:   make(map[models.StateKey]models.BreachState),
		getErr: make(map[int64]error),
	}
}

func (f *fakeStateStore) Get(ctx context.Context, key models.StateKey) (*models.BreachState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.getErr[key.RuleID]; err != nil {
		return nil, err
	}
	s, ok := f.data[key]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeStateStore) Upsert(ctx context.Context, key models.StateKey, state models.BreachState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.data[key] = state
	return nil
}

func (f *fakeStateStore) get(key models.StateKey) (models.BreachState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.data[key]
	return s, ok
}

// fakeLatestStore 内存最新值缓存，记录写入顺序
type fakeLatestStore struct {
	mu        sync.Mutex
	values    map[string]float64
	updates   []models.Reading
	updateErr error
}

func newFakeLatestStore() *fakeLatestStore {
	return &fakeLatestStore{values: make(map[string]float64)}
}

func (f *fakeLatestStore) Update(ctx context.Context, deviceID, sensorID string, value float64, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.values[deviceID+"/"+sensorID] = value
	f.updates = append(f.updates, models.Reading{DeviceID: deviceID, SensorID: sensorID, Value: value, TS: ts})
	return nil
}

func (f *fakeLatestStore) Get(ctx context.Context, deviceID, sensorID string) (float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[deviceID+"/"+sensorID]
	return v, ok, nil
}

func (f *fakeLatestStore) snapshot() []models.Reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Reading(nil), f.updates...)
}

// fakeSink 记录落库和通知的报警
type fakeSink struct {
	mu        sync.Mutex
	recorded  []models.AlarmEvent
	notified  []models.AlarmEvent
	recordErr error
	notifyErr error
}

func (f *fakeSink) Record(ctx context.Context, event *models.AlarmEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recorded = append(f.recorded, *event)
	return nil
}

func (f *fakeSink) Notify(ctx context.Context, event *models.AlarmEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.notified = append(f.notified, *event)
	return nil
}

func (f *fakeSink) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recorded), len(f.notified)
}

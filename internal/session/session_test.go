package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pt100-monitor/internal/domain"
	"pt100-monitor/internal/hub"
)

type fakeInstrument struct {
	mu         sync.Mutex
	connected  bool
	configured bool
	sample     domain.Sample
	readDelay  time.Duration
	// failReads makes the next n reads fail; -1 fails forever.
	failReads int
	// dropOnFail disconnects the instrument when a read fails.
	dropOnFail bool
	connectErr error

	reads      atomic.Int64
	configures atomic.Int64
	readStarts []time.Time
}

func newFakeInstrument(sample domain.Sample) *fakeInstrument {
	return &fakeInstrument{sample: sample}
}

func (f *fakeInstrument) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeInstrument) Configure(_ context.Context, channels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errors.New("not connected")
	}
	f.configures.Add(1)
	f.configured = true
	return nil
}

func (f *fakeInstrument) Read(ctx context.Context) (domain.Sample, error) {
	f.mu.Lock()
	f.readStarts = append(f.readStarts, time.Now())
	fail := f.failReads != 0
	if f.failReads > 0 {
		f.failReads--
	}
	configured := f.configured
	delay := f.readDelay
	f.mu.Unlock()

	f.reads.Add(1)
	if !configured {
		return nil, errors.New("not configured")
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if fail {
		f.mu.Lock()
		if f.dropOnFail {
			f.connected = false
			f.configured = false
		}
		f.mu.Unlock()
		return nil, errors.New("-410,Query INTERRUPTED")
	}
	return f.sample.Clone(), nil
}

func (f *fakeInstrument) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.configured = false
}

func (f *fakeInstrument) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeInstrument) Configured() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configured
}

func (f *fakeInstrument) starts() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.readStarts...)
}

type fakeStore struct {
	mu      sync.Mutex
	last    int64
	records []domain.MeasurementRecord
	runErr  error
	saveErr error
}

func (s *fakeStore) NextRun(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runErr != nil {
		return 0, s.runErr
	}
	s.last++
	return s.last, nil
}

func (s *fakeStore) LastRun(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

func (s *fakeStore) Save(_ context.Context, record domain.MeasurementRecord) (domain.MeasurementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return domain.MeasurementRecord{}, s.saveErr
	}
	record.ID = int64(len(s.records) + 1)
	s.records = append(s.records, record)
	return record, nil
}

func (s *fakeStore) saved() []domain.MeasurementRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MeasurementRecord(nil), s.records...)
}

type captureSubscriber struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureSubscriber) ID() string { return "capture" }

func (c *captureSubscriber) Send(_ context.Context, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, string(msg))
	return nil
}

func (c *captureSubscriber) ofType(kind string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.msgs {
		var envelope struct {
			Type string `json:"type"`
		}
		if json.Unmarshal([]byte(m), &envelope) == nil && envelope.Type == kind {
			out = append(out, m)
		}
	}
	return out
}

var roomTemperature = domain.Sample{"205": 21.5, "206": 21.7}

func newTestController(t *testing.T, cfg Config, inst *fakeInstrument, store *fakeStore, h *hub.Hub) *Controller {
	t.Helper()
	if cfg.Channels == nil {
		cfg.Channels = []string{"205", "206"}
	}
	var broadcaster domain.Broadcaster
	if h != nil {
		broadcaster = h
	}
	c := NewController(cfg, inst, store, store, broadcaster, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

func TestStartIsSingleFlight(t *testing.T) {
	inst := newFakeInstrument(roomTemperature)
	store := &fakeStore{}
	c := newTestController(t, Config{Interval: time.Hour, RecordOnStart: true}, inst, store, nil)

	t.Log("запускаем 20 конкурентных Start")
	var (
		wg      sync.WaitGroup
		started atomic.Int64
		already atomic.Int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Start(context.Background())
			switch {
			case err == nil:
				started.Add(1)
			case errors.Is(err, domain.ErrAlreadyRunning):
				already.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, started.Load())
	assert.EqualValues(t, 19, already.Load())
	assert.EqualValues(t, 1, inst.configures.Load())

	run, err := store.LastRun(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, run)
}

func TestStopIsClean(t *testing.T) {
	inst := newFakeInstrument(roomTemperature)
	store := &fakeStore{}
	c := newTestController(t, Config{Interval: 5 * time.Millisecond, RecordOnStart: true}, inst, store, nil)

	_, err := c.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return inst.reads.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Stop(context.Background()))
	stoppedAt := time.Now().UTC()
	readsAtStop := inst.reads.Load()
	recordsAtStop := len(store.saved())

	t.Log("после Stop чтений и записей больше нет")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, readsAtStop, inst.reads.Load())
	assert.Len(t, store.saved(), recordsAtStop)
	for _, record := range store.saved() {
		assert.False(t, record.Timestamp.After(stoppedAt))
	}

	status := c.Status()
	assert.False(t, status.Measuring)
	assert.Equal(t, "idle", status.Phase)
	assert.ErrorIs(t, c.Stop(context.Background()), domain.ErrNotRunning)
}

func TestStopTimeoutStillTearsDown(t *testing.T) {
	inst := newFakeInstrument(roomTemperature)
	inst.readDelay = 300 * time.Millisecond
	c := newTestController(t, Config{Interval: time.Millisecond, RecordOnStart: true, ReleaseOnStop: true}, inst, &fakeStore{}, nil)

	_, err := c.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return inst.reads.Load() >= 1 }, time.Second, time.Millisecond)

	t.Log("Шаг 1: Stop сдаётся раньше, чем заканчивается чтение")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = c.Stop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	t.Log("Шаг 2: цикл сам завершает сессию")
	require.Eventually(t, func() bool {
		s := c.Status()
		return !s.Measuring && !s.Recording && s.Phase == "idle"
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, inst.Connected())
	assert.False(t, c.Status().Connected)
	assert.ErrorIs(t, c.Stop(context.Background()), domain.ErrNotRunning)

	t.Log("Шаг 3: новую сессию можно запустить")
	_, err = c.Start(context.Background())
	require.NoError(t, err)
}

func TestRunNumbersIncrease(t *testing.T) {
	inst := newFakeInstrument(roomTemperature)
	store := &fakeStore{}
	c := newTestController(t, Config{Interval: time.Hour}, inst, store, nil)

	var runs []int64
	for i := 0; i < 3; i++ {
		run, err := c.Start(context.Background())
		require.NoError(t, err)
		runs = append(runs, run)
		assert.Equal(t, run, c.Status().RunNumber)
		require.NoError(t, c.Stop(context.Background()))
	}

	assert.Equal(t, []int64{1, 2, 3}, runs)
}

func TestStartFailsWithoutRunCounter(t *testing.T) {
	inst := newFakeInstrument(roomTemperature)
	store := &fakeStore{runErr: errors.New("connection refused")}
	c := newTestController(t, Config{Interval: time.Hour}, inst, store, nil)

	_, err := c.Start(context.Background())
	require.Error(t, err)

	status := c.Status()
	assert.False(t, status.Measuring)
	assert.Equal(t, "idle", status.Phase)
	assert.Contains(t, status.LastError, "connection refused")
	assert.Zero(t, inst.reads.Load())
}

func TestStartFailsWhenInstrumentMissing(t *testing.T) {
	inst := newFakeInstrument(roomTemperature)
	inst.connectErr = errors.New("device not found")
	c := newTestController(t, Config{Interval: time.Hour}, inst, &fakeStore{}, nil)

	_, err := c.Start(context.Background())
	require.Error(t, err)
	assert.False(t, c.Status().Connected)
	assert.False(t, c.Status().Measuring)
}

func TestConfigureIsIdempotent(t *testing.T) {
	inst := newFakeInstrument(roomTemperature)
	c := newTestController(t, Config{Interval: time.Hour}, inst, &fakeStore{}, nil)

	require.NoError(t, c.Configure(context.Background()))
	assert.ErrorIs(t, c.Configure(context.Background()), domain.ErrAlreadyConfigured)
	assert.EqualValues(t, 1, inst.configures.Load())

	status := c.Status()
	assert.True(t, status.Connected)
	assert.True(t, status.Configured)
}

func TestConfigureRejectedWhileRunning(t *testing.T) {
	inst := newFakeInstrument(roomTemperature)
	c := newTestController(t, Config{Interval: time.Hour}, inst, &fakeStore{}, nil)

	_, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, c.Configure(context.Background()), domain.ErrAlreadyRunning)
}

func TestPacingKeepsInterval(t *testing.T) {
	const interval = 100 * time.Millisecond
	inst := newFakeInstrument(roomTemperature)
	inst.readDelay = 20 * time.Millisecond
	c := newTestController(t, Config{Interval: interval}, inst, &fakeStore{}, nil)

	_, err := c.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return inst.reads.Load() >= 4 }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	starts := inst.starts()
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		assert.GreaterOrEqual(t, gap, interval-5*time.Millisecond, "cycle %d started too early", i)
	}
}

func TestSlowReadDoesNotSleepNegative(t *testing.T) {
	inst := newFakeInstrument(roomTemperature)
	inst.readDelay = 30 * time.Millisecond
	c := newTestController(t, Config{Interval: 10 * time.Millisecond}, inst, &fakeStore{}, nil)

	_, err := c.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return inst.reads.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))
}

func TestFaultAfterConsecutiveReadFailures(t *testing.T) {
	inst := newFakeInstrument(roomTemperature)
	inst.failReads = -1
	c := newTestController(t, Config{Interval: time.Millisecond, MaxReadFailures: 3}, inst, &fakeStore{}, nil)

	_, err := c.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := c.Status()
		return s.Phase == "faulted" && !s.Measuring
	}, 2*time.Second, 5*time.Millisecond)

	assert.EqualValues(t, 3, inst.reads.Load())
	assert.False(t, inst.Connected())
	assert.False(t, c.Status().Configured)
	assert.Contains(t, c.Status().LastError, "INTERRUPTED")

	t.Log("после отказа Start запрещён до повторной настройки")
	_, err = c.Start(context.Background())
	assert.ErrorIs(t, err, domain.ErrFaulted)
	assert.ErrorIs(t, c.Stop(context.Background()), domain.ErrNotRunning)

	inst.mu.Lock()
	inst.failReads = 0
	inst.mu.Unlock()
	require.NoError(t, c.Configure(context.Background()))
	assert.Equal(t, "idle", c.Status().Phase)

	_, err = c.Start(context.Background())
	require.NoError(t, err)
}

func TestTransientReadFailuresRecover(t *testing.T) {
	inst := newFakeInstrument(roomTemperature)
	inst.failReads = 2
	store := &fakeStore{}
	c := newTestController(t, Config{Interval: time.Millisecond, MaxReadFailures: 3, RecordOnStart: true}, inst, store, nil)

	_, err := c.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(store.saved()) >= 2 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "running", c.Status().Phase)
	assert.True(t, c.Status().Measuring)
}

func TestDroppedLinkIsRestoredNextCycle(t *testing.T) {
	inst := newFakeInstrument(roomTemperature)
	inst.failReads = 1
	inst.dropOnFail = true
	store := &fakeStore{}
	c := newTestController(t, Config{Interval: time.Millisecond, MaxReadFailures: 3, RecordOnStart: true}, inst, store, nil)

	_, err := c.Start(context.Background())
	require.NoError(t, err)

	t.Log("после обрыва связи цикл переподключается и продолжает запись")
	require.Eventually(t, func() bool { return len(store.saved()) >= 2 }, 2*time.Second, 5*time.Millisecond)

	assert.EqualValues(t, 2, inst.configures.Load())
	status := c.Status()
	assert.Equal(t, "running", status.Phase)
	assert.True(t, status.Connected)
	assert.True(t, status.Configured)
}

func TestPersistFailureKeepsLoopRunning(t *testing.T) {
	inst := newFakeInstrument(roomTemperature)
	store := &fakeStore{saveErr: errors.New("disk full")}
	c := newTestController(t, Config{Interval: time.Millisecond, RecordOnStart: true}, inst, store, nil)

	_, err := c.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return inst.reads.Load() >= 5 }, 2*time.Second, 5*time.Millisecond)

	assert.True(t, c.Status().Measuring)
	assert.Equal(t, roomTemperature, c.Latest())
}

func TestRecordingToggle(t *testing.T) {
	inst := newFakeInstrument(roomTemperature)
	store := &fakeStore{}
	c := newTestController(t, Config{Interval: 2 * time.Millisecond}, inst, store, nil)

	assert.ErrorIs(t, c.SetRecording(context.Background(), true), domain.ErrNotRunning)

	_, err := c.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return inst.reads.Load() >= 2 }, 2*time.Second, 2*time.Millisecond)
	assert.Empty(t, store.saved(), "records must not be saved while recording is off")

	require.NoError(t, c.SetRecording(context.Background(), true))
	assert.True(t, c.Status().Recording)
	require.Eventually(t, func() bool { return len(store.saved()) >= 2 }, 2*time.Second, 2*time.Millisecond)

	require.NoError(t, c.SetRecording(context.Background(), false))
	require.NoError(t, c.Stop(context.Background()))
	assert.False(t, c.Status().Recording)
}

func TestReleaseOnStopDisconnects(t *testing.T) {
	inst := newFakeInstrument(roomTemperature)
	c := newTestController(t, Config{Interval: time.Hour, ReleaseOnStop: true}, inst, &fakeStore{}, nil)

	_, err := c.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Stop(context.Background()))

	assert.False(t, inst.Connected())
	assert.False(t, c.Status().Connected)

	_, err = c.Start(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, inst.configures.Load())
}

func TestScenarioSingleCycle(t *testing.T) {
	inst := newFakeInstrument(roomTemperature)
	store := &fakeStore{}
	h := hub.New()
	subscriber := &captureSubscriber{}
	h.Register(subscriber)

	c := newTestController(t, Config{Interval: time.Hour, RecordOnStart: true}, inst, store, h)
	assert.Nil(t, c.Latest())

	run, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, run)

	require.Eventually(t, func() bool {
		return len(subscriber.ofType("data")) == 1 && len(store.saved()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, domain.Sample{"205": 21.5, "206": 21.7}, c.Latest())

	records := store.saved()
	require.Len(t, records, 1)
	assert.EqualValues(t, 1, records[0].RunID)
	assert.Equal(t, roomTemperature, records[0].Readings)

	assert.JSONEq(t, `{"type":"data","data":{"205":21.5,"206":21.7}}`, subscriber.ofType("data")[0])

	require.NoError(t, c.Stop(context.Background()))
	statuses := subscriber.ofType("status")
	require.NotEmpty(t, statuses)
	assert.JSONEq(t, `{"type":"status","measuring":false,"recording":false}`, statuses[len(statuses)-1])
}

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"treeguard/internal/dedup"
	"treeguard/internal/models"
	"treeguard/internal/presence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ============================================
// 测试桩
// ============================================

type fakeReadingStore struct {
	readings []*models.Reading
	err      error
}

func (f *fakeReadingStore) AppendReading(ctx context.Context, reading *models.Reading) error {
	if f.err != nil {
		return f.err
	}
	copied := *reading
	f.readings = append(f.readings, &copied)
	return nil
}

type fakeStatusStore struct {
	statuses []*models.DeviceStatus
	err      error
}

func (f *fakeStatusStore) UpsertDeviceStatus(ctx context.Context, status *models.DeviceStatus) error {
	if f.err != nil {
		return f.err
	}
	copied := *status
	f.statuses = append(f.statuses, &copied)
	return nil
}

// fakeAlertStore 同时实现 AlertStore 和 dedup.AlertFinder，
// 让引擎测试跑在真实的去重逻辑上
type fakeAlertStore struct {
	alerts    []*models.Alert
	createErr error
}

func (f *fakeAlertStore) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if f.createErr != nil {
		return f.createErr
	}
	copied := *alert
	f.alerts = append(f.alerts, &copied)
	return nil
}

func (f *fakeAlertStore) FindRecentUnacknowledgedAlert(ctx context.Context, deviceID int, kind models.HazardKind, since time.Time) (*models.Alert, error) {
	for i := len(f.alerts) - 1; i >= 0; i-- {
		a := f.alerts[i]
		if a.DeviceID == deviceID && a.Kind == kind && !a.Acknowledged && a.CreatedAt.After(since) {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeAlertStore) acknowledgeAll() {
	for _, a := range f.alerts {
		a.Acknowledged = true
	}
}

type fakeSettings struct {
	threshold int
	err       error
}

func (f *fakeSettings) GetSmokeThreshold(ctx context.Context) (int, error) {
	return f.threshold, f.err
}

type fakePublisher struct {
	mu            sync.Mutex
	readingEvents []models.ReadingEvent
	alertEvents   []models.AlertEvent
}

func (f *fakePublisher) PublishReading(ctx context.Context, ev models.ReadingEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readingEvents = append(f.readingEvents, ev)
}

func (f *fakePublisher) PublishAlert(ctx context.Context, ev models.AlertEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alertEvents = append(f.alertEvents, ev)
}

type testEnv struct {
	engine    *Engine
	readings  *fakeReadingStore
	statuses  *fakeStatusStore
	alerts    *fakeAlertStore
	settings  *fakeSettings
	publisher *fakePublisher
	tracker   *presence.Tracker
}

func setupTestEngine(t *testing.T) *testEnv {
	logger := zap.NewNop()
	env := &testEnv{
		readings:  &fakeReadingStore{},
		statuses:  &fakeStatusStore{},
		alerts:    &fakeAlertStore{},
		settings:  &fakeSettings{threshold: 400},
		publisher: &fakePublisher{},
		tracker:   presence.NewTracker(30*time.Second, logger),
	}

	deduplicator := dedup.NewDeduplicator(env.alerts, 5*time.Minute, 10*time.Minute, logger)

	env.engine = NewEngine(
		1, 100,
		env.readings,
		env.statuses,
		env.alerts,
		env.settings,
		deduplicator,
		env.publisher,
		env.tracker,
		nil,
		logger,
	)

	return env
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

// ============================================
// 摄入测试
// ============================================

func TestIngest_InvalidDeviceRejectedWithoutSideEffects(t *testing.T) {
	env := setupTestEngine(t)

	_, err := env.engine.Ingest(context.Background(), models.RawPayload{DeviceID: 0})
	assert.ErrorIs(t, err, ErrInvalidDevice)

	_, err = env.engine.Ingest(context.Background(), models.RawPayload{DeviceID: 101})
	assert.ErrorIs(t, err, ErrInvalidDevice)

	// 拒绝时无任何副作用
	assert.Empty(t, env.readings.readings)
	assert.Empty(t, env.statuses.statuses)
	assert.Empty(t, env.publisher.readingEvents)
}

func TestIngest_EndToEndSmokeAlert(t *testing.T) {
	env := setupTestEngine(t)

	result, err := env.engine.Ingest(context.Background(), models.RawPayload{
		DeviceID:  1,
		SmokePpm:  intPtr(500),
		Timestamp: float64(time.Now().Unix()),
	})

	require.NoError(t, err)
	assert.True(t, result.AlertCreated)
	assert.Equal(t, models.HazardSmoke, result.Hazard)

	// AppendReading 恰好调用一次
	require.Len(t, env.readings.readings, 1)
	assert.Equal(t, 500, env.readings.readings[0].SmokePpm)

	// 设备状态 lastHazard = smoke
	require.Len(t, env.statuses.statuses, 1)
	assert.Equal(t, models.HazardSmoke, env.statuses.statuses[0].LastHazard)

	// 恰好一条报警，级别 high
	require.Len(t, env.alerts.alerts, 1)
	alert := env.alerts.alerts[0]
	assert.Equal(t, models.HazardSmoke, alert.Kind)
	assert.Equal(t, models.SeverityHigh, alert.Level)
	assert.False(t, alert.Acknowledged)

	// 一条 AlertEvent + 一条 ReadingEvent
	require.Len(t, env.publisher.alertEvents, 1)
	require.Len(t, env.publisher.readingEvents, 1)
	assert.Equal(t, alert.ID, env.publisher.alertEvents[0].AlertID)
	assert.Equal(t, models.HazardSmoke, env.publisher.readingEvents[0].Hazard)
	assert.Equal(t, 400, env.publisher.readingEvents[0].Threshold)

	// 在线跟踪器已更新
	status, ok := env.tracker.Status(1, time.Now())
	require.True(t, ok)
	assert.True(t, status.Online)
	assert.Equal(t, models.HazardSmoke, status.LastHazard)
}

func TestIngest_NoHazardStillPersistsAndPublishes(t *testing.T) {
	env := setupTestEngine(t)

	result, err := env.engine.Ingest(context.Background(), models.RawPayload{
		DeviceID: 2,
		SmokePpm: intPtr(100),
	})

	require.NoError(t, err)
	assert.False(t, result.AlertCreated)
	assert.Equal(t, models.HazardNone, result.Hazard)

	// 没有危险也必须持久化读数并广播读数事件
	assert.Len(t, env.readings.readings, 1)
	assert.Len(t, env.statuses.statuses, 1)
	assert.Len(t, env.publisher.readingEvents, 1)
	assert.Empty(t, env.alerts.alerts)
	assert.Empty(t, env.publisher.alertEvents)
	assert.Equal(t, "normal", env.publisher.readingEvents[0].Status)
}

func TestIngest_DuplicateSuppressedThenAckRearms(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()
	smoke := models.RawPayload{DeviceID: 1, SmokePpm: intPtr(500)}

	// 第一次：创建报警
	result, err := env.engine.Ingest(ctx, smoke)
	require.NoError(t, err)
	assert.True(t, result.AlertCreated)

	// 窗口内第二次：被抑制，仍然只有一条报警
	result, err = env.engine.Ingest(ctx, smoke)
	require.NoError(t, err)
	assert.False(t, result.AlertCreated)
	assert.Len(t, env.alerts.alerts, 1)

	// 确认后立即重新武装：窗口内第三次创建新报警
	env.alerts.acknowledgeAll()
	result, err = env.engine.Ingest(ctx, smoke)
	require.NoError(t, err)
	assert.True(t, result.AlertCreated)
	assert.Len(t, env.alerts.alerts, 2)
}

func TestIngest_DifferentKindsAreNotSuppressedByEachOther(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	result, err := env.engine.Ingest(ctx, models.RawPayload{DeviceID: 1, SmokePpm: intPtr(500)})
	require.NoError(t, err)
	assert.True(t, result.AlertCreated)

	cut := true
	result, err = env.engine.Ingest(ctx, models.RawPayload{DeviceID: 1, CutDetected: &cut})
	require.NoError(t, err)
	assert.True(t, result.AlertCreated)

	assert.Len(t, env.alerts.alerts, 2)
}

func TestIngest_ReadingPersistFailureIsFatal(t *testing.T) {
	env := setupTestEngine(t)
	env.readings.err = errors.New("disk full")

	_, err := env.engine.Ingest(context.Background(), models.RawPayload{DeviceID: 1})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to persist reading")
	// 硬失败路径：不广播任何事件
	assert.Empty(t, env.publisher.readingEvents)
	assert.Empty(t, env.statuses.statuses)
}

func TestIngest_StatusPersistFailureIsFatal(t *testing.T) {
	env := setupTestEngine(t)
	env.statuses.err = errors.New("connection reset")

	_, err := env.engine.Ingest(context.Background(), models.RawPayload{DeviceID: 1})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upsert device status")
	assert.Empty(t, env.publisher.readingEvents)
}

func TestIngest_AlertFailureDoesNotAbortTelemetry(t *testing.T) {
	// 报警侧通道坏了：读数照常记录、读数事件照常广播
	env := setupTestEngine(t)
	env.alerts.createErr = errors.New("alerts table locked")

	result, err := env.engine.Ingest(context.Background(), models.RawPayload{
		DeviceID: 1,
		SmokePpm: intPtr(500),
	})

	require.NoError(t, err)
	assert.False(t, result.AlertCreated)
	assert.Equal(t, models.HazardSmoke, result.Hazard)
	assert.Len(t, env.readings.readings, 1)
	assert.Len(t, env.publisher.readingEvents, 1)
	assert.Empty(t, env.publisher.alertEvents)
}

func TestIngest_SettingsFailureFallsBackToDefault(t *testing.T) {
	// 设置存储故障：仓库返回 (默认值, err)，引擎记录后继续
	env := setupTestEngine(t)
	env.settings.err = errors.New("settings store down")

	result, err := env.engine.Ingest(context.Background(), models.RawPayload{
		DeviceID: 1,
		SmokePpm: intPtr(500),
	})

	require.NoError(t, err)
	assert.Equal(t, models.HazardSmoke, result.Hazard)
}

func TestIngest_BootRelativeTimestampUsesArrivalTime(t *testing.T) {
	env := setupTestEngine(t)
	before := time.Now()

	_, err := env.engine.Ingest(context.Background(), models.RawPayload{
		DeviceID:  1,
		Timestamp: float64(12345),
	})

	require.NoError(t, err)
	require.Len(t, env.readings.readings, 1)
	// 不是 1970 年的日期
	assert.WithinDuration(t, before, env.readings.readings[0].ObservedAt, 5*time.Second)
}

func TestIngest_HazardStatusOverridesDeviceStatus(t *testing.T) {
	env := setupTestEngine(t)

	_, err := env.engine.Ingest(context.Background(), models.RawPayload{
		DeviceID: 1,
		SmokePpm: intPtr(500),
		Status:   strPtr("all good"),
	})

	require.NoError(t, err)
	require.Len(t, env.publisher.readingEvents, 1)
	// 危险判定覆盖设备自报的 status
	assert.Equal(t, "smoke", env.publisher.readingEvents[0].Status)
}

func TestIngest_ConcurrentSameDeviceCreatesOneAlert(t *testing.T) {
	// 同设备并发摄入（重试请求）不会为同一 episode 创建两条报警
	env := setupTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Ingest(ctx, models.RawPayload{DeviceID: 1, SmokePpm: intPtr(500)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, env.alerts.alerts, 1)
	assert.Len(t, env.readings.readings, 10)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"treeguard/internal/classifier"
	"treeguard/internal/models"
	"treeguard/internal/normalizer"
	"treeguard/internal/presence"
	"treeguard/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidDevice 设备编号不在已知范围内（拒绝，无任何副作用）
var ErrInvalidDevice = errors.New("device id outside known fleet range")

// IngestionResult 摄入结果
type IngestionResult struct {
	AlertCreated bool              `json:"alert_created"`
	Hazard       models.HazardKind `json:"hazard"`
}

// ReadingStore 读数持久化接口
type ReadingStore interface {
	AppendReading(ctx context.Context, reading *models.Reading) error
}

// StatusStore 设备状态持久化接口
type StatusStore interface {
	UpsertDeviceStatus(ctx context.Context, status *models.DeviceStatus) error
}

// AlertStore 报警持久化接口
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
}

// SettingsProvider 阈值提供方
// 每次摄入都重新读取，不做跨调用缓存：操作员改完阈值必须立即生效
type SettingsProvider interface {
	GetSmokeThreshold(ctx context.Context) (int, error)
}

// Suppressor 报警去重接口（由 dedup.Deduplicator 实现）
type Suppressor interface {
	ShouldCreate(ctx context.Context, deviceID int, kind models.HazardKind, now time.Time) (bool, error)
}

// EventPublisher 事件发布接口（由 fanout.Publisher 实现）
type EventPublisher interface {
	PublishReading(ctx context.Context, ev models.ReadingEvent)
	PublishAlert(ctx context.Context, ev models.AlertEvent)
}

// ReadingCache 最新读数缓存接口（可选，nil 时跳过）
type ReadingCache interface {
	Set(ctx context.Context, reading *models.Reading) error
}

// Engine 摄入引擎（编排器）
// 每个设备请求调用一次 Ingest。同设备的读-改-写路径（去重检查、状态更新）
// 通过按设备编号加锁串行化，防止毫秒级重试请求造成重复报警；
// 不同设备之间完全并行，不共享任何锁。
type Engine struct {
	fleetMin int
	fleetMax int

	readings  ReadingStore
	statuses  StatusStore
	alerts    AlertStore
	settings  SettingsProvider
	dedup     Suppressor
	publisher EventPublisher
	tracker   *presence.Tracker
	cache     ReadingCache

	logger *zap.Logger

	lockMu sync.Mutex
	locks  map[int]*sync.Mutex
}

// NewEngine 创建摄入引擎
func NewEngine(
	fleetMin, fleetMax int,
	readings ReadingStore,
	statuses StatusStore,
	alerts AlertStore,
	settings SettingsProvider,
	dedup Suppressor,
	publisher EventPublisher,
	tracker *presence.Tracker,
	cache ReadingCache,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		fleetMin:  fleetMin,
		fleetMax:  fleetMax,
		readings:  readings,
		statuses:  statuses,
		alerts:    alerts,
		settings:  settings,
		dedup:     dedup,
		publisher: publisher,
		tracker:   tracker,
		cache:     cache,
		logger:    logger,
		locks:     make(map[int]*sync.Mutex),
	}
}

// deviceLock 获取设备级互斥锁
func (e *Engine) deviceLock(deviceID int) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()

	lock, ok := e.locks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[deviceID] = lock
	}
	return lock
}

// Ingest 处理一条设备上报
// 1. 校验设备编号  2. 标准化  3. 读取当前阈值  4. 危险分类
// 5. 无条件持久化读数  6. 无条件更新设备状态
// 7. 危险且未被抑制时创建报警并广播  8. 无条件广播读数事件
//
// 失败语义：步骤 5/6 的存储失败对请求是致命的（设备应重试）；
// 步骤 7 的报警失败只记录日志，不影响读数持久化和读数事件广播。
func (e *Engine) Ingest(ctx context.Context, raw models.RawPayload) (IngestionResult, error) {
	// 1. 校验设备编号
	if raw.DeviceID < e.fleetMin || raw.DeviceID > e.fleetMax {
		return IngestionResult{Hazard: models.HazardNone}, fmt.Errorf("%w: %d", ErrInvalidDevice, raw.DeviceID)
	}

	now := time.Now()

	lock := e.deviceLock(raw.DeviceID)
	lock.Lock()
	defer lock.Unlock()

	// 2. 标准化
	reading := normalizer.Normalize(raw, now)

	// 3. 读取当前阈值（设置存储故障时回退默认值，绝不阻塞摄入）
	threshold, err := e.settings.GetSmokeThreshold(ctx)
	if err != nil {
		e.logger.Warn("Settings unavailable, using default threshold",
			zap.Int("threshold", threshold),
			zap.Error(err),
		)
	}

	// 4. 危险分类
	hazard := classifier.Classify(reading, threshold)

	// 5. 无条件持久化读数（历史数据同时供后续分析使用，绝不跳过）
	if err := e.readings.AppendReading(ctx, &reading); err != nil {
		return IngestionResult{Hazard: hazard}, fmt.Errorf("failed to persist reading: %w", err)
	}

	// 6. 无条件更新设备状态
	// last_seen_at 使用到达时间而非设备时间戳：在线判定衡量的是连通性，
	// 设备时钟不可靠不应影响它
	status := &models.DeviceStatus{
		DeviceID:   reading.DeviceID,
		LastSeenAt: now,
		LastHazard: hazard,
	}
	if err := e.statuses.UpsertDeviceStatus(ctx, status); err != nil {
		return IngestionResult{Hazard: hazard}, fmt.Errorf("failed to upsert device status: %w", err)
	}
	e.tracker.Touch(reading.DeviceID, now, hazard)

	// 最新读数缓存（尽力而为）
	if e.cache != nil {
		if err := e.cache.Set(ctx, &reading); err != nil {
			e.logger.Warn("Failed to cache latest reading",
				zap.Int("device_id", reading.DeviceID),
				zap.Error(err),
			)
		}
	}

	// 7. 报警侧通道（尽力而为，失败不影响遥测路径）
	alertCreated := false
	if hazard != models.HazardNone {
		alertCreated = e.maybeCreateAlert(ctx, reading, hazard, threshold, now)
	}

	// 8. 无条件广播读数事件
	// status 反映危险判定结果，覆盖设备自报的 status 字符串
	e.publisher.PublishReading(ctx, models.ReadingEvent{
		DeviceID:     reading.DeviceID,
		ObservedAt:   reading.ObservedAt,
		TemperatureC: reading.TemperatureC,
		HumidityPct:  reading.HumidityPct,
		SmokePpm:     reading.SmokePpm,
		Hazard:       hazard,
		Status:       classifier.StatusFor(hazard),
		Threshold:    threshold,
	})

	return IngestionResult{AlertCreated: alertCreated, Hazard: hazard}, nil
}

// maybeCreateAlert 去重检查后创建报警并广播
// 任何失败都只记录日志并返回 false：报警侧通道坏了不能拖垮遥测记录
func (e *Engine) maybeCreateAlert(ctx context.Context, reading models.Reading, hazard models.HazardKind, threshold int, now time.Time) bool {
	ok, err := e.dedup.ShouldCreate(ctx, reading.DeviceID, hazard, now)
	if err != nil {
		e.logger.Error("Failed to check alert suppression window",
			zap.Int("device_id", reading.DeviceID),
			zap.String("kind", string(hazard)),
			zap.Error(err),
		)
		return false
	}
	if !ok {
		return false
	}

	alert := &models.Alert{
		ID:        uuid.New().String(),
		DeviceID:  reading.DeviceID,
		Kind:      hazard,
		Level:     classifier.SeverityFor(hazard),
		Message:   classifier.MessageFor(hazard, reading, threshold),
		CreatedAt: now,
	}

	if err := e.alerts.CreateAlert(ctx, alert); err != nil {
		if errors.Is(err, repository.ErrDuplicateActiveAlert) {
			// 存储边界的部分唯一索引兜住了并发竞态，视为已抑制
			e.logger.Debug("Alert creation suppressed by unique constraint",
				zap.Int("device_id", reading.DeviceID),
				zap.String("kind", string(hazard)),
			)
			return false
		}
		e.logger.Error("Failed to persist alert, reading already recorded",
			zap.Int("device_id", reading.DeviceID),
			zap.String("kind", string(hazard)),
			zap.Error(err),
		)
		return false
	}

	e.logger.Info("Alert created",
		zap.String("alert_id", alert.ID),
		zap.Int("device_id", alert.DeviceID),
		zap.String("kind", string(alert.Kind)),
		zap.String("level", string(alert.Level)),
	)

	e.publisher.PublishAlert(ctx, models.AlertEvent{
		AlertID:   alert.ID,
		DeviceID:  alert.DeviceID,
		Kind:      alert.Kind,
		Level:     alert.Level,
		Message:   alert.Message,
		CreatedAt: alert.CreatedAt,
	})

	return true
}

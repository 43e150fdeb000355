package presence

import (
	"sort"
	"sync"
	"time"

	"treeguard/internal/models"

	"go.uber.org/zap"
)

// Tracker 设备在线状态跟踪器
// Online 不作为状态缓存：任何读取方都必须基于 lastSeenAt 惰性重新计算，
// 避免后台定时器和陈旧布尔值。展示宽限期（DisplayGrace）由展示层消费，
// 核心只负责精确暴露 lastSeenAt。
type Tracker struct {
	mu              sync.RWMutex
	devices         map[int]*deviceState
	livenessTimeout time.Duration
	logger          *zap.Logger
}

type deviceState struct {
	lastSeenAt time.Time
	lastHazard models.HazardKind
}

// NewTracker 创建在线状态跟踪器
func NewTracker(livenessTimeout time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		devices:         make(map[int]*deviceState),
		livenessTimeout: livenessTimeout,
		logger:          logger,
	}
}

// Touch 记录一次成功摄入
// lastSeenAt 单调不减：乱序到达的读数（如重试请求）不会把时间戳往回拨，
// lastHazard 始终更新为最新判定结果。
func (t *Tracker) Touch(deviceID int, seenAt time.Time, hazard models.HazardKind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.devices[deviceID]
	if !ok {
		t.devices[deviceID] = &deviceState{
			lastSeenAt: seenAt,
			lastHazard: hazard,
		}
		t.logger.Debug("Device came online",
			zap.Int("device_id", deviceID),
		)
		return
	}

	if seenAt.After(state.lastSeenAt) {
		state.lastSeenAt = seenAt
	}
	state.lastHazard = hazard
}

// Status 查询单台设备状态
// online = now - lastSeenAt < livenessTimeout，在读取时计算
func (t *Tracker) Status(deviceID int, now time.Time) (models.DeviceStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, ok := t.devices[deviceID]
	if !ok {
		return models.DeviceStatus{}, false
	}

	return t.statusOf(deviceID, state, now), true
}

// Snapshot 查询全部已知设备状态（按 device_id 排序）
func (t *Tracker) Snapshot(now time.Time) []models.DeviceStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	statuses := make([]models.DeviceStatus, 0, len(t.devices))
	for id, state := range t.devices {
		statuses = append(statuses, t.statusOf(id, state, now))
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].DeviceID < statuses[j].DeviceID
	})

	return statuses
}

func (t *Tracker) statusOf(deviceID int, state *deviceState, now time.Time) models.DeviceStatus {
	return models.DeviceStatus{
		DeviceID:   deviceID,
		LastSeenAt: state.lastSeenAt,
		LastHazard: state.lastHazard,
		Online:     now.Sub(state.lastSeenAt) < t.livenessTimeout,
	}
}

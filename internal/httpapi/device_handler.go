package httpapi

import (
	"context"
	"net/http"
	"time"

	"treeguard/internal/models"
	"treeguard/internal/presence"

	"go.uber.org/zap"
)

// LatestReadingGetter 最新读数查询接口（由 cache.LatestReadingCache 实现）
type LatestReadingGetter interface {
	Get(ctx context.Context, deviceID int) (*models.Reading, error)
}

// DeviceHandler 设备状态查询 Handler
type DeviceHandler struct {
	tracker *presence.Tracker
	cache   LatestReadingGetter
	logger  *zap.Logger
}

// NewDeviceHandler 创建设备状态 Handler
// cache 可以为 nil（无 Redis 部署时设备详情不带最新读数）
func NewDeviceHandler(tracker *presence.Tracker, cache LatestReadingGetter, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		tracker: tracker,
		cache:   cache,
		logger:  logger,
	}
}

// ListDevices 列出全部已知设备状态（按 device_id 排序，online 查询时计算）
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Ok(h.tracker.Snapshot(time.Now())))
}

// deviceDetail 设备详情：状态 + 最后已知读数（缓存命中时）
type deviceDetail struct {
	Status        models.DeviceStatus `json:"status"`
	LatestReading *models.Reading     `json:"latest_reading"`
}

// GetDevice 查询单台设备
func (h *DeviceHandler) GetDevice(w http.ResponseWriter, r *http.Request, deviceID int) {
	status, ok := h.tracker.Status(deviceID, time.Now())
	if !ok {
		writeJSON(w, http.StatusNotFound, Fail("device has never reported"))
		return
	}

	detail := deviceDetail{Status: status}

	if h.cache != nil {
		reading, err := h.cache.Get(r.Context(), deviceID)
		if err != nil {
			// 缓存故障不影响状态查询
			h.logger.Warn("Failed to fetch latest reading from cache",
				zap.Int("device_id", deviceID),
				zap.Error(err),
			)
		} else {
			detail.LatestReading = reading
		}
	}

	writeJSON(w, http.StatusOK, Ok(detail))
}

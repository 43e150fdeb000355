package dedup

import (
	"context"
	"time"

	"treeguard/internal/models"

	"go.uber.org/zap"
)

// AlertFinder 报警查询接口（由 repository.AlertsRepository 实现）
type AlertFinder interface {
	FindRecentUnacknowledgedAlert(ctx context.Context, deviceID int, kind models.HazardKind, since time.Time) (*models.Alert, error)
}

// Deduplicator 报警去重器
// 抑制状态完全从已持久化的报警行派生（FindRecentUnacknowledgedAlert），
// 进程重启后无需重建任何内存状态。创建本身即是记录：新报警写入后
// 自动进入后续查询的抑制窗口。
type Deduplicator struct {
	finder        AlertFinder
	smokeWindow   time.Duration
	defaultWindow time.Duration
	logger        *zap.Logger
}

// NewDeduplicator 创建去重器
// smokeWindow: 烟雾报警抑制窗口（火情时效性强，窗口更短）
// defaultWindow: 其余危险类型的抑制窗口
func NewDeduplicator(finder AlertFinder, smokeWindow, defaultWindow time.Duration, logger *zap.Logger) *Deduplicator {
	return &Deduplicator{
		finder:        finder,
		smokeWindow:   smokeWindow,
		defaultWindow: defaultWindow,
		logger:        logger,
	}
}

// WindowFor 危险类型对应的抑制窗口
func (d *Deduplicator) WindowFor(kind models.HazardKind) time.Duration {
	if kind == models.HazardSmoke {
		return d.smokeWindow
	}
	return d.defaultWindow
}

// ShouldCreate 判断是否应创建新报警
// 窗口内已有同 (device, kind) 的未确认报警 -> 抑制。
// 已确认的报警不参与抑制：操作员确认后立即重新武装，无需等窗口过期。
func (d *Deduplicator) ShouldCreate(ctx context.Context, deviceID int, kind models.HazardKind, now time.Time) (bool, error) {
	since := now.Add(-d.WindowFor(kind))

	existing, err := d.finder.FindRecentUnacknowledgedAlert(ctx, deviceID, kind, since)
	if err != nil {
		return false, err
	}

	if existing != nil {
		d.logger.Debug("Alert suppressed by deduplication window",
			zap.Int("device_id", deviceID),
			zap.String("kind", string(kind)),
			zap.String("existing_alert_id", existing.ID),
		)
		return false, nil
	}

	return true, nil
}

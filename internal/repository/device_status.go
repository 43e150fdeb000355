package repository

import (
	"context"
	"database/sql"
	"fmt"

	"treeguard/internal/models"

	"go.uber.org/zap"
)

// DeviceStatusRepository 设备状态仓库（每台设备一行，upsert）
type DeviceStatusRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceStatusRepository 创建设备状态仓库
func NewDeviceStatusRepository(db *sql.DB, logger *zap.Logger) *DeviceStatusRepository {
	return &DeviceStatusRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertDeviceStatus 写入/更新设备状态
// last_seen_at 使用 GREATEST 保证单调不减：乱序读数不会把时间戳往回拨
func (r *DeviceStatusRepository) UpsertDeviceStatus(ctx context.Context, status *models.DeviceStatus) error {
	if status == nil {
		return fmt.Errorf("status is required")
	}

	query := `
		INSERT INTO device_status (device_id, last_seen_at, last_hazard, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (device_id) DO UPDATE
		SET last_seen_at = GREATEST(device_status.last_seen_at, EXCLUDED.last_seen_at),
		    last_hazard  = EXCLUDED.last_hazard,
		    updated_at   = CURRENT_TIMESTAMP
	`

	_, err := r.db.ExecContext(ctx, query,
		status.DeviceID,
		status.LastSeenAt,
		string(status.LastHazard),
	)

	if err != nil {
		return fmt.Errorf("failed to upsert device status: %w", err)
	}

	return nil
}

// ListDeviceStatuses 读取全部设备状态（服务启动时预热在线跟踪器）
// Online 字段不在这里计算：读取方必须基于 last_seen_at 惰性判定
func (r *DeviceStatusRepository) ListDeviceStatuses(ctx context.Context) ([]*models.DeviceStatus, error) {
	query := `
		SELECT device_id, last_seen_at, last_hazard
		FROM device_status
		ORDER BY device_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list device statuses: %w", err)
	}
	defer rows.Close()

	var statuses []*models.DeviceStatus
	for rows.Next() {
		var status models.DeviceStatus
		var hazard string
		if err := rows.Scan(&status.DeviceID, &status.LastSeenAt, &hazard); err != nil {
			return nil, fmt.Errorf("failed to scan device status: %w", err)
		}
		status.LastHazard = models.HazardKind(hazard)
		statuses = append(statuses, &status)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device statuses: %w", err)
	}

	return statuses, nil
}
